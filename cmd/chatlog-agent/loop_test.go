package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-chatlog/chatlog"
	"github.com/kstaniek/go-chatlog/internal/logging"
)

type memTransport struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (m *memTransport) Send(_ context.Context, text string, _ chatlog.Format) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("unavailable")
	}
	m.sent = append(m.sent, text)
	return nil
}

func (m *memTransport) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

type upDialer struct{}

func (upDialer) Start(string) (chatlog.Attempt, error) { return upAttempt{}, nil }

type upAttempt struct{}

func (upAttempt) Check() (bool, error) { return true, nil }
func (upAttempt) Close() error         { return nil }

func newTestLogger(t *testing.T, tx chatlog.Transport) *chatlog.Logger {
	t.Helper()
	cfg := chatlog.DefaultConfig()
	cfg.SendInterval = time.Millisecond
	cfg.ConnectTimeout = 100 * time.Millisecond
	cfg.MaxRetries = 1000
	lg, err := chatlog.New(cfg,
		chatlog.WithTransport(tx),
		chatlog.WithDialer(upDialer{}),
		chatlog.WithLogger(logging.Discard()),
	)
	require.NoError(t, err)
	require.True(t, lg.Begin())
	return lg
}

func TestRunLoopDeliversAndDrainsOnSourceEnd(t *testing.T) {
	tx := &memTransport{}
	lg := newTestLogger(t, tx)
	chunks := make(chan []byte, 4)
	chunks <- []byte("first\nsec")
	chunks <- []byte("ond\ntrailing")
	close(chunks)

	pub := &publisher{}
	left := runLoop(context.Background(), lg, chunks, 2*time.Millisecond, 2*time.Second, pub, logging.Discard())
	assert.Equal(t, 0, left)
	assert.Equal(t, []string{"first", "second", "trailing"}, tx.texts())
	assert.True(t, pub.connected.Load())
}

func TestRunLoopDrainTimeoutReportsUndelivered(t *testing.T) {
	tx := &memTransport{fail: true}
	lg := newTestLogger(t, tx)
	chunks := make(chan []byte, 1)
	ctx, cancel := context.WithCancel(context.Background())
	chunks <- []byte("never delivered\n")

	done := make(chan int, 1)
	go func() {
		done <- runLoop(ctx, lg, chunks, 2*time.Millisecond, 50*time.Millisecond, &publisher{}, logging.Discard())
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case left := <-done:
		assert.Equal(t, 1, left)
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return")
	}
	assert.Empty(t, tx.texts())
}
