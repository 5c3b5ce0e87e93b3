// Package mirror copies the raw diagnostic stream to a secondary sink
// without letting that sink slow the caller down.
package mirror

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

var (
	ErrOverflow = errors.New("mirror overflow")
	ErrClosed   = errors.New("mirror closed")
)

// AsyncWriter funnels writes to w through a single goroutine. Write copies p
// and enqueues it without blocking; when the buffer is full the chunk is
// dropped, OnDrop runs and ErrOverflow is returned.
//
// Life-cycle:
//
//	a := NewAsyncWriter(ctx, buf, w, hooks)
//	a.Write(p)
//	a.Close()
//
// Close flushes every accepted chunk to w before returning. Cancelling the
// parent context abandons whatever is still buffered.
type AsyncWriter struct {
	mu     sync.Mutex
	ch     chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	w      io.Writer
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize AsyncWriter behavior.
type Hooks struct {
	// OnError is called when the underlying write fails.
	OnError func(error)
	// OnDrop is called when the buffer is full.
	OnDrop func()
}

// NewAsyncWriter constructs an AsyncWriter buffering up to buf chunks.
func NewAsyncWriter(parent context.Context, buf int, w io.Writer, hooks Hooks) *AsyncWriter {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncWriter{
		ch:     make(chan []byte, buf),
		ctx:    ctx,
		cancel: cancel,
		w:      w,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncWriter) loop() {
	defer a.wg.Done()
	for {
		if a.ctx.Err() != nil {
			return
		}
		select {
		case p, ok := <-a.ch:
			if !ok {
				return
			}
			if _, err := a.w.Write(p); err != nil && a.hooks.OnError != nil {
				a.hooks.OnError(err)
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Write enqueues a copy of p. It reports len(p) even when the chunk is
// dropped, together with ErrOverflow.
func (a *AsyncWriter) Write(p []byte) (int, error) {
	if a.closed.Load() {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return 0, ErrClosed
	}
	select {
	case a.ch <- chunk:
		return len(p), nil
	default:
		if a.hooks.OnDrop != nil {
			a.hooks.OnDrop()
		}
		return len(p), ErrOverflow
	}
}

// Close stops accepting writes, waits for the worker to flush the buffered
// chunks and exits.
func (a *AsyncWriter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
	a.cancel()
	return nil
}
