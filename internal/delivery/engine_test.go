package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-chatlog/internal/botapi"
	"github.com/kstaniek/go-chatlog/internal/logging"
	"github.com/kstaniek/go-chatlog/internal/metrics"
	"github.com/kstaniek/go-chatlog/internal/queue"
	"github.com/kstaniek/go-chatlog/internal/ratelimit"
)

type call struct {
	text   string
	format botapi.Format
	at     time.Time
}

// fakeTransport records calls and returns scripted errors.
type fakeTransport struct {
	clk   clock.Clock
	calls []call
	errFn func(n int, text string) error
}

func (f *fakeTransport) Send(ctx context.Context, text string, fm botapi.Format) error {
	f.calls = append(f.calls, call{text: text, format: fm, at: f.clk.Now()})
	if f.errFn != nil {
		return f.errFn(len(f.calls), text)
	}
	return nil
}

type fakeLink struct {
	up    bool
	downs int
}

func (l *fakeLink) Connected() bool { return l.up }
func (l *fakeLink) MarkDown(error)  { l.up = false; l.downs++ }

type harness struct {
	clk *clock.Mock
	q   *queue.Ring
	lim *ratelimit.Limiter
	ln  *fakeLink
	tr  *fakeTransport
	e   *Engine
}

func newHarness(capacity, maxRetries int) *harness {
	clk := clock.NewMock()
	h := &harness{
		clk: clk,
		q:   queue.New(capacity),
		lim: ratelimit.New(1200*time.Millisecond, 0),
		ln:  &fakeLink{up: true},
		tr:  &fakeTransport{clk: clk},
	}
	h.e = New(Config{MaxRetries: maxRetries, SendTimeout: time.Second}, h.q, h.lim, h.ln, h.tr, clk, logging.Discard())
	return h
}

func (h *harness) push(texts ...string) {
	for i, s := range texts {
		h.q.Push(queue.Message{ID: uint64(i + 1), Text: s})
	}
}

func TestIdleOnEmptyQueue(t *testing.T) {
	h := newHarness(4, 2)
	assert.Equal(t, Idle, h.e.Tick(context.Background()))
	assert.Empty(t, h.tr.calls)
}

func TestSendsInFIFOOrderSpacedByInterval(t *testing.T) {
	h := newHarness(16, 2)
	h.push("a", "b", "c")
	var outcomes []Outcome
	for i := 0; i < 40 && h.q.Len() > 0; i++ {
		outcomes = append(outcomes, h.e.Tick(context.Background()))
		h.clk.Add(100 * time.Millisecond)
	}
	require.Len(t, h.tr.calls, 3)
	assert.Equal(t, "a", h.tr.calls[0].text)
	assert.Equal(t, "b", h.tr.calls[1].text)
	assert.Equal(t, "c", h.tr.calls[2].text)
	for i := 1; i < len(h.tr.calls); i++ {
		assert.GreaterOrEqual(t, h.tr.calls[i].at.Sub(h.tr.calls[i-1].at), 1200*time.Millisecond)
	}
	assert.Contains(t, outcomes, SkipRateLimited)
}

func TestAlwaysFailingTransportBoundsAttempts(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 2, 5} {
		t.Run(fmt.Sprintf("max%d", maxRetries), func(t *testing.T) {
			h := newHarness(4, maxRetries)
			h.tr.errFn = func(int, string) error {
				return &botapi.APIError{Code: 500, StatusCode: 500, Description: "boom"}
			}
			h.push("doomed")
			var last Outcome
			for i := 0; i < 100 && h.q.Len() > 0; i++ {
				h.clk.Add(1200 * time.Millisecond)
				last = h.e.Tick(context.Background())
			}
			assert.Equal(t, Dropped, last)
			assert.Len(t, h.tr.calls, maxRetries+1)
			assert.Equal(t, 0, h.q.Len())
		})
	}
}

func TestRetryKeepsMessageAtHead(t *testing.T) {
	h := newHarness(4, 2)
	h.tr.errFn = func(n int, _ string) error {
		if n == 1 {
			return &botapi.APIError{Code: 502, StatusCode: 502}
		}
		return nil
	}
	h.push("first", "second")
	assert.Equal(t, Retrying, h.e.Tick(context.Background()))
	assert.Equal(t, 1, h.q.Head().Retries)
	assert.Equal(t, "first", h.q.Head().Text)
	h.clk.Add(1200 * time.Millisecond)
	assert.Equal(t, Sent, h.e.Tick(context.Background()))
	assert.Equal(t, "second", h.q.Head().Text)
}

func TestPermanentRejectionRetriesByDefault(t *testing.T) {
	h := newHarness(4, 2)
	h.tr.errFn = func(int, string) error {
		return &botapi.APIError{Code: 400, StatusCode: 400, Description: "chat not found"}
	}
	h.push("x")
	assert.Equal(t, Retrying, h.e.Tick(context.Background()))
	h.clk.Add(1200 * time.Millisecond)
	assert.Equal(t, Retrying, h.e.Tick(context.Background()))
	h.clk.Add(1200 * time.Millisecond)
	assert.Equal(t, Dropped, h.e.Tick(context.Background()))
	assert.Len(t, h.tr.calls, 3)
}

func TestPermanentRejectionDropsImmediatelyWhenEnabled(t *testing.T) {
	h := newHarness(4, 2)
	h.e.cfg.DropRejected = true
	h.tr.errFn = func(int, string) error {
		return &botapi.APIError{Code: 400, StatusCode: 400, Description: "chat not found"}
	}
	h.push("x")
	assert.Equal(t, Dropped, h.e.Tick(context.Background()))
	assert.Len(t, h.tr.calls, 1)
}

func TestOfflineSkipsWithoutAttempt(t *testing.T) {
	h := newHarness(4, 2)
	h.ln.up = false
	h.push("a", "b")
	for i := 0; i < 5; i++ {
		assert.Equal(t, SkipOffline, h.e.Tick(context.Background()))
		h.clk.Add(2 * time.Second)
	}
	assert.Empty(t, h.tr.calls)
	assert.Equal(t, 2, h.q.Len())
}

func TestNetworkErrorMarksLinkDown(t *testing.T) {
	h := newHarness(4, 2)
	h.tr.errFn = func(int, string) error { return fmt.Errorf("%w: connection reset", botapi.ErrUnreachable) }
	h.push("a")
	assert.Equal(t, Retrying, h.e.Tick(context.Background()))
	assert.Equal(t, 1, h.ln.downs)
	assert.False(t, h.ln.Connected())
	h.clk.Add(5 * time.Second)
	assert.Equal(t, SkipOffline, h.e.Tick(context.Background()))
}

func TestRetryAfterDefersLimiter(t *testing.T) {
	h := newHarness(4, 2)
	h.tr.errFn = func(n int, _ string) error {
		if n == 1 {
			return &botapi.APIError{Code: 429, StatusCode: 429, RetryAfter: 10 * time.Second}
		}
		return nil
	}
	h.push("a")
	assert.Equal(t, Retrying, h.e.Tick(context.Background()))
	h.clk.Add(9 * time.Second)
	assert.Equal(t, SkipRateLimited, h.e.Tick(context.Background()))
	h.clk.Add(time.Second)
	assert.Equal(t, Sent, h.e.Tick(context.Background()))
}

func TestCancelDuringSendKeepsRetryBudget(t *testing.T) {
	h := newHarness(4, 0)
	ctx, cancel := context.WithCancel(context.Background())
	h.tr.errFn = func(int, string) error { cancel(); return errors.New("canceled") }
	h.push("a")
	assert.Equal(t, Interrupted, h.e.Tick(ctx))
	assert.Equal(t, 1, h.q.Len())
	assert.Equal(t, 0, h.q.Head().Retries)
}

func TestCancelledContextMakesNoAttempt(t *testing.T) {
	h := newHarness(4, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.tr.errFn = func(int, string) error { return ctx.Err() }
	h.push("x")
	for i := 0; i < 20; i++ {
		assert.Equal(t, SkipCancelled, h.e.Tick(ctx))
		h.clk.Add(1200 * time.Millisecond)
	}
	assert.Empty(t, h.tr.calls)
	assert.Equal(t, 1, h.q.Len())
	assert.Equal(t, 0, h.q.Head().Retries)
	_, recorded := h.lim.Last()
	assert.False(t, recorded)
	assert.False(t, SkipCancelled.Attempted())

	// a live context afterwards delivers normally
	assert.Equal(t, Sent, h.e.Tick(context.Background()))
	assert.Len(t, h.tr.calls, 1)
}

func TestFormatPassedToTransport(t *testing.T) {
	h := newHarness(4, 2)
	h.e.cfg.Format = botapi.Monospace
	h.push("a")
	h.e.Tick(context.Background())
	require.Len(t, h.tr.calls, 1)
	assert.Equal(t, botapi.Monospace, h.tr.calls[0].format)
}

func latencySum(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.SendLatency.Write(&m))
	return m.GetHistogram().GetSampleSum()
}

func TestSendLatencyUsesInjectedClock(t *testing.T) {
	h := newHarness(4, 2)
	h.tr.errFn = func(int, string) error {
		h.clk.Add(250 * time.Millisecond)
		return nil
	}
	h.push("a")
	before := latencySum(t)
	assert.Equal(t, Sent, h.e.Tick(context.Background()))
	assert.InDelta(t, 0.25, latencySum(t)-before, 1e-9)
}
