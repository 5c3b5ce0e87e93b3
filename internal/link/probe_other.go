//go:build !linux

package link

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"
)

// dialTimeout caps the background dial; Monitor applies its own probe timeout.
const dialTimeout = 10 * time.Second

// goDialer resolves and dials in a goroutine and exposes the result through a
// non-blocking channel receive.
type goDialer struct {
	res *resolver
}

// NewDialer returns the platform probe dialer.
func NewDialer() Dialer { return newDialerWithResolver(newResolver()) }

func newDialerWithResolver(r *resolver) Dialer { return &goDialer{res: r} }

func (d *goDialer) Start(addr string) (Attempt, error) {
	pl, err := d.res.start(addr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	a := &goAttempt{result: make(chan error, 1), cancel: func() { cancel(); pl.close() }}
	go func() {
		ip, err := pl.wait(ctx)
		if err != nil {
			a.result <- err
			return
		}
		var dl net.Dialer
		c, err := dl.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(pl.port)))
		if err == nil {
			_ = c.Close()
		}
		a.result <- err
	}()
	return a, nil
}

type goAttempt struct {
	result    chan error
	cancel    context.CancelFunc
	done      bool
	err       error
	closeOnce sync.Once
}

func (a *goAttempt) Check() (bool, error) {
	if a.done {
		return true, a.err
	}
	select {
	case err := <-a.result:
		a.done, a.err = true, err
		return true, err
	default:
		return false, nil
	}
}

func (a *goAttempt) Close() error {
	a.closeOnce.Do(a.cancel)
	return nil
}
