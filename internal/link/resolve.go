package link

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// resolveTimeout bounds one background name lookup. It runs off the caller's
// tick; the Monitor's probe timeout still bounds the whole attempt.
const resolveTimeout = 2 * time.Second

// resolver remembers the last good answer per host and falls back to it when
// a lookup fails or times out.
type resolver struct {
	lookup func(ctx context.Context, host string) ([]net.IPAddr, error)

	mu     sync.Mutex
	cached map[string]net.IP
}

func newResolver() *resolver {
	return &resolver{lookup: net.DefaultResolver.LookupIPAddr, cached: make(map[string]net.IP)}
}

// pendingLookup is one resolution of a probe address.
type pendingLookup struct {
	port   int
	result chan lookupResult
	cancel context.CancelFunc
	done   bool
	ip     net.IP
	err    error
}

type lookupResult struct {
	ip  net.IP
	err error
}

// start splits addr and begins resolving its host. IP literals complete at
// once; hostnames are looked up in a goroutine so the caller never waits on
// DNS.
func (r *resolver) start(addr string) (*pendingLookup, error) {
	host, ps, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("probe addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(ps)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("probe addr %q: bad port", addr)
	}
	if ip := net.ParseIP(host); ip != nil {
		return &pendingLookup{port: port, done: true, ip: ip, cancel: func() {}}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	pl := &pendingLookup{port: port, result: make(chan lookupResult, 1), cancel: cancel}
	go func() {
		defer cancel()
		ip, err := r.resolveHost(ctx, host)
		pl.result <- lookupResult{ip: ip, err: err}
	}()
	return pl, nil
}

// poll reports whether the lookup finished, without blocking.
func (p *pendingLookup) poll() (bool, net.IP, error) {
	if !p.done {
		select {
		case res := <-p.result:
			p.done, p.ip, p.err = true, res.ip, res.err
		default:
			return false, nil, nil
		}
	}
	return true, p.ip, p.err
}

// wait blocks until the lookup finishes or ctx ends.
func (p *pendingLookup) wait(ctx context.Context) (net.IP, error) {
	if !p.done {
		select {
		case res := <-p.result:
			p.done, p.ip, p.err = true, res.ip, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.ip, p.err
}

func (p *pendingLookup) close() { p.cancel() }

// resolveHost returns an IP for host, IPv4 preferred.
func (r *resolver) resolveHost(ctx context.Context, host string) (net.IP, error) {
	ips, err := r.lookup(ctx, host)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil || len(ips) == 0 {
		if ip, ok := r.cached[host]; ok {
			return ip, nil
		}
		if err == nil {
			err = fmt.Errorf("no addresses for %s", host)
		}
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	ip := ips[0].IP
	for _, a := range ips {
		if a.IP.To4() != nil {
			ip = a.IP
			break
		}
	}
	r.cached[host] = ip
	return ip, nil
}
