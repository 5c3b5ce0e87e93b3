//go:build linux

package link

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// socketDialer probes with a raw non-blocking TCP connect. Check first waits
// (without blocking) for the background name lookup, then issues connect(2)
// and polls the socket with a zero timeout.
type socketDialer struct {
	res *resolver
}

// NewDialer returns the platform probe dialer.
func NewDialer() Dialer { return newDialerWithResolver(newResolver()) }

func newDialerWithResolver(r *resolver) Dialer { return &socketDialer{res: r} }

func (d *socketDialer) Start(addr string) (Attempt, error) {
	pl, err := d.res.start(addr)
	if err != nil {
		return nil, err
	}
	a := &socketAttempt{addr: addr, lookup: pl, fd: -1}
	if resolved, ip, _ := pl.poll(); resolved && ip != nil {
		if err := a.connect(ip); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

type socketAttempt struct {
	addr      string
	lookup    *pendingLookup
	fd        int
	done      bool
	closeOnce sync.Once
}

func (a *socketAttempt) Check() (bool, error) {
	if a.done {
		return true, nil
	}
	if a.fd < 0 {
		resolved, ip, err := a.lookup.poll()
		if !resolved {
			return false, nil
		}
		if err != nil {
			return true, err
		}
		if err := a.connect(ip); err != nil {
			return true, err
		}
	}
	if a.done {
		return true, nil
	}
	fds := []unix.PollFd{{Fd: int32(a.fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return true, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	soerr, err := unix.GetsockoptInt(a.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return true, fmt.Errorf("getsockopt: %w", err)
	}
	if soerr != 0 {
		return true, syscall.Errno(soerr)
	}
	a.done = true
	return true, nil
}

func (a *socketAttempt) connect(ip net.IP) error {
	var (
		domain int
		sa     unix.Sockaddr
	)
	if ip4 := ip.To4(); ip4 != nil {
		s := &unix.SockaddrInet4{Port: a.lookup.port}
		copy(s.Addr[:], ip4)
		domain, sa = unix.AF_INET, s
	} else {
		s := &unix.SockaddrInet6{Port: a.lookup.port}
		copy(s.Addr[:], ip.To16())
		domain, sa = unix.AF_INET6, s
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	a.fd = fd
	switch err := unix.Connect(fd, sa); {
	case err == nil:
		a.done = true
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
	default:
		return fmt.Errorf("connect %s: %w", a.addr, err)
	}
	return nil
}

func (a *socketAttempt) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.lookup.close()
		if a.fd >= 0 {
			err = unix.Close(a.fd)
		}
	})
	return err
}
