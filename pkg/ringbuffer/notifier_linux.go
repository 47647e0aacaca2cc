//go:build linux

package ringbuffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollSlice caps one poll call so context cancellation is noticed promptly.
const pollSlice = 100 * time.Millisecond

// FDNotifier waits for the writer's signal descriptor (eventfd, pipe or
// socket) to become readable and drains it.
type FDNotifier struct {
	mu  sync.Mutex
	fd  int
	buf [64]byte
}

// NewFDNotifier takes ownership of fd and switches it to non-blocking.
func NewFDNotifier(fd int) (*FDNotifier, error) {
	if fd < 0 {
		return nil, fmt.Errorf("signal fd %d: %w", fd, ErrInvalidInput)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set signal fd %d non-blocking: %w", fd, err)
	}

	return &FDNotifier{fd: fd}, nil
}

// Wait blocks until the fd is readable, timeout elapses or ctx ends.
func (n *FDNotifier) Wait(ctx context.Context, timeout time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fd < 0 {
		return ErrClosed
	}

	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrWaitTimeout
		}

		slice := min(remaining, pollSlice)
		fds := []unix.PollFd{{Fd: int32(n.fd), Events: unix.POLLIN}}

		ready, err := unix.Poll(fds, int((slice+time.Millisecond-1)/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			continue
		}

		if err != nil {
			return fmt.Errorf("poll signal fd %d: %w", n.fd, err)
		}

		if ready == 0 {
			continue
		}

		re := fds[0].Revents
		if re&unix.POLLIN != 0 {
			return n.drain()
		}

		if re&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return fmt.Errorf("signal fd %d revents %#x: %w", n.fd, re, ErrClosed)
		}
	}
}

// drain consumes pending notifications so the next Wait blocks again.
func (n *FDNotifier) drain() error {
	for {
		r, err := unix.Read(n.fd, n.buf[:])
		switch {
		case err == nil && r == 0:
			return fmt.Errorf("signal fd %d at EOF: %w", n.fd, ErrClosed)
		case err == nil:
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		default:
			return fmt.Errorf("drain signal fd %d: %w", n.fd, err)
		}
	}
}

// Close closes the signal fd.
func (n *FDNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fd < 0 {
		return ErrClosed
	}

	err := unix.Close(n.fd)
	n.fd = -1

	return err
}
