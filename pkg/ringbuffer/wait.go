package ringbuffer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/pkg/types"
)

// Notifier blocks until the writer signals progress.
//
// Wait returns nil on a notification, ErrWaitTimeout when timeout elapses
// first, and the context error when ctx ends.
type Notifier interface {
	Wait(ctx context.Context, timeout time.Duration) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, timeout time.Duration) error

// Wait calls f.
func (f NotifierFunc) Wait(ctx context.Context, timeout time.Duration) error {
	return f(ctx, timeout)
}

// WaitPolicy bounds the wait/retry loop.
type WaitPolicy struct {
	// Timeout is how long one notification wait may block.
	Timeout time.Duration
	// OuterCycles is how many notification waits a Read makes at most.
	OuterCycles int
	// ReadRetries is how many reads follow each notification at most.
	ReadRetries int
	// RetryDelay is the pause between reads after one notification.
	RetryDelay time.Duration
}

// DefaultWaitPolicy returns the policy camera consumers use.
func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{
		Timeout:     time.Second,
		OuterCycles: 3,
		ReadRetries: 5,
		RetryDelay:  2 * time.Millisecond,
	}
}

// Validate rejects policies that could never read.
func (p WaitPolicy) Validate() error {
	switch {
	case p.Timeout <= 0:
		return fmt.Errorf("wait timeout %s must be positive: %w", p.Timeout, ErrInvalidInput)
	case p.OuterCycles < 1:
		return fmt.Errorf("outer cycles %d must be >= 1: %w", p.OuterCycles, ErrInvalidInput)
	case p.ReadRetries < 1:
		return fmt.Errorf("read retries %d must be >= 1: %w", p.ReadRetries, ErrInvalidInput)
	case p.RetryDelay < 0:
		return fmt.Errorf("retry delay %s must not be negative: %w", p.RetryDelay, ErrInvalidInput)
	}

	return nil
}

// WaitObserver receives wait loop events. internal/metrics implements it.
type WaitObserver interface {
	WaitTimedOut()
	ReadRetried()
}

// Reader is the read side a Waiter drives. *RingBuffer satisfies it.
type Reader interface {
	ReadData() ([]byte, error)
}

// FrameReader additionally copies frames out. *RingBuffer satisfies it.
type FrameReader interface {
	Reader
	ReadFrame() (types.Frame, error)
}

// Waiter pairs reads with writer-progress notifications for transports that
// have no in-segment lock.
type Waiter struct {
	reader   Reader
	notifier Notifier
	policy   WaitPolicy
	observer WaitObserver
}

// NewWaiter returns a Waiter reading r after notifications from n.
func NewWaiter(r Reader, n Notifier, policy WaitPolicy) (*Waiter, error) {
	if r == nil || n == nil {
		return nil, fmt.Errorf("waiter needs a reader and a notifier: %w", ErrInvalidInput)
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	return &Waiter{reader: r, notifier: n, policy: policy}, nil
}

// SetObserver installs o. Call before the first Read.
func (w *Waiter) SetObserver(o WaitObserver) { w.observer = o }

// Policy returns the policy in use.
func (w *Waiter) Policy() WaitPolicy { return w.policy }

// Read waits for a notification and returns the newest frame, aliasing
// shared memory like ReadData.
//
// Only ErrNoData is retried. When every cycle is spent, Read returns
// ErrNoData; the caller decides whether to try again. Corruption, closed
// and terminated errors return at once.
func (w *Waiter) Read(ctx context.Context) ([]byte, error) {
	return waitRead(ctx, w, w.reader.ReadData)
}

// ReadFrame is Read with the frame copied out of shared memory.
func (w *Waiter) ReadFrame(ctx context.Context) (types.Frame, error) {
	fr, ok := w.reader.(FrameReader)
	if !ok {
		return types.Frame{}, fmt.Errorf("reader %T cannot copy frames: %w", w.reader, ErrUnsupported)
	}

	return waitRead(ctx, w, fr.ReadFrame)
}

func waitRead[T any](ctx context.Context, w *Waiter, read func() (T, error)) (T, error) {
	var zero T

	for cycle := 0; cycle < w.policy.OuterCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		err := w.notifier.Wait(ctx, w.policy.Timeout)
		if errors.Is(err, ErrWaitTimeout) {
			if w.observer != nil {
				w.observer.WaitTimedOut()
			}

			continue
		}

		if err != nil {
			return zero, err
		}

		for attempt := 0; attempt < w.policy.ReadRetries; attempt++ {
			if attempt > 0 {
				if err := sleepCtx(ctx, w.policy.RetryDelay); err != nil {
					return zero, err
				}

				if w.observer != nil {
					w.observer.ReadRetried()
				}
			}

			v, err := read()
			if err == nil {
				return v, nil
			}

			if !errors.Is(err, ErrNoData) {
				return zero, err
			}
		}
	}

	return zero, fmt.Errorf("no frame after %d wait cycles: %w", w.policy.OuterCycles, ErrNoData)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
