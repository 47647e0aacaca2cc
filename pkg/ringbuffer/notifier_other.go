//go:build !linux

package ringbuffer

import (
	"context"
	"time"
)

// FDNotifier is unavailable on this platform.
type FDNotifier struct{}

func NewFDNotifier(int) (*FDNotifier, error) { return nil, ErrUnsupported }

func (*FDNotifier) Wait(context.Context, time.Duration) error { return ErrUnsupported }

func (*FDNotifier) Close() error { return ErrUnsupported }
