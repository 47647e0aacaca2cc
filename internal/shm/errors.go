package shm

import (
	"errors"
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/layout"
)

// Error classification.
//
// Every error returned by this package wraps one of these sentinels, checked
// with errors.Is. Syscall failures are wrapped alongside so the errno stays
// reachable.
var (
	// ErrInvalidInput is returned when arguments cannot describe a valid
	// segment or frame (bad geometry, wrong extra length, overflowing sizes).
	ErrInvalidInput = errors.New("shm: invalid input")

	// ErrKeysExhausted is returned by System-V Create when every key in the
	// probe range already names a segment.
	ErrKeysExhausted = errors.New("shm: no free key")

	// ErrSize is returned when a frame length is outside (0, unit_size],
	// either on write or as recorded in the selected slot on read.
	ErrSize = errors.New("shm: frame size out of range")

	// ErrCorrupt is returned when header fields do not describe the attached
	// segment, or an index is outside its valid range.
	ErrCorrupt = errors.New("shm: segment corrupt")

	// ErrOverflow is returned by a write that targeted the last slot. The
	// frame was not stored and the write index wrapped to 0.
	ErrOverflow = errors.New("shm: ring overflow")

	// ErrNoData is returned when no completed frame is available yet.
	ErrNoData = errors.New("shm: no data")

	// ErrWaitTimeout is returned when a writer-progress notification did not
	// arrive within the wait timeout.
	ErrWaitTimeout = errors.New("shm: wait timeout")

	// ErrClosed is returned by operations on a handle that is not attached.
	ErrClosed = errors.New("shm: closed")

	// ErrUnsupported is returned for operations the transport cannot perform.
	ErrUnsupported = errors.New("shm: unsupported")

	// ErrTerminated is returned once the writer has marked the segment
	// TERMINATE.
	ErrTerminated = errors.New("shm: terminated")
)

// layoutErr maps layout codec failures onto this package's classes.
// Caller-supplied geometry is invalid input; header-derived geometry is
// corruption.
func layoutErr(fromHeader bool, err error) error {
	if err == nil {
		return nil
	}

	if fromHeader || errors.Is(err, layout.ErrMismatch) {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}
