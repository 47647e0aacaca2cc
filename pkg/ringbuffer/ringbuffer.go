// Package ringbuffer is the uniform handle over the two shared-memory
// transports that carry camera frames between processes.
//
// A RingBuffer owns exactly one backend, chosen at construction:
//
//	rb, _ := ringbuffer.New(ringbuffer.SystemV, ringbuffer.Options{})
//	key, _ := rb.Create(256*1024, 8)       // writer
//	_ = rb.WriteData(frame)
//
//	rd, _ := ringbuffer.New(ringbuffer.SystemV, ringbuffer.Options{})
//	_ = rd.Open(key)                        // reader
//	data, _ := rd.ReadData()
//
// POSIX handles are read-only and must be driven by a Waiter so that reads
// follow a writer-progress notification.
package ringbuffer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/layout"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/shm"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/pkg/types"
)

// Errors returned by RingBuffer and Waiter, checked with errors.Is.
var (
	ErrInvalidInput  = shm.ErrInvalidInput
	ErrKeysExhausted = shm.ErrKeysExhausted
	ErrSize          = shm.ErrSize
	ErrCorrupt       = shm.ErrCorrupt
	ErrOverflow      = shm.ErrOverflow
	ErrNoData        = shm.ErrNoData
	ErrWaitTimeout   = shm.ErrWaitTimeout
	ErrClosed        = shm.ErrClosed
	ErrUnsupported   = shm.ErrUnsupported
	ErrTerminated    = shm.ErrTerminated
)

// Kind selects the transport.
type Kind int

const (
	// POSIX attaches read-only to an fd-backed segment.
	POSIX Kind = iota
	// SystemV creates or opens a keyed segment guarded by a semaphore.
	SystemV
)

func (k Kind) String() string {
	switch k {
	case POSIX:
		return string(types.TransportPosix)
	case SystemV:
		return string(types.TransportSystemV)
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindOf maps a transport name to its Kind.
func KindOf(t types.Transport) (Kind, error) {
	switch t {
	case types.TransportPosix:
		return POSIX, nil
	case types.TransportSystemV:
		return SystemV, nil
	default:
		return 0, fmt.Errorf("transport %q: %w", t, ErrInvalidInput)
	}
}

// SysVOptions configures System-V key probing and the regions allocated by
// Create.
type SysVOptions = shm.SysVOptions

// Observer receives per-operation outcomes. internal/metrics implements it.
type Observer interface {
	FrameRead(bytes int)
	FrameWritten(bytes int)
	ReadFailed(err error)
	WriteFailed(err error)
}

// Options configure a RingBuffer.
type Options struct {
	SysV     SysVOptions
	Observer Observer
}

// Backend is the contract both transports implement.
type Backend interface {
	Open(key int) error
	Create(unitSize, unitCount int) (int, error)
	Close() error
	ReadData() ([]byte, error)
	WriteData(p []byte) error
}

// frameBackend is the richer surface both transports also provide.
type frameBackend interface {
	Backend
	ReadDataEx() (shm.Frame, error)
	Layout() (layout.Layout, error)
	Mark() (layout.Mark, error)
}

var (
	_ frameBackend = (*shm.Posix)(nil)
	_ frameBackend = (*shm.SystemV)(nil)
)

// RingBuffer is one attachment to a camera frame segment.
type RingBuffer struct {
	mu       sync.Mutex
	kind     Kind
	backend  frameBackend
	sysv     *shm.SystemV
	observer Observer
	attached bool
	seq      atomic.Uint64
}

// New returns a detached RingBuffer for kind.
func New(kind Kind, opts Options) (*RingBuffer, error) {
	rb := &RingBuffer{kind: kind, observer: opts.Observer}

	switch kind {
	case POSIX:
		rb.backend = shm.NewPosix()
	case SystemV:
		rb.sysv = shm.NewSystemV(opts.SysV)
		rb.backend = rb.sysv
	default:
		return nil, fmt.Errorf("kind %d: %w", int(kind), ErrInvalidInput)
	}

	return rb, nil
}

// Kind returns the transport of rb.
func (rb *RingBuffer) Kind() Kind { return rb.kind }

// Open attaches to an existing segment: an fd for POSIX, a key for
// System-V. Opening an attached handle is a no-op.
func (rb *RingBuffer) Open(key int) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.attached {
		return nil
	}

	if err := rb.backend.Open(key); err != nil {
		return fmt.Errorf("open %s %d: %w", rb.kind, key, err)
	}

	rb.attached = true

	return nil
}

// Create allocates a new segment of unitCount slots holding up to unitSize
// bytes each and attaches to it. Only System-V supports this.
func (rb *RingBuffer) Create(unitSize, unitCount int) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.attached {
		return 0, fmt.Errorf("create on attached %s handle: %w", rb.kind, ErrInvalidInput)
	}

	key, err := rb.backend.Create(unitSize, unitCount)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", rb.kind, err)
	}

	rb.attached = true

	return key, nil
}

// Close detaches. The last System-V attacher destroys the segment.
func (rb *RingBuffer) Close() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.attached {
		return ErrClosed
	}

	rb.attached = false

	if err := rb.backend.Close(); err != nil {
		return fmt.Errorf("close %s: %w", rb.kind, err)
	}

	return nil
}

// ReadData returns the newest completed frame. The slice aliases shared
// memory and must be copied before the writer can reach the slot again.
func (rb *RingBuffer) ReadData() ([]byte, error) {
	data, err := rb.backend.ReadData()
	if err != nil {
		rb.readFailed(err)
		return nil, err
	}

	if rb.observer != nil {
		rb.observer.FrameRead(len(data))
	}

	return data, nil
}

// ReadFrame copies the newest frame, with metadata and extra bytes, out of
// shared memory.
func (rb *RingBuffer) ReadFrame() (types.Frame, error) {
	f, err := rb.backend.ReadDataEx()
	if err != nil {
		rb.readFailed(err)
		return types.Frame{}, err
	}

	c := f.Clone()
	out := types.Frame{
		Data:      c.Data,
		Meta:      c.Meta,
		Extra:     c.Extra,
		Slot:      c.Slot,
		Seq:       rb.seq.Add(1),
		Timestamp: time.Now(),
	}

	if rb.observer != nil {
		rb.observer.FrameRead(out.Size())
	}

	return out, nil
}

func (rb *RingBuffer) readFailed(err error) {
	if rb.observer != nil && !errors.Is(err, ErrNoData) {
		rb.observer.ReadFailed(err)
	}
}

// WriteData publishes one frame. Only System-V supports this. ErrOverflow
// means the frame was dropped and the ring wrapped.
func (rb *RingBuffer) WriteData(p []byte) error {
	return rb.observeWrite(len(p), rb.backend.WriteData(p))
}

// WriteDataEx publishes a frame with metadata and extra bytes.
func (rb *RingBuffer) WriteDataEx(data, meta, extra []byte) error {
	if rb.sysv == nil {
		return rb.observeWrite(0, fmt.Errorf("%s write: %w", rb.kind, ErrUnsupported))
	}

	return rb.observeWrite(len(data)+len(meta)+len(extra), rb.sysv.WriteDataEx(data, meta, extra))
}

func (rb *RingBuffer) observeWrite(n int, err error) error {
	if rb.observer == nil {
		return err
	}

	if err != nil {
		rb.observer.WriteFailed(err)
		return err
	}

	rb.observer.FrameWritten(n)

	return nil
}

// Reset empties the ring and asserts RESET. System-V only.
func (rb *RingBuffer) Reset() error {
	if rb.sysv == nil {
		return fmt.Errorf("%s reset: %w", rb.kind, ErrUnsupported)
	}

	return rb.sysv.Reset()
}

// Terminate asserts TERMINATE so readers stop. System-V only.
func (rb *RingBuffer) Terminate() error {
	if rb.sysv == nil {
		return fmt.Errorf("%s terminate: %w", rb.kind, ErrUnsupported)
	}

	return rb.sysv.Terminate()
}

// Key returns the System-V key, or -1.
func (rb *RingBuffer) Key() int {
	if rb.sysv == nil {
		return -1
	}

	return rb.sysv.Key()
}

// Layout returns the resolved segment layout.
func (rb *RingBuffer) Layout() (layout.Layout, error) {
	return rb.backend.Layout()
}

// Mark returns the writer's mark.
func (rb *RingBuffer) Mark() (layout.Mark, error) {
	return rb.backend.Mark()
}
