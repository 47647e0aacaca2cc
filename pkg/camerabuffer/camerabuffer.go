// Package camerabuffer is the consumer handle for a camera service buffer.
//
// The camera service owns a POSIX frame segment and a signal descriptor per
// buffer handle. A CameraBuffer asks the service for both, attaches to the
// segment read-only and reads frames after each writer notification:
//
//	cb, _ := camerabuffer.New("com.example.viewer", camerabuffer.Options{})
//	_ = cb.Open(ctx, handle)
//	defer cb.Close()
//
//	frame, err := cb.ReadFrame(ctx)
package camerabuffer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/fdsource"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/layout"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/pkg/ringbuffer"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/pkg/types"
)

var log = logger.For("CameraBuffer")

// DefaultSocketPath is where the camera service listens.
const DefaultSocketPath = "/tmp/camera-service.sock"

// FdType selects which descriptor a Source hands out.
type FdType = fdsource.FdType

const (
	FdBuffer = fdsource.FdBuffer
	FdSignal = fdsource.FdSignal
)

// Source hands out the descriptors behind a buffer handle. The caller owns
// every descriptor returned.
type Source interface {
	GetFd(ctx context.Context, handle int, typ FdType) (int, error)
}

// Options configure a CameraBuffer. Zero values select the defaults.
type Options struct {
	// SocketPath of the camera service. Ignored when Source is set.
	SocketPath string
	// Source overrides the socket client.
	Source Source
	// Policy bounds each read; DefaultWaitPolicy when zero.
	Policy ringbuffer.WaitPolicy

	Observer     ringbuffer.Observer
	WaitObserver ringbuffer.WaitObserver
}

// CameraBuffer reads the newest frame of one camera service buffer.
type CameraBuffer struct {
	// mu is held shared by reads and exclusively by Open and Close, so the
	// segment is never unmapped under a reader.
	mu     sync.RWMutex
	name   string
	source Source
	opts   Options

	handle   int
	rb       *ringbuffer.RingBuffer
	notifier *ringbuffer.FDNotifier
	waiter   *ringbuffer.Waiter
}

// New returns a closed CameraBuffer identified to the service by a name
// derived from identifier.
func New(identifier string, opts Options) (*CameraBuffer, error) {
	if opts.Policy == (ringbuffer.WaitPolicy{}) {
		opts.Policy = ringbuffer.DefaultWaitPolicy()
	}

	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}

	cb := &CameraBuffer{opts: opts, source: opts.Source, handle: -1}

	if cb.source != nil {
		cb.name = fdsource.ClientName(identifier)
	} else {
		path := opts.SocketPath
		if path == "" {
			path = DefaultSocketPath
		}

		client, err := fdsource.NewClient(path, identifier)
		if err != nil {
			return nil, err
		}

		cb.name = client.Name()
		cb.source = client
	}

	log.Infof("service name: %s", cb.name)

	return cb, nil
}

// Name returns the client name announced to the camera service.
func (cb *CameraBuffer) Name() string { return cb.name }

// Open fetches the buffer and signal descriptors for handle and attaches.
// Opening an open buffer is a no-op.
func (cb *CameraBuffer) Open(ctx context.Context, handle int) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.rb != nil {
		return nil
	}

	bufFd, err := cb.source.GetFd(ctx, handle, FdBuffer)
	if err != nil {
		return fmt.Errorf("handle %d: get buffer fd: %w", handle, err)
	}

	sigFd, err := cb.source.GetFd(ctx, handle, FdSignal)
	if err != nil {
		closeFd(bufFd)
		return fmt.Errorf("handle %d: get signal fd: %w", handle, err)
	}

	rb, err := ringbuffer.New(ringbuffer.POSIX, ringbuffer.Options{Observer: cb.opts.Observer})
	if err != nil {
		closeFd(bufFd)
		closeFd(sigFd)

		return err
	}

	if err := rb.Open(bufFd); err != nil {
		closeFd(bufFd)
		closeFd(sigFd)

		return fmt.Errorf("handle %d: %w", handle, err)
	}

	notifier, err := ringbuffer.NewFDNotifier(sigFd)
	if err != nil {
		closeFd(sigFd)
		_ = rb.Close()

		return fmt.Errorf("handle %d: %w", handle, err)
	}

	waiter, err := ringbuffer.NewWaiter(rb, notifier, cb.opts.Policy)
	if err != nil {
		_ = notifier.Close()
		_ = rb.Close()

		return err
	}

	if cb.opts.WaitObserver != nil {
		waiter.SetObserver(cb.opts.WaitObserver)
	}

	cb.handle, cb.rb, cb.notifier, cb.waiter = handle, rb, notifier, waiter

	log.Infof("handle=%d: open (buffer fd=%d, signal fd=%d)", handle, bufFd, sigFd)

	return nil
}

// ReadData waits for the writer and returns the newest frame. The slice
// aliases shared memory; use ReadFrame to keep it.
func (cb *CameraBuffer) ReadData(ctx context.Context) ([]byte, error) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.waiter == nil {
		return nil, ringbuffer.ErrClosed
	}

	return cb.waiter.Read(ctx)
}

// ReadFrame waits for the writer and copies the newest frame out.
func (cb *CameraBuffer) ReadFrame(ctx context.Context) (types.Frame, error) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.waiter == nil {
		return types.Frame{}, ringbuffer.ErrClosed
	}

	return cb.waiter.ReadFrame(ctx)
}

// Layout returns the attached segment's layout.
func (cb *CameraBuffer) Layout() (layout.Layout, error) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.rb == nil {
		return layout.Layout{}, ringbuffer.ErrClosed
	}

	return cb.rb.Layout()
}

// Close detaches and releases both descriptors. It waits for reads in
// progress to return.
func (cb *CameraBuffer) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.rb == nil {
		return ringbuffer.ErrClosed
	}

	err := errors.Join(cb.notifier.Close(), cb.rb.Close())

	log.Infof("handle=%d: closed", cb.handle)

	cb.handle, cb.rb, cb.notifier, cb.waiter = -1, nil, nil, nil

	return err
}

func closeFd(fd int) {
	if fd >= 0 {
		_ = os.NewFile(uintptr(fd), "").Close()
	}
}
