//go:build linux

package camerabuffer

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/layout"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/pkg/ringbuffer"
)

// camera plays the service side: a memfd frame segment and an eventfd.
type camera struct {
	segFd, sigFd int
	mem          []byte
	l            layout.Layout
}

func newCamera(t *testing.T) *camera {
	t.Helper()

	p := layout.Params{UnitSize: 128, UnitNum: 4}

	segFd, err := unix.MemfdCreate("camerabuffer-test", unix.MFD_CLOEXEC)
	if errors.Is(err, unix.ENOSYS) {
		t.Skip("memfd_create not supported")
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(segFd) })

	size, err := layout.SegmentSize(layout.POSIX, p)
	require.NoError(t, err)
	require.NoError(t, unix.Ftruncate(segFd, int64(size)))

	mem, err := unix.Mmap(segFd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Munmap(mem) })

	l, err := layout.Compute(layout.POSIX, p, size)
	require.NoError(t, err)
	require.NoError(t, layout.Init(l, mem))

	sigFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(sigFd) })

	return &camera{segFd: segFd, sigFd: sigFd, mem: mem, l: l}
}

func (c *camera) publish(t *testing.T, data []byte) {
	t.Helper()

	slot := int(max(layout.GetInt32(c.mem, layout.OffWriteIndex), 0))

	lenOff, err := c.l.LengthEntry(slot)
	require.NoError(t, err)

	off, _, err := c.l.DataSpan(slot)
	require.NoError(t, err)

	copy(c.mem[off:], data)
	layout.PutInt32(c.mem, lenOff, int32(len(data)))
	layout.PutInt32(c.mem, layout.OffWriteIndex, int32((slot+1)%c.l.UnitNum))

	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)

	_, err = unix.Write(c.sigFd, b[:])
	require.NoError(t, err)
}

type fakeSource struct {
	cam      *camera
	failType FdType
	calls    []FdType
}

func (s *fakeSource) GetFd(_ context.Context, handle int, typ FdType) (int, error) {
	s.calls = append(s.calls, typ)

	if typ == s.failType || handle != 7 {
		return -1, errors.New("no such handle")
	}

	fd := s.cam.segFd
	if typ == FdSignal {
		fd = s.cam.sigFd
	}

	return unix.Dup(fd)
}

func fastPolicy() ringbuffer.WaitPolicy {
	return ringbuffer.WaitPolicy{
		Timeout:     20 * time.Millisecond,
		OuterCycles: 2,
		ReadRetries: 2,
		RetryDelay:  time.Millisecond,
	}
}

func Test_CameraBuffer_Reads_Published_Frame(t *testing.T) {
	t.Parallel()

	cam := newCamera(t)
	src := &fakeSource{cam: cam}

	cb, err := New("cam-test", Options{Source: src, Policy: fastPolicy()})
	require.NoError(t, err)
	assert.Contains(t, cb.Name(), "cam-test-cambuf_")

	ctx := context.Background()
	require.NoError(t, cb.Open(ctx, 7))
	require.NoError(t, cb.Open(ctx, 7), "second open is a no-op")
	assert.Equal(t, []FdType{FdBuffer, FdSignal}, src.calls)

	cam.publish(t, []byte("frame-0"))

	frame, err := cb.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame-0"), frame.Data)
	assert.Equal(t, 0, frame.Slot)

	cam.publish(t, []byte("frame-1"))

	data, err := cb.ReadData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame-1"), data)

	l, err := cb.Layout()
	require.NoError(t, err)
	assert.Equal(t, layout.POSIX, l.Variant)
	assert.Equal(t, 4, l.UnitNum)

	require.NoError(t, cb.Close())
	require.ErrorIs(t, cb.Close(), ringbuffer.ErrClosed)

	_, err = cb.ReadData(ctx)
	require.ErrorIs(t, err, ringbuffer.ErrClosed)
}

func Test_CameraBuffer_Soft_Fails_Without_Writer(t *testing.T) {
	t.Parallel()

	cb, err := New("cam-test", Options{Source: &fakeSource{cam: newCamera(t)}, Policy: fastPolicy()})
	require.NoError(t, err)
	require.NoError(t, cb.Open(context.Background(), 7))
	t.Cleanup(func() { _ = cb.Close() })

	_, err = cb.ReadFrame(context.Background())
	require.ErrorIs(t, err, ringbuffer.ErrNoData)
}

func Test_CameraBuffer_Open_Fails_Cleanly(t *testing.T) {
	t.Parallel()

	cam := newCamera(t)

	cb, err := New("cam-test", Options{Source: &fakeSource{cam: cam, failType: FdSignal}})
	require.NoError(t, err)

	err = cb.Open(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal fd")

	_, err = cb.ReadData(context.Background())
	require.ErrorIs(t, err, ringbuffer.ErrClosed)

	err = cb.Open(context.Background(), 8)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buffer fd")

	require.ErrorIs(t, cb.Close(), ringbuffer.ErrClosed)
}

func Test_New_Rejects_Invalid_Policy(t *testing.T) {
	t.Parallel()

	_, err := New("cam-test", Options{Source: &fakeSource{}, Policy: ringbuffer.WaitPolicy{Timeout: time.Second}})
	require.ErrorIs(t, err, ringbuffer.ErrInvalidInput)

	cb, err := New("cam-test", Options{SocketPath: "/tmp/none.sock"})
	require.NoError(t, err)
	assert.Contains(t, cb.Name(), "cam-test-cambuf_")
}
