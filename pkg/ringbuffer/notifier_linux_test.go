//go:build linux

package ringbuffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func Test_FDNotifier_Returns_On_Signal_And_Drains(t *testing.T) {
	t.Parallel()

	fd := newEventfd(t)
	writerSide, err := unix.Dup(fd)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(writerSide) })

	n, err := NewFDNotifier(fd)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	signal(t, writerSide)
	signal(t, writerSide)

	require.NoError(t, n.Wait(context.Background(), time.Second))

	err = n.Wait(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrWaitTimeout, "both signals must be drained by one wait")
}

func Test_FDNotifier_Honours_Context(t *testing.T) {
	t.Parallel()

	n, err := NewFDNotifier(newEventfd(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	err = n.Wait(ctx, 10*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func Test_FDNotifier_Reports_Closed_Pipe(t *testing.T) {
	t.Parallel()

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	require.NoError(t, unix.Close(p[1]))

	n, err := NewFDNotifier(p[0])
	require.NoError(t, err)

	err = n.Wait(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrClosed)

	require.NoError(t, n.Close())
	require.ErrorIs(t, n.Close(), ErrClosed)
	require.ErrorIs(t, n.Wait(context.Background(), time.Millisecond), ErrClosed)
}

func Test_NewFDNotifier_Rejects_Negative_FD(t *testing.T) {
	t.Parallel()

	_, err := NewFDNotifier(-1)
	require.ErrorIs(t, err, ErrInvalidInput)
}
