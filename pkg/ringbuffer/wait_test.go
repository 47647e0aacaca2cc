package ringbuffer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedNotifier returns its script one entry per Wait, then times out.
type scriptedNotifier struct {
	script []error
	calls  int
}

func (n *scriptedNotifier) Wait(ctx context.Context, _ time.Duration) error {
	n.calls++

	if err := ctx.Err(); err != nil {
		return err
	}

	if len(n.script) == 0 {
		return ErrWaitTimeout
	}

	err := n.script[0]
	n.script = n.script[1:]

	return err
}

// scriptedReader fails with its script one entry per ReadData, then
// returns data.
type scriptedReader struct {
	script []error
	data   []byte
	calls  int
}

func (r *scriptedReader) ReadData() ([]byte, error) {
	r.calls++

	if len(r.script) > 0 {
		err := r.script[0]
		r.script = r.script[1:]

		if err != nil {
			return nil, err
		}
	}

	return r.data, nil
}

type countingWaitObserver struct {
	timeouts int
	retries  int
}

func (o *countingWaitObserver) WaitTimedOut() { o.timeouts++ }
func (o *countingWaitObserver) ReadRetried()  { o.retries++ }

func testPolicy() WaitPolicy {
	return WaitPolicy{
		Timeout:     10 * time.Millisecond,
		OuterCycles: 3,
		ReadRetries: 5,
		RetryDelay:  0,
	}
}

func Test_Waiter_Succeeds_When_Payload_Visible_On_Third_Attempt(t *testing.T) {
	t.Parallel()

	n := &scriptedNotifier{script: []error{nil}}
	r := &scriptedReader{script: []error{ErrNoData, ErrNoData}, data: []byte("frame")}
	obs := &countingWaitObserver{}

	w, err := NewWaiter(r, n, testPolicy())
	require.NoError(t, err)
	w.SetObserver(obs)

	got, err := w.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []byte("frame"), got)
	assert.Equal(t, 3, r.calls)
	assert.Equal(t, 1, n.calls)
	assert.Equal(t, 2, obs.retries)
	assert.Zero(t, obs.timeouts)
}

func Test_Waiter_Soft_Fails_With_NoData_After_Outer_Cycles(t *testing.T) {
	t.Parallel()

	n := &scriptedNotifier{}
	r := &scriptedReader{data: []byte("never")}
	obs := &countingWaitObserver{}

	w, err := NewWaiter(r, n, testPolicy())
	require.NoError(t, err)
	w.SetObserver(obs)

	_, err = w.Read(context.Background())
	require.ErrorIs(t, err, ErrNoData)

	assert.Equal(t, 3, n.calls)
	assert.Zero(t, r.calls)
	assert.Equal(t, 3, obs.timeouts)
}

func Test_Waiter_Moves_To_Next_Notification_When_Retries_Exhausted(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.ReadRetries = 2

	n := &scriptedNotifier{script: []error{nil, nil}}
	r := &scriptedReader{script: []error{ErrNoData, ErrNoData, ErrNoData}, data: []byte("late")}

	w, err := NewWaiter(r, n, policy)
	require.NoError(t, err)

	got, err := w.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []byte("late"), got)
	assert.Equal(t, 2, n.calls)
	assert.Equal(t, 4, r.calls)
}

func Test_Waiter_Does_Not_Retry_Corruption(t *testing.T) {
	t.Parallel()

	for _, failure := range []error{ErrSize, ErrCorrupt, ErrClosed, ErrTerminated} {
		n := &scriptedNotifier{script: []error{nil}}
		r := &scriptedReader{script: []error{failure}}

		w, err := NewWaiter(r, n, testPolicy())
		require.NoError(t, err)

		_, err = w.Read(context.Background())
		require.ErrorIs(t, err, failure)
		assert.Equal(t, 1, r.calls, "%v must not be retried", failure)
	}
}

func Test_Waiter_Returns_Context_Error_When_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := &scriptedNotifier{script: []error{nil}}
	r := &scriptedReader{data: []byte("x")}

	w, err := NewWaiter(r, n, testPolicy())
	require.NoError(t, err)

	_, err = w.Read(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, r.calls)
}

func Test_Waiter_Stops_Retry_Sleep_On_Cancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	policy := testPolicy()
	policy.RetryDelay = time.Hour

	n := &scriptedNotifier{script: []error{nil}}
	r := &scriptedReader{script: []error{ErrNoData}}

	w, err := NewWaiter(r, n, policy)
	require.NoError(t, err)

	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = w.Read(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, r.calls)
}

func Test_Waiter_Propagates_Notifier_Failure(t *testing.T) {
	t.Parallel()

	boom := errors.New("signal fd gone")
	n := &scriptedNotifier{script: []error{boom}}
	r := &scriptedReader{}

	w, err := NewWaiter(r, n, testPolicy())
	require.NoError(t, err)

	_, err = w.Read(context.Background())
	require.ErrorIs(t, err, boom)
}

func Test_Waiter_ReadFrame_Requires_FrameReader(t *testing.T) {
	t.Parallel()

	w, err := NewWaiter(&scriptedReader{}, &scriptedNotifier{}, testPolicy())
	require.NoError(t, err)

	_, err = w.ReadFrame(context.Background())
	require.ErrorIs(t, err, ErrUnsupported)
}

func Test_NotifierFunc_Adapts_Function(t *testing.T) {
	t.Parallel()

	called := false
	n := NotifierFunc(func(context.Context, time.Duration) error {
		called = true
		return nil
	})

	require.NoError(t, n.Wait(context.Background(), time.Second))
	assert.True(t, called)
}

func Test_WaitPolicy_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultWaitPolicy().Validate())

	bad := []WaitPolicy{
		{Timeout: 0, OuterCycles: 1, ReadRetries: 1},
		{Timeout: time.Second, OuterCycles: 0, ReadRetries: 1},
		{Timeout: time.Second, OuterCycles: 1, ReadRetries: 0},
		{Timeout: time.Second, OuterCycles: 1, ReadRetries: 1, RetryDelay: -1},
	}

	for _, p := range bad {
		require.ErrorIs(t, p.Validate(), ErrInvalidInput, "%+v", p)
	}

	_, err := NewWaiter(nil, &scriptedNotifier{}, DefaultWaitPolicy())
	require.ErrorIs(t, err, ErrInvalidInput)
}
