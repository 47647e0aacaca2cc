package recorder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/pkg/types"
)

func Test_Recorder_Appends_Frames_And_Snapshots_Latest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := metrics.New()

	r := NewRecorder(Options{
		OutputPath:   filepath.Join(dir, "stream.raw"),
		SnapshotPath: filepath.Join(dir, "latest.raw"),
		Metrics:      m,
	})
	require.NoError(t, r.Start())

	frames := [][]byte{[]byte("aaa"), []byte("bb"), []byte("cccc")}
	for i, f := range frames {
		require.True(t, r.SendFrame(types.Frame{Data: f, Seq: uint64(i + 1)}))
	}

	require.NoError(t, r.Stop())

	stream, err := os.ReadFile(filepath.Join(dir, "stream.raw"))
	require.NoError(t, err)
	assert.Equal(t, "aaabbcccc", string(stream))

	latest, err := os.ReadFile(filepath.Join(dir, "latest.raw"))
	require.NoError(t, err)
	assert.Equal(t, "cccc", string(latest))

	st := r.GetStatus()
	assert.False(t, st.Recording)
	assert.Equal(t, uint64(3), st.FrameCount)
	assert.Equal(t, uint64(9), st.BytesWritten)
	assert.Equal(t, uint64(3), st.Snapshots)
	assert.Equal(t, uint64(3), m.RecordingFrames.Load())
}

func Test_Recorder_Rate_Limits_Snapshots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	r := NewRecorder(Options{
		SnapshotPath:     filepath.Join(dir, "latest.raw"),
		SnapshotInterval: time.Hour,
	})
	require.NoError(t, r.Start())

	require.True(t, r.SendFrame(types.Frame{Data: []byte("first")}))
	require.True(t, r.SendFrame(types.Frame{Data: []byte("second")}))
	require.NoError(t, r.Stop())

	latest, err := os.ReadFile(filepath.Join(dir, "latest.raw"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(latest))
	assert.Equal(t, uint64(1), r.GetStatus().Snapshots)
}

func Test_Recorder_Rejects_Frames_When_Stopped(t *testing.T) {
	t.Parallel()

	r := NewRecorder(Options{OutputPath: filepath.Join(t.TempDir(), "out.raw")})

	assert.False(t, r.SendFrame(types.Frame{Data: []byte("x")}))
	require.Error(t, r.Stop())

	require.NoError(t, r.Start())
	require.Error(t, r.Start())
	require.NoError(t, r.Close())
	assert.False(t, r.IsRecording())
}

func Test_Recorder_Requires_A_Destination(t *testing.T) {
	t.Parallel()

	require.Error(t, NewRecorder(Options{}).Start())
}
