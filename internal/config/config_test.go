package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cambuf.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func Test_Load_Returns_Defaults_When_No_File(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidateWriter())
}

func Test_Load_Overlays_JSONC_On_Defaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		// consumer side
		"transport": "posix",
		"handle": 3,
		"wait": {"timeout": "250ms", "read_retries": 2,},
		"writer": {"unit_num": 16},
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.Transport = "posix"
	want.Handle = 3
	want.Wait.Timeout = Duration{250 * time.Millisecond}
	want.Wait.ReadRetries = 2
	want.Writer.UnitNum = 16
	want.Source = path

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_Load_Rejects_Unknown_Keys_And_Bad_Durations(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `{"trasnport": "posix"}`))
	require.ErrorIs(t, err, ErrConfigInvalid)

	_, err = Load(writeConfig(t, `{"wait": {"timeout": "soon"}}`))
	require.ErrorIs(t, err, ErrConfigInvalid)

	_, err = Load(filepath.Join(t.TempDir(), "missing.jsonc"))
	require.ErrorIs(t, err, ErrConfigFileRead)
}

func Test_Duration_Accepts_Integer_Nanoseconds(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, Parse([]byte(`{"poll_interval": 5000000}`), &cfg))
	assert.Equal(t, 5*time.Millisecond, cfg.PollInterval.Duration)

	out, err := cfg.PollInterval.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"5ms"`, string(out))
}

func Test_Validate_Collects_Every_Problem(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Transport = "tcp"
	cfg.LogLevel = "loud"
	cfg.Wait.OuterCycles = 0

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrConfigInvalid)
	assert.Contains(t, err.Error(), "tcp")
	assert.Contains(t, err.Error(), "loud")
	assert.Contains(t, err.Error(), "outer_cycles")
}

func Test_ValidateReader_Requires_Attach_Target(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.ErrorIs(t, cfg.ValidateReader(), ErrConfigInvalid)

	cfg.Key = 7010
	require.NoError(t, cfg.ValidateReader())

	cfg.Transport = "posix"
	cfg.SocketPath = ""
	require.ErrorIs(t, cfg.ValidateReader(), ErrConfigInvalid)
}

func Test_ValidateWriter_Rejects_Single_Slot_Ring(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Writer.UnitNum = 1
	cfg.Writer.MaxKey = 1

	err := cfg.ValidateWriter()
	require.ErrorIs(t, err, ErrConfigInvalid)
	assert.Contains(t, err.Error(), "unit_num")
	assert.Contains(t, err.Error(), "key range")
}

func Test_ValidateWriter_Bounds_Frame_Rate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Writer.FPS = MaxFPS
	require.NoError(t, cfg.ValidateWriter())

	for _, fps := range []int{0, MaxFPS + 1, 2_000_000_000} {
		cfg.Writer.FPS = fps

		err := cfg.ValidateWriter()
		require.ErrorIs(t, err, ErrConfigInvalid, "fps %d", fps)
		assert.Contains(t, err.Error(), "writer.fps")
	}
}

func Test_Flags_Override_File_Only_When_Set(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"transport": "posix", "key": 9, "log_level": "debug"}`)

	f := NewFlags("cambuf-reader", io.Discard).AddReader()

	cfg, err := f.Parse([]string{"--config", path, "-k", "7010", "-t", "systemv", "--wait-timeout", "2s"})
	require.NoError(t, err)

	assert.Equal(t, "systemv", cfg.Transport)
	assert.Equal(t, 7010, cfg.Key)
	assert.Equal(t, "debug", cfg.LogLevel, "unset flag must keep the file value")
	assert.Equal(t, 2*time.Second, cfg.Wait.Timeout.Duration)
	assert.Equal(t, path, cfg.Source)
}

func Test_Flags_Writer_Geometry(t *testing.T) {
	t.Parallel()

	f := NewFlags("cambuf-writer", io.Discard).AddWriter()

	cfg, err := f.Parse([]string{"--unit-size", "1024", "--unit-num", "4", "-n", "10", "--meta-size", "32"})
	require.NoError(t, err)

	assert.Equal(t, WriterConfig{
		UnitSize: 1024,
		UnitNum:  4,
		MetaSize: 32,
		FPS:      30,
		Frames:   10,
		BaseKey:  7010,
		MaxKey:   0xFFFF,
	}, cfg.Writer)
}

func Test_Flags_Reject_Positional_Arguments(t *testing.T) {
	t.Parallel()

	_, err := NewFlags("x", io.Discard).Parse([]string{"extra"})
	require.ErrorIs(t, err, ErrConfigInvalid)

	_, err = NewFlags("x", io.Discard).Parse([]string{"--nope"})
	require.Error(t, err)
}
