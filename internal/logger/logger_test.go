package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Logger_Filters_Messages_Below_Level(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Debug("SystemV", "debug %d", 1)
	l.Info("SystemV", "info %d", 2)
	l.Warn("SystemV", "warn %d", 3)
	l.Error("SystemV", "error %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "debug 1")
	assert.NotContains(t, out, "info 2")
	assert.Contains(t, out, "[WARN] [SystemV] warn 3")
	assert.Contains(t, out, "[ERROR] [SystemV] error 4")
}

func Test_Module_Writes_Tag_When_Bound_To_Logger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	m := New(DEBUG, &buf, false).With("Posix")

	m.Infof("attached fd=%d size=%d", 7, 4096)

	assert.Equal(t, "Posix", m.Name())
	assert.Contains(t, buf.String(), "[INFO] [Posix] attached fd=7 size=4096")
}

func Test_Logger_Colors_Level_Prefix_When_Enabled(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(DEBUG, &buf, true).Error("", "boom")

	assert.Contains(t, buf.String(), levelColors[ERROR]+"[ERROR]"+resetColor+" boom")
}

func Test_Logger_Writes_Nothing_When_Silent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(SILENT, &buf, false)
	l.Error("x", "nope")

	assert.Empty(t, buf.String())
	assert.False(t, l.Enabled(ERROR))
}

func Test_Module_Is_Noop_When_No_Global_Logger(t *testing.T) {
	t.Parallel()

	if getDefault() != nil {
		t.Skip("global logger already initialised")
	}

	assert.NotPanics(t, func() { For("x").Warnf("dropped") })
}

func Test_ParseLevel_Accepts_Known_Names(t *testing.T) {
	t.Parallel()

	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		" error ": ERROR,
		"none":    SILENT,
	}

	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "loud"))
}
