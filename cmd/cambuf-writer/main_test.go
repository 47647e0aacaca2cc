package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/config"
)

func Test_Run_Rejects_Bad_Geometry(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"--unit-num", "1"}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "unit_num")
	assert.Empty(t, stdout.String())
}

func Test_Run_Help_Exits_Cleanly(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	assert.Equal(t, exitOK, run(context.Background(), []string{"--help"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "--unit-size")
}

func Test_SynthFrame_Fits_Geometry(t *testing.T) {
	t.Parallel()

	w := config.WriterConfig{UnitSize: 256, UnitNum: 8, MetaSize: 16, ExtraSize: 4}

	for seq := 0; seq < 50; seq++ {
		data, meta, extra := synthFrame(seq, w)

		require.NotEmpty(t, data)
		require.LessOrEqual(t, len(data), w.UnitSize)
		assert.Equal(t, uint64(seq), binary.LittleEndian.Uint64(data))
		assert.Less(t, len(meta), w.MetaSize)
		assert.Len(t, extra, w.ExtraSize)
	}

	data, meta, extra := synthFrame(3, config.WriterConfig{UnitSize: 4, UnitNum: 2})
	assert.Len(t, data, 4)
	assert.Nil(t, meta)
	assert.Nil(t, extra)
}
