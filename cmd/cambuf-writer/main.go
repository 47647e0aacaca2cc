// Command cambuf-writer creates a System-V camera buffer and publishes
// synthetic frames into it, for driving cambuf-reader by hand.
//
//	cambuf-writer --unit-size 65536 --unit-num 8 --meta-size 64 -n 300
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/pkg/ringbuffer"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var log = logger.For("Writer")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.NewFlags("cambuf-writer", stderr).AddWriter().Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}

	if err == nil {
		err = cfg.ValidateWriter()
	}

	if err != nil {
		fmt.Fprintf(stderr, "cambuf-writer: %v\n", err)
		return exitUsage
	}

	level, _ := cfg.Level()
	logger.Init(level, stderr, cfg.LogColor)

	m := metrics.New()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	w := cfg.Writer

	rb, err := ringbuffer.New(ringbuffer.SystemV, ringbuffer.Options{
		SysV: ringbuffer.SysVOptions{
			BaseKey:   w.BaseKey,
			MaxKey:    w.MaxKey,
			MetaSize:  w.MetaSize,
			ExtraSize: w.ExtraSize,
		},
		Observer: m,
	})
	if err != nil {
		log.Errorf("%v", err)
		return exitError
	}

	key, err := rb.Create(w.UnitSize, w.UnitNum)
	if err != nil {
		log.Errorf("%v", err)
		return exitError
	}

	fmt.Fprintf(stdout, "key %d\n", key)

	err = publish(ctx, rb, w, stdout)

	if terr := rb.Terminate(); terr != nil {
		log.Warnf("terminate: %v", terr)
	}

	if cerr := rb.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}

	fmt.Fprintf(stdout, "frames=%d bytes=%d overflows=%d\n",
		m.FramesWritten.Load(), m.BytesWritten.Load(), m.Overflows.Load())

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("%v", err)
		return exitError
	}

	return exitOK
}

// publish writes w.Frames frames (forever when zero) at w.FPS.
func publish(ctx context.Context, rb *ringbuffer.RingBuffer, w config.WriterConfig, out io.Writer) error {
	ticker := time.NewTicker(time.Second / time.Duration(w.FPS))
	defer ticker.Stop()

	for seq := 0; w.Frames == 0 || seq < w.Frames; seq++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		data, meta, extra := synthFrame(seq, w)

		err := rb.WriteDataEx(data, meta, extra)
		if errors.Is(err, ringbuffer.ErrOverflow) {
			// The frame was dropped on the last slot; the ring is at slot 0 now.
			err = rb.WriteDataEx(data, meta, extra)
		}

		if err != nil {
			return fmt.Errorf("frame %d: %w", seq, err)
		}

		log.Debugf("frame %d: %d bytes", seq, len(data))
	}

	fmt.Fprintln(out, "done")

	return nil
}

// synthFrame builds a frame whose length cycles through the slot size. The
// first 8 bytes carry seq so readers can spot skipped frames.
func synthFrame(seq int, w config.WriterConfig) (data, meta, extra []byte) {
	n := max(8, (seq*997)%w.UnitSize+1)
	n = min(n, w.UnitSize)

	data = make([]byte, n)
	for i := range data {
		data[i] = byte(seq + i)
	}

	if n >= 8 {
		binary.LittleEndian.PutUint64(data, uint64(seq))
	}

	if w.MetaSize > 1 {
		meta = fmt.Appendf(nil, `{"seq":%d}`, seq)
		if len(meta) >= w.MetaSize {
			meta = nil
		}
	}

	if w.ExtraSize > 0 {
		extra = make([]byte, w.ExtraSize)
		copy(extra, fmt.Sprintf("%d", seq))
	}

	return data, meta, extra
}
