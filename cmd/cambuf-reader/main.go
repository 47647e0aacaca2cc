// Command cambuf-reader attaches to a camera frame buffer and reads the
// newest frame in a loop until interrupted.
//
//	cambuf-reader -t systemv -k 7010 -o frames.raw
//	cambuf-reader -t posix --handle 3 --socket /tmp/camera-service.sock
package main

import (
	"context"
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
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/pkg/camerabuffer"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/pkg/ringbuffer"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/pkg/types"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var log = logger.For("Reader")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.NewFlags("cambuf-reader", stderr).AddReader().Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}

	if err == nil {
		err = cfg.ValidateReader()
	}

	if err != nil {
		fmt.Fprintf(stderr, "cambuf-reader: %v\n", err)
		return exitUsage
	}

	level, _ := cfg.Level()
	logger.Init(level, stderr, cfg.LogColor)

	r := &reader{cfg: cfg, metrics: metrics.New(), out: stdout}

	if cfg.MetricsAddr != "" {
		go r.serveMetrics(ctx)
	}

	if cfg.Output != "" || cfg.Snapshot != "" {
		r.recorder = recorder.NewRecorder(recorder.Options{
			OutputPath:       cfg.Output,
			SnapshotPath:     cfg.Snapshot,
			SnapshotInterval: cfg.SnapshotInterval.Duration,
			Metrics:          r.metrics,
		})

		if err := r.recorder.Start(); err != nil {
			log.Errorf("start recorder: %v", err)
			return exitError
		}
	}

	t, _ := cfg.TransportKind()

	switch t {
	case types.TransportPosix:
		err = r.runPosix(ctx)
	default:
		err = r.runSystemV(ctx)
	}

	if r.recorder != nil {
		if cerr := r.recorder.Close(); cerr != nil {
			log.Errorf("stop recorder: %v", cerr)
			err = errors.Join(err, cerr)
		}
	}

	m := r.metrics
	fmt.Fprintf(stdout, "frames=%d bytes=%d empty=%d errors=%d\n",
		m.FramesRead.Load(), m.BytesRead.Load(), m.EmptyReads.Load(), m.ReadErrors.Load())

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("%v", err)
		return exitError
	}

	return exitOK
}

type reader struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	recorder *recorder.Recorder
	out      io.Writer
}

func (r *reader) serveMetrics(ctx context.Context) {
	log.Infof("metrics on %s", r.cfg.MetricsAddr)

	if err := r.metrics.Serve(ctx, r.cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("metrics server: %v", err)
	}
}

// runPosix reads after each notification from the camera service.
func (r *reader) runPosix(ctx context.Context) error {
	handle := r.cfg.Key
	if r.cfg.Handle != 0 {
		handle = r.cfg.Handle
	}

	w := r.cfg.Wait

	cb, err := camerabuffer.New(r.cfg.Identifier, camerabuffer.Options{
		SocketPath: r.cfg.SocketPath,
		Policy: ringbuffer.WaitPolicy{
			Timeout:     w.Timeout.Duration,
			OuterCycles: w.OuterCycles,
			ReadRetries: w.ReadRetries,
			RetryDelay:  w.RetryDelay.Duration,
		},
		Observer:     r.metrics,
		WaitObserver: r.metrics,
	})
	if err != nil {
		return err
	}

	if err := cb.Open(ctx, handle); err != nil {
		return fmt.Errorf("failed to open camera buffer for handle %d: %w", handle, err)
	}
	defer cb.Close()

	log.Infof("reading posix handle %d as %s", handle, cb.Name())

	for ctx.Err() == nil {
		start := time.Now()

		frame, err := cb.ReadFrame(ctx)
		if err != nil {
			if stop, err := r.readFailed(ctx, err); stop {
				return err
			}

			continue
		}

		r.metrics.UpdateReadLatency(start)
		r.frame(frame)
	}

	return ctx.Err()
}

// runSystemV polls the keyed segment every poll interval.
func (r *reader) runSystemV(ctx context.Context) error {
	rb, err := ringbuffer.New(ringbuffer.SystemV, ringbuffer.Options{Observer: r.metrics})
	if err != nil {
		return err
	}

	if err := rb.Open(r.cfg.Key); err != nil {
		return fmt.Errorf("failed to open shared memory for key %d: %w", r.cfg.Key, err)
	}
	defer rb.Close()

	log.Infof("reading systemv key %d every %s", r.cfg.Key, r.cfg.PollInterval)

	ticker := time.NewTicker(r.cfg.PollInterval.Duration)
	defer ticker.Stop()

	lastSlot := -1

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, err := rb.ReadFrame()
		if err != nil {
			if stop, err := r.readFailed(ctx, err); stop {
				return err
			}

			continue
		}

		// The writer has not moved on since the last tick.
		if frame.Slot == lastSlot {
			continue
		}

		lastSlot = frame.Slot
		r.frame(frame)
	}
}

// readFailed reports a failed read and decides whether the loop ends.
func (r *reader) readFailed(ctx context.Context, err error) (bool, error) {
	switch {
	case ctx.Err() != nil:
		return true, ctx.Err()
	case errors.Is(err, ringbuffer.ErrTerminated):
		log.Infof("writer terminated the buffer")
		return true, nil
	case errors.Is(err, ringbuffer.ErrClosed):
		return true, err
	case errors.Is(err, ringbuffer.ErrNoData):
		r.metrics.EmptyReads.Add(1)
		fmt.Fprintln(r.out, "buffer is not obtained")
	default:
		log.Warnf("error while reading data: %v", err)
	}

	return false, nil
}

func (r *reader) frame(f types.Frame) {
	fmt.Fprintf(r.out, "read data size %d\n", len(f.Data))
	log.Debugf("seq=%d slot=%d meta=%d extra=%d", f.Seq, f.Slot, len(f.Meta), len(f.Extra))

	if r.recorder != nil {
		r.recorder.SendFrame(f)
	}
}
