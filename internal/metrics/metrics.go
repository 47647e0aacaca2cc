package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/shm"
)

// Metrics holds all ring buffer metrics
type Metrics struct {
	// Frame counters
	FramesRead    atomic.Uint64
	BytesRead     atomic.Uint64
	FramesWritten atomic.Uint64
	BytesWritten  atomic.Uint64
	EmptyReads    atomic.Uint64 // Reads that ended with no data

	// Error counters
	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64
	Overflows   atomic.Uint64
	CorruptRead atomic.Uint64 // Bad recorded length or index
	Terminated  atomic.Uint64

	// Wait protocol
	WaitTimeouts atomic.Uint64
	ReadRetries  atomic.Uint64

	// Latency tracking
	ReadLatencyUs atomic.Uint64 // Last notification-to-frame latency in µs

	// Recording state
	RecordingFrames  atomic.Uint64
	RecordingBytes   atomic.Uint64
	RecordingDropped atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Frame metrics
	m.gauge("cambuf_frames_read_total", "Total frames read from shared memory", &m.FramesRead)
	m.gauge("cambuf_bytes_read_total", "Total bytes read from shared memory", &m.BytesRead)
	m.gauge("cambuf_frames_written_total", "Total frames written to shared memory", &m.FramesWritten)
	m.gauge("cambuf_bytes_written_total", "Total bytes written to shared memory", &m.BytesWritten)
	m.gauge("cambuf_empty_reads_total", "Reads that found no frame", &m.EmptyReads)

	// Error metrics
	m.gauge("cambuf_read_errors_total", "Total failed reads", &m.ReadErrors)
	m.gauge("cambuf_write_errors_total", "Total failed writes, overflow included", &m.WriteErrors)
	m.gauge("cambuf_overflows_total", "Writes dropped on the last slot", &m.Overflows)
	m.gauge("cambuf_corrupt_reads_total", "Reads rejected for bad length or index", &m.CorruptRead)
	m.gauge("cambuf_terminated_reads_total", "Reads refused after TERMINATE", &m.Terminated)

	// Wait protocol metrics
	m.gauge("cambuf_wait_timeouts_total", "Notification waits that timed out", &m.WaitTimeouts)
	m.gauge("cambuf_read_retries_total", "Reads repeated after a notification", &m.ReadRetries)

	// Latency metrics
	m.gauge("cambuf_read_latency_us", "Last wait-to-frame latency in microseconds", &m.ReadLatencyUs)

	// Recording metrics
	m.gauge("cambuf_recording_frames", "Total frames written to recording", &m.RecordingFrames)
	m.gauge("cambuf_recording_bytes", "Total bytes written to recording", &m.RecordingBytes)
	m.gauge("cambuf_recording_dropped", "Frames the recorder could not keep up with", &m.RecordingDropped)
}

// FrameRead counts a successful read
func (m *Metrics) FrameRead(bytes int) {
	m.FramesRead.Add(1)
	m.BytesRead.Add(uint64(bytes))
}

// FrameWritten counts a successful write
func (m *Metrics) FrameWritten(bytes int) {
	m.FramesWritten.Add(1)
	m.BytesWritten.Add(uint64(bytes))
}

// ReadFailed classifies a failed read
func (m *Metrics) ReadFailed(err error) {
	m.ReadErrors.Add(1)

	switch {
	case errors.Is(err, shm.ErrSize), errors.Is(err, shm.ErrCorrupt):
		m.CorruptRead.Add(1)
	case errors.Is(err, shm.ErrTerminated):
		m.Terminated.Add(1)
	}
}

// WriteFailed classifies a failed write
func (m *Metrics) WriteFailed(err error) {
	m.WriteErrors.Add(1)

	if errors.Is(err, shm.ErrOverflow) {
		m.Overflows.Add(1)
	}
}

// WaitTimedOut counts a notification wait that expired
func (m *Metrics) WaitTimedOut() { m.WaitTimeouts.Add(1) }

// ReadRetried counts a read repeated after a notification
func (m *Metrics) ReadRetried() { m.ReadRetries.Add(1) }

// UpdateReadLatency records the time from starting a wait to holding a frame
func (m *Metrics) UpdateReadLatency(start time.Time) {
	m.ReadLatencyUs.Store(uint64(time.Since(start).Microseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics HTTP server on addr until ctx ends
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}

		return nil
	}
}
