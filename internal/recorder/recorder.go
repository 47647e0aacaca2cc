package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/pkg/types"
)

var log = logger.For("Recorder")

// Options configure a Recorder
type Options struct {
	OutputPath       string        // Raw stream file, frames appended back to back
	SnapshotPath     string        // Latest frame, replaced atomically
	SnapshotInterval time.Duration // Minimum time between snapshots (0 = every frame)
	QueueSize        int           // Frames buffered between reader and disk
	Metrics          *metrics.Metrics
}

// Recorder writes frames read from a camera buffer to disk off the read path
type Recorder struct {
	mu           sync.RWMutex
	opts         Options
	file         *os.File
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	snapshots    uint64
	lastSnapshot time.Time
	startTime    time.Time
	lastErr      error
	frameChan    chan types.Frame
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// NewRecorder creates a new recorder
func NewRecorder(opts Options) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 60 // ~2 seconds at 30 fps
	}

	return &Recorder{opts: opts}
}

// Start opens the output file and starts the writer goroutine
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return errors.New("already recording")
	}

	if r.opts.OutputPath == "" && r.opts.SnapshotPath == "" {
		return errors.New("recorder needs an output or snapshot path")
	}

	if r.opts.OutputPath != "" {
		file, err := os.Create(r.opts.OutputPath)
		if err != nil {
			return fmt.Errorf("failed to create file: %w", err)
		}

		r.file = file
	}

	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.snapshots = 0
	r.lastErr = nil
	r.startTime = time.Now()
	r.frameChan = make(chan types.Frame, r.opts.QueueSize)
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.writeFrames(r.frameChan, r.stopChan)

	log.Infof("recording to %q (snapshot %q)", r.opts.OutputPath, r.opts.SnapshotPath)

	return nil
}

// Stop drains queued frames, then syncs and closes the output file
func (r *Recorder) Stop() error {
	r.mu.Lock()

	if !r.recording {
		r.mu.Unlock()
		return errors.New("not recording")
	}

	r.recording = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		if err := r.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync file: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("failed to close file: %w", err)
		}
		r.file = nil
	}

	log.Infof("stopped after %d frames, %d bytes", r.frameCount, r.bytesWritten)

	return r.lastErr
}

// SendFrame queues a frame (non-blocking). The frame must not alias shared
// memory. Returns false when not recording or the queue is full.
func (r *Recorder) SendFrame(frame types.Frame) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return false
	}

	select {
	case r.frameChan <- frame:
		return true
	default:
		if m := r.opts.Metrics; m != nil {
			m.RecordingDropped.Add(1)
		}
		return false
	}
}

func (r *Recorder) writeFrames(frames <-chan types.Frame, stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case frame := <-frames:
			r.writeFrame(frame)
		case <-stop:
			for {
				select {
				case frame := <-frames:
					r.writeFrame(frame)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeFrame(frame types.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		n, err := r.file.Write(frame.Data)
		if err != nil {
			r.lastErr = fmt.Errorf("write frame %d: %w", frame.Seq, err)
			log.Errorf("%v", r.lastErr)
			return
		}

		r.bytesWritten += uint64(n)
		r.frameCount++

		if m := r.opts.Metrics; m != nil {
			m.RecordingFrames.Add(1)
			m.RecordingBytes.Add(uint64(n))
		}
	}

	if r.opts.SnapshotPath == "" {
		return
	}

	if !r.lastSnapshot.IsZero() && time.Since(r.lastSnapshot) < r.opts.SnapshotInterval {
		return
	}

	if err := atomic.WriteFile(r.opts.SnapshotPath, bytes.NewReader(frame.Data)); err != nil {
		r.lastErr = fmt.Errorf("snapshot frame %d: %w", frame.Seq, err)
		log.Errorf("%v", r.lastErr)
		return
	}

	r.snapshots++
	r.lastSnapshot = time.Now()
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	return RecordingStatus{
		Recording:    r.recording,
		Filename:     r.opts.OutputPath,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Snapshots:    r.snapshots,
		Duration:     duration,
		StartTime:    r.startTime,
	}
}

// Close stops recording if active
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool          `json:"recording"`
	Filename     string        `json:"filename"`
	FrameCount   uint64        `json:"frame_count"`
	BytesWritten uint64        `json:"bytes_written"`
	Snapshots    uint64        `json:"snapshots"`
	Duration     time.Duration `json:"duration_ms"`
	StartTime    time.Time     `json:"start_time"`
}
