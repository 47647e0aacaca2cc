// Package config loads settings for the camera buffer commands.
//
// Precedence, highest wins: command-line flags, the JSONC config file given
// with --config, then DefaultConfig.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/shm"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/pkg/camerabuffer"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/pkg/types"
)

var (
	// ErrConfigInvalid wraps every parse and validation failure.
	ErrConfigInvalid = errors.New("invalid config")

	// ErrConfigFileRead is returned when --config names an unreadable file.
	ErrConfigFileRead = errors.New("cannot read config file")
)

// MaxFPS bounds the synthetic writer's frame rate.
const MaxFPS = 1000

// DefaultSocketPath is where the camera service accepts descriptor requests.
const DefaultSocketPath = camerabuffer.DefaultSocketPath

// Duration is a time.Duration that reads "250ms"-style strings from JSON.
type Duration struct {
	time.Duration
}

// UnmarshalJSON accepts a Go duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}

		d.Duration = v

		return nil
	}

	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\" or integer nanoseconds: %w", err)
	}

	d.Duration = time.Duration(n)

	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// WaitConfig bounds the POSIX consumer wait loop.
type WaitConfig struct {
	Timeout     Duration `json:"timeout"`
	OuterCycles int      `json:"outer_cycles"`
	ReadRetries int      `json:"read_retries"`
	RetryDelay  Duration `json:"retry_delay"`
}

// WriterConfig is the geometry and pacing of the synthetic producer.
type WriterConfig struct {
	UnitSize  int `json:"unit_size"`
	UnitNum   int `json:"unit_num"`
	MetaSize  int `json:"meta_size"`
	ExtraSize int `json:"extra_size"`
	FPS       int `json:"fps"`
	Frames    int `json:"frames"` // 0 = until interrupted
	BaseKey   int `json:"base_key"`
	MaxKey    int `json:"max_key"`
}

// Config holds all configuration options.
type Config struct {
	Transport  string `json:"transport"`
	Key        int    `json:"key"`    // System-V key
	Handle     int    `json:"handle"` // Camera service buffer handle (POSIX)
	SocketPath string `json:"socket_path"`
	Identifier string `json:"identifier"`

	Output           string   `json:"output"`
	Snapshot         string   `json:"snapshot"`
	SnapshotInterval Duration `json:"snapshot_interval"`

	MetricsAddr  string   `json:"metrics_addr"` // empty disables the endpoint
	LogLevel     string   `json:"log_level"`
	LogColor     bool     `json:"log_color"`
	PollInterval Duration `json:"poll_interval"` // System-V read pacing

	Wait   WaitConfig   `json:"wait"`
	Writer WriterConfig `json:"writer"`

	// Source is the config file that was loaded, empty if none.
	Source string `json:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Transport:        string(types.TransportSystemV),
		SocketPath:       DefaultSocketPath,
		Identifier:       "cambuf",
		SnapshotInterval: Duration{time.Second},
		LogLevel:         "info",
		PollInterval:     Duration{33 * time.Millisecond},
		Wait: WaitConfig{
			Timeout:     Duration{time.Second},
			OuterCycles: 3,
			ReadRetries: 5,
			RetryDelay:  Duration{2 * time.Millisecond},
		},
		Writer: WriterConfig{
			UnitSize: 256 * 1024,
			UnitNum:  8,
			FPS:      30,
			BaseKey:  shm.DefaultBaseKey,
			MaxKey:   shm.DefaultMaxKey,
		},
	}
}

// Load returns DefaultConfig overlaid with the JSONC file at path. An empty
// path returns the defaults. The result is not validated.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
	}

	if err := Parse(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	cfg.Source = path

	return cfg, nil
}

// Parse decodes JSONC data on top of cfg. Unknown keys are errors.
func Parse(data []byte, cfg *Config) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return nil
}

// TransportKind returns the parsed transport.
func (c Config) TransportKind() (types.Transport, error) {
	return types.ParseTransport(c.Transport)
}

// Level returns the parsed log level.
func (c Config) Level() (logger.LogLevel, error) {
	return logger.ParseLevel(c.LogLevel)
}

// Validate checks the settings shared by both commands.
func (c Config) Validate() error {
	var errs []error

	if _, err := c.TransportKind(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	w := c.Wait
	if w.Timeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("wait.timeout %s must be positive", w.Timeout))
	}

	if w.OuterCycles < 1 {
		errs = append(errs, fmt.Errorf("wait.outer_cycles %d must be >= 1", w.OuterCycles))
	}

	if w.ReadRetries < 1 {
		errs = append(errs, fmt.Errorf("wait.read_retries %d must be >= 1", w.ReadRetries))
	}

	if w.RetryDelay.Duration < 0 {
		errs = append(errs, fmt.Errorf("wait.retry_delay %s must not be negative", w.RetryDelay))
	}

	if c.PollInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval %s must be positive", c.PollInterval))
	}

	if c.SnapshotInterval.Duration < 0 {
		errs = append(errs, fmt.Errorf("snapshot_interval %s must not be negative", c.SnapshotInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}

	return nil
}

// ValidateReader checks what the reader needs to attach.
func (c Config) ValidateReader() error {
	if err := c.Validate(); err != nil {
		return err
	}

	t, _ := c.TransportKind()

	switch t {
	case types.TransportSystemV:
		if c.Key <= 0 {
			return fmt.Errorf("%w: systemv reader needs a positive key", ErrConfigInvalid)
		}
	case types.TransportPosix:
		if c.SocketPath == "" {
			return fmt.Errorf("%w: posix reader needs socket_path", ErrConfigInvalid)
		}

		if c.Identifier == "" {
			return fmt.Errorf("%w: posix reader needs an identifier", ErrConfigInvalid)
		}
	}

	return nil
}

// ValidateWriter checks the producer geometry.
func (c Config) ValidateWriter() error {
	if err := c.Validate(); err != nil {
		return err
	}

	var errs []error

	w := c.Writer
	if w.UnitSize < 1 {
		errs = append(errs, fmt.Errorf("writer.unit_size %d must be >= 1", w.UnitSize))
	}

	if w.UnitNum < 2 {
		errs = append(errs, fmt.Errorf("writer.unit_num %d must be >= 2", w.UnitNum))
	}

	if w.MetaSize < 0 || w.ExtraSize < 0 {
		errs = append(errs, fmt.Errorf("writer.meta_size %d and extra_size %d must not be negative", w.MetaSize, w.ExtraSize))
	}

	if w.FPS < 1 || w.FPS > MaxFPS {
		errs = append(errs, fmt.Errorf("writer.fps %d must be in [1,%d]", w.FPS, MaxFPS))
	}

	if w.Frames < 0 {
		errs = append(errs, fmt.Errorf("writer.frames %d must not be negative", w.Frames))
	}

	if w.BaseKey <= 0 || w.MaxKey < w.BaseKey {
		errs = append(errs, fmt.Errorf("writer key range [%d,%d] is empty", w.BaseKey, w.MaxKey))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}

	return nil
}
