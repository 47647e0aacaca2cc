package config

import (
	"fmt"
	"io"
	"time"

	flag "github.com/spf13/pflag"
)

// Flags collects command-line overrides. Only flags the user actually set
// override the config file.
type Flags struct {
	fs         *flag.FlagSet
	configPath string
	apply      map[string]func(*Config)
}

// NewFlags returns a flag set for the command name with the common flags
// (--config, --log-level, --log-color, --metrics-addr) registered.
func NewFlags(name string, output io.Writer) *Flags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.SortFlags = false

	f := &Flags{fs: fs, apply: map[string]func(*Config){}}
	def := DefaultConfig()

	fs.StringVarP(&f.configPath, "config", "c", "", "JSONC config `file`")
	fs.StringVar(bind(f, "log-level", func(c *Config) *string { return &c.LogLevel }),
		"log-level", def.LogLevel, "log level (debug, info, warn, error, silent)")
	fs.BoolVar(bind(f, "log-color", func(c *Config) *bool { return &c.LogColor }),
		"log-color", def.LogColor, "colored log levels")
	fs.StringVar(bind(f, "metrics-addr", func(c *Config) *string { return &c.MetricsAddr }),
		"metrics-addr", def.MetricsAddr, "Prometheus listen `address` (empty disables)")

	return f
}

// bind returns storage for one flag and remembers how to copy it into a
// Config when the flag is set.
func bind[T any](f *Flags, name string, field func(*Config) *T) *T {
	p := new(T)
	f.apply[name] = func(c *Config) { *field(c) = *p }

	return p
}

// AddReader registers the consumer flags.
func (f *Flags) AddReader() *Flags {
	fs, def := f.fs, DefaultConfig()

	fs.StringVarP(bind(f, "type", func(c *Config) *string { return &c.Transport }),
		"type", "t", def.Transport, "transport: posix or systemv")
	fs.IntVarP(bind(f, "key", func(c *Config) *int { return &c.Key }),
		"key", "k", def.Key, "System-V key, or camera service handle for posix")
	fs.IntVar(bind(f, "handle", func(c *Config) *int { return &c.Handle }),
		"handle", def.Handle, "camera service buffer handle (posix, overrides --key)")
	fs.StringVar(bind(f, "socket", func(c *Config) *string { return &c.SocketPath }),
		"socket", def.SocketPath, "camera service socket `path`")
	fs.StringVar(bind(f, "identifier", func(c *Config) *string { return &c.Identifier }),
		"identifier", def.Identifier, "client identifier sent to the camera service")
	fs.StringVarP(bind(f, "output", func(c *Config) *string { return &c.Output }),
		"output", "o", def.Output, "append frames to `file`")
	fs.StringVar(bind(f, "snapshot", func(c *Config) *string { return &c.Snapshot }),
		"snapshot", def.Snapshot, "atomically replace `file` with the latest frame")
	fs.DurationVar(bind(f, "snapshot-interval", func(c *Config) *time.Duration { return &c.SnapshotInterval.Duration }),
		"snapshot-interval", def.SnapshotInterval.Duration, "minimum time between snapshots")
	fs.DurationVar(bind(f, "poll-interval", func(c *Config) *time.Duration { return &c.PollInterval.Duration }),
		"poll-interval", def.PollInterval.Duration, "System-V read pacing")
	fs.DurationVar(bind(f, "wait-timeout", func(c *Config) *time.Duration { return &c.Wait.Timeout.Duration }),
		"wait-timeout", def.Wait.Timeout.Duration, "notification wait per cycle")
	fs.IntVar(bind(f, "wait-cycles", func(c *Config) *int { return &c.Wait.OuterCycles }),
		"wait-cycles", def.Wait.OuterCycles, "notification waits per read")
	fs.IntVar(bind(f, "read-retries", func(c *Config) *int { return &c.Wait.ReadRetries }),
		"read-retries", def.Wait.ReadRetries, "reads per notification")
	fs.DurationVar(bind(f, "retry-delay", func(c *Config) *time.Duration { return &c.Wait.RetryDelay.Duration }),
		"retry-delay", def.Wait.RetryDelay.Duration, "pause between reads")

	return f
}

// AddWriter registers the producer flags.
func (f *Flags) AddWriter() *Flags {
	fs, def := f.fs, DefaultConfig()

	fs.IntVar(bind(f, "unit-size", func(c *Config) *int { return &c.Writer.UnitSize }),
		"unit-size", def.Writer.UnitSize, "maximum frame bytes per slot")
	fs.IntVar(bind(f, "unit-num", func(c *Config) *int { return &c.Writer.UnitNum }),
		"unit-num", def.Writer.UnitNum, "number of slots")
	fs.IntVar(bind(f, "meta-size", func(c *Config) *int { return &c.Writer.MetaSize }),
		"meta-size", def.Writer.MetaSize, "metadata bytes per slot")
	fs.IntVar(bind(f, "extra-size", func(c *Config) *int { return &c.Writer.ExtraSize }),
		"extra-size", def.Writer.ExtraSize, "extra bytes per slot")
	fs.IntVar(bind(f, "fps", func(c *Config) *int { return &c.Writer.FPS }),
		"fps", def.Writer.FPS, "frames per second")
	fs.IntVarP(bind(f, "frames", func(c *Config) *int { return &c.Writer.Frames }),
		"frames", "n", def.Writer.Frames, "stop after n frames (0 = until interrupted)")
	fs.IntVar(bind(f, "base-key", func(c *Config) *int { return &c.Writer.BaseKey }),
		"base-key", def.Writer.BaseKey, "first System-V key to probe")
	fs.IntVar(bind(f, "max-key", func(c *Config) *int { return &c.Writer.MaxKey }),
		"max-key", def.Writer.MaxKey, "last System-V key to probe")

	return f
}

// FlagSet exposes the underlying set, e.g. for usage output.
func (f *Flags) FlagSet() *flag.FlagSet { return f.fs }

// Parse parses args, loads the config file if one was named, and applies
// the flags that were set on top.
func (f *Flags) Parse(args []string) (Config, error) {
	if err := f.fs.Parse(args); err != nil {
		return Config{}, err
	}

	if f.fs.NArg() > 0 {
		return Config{}, fmt.Errorf("%w: unexpected arguments %q", ErrConfigInvalid, f.fs.Args())
	}

	cfg, err := Load(f.configPath)
	if err != nil {
		return Config{}, err
	}

	f.fs.Visit(func(fl *flag.Flag) {
		if apply, ok := f.apply[fl.Name]; ok {
			apply(&cfg)
		}
	})

	return cfg, nil
}
