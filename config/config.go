// Package config handles shredctl.toml configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/shredctl/bridge"
	"github.com/chazu/shredctl/engine"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "shredctl.toml"

// DefaultAddr is the control server address when none is configured.
const DefaultAddr = "127.0.0.1:7800"

// Config represents a shredctl.toml file.
type Config struct {
	Engine   Engine   `toml:"engine"`
	Shutdown Shutdown `toml:"shutdown"`
	Globals  Globals  `toml:"globals"`
	Server   Server   `toml:"server"`
	Log      Log      `toml:"log"`

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-"`
}

// Engine configures the audio VM.
type Engine struct {
	SampleRate       int    `toml:"sample_rate"`
	InputChannels    int    `toml:"input_channels"`
	OutputChannels   int    `toml:"output_channels"`
	BufferFrames     int    `toml:"buffer_frames"`
	WorkingDirectory string `toml:"working_directory"`
}

// Shutdown configures teardown timing.
type Shutdown struct {
	PollInterval   Duration `toml:"poll_interval"`
	GraceDelay     Duration `toml:"grace_delay"`
	QuiesceTimeout Duration `toml:"quiesce_timeout"`
}

// Globals configures global variable access.
type Globals struct {
	DefaultReadFrames int `toml:"default_read_frames"`
}

// Server configures the control server.
type Server struct {
	Addr string `toml:"addr"`
}

// Log configures logging. An empty File logs to stderr.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Duration is a time.Duration written as a string such as "25ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	p := bridge.DefaultParams()
	return &Config{
		Engine: Engine{
			SampleRate:     p.Engine.SampleRate,
			InputChannels:  p.Engine.InputChannels,
			OutputChannels: p.Engine.OutputChannels,
			BufferFrames:   p.Engine.BufferFrames,
		},
		Shutdown: Shutdown{
			PollInterval:   Duration{p.PollInterval},
			GraceDelay:     Duration{p.GraceDelay},
			QuiesceTimeout: Duration{p.QuiesceTimeout},
		},
		Globals: Globals{DefaultReadFrames: p.ReadTimeoutFrames},
		Server:  Server{Addr: DefaultAddr},
	}
}

// Load parses shredctl.toml from the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration file at path. Keys the file omits keep
// their defaults; unknown keys are an error.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	// Relative paths are relative to the file, not the process.
	if wd := c.Engine.WorkingDirectory; wd != "" && !filepath.IsAbs(wd) {
		c.Engine.WorkingDirectory = filepath.Join(c.Dir, wd)
	}
	if f := c.Log.File; f != "" && !filepath.IsAbs(f) {
		c.Log.File = filepath.Join(c.Dir, f)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a shredctl.toml file, then
// loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("engine.sample_rate must be positive, got %d", c.Engine.SampleRate))
	}
	if c.Engine.OutputChannels <= 0 {
		errs = append(errs, fmt.Errorf("engine.output_channels must be positive, got %d", c.Engine.OutputChannels))
	}
	if c.Engine.InputChannels < 0 {
		errs = append(errs, fmt.Errorf("engine.input_channels must not be negative, got %d", c.Engine.InputChannels))
	}
	if c.Engine.BufferFrames <= 0 {
		errs = append(errs, fmt.Errorf("engine.buffer_frames must be positive, got %d", c.Engine.BufferFrames))
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"shutdown.poll_interval", c.Shutdown.PollInterval.Duration},
		{"shutdown.grace_delay", c.Shutdown.GraceDelay.Duration},
		{"shutdown.quiesce_timeout", c.Shutdown.QuiesceTimeout.Duration},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", d.key, d.val))
		}
	}
	if c.Shutdown.PollInterval.Duration == 0 {
		errs = append(errs, errors.New("shutdown.poll_interval must be positive"))
	}
	if c.Globals.DefaultReadFrames <= 0 {
		errs = append(errs, fmt.Errorf("globals.default_read_frames must be positive, got %d", c.Globals.DefaultReadFrames))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", bridge.ErrInvalidArgument, errors.Join(errs...))
	}
	return nil
}

// Params converts the configuration to coordinator parameters.
func (c *Config) Params() bridge.Params {
	return bridge.Params{
		Engine: engine.Params{
			SampleRate:       c.Engine.SampleRate,
			InputChannels:    c.Engine.InputChannels,
			OutputChannels:   c.Engine.OutputChannels,
			BufferFrames:     c.Engine.BufferFrames,
			WorkingDirectory: c.Engine.WorkingDirectory,
		},
		PollInterval:      c.Shutdown.PollInterval.Duration,
		QuiesceTimeout:    c.Shutdown.QuiesceTimeout.Duration,
		GraceDelay:        c.Shutdown.GraceDelay.Duration,
		ReadTimeoutFrames: c.Globals.DefaultReadFrames,
	}
}

// LogFile returns the log path for commonlog.Configure, nil for stderr.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	f := c.Log.File
	return &f
}
