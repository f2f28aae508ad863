// Package config loads the framer configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/zsiec/framer/internal/codec"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "framer"

// Config is the full application configuration.
type Config struct {
	App     AppConfig     `toml:"app"`
	Input   InputConfig   `toml:"input"`
	SRT     SRTConfig     `toml:"srt"`
	API     APIConfig     `toml:"api"`
	Log     LogConfig     `toml:"log"`
	Formats FormatsConfig `toml:"formats"`
}

// Input containers.
const (
	ContainerES = "es" // raw elementary stream
	ContainerTS = "ts" // MPEG transport stream
)

// AppConfig holds the parser settings shared by every input.
type AppConfig struct {
	Format string `toml:"format"`
	// Container wraps the elementary stream in every input.
	Container      string `toml:"container"`
	CompleteFrames bool   `toml:"complete_frames"`
	MaxFrameSize   int    `toml:"max_frame_size"`
	BufferLimit    int    `toml:"buffer_limit"`
	ReadSize       int    `toml:"read_size"`
}

// InputConfig selects the file input. "-" reads stdin; empty disables it.
type InputConfig struct {
	Path string `toml:"path"`
}

// SRTConfig configures the SRT listener and pull sources.
type SRTConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	// Latency in milliseconds.
	Latency uint         `toml:"latency"`
	Pull    []PullConfig `toml:"pull"`
}

// PullConfig names a remote SRT listener to read from.
type PullConfig struct {
	Address  string `toml:"address"`
	Key      string `toml:"key"`
	StreamID string `toml:"stream_id"`
	Format   string `toml:"format"`
}

// APIConfig configures the metrics endpoint.
type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// FormatsConfig holds per-format options.
type FormatsConfig struct {
	AC3 AC3Config `toml:"ac3"`
	EVC EVCConfig `toml:"evc"`
}

type AC3Config struct {
	CheckCRC bool `toml:"check_crc"`
}

type EVCConfig struct {
	MaxUnitSize int `toml:"max_unit_size"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		App: AppConfig{
			Format:    "h264",
			Container: ContainerES,
			ReadSize:  64 << 10,
		},
		Input: InputConfig{Path: "-"},
		SRT: SRTConfig{
			Address: ":6000",
			Latency: 120,
		},
		API: APIConfig{
			Enabled: false,
			Address: ":9090",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Parse reads the first existing file from paths over the defaults. No
// existing file leaves the defaults in place.
func Parse(paths []string) (*Config, error) {
	config := Default()

	var data []byte
	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err == nil {
			slog.Info("read config", "path", path)
			data = b
			break
		}
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return nil, err
	}

	if data != nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	} else {
		slog.Info("config file not found, using defaults")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the settings that cannot be fixed up later.
func (c *Config) Validate() error {
	if codec.Canonical(c.App.Format) == "" {
		return fmt.Errorf("config: app.format: %w: %q", codec.ErrUnknownFormat, c.App.Format)
	}
	switch c.App.Container {
	case ContainerES, ContainerTS:
	default:
		return fmt.Errorf("config: app.container: unknown container %q", c.App.Container)
	}
	if c.App.Container == ContainerTS && c.App.CompleteFrames {
		return errors.New("config: app.complete_frames requires the es container")
	}
	if c.App.MaxFrameSize < 0 || c.App.BufferLimit < 0 || c.App.ReadSize < 0 {
		return errors.New("config: app sizes must not be negative")
	}
	if c.App.BufferLimit > 0 && c.App.MaxFrameSize > c.App.BufferLimit {
		return errors.New("config: app.max_frame_size exceeds app.buffer_limit")
	}
	for i, p := range c.SRT.Pull {
		if p.Address == "" || p.Key == "" {
			return fmt.Errorf("config: srt.pull[%d]: address and key are required", i)
		}
		if p.Format != "" && codec.Canonical(p.Format) == "" {
			return fmt.Errorf("config: srt.pull[%d].format: %w: %q", i, codec.ErrUnknownFormat, p.Format)
		}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// CodecOptions returns the per-format options for codec.New.
func (c *Config) CodecOptions() codec.Options {
	return codec.Options{
		AC3CheckCRC:    c.Formats.AC3.CheckCRC,
		EVCMaxUnitSize: c.Formats.EVC.MaxUnitSize,
	}
}

// SlogLevel maps the configured level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return level, nil
}
