// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/osa030/19watch/internal/infra/thumbnail"
)

// Environment overrides.
const (
	EnvSettingsPath = "WATCH_SETTINGS_PATH"
	EnvLogLevel     = "WATCH_LOG_LEVEL"
)

// Config represents the application configuration.
type Config struct {
	Playback     PlaybackConfig     `yaml:"playback"`
	Preview      PreviewConfig      `yaml:"preview"`
	Settings     SettingsConfig     `yaml:"settings"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Input        InputConfig        `yaml:"input"`
	Engine       EngineConfig       `yaml:"engine"`
	Log          LogConfig          `yaml:"log"`
}

// Windows where zero is meaningful are pointers, so an explicit 0 in the
// file survives default filling.

// PlaybackConfig represents playback session configuration.
type PlaybackConfig struct {
	StallGraceMs          *int     `yaml:"stall_grace_ms" default:"500" validate:"gte=0,lte=10000"`
	ResumeWriteIntervalMs int      `yaml:"resume_write_interval_ms" default:"3000" validate:"gte=100,lte=60000"`
	Qualities             []string `yaml:"qualities" default:"[\"auto\"]" validate:"min=1,dive,required"`
}

// PreviewConfig represents scrub preview configuration.
type PreviewConfig struct {
	DebounceMs       *int `yaml:"debounce_ms" default:"50" validate:"gte=0,lte=1000"`
	CaptureTimeoutMs int  `yaml:"capture_timeout_ms" default:"500" validate:"gte=50,lte=10000"`

	thumbnail.Config `yaml:",inline"`
}

// SettingsConfig represents the persistent settings store configuration.
type SettingsConfig struct {
	Path         string `yaml:"path"` // Defaults to the user config directory
	WriteDelayMs *int   `yaml:"write_delay_ms" default:"250" validate:"gte=0,lte=10000"`
}

// ConnectivityConfig represents reachability monitoring configuration.
type ConnectivityConfig struct {
	PollIntervalMs *int `yaml:"poll_interval_ms" default:"2000" validate:"gte=0,lte=60000"` // 0 disables polling
	AdvisoryTTLMs  int  `yaml:"advisory_ttl_ms" default:"3000" validate:"gte=100,lte=60000"`
}

// InputConfig represents shortcut step configuration.
type InputConfig struct {
	SkipSeconds       float64 `yaml:"skip_seconds" default:"5" validate:"gt=0"`
	SkipWindowMs      int     `yaml:"skip_window_ms" default:"1000" validate:"gt=0"`
	MaxSkipMultiplier int     `yaml:"max_skip_multiplier" default:"6" validate:"gte=1"`
	VolumeStep        float64 `yaml:"volume_step" default:"0.1" validate:"gt=0,lte=1"`
	RateStep          float64 `yaml:"rate_step" default:"0.25" validate:"gt=0"`
}

// EngineConfig selects the media engine. Settings are decoded by the engine.
type EngineConfig struct {
	Type     string         `yaml:"type" default:"mpv" validate:"oneof=mpv"`
	Settings map[string]any `yaml:"settings"`
}

// LogConfig represents logger configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"none" validate:"oneof=none stdout stderr file"`
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	File   string `yaml:"file" validate:"required_if=Output file"`
}

// Default returns the configuration used when no file is present.
func Default() (*Config, error) {
	return build(nil)
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return build(nil)
		}
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return build(data)
}

func build(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if cfg.Settings.Path == "" {
		cfg.Settings.Path = DefaultSettingsPath()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv(EnvSettingsPath); v != "" {
		c.Settings.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// DefaultSettingsPath returns the settings file location under the user
// config directory, falling back to the working directory.
func DefaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "19watch-settings.json"
	}
	return filepath.Join(dir, "19watch", "settings.json")
}

// StallGrace returns the buffering grace window.
func (c PlaybackConfig) StallGrace() time.Duration {
	return ms(lo.FromPtr(c.StallGraceMs))
}

// ResumeWriteInterval returns the periodic resume write interval.
func (c PlaybackConfig) ResumeWriteInterval() time.Duration {
	return ms(c.ResumeWriteIntervalMs)
}

// Debounce returns the pointer stability window.
func (c PreviewConfig) Debounce() time.Duration {
	return ms(lo.FromPtr(c.DebounceMs))
}

// CaptureTimeout returns the seek-and-capture deadline.
func (c PreviewConfig) CaptureTimeout() time.Duration {
	return ms(c.CaptureTimeoutMs)
}

// WriteDelay returns the debounce applied to settings writes.
func (c SettingsConfig) WriteDelay() time.Duration {
	return ms(lo.FromPtr(c.WriteDelayMs))
}

// PollInterval returns the reachability polling interval.
func (c ConnectivityConfig) PollInterval() time.Duration {
	return ms(lo.FromPtr(c.PollIntervalMs))
}

// AdvisoryTTL returns the advisory auto-dismiss delay.
func (c ConnectivityConfig) AdvisoryTTL() time.Duration {
	return ms(c.AdvisoryTTLMs)
}

// SkipWindow returns the maximum gap between accelerating skips.
func (c InputConfig) SkipWindow() time.Duration {
	return ms(c.SkipWindowMs)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
