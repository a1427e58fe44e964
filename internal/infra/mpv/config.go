package mpv

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Config represents the mpv engine settings.
type Config struct {
	Path           string   `yaml:"path" mapstructure:"path" default:"mpv" validate:"required"`
	SocketDir      string   `yaml:"socket_dir" mapstructure:"socket_dir"`
	ExtraArgs      []string `yaml:"extra_args" mapstructure:"extra_args"`
	StartTimeoutMs int      `yaml:"start_timeout_ms" mapstructure:"start_timeout_ms" default:"3000" validate:"gte=100,lte=60000"`
	CloseTimeoutMs int      `yaml:"close_timeout_ms" mapstructure:"close_timeout_ms" default:"3000" validate:"gte=0,lte=60000"`
}

// StartTimeout returns the IPC socket wait limit.
func (c Config) StartTimeout() time.Duration {
	return time.Duration(c.StartTimeoutMs) * time.Millisecond
}

// CloseTimeout returns how long a quitting process may take before it is killed.
func (c Config) CloseTimeout() time.Duration {
	return time.Duration(c.CloseTimeoutMs) * time.Millisecond
}

// ParseConfig decodes free-form engine settings.
func ParseConfig(settings map[string]any) (Config, error) {
	var config Config

	// Decode map[string]any to struct using mapstructure
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &config,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(&config); err != nil {
		return Config{}, errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return Config{}, errors.Wrap(err, "validation failed")
	}
	return config, nil
}
