package logger

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

var formats = []string{"json", "console"}

// Config is the logging section of a service config.
type Config struct {
	Level            string `yaml:"level" mapstructure:"level"`
	Format           string `yaml:"format" mapstructure:"format"` // json | console
	Output           string `yaml:"output" mapstructure:"output"` // stdout | stderr
	NoColor          bool   `yaml:"no_color" mapstructure:"no_color"`
	DisableTimestamp bool   `yaml:"disable_timestamp" mapstructure:"disable_timestamp"`
	Caller           bool   `yaml:"caller" mapstructure:"caller"`
	ServiceName      string `yaml:"service_name" mapstructure:"service_name"`
}

// ApplyDefaults fills empty fields.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	c.Format = strings.ToLower(c.Format)
	if c.Output == "" {
		c.Output = "stdout"
	}
}

// Validate rejects unknown levels, formats and outputs.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil || c.Level == "" {
		return fmt.Errorf("logging.level %q is not a valid level", c.Level)
	}
	if !slices.Contains(formats, c.Format) {
		return fmt.Errorf("logging.format must be one of %v (got: %s)", formats, c.Format)
	}
	switch strings.ToLower(c.Output) {
	case "stdout", "stderr":
	default:
		return fmt.Errorf("logging.output must be stdout or stderr (got: %s)", c.Output)
	}
	return nil
}
