package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/registrykit/config"
	"github.com/kbukum/registrykit/discovery"
	"github.com/kbukum/registrykit/discovery/consul"
	"github.com/kbukum/registrykit/discovery/etcd"
	"github.com/kbukum/registrykit/discovery/redis"
	"github.com/kbukum/registrykit/discovery/static"
)

// Config is the registryd configuration. Backend sections that are absent
// leave that source out; sources are queried in the order static, consul,
// etcd, redis.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Discovery discovery.Config `yaml:"discovery" mapstructure:"discovery"`
	Sources   SourcesConfig    `yaml:"sources" mapstructure:"sources"`

	// Watch lists keys ("app:service") loaded at startup and reported.
	Watch []string `yaml:"watch" mapstructure:"watch"`

	// ReportInterval is how often watched keys are logged; a negative value
	// logs them once at startup only.
	ReportInterval time.Duration `yaml:"report_interval" mapstructure:"report_interval"`

	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// SourcesConfig holds the optional backend sections.
type SourcesConfig struct {
	Static *static.Config `yaml:"static" mapstructure:"static"`
	Consul *consul.Config `yaml:"consul" mapstructure:"consul"`
	Etcd   *etcd.Config   `yaml:"etcd" mapstructure:"etcd"`
	Redis  *redis.Config  `yaml:"redis" mapstructure:"redis"`
}

// TelemetryConfig enables OTLP export of discovery metrics and spans.
type TelemetryConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure   bool    `yaml:"insecure" mapstructure:"insecure"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "registryd"
	}
	c.ServiceConfig.ApplyDefaults()
	c.Discovery.ApplyDefaults()
	if c.ReportInterval == 0 {
		c.ReportInterval = time.Minute
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4318"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if c.Sources.Static == nil && c.Sources.Consul == nil && c.Sources.Etcd == nil && c.Sources.Redis == nil {
		return fmt.Errorf("sources: at least one discovery source must be configured")
	}
	for _, w := range c.Watch {
		if _, ok := parseWatch(w); !ok {
			return fmt.Errorf("watch: %q is not of the form app:service", w)
		}
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be within [0, 1]")
	}
	return nil
}

func parseWatch(s string) (discovery.Key, bool) {
	app, svc, ok := strings.Cut(s, ":")
	if !ok || app == "" || svc == "" {
		return discovery.Key{}, false
	}
	return discovery.Key{Application: app, Service: svc}, true
}
