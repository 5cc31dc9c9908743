package etcd

import (
	"time"

	"github.com/kbukum/registrykit/errors"
	"github.com/kbukum/registrykit/security"
)

// Config holds etcd connection and layout settings.
type Config struct {
	// Endpoints are the etcd cluster endpoints.
	Endpoints []string `yaml:"endpoints" mapstructure:"endpoints"`

	// Username and Password enable etcd authentication.
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`

	// DialTimeout bounds the initial connection.
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`

	// Root is the key prefix of all registrations (default: /registrykit).
	Root string `yaml:"root" mapstructure:"root"`

	// Environment is the path segment after Root (default: default).
	Environment string `yaml:"environment" mapstructure:"environment"`

	// DisableWatch turns off prefix watches; the source is then polled only.
	DisableWatch bool `yaml:"disable_watch" mapstructure:"disable_watch"`

	// RetryDelay is the pause before a broken watch is re-established.
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`

	TLS *security.TLSConfig `yaml:"tls" mapstructure:"tls"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if len(c.Endpoints) == 0 {
		c.Endpoints = []string{"localhost:2379"}
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.Root == "" {
		c.Root = "/registrykit"
	}
	if c.Environment == "" {
		c.Environment = "default"
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.InvalidConfig("endpoints", "at least one etcd endpoint is required")
	}
	if c.DialTimeout < 0 {
		return errors.InvalidConfig("dial_timeout", "must be non-negative")
	}
	if (c.Username == "") != (c.Password == "") {
		return errors.InvalidConfig("username", "username and password must be set together")
	}
	return c.TLS.Validate()
}
