package consul

import (
	"time"

	"github.com/kbukum/registrykit/errors"
	"github.com/kbukum/registrykit/security"
)

// Config holds Consul connection and query settings.
type Config struct {
	// Address is the Consul agent address (default: localhost:8500).
	Address string `yaml:"address" mapstructure:"address"`

	// Scheme is the URI scheme (http/https).
	Scheme string `yaml:"scheme" mapstructure:"scheme"`

	// Datacenter to query. Empty uses the agent's datacenter.
	Datacenter string `yaml:"datacenter" mapstructure:"datacenter"`

	// Token is the ACL token for authentication.
	Token string `yaml:"token" mapstructure:"token"`

	// Namespace for Consul Enterprise.
	Namespace string `yaml:"namespace" mapstructure:"namespace"`

	// Tag restricts results to services carrying the tag.
	Tag string `yaml:"tag" mapstructure:"tag"`

	// IncludeUnhealthy returns instances whose checks are not passing.
	// They are reported with status DOWN.
	IncludeUnhealthy bool `yaml:"include_unhealthy" mapstructure:"include_unhealthy"`

	// DisableWatch turns off blocking-query watches; the source is then
	// polled only.
	DisableWatch bool `yaml:"disable_watch" mapstructure:"disable_watch"`

	// WaitTime is the blocking query wait of a watch.
	WaitTime time.Duration `yaml:"wait_time" mapstructure:"wait_time"`

	// RetryDelay is the pause after a failed watch query.
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`

	TLS *security.TLSConfig `yaml:"tls" mapstructure:"tls"`
}

// ApplyDefaults sets sensible defaults for Config.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = "localhost:8500"
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.WaitTime == 0 {
		c.WaitTime = 30 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
}

// Validate checks if the Consul configuration is valid.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.InvalidConfig("address", "consul address is required")
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return errors.InvalidConfig("scheme", "must be 'http' or 'https', got '"+c.Scheme+"'")
	}
	if c.TLS.IsEnabled() && c.Scheme != "https" {
		return errors.InvalidConfig("tls", "TLS enabled but scheme is not https")
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	if c.WaitTime < 0 {
		return errors.InvalidConfig("wait_time", "must be non-negative")
	}
	if c.RetryDelay < 0 {
		return errors.InvalidConfig("retry_delay", "must be non-negative")
	}
	return nil
}
