package discovery

import (
	"time"

	"github.com/kbukum/registrykit/validation"
)

// DuplicatePolicy decides which source wins when two sources report the
// same instance id for one key.
type DuplicatePolicy string

const (
	// LastWins keeps the record from the source registered last.
	LastWins DuplicatePolicy = "last_wins"
	// FirstWins keeps the record from the source registered first.
	FirstWins DuplicatePolicy = "first_wins"
)

// Config holds discovery manager settings.
type Config struct {
	// QueryTimeout bounds one refresh's source queries, retries included.
	QueryTimeout time.Duration `yaml:"query_timeout" mapstructure:"query_timeout" validate:"gt=0"`

	// PollInterval controls the refresh loop; a negative value disables polling.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// DisableEmptyProtection publishes empty results instead of keeping
	// the last non-empty snapshot.
	DisableEmptyProtection bool `yaml:"disable_empty_protection" mapstructure:"disable_empty_protection"`

	// DuplicatePolicy is "last_wins" or "first_wins".
	DuplicatePolicy DuplicatePolicy `yaml:"duplicate_policy" mapstructure:"duplicate_policy" validate:"oneof=last_wins first_wins"`

	// IsolationDuration is how long the isolation detector isolates an instance.
	IsolationDuration time.Duration `yaml:"isolation_duration" mapstructure:"isolation_duration" validate:"gt=0"`

	// IsolationFailures is the consecutive failure count that isolates an instance.
	IsolationFailures int `yaml:"isolation_failures" mapstructure:"isolation_failures" validate:"min=1"`

	// IsolationIdleTTL evicts failure tracking for instances not seen for this long.
	IsolationIdleTTL time.Duration `yaml:"isolation_idle_ttl" mapstructure:"isolation_idle_ttl" validate:"gt=0"`

	// MaxConcurrentRefresh bounds refreshes running at the same time.
	MaxConcurrentRefresh int `yaml:"max_concurrent_refresh" mapstructure:"max_concurrent_refresh" validate:"min=1"`

	// QueryAttempts is the number of attempts per source query.
	QueryAttempts int `yaml:"query_attempts" mapstructure:"query_attempts" validate:"min=1"`

	// RetryBackoff is the initial backoff between query attempts.
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff" validate:"gte=0"`
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 3 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.DuplicatePolicy == "" {
		c.DuplicatePolicy = LastWins
	}
	if c.IsolationDuration == 0 {
		c.IsolationDuration = 30 * time.Second
	}
	if c.IsolationFailures == 0 {
		c.IsolationFailures = 5
	}
	if c.IsolationIdleTTL == 0 {
		c.IsolationIdleTTL = 10 * time.Minute
	}
	if c.MaxConcurrentRefresh == 0 {
		c.MaxConcurrentRefresh = 8
	}
	if c.QueryAttempts == 0 {
		c.QueryAttempts = 1
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
}

// Validate checks the configuration with struct tags.
func (c *Config) Validate() error {
	return validation.Validate(c)
}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() Config {
	var c Config
	c.ApplyDefaults()
	return c
}
