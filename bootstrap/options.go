package bootstrap

import (
	"time"

	"github.com/kbukum/registrykit/logger"
)

const defaultGracefulTimeout = 15 * time.Second

// Option customises NewApp.
type Option func(*settings)

type settings struct {
	log      *logger.Logger
	graceful time.Duration
	version  string
}

// WithLogger replaces the logger that would otherwise be built from the
// config's logging section.
func WithLogger(l *logger.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithGracefulTimeout bounds the whole shutdown sequence.
func WithGracefulTimeout(d time.Duration) Option {
	return func(s *settings) { s.graceful = d }
}

// WithVersion overrides both the configured and the build version.
func WithVersion(v string) Option {
	return func(s *settings) { s.version = v }
}
