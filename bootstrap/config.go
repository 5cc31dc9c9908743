package bootstrap

import (
	"github.com/kbukum/registrykit/config"
)

// Config is the constraint for application configuration types. Any struct
// embedding config.ServiceConfig satisfies it through promoted methods.
//
//	type DaemonConfig struct {
//	    config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
//	    Discovery discovery.Config `yaml:"discovery" mapstructure:"discovery"`
//	}
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
