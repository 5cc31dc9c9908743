package main

import (
	"github.com/kbukum/registrykit/component"
	"github.com/kbukum/registrykit/discovery"
	"github.com/kbukum/registrykit/discovery/consul"
	"github.com/kbukum/registrykit/discovery/etcd"
	"github.com/kbukum/registrykit/discovery/redis"
	"github.com/kbukum/registrykit/discovery/static"
	"github.com/kbukum/registrykit/logger"
)

// source is a discovery source with a lifecycle.
type source interface {
	discovery.Source
	component.Component
}

// buildSources creates the configured sources in query order.
func buildSources(cfg SourcesConfig, log *logger.Logger) ([]source, error) {
	var out []source
	if cfg.Static != nil {
		out = append(out, static.New(*cfg.Static, log))
	}
	if cfg.Consul != nil {
		s, err := consul.New(*cfg.Consul, log)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if cfg.Etcd != nil {
		s, err := etcd.New(*cfg.Etcd, log)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if cfg.Redis != nil {
		s, err := redis.New(*cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
