// Package logger wraps zerolog with map-based fields.
//
// Each discovery component logs through a child tagged with its name
// (discovery, discovery.consul, discovery.isolation, ...):
//
//	log := logger.WithComponent("discovery")
//	log.Warn("source query failed", logger.KeyFields("app", "orders").With(logger.FieldSource, "consul"))
//
// The logging section of a service config:
//
//	logging:
//	  level: info
//	  format: json
package logger
