// Package bootstrap runs registrykit components as an application.
//
// An App owns a component.Registry, starts components in registration
// order, runs OnStart/OnReady hooks, logs a summary of every component's
// description and health, and on SIGINT/SIGTERM runs OnStop hooks and
// stops the components in reverse order within a graceful timeout.
package bootstrap
