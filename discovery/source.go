package discovery

import "context"

// Source is one discovery backend. Implementations live in their own
// packages (static, consul, etcd, redis) and are never subclassed.
type Source interface {
	// Name identifies the source in logs, metrics and StatefulInstance.Source.
	Name() string

	// Enabled reports whether the source serves (application, service).
	Enabled(application, service string) bool

	// FindServiceInstances returns the full current list for the key. An
	// empty result is valid; an error means the source could not answer.
	FindServiceInstances(ctx context.Context, application, service string) ([]Instance, error)
}

// InstanceChangedListener receives the full current list a push-capable
// source observed for (application, service).
type InstanceChangedListener func(source, application, service string, instances []Instance)

// Notifier is implemented by sources that push changes.
type Notifier interface {
	SetInstanceChangedListener(listener InstanceChangedListener)
}
