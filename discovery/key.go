package discovery

import "strings"

// Key identifies the instances of one service of one application.
type Key struct {
	Application string
	Service     string
}

// NewKey returns the key for (application, service). A service written as
// "app:service" addresses a service of another application and overrides
// application.
func NewKey(application, service string) Key {
	if app, svc, ok := strings.Cut(service, ":"); ok && app != "" && svc != "" {
		return Key{Application: app, Service: svc}
	}
	return Key{Application: application, Service: service}
}

// String returns "application/service".
func (k Key) String() string {
	return k.Application + "/" + k.Service
}

// InstanceRef addresses one instance inside a key's snapshot.
type InstanceRef struct {
	Key Key
	ID  string
}

// String returns "application/service/id".
func (r InstanceRef) String() string {
	return r.Key.String() + "/" + r.ID
}
