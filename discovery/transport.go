package discovery

import (
	"net/url"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kbukum/registrykit/versioned"
)

// Endpoint is one address an available instance listens on.
type Endpoint struct {
	// URI is the endpoint as registered, e.g. "rest://10.0.0.1:8080?sslEnabled=false".
	URI string
	// Scheme is the transport scheme, e.g. "rest" or "highway".
	Scheme string
	// Address is host:port.
	Address string
	// Query holds the URI query parameters.
	Query url.Values
	// Instance is the wrapper the endpoint belongs to.
	Instance *StatefulInstance
}

// TransportIndex groups the endpoints of available instances by scheme.
// Only instances that are CURRENT, UP and not isolated are included.
type TransportIndex struct {
	byScheme map[string][]Endpoint
	schemes  []string
	// validUntil is the earliest isolation deadline that had not passed at
	// build time; the index must be rebuilt once it passes.
	validUntil time.Time
}

// BuildTransportIndex derives the index from set as of now.
func BuildTransportIndex(set *InstanceSet, now time.Time) *TransportIndex {
	idx := &TransportIndex{byScheme: make(map[string][]Endpoint)}
	for _, w := range set.All() {
		if until := w.IsolatedUntil(); until.After(now) && (idx.validUntil.IsZero() || until.Before(idx.validUntil)) {
			idx.validUntil = until
		}
		if !w.IsAvailableAt(now) {
			continue
		}
		for _, raw := range w.Instance().Endpoints {
			u, err := url.Parse(raw)
			if err != nil || u.Scheme == "" || u.Host == "" {
				continue
			}
			idx.byScheme[u.Scheme] = append(idx.byScheme[u.Scheme], Endpoint{
				URI:      raw,
				Scheme:   u.Scheme,
				Address:  u.Host,
				Query:    u.Query(),
				Instance: w,
			})
		}
	}
	for scheme := range idx.byScheme {
		idx.schemes = append(idx.schemes, scheme)
	}
	sort.Strings(idx.schemes)
	return idx
}

// Endpoints returns the endpoints for scheme. The slice must not be modified.
func (t *TransportIndex) Endpoints(scheme string) []Endpoint {
	return t.byScheme[scheme]
}

// Schemes returns the schemes present, sorted.
func (t *TransportIndex) Schemes() []string {
	return t.schemes
}

// Len returns the total number of endpoints.
func (t *TransportIndex) Len() int {
	n := 0
	for _, eps := range t.byScheme {
		n += len(eps)
	}
	return n
}

// Expired reports whether an isolation deadline inside the index has passed.
func (t *TransportIndex) Expired(now time.Time) bool {
	return !t.validUntil.IsZero() && !now.Before(t.validUntil)
}

// Fingerprint implements versioned.Fingerprinter so equal indexes share a version.
func (t *TransportIndex) Fingerprint(d *xxhash.Digest) {
	for _, scheme := range t.schemes {
		versioned.WriteParts(d, scheme)
		for _, ep := range t.byScheme[scheme] {
			versioned.WriteParts(d, ep.Instance.ID(), ep.URI)
		}
	}
}
