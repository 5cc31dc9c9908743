package discovery

import (
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/kbukum/registrykit/validation"
)

// Status is the lifecycle status an instance reports about itself.
type Status string

const (
	StatusUp           Status = "UP"
	StatusDown         Status = "DOWN"
	StatusStarting     Status = "STARTING"
	StatusOutOfService Status = "OUTOFSERVICE"
	StatusTesting      Status = "TESTING"
)

// Instance is one discovered endpoint set of a service as reported by a
// Source. Instances are values; once handed to the Manager they must not be
// mutated by the source.
type Instance struct {
	ID          string            `json:"instanceId"`
	Environment string            `json:"environment,omitempty"`
	Application string            `json:"application"`
	ServiceName string            `json:"serviceName"`
	Alias       string            `json:"alias,omitempty"`
	Version     string            `json:"version,omitempty"`
	Endpoints   []string          `json:"endpoints"`
	Properties  map[string]string `json:"properties,omitempty"`
	Schemas     map[string]string `json:"schemas,omitempty"`
	// Status is empty or one of the Status constants; empty means UP.
	Status Status `json:"status,omitempty"`
}

// IsUp reports whether the instance accepts traffic.
func (i Instance) IsUp() bool {
	return i.Status == "" || i.Status == StatusUp
}

// Validate checks the fields a Source must always fill in.
func (i Instance) Validate() error {
	v := validation.New()
	v.Required("instanceId", i.ID)
	v.OneOf("status", string(i.Status),
		string(StatusUp), string(StatusDown), string(StatusStarting),
		string(StatusOutOfService), string(StatusTesting))
	for idx, ep := range i.Endpoints {
		v.Endpoint(fmt.Sprintf("endpoints[%d]", idx), ep)
	}
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

// Clone returns a deep copy so that the Manager owns its snapshot data.
func (i Instance) Clone() Instance {
	i.Endpoints = slices.Clone(i.Endpoints)
	i.Properties = maps.Clone(i.Properties)
	i.Schemas = maps.Clone(i.Schemas)
	return i
}

// NewInstanceID returns a random instance id for sources whose backend
// does not assign one.
func NewInstanceID() string {
	return uuid.NewString()
}
