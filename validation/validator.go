package validation

import (
	"net/url"
	"strings"

	"github.com/kbukum/registrykit/errors"
)

// FieldError is one failed check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator accumulates checks on values that carry no struct tags, such
// as instances decoded from a discovery backend. Methods chain:
//
//	err := validation.New().Required("instanceId", id).Endpoint("endpoints[0]", ep).Validate()
type Validator struct {
	failed []FieldError
}

func New() *Validator { return &Validator{} }

// AddError records a failure for field.
func (v *Validator) AddError(field, message string) {
	v.failed = append(v.failed, FieldError{Field: field, Message: message})
}

func (v *Validator) HasErrors() bool { return len(v.failed) > 0 }

func (v *Validator) Errors() []FieldError { return v.failed }

// Validate returns an INVALID_INPUT AppError listing every failure, or nil.
func (v *Validator) Validate() *errors.AppError {
	if len(v.failed) == 0 {
		return nil
	}
	return fieldsError(v.failed)
}

// Required fails on empty or whitespace-only values.
func (v *Validator) Required(field, value string) *Validator {
	return v.Custom(strings.TrimSpace(value) != "", field, "is required")
}

// Endpoint requires an absolute scheme://host[:port] URI.
func (v *Validator) Endpoint(field, value string) *Validator {
	u, err := url.Parse(value)
	return v.Custom(err == nil && u.Scheme != "" && u.Host != "", field, "must be a scheme://host[:port] endpoint")
}

// OneOf requires value to be one of allowed; the empty value passes.
func (v *Validator) OneOf(field, value string, allowed ...string) *Validator {
	if value == "" {
		return v
	}
	return v.Custom(getValidator().Var(value, "oneof="+strings.Join(allowed, " ")) == nil,
		field, "must be one of: "+strings.Join(allowed, ", "))
}

// Custom records message for field unless ok.
func (v *Validator) Custom(ok bool, field, message string) *Validator {
	if !ok {
		v.AddError(field, message)
	}
	return v
}

func fieldsError(fields []FieldError) *errors.AppError {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return errors.Validation(strings.Join(parts, "; ")).WithDetail("fields", fields)
}
