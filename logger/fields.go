package logger

// Field keys shared by every package.
const (
	FieldComponent   = "component"
	FieldTraceID     = "trace_id"
	FieldSpanID      = "span_id"
	FieldStatus      = "status"
	FieldError       = "error"
	FieldApplication = "application"
	FieldService     = "service"
	FieldInstanceID  = "instance_id"
	FieldSource      = "source"
	FieldVersion     = "version"
	FieldCount       = "count"
)

// F is a chainable field map.
//
//	log.Warn("source query failed", logger.KeyFields(app, svc).With(logger.FieldSource, name))
type F map[string]interface{}

// With sets key and returns f.
func (f F) With(key string, value interface{}) F {
	f[key] = value
	return f
}

// Fields builds a map from alternating keys and values. Non-string keys
// and a trailing key without a value are dropped.
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// KeyFields identifies an (application, service) key.
func KeyFields(application, service string) F {
	return F{FieldApplication: application, FieldService: service}
}

// MergeWithError sets the error field on fields, allocating when nil.
func MergeWithError(fields map[string]interface{}, err error) map[string]interface{} {
	if fields == nil {
		fields = make(map[string]interface{}, 1)
	}
	fields[FieldError] = err.Error()
	return fields
}
