// Package errors provides the structured error type used across registrykit.
//
// Discovery failures are classified with an ErrorCode so the manager can
// decide whether a source query is worth retrying, and so callers of the
// isolate/recover operations can tell an unknown instance apart from an
// internal fault.
package errors
