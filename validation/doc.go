// Package validation turns failed checks into INVALID_INPUT AppErrors.
//
// Config structs use go-playground/validator tags through Validate; field
// names in the message follow the mapstructure keys. Values without tags,
// such as instances read from a backend, use the chaining Validator.
package validation
