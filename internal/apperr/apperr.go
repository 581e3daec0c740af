package apperr

import "errors"

// Sentinel errors shared across the backend. Handlers map these onto HTTP
// status codes; bus-facing code logs them and moves on.
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
	ErrTransient  = errors.New("transient failure")
)
