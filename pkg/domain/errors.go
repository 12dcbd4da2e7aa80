package domain

import "errors"

// Common domain errors
var (
	ErrUnresolvablePath = errors.New("path cannot be resolved")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrDangerousEntry   = errors.New("dangerous capability enabled")
)

// ErrorResponse defines the standard JSON error model returned by the admin API.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}
