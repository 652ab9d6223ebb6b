package model

import "time"

// APIResponse is the standard success envelope for the HTTP surface.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail carries a machine-readable code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta is attached to every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Error codes used by the HTTP surface.
const (
	ErrCodeValidation        = "validation_error"
	ErrCodeOrderingViolation = "ordering_violation"
	ErrCodeDuplicateEvent    = "duplicate_event"
	ErrCodeCapacityExceeded  = "capacity_exceeded"
	ErrCodeNotFound          = "not_found"
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeBadRequest        = "bad_request"
	ErrCodeInternal          = "internal_error"
)
