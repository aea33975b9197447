package model

import "time"

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta carries request correlation data.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail is a machine-readable error code plus a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodePaymentRequired = "PAYMENT_REQUIRED"
	ErrCodeInternalError   = "INTERNAL_ERROR"
	ErrCodeUnavailable     = "UNAVAILABLE"
)

// TriggerResponse is returned by the manual trigger endpoint.
type TriggerResponse struct {
	Status          string `json:"status"`
	TraceID         string `json:"trace_id"`
	Queue           string `json:"queue"`
	EnergyRemaining int    `json:"energy_remaining"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Postgres     string `json:"postgres"`
	PendingWakes int    `json:"pending_wakes"`
}
