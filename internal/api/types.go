// Package api exposes the resolver over HTTP.
package api

import "time"

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error string `json:"error"`
	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
	// Fields lists offending request fields on validation failures.
	Fields []FieldError `json:"fields,omitempty"`
}

// FieldError names one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error codes.
const (
	CodeValidation       = "VALIDATION_FAILED"
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeNotFound         = "NOT_FOUND"
	CodeDisabled         = "ENDPOINT_DISABLED"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeTimeout          = "TIMEOUT"
	CodeInternal         = "INTERNAL"
)

// TimeRangeBody bounds children, events and alerts.
type TimeRangeBody struct {
	From time.Time `json:"from" validate:"required"`
	To   time.Time `json:"to" validate:"required,gtefield=From"`
}

// TreeBody is the body of POST /tree.
type TreeBody struct {
	Nodes     []string       `json:"nodes" validate:"required,min=1,max=100,dive,entityid"`
	TimeRange *TimeRangeBody `json:"timeRange"`
}

// EventsBody is the body of POST /events.
type EventsBody struct {
	EntityIDs []string       `json:"entityIDs" validate:"required,min=1,max=100,dive,entityid"`
	TimeRange *TimeRangeBody `json:"timeRange"`
}

// pageParams are the query parameters shared by paginated routes. Limit and
// Generations are range-checked against the configured Limits.
type pageParams struct {
	Limit       int    `form:"limit"`
	Generations int    `form:"generations"`
	Cursor      string `form:"cursor" validate:"max=4096"`
}
