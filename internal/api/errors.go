package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"procresolver/internal/compat"
	"procresolver/internal/resolver"
)

// statusFor maps an error to its HTTP status and response body. cursorField
// is the query parameter that carried the cursor, if any.
func statusFor(err error, cursorField string) (int, ErrorResponse) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid request", Code: CodeValidation, Fields: verr.Fields}
	case errors.Is(err, resolver.ErrInvalidCursor):
		if cursorField == "" {
			cursorField = "cursor"
		}
		return http.StatusBadRequest, ErrorResponse{
			Error:  "invalid request",
			Code:   CodeValidation,
			Fields: []FieldError{{Field: cursorField, Message: "is not a valid cursor for this query"}},
		}
	case errors.Is(err, resolver.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "entity not found", Code: CodeNotFound}
	case errors.Is(err, compat.ErrVariantDisabled):
		return http.StatusNotFound, ErrorResponse{Error: "endpoint disabled", Code: CodeDisabled}
	case errors.Is(err, resolver.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "event store unavailable", Code: CodeStoreUnavailable}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out", Code: CodeTimeout}
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "request canceled", Code: CodeTimeout}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: CodeInternal}
}

func abortWithError(c *gin.Context, err error, cursorField string) int {
	status, body := statusFor(err, cursorField)
	c.AbortWithStatusJSON(status, body)
	return status
}
