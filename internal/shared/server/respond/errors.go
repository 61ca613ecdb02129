package respond

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"filevault/internal/shared/apperr"
	"filevault/internal/shared/telemetry"
)

// ErrorBody defines the standardized error object.
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error sends a standardized error response.
func Error(c *gin.Context, status int, code, message string, details interface{}) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	telemetry.Error("http.error", fields)

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// FromError maps an apperr kind to a status and writes the envelope.
// Store failures are logged with their cause and surfaced as a generic 500.
func FromError(c *gin.Context, err error) {
	status, code, message := Classify(err)
	if status == http.StatusInternalServerError {
		telemetry.Error("http.internal_error", map[string]any{
			"request_id": c.GetString("requestId"),
			"path":       c.Request.URL.Path,
			"error":      err.Error(),
		})
	}
	Error(c, status, code, message, nil)
}

// Classify returns the HTTP status, error code and client-safe message for err.
func Classify(err error) (int, string, string) {
	msg := apperr.Message(err)
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, "validation_error", fallback(msg, "Invalid request")
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusBadRequest, "conflict", fallback(msg, "Already exists")
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "missing or invalid token"
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, "forbidden", "Access denied"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found", fallback(msg, "Not found")
	default:
		return http.StatusInternalServerError, "internal", "Internal server error"
	}
}

func fallback(msg, def string) string {
	if msg == "" {
		return def
	}
	return msg
}
