package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "playground/internal/errors"
)

// ErrorBody is the payload of every failed request.
type ErrorBody struct {
	Kind    string         `json:"kind"`
	Stage   string         `json:"stage,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

// writeError renders err with the status its kind maps to and records it on
// the context for the request logger. Errors that carry no kind are reported
// as internal without their text.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	appErr, ok := apperrors.As(err)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: ErrorBody{
			Kind:    string(apperrors.KindInternal),
			Message: "internal error",
		}})
		return
	}
	status := apperrors.HTTPStatus(appErr.Kind)
	message := appErr.Message
	if message == "" {
		message = string(appErr.Kind)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: ErrorBody{
		Kind:    string(appErr.Kind),
		Stage:   appErr.Stage,
		Message: message,
		Details: appErr.Details,
	}})
}

func writeValidation(c *gin.Context, format string, args ...any) {
	writeError(c, apperrors.Validation(format, args...))
}
