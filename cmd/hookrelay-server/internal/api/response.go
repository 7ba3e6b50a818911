package api

import (
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gin-gonic/gin"

	"github.com/coregx/hookrelay"
)

// Error codes returned for failures that have no hookrelay code.
const (
	CodeInvalidJSON = "INVALID_JSON"
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnhealthy   = "UNHEALTHY"
)

// Response is the envelope of every API response.
type Response[T any] struct {
	Success bool        `json:"success"`
	Data    T           `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

func NewErrorResponse(message, code string) Response[any] {
	return Response[any]{Success: false, Error: message, Code: code}
}

// respondSuccess sends a success response.
func respondSuccess[T any](c *gin.Context, status int, data T) {
	c.JSON(status, NewSuccessResponse(data))
}

// respondError maps err onto a status code and error body. Internal failures
// are logged and answered with a generic message.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := hookrelay.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(status, NewErrorResponse("internal server error", CodeInternal))
		return
	}

	resp := NewErrorResponse(err.Error(), errorCode(err))

	var fields validation.Errors
	var conflict *hookrelay.ConflictError
	switch {
	case errors.As(err, &fields):
		resp.Error = "request validation failed"
		resp.Details = fields
	case errors.As(err, &conflict):
		resp.Error = "idempotency key reused with different content"
		resp.Details = gin.H{"existing_event_id": conflict.ExistingEventID}
	}
	c.JSON(status, resp)
}

func (h *Handler) respondBadJSON(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, NewErrorResponse("invalid JSON body: "+err.Error(), CodeInvalidJSON))
}

func errorCode(err error) string {
	switch {
	case hookrelay.IsValidation(err):
		return hookrelay.ErrCodeValidation
	case hookrelay.IsConflict(err):
		return hookrelay.ErrCodeConflict
	case hookrelay.IsNotFound(err):
		return hookrelay.ErrCodeNotFound
	default:
		return CodeInternal
	}
}
