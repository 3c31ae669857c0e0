package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-whiteboard/internal/auth"
)

const (
	CodeBadRequest     = "bad_request"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeRoomNotFound   = "room_not_found"
	CodeConflict       = "conflict"
	CodeInternalError  = "internal_error"
	CodeInvalidPayload = "invalid_payload"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
		Code:       CodeBadRequest,
	}
}

// NewInvalidPayloadError is a 400 carrying a specific validation message.
func NewInvalidPayloadError(message string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Code:       CodeInvalidPayload,
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
		Code:       CodeNotFound,
	}
}

func NewRoomNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    "room not found",
		Code:       CodeRoomNotFound,
	}
}

func NewConflictError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusConflict,
		Message:    lower(http.StatusText(http.StatusConflict)),
		Code:       CodeConflict,
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Code:       CodeInternalError,
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
		Code:       auth.CodeUnauthenticated,
	}
}

// NewAuthError describes a failed token verification. Expired tokens get
// a message containing "expired" so clients know to refresh and retry.
func NewAuthError(err error) *ApiError {
	message, code := auth.Describe(err)
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Code:       code,
		Err:        err,
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    lower(http.StatusText(http.StatusForbidden)),
		Code:       CodeForbidden,
	}
}
