package response

import (
	"net/http"

	"github.com/vatledger/engine/internal/apperror"
)

// Response represents a standard API response format
type Response struct {
	Status     string      `json:"status"`      // "success" or "error"
	StatusCode int         `json:"status_code"` // HTTP status code
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Code       string      `json:"code,omitempty"` // apperror code, when known
}

// Success returns a standard success response wrapping the data
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Error returns a standard error response wrapping the error message
func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}

// FromError builds an error response whose status follows the error's code.
func FromError(err error) Response {
	code := apperror.Code(err)
	status := StatusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	resp := Error(status, msg)
	resp.Code = code
	return resp
}

// StatusFor maps an apperror code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case apperror.ENOTFOUND:
		return http.StatusNotFound
	case apperror.EINVALID:
		return http.StatusBadRequest
	case apperror.EINVALIDSTATE, apperror.EDUPLICATE:
		return http.StatusConflict
	case apperror.ECONFIGURATION:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
