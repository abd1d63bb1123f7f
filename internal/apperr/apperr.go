// Package apperr defines the error taxonomy shared by every gateway operation.
//
// Each error carries a short machine code and a human-readable message. Codes
// map onto sentinel errors so callers can use errors.Is at the boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a short, stable error identifier returned to clients.
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotInitialized  Code = "NOT_INITIALIZED"
	CodeNetwork         Code = "NETWORK_ERROR"
	CodeAPI             Code = "API_ERROR"
	CodeParse           Code = "PARSE_ERROR"
	CodeUnimplemented   Code = "UNIMPLEMENTED_NATIVE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInternal        Code = "INTERNAL"
	CodeRateLimited     Code = "RATE_LIMITED"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotInitialized  = errors.New("not initialized")
	ErrNetwork         = errors.New("network failure")
	ErrAPI             = errors.New("upstream api error")
	ErrParse           = errors.New("malformed upstream response")
	ErrUnimplemented   = errors.New("not implemented")
	ErrNotFound        = errors.New("not found")
	ErrInternal        = errors.New("internal error")
	ErrRateLimited     = errors.New("rate limited")
)

var sentinels = map[Code]error{
	CodeInvalidArgument: ErrInvalidArgument,
	CodeNotInitialized:  ErrNotInitialized,
	CodeNetwork:         ErrNetwork,
	CodeAPI:             ErrAPI,
	CodeParse:           ErrParse,
	CodeUnimplemented:   ErrUnimplemented,
	CodeNotFound:        ErrNotFound,
	CodeInternal:        ErrInternal,
	CodeRateLimited:     ErrRateLimited,
}

// Error is a coded error. Err holds the lower-level cause, if any.
type Error struct {
	Code    Code
	Message string
	// Status is the upstream HTTP status for API errors.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error belonging to the code.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Code]
	return ok && sentinel == target
}

// New creates a coded error
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error around a cause
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func InvalidArgument(format string, args ...interface{}) *Error {
	return New(CodeInvalidArgument, format, args...)
}

func NotInitialized(format string, args ...interface{}) *Error {
	return New(CodeNotInitialized, format, args...)
}

// NotInitializedFor names what the caller was requesting before initialize().
// An empty purpose gives the generic message.
func NotInitializedFor(purpose string) *Error {
	if purpose == "" {
		return New(CodeNotInitialized, "Call initialize() before using the SDK.")
	}
	return New(CodeNotInitialized, "Call initialize() before requesting %s.", purpose)
}

func Unimplemented(format string, args ...interface{}) *Error {
	return New(CodeUnimplemented, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(CodeNotFound, format, args...)
}

// CodeOf returns the code of err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps a code onto the status returned by the HTTP API.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotInitialized:
		return http.StatusUnauthorized
	case CodeNetwork, CodeAPI, CodeParse:
		return http.StatusBadGateway
	case CodeUnimplemented:
		return http.StatusNotImplemented
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error payload of the HTTP API.
type Body struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// ToBody renders err for clients. Uncoded errors are reported as internal
// without leaking their text.
func ToBody(err error) (int, Body) {
	var e *Error
	if errors.As(err, &e) {
		return HTTPStatus(e.Code), Body{Code: e.Code, Message: e.Message}
	}
	return http.StatusInternalServerError, Body{Code: CodeInternal, Message: "internal server error"}
}
