// Package httputil holds the JSON response helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"neurotravel/pkg/platform/sentinel"
)

// Error codes written in the "error" field of a JSON error body.
const (
	CodeBadRequest      = "bad_request"
	CodeUnauthorized    = "unauthorized"
	CodeNotFound        = "not_found"
	CodePayloadTooLarge = "payload_too_large"
	CodeUnavailable     = "service_unavailable"
	CodeInternal        = "internal_error"
)

var codeStatus = map[string]int{
	CodeBadRequest:      http.StatusBadRequest,
	CodeUnauthorized:    http.StatusUnauthorized,
	CodeNotFound:        http.StatusNotFound,
	CodePayloadTooLarge: http.StatusRequestEntityTooLarge,
	CodeUnavailable:     http.StatusServiceUnavailable,
	CodeInternal:        http.StatusInternalServerError,
}

// Error is an error that knows how it should be rendered to a client.
type Error struct {
	Code        string
	Description string
	Err         error
}

// New builds an Error with a client-facing description.
func New(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Wrap builds an Error that keeps err for logging and errors.Is.
func Wrap(err error, code, description string) *Error {
	return &Error{Code: code, Description: description, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return e.Code + ": " + e.Description
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status for the error code.
func (e *Error) Status() int {
	if status, ok := codeStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as {"error": code, "error_description": desc}.
// Internal errors never expose a description.
func WriteError(w http.ResponseWriter, err error) {
	e := toError(err)
	body := errorBody{Error: e.Code}
	if e.Code != CodeInternal {
		body.ErrorDescription = e.Description
	}
	WriteJSON(w, e.Status(), body)
}

func toError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return New(CodeNotFound, "resource not found")
	case errors.Is(err, sentinel.ErrInvalidState), errors.Is(err, sentinel.ErrRejected):
		return New(CodeBadRequest, err.Error())
	case errors.Is(err, sentinel.ErrUnavailable):
		return New(CodeUnavailable, "temporarily unavailable")
	}
	return New(CodeInternal, "")
}

// DecodeJSON reads at most limit bytes of r's body into a new T. Oversized
// bodies yield CodePayloadTooLarge, malformed ones CodeBadRequest.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (*T, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, Wrap(err, CodePayloadTooLarge, fmt.Sprintf("request body exceeds %d bytes", limit))
		}
		return nil, Wrap(err, CodeBadRequest, "invalid JSON body")
	}
	return &v, nil
}
