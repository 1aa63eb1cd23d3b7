package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jonathan/ciencia/internal/gateway"
	"github.com/jonathan/ciencia/internal/store"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrNotConfigured is returned by routes whose backend was not wired at startup
type ErrNotConfigured struct {
	Component string
}

func (e *ErrNotConfigured) Error() string {
	return e.Component + " is not configured on this server"
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	RunID string `json:"run_id,omitempty"`
}

// validationError converts validator output into an ErrValidation naming the first bad field.
func validationError(err error) error {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		f := fields[0]
		msg := "failed '" + f.Tag() + "'"
		if f.Param() != "" {
			msg += " (" + f.Param() + ")"
		}
		return &ErrValidation{Field: strings.ToLower(f.Field()), Message: msg}
	}
	return &ErrValidation{Field: "body", Message: err.Error()}
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var validation *ErrValidation
	var notConfigured *ErrNotConfigured
	switch {
	case errors.As(err, &validation), errors.Is(err, gateway.ErrInputRejected):
		return http.StatusBadRequest
	case errors.As(err, &notConfigured):
		return http.StatusServiceUnavailable
	}

	if f, ok := gateway.AsFailure(err); ok {
		switch {
		case f.Kind == gateway.BackendUnavailable:
			return http.StatusServiceUnavailable
		case f.Kind == gateway.BackendRejected && f.StatusCode == http.StatusNotFound:
			return http.StatusNotFound
		default:
			return http.StatusBadGateway
		}
	}

	switch store.KindOf(err) {
	case store.NotFound:
		return http.StatusNotFound
	case store.Conflict:
		return http.StatusConflict
	case store.Invalid:
		return http.StatusBadRequest
	case store.Unavailable:
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

// errorBody renders err for the client. Unclassified errors are not echoed.
func errorBody(err error, status int) ErrorBody {
	body := ErrorBody{Error: err.Error()}
	if status == http.StatusInternalServerError {
		body.Error = "internal server error"
	}
	if k := store.KindOf(err); k != "" {
		body.Kind = string(k)
	}
	if f, ok := gateway.AsFailure(err); ok {
		body.Kind = string(f.Kind)
		body.RunID = f.RunID
	}
	if errors.Is(err, gateway.ErrInputRejected) {
		body.Kind = "input_rejected"
	}
	return body
}
