// Package gateway defines the failure taxonomy shared by the generation and
// execution gateways.
package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies why a backend call failed
type Kind string

const (
	// BackendUnavailable is a network or transport failure
	BackendUnavailable Kind = "backend_unavailable"
	// BackendRejected is a non-success response from the backend
	BackendRejected Kind = "backend_rejected"
	// MalformedResponse is a response that lacks an expected field
	MalformedResponse Kind = "malformed_response"
)

// ErrInputRejected is returned when local input is empty or invalid; the backend
// is never contacted.
var ErrInputRejected = errors.New("input rejected")

// Failure is a backend call failure
type Failure struct {
	Op         string // generate, chat, review, execute
	Kind       Kind
	StatusCode int    // HTTP status when the backend answered, 0 otherwise
	Message    string // human-readable detail
	RunID      string // set by execute when a run identifier was already issued
	Err        error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Op, f.Kind)
	if f.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", f.StatusCode)
	}
	if f.Message != "" {
		msg += ": " + f.Message
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Unavailable builds a BackendUnavailable failure
func Unavailable(op string, err error) *Failure {
	return &Failure{Op: op, Kind: BackendUnavailable, Err: err}
}

// Rejected builds a BackendRejected failure
func Rejected(op string, statusCode int, message string) *Failure {
	return &Failure{Op: op, Kind: BackendRejected, StatusCode: statusCode, Message: message}
}

// Malformed builds a MalformedResponse failure
func Malformed(op, message string) *Failure {
	return &Failure{Op: op, Kind: MalformedResponse, Message: message}
}

// AsFailure extracts a Failure from an error chain
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf returns the failure kind of err, or "" if err is not a Failure
func KindOf(err error) Kind {
	if f, ok := AsFailure(err); ok {
		return f.Kind
	}
	return ""
}

// UserMessage renders err as a message suitable for an assistant conversation turn
func UserMessage(err error) string {
	f, ok := AsFailure(err)
	if !ok {
		return "Something went wrong: " + err.Error()
	}

	var msg string
	switch f.Kind {
	case BackendUnavailable:
		msg = "The backend could not be reached. Check that it is running and try again."
	case BackendRejected:
		msg = "The backend rejected the request."
	case MalformedResponse:
		msg = "The backend returned an incomplete response. Try rephrasing the request."
	default:
		msg = "The request failed."
	}
	if f.Message != "" {
		msg += " (" + f.Message + ")"
	}
	return msg
}
