package generation

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"

	"github.com/jonathan/ciencia/internal/gateway"
	"github.com/jonathan/ciencia/internal/llm"
)

// classify maps an llm client error onto the gateway failure kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := gateway.AsFailure(err); ok {
		return err
	}

	switch {
	case errors.Is(err, llm.ErrMissingAPIKey):
		return gateway.Rejected(op, 0, "no API key configured")
	case errors.Is(err, llm.ErrEmptyResponse):
		return gateway.Malformed(op, "empty response")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return gateway.Unavailable(op, err)
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return withCause(gateway.Rejected(op, 0, "response blocked by the provider, try rephrasing the request"), err)
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		status := max(apiErr.HTTPCode(), 0)
		if s := apiErr.GRPCStatus(); s != nil {
			switch s.Code() {
			case codes.Unavailable, codes.DeadlineExceeded:
				return gateway.Unavailable(op, err)
			}
			return withCause(gateway.Rejected(op, status, s.Message()), err)
		}
		if retryable(status) {
			return gateway.Unavailable(op, err)
		}
		return withCause(gateway.Rejected(op, status, apiErr.Reason()), err)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if retryable(gErr.Code) {
			return gateway.Unavailable(op, err)
		}
		return withCause(gateway.Rejected(op, gErr.Code, gErr.Message), err)
	}

	return gateway.Unavailable(op, err)
}

func retryable(status int) bool {
	return status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

func withCause(f *gateway.Failure, err error) *gateway.Failure {
	f.Err = err
	return f
}
