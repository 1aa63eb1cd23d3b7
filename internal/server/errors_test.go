package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/jonathan/ciencia/internal/gateway"
	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "name", Message: "required"}
	assert.Equal(t, "validation error: name - required", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", &ErrValidation{Field: "x", Message: "y"}, http.StatusBadRequest},
		{"input rejected", fmt.Errorf("generate: %w", gateway.ErrInputRejected), http.StatusBadRequest},
		{"not configured", &ErrNotConfigured{Component: "execution"}, http.StatusServiceUnavailable},
		{"store not found", store.NotFoundError(store.EntityPipeline, "p1"), http.StatusNotFound},
		{"store conflict", store.ConflictError(store.EntityPipeline, "p1", 1, 2), http.StatusConflict},
		{"store unavailable", store.UnavailableError(assert.AnError), http.StatusServiceUnavailable},
		{"wrapped store failure", fmt.Errorf("failed to save: %w", store.NotFoundError(store.EntityRun, "r")), http.StatusNotFound},
		{"backend unavailable", gateway.Unavailable("generate", assert.AnError), http.StatusServiceUnavailable},
		{"backend rejected", gateway.Rejected("chat", 400, "bad key"), http.StatusBadGateway},
		{"backend rejected not found", gateway.Rejected("execute", 404, "no pipeline"), http.StatusNotFound},
		{"malformed", gateway.Malformed("generate", "no script"), http.StatusBadGateway},
		{"unknown", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}

func TestErrorBody(t *testing.T) {
	f := gateway.Unavailable("execute", assert.AnError)
	f.RunID = "run-7"
	body := errorBody(f, HTTPStatus(f))
	assert.Equal(t, string(gateway.BackendUnavailable), body.Kind)
	assert.Equal(t, "run-7", body.RunID)

	body = errorBody(store.ConflictError(store.EntityPipeline, "p", 1, 3), http.StatusConflict)
	assert.Equal(t, string(store.Conflict), body.Kind)

	body = errorBody(assert.AnError, http.StatusInternalServerError)
	assert.Equal(t, "internal server error", body.Error)
}

func TestValidationError(t *testing.T) {
	req := &types.CreateProjectRequest{}
	err := validationError(req.Validate())

	var v *ErrValidation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "name", v.Field)
	assert.Contains(t, v.Message, "required")
}
