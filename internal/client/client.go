// Package client talks to a running ciencia API server. Client satisfies the
// workspace controller's Store, Generator, Replier and Executor interfaces, so
// the interactive workspace can run against a remote server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/ciencia/internal/gateway"
	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/types"
)

// Operation names used in gateway failures
const (
	OpGenerate = "generate"
	OpChat     = "chat"
	OpReview   = "review"
	OpExecute  = "execute"
)

// Client is an HTTP client for the REST API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sends token as a bearer credential on every request
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout bounds every request, including generation calls
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
	RunID      string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// errTransport marks failures that happened before any response arrived
type errTransport struct{ err error }

func (e *errTransport) Error() string { return e.err.Error() }
func (e *errTransport) Unwrap() error { return e.err }

// do sends body as JSON and decodes a 2xx response into out (when non-nil).
// Failures are *errTransport or *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &errTransport{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errTransport{err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
			RunID string `json:"run_id"`
		}
		if json.Unmarshal(data, &eb) == nil {
			apiErr.Message, apiErr.Kind, apiErr.RunID = eb.Error, eb.Kind, eb.RunID
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// storeError maps a failure to the store taxonomy: 404 NotFound, 409 Conflict,
// other 4xx Invalid, anything else Unavailable.
func storeError(err error, entity string, id any) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			f := store.NotFoundError(entity, id)
			f.Err = apiErr
			return f
		case http.StatusConflict:
			return &store.Failure{Kind: store.Conflict, Entity: entity, ID: fmt.Sprint(id), Err: apiErr}
		}
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests {
			return &store.Failure{Kind: store.Invalid, Entity: entity, ID: fmt.Sprint(id), Err: apiErr}
		}
	}
	return store.UnavailableError(err)
}

// gatewayError maps transport failures to BackendUnavailable and non-2xx
// responses to BackendRejected.
func gatewayError(op string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		f := gateway.Rejected(op, apiErr.StatusCode, apiErr.Message)
		f.RunID = apiErr.RunID
		f.Err = apiErr
		return f
	}
	var transport *errTransport
	if errors.As(err, &transport) {
		return gateway.Unavailable(op, transport.err)
	}
	return gateway.Malformed(op, err.Error())
}

// Health reports whether the server answers its health check
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) ListProjects(ctx context.Context) ([]types.Project, error) {
	var out []types.Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &out); err != nil {
		return nil, storeError(err, store.EntityProject, "")
	}
	return out, nil
}

func (c *Client) GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error) {
	var out types.Project
	if err := c.do(ctx, http.MethodGet, "/projects/"+id.String(), nil, &out); err != nil {
		return nil, storeError(err, store.EntityProject, id)
	}
	return &out, nil
}

func (c *Client) CreateProject(ctx context.Context, name, description string) (*types.Project, error) {
	var out types.Project
	req := types.CreateProjectRequest{Name: name, Description: description}
	if err := c.do(ctx, http.MethodPost, "/projects", req, &out); err != nil {
		return nil, storeError(err, store.EntityProject, "")
	}
	return &out, nil
}

func (c *Client) DeleteProject(ctx context.Context, id uuid.UUID) error {
	if err := c.do(ctx, http.MethodDelete, "/projects/"+id.String(), nil, nil); err != nil {
		return storeError(err, store.EntityProject, id)
	}
	return nil
}

func (c *Client) ListPipelines(ctx context.Context, projectID uuid.UUID) ([]types.Pipeline, error) {
	var out []types.Pipeline
	if err := c.do(ctx, http.MethodGet, "/projects/"+projectID.String()+"/pipelines", nil, &out); err != nil {
		return nil, storeError(err, store.EntityProject, projectID)
	}
	return out, nil
}

func (c *Client) GetPipeline(ctx context.Context, id uuid.UUID) (*types.Pipeline, error) {
	var out types.Pipeline
	if err := c.do(ctx, http.MethodGet, "/pipelines/"+id.String(), nil, &out); err != nil {
		return nil, storeError(err, store.EntityPipeline, id)
	}
	return &out, nil
}

func (c *Client) CreatePipeline(ctx context.Context, projectID uuid.UUID, name, script string) (*types.Pipeline, error) {
	var out types.Pipeline
	req := types.CreatePipelineRequest{Name: name, Script: script}
	if err := c.do(ctx, http.MethodPost, "/projects/"+projectID.String()+"/pipelines", req, &out); err != nil {
		return nil, storeError(err, store.EntityProject, projectID)
	}
	return &out, nil
}

func (c *Client) SavePipeline(ctx context.Context, id uuid.UUID, script string, ifVersion int64) (*types.Pipeline, error) {
	var out types.Pipeline
	req := types.SavePipelineRequest{Script: &script, Version: ifVersion}
	if err := c.do(ctx, http.MethodPut, "/pipelines/"+id.String(), req, &out); err != nil {
		return nil, storeError(err, store.EntityPipeline, id)
	}
	return &out, nil
}

func (c *Client) RenamePipeline(ctx context.Context, id uuid.UUID, name string) (*types.Pipeline, error) {
	var out types.Pipeline
	req := types.SavePipelineRequest{Name: name}
	if err := c.do(ctx, http.MethodPut, "/pipelines/"+id.String(), req, &out); err != nil {
		return nil, storeError(err, store.EntityPipeline, id)
	}
	return &out, nil
}

func (c *Client) RecordRun(ctx context.Context, run types.Run) (*types.Run, error) {
	var out types.Run
	req := types.RecordRunRequest{RunID: run.ID, Status: run.Status, StatusMessage: run.StatusMessage}
	if err := c.do(ctx, http.MethodPost, "/pipelines/"+run.PipelineID.String()+"/runs", req, &out); err != nil {
		return nil, storeError(err, store.EntityPipeline, run.PipelineID)
	}
	return &out, nil
}

func (c *Client) ListRuns(ctx context.Context, pipelineID uuid.UUID) ([]types.Run, error) {
	var out []types.Run
	if err := c.do(ctx, http.MethodGet, "/pipelines/"+pipelineID.String()+"/runs", nil, &out); err != nil {
		return nil, storeError(err, store.EntityPipeline, pipelineID)
	}
	return out, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*types.Run, error) {
	var out types.Run
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, storeError(err, store.EntityRun, id)
	}
	return &out, nil
}

// Generate asks the server for a script. Blank descriptions never leave the process.
func (c *Client) Generate(ctx context.Context, description string, history []types.Turn) (*types.GeneratedScript, error) {
	if strings.TrimSpace(description) == "" {
		return nil, gateway.ErrInputRejected
	}

	// Script is a pointer so an absent field is distinguishable from an empty one
	var out struct {
		Script      *string `json:"script"`
		Explanation string  `json:"explanation"`
	}
	req := types.GenerateRequest{Description: description, Context: history}
	if err := c.do(ctx, http.MethodPost, "/chat/generate-pipeline", req, &out); err != nil {
		return nil, gatewayError(OpGenerate, err)
	}
	if out.Script == nil || strings.TrimSpace(*out.Script) == "" {
		return nil, gateway.Malformed(OpGenerate, "response has no script")
	}
	return &types.GeneratedScript{Script: *out.Script, Explanation: out.Explanation}, nil
}

// Reply sends a chat message with the prior turns as context
func (c *Client) Reply(ctx context.Context, message string, history []types.Turn) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", gateway.ErrInputRejected
	}

	var out types.ChatResponse
	req := types.ChatRequest{Message: message, Context: history}
	if err := c.do(ctx, http.MethodPost, "/chat/message", req, &out); err != nil {
		return "", gatewayError(OpChat, err)
	}
	return out.Response, nil
}

func (c *Client) Review(ctx context.Context, script string) (*types.ScriptReview, error) {
	if strings.TrimSpace(script) == "" {
		return nil, gateway.ErrInputRejected
	}

	var out types.ScriptReview
	if err := c.do(ctx, http.MethodPost, "/chat/validate-script", types.ValidateScriptRequest{Script: script}, &out); err != nil {
		return nil, gatewayError(OpReview, err)
	}
	return &out, nil
}

// Execute starts the persisted script of pipelineID on the server
func (c *Client) Execute(ctx context.Context, pipelineID uuid.UUID, params map[string]any) (*types.RunAccepted, error) {
	var out types.RunAccepted
	req := types.ExecuteRequest{Params: params}
	if err := c.do(ctx, http.MethodPost, "/pipelines/"+pipelineID.String()+"/execute", req, &out); err != nil {
		return nil, gatewayError(OpExecute, err)
	}
	if out.RunID == "" {
		return nil, gateway.Malformed(OpExecute, "response has no run_id")
	}
	return &out, nil
}
