// Package server provides the HTTP REST API for the pipeline workspace.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/ciencia/internal/server/middleware"
	"github.com/jonathan/ciencia/internal/server/ratelimit"
	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/types"
	"golang.org/x/sync/errgroup"
)

// Assistant is the generation gateway as seen by the chat routes
type Assistant interface {
	Generate(ctx context.Context, description string, history []types.Turn) (*types.GeneratedScript, error)
	Reply(ctx context.Context, message string, history []types.Turn) (string, error)
	Review(ctx context.Context, script string) (*types.ScriptReview, error)
}

// Executor is the execution gateway
type Executor interface {
	Execute(ctx context.Context, pipelineID uuid.UUID, params map[string]any) (*types.RunAccepted, error)
}

// StructureLookup resolves genes and AlphaFold predictions
type StructureLookup interface {
	SearchGene(ctx context.Context, gene string) ([]types.ProteinHit, error)
	Prediction(ctx context.Context, uniprotID string) (*types.StructurePrediction, error)
}

// Deps are the backends the routes call. Only Store is required; routes whose
// backend is nil answer 503.
type Deps struct {
	Store      store.Store
	Assistant  Assistant
	Executor   Executor
	Structures StructureLookup
}

// Config holds server configuration
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
	RateLimit       *ratelimit.Config // nil uses ratelimit.DefaultConfig
	JWT             *JWTService       // nil disables authentication
}

// Server represents the HTTP server
type Server struct {
	httpServer      *http.Server
	deps            Deps
	rateLimiter     *ratelimit.Limiter
	jwtService      *JWTService
	shutdownTimeout time.Duration
}

// maxBodyBytes bounds request bodies; scripts are the largest payloads.
const maxBodyBytes = 4 << 20

// New creates a new server instance
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("server requires a store")
	}

	s := &Server{
		deps:            deps,
		rateLimiter:     ratelimit.NewLimiter(cfg.RateLimit),
		jwtService:      cfg.JWT,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 30 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /projects", s.handleListProjects)
	mux.HandleFunc("POST /projects", s.handleCreateProject)
	mux.HandleFunc("GET /projects/{id}", s.handleGetProject)
	mux.HandleFunc("DELETE /projects/{id}", s.handleDeleteProject)
	mux.HandleFunc("GET /projects/{id}/pipelines", s.handleListPipelines)
	mux.HandleFunc("POST /projects/{id}/pipelines", s.handleCreatePipeline)

	mux.HandleFunc("GET /pipelines/{id}", s.handleGetPipeline)
	mux.HandleFunc("PUT /pipelines/{id}", s.handleSavePipeline)
	mux.HandleFunc("POST /pipelines/{id}/execute", s.handleExecutePipeline)
	mux.HandleFunc("GET /pipelines/{id}/runs", s.handleListRuns)
	mux.HandleFunc("POST /pipelines/{id}/runs", s.handleRecordRun)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)

	mux.HandleFunc("POST /chat/message", s.handleChatMessage)
	mux.HandleFunc("POST /chat/generate-pipeline", s.handleGeneratePipeline)
	mux.HandleFunc("POST /chat/validate-script", s.handleValidateScript)

	mux.HandleFunc("POST /alphafold/search", s.handleStructureSearch)
	mux.HandleFunc("POST /alphafold/prediction", s.handleStructurePrediction)

	var handler http.Handler = mux
	if s.jwtService != nil {
		handler = middleware.AuthMiddleware(s.jwtService.AsTokenValidator(), "/health")(handler)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withRateLimit(s.withLogging(s.withCORS(handler))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // generation calls can be slow
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.rateLimiter.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[server] listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("[server] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	log.Println("[server] stopped")
	return err
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[%s] %s %d in %v", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(extractClientID(r), r.URL.Path, r.Method)
		setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractClientID uses the IP address from RemoteAddr.
// X-Forwarded-For is ignored; it cannot be trusted without a known proxy.
func extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		secs := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = secs
		w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
	}

	log.Printf("[rate-limit] exceeded: limit=%d reset=%s", info.Limit, info.ResetTime.Format(time.RFC3339))
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[server] error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, ErrorBody{Error: message})
}

// writeError maps err to a status code and writes it
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[server] %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	s.jsonResponse(w, status, errorBody(err, status))
}

// decodeBody reads a JSON body into dst and runs its validator
func decodeBody[T interface{ Validate() error }](r *http.Request, dst T) error {
	return decode(r, dst, false)
}

// decodeOptionalBody is decodeBody for routes where an empty body means defaults
func decodeOptionalBody[T interface{ Validate() error }](r *http.Request, dst T) error {
	return decode(r, dst, true)
}

func decode[T interface{ Validate() error }](r *http.Request, dst T, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if !errors.Is(err, io.EOF) {
			return &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
		}
		if !optional {
			return &ErrValidation{Field: "body", Message: "request body is empty"}
		}
	}
	if err := dst.Validate(); err != nil {
		return validationError(err)
	}
	return nil
}

// pathID parses the {id} path value as a UUID
func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, &ErrValidation{Field: "id", Message: "must be a UUID"}
	}
	return id, nil
}
