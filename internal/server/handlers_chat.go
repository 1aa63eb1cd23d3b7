package server

import (
	"net/http"
	"strings"

	"github.com/jonathan/ciencia/internal/types"
)

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Assistant == nil {
		s.writeError(w, r, &ErrNotConfigured{Component: "generation"})
		return
	}
	var req types.ChatRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	reply, err := s.deps.Assistant.Reply(r.Context(), req.Message, req.Context)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, types.ChatResponse{Response: reply, Success: true})
}

// handleGeneratePipeline turns a description into a script without storing it
func (s *Server) handleGeneratePipeline(w http.ResponseWriter, r *http.Request) {
	if s.deps.Assistant == nil {
		s.writeError(w, r, &ErrNotConfigured{Component: "generation"})
		return
	}
	var req types.GenerateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	description := req.Description
	if t := strings.TrimSpace(req.ExperimentType); t != "" && strings.TrimSpace(description) != "" {
		description += "\n\nExperiment type: " + t
	}

	generated, err := s.deps.Assistant.Generate(r.Context(), description, req.Context)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, types.GenerateResponse{
		Script:      generated.Script,
		Explanation: generated.Explanation,
		Success:     true,
	})
}

func (s *Server) handleValidateScript(w http.ResponseWriter, r *http.Request) {
	if s.deps.Assistant == nil {
		s.writeError(w, r, &ErrNotConfigured{Component: "generation"})
		return
	}
	var req types.ValidateScriptRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	review, err := s.deps.Assistant.Review(r.Context(), req.Script)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, review)
}
