package server

import (
	"net/http"

	"github.com/jonathan/ciencia/internal/types"
)

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	pipelines, err := s.deps.Store.ListPipelines(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if pipelines == nil {
		pipelines = []types.Pipeline{}
	}
	s.jsonResponse(w, http.StatusOK, pipelines)
}

// handleCreatePipeline creates a draft pipeline; an empty script gets the template
func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req types.CreatePipelineRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	pipeline, err := s.deps.Store.CreatePipeline(r.Context(), projectID, req.Name, req.Script)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, pipeline)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	pipeline, err := s.deps.Store.GetPipeline(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, pipeline)
}

// handleSavePipeline replaces the script and/or renames the pipeline. A
// non-zero version makes the script save conditional and a stale version
// answers 409 before any rename happens.
func (s *Server) handleSavePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req types.SavePipelineRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var pipeline *types.Pipeline
	if req.Script != nil {
		if pipeline, err = s.deps.Store.SavePipeline(r.Context(), id, *req.Script, req.Version); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.Name != "" {
		if pipeline, err = s.deps.Store.RenamePipeline(r.Context(), id, req.Name); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, pipeline)
}

// handleExecutePipeline hands the persisted script to the execution engine.
// The body is optional.
func (s *Server) handleExecutePipeline(w http.ResponseWriter, r *http.Request) {
	if s.deps.Executor == nil {
		s.writeError(w, r, &ErrNotConfigured{Component: "execution"})
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req types.ExecuteRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	accepted, err := s.deps.Executor.Execute(r.Context(), id, req.Params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, accepted)
}
