package server

import (
	"net/http"

	"github.com/jonathan/ciencia/internal/types"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	runs, err := s.deps.Store.ListRuns(r.Context(), pipelineID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []types.Run{}
	}
	s.jsonResponse(w, http.StatusOK, runs)
}

// handleRecordRun records a run issued elsewhere. Repeating a run ID returns
// the stored run unchanged.
func (s *Server) handleRecordRun(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req types.RecordRunRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	run, err := s.deps.Store.RecordRun(r.Context(), types.Run{
		ID:            req.RunID,
		PipelineID:    pipelineID,
		Status:        req.Status,
		StatusMessage: req.StatusMessage,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, run)
}

// handleGetRun returns the run's current status. Run IDs are engine-issued
// strings, not UUIDs.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.errorResponse(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	run, err := s.deps.Store.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}
