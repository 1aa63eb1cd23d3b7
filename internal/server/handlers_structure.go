package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/jonathan/ciencia/internal/structure"
	"github.com/jonathan/ciencia/internal/types"
)

// Structure lookups answer {success:false} with 200 when nothing matched and
// 502 when the upstream database failed.

func (s *Server) handleStructureSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Structures == nil {
		s.writeError(w, r, &ErrNotConfigured{Component: "structure lookup"})
		return
	}
	var req types.StructureSearchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	hits, err := s.deps.Structures.SearchGene(r.Context(), req.GeneName)
	if err != nil {
		s.jsonResponse(w, lookupStatus(err, structure.ErrGeneNotFound), types.StructureSearchResponse{Error: err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, types.StructureSearchResponse{Success: true, Results: hits})
}

func (s *Server) handleStructurePrediction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Structures == nil {
		s.writeError(w, r, &ErrNotConfigured{Component: "structure lookup"})
		return
	}
	var req types.StructurePredictionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	prediction, err := s.deps.Structures.Prediction(r.Context(), req.UniprotID)
	if err != nil {
		s.jsonResponse(w, lookupStatus(err, structure.ErrNoPrediction), types.StructurePredictionResponse{Error: err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, types.StructurePredictionResponse{
		Success:   true,
		PDBData:   prediction.PDBData,
		Metadata:  prediction.Metadata,
		UniprotID: prediction.UniprotID,
	})
}

func lookupStatus(err, miss error) int {
	if errors.Is(err, miss) {
		return http.StatusOK
	}
	log.Printf("[structure] lookup failed: %v", err)
	return http.StatusBadGateway
}
