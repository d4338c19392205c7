package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/jonathan/content-pipeline/internal/types"
)

// RunDetailResponse is a run with its steps in pipeline order.
type RunDetailResponse struct {
	Run   *types.Run   `json:"run"`
	Steps []types.Step `json:"steps"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	runs, err := s.engine.ListRuns(r.Context(), caller(r), types.RunFilters{
		Status: types.RunStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []types.Run{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	run, err := s.engine.GetRun(r.Context(), caller(r), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	steps, err := s.engine.ListSteps(r.Context(), caller(r), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if steps == nil {
		steps = []types.Step{}
	}
	s.jsonResponse(w, http.StatusOK, RunDetailResponse{Run: run, Steps: steps})
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	steps, err := s.engine.ListSteps(r.Context(), caller(r), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if steps == nil {
		steps = []types.Step{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"run_id": runID, "steps": steps})
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	step := r.PathValue("step")
	attempts, err := s.engine.ListAttempts(r.Context(), caller(r), runID, step)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []types.Attempt{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"run_id": runID, "step": step, "attempts": attempts})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	arts, err := s.engine.ListArtifacts(r.Context(), caller(r), runID, r.URL.Query().Get("step"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if arts == nil {
		arts = []types.Artifact{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"run_id": runID, "artifacts": arts})
}

// handleGetArtifact streams the stored bytes of one artifact.
func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	artifactID, err := uuid.Parse(r.PathValue("artifact_id"))
	if err != nil {
		s.fail(w, r, &ErrValidation{Field: "artifact_id", Message: "invalid artifact ID"})
		return
	}

	art, data, err := s.engine.ReadArtifact(r.Context(), caller(r), runID, artifactID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	contentType := art.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("ETag", `"`+art.Digest+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.WithError(err).WithField("artifact_id", artifactID).Warn("failed to write artifact")
	}
}

func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries, err := s.engine.ListErrors(r.Context(), caller(r), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []types.ErrorLogEntry{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"run_id": runID, "errors": entries})
}
