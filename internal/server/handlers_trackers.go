package server

import (
	"net/http"

	"github.com/jonathan/content-pipeline/internal/orchestrator"
	"github.com/jonathan/content-pipeline/internal/types"
)

// ReviewUpdateRequest is the body of PUT /runs/{id}/reviews/{step}.
type ReviewUpdateRequest struct {
	Status      string `json:"status" validate:"required,oneof=pending in_progress completed closed_without_result"`
	ExternalRef string `json:"external_ref" validate:"max=512"`
	Reviewer    string `json:"reviewer" validate:"max=256"`
	Note        string `json:"note" validate:"max=4000"`
}

// SyncUpdateRequest is the body of PUT /runs/{id}/sync/{step}.
type SyncUpdateRequest struct {
	Status       string `json:"status" validate:"required,oneof=pending synced diverged local_only remote_only"`
	LocalDigest  string `json:"local_digest" validate:"omitempty,hexadecimal"`
	RemoteDigest string `json:"remote_digest" validate:"omitempty,hexadecimal"`
}

// SettingRequest is the body of PUT /settings/{key}.
type SettingRequest struct {
	Value types.Value `json:"value"`
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reviews, err := s.engine.ListReviews(r.Context(), caller(r), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if reviews == nil {
		reviews = []types.ReviewRequest{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"run_id": runID, "reviews": reviews})
}

func (s *Server) handleUpdateReview(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req ReviewUpdateRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	review, err := s.engine.UpdateReview(r.Context(), caller(r), runID, r.PathValue("step"), orchestrator.ReviewInput{
		Status:      types.ReviewStatus(req.Status),
		ExternalRef: req.ExternalRef,
		Reviewer:    req.Reviewer,
		Note:        req.Note,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, review)
}

func (s *Server) handleListSync(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	statuses, err := s.engine.ListSync(r.Context(), caller(r), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if statuses == nil {
		statuses = []types.SyncStatus{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"run_id": runID, "sync": statuses})
}

func (s *Server) handleUpdateSync(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req SyncUpdateRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	status, err := s.engine.UpdateSync(r.Context(), caller(r), runID, r.PathValue("step"), orchestrator.SyncInput{
		Status:       types.SyncState(req.Status),
		LocalDigest:  req.LocalDigest,
		RemoteDigest: req.RemoteDigest,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, status)
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.engine.ListSettings(r.Context(), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if settings == nil {
		settings = []types.Setting{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"settings": settings})
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var req SettingRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	setting, err := s.engine.SetSetting(r.Context(), caller(r), r.PathValue("key"), req.Value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, setting)
}
