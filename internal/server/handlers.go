package server

import (
	"net/http"

	"github.com/jonathan/content-pipeline/internal/orchestrator"
	"github.com/jonathan/content-pipeline/internal/types"
)

// CreateRunRequest is the body of POST /runs.
type CreateRunRequest struct {
	Input  types.Value `json:"input"`
	Config types.Value `json:"config"`
}

// CreateRunResponse reports the identity of a new run.
type CreateRunResponse struct {
	RunID       string `json:"run_id"`
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}

// ApproveRequest is the body of POST /runs/{id}/approve.
type ApproveRequest struct {
	Comment string      `json:"comment" validate:"max=2000"`
	Input   types.Value `json:"input"`
}

// RejectRequest is the body of POST /runs/{id}/reject.
type RejectRequest struct {
	Reason       string            `json:"reason" validate:"max=2000"`
	Steps        []string          `json:"steps" validate:"omitempty,dive,required"`
	Instructions map[string]string `json:"instructions"`
}

// ResumeRequest is the body of POST /runs/{id}/resume.
type ResumeRequest struct {
	FromStep string `json:"from_step" validate:"required"`
}

// CancelRequest is the body of POST /runs/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

// RetryResponse carries the attempt created by a retry.
type RetryResponse struct {
	RunID     string `json:"run_id"`
	Step      string `json:"step"`
	AttemptID string `json:"attempt_id"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	run, err := s.engine.Create(r.Context(), caller(r), orchestrator.CreateInput{
		Input:  req.Input,
		Config: req.Config,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusCreated, CreateRunResponse{
		RunID:       run.ID.String(),
		ExecutionID: run.ExecutionID.String(),
		Status:      string(run.Status),
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req ApproveRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	err = s.engine.Approve(r.Context(), caller(r), runID, orchestrator.ApproveInput{
		Comment: req.Comment,
		Input:   req.Input,
	})
	s.commandResponse(w, r, err)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req RejectRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	err = s.engine.Reject(r.Context(), caller(r), runID, orchestrator.RejectInput{
		Reason:       req.Reason,
		Steps:        req.Steps,
		Instructions: req.Instructions,
	})
	s.commandResponse(w, r, err)
}

func (s *Server) handleRetryStep(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	step := r.PathValue("step")

	attemptID, err := s.engine.Retry(r.Context(), caller(r), runID, step)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusAccepted, RetryResponse{
		RunID:     runID.String(),
		Step:      step,
		AttemptID: attemptID.String(),
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req ResumeRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.engine.Resume(r.Context(), caller(r), runID, req.FromStep)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res.DeletedSteps == nil {
		res.DeletedSteps = []string{}
	}
	s.jsonResponse(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req CancelRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	s.commandResponse(w, r, s.engine.Cancel(r.Context(), caller(r), runID, req.Reason))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.commandResponse(w, r, s.engine.Pause(r.Context(), caller(r), runID))
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.commandResponse(w, r, s.engine.Continue(r.Context(), caller(r), runID))
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Delete(r.Context(), caller(r), runID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// commandResponse writes {"status":"ok"} for commands without a result.
func (s *Server) commandResponse(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
