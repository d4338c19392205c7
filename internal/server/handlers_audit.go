package server

import (
	"net/http"

	"github.com/jonathan/content-pipeline/internal/types"
)

const defaultAuditLimit = 100

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if err := requireOperator(r); err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if limit == 0 {
		limit = defaultAuditLimit
	}
	after, err := queryInt(r, "after_seq")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	entries, err := s.engine.ListAudit(r.Context(), types.AuditFilters{
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		AfterSeq:     int64(after),
		Limit:        limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []types.AuditEntry{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	if err := requireOperator(r); err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.engine.VerifyAudit(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}
