package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jonathan/content-pipeline/internal/audit"
	"github.com/jonathan/content-pipeline/internal/orchestrator"
	"github.com/jonathan/content-pipeline/internal/server/middleware"
	"github.com/jonathan/content-pipeline/internal/server/ratelimit"
	"github.com/jonathan/content-pipeline/internal/types"
)

// Engine is the orchestrator surface the API drives.
type Engine interface {
	Create(ctx context.Context, caller orchestrator.Caller, in orchestrator.CreateInput) (*types.Run, error)
	Approve(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID, in orchestrator.ApproveInput) error
	Reject(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID, in orchestrator.RejectInput) error
	Retry(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID, name string) (uuid.UUID, error)
	Resume(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID, from string) (*orchestrator.ResumeResult, error)
	Cancel(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID, reason string) error
	Pause(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID) error
	Continue(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID) error
	Delete(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID) error
	SetSetting(ctx context.Context, caller orchestrator.Caller, key string, value types.Value) (*types.Setting, error)
	UpdateReview(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID, step string, in orchestrator.ReviewInput) (*types.ReviewRequest, error)
	UpdateSync(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID, step string, in orchestrator.SyncInput) (*types.SyncStatus, error)

	GetRun(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID) (*types.Run, error)
	ListRuns(ctx context.Context, caller orchestrator.Caller, filters types.RunFilters) ([]types.Run, error)
	ListSteps(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID) ([]types.Step, error)
	ListAttempts(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID, name string) ([]types.Attempt, error)
	ListArtifacts(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID, name string) ([]types.Artifact, error)
	ReadArtifact(ctx context.Context, caller orchestrator.Caller, runID, artifactID uuid.UUID) (*types.Artifact, []byte, error)
	ListErrors(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID) ([]types.ErrorLogEntry, error)
	ListReviews(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID) ([]types.ReviewRequest, error)
	ListSync(ctx context.Context, caller orchestrator.Caller, runID uuid.UUID) ([]types.SyncStatus, error)
	ListSettings(ctx context.Context, caller orchestrator.Caller) ([]types.Setting, error)
	ListAudit(ctx context.Context, filters types.AuditFilters) ([]types.AuditEntry, error)
	VerifyAudit(ctx context.Context) (*audit.Report, error)
	Subscribe(runID uuid.UUID) (<-chan orchestrator.Event, func())
}

// Options configures a Server.
type Options struct {
	Port int
	// JWT enables bearer-token auth. Without it requests are identified by
	// the X-Tenant-ID and X-Actor headers, which is only meant for local use.
	JWT            *JWTService
	RateLimit      *ratelimit.Config
	MetricsHandler http.Handler
	Logger         logrus.FieldLogger
	// EventKeepAlive is the SSE comment interval. Zero means 15s.
	EventKeepAlive time.Duration
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	engine      Engine
	rateLimiter *ratelimit.Limiter
	jwtService  *JWTService
	validate    *validator.Validate
	log         logrus.FieldLogger
	keepAlive   time.Duration
}

// New creates a new server instance
func New(engine Engine, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	keepAlive := opts.EventKeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}

	s := &Server{
		engine:      engine,
		rateLimiter: ratelimit.NewLimiter(opts.RateLimit),
		jwtService:  opts.JWT,
		validate:    validator.New(),
		log:         log.WithField("component", "server"),
		keepAlive:   keepAlive,
	}
	if s.jwtService == nil {
		s.log.Warn("JWT_SECRET not set; API trusts X-Tenant-ID and X-Actor headers")
	}

	api := http.NewServeMux()

	// Run commands
	api.HandleFunc("POST /runs", s.handleCreateRun)
	api.HandleFunc("POST /runs/{id}/approve", s.handleApprove)
	api.HandleFunc("POST /runs/{id}/reject", s.handleReject)
	api.HandleFunc("POST /runs/{id}/steps/{step}/retry", s.handleRetryStep)
	api.HandleFunc("POST /runs/{id}/resume", s.handleResume)
	api.HandleFunc("POST /runs/{id}/cancel", s.handleCancel)
	api.HandleFunc("POST /runs/{id}/pause", s.handlePause)
	api.HandleFunc("POST /runs/{id}/continue", s.handleContinue)
	api.HandleFunc("DELETE /runs/{id}", s.handleDeleteRun)

	// Run queries
	api.HandleFunc("GET /runs", s.handleListRuns)
	api.HandleFunc("GET /runs/{id}", s.handleGetRun)
	api.HandleFunc("GET /runs/{id}/steps", s.handleListSteps)
	api.HandleFunc("GET /runs/{id}/steps/{step}/attempts", s.handleListAttempts)
	api.HandleFunc("GET /runs/{id}/artifacts", s.handleListArtifacts)
	api.HandleFunc("GET /runs/{id}/artifacts/{artifact_id}", s.handleGetArtifact)
	api.HandleFunc("GET /runs/{id}/errors", s.handleListErrors)
	api.HandleFunc("GET /runs/{id}/events", s.handleRunEvents)

	// Trackers and settings
	api.HandleFunc("GET /runs/{id}/reviews", s.handleListReviews)
	api.HandleFunc("PUT /runs/{id}/reviews/{step}", s.handleUpdateReview)
	api.HandleFunc("GET /runs/{id}/sync", s.handleListSync)
	api.HandleFunc("PUT /runs/{id}/sync/{step}", s.handleUpdateSync)
	api.HandleFunc("GET /settings", s.handleListSettings)
	api.HandleFunc("PUT /settings/{key}", s.handleSetSetting)

	// Audit ledger
	api.HandleFunc("GET /audit", s.handleListAudit)
	api.HandleFunc("GET /audit/verify", s.handleVerifyAudit)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleHealth)
	if opts.MetricsHandler != nil {
		root.Handle("GET /metrics", opts.MetricsHandler)
	}
	root.Handle("/", s.withAuth(s.withRateLimit(api)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.withLogging(s.withCORS(root)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.httpServer.Addr).Info("server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.rateLimiter.Stop()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.rateLimiter.Stop()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

// Close releases background resources without serving.
func (s *Server) Close() {
	s.rateLimiter.Stop()
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

// withAuth resolves the caller identity from the bearer token, or from
// headers when auth is disabled. Header identities must name an actor; one
// without a tenant is an operator.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.jwtService != nil {
		return middleware.AuthMiddleware(s.jwtService.AsTokenValidator())(next)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.Identity{
			TenantID: strings.TrimSpace(r.Header.Get("X-Tenant-ID")),
			Actor:    strings.TrimSpace(r.Header.Get("X-Actor")),
		}
		if id.Actor == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(middleware.WithIdentity(r.Context(), id)))
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)

		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, clientID, info)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Debug("request completed")
	})
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
		s.log.WithError(err).Warn("failed to encode JSON response")
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// fail maps err to a status and writes it. Internal errors are logged and
// not echoed.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		s.errorResponse(w, status, "internal error")
		return
	}
	s.errorResponse(w, status, err.Error())
}

// caller returns the orchestrator caller of an authenticated request.
func caller(r *http.Request) orchestrator.Caller {
	id, _ := middleware.GetIdentity(r)
	return orchestrator.Caller{TenantID: id.TenantID, Actor: id.Actor}
}

// requireOperator rejects tenant-scoped callers.
func requireOperator(r *http.Request) error {
	if caller(r).TenantID != "" {
		return &ErrForbidden{Reason: "operator token required"}
	}
	return nil
}

// decodeBody decodes an optional JSON body into dst and validates it.
func (s *Server) decodeBody(r *http.Request, dst any) error {
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return &ErrValidation{Field: "body", Message: err.Error()}
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func pathRunID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, &ErrValidation{Field: "id", Message: "invalid run ID"}
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &ErrValidation{Field: name, Message: "must be a non-negative integer"}
	}
	return n, nil
}

// extractClientID keys rate limits by tenant, by actor for operators, and
// by IP for anonymous requests.
func (s *Server) extractClientID(r *http.Request) string {
	if id, err := middleware.GetIdentity(r); err == nil {
		if id.TenantID != "" {
			return "tenant:" + id.TenantID
		}
		if id.Actor != "" {
			return "actor:" + id.Actor
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, clientID string, info ratelimit.Info) {
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
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	s.log.WithFields(logrus.Fields{
		"client": clientID,
		"limit":  info.Limit,
	}).Warn("rate limit exceeded")

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
