// Package memory provides a fully in-memory store.Store. Transactions work on a
// snapshot that replaces the live state on commit, so a failed transaction leaves
// nothing behind. Safe for concurrent use; intended for tests and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/types"
)

var _ store.Store = (*Store)(nil)

type stepKey struct {
	runID uuid.UUID
	name  string
}

type settingKey struct {
	tenantID string
	key      string
}

type auditHead struct {
	seq  int64
	hash string
}

type state struct {
	runs      map[uuid.UUID]*types.Run
	steps     map[uuid.UUID]*types.Step
	stepIndex map[stepKey]uuid.UUID
	attempts  map[uuid.UUID]*types.Attempt
	artifacts map[uuid.UUID]*types.Artifact
	errorLog  []types.ErrorLogEntry
	audit     []types.AuditEntry
	head      auditHead
	reviews   map[stepKey]*types.ReviewRequest
	syncs     map[stepKey]*types.SyncStatus
	settings  map[settingKey]*types.Setting
}

func newState() *state {
	return &state{
		runs:      make(map[uuid.UUID]*types.Run),
		steps:     make(map[uuid.UUID]*types.Step),
		stepIndex: make(map[stepKey]uuid.UUID),
		attempts:  make(map[uuid.UUID]*types.Attempt),
		artifacts: make(map[uuid.UUID]*types.Artifact),
		reviews:   make(map[stepKey]*types.ReviewRequest),
		syncs:     make(map[stepKey]*types.SyncStatus),
		settings:  make(map[settingKey]*types.Setting),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.runs {
		c.runs[k] = v.Clone()
	}
	for k, v := range s.steps {
		c.steps[k] = v.Clone()
	}
	for k, v := range s.stepIndex {
		c.stepIndex[k] = v
	}
	for k, v := range s.attempts {
		c.attempts[k] = v.Clone()
	}
	for k, v := range s.artifacts {
		a := *v
		c.artifacts[k] = &a
	}
	c.errorLog = append([]types.ErrorLogEntry(nil), s.errorLog...)
	c.audit = append([]types.AuditEntry(nil), s.audit...)
	c.head = s.head
	for k, v := range s.reviews {
		r := *v
		c.reviews[k] = &r
	}
	for k, v := range s.syncs {
		sy := *v
		c.syncs[k] = &sy
	}
	for k, v := range s.settings {
		st := *v
		c.settings[k] = &st
	}
	return c
}

// Store is the in-memory store.
type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState()}
}

func (m *Store) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// InTx runs fn against a snapshot and publishes it when fn succeeds. Holding the
// store mutex for the whole transaction also serializes audit appends.
func (m *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.st.clone()
	tx := &Store{mu: m.mu, st: snapshot, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	m.st = snapshot
	return nil
}

// Ping always succeeds.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *Store) Close() {}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

// CreateRun stores a new run.
func (m *Store) CreateRun(_ context.Context, run *types.Run) error {
	defer m.lock()()
	if _, ok := m.st.runs[run.ID]; ok {
		return fmt.Errorf("run %s: %w", run.ID, store.ErrConflict)
	}
	m.st.runs[run.ID] = run.Clone()
	return nil
}

// GetRun returns a copy of the run.
func (m *Store) GetRun(_ context.Context, id uuid.UUID) (*types.Run, error) {
	defer m.lock()()
	r, ok := m.st.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	return r.Clone(), nil
}

// UpdateRun replaces the stored run.
func (m *Store) UpdateRun(_ context.Context, run *types.Run) error {
	defer m.lock()()
	if _, ok := m.st.runs[run.ID]; !ok {
		return fmt.Errorf("run %s: %w", run.ID, store.ErrNotFound)
	}
	m.st.runs[run.ID] = run.Clone()
	return nil
}

// ListRuns returns runs newest first.
func (m *Store) ListRuns(_ context.Context, filters types.RunFilters) ([]types.Run, error) {
	defer m.lock()()
	if filters.Limit <= 0 {
		filters.Limit = 50
	}
	var out []types.Run
	for _, r := range m.st.runs {
		if filters.TenantID != "" && r.TenantID != filters.TenantID {
			continue
		}
		if filters.Status != "" && r.Status != filters.Status {
			continue
		}
		out = append(out, *r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filters.Offset >= len(out) {
		return nil, nil
	}
	out = out[filters.Offset:]
	if len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

// ListRunsByStatus returns every run in one of the statuses.
func (m *Store) ListRunsByStatus(_ context.Context, statuses ...types.RunStatus) ([]types.Run, error) {
	defer m.lock()()
	want := make(map[types.RunStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []types.Run
	for _, r := range m.st.runs {
		if want[r.Status] {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteRun removes a run and everything under it.
func (m *Store) DeleteRun(_ context.Context, id uuid.UUID) error {
	defer m.lock()()
	if _, ok := m.st.runs[id]; !ok {
		return fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	var names []string
	for k := range m.st.stepIndex {
		if k.runID == id {
			names = append(names, k.name)
		}
	}
	m.deleteSteps(id, names)
	for aid, a := range m.st.artifacts {
		if a.RunID == id {
			delete(m.st.artifacts, aid)
		}
	}
	kept := m.st.errorLog[:0:0]
	for _, e := range m.st.errorLog {
		if e.RunID != id {
			kept = append(kept, e)
		}
	}
	m.st.errorLog = kept
	for k := range m.st.reviews {
		if k.runID == id {
			delete(m.st.reviews, k)
		}
	}
	for k := range m.st.syncs {
		if k.runID == id {
			delete(m.st.syncs, k)
		}
	}
	delete(m.st.runs, id)
	return nil
}

// ──────────────────────────────────────────────────
// Steps
// ──────────────────────────────────────────────────

// CreateStep stores a new step.
func (m *Store) CreateStep(_ context.Context, step *types.Step) error {
	defer m.lock()()
	if _, ok := m.st.runs[step.RunID]; !ok {
		return fmt.Errorf("run %s: %w", step.RunID, store.ErrNotFound)
	}
	key := stepKey{step.RunID, step.StepName}
	if _, ok := m.st.stepIndex[key]; ok {
		return fmt.Errorf("step %s: %w", step.StepName, store.ErrConflict)
	}
	m.st.steps[step.ID] = step.Clone()
	m.st.stepIndex[key] = step.ID
	return nil
}

// GetStep looks a step up by run and name.
func (m *Store) GetStep(_ context.Context, runID uuid.UUID, name string) (*types.Step, error) {
	defer m.lock()()
	id, ok := m.st.stepIndex[stepKey{runID, name}]
	if !ok {
		return nil, fmt.Errorf("step %s: %w", name, store.ErrNotFound)
	}
	return m.st.steps[id].Clone(), nil
}

// UpdateStep replaces the stored step.
func (m *Store) UpdateStep(_ context.Context, step *types.Step) error {
	defer m.lock()()
	if _, ok := m.st.steps[step.ID]; !ok {
		return fmt.Errorf("step %s: %w", step.StepName, store.ErrNotFound)
	}
	m.st.steps[step.ID] = step.Clone()
	return nil
}

// ListSteps returns the steps of a run in creation order.
func (m *Store) ListSteps(_ context.Context, runID uuid.UUID) ([]types.Step, error) {
	defer m.lock()()
	var out []types.Step
	for _, s := range m.st.steps {
		if s.RunID == runID {
			out = append(out, *s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].StepName < out[j].StepName
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteSteps removes the named steps with their attempts and artifacts.
func (m *Store) DeleteSteps(_ context.Context, runID uuid.UUID, names []string) (int, error) {
	defer m.lock()()
	return m.deleteSteps(runID, names), nil
}

func (m *Store) deleteSteps(runID uuid.UUID, names []string) int {
	deleted := 0
	for _, name := range names {
		key := stepKey{runID, name}
		id, ok := m.st.stepIndex[key]
		if !ok {
			continue
		}
		for aid, a := range m.st.attempts {
			if a.StepID == id {
				delete(m.st.attempts, aid)
			}
		}
		for aid, a := range m.st.artifacts {
			if a.StepID != nil && *a.StepID == id {
				delete(m.st.artifacts, aid)
				deleted++
			}
		}
		for i := range m.st.errorLog {
			if e := &m.st.errorLog[i]; e.StepID != nil && *e.StepID == id {
				e.StepID = nil
			}
		}
		delete(m.st.steps, id)
		delete(m.st.stepIndex, key)
	}
	return deleted
}

// ──────────────────────────────────────────────────
// Attempts
// ──────────────────────────────────────────────────

// CreateAttempt stores a new attempt.
func (m *Store) CreateAttempt(_ context.Context, attempt *types.Attempt) error {
	defer m.lock()()
	if _, ok := m.st.steps[attempt.StepID]; !ok {
		return fmt.Errorf("step %s: %w", attempt.StepID, store.ErrNotFound)
	}
	for _, a := range m.st.attempts {
		if a.StepID == attempt.StepID && a.AttemptNum == attempt.AttemptNum {
			return fmt.Errorf("attempt %d: %w", attempt.AttemptNum, store.ErrConflict)
		}
	}
	m.st.attempts[attempt.ID] = attempt.Clone()
	return nil
}

// GetAttempt returns a copy of the attempt.
func (m *Store) GetAttempt(_ context.Context, id uuid.UUID) (*types.Attempt, error) {
	defer m.lock()()
	a, ok := m.st.attempts[id]
	if !ok {
		return nil, fmt.Errorf("attempt %s: %w", id, store.ErrNotFound)
	}
	return a.Clone(), nil
}

// FinishAttempt finalizes a running attempt.
func (m *Store) FinishAttempt(_ context.Context, attempt *types.Attempt) error {
	defer m.lock()()
	cur, ok := m.st.attempts[attempt.ID]
	if !ok {
		return fmt.Errorf("attempt %s: %w", attempt.ID, store.ErrNotFound)
	}
	if cur.Status.Final() {
		return fmt.Errorf("attempt %s already %s: %w", attempt.ID, cur.Status, store.ErrConflict)
	}
	m.st.attempts[attempt.ID] = attempt.Clone()
	return nil
}

// ListAttempts returns the attempts of a step by attempt number.
func (m *Store) ListAttempts(_ context.Context, stepID uuid.UUID) ([]types.Attempt, error) {
	defer m.lock()()
	var out []types.Attempt
	for _, a := range m.st.attempts {
		if a.StepID == stepID {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNum < out[j].AttemptNum })
	return out, nil
}

// LatestAttempt returns the highest-numbered attempt of a step.
func (m *Store) LatestAttempt(_ context.Context, stepID uuid.UUID) (*types.Attempt, error) {
	defer m.lock()()
	var latest *types.Attempt
	for _, a := range m.st.attempts {
		if a.StepID == stepID && (latest == nil || a.AttemptNum > latest.AttemptNum) {
			latest = a
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("attempts of step %s: %w", stepID, store.ErrNotFound)
	}
	return latest.Clone(), nil
}

// ──────────────────────────────────────────────────
// Artifacts & error log
// ──────────────────────────────────────────────────

// CreateArtifact stores an artifact reference.
func (m *Store) CreateArtifact(_ context.Context, artifact *types.Artifact) error {
	defer m.lock()()
	if _, ok := m.st.runs[artifact.RunID]; !ok {
		return fmt.Errorf("run %s: %w", artifact.RunID, store.ErrNotFound)
	}
	a := *artifact
	m.st.artifacts[a.ID] = &a
	return nil
}

// ListArtifacts returns artifacts oldest first.
func (m *Store) ListArtifacts(_ context.Context, filters types.ArtifactFilters) ([]types.Artifact, error) {
	defer m.lock()()
	var out []types.Artifact
	for _, a := range m.st.artifacts {
		if filters.RunID != uuid.Nil && a.RunID != filters.RunID {
			continue
		}
		if filters.StepID != nil && (a.StepID == nil || *a.StepID != *filters.StepID) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateErrorLog appends a diagnostic record.
func (m *Store) CreateErrorLog(_ context.Context, entry *types.ErrorLogEntry) error {
	defer m.lock()()
	m.st.errorLog = append(m.st.errorLog, *entry)
	return nil
}

// ListErrorLog returns a run's error records oldest first.
func (m *Store) ListErrorLog(_ context.Context, runID uuid.UUID) ([]types.ErrorLogEntry, error) {
	defer m.lock()()
	var out []types.ErrorLogEntry
	for _, e := range m.st.errorLog {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Audit
// ──────────────────────────────────────────────────

// LockAuditHead returns the head's seq and hash. The store mutex held by InTx
// is the lock.
func (m *Store) LockAuditHead(_ context.Context) (int64, string, error) {
	defer m.lock()()
	return m.st.head.seq, m.st.head.hash, nil
}

// AuditHead returns the head's seq and hash.
func (m *Store) AuditHead(_ context.Context) (int64, string, error) {
	defer m.lock()()
	return m.st.head.seq, m.st.head.hash, nil
}

// AppendAudit appends an entry that must link to the current head.
func (m *Store) AppendAudit(_ context.Context, entry *types.AuditEntry) error {
	defer m.lock()()
	head := m.st.head
	if head.seq > 0 && entry.PrevHash != head.hash {
		return fmt.Errorf("audit entry does not link to head: %w", store.ErrConflict)
	}
	if entry.Seq != head.seq+1 {
		return fmt.Errorf("audit seq %d does not follow %d: %w", entry.Seq, head.seq, store.ErrConflict)
	}
	m.st.audit = append(m.st.audit, *entry)
	m.st.head = auditHead{seq: entry.Seq, hash: entry.EntryHash}
	return nil
}

// ListAudit returns entries in sequence order.
func (m *Store) ListAudit(_ context.Context, filters types.AuditFilters) ([]types.AuditEntry, error) {
	defer m.lock()()
	var out []types.AuditEntry
	for _, e := range m.st.audit {
		if e.Seq <= filters.AfterSeq {
			continue
		}
		if filters.ResourceType != "" && e.ResourceType != filters.ResourceType {
			continue
		}
		if filters.ResourceID != "" && e.ResourceID != filters.ResourceID {
			continue
		}
		out = append(out, e)
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Trackers & settings
// ──────────────────────────────────────────────────

// UpsertReviewRequest inserts or replaces the review for (run, step).
func (m *Store) UpsertReviewRequest(_ context.Context, review *types.ReviewRequest) error {
	defer m.lock()()
	if _, ok := m.st.runs[review.RunID]; !ok {
		return fmt.Errorf("run %s: %w", review.RunID, store.ErrNotFound)
	}
	key := stepKey{review.RunID, review.Step}
	r := *review
	if cur, ok := m.st.reviews[key]; ok {
		r.ID = cur.ID
		r.CreatedAt = cur.CreatedAt
	}
	m.st.reviews[key] = &r
	*review = r
	return nil
}

// ListReviewRequests returns a run's reviews ordered by step.
func (m *Store) ListReviewRequests(_ context.Context, runID uuid.UUID) ([]types.ReviewRequest, error) {
	defer m.lock()()
	var out []types.ReviewRequest
	for k, r := range m.st.reviews {
		if k.runID == runID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

// UpsertSyncStatus inserts or replaces the sync status for (run, step).
func (m *Store) UpsertSyncStatus(_ context.Context, status *types.SyncStatus) error {
	defer m.lock()()
	if _, ok := m.st.runs[status.RunID]; !ok {
		return fmt.Errorf("run %s: %w", status.RunID, store.ErrNotFound)
	}
	key := stepKey{status.RunID, status.Step}
	s := *status
	if cur, ok := m.st.syncs[key]; ok {
		s.ID = cur.ID
	}
	m.st.syncs[key] = &s
	*status = s
	return nil
}

// ListSyncStatus returns a run's sync rows ordered by step.
func (m *Store) ListSyncStatus(_ context.Context, runID uuid.UUID) ([]types.SyncStatus, error) {
	defer m.lock()()
	var out []types.SyncStatus
	for k, s := range m.st.syncs {
		if k.runID == runID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

// PutSetting inserts or replaces a tenant setting.
func (m *Store) PutSetting(_ context.Context, setting *types.Setting) error {
	defer m.lock()()
	s := *setting
	m.st.settings[settingKey{s.TenantID, s.Key}] = &s
	return nil
}

// ListSettings returns a tenant's settings ordered by key.
func (m *Store) ListSettings(_ context.Context, tenantID string) ([]types.Setting, error) {
	defer m.lock()()
	var out []types.Setting
	for k, s := range m.st.settings {
		if k.tenantID == tenantID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
