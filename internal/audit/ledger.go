// Package audit implements the append-only, hash-chained ledger of every mutating
// action. Each entry's hash covers the previous entry's hash and the canonical
// serialization of its own fields, so any insertion, deletion or edit of history
// breaks verification from that point on.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/types"
)

// GenesisHash is the prev_hash of the first entry.
var GenesisHash = strings.Repeat("0", 64)

// Algorithm names a supported hash function.
type Algorithm string

const (
	AlgSHA256     Algorithm = "sha256"
	AlgBLAKE2b256 Algorithm = "blake2b-256"
)

func newHash(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case AlgSHA256, "":
		return sha256.New(), nil
	case AlgBLAKE2b256:
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("unsupported audit hash algorithm: %q", alg)
	}
}

// Record is what a caller supplies; the ledger fills in time, ids and hashes.
type Record struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Details      types.Value
}

// Ledger appends entries. It holds no chain state of its own: the head lives in
// the store and is locked per transaction, which is what serializes writers
// across goroutines and processes.
type Ledger struct {
	alg Algorithm
	now func() time.Time
}

// NewLedger validates the algorithm and returns a ledger.
func NewLedger(alg Algorithm) (*Ledger, error) {
	if alg == "" {
		alg = AlgSHA256
	}
	if _, err := newHash(alg); err != nil {
		return nil, err
	}
	return &Ledger{alg: alg, now: types.Now}, nil
}

// Algorithm returns the algorithm used for new entries.
func (l *Ledger) Algorithm() Algorithm { return l.alg }

// Append links a new entry to the current head. tx must be the transaction that
// carries the state change being audited.
func (l *Ledger) Append(ctx context.Context, tx store.AuditStore, rec Record) (*types.AuditEntry, error) {
	seq, prev, err := tx.LockAuditHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to lock audit head: %w", err)
	}
	if prev == "" {
		prev = GenesisHash
	}

	details := rec.Details
	if details.IsNull() {
		details = types.EmptyMap()
	}

	entry := &types.AuditEntry{
		Seq:          seq + 1,
		ID:           uuid.New(),
		Actor:        rec.Actor,
		Action:       rec.Action,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Details:      details,
		CreatedAt:    l.now().UTC().Truncate(time.Microsecond),
		PrevHash:     prev,
		HashAlg:      string(l.alg),
	}
	entry.EntryHash, err = ComputeHash(l.alg, prev, entry)
	if err != nil {
		return nil, err
	}

	if err := tx.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return entry, nil
}

// ComputeHash returns hex(H(prev ∥ canonical(entry))).
func ComputeHash(alg Algorithm, prev string, entry *types.AuditEntry) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	payload, err := Canonical(entry)
	if err != nil {
		return "", err
	}
	h.Write([]byte(prev))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Canonical serializes the hashed fields as a JSON array with canonical details
// and a microsecond RFC3339 timestamp.
func Canonical(entry *types.AuditEntry) ([]byte, error) {
	fields := []any{
		entry.Actor,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		json.RawMessage(entry.Details.Canonical()),
		entry.CreatedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize audit entry: %w", err)
	}
	return data, nil
}
