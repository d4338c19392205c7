// Package artifacts stores step output blobs outside the state store. Blobs are
// content addressed under (tenant, run, step); the orchestrator keeps only the
// returned Ref.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get for unknown refs.
var ErrNotFound = errors.New("artifact not found")

// ErrDigestMismatch is returned by Get when a blob no longer matches its digest.
var ErrDigestMismatch = errors.New("artifact digest mismatch")

// Key scopes a blob.
type Key struct {
	TenantID string
	RunID    string
	Step     string
}

// Ref points at a stored blob.
type Ref struct {
	Path        string `json:"path"`
	Digest      string `json:"digest"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
}

// Store is the blob store contract.
type Store interface {
	Put(ctx context.Context, key Key, contentType string, data []byte) (*Ref, error)
	Get(ctx context.Context, ref Ref) ([]byte, error)
	// DeleteStep removes every blob under key. Missing steps are not an error.
	DeleteStep(ctx context.Context, key Key) error
	// DeleteRun removes every blob of a run. Missing runs are not an error.
	DeleteRun(ctx context.Context, tenantID, runID string) error
}

// FS stores blobs on the local filesystem.
type FS struct {
	root string
}

// NewFS creates the root directory if needed.
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, errors.New("artifact root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &FS{root: root}, nil
}

// Root returns the base directory.
func (f *FS) Root() string { return f.root }

func (f *FS) Put(ctx context.Context, key Key, contentType string, data []byte) (*Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := f.dir(key.TenantID, key.RunID, key.Step)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	rel := filepath.Join(dir, digest)
	abs := filepath.Join(f.root, rel)

	ref := &Ref{
		Path:        filepath.ToSlash(rel),
		Digest:      "sha256:" + digest,
		SizeBytes:   int64(len(data)),
		ContentType: contentType,
	}

	if _, err := os.Stat(abs); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return nil, fmt.Errorf("failed to publish artifact: %w", err)
	}
	return ref, nil
}

func (f *FS) Get(ctx context.Context, ref Ref) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := filepath.Clean(filepath.FromSlash(ref.Path))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("invalid artifact path: %q", ref.Path)
	}

	data, err := os.ReadFile(filepath.Join(f.root, clean))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	if ref.Digest != "" {
		sum := sha256.Sum256(data)
		if "sha256:"+hex.EncodeToString(sum[:]) != ref.Digest {
			return nil, ErrDigestMismatch
		}
	}
	return data, nil
}

func (f *FS) DeleteRun(_ context.Context, tenantID, runID string) error {
	dir, err := f.dir(tenantID, runID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(f.root, dir)); err != nil {
		return fmt.Errorf("failed to delete run artifacts: %w", err)
	}
	return nil
}

func (f *FS) DeleteStep(_ context.Context, key Key) error {
	dir, err := f.dir(key.TenantID, key.RunID, key.Step)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(f.root, dir)); err != nil {
		return fmt.Errorf("failed to delete step artifacts: %w", err)
	}
	return nil
}

// dir joins path segments after rejecting anything that could escape the root.
func (f *FS) dir(parts ...string) (string, error) {
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return "", fmt.Errorf("invalid artifact key segment: %q", p)
		}
	}
	return filepath.Join(parts...), nil
}
