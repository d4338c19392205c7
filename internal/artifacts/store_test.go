package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_PutGet(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := Key{TenantID: "acme", RunID: "r1", Step: "step3a"}

	ref, err := fs.Put(ctx, key, "application/json", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), ref.SizeBytes)
	assert.Equal(t, "application/json", ref.ContentType)
	assert.Contains(t, ref.Digest, "sha256:")
	assert.Contains(t, ref.Path, "acme/r1/step3a/")

	data, err := fs.Get(ctx, *ref)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestFS_SameContentSameRef(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := Key{TenantID: "acme", RunID: "r1", Step: "step1"}

	a, err := fs.Put(ctx, key, "text/plain", []byte("hello"))
	require.NoError(t, err)
	b, err := fs.Put(ctx, key, "text/plain", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, a.Path, b.Path)
	assert.Equal(t, a.Digest, b.Digest)
}

func TestFS_GetDetectsCorruption(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFS(root)
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := fs.Put(ctx, Key{TenantID: "t", RunID: "r", Step: "s"}, "text/plain", []byte("original"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(ref.Path)), []byte("changed"), 0o644))

	_, err = fs.Get(ctx, *ref)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestFS_GetMissing(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)

	_, err = fs.Get(context.Background(), Ref{Path: "t/r/s/nope"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fs.Get(context.Background(), Ref{Path: "../../etc/passwd"})
	assert.Error(t, err)
}

func TestFS_RejectsEscapingKeys(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)

	for _, key := range []Key{
		{TenantID: "..", RunID: "r", Step: "s"},
		{TenantID: "t", RunID: "a/b", Step: "s"},
		{TenantID: "t", RunID: "r", Step: ""},
	} {
		_, err := fs.Put(context.Background(), key, "text/plain", []byte("x"))
		assert.Error(t, err, "key %+v", key)
	}
}

func TestFS_DeleteRun(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := fs.Put(ctx, Key{TenantID: "t", RunID: "r", Step: "s"}, "text/plain", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, fs.DeleteRun(ctx, "t", "r"))

	_, err = fs.Get(ctx, *ref)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, fs.DeleteRun(ctx, "t", "r"))
}

func TestFS_DeleteStep(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	gone, err := fs.Put(ctx, Key{TenantID: "t", RunID: "r", Step: "s1"}, "text/plain", []byte("x"))
	require.NoError(t, err)
	kept, err := fs.Put(ctx, Key{TenantID: "t", RunID: "r", Step: "s2"}, "text/plain", []byte("y"))
	require.NoError(t, err)

	require.NoError(t, fs.DeleteStep(ctx, Key{TenantID: "t", RunID: "r", Step: "s1"}))
	_, err = fs.Get(ctx, *gone)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Get(ctx, *kept)
	assert.NoError(t, err)

	assert.NoError(t, fs.DeleteStep(ctx, Key{TenantID: "t", RunID: "r", Step: "s1"}))
	assert.Error(t, fs.DeleteStep(ctx, Key{TenantID: "t", RunID: "r", Step: ".."}))
}
