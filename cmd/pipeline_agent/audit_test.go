package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/types"
)

func newOutputCommand(out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetContext(context.Background())
	return cmd
}

// rewrittenAudit changes the actor of entry 1 on the way out, as if the row
// had been edited in place.
type rewrittenAudit struct {
	store.AuditStore
}

func (r rewrittenAudit) ListAudit(ctx context.Context, filters types.AuditFilters) ([]types.AuditEntry, error) {
	entries, err := r.AuditStore.ListAudit(ctx, filters)
	for i := range entries {
		if entries[i].Seq == 1 {
			entries[i].Actor = "user:mallory"
		}
	}
	return entries, err
}

func TestVerifyAndPrint_IntactChain(t *testing.T) {
	api := newTestAPI(t)
	api.createRun()

	var out bytes.Buffer
	require.NoError(t, verifyAndPrint(newOutputCommand(&out), api.store))
	assert.Contains(t, out.String(), "CHAIN INTACT")
}

func TestVerifyAndPrint_TamperedChain(t *testing.T) {
	api := newTestAPI(t)
	api.createRun()

	var out bytes.Buffer
	err := verifyAndPrint(newOutputCommand(&out), rewrittenAudit{api.store})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit chain broken at entry 1")
	assert.Contains(t, out.String(), "CHAIN BROKEN")
}

func TestAuditVerifyCommand_RequiresDatabase(t *testing.T) {
	loadTestConfig(t, nil)

	_, err := execute(t, "audit", "verify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}
