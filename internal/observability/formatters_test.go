package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/content-pipeline/internal/audit"
	"github.com/jonathan/content-pipeline/internal/types"
)

func TestPrintRun(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	run := &types.Run{
		ID:           uuid.New(),
		TenantID:     "acme",
		Status:       types.RunFailed,
		CurrentStep:  types.StringPtr("draft"),
		ExecutionID:  uuid.New(),
		ErrorCode:    types.StringPtr("draft: activity failed"),
		ErrorMessage: types.StringPtr("backend unavailable"),
	}
	steps := []types.Step{
		{StepName: "normalize_input", Status: types.StepCompleted},
		{StepName: "draft", Status: types.StepFailed, RetryCount: 3},
	}

	p.PrintRun(run, steps)
	output := buf.String()

	assert.Contains(t, output, "RUN")
	assert.Contains(t, output, "acme")
	assert.Contains(t, output, "✗ failed")
	assert.Contains(t, output, "draft: activity failed")
	assert.Contains(t, output, "normalize_input")
	assert.Contains(t, output, "(retries: 3)")
}

func TestPrintRun_Nil(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRun(nil, nil)

	assert.Empty(t, buf.String())
}

func TestPrintRunList(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRunList(nil)
	assert.Contains(t, buf.String(), "No runs found.")

	buf.Reset()
	runs := []types.Run{
		{ID: uuid.New(), Status: types.RunWaitingApproval, CurrentStep: types.StringPtr("review"), CreatedAt: time.Now()},
		{ID: uuid.New(), Status: types.RunCompleted, CreatedAt: time.Now()},
	}
	p.PrintRunList(runs)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "⏸ waiting_approval")
	assert.Contains(t, lines[1], "✓ completed")
}

func TestPrintAttempts_ShowsLatest(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	start := time.Now()
	var attempts []types.Attempt
	for i := 1; i <= 7; i++ {
		end := start.Add(1500 * time.Millisecond)
		attempts = append(attempts, types.Attempt{
			AttemptNum:   i,
			Status:       types.AttemptFailed,
			StartedAt:    start,
			CompletedAt:  &end,
			ErrorMessage: types.StringPtr("timeout"),
		})
	}

	p.PrintAttempts("draft", attempts)
	output := buf.String()

	assert.Contains(t, output, "ATTEMPTS: draft")
	assert.Contains(t, output, "... 2 earlier attempts")
	assert.NotContains(t, output, "#1 ")
	assert.Contains(t, output, "#7 ✗ failed in 1.5s")
}

func TestPrintAuditReport(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintAuditReport(&audit.Report{Valid: true, Entries: 12, HeadSeq: 12, HeadHash: strings.Repeat("ab", 32)})
	assert.Contains(t, buf.String(), "CHAIN INTACT")
	assert.Contains(t, buf.String(), "abababababababab...")

	buf.Reset()
	p.PrintAuditReport(&audit.Report{Valid: false, Entries: 3, FirstBadSeq: 4, Reason: "hash mismatch"})
	assert.Contains(t, buf.String(), "CHAIN BROKEN")
	assert.Contains(t, buf.String(), "#4")
	assert.Contains(t, buf.String(), "hash mismatch")
}
