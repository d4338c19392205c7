package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/content-pipeline/internal/audit"
	"github.com/jonathan/content-pipeline/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func statusIcon(status string) string {
	switch status {
	case "completed", "succeeded", "skipped":
		return "✓"
	case "failed", "abandoned":
		return "✗"
	case "cancelled":
		return "⊘"
	case "running", "workflow_starting":
		return "▶"
	case "paused":
		return "‖"
	case "waiting_step1_approval", "waiting_approval", "waiting_image_input":
		return "⏸"
	default:
		return "·"
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

// PrintRun outputs a run header and its steps in the given order.
func (p *Printer) PrintRun(run *types.Run, steps []types.Step) {
	if run == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:       %s\n", run.ID))
	sb.WriteString(fmt.Sprintf("Tenant:    %s\n", run.TenantID))
	sb.WriteString(fmt.Sprintf("Status:    %s %s\n", statusIcon(string(run.Status)), run.Status))
	sb.WriteString(fmt.Sprintf("Step:      %s\n", deref(run.CurrentStep)))
	sb.WriteString(fmt.Sprintf("Execution: %s\n", run.ExecutionID))
	if run.ErrorCode != nil {
		sb.WriteString(fmt.Sprintf("Error:     %s\n", *run.ErrorCode))
		if run.ErrorMessage != nil {
			sb.WriteString(fmt.Sprintf("           %s\n", *run.ErrorMessage))
		}
	}

	if len(steps) > 0 {
		sb.WriteString("\nSteps:\n")
		for _, s := range steps {
			sb.WriteString(fmt.Sprintf("  %s %-28s %s", statusIcon(string(s.Status)), s.StepName, s.Status))
			if s.RetryCount > 0 {
				sb.WriteString(fmt.Sprintf(" (retries: %d)", s.RetryCount))
			}
			sb.WriteString("\n")
		}
	}

	p.printBox("RUN", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRunList outputs one line per run, newest first as given.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintRunList(runs []types.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(p.out, "No runs found.")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(p.out, "%s  %s %-24s %-28s %s\n",
			r.ID, statusIcon(string(r.Status)), r.Status, deref(r.CurrentStep),
			r.CreatedAt.Format(time.RFC3339))
	}
}

// PrintAttempts outputs the attempt history of one step.
func (p *Printer) PrintAttempts(step string, attempts []types.Attempt) {
	if len(attempts) == 0 {
		return
	}

	var sb strings.Builder
	start := 0
	if len(attempts) > maxItemsToShow {
		start = len(attempts) - maxItemsToShow
		sb.WriteString(fmt.Sprintf("... %d earlier attempts\n", start))
	}
	for _, a := range attempts[start:] {
		sb.WriteString(fmt.Sprintf("#%d %s %s", a.AttemptNum, statusIcon(string(a.Status)), a.Status))
		if a.CompletedAt != nil {
			sb.WriteString(fmt.Sprintf(" in %s", a.CompletedAt.Sub(a.StartedAt).Round(time.Millisecond)))
		}
		sb.WriteString("\n")
		if a.ErrorMessage != nil {
			sb.WriteString(fmt.Sprintf("   %s\n", *a.ErrorMessage))
		}
	}

	p.printBox("ATTEMPTS: "+step, strings.TrimSuffix(sb.String(), "\n"))
}

// PrintAuditReport outputs the result of a chain verification.
func (p *Printer) PrintAuditReport(report *audit.Report) {
	if report == nil {
		return
	}

	var sb strings.Builder
	if report.Valid {
		sb.WriteString("✅ CHAIN INTACT\n\n")
	} else {
		sb.WriteString("❌ CHAIN BROKEN\n\n")
	}
	sb.WriteString(fmt.Sprintf("Entries:   %d\n", report.Entries))
	sb.WriteString(fmt.Sprintf("Head seq:  %d\n", report.HeadSeq))
	sb.WriteString(fmt.Sprintf("Head hash: %s", shortHash(report.HeadHash)))
	if !report.Valid {
		sb.WriteString(fmt.Sprintf("\n\nFirst bad: #%d\n", report.FirstBadSeq))
		sb.WriteString(report.Reason)
	}

	p.printBox("AUDIT VERIFICATION", sb.String())
}
