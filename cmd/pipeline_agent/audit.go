package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/content-pipeline/internal/audit"
	"github.com/jonathan/content-pipeline/internal/config"
	"github.com/jonathan/content-pipeline/internal/db"
	"github.com/jonathan/content-pipeline/internal/observability"
	"github.com/jonathan/content-pipeline/internal/store"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit ledger",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute the audit hash chain directly from the database",
	Long: `Walks every audit entry in sequence order and recomputes its hash.
Exits non-zero when the chain is broken.`,
	RunE: runAuditVerify,
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditVerify(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	database, err := db.Connect(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	return verifyAndPrint(cmd, database)
}

func verifyAndPrint(cmd *cobra.Command, s store.AuditStore) error {
	report, err := audit.Verify(cmd.Context(), s)
	if err != nil {
		return err
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintAuditReport(report)
	if !report.Valid {
		return fmt.Errorf("audit chain broken at entry %d", report.FirstBadSeq)
	}
	return nil
}
