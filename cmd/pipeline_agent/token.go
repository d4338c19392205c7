package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/content-pipeline/internal/config"
	"github.com/jonathan/content-pipeline/internal/server"
)

var (
	tokenTenant string
	tokenActor  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token signed with JWT_SECRET",
	Long: `Issue a bearer token for the REST API. Tokens without --tenant are
operator tokens and may read every tenant's runs and the audit log.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "Tenant the token acts for (empty for operator)")
	tokenCmd.Flags().StringVar(&tokenActor, "actor", "", "Actor recorded in audit entries (required)")

	if err := tokenCmd.MarkFlagRequired("actor"); err != nil {
		panic(fmt.Sprintf("failed to mark actor flag as required: %v", err))
	}

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	jwtCfg, err := cfg.JWT()
	if err != nil {
		return err
	}
	token, err := server.NewJWTService(jwtCfg).GenerateToken(tokenTenant, tokenActor)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
