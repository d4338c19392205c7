package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonathan/content-pipeline/internal/observability"
	"github.com/jonathan/content-pipeline/internal/types"
)

// clientConfig resolves --server and --token, falling back to PIPELINE_SERVER
// and PIPELINE_TOKEN.
var clientConfig = viper.New()

var (
	runsTenant string
	runsActor  string

	runsListStatus string
	runsListLimit  int

	runsCreateInput  string
	runsCreateConfig string

	runsApproveComment string
	runsApproveInput   string

	runsRejectReason       string
	runsRejectSteps        []string
	runsRejectInstructions []string

	runsResumeFrom   string
	runsCancelReason string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage pipeline runs through the REST API",
	Long: `Client commands for a running "pipeline_agent serve". The server address
defaults to PIPELINE_SERVER and the bearer token to PIPELINE_TOKEN.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		q := url.Values{}
		if runsListStatus != "" {
			q.Set("status", runsListStatus)
		}
		if runsListLimit > 0 {
			q.Set("limit", strconv.Itoa(runsListLimit))
		}
		path := "/runs"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		var resp struct {
			Runs []types.Run `json:"runs"`
		}
		if err := client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
			return err
		}
		observability.NewPrinter(cmd.OutOrStdout()).PrintRunList(resp.Runs)
		return nil
	},
}

var runsGetCmd = &cobra.Command{
	Use:   "get RUN_ID",
	Short: "Show a run and its steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Run   *types.Run   `json:"run"`
			Steps []types.Step `json:"steps"`
		}
		if err := client().do(cmd.Context(), http.MethodGet, runPath(args[0]), nil, &resp); err != nil {
			return err
		}
		observability.NewPrinter(cmd.OutOrStdout()).PrintRun(resp.Run, resp.Steps)
		return nil
	},
}

var runsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a new run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		input, err := jsonArg(runsCreateInput)
		if err != nil {
			return err
		}
		cfg, err := jsonArg(runsCreateConfig)
		if err != nil {
			return err
		}
		body := map[string]json.RawMessage{"input": input}
		if cfg != nil {
			body["config"] = cfg
		}
		var resp struct {
			RunID       string `json:"run_id"`
			ExecutionID string `json:"execution_id"`
			Status      string `json:"status"`
		}
		if err := client().do(cmd.Context(), http.MethodPost, "/runs", body, &resp); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created run %s (%s)\n", resp.RunID, resp.Status)
		return nil
	},
}

var runsApproveCmd = &cobra.Command{
	Use:   "approve RUN_ID",
	Short: "Pass the approval or input gate a run is waiting at",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := jsonArg(runsApproveInput)
		if err != nil {
			return err
		}
		body := map[string]any{"comment": runsApproveComment}
		if input != nil {
			body["input"] = input
		}
		return postCommand(cmd, args[0], "approve", body, "Approved")
	},
}

var runsRejectCmd = &cobra.Command{
	Use:   "reject RUN_ID",
	Short: "Reject the gate a run is waiting at, optionally re-running steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instructions := make(map[string]string, len(runsRejectInstructions))
		for _, kv := range runsRejectInstructions {
			step, text, ok := strings.Cut(kv, "=")
			if !ok || step == "" {
				return fmt.Errorf("instruction must be STEP=TEXT, got %q", kv)
			}
			instructions[step] = text
		}
		body := map[string]any{
			"reason":       runsRejectReason,
			"steps":        runsRejectSteps,
			"instructions": instructions,
		}
		return postCommand(cmd, args[0], "reject", body, "Rejected")
	},
}

var runsRetryCmd = &cobra.Command{
	Use:   "retry RUN_ID STEP",
	Short: "Start a new attempt of a failed step",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			AttemptID string `json:"attempt_id"`
		}
		path := runPath(args[0]) + "/steps/" + url.PathEscape(args[1]) + "/retry"
		if err := client().do(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Retrying %s (attempt %s)\n", args[1], resp.AttemptID)
		return nil
	},
}

var runsResumeCmd = &cobra.Command{
	Use:   "resume RUN_ID",
	Short: "Discard a step and everything after it and run again from there",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			ExecutionID           string   `json:"execution_id"`
			DeletedSteps          []string `json:"deleted_steps"`
			DeletedArtifactsCount int      `json:"deleted_artifacts_count"`
		}
		body := map[string]string{"from_step": runsResumeFrom}
		if err := client().do(cmd.Context(), http.MethodPost, runPath(args[0])+"/resume", body, &resp); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Resumed from %s (execution %s)\n", runsResumeFrom, resp.ExecutionID)
		_, _ = fmt.Fprintf(out, "Deleted steps: %s\n", strings.Join(resp.DeletedSteps, ", "))
		_, _ = fmt.Fprintf(out, "Deleted artifacts: %d\n", resp.DeletedArtifactsCount)
		return nil
	},
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel RUN_ID",
	Short: "Cancel a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postCommand(cmd, args[0], "cancel", map[string]string{"reason": runsCancelReason}, "Cancelled")
	},
}

var runsPauseCmd = &cobra.Command{
	Use:   "pause RUN_ID",
	Short: "Pause a running run after its current stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postCommand(cmd, args[0], "pause", nil, "Paused")
	},
}

var runsContinueCmd = &cobra.Command{
	Use:   "continue RUN_ID",
	Short: "Continue a paused run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postCommand(cmd, args[0], "continue", nil, "Continued")
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete RUN_ID",
	Short: "Delete a finished run and its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().do(cmd.Context(), http.MethodDelete, runPath(args[0]), nil, nil); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
		return nil
	},
}

var runsAttemptsCmd = &cobra.Command{
	Use:   "attempts RUN_ID STEP",
	Short: "Show the attempt history of a step",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Attempts []types.Attempt `json:"attempts"`
		}
		path := runPath(args[0]) + "/steps/" + url.PathEscape(args[1]) + "/attempts"
		if err := client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
			return err
		}
		if len(resp.Attempts) == 0 {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No attempts for %s.\n", args[1])
			return nil
		}
		observability.NewPrinter(cmd.OutOrStdout()).PrintAttempts(args[1], resp.Attempts)
		return nil
	},
}

func init() {
	pf := runsCmd.PersistentFlags()
	pf.String("server", defaultServer, "API base URL (env PIPELINE_SERVER)")
	pf.String("token", "", "Bearer token (env PIPELINE_TOKEN)")
	clientConfig.SetEnvPrefix("PIPELINE")
	clientConfig.AutomaticEnv()
	_ = clientConfig.BindPFlag("server", pf.Lookup("server"))
	_ = clientConfig.BindPFlag("token", pf.Lookup("token"))
	pf.StringVar(&runsTenant, "tenant", "", "Tenant header for servers running without JWT_SECRET")
	pf.StringVar(&runsActor, "actor", "", "Actor header for servers running without JWT_SECRET")

	runsListCmd.Flags().StringVar(&runsListStatus, "status", "", "Only runs with this status")
	runsListCmd.Flags().IntVar(&runsListLimit, "limit", 0, "Maximum number of runs")

	runsCreateCmd.Flags().StringVarP(&runsCreateInput, "input", "i", "", "Run input as JSON or @file (required)")
	runsCreateCmd.Flags().StringVarP(&runsCreateConfig, "run-config", "c", "", "Run config as JSON or @file")
	if err := runsCreateCmd.MarkFlagRequired("input"); err != nil {
		panic(fmt.Sprintf("failed to mark input flag as required: %v", err))
	}

	runsApproveCmd.Flags().StringVar(&runsApproveComment, "comment", "", "Comment recorded with the approval")
	runsApproveCmd.Flags().StringVar(&runsApproveInput, "input", "", "Input for an input gate as JSON or @file")

	runsRejectCmd.Flags().StringVar(&runsRejectReason, "reason", "", "Why the output was rejected (required)")
	runsRejectCmd.Flags().StringSliceVar(&runsRejectSteps, "step", nil, "Steps to re-run (repeatable)")
	runsRejectCmd.Flags().StringArrayVar(&runsRejectInstructions, "instruction", nil, "STEP=TEXT guidance for a re-run step (repeatable)")
	if err := runsRejectCmd.MarkFlagRequired("reason"); err != nil {
		panic(fmt.Sprintf("failed to mark reason flag as required: %v", err))
	}

	runsResumeCmd.Flags().StringVar(&runsResumeFrom, "from", "", "Step to resume from (required)")
	if err := runsResumeCmd.MarkFlagRequired("from"); err != nil {
		panic(fmt.Sprintf("failed to mark from flag as required: %v", err))
	}

	runsCancelCmd.Flags().StringVar(&runsCancelReason, "reason", "", "Why the run was cancelled")

	runsCmd.AddCommand(runsListCmd, runsGetCmd, runsCreateCmd, runsApproveCmd, runsRejectCmd,
		runsRetryCmd, runsResumeCmd, runsCancelCmd, runsPauseCmd, runsContinueCmd,
		runsDeleteCmd, runsAttemptsCmd)
	rootCmd.AddCommand(runsCmd)
}

func client() *apiClient {
	return newAPIClient(clientConfig.GetString("server"), clientConfig.GetString("token"), runsTenant, runsActor)
}

func runPath(id string) string {
	return "/runs/" + url.PathEscape(id)
}

func postCommand(cmd *cobra.Command, runID, action string, body any, done string) error {
	if err := client().do(cmd.Context(), http.MethodPost, runPath(runID)+"/"+action, body, nil); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s run %s\n", done, runID)
	return nil
}
