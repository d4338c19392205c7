package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/schemas"
)

var validateOutputCmd = &cobra.Command{
	Use:   "validate-output",
	Short: "Validate an activity output document against a step's schema",
	Long: `Checks a JSON file against the output schema the engine enforces for a
step. Useful when developing an activity backend.`,
	RunE: runValidateOutput,
}

var (
	validateOutputStep string
	validateOutputJSON string
)

func init() {
	validateOutputCmd.Flags().StringVarP(&validateOutputStep, "step", "s", "", "Step name, e.g. step1 (required)")
	validateOutputCmd.Flags().StringVarP(&validateOutputJSON, "json", "j", "", "Path to the output JSON file (required)")

	if err := validateOutputCmd.MarkFlagRequired("step"); err != nil {
		panic(fmt.Sprintf("failed to mark step flag as required: %v", err))
	}
	if err := validateOutputCmd.MarkFlagRequired("json"); err != nil {
		panic(fmt.Sprintf("failed to mark json flag as required: %v", err))
	}

	rootCmd.AddCommand(validateOutputCmd)
}

func runValidateOutput(cmd *cobra.Command, _ []string) error {
	spec, ok := pipeline.Default().Spec(validateOutputStep)
	if !ok {
		return fmt.Errorf("unknown step: %s", validateOutputStep)
	}
	if _, err := os.Stat(validateOutputJSON); os.IsNotExist(err) {
		return fmt.Errorf("JSON file not found: %s", validateOutputJSON)
	}
	if spec.OutputSchema == "" {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s has no output schema; any JSON document is accepted.\n", spec.Name)
		return nil
	}

	if err := schemas.ValidateFile(spec.Name, spec.OutputSchema, validateOutputJSON); err != nil {
		var verr *schemas.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("output does not match %s schema: %w", spec.Name, err)
		}
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ %s output is valid\n", spec.Name)
	return nil
}
