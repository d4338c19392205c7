package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-pipeline/internal/pipeline"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateOutputCommand(t *testing.T) {
	valid := writeFile(t, "valid.json", `{"keywords": ["go", "pipelines"]}`)
	wrongType := writeFile(t, "wrong.json", `{"keywords": "go"}`)
	notJSON := writeFile(t, "broken.json", `{"keywords": [`)

	tests := []struct {
		name    string
		args    []string
		wantOut string
		wantErr string
	}{
		{
			name:    "valid keywords",
			args:    []string{"--step", pipeline.StepKeywordResearch, "--json", valid},
			wantOut: "✓ step1 output is valid",
		},
		{
			name:    "keywords not a list",
			args:    []string{"--step", pipeline.StepKeywordResearch, "--json", wrongType},
			wantErr: "does not match step1 schema",
		},
		{
			name:    "malformed json",
			args:    []string{"--step", pipeline.StepKeywordResearch, "--json", notJSON},
			wantErr: "does not match step1 schema",
		},
		{
			name:    "object schema accepts any object",
			args:    []string{"--step", pipeline.StepDraftOutline, "--json", wrongType},
			wantOut: "✓ step4 output is valid",
		},
		{
			name:    "unknown step",
			args:    []string{"--step", "step99", "--json", valid},
			wantErr: "unknown step: step99",
		},
		{
			name:    "missing file",
			args:    []string{"--step", pipeline.StepKeywordResearch, "--json", filepath.Join(t.TempDir(), "nope.json")},
			wantErr: "JSON file not found",
		},
		{
			name:    "missing step flag",
			args:    []string{"--json", valid},
			wantErr: `required flag(s) "step" not set`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"validate-output"}, tt.args...)...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err, out)
			assert.Contains(t, out, tt.wantOut)
		})
	}
}
