package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-pipeline/internal/orchestrator"
	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/types"
)

func TestRunsCommands_Lifecycle(t *testing.T) {
	api := newTestAPI(t)
	id := api.createRun()

	out, err := api.runs("get", id.String())
	require.NoError(t, err, out)
	assert.Contains(t, out, "⏸ waiting_step1_approval")
	assert.Contains(t, out, pipeline.StepNormalizeInput)
	assert.Contains(t, out, "Tenant:    acme")

	out, err = api.runs("list", "--status", "waiting_step1_approval")
	require.NoError(t, err, out)
	assert.Contains(t, out, id.String())

	out, err = api.runs("approve", id.String(), "--comment", "keywords look right")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Approved run "+id.String())
	api.wait(id)

	run, err := api.engine.GetRun(context.Background(), orchestrator.Caller{}, id)
	require.NoError(t, err)
	assert.Equal(t, types.RunWaitingApproval, run.Status)

	out, err = api.runs("attempts", id.String(), pipeline.StepNormalizeInput)
	require.NoError(t, err, out)
	assert.Contains(t, out, "ATTEMPTS: "+pipeline.StepNormalizeInput)
	assert.Contains(t, out, "#1 ✓ succeeded")

	out, err = api.runs("pause", id.String())
	assert.Error(t, err, out)

	out, err = api.runs("cancel", id.String(), "--reason", "topic dropped")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Cancelled run")

	_, err = api.runs("cancel", id.String())
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.Status)

	out, err = api.runs("delete", id.String())
	require.NoError(t, err, out)
	assert.Contains(t, out, "Deleted run")

	out, err = api.runs("list")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No runs found.")
}

func TestRunsCommands_RejectAndResume(t *testing.T) {
	api := newTestAPI(t)
	id := api.createRun()

	out, err := api.runs("reject", id.String(),
		"--reason", "too broad",
		"--step", pipeline.StepKeywordResearch,
		"--instruction", pipeline.StepKeywordResearch+"=focus on beginners")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Rejected run")
	api.wait(id)

	out, err = api.runs("attempts", id.String(), pipeline.StepKeywordResearch)
	require.NoError(t, err, out)
	assert.Contains(t, out, "#2 ✓ succeeded")

	out, err = api.runs("resume", id.String(), "--from", pipeline.StepKeywordResearch)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Deleted steps: "+pipeline.StepKeywordResearch)
	api.wait(id)

	out, err = api.runs("attempts", id.String(), pipeline.StepKeywordResearch)
	require.NoError(t, err, out)
	assert.Contains(t, out, "#1 ✓ succeeded")
	assert.NotContains(t, out, "#2")
}

func TestRunsCommands_Errors(t *testing.T) {
	api := newTestAPI(t)
	id := api.createRun()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown run", []string{"get", uuid.NewString()}, "404"},
		{"malformed id", []string{"get", "not-a-uuid"}, "400"},
		{"retry succeeded step", []string{"retry", id.String(), pipeline.StepNormalizeInput}, "409"},
		{"retry unknown step", []string{"retry", id.String(), "step99"}, "404"},
		{"resume requires from", []string{"resume", id.String()}, `required flag(s) "from" not set`},
		{"reject requires reason", []string{"reject", id.String()}, `required flag(s) "reason" not set`},
		{"bad instruction", []string{"reject", id.String(), "--reason", "x", "--instruction", "no-separator"}, "STEP=TEXT"},
		{"create with bad json", []string{"create", "--input", "{not json"}, "not valid JSON"},
		{"get needs an id", []string{"get"}, "accepts 1 arg(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := api.runs(tt.args...)
			require.Error(t, err, out)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunsCommands_TenantIsolation(t *testing.T) {
	api := newTestAPI(t)
	id := api.createRun()

	out, err := execute(t, "runs", "get", id.String(),
		"--server", api.url, "--tenant", "globex", "--actor", "user:bob")
	require.Error(t, err, out)
	assert.Contains(t, err.Error(), "404")
}

func TestRunsCommands_CreateFromFile(t *testing.T) {
	api := newTestAPI(t)
	path := writeFile(t, "input.json", `{"topic":"observability"}`)

	out, err := api.runs("create", "--input", "@"+path, "--run-config", `{"tone":"casual"}`)
	require.NoError(t, err, out)
	m := createdRe.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	id := uuid.MustParse(m[1])
	api.wait(id)

	run, err := api.engine.GetRun(context.Background(), orchestrator.Caller{}, id)
	require.NoError(t, err)
	assert.Equal(t, "acme", run.TenantID)
	assert.JSONEq(t, `{"topic":"observability"}`, string(run.InputData.Canonical()))
}

func TestRunsCommands_ServerFromEnvironment(t *testing.T) {
	api := newTestAPI(t)
	id := api.createRun()
	t.Setenv("PIPELINE_SERVER", api.url)

	out, err := execute(t, "runs", "get", id.String(), "--tenant", "acme", "--actor", "user:alice")
	require.NoError(t, err, out)
	assert.Contains(t, out, id.String())
}

func TestNewAPIClient_Defaults(t *testing.T) {
	c := newAPIClient("", "", "", "")
	assert.Equal(t, defaultServer, c.baseURL)
	assert.Empty(t, c.token)

	c = newAPIClient("http://pipeline.internal:9000/", "explicit", "", "")
	assert.Equal(t, "http://pipeline.internal:9000", c.baseURL)
	assert.Equal(t, "explicit", c.token)
}
