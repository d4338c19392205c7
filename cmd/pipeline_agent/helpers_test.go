package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-pipeline/internal/activity"
	"github.com/jonathan/content-pipeline/internal/artifacts"
	"github.com/jonathan/content-pipeline/internal/audit"
	"github.com/jonathan/content-pipeline/internal/logging"
	"github.com/jonathan/content-pipeline/internal/orchestrator"
	"github.com/jonathan/content-pipeline/internal/server"
	"github.com/jonathan/content-pipeline/internal/server/ratelimit"
	"github.com/jonathan/content-pipeline/internal/store/memory"
	"github.com/jonathan/content-pipeline/internal/types"
)

type testAPI struct {
	t      *testing.T
	url    string
	engine *orchestrator.Engine
	store  *memory.Store
}

// newTestAPI serves a real engine over an in-memory store without JWT, so
// identity comes from the --tenant and --actor headers.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	blobs, err := artifacts.NewFS(t.TempDir())
	require.NoError(t, err)
	ledger, err := audit.NewLedger(audit.AlgBLAKE2b256)
	require.NoError(t, err)
	reg := activity.NewRegistry().SetFallback(activity.Func(
		func(_ context.Context, req *activity.Request) (*activity.Output, error) {
			return &activity.Output{Data: types.MustFromAny(map[string]any{
				"step":     req.Step,
				"keywords": []string{"go", "pipelines"},
			})}, nil
		}))

	st := memory.New()
	engine, err := orchestrator.New(orchestrator.Deps{
		Store:     st,
		Handlers:  reg,
		Artifacts: blobs,
		Ledger:    ledger,
		Logger:    logging.Discard(),
	}, orchestrator.Config{MaxRetries: 1, StepTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	srv := server.New(engine, server.Options{
		RateLimit: ratelimit.NewConfig(0, 0),
		Logger:    logging.Discard(),
	})
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testAPI{t: t, url: ts.URL, engine: engine, store: st}
}

// runs executes a runs subcommand against the test API as tenant acme.
func (a *testAPI) runs(args ...string) (string, error) {
	full := append([]string{"runs"}, args...)
	full = append(full, "--server", a.url, "--tenant", "acme", "--actor", "user:alice")
	return execute(a.t, full...)
}

func (a *testAPI) wait(id uuid.UUID) {
	a.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(a.t, a.engine.WaitIdle(ctx, id))
}

var createdRe = regexp.MustCompile(`Created run ([0-9a-f-]{36})`)

func (a *testAPI) createRun() uuid.UUID {
	a.t.Helper()
	out, err := a.runs("create", "--input", `{"topic":"event sourcing"}`)
	require.NoError(a.t, err, out)
	m := createdRe.FindStringSubmatch(out)
	require.Len(a.t, m, 2, out)
	id, err := uuid.Parse(m[1])
	require.NoError(a.t, err)
	a.wait(id)
	return id
}

// execute runs rootCmd with args and returns everything it printed. Flags are
// reset first since cobra keeps their values between executions.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
