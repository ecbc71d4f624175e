package cli

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actorsync/internal/config"
	"github.com/roach88/actorsync/internal/testutil"
)

const twentyFiveCUE = `package actors

actor: TwentyFive: {
	service: "twentyfive.TwentyFive"
	reader:  "ListGoals"
	mutations: ["CreateGoalList", "AddGoal", "MoveGoal", "DeleteGoal"]
}
`

// writeActorTypes writes the reference descriptor to a temp dir.
func writeActorTypes(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "twentyfive.cue")
	require.NoError(t, os.WriteFile(path, []byte(twentyFiveCUE), 0644))
	return path
}

// testOptions returns root options wired to srv with a temp database.
func testOptions(t *testing.T, srv *testutil.Server, format string) *RootOptions {
	t.Helper()
	cfg := config.Default()
	cfg.Endpoint = srv.URL
	cfg.ActorTypes = writeActorTypes(t)
	cfg.Database = filepath.Join(t.TempDir(), "actorsync.db")
	cfg.Retry = config.Retry{InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond}
	return &RootOptions{
		Format: format,
		Config: &cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
