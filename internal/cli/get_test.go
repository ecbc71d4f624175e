package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actorsync/internal/testutil"
)

func TestGetCommand_Text(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Actors.Construct("list-1", "buy milk")
	opts := testOptions(t, srv, "text")

	out, err := execute(NewGetCommand(opts), "list-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"goals":["buy milk"]}`, out)

	requests := srv.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "/twentyfive.TwentyFive.ListGoals", requests[0].Path)
	assert.Empty(t, requests[0].IdempotencyKey)
}

func TestGetCommand_JSON(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Actors.Construct("list-1", "buy milk", "walk dog")
	opts := testOptions(t, srv, "json")

	out, err := execute(NewGetCommand(opts), "list-1")
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	var state testutil.ListGoalsResponse
	require.NoError(t, json.Unmarshal(resp.Data, &state))
	assert.Len(t, state.Goals, 2)
}

func TestGetCommand_NotFound(t *testing.T) {
	srv := testutil.NewServer(t)
	opts := testOptions(t, srv, "text")

	out, err := execute(NewGetCommand(opts), "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [NotFound]")
}

func TestGetCommand_Unreachable(t *testing.T) {
	srv := testutil.StartServer()
	opts := testOptions(t, srv, "json")
	srv.Close()

	out, err := execute(NewGetCommand(opts), "--timeout", "2s", "list-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeUnreachable)
}

func TestGetCommand_UnknownActorType(t *testing.T) {
	srv := testutil.NewServer(t)
	opts := testOptions(t, srv, "text")
	opts.Config.ActorType = "Counter"

	out, err := execute(NewGetCommand(opts), "list-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, `actor type "Counter" not found`)
}
