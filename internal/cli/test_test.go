package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenariosDir = filepath.Join("..", "..", "testdata", "scenarios")

const passingScenario = `name: add_one
description: "One goal is added"
actor_id: list-1
setup:
  - action: CreateGoalList
    args: {}
flow:
  - invoke: AddGoal
    args: { goal: "buy milk" }
assertions:
  - type: final_state
    expect:
      goals: ["buy milk"]
`

const failingScenario = `name: wrong_state
description: "Expects a goal that is never added"
actor_id: list-1
setup:
  - action: CreateGoalList
    args: {}
flow:
  - invoke: AddGoal
    args: { goal: "buy milk" }
assertions:
  - type: final_state
    expect:
      goals: ["walk dog"]
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestTestCommand_MissingArgs(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})

	_, err := execute(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestTestCommand_NonExistentPath(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})

	_, err := execute(cmd, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")
}

func TestTestCommand_EmptyDir(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})

	out, err := execute(cmd, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommand_EmptyDirJSON(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "json"})

	out, err := execute(cmd, t.TempDir())
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Zero(t, resp.Data.Total)
}

func TestTestCommand_ExampleScenarios(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "json"})

	out, err := execute(cmd, scenariosDir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Data.Total)
	assert.Equal(t, 3, resp.Data.Passed)
	for _, s := range resp.Data.Scenarios {
		assert.True(t, s.Pass, "%s: %v", s.Name, s.Errors)
	}
}

func TestTestCommand_Filter(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "json"})

	out, err := execute(cmd, "--filter", "retry_*", scenariosDir)
	require.NoError(t, err)

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "retry_keeps_key", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_InvalidFilter(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})

	_, err := execute(cmd, "--filter", "[", scenariosDir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "wrong_state", failingScenario)
	cmd := NewTestCommand(&RootOptions{Format: "text"})

	out, err := execute(cmd, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_state")
	assert.Contains(t, out, "1 failed")
}

func TestTestCommand_InvalidScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken", "name: broken\n")
	cmd := NewTestCommand(&RootOptions{Format: "json"})

	out, err := execute(cmd, dir)
	require.Error(t, err)

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Scenarios, 1)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	assert.Contains(t, resp.Data.Scenarios[0].Errors[0], "failed to load scenario")
}

func TestTestCommand_GoldenUpdateThenMatch(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "add_one", passingScenario)

	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), "--update", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ add_one (golden updated)")

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "add_one.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name": "add_one"`)

	out, err = execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ add_one (golden)")
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "add_one", passingScenario)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "add_one.golden"), []byte("{}\n"), 0644))

	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "retry.golden"),
		goldenFilePath(filepath.Join("scenarios", "retry.yaml")))
}
