package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actorsync/internal/ir"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "actorsync", cmd.Use)
	assert.Contains(t, cmd.Long, "idempotency keys")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"watch", "invoke", "get", "recover", "validate", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	require.NotNil(t, cmd.PersistentFlags().Lookup("endpoint"))
}

func TestInvokeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	invokeCmd, _, err := cmd.Find([]string{"invoke"})
	require.NoError(t, err)

	timeoutFlag := invokeCmd.Flags().Lookup("timeout")
	require.NotNil(t, timeoutFlag)
	assert.Equal(t, "30s", timeoutFlag.DefValue)

	require.NotNil(t, invokeCmd.Flags().Lookup("metadata"))
	require.NotNil(t, invokeCmd.Flags().Lookup("no-wait"))
	require.NotNil(t, invokeCmd.Flags().Lookup("read-request"))
}

func TestRecoverCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	recoverCmd, _, err := cmd.Find([]string{"recover"})
	require.NoError(t, err)

	resumeFlag := recoverCmd.Flags().Lookup("resume")
	require.NotNil(t, resumeFlag)
	assert.Equal(t, "false", resumeFlag.DefValue)
}

func TestWatchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	watchCmd, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)

	require.NotNil(t, watchCmd.Flags().Lookup("metrics-addr"))
	countFlag := watchCmd.Flags().Lookup("count")
	require.NotNil(t, countFlag)
	assert.Equal(t, "0", countFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	_, err := execute(cmd, "--format", "xml", "validate", "x.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
	assert.False(t, isValidFormat(""))
}

func TestResolve_EndpointOverride(t *testing.T) {
	opts := &RootOptions{Endpoint: "http://localhost:9999"}
	cmd := NewGetCommand(opts)

	require.NoError(t, opts.resolve(cmd))
	require.NotNil(t, opts.Config)
	assert.Equal(t, "http://localhost:9999", opts.Config.Endpoint)
	assert.NotNil(t, opts.Logger)
}

func TestResolve_InvalidEndpoint(t *testing.T) {
	opts := &RootOptions{Endpoint: "not a url"}
	cmd := NewGetCommand(opts)

	err := opts.resolve(cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestResolve_MissingConfigFile(t *testing.T) {
	opts := &RootOptions{ConfigPath: "/nonexistent/actorsync.yaml"}
	cmd := NewGetCommand(opts)

	err := opts.resolve(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestVersion(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, ir.EngineVersion, cmd.Version)
}
