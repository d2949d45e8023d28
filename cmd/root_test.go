package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"forecast", "batch", "serve", "runs", "resolve", "score"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "forecast-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestForecastCommand_Flags(t *testing.T) {
	for _, name := range []string{"out-dir", "non-interactive", "json"} {
		require.NotNil(t, runCmd.Flags().Lookup(name), "forecast command should have --%s flag", name)
	}
	assert.Contains(t, runCmd.Aliases, "run")
}

func TestBatchCommand_Flags(t *testing.T) {
	flag := batchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "batch command should have --limit flag")
	assert.Equal(t, "0", flag.DefValue)
	require.NotNil(t, batchCmd.Flags().Lookup("out-dir"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "expected runs subcommand %q", name)
	}
}

func TestParseOutcome(t *testing.T) {
	for _, s := range []string{"yes", "Y", "true", "1"} {
		got, err := parseOutcome(s)
		require.NoError(t, err, s)
		assert.True(t, got, s)
	}
	for _, s := range []string{"no", "N", "false", "0"} {
		got, err := parseOutcome(s)
		require.NoError(t, err, s)
		assert.False(t, got, s)
	}
	_, err := parseOutcome("maybe")
	assert.Error(t, err)
}
