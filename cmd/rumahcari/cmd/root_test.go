package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args and returns combined
// output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// isolate keeps a test away from the developer's real config and data.
func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Chdir(tmp)
	return tmp
}

func TestRootShowsHelp(t *testing.T) {
	out, err := runCLI(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "rumahcari")
	assert.Contains(t, out, "Usage:")
}

func TestRootNoArgsShowsHelp(t *testing.T) {
	out, err := runCLI(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Available Commands:")
}

func TestRootShowsVersion(t *testing.T) {
	out, err := runCLI(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "rumahcari version")
}

func TestRootHasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	for _, want := range []string{
		"init", "serve", "sync", "search", "chat", "eval",
		"threads", "compact", "stats", "status", "doctor",
		"config", "knowledge", "version",
	} {
		assert.Contains(t, names, want)
	}
}

func TestRootPersistentFlags(t *testing.T) {
	cmd := NewRootCmd()

	for _, name := range []string{
		"config", "data-dir", "debug",
		"profile-cpu", "profile-mem", "profile-trace",
	} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestLoadConfigHonorsDataDirFlag(t *testing.T) {
	tmp := isolate(t)

	dataDir = tmp + "/custom"
	t.Cleanup(func() { dataDir = "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, tmp+"/custom", cfg.DataDir)
}
