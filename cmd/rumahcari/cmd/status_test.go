package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusEmptyDeployment(t *testing.T) {
	tmp := isolate(t)

	out, err := runCLI(t, "--data-dir", tmp, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Server:       stopped")
	assert.Contains(t, out, "Sync daemon:  stopped")
	assert.Contains(t, out, "Last sync:    never")
	assert.Contains(t, out, "Vector index: empty")
	assert.Contains(t, out, "Threads:      0")
}

func TestStatusJSON(t *testing.T) {
	tmp := isolate(t)

	out, err := runCLI(t, "--data-dir", tmp, "status", "--json")
	require.NoError(t, err)

	var info StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, tmp, info.DataDir)
	assert.False(t, info.ServerUp)
	assert.False(t, info.SyncDaemon)
	assert.Zero(t, info.SyncCycles)
}
