package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoctorSkipRemote(t *testing.T) {
	tmp := isolate(t)

	out, err := runCLI(t, "--data-dir", tmp, "doctor", "--skip-remote")
	require.NoError(t, err)
	assert.Contains(t, out, "rumahcari doctor")
	assert.Contains(t, out, "[PASS] config")
}

func TestDoctorJSON(t *testing.T) {
	tmp := isolate(t)

	out, err := runCLI(t, "--data-dir", tmp, "doctor", "--skip-remote", "--json")
	require.NoError(t, err)

	var report DoctorJSON
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "ready", report.Status)
	assert.Len(t, report.Checks, 5)
	assert.Empty(t, report.Errors)
}
