package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCPU(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.prof")

	p := NewProfiler()
	cleanup, err := p.StartCPU(path)
	require.NoError(t, err)

	// Some work so the profile is non-trivial.
	sum := 0
	for i := 0; i < 1_000_000; i++ {
		sum += i
	}
	_ = sum

	cleanup()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestStartCPUBadPath(t *testing.T) {
	p := NewProfiler()
	_, err := p.StartCPU(filepath.Join(t.TempDir(), "missing", "cpu.prof"))
	assert.Error(t, err)
}

func TestWriteHeap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")

	require.NoError(t, NewProfiler().WriteHeap(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestStartTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.out")

	p := NewProfiler()
	cleanup, err := p.StartTrace(path)
	require.NoError(t, err)
	cleanup()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.00 KB", FormatBytes(1024))
	assert.Equal(t, "2.50 MB", FormatBytes(2621440))
	assert.Equal(t, "1.00 GB", FormatBytes(1073741824))
}

func TestMemStats(t *testing.T) {
	m := MemStats()
	assert.Greater(t, m.Sys, uint64(0))
}
