package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Edge cases around merge semantics. YAML cannot distinguish an absent
// field from an explicit zero, so mergeWith treats zero as "not set";
// these tests pin down the consequences.

// =============================================================================
// Merge semantics
// =============================================================================

func TestMergeWith_ZeroValuesDoNotOverride(t *testing.T) {
	// Given: an override whose numeric fields are all zero
	cfg := NewConfig()
	cfg.mergeWith(&Config{})

	// Then: nothing changes
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 0.6, cfg.Retrieval.SemanticWeight)
	assert.Equal(t, 20, cfg.Memory.Window)
	assert.Equal(t, 6, cfg.Agent.MaxToolHops)
}

func TestMergeWith_ExplicitZeroWeightIsIndistinguishableFromAbsent(t *testing.T) {
	// semantic_weight: 0 in YAML keeps the default. Operators who want a
	// pure api_only ranking set retrieval.default_method instead.
	isolateUserConfig(t)
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, "rumahcari.yaml"),
		[]byte("retrieval:\n  semantic_weight: 0\n"), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 0.6, cfg.Retrieval.SemanticWeight)
}

func TestMergeWith_MetricsDisableRequiresDir(t *testing.T) {
	// metrics.enabled defaults to true, so a lone "enabled: false" cannot
	// be told apart from an absent section. Setting dir anchors it.
	t.Run("enabled false alone is ignored", func(t *testing.T) {
		cfg := NewConfig()
		cfg.mergeWith(&Config{Metrics: MetricsConfig{Enabled: false}})
		assert.True(t, cfg.Metrics.Enabled)
	})

	t.Run("enabled false with dir disables", func(t *testing.T) {
		cfg := NewConfig()
		cfg.mergeWith(&Config{Metrics: MetricsConfig{Enabled: false, Dir: "/var/metrics"}})
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, "/var/metrics", cfg.Metrics.Dir)
	})
}

func TestMergeWith_ABWatchRequiresExperimentsPath(t *testing.T) {
	t.Run("watch false alone is ignored", func(t *testing.T) {
		cfg := NewConfig()
		cfg.mergeWith(&Config{AB: ABConfig{Watch: false}})
		assert.True(t, cfg.AB.Watch)
	})

	t.Run("watch false with path disables", func(t *testing.T) {
		cfg := NewConfig()
		cfg.mergeWith(&Config{AB: ABConfig{Watch: false, ExperimentsPath: "/etc/rumahcari/experiments.yaml"}})
		assert.False(t, cfg.AB.Watch)
		assert.Equal(t, "/etc/rumahcari/experiments.yaml", cfg.AB.ExperimentsPath)
	})
}

func TestMergeWith_StderrLatchesOn(t *testing.T) {
	cfg := NewConfig()
	cfg.mergeWith(&Config{Logging: LoggingConfig{Stderr: true}})
	assert.True(t, cfg.Logging.Stderr)

	// A later merge without the flag does not turn it back off.
	cfg.mergeWith(&Config{})
	assert.True(t, cfg.Logging.Stderr)
}

func TestMergeWith_PartialSectionKeepsSiblings(t *testing.T) {
	// Given: an override that sets only geocoding.primary_base_url
	cfg := NewConfig()
	cfg.mergeWith(&Config{Geocoding: GeocodingConfig{PrimaryBaseURL: "https://geo.example.id"}})

	// Then: the fallback chain and cache settings are untouched
	assert.Equal(t, "https://geo.example.id", cfg.Geocoding.PrimaryBaseURL)
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.Geocoding.FallbackBaseURL)
	assert.Equal(t, "Medan", cfg.Geocoding.DefaultCity)
	assert.Equal(t, 86400, cfg.Geocoding.CacheTTLS)
}

// =============================================================================
// File handling edge cases
// =============================================================================

func TestLoad_EmptyYamlFile_ReturnsDefaults(t *testing.T) {
	isolateUserConfig(t)
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "rumahcari.yaml"), []byte(""), 0o644))

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "hybrid", cfg.Retrieval.DefaultMethod)
}

func TestLoad_UnknownKeys_Ignored(t *testing.T) {
	// Forward compatibility: configs written by newer releases still load.
	isolateUserConfig(t)
	tmpDir := t.TempDir()
	content := "version: 1\nfuture_section:\n  knob: 42\nserver:\n  port: 9090\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "rumahcari.yaml"), []byte(content), 0o644))

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_CommentOnlyYamlFile_ReturnsDefaults(t *testing.T) {
	isolateUserConfig(t)
	tmpDir := t.TempDir()
	content := "# rumahcari config\n# nothing enabled yet\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "rumahcari.yaml"), []byte(content), 0o644))

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "hybrid", cfg.Retrieval.DefaultMethod)
}

func TestLoad_UnreadableUserConfig_ReturnsError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission bits are ignored for root")
	}

	xdg := isolateUserConfig(t)
	userDir := filepath.Join(xdg, "rumahcari")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	userPath := filepath.Join(userDir, "config.yaml")
	require.NoError(t, os.WriteFile(userPath, []byte("version: 1\n"), 0o000))

	_, err := Load(t.TempDir())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "user config")
}

func TestParseFloat64(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"0.6", 0.6, false},
		{" 0.75 ", 0.75, false},
		{"1", 1.0, false},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := parseFloat64(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestDefaultDataDir_FallsBackToTempDir(t *testing.T) {
	// HOME unset forces the temp-dir fallback.
	t.Setenv("HOME", "")

	dir := defaultDataDir()

	assert.True(t, strings.HasSuffix(dir, ".rumahcari"))
}
