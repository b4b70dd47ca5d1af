package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment names accepted in config and reported by /health.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the complete rumahcari configuration.
// Precedence: defaults < user config < project config < RUMAHCARI_* env.
type Config struct {
	Version     int    `yaml:"version" json:"version"`
	Environment string `yaml:"environment" json:"environment"`

	// DataDir is the root for all persisted state: vector index,
	// conversation DB, knowledge index, metrics, eval reports.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Server    ServerConfig    `yaml:"server" json:"server"`
	Backend   BackendConfig   `yaml:"backend" json:"backend"`
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Geocoding GeocodingConfig `yaml:"geocoding" json:"geocoding"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Agent     AgentConfig     `yaml:"agent" json:"agent"`
	Memory    MemoryConfig    `yaml:"memory" json:"memory"`
	Sync      SyncConfig      `yaml:"sync" json:"sync"`
	Knowledge KnowledgeConfig `yaml:"knowledge" json:"knowledge"`
	AB        ABConfig        `yaml:"ab" json:"ab"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Eval      EvalConfig      `yaml:"eval" json:"eval"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// ServerConfig configures the public HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// PidFile defaults to <data_dir>/run/rumahcari.pid when empty.
	PidFile string `yaml:"pid_file" json:"pid_file"`

	// Pprof exposes /debug/pprof on the same listener.
	Pprof bool `yaml:"pprof" json:"pprof"`
}

// BackendConfig configures the Property Backend client.
type BackendConfig struct {
	BaseURL  string `yaml:"base_url" json:"base_url"`
	APIKey   string `yaml:"api_key" json:"api_key"`
	TimeoutS int    `yaml:"timeout_s" json:"timeout_s"`

	// PageSize is the per_page used when paging /properties.
	PageSize int `yaml:"page_size" json:"page_size"`
}

// LLMConfig configures the chat-completion provider (OpenAI-compatible).
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	APIKey      string  `yaml:"api_key" json:"api_key"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	TimeoutS    int     `yaml:"timeout_s" json:"timeout_s"`

	// SummaryModel is used for memory compaction. Empty reuses Model.
	SummaryModel string `yaml:"summary_model" json:"summary_model"`
}

// EmbeddingConfig configures the text-embedding provider and its cache.
type EmbeddingConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint), "static"
	// (deterministic, offline), or empty for auto-detection.
	Provider string `yaml:"provider" json:"provider"`

	BaseURL    string `yaml:"base_url" json:"base_url"`
	APIKey     string `yaml:"api_key" json:"api_key"`
	ModelID    string `yaml:"model_id" json:"model_id"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	TimeoutS   int    `yaml:"timeout_s" json:"timeout_s"`

	CacheTTLS int `yaml:"cache_ttl_s" json:"cache_ttl_s"`
	CacheMax  int `yaml:"cache_max" json:"cache_max"`
}

// GeocodingConfig configures the two-provider geocoding chain.
type GeocodingConfig struct {
	// PrimaryBaseURL and PrimaryAPIKey select the key-based provider.
	// Empty PrimaryBaseURL skips straight to the fallback.
	PrimaryBaseURL string `yaml:"primary_base_url" json:"primary_base_url"`
	PrimaryAPIKey  string `yaml:"primary_api_key" json:"primary_api_key"`

	// FallbackBaseURL is the open provider; it requires a User-Agent.
	FallbackBaseURL string `yaml:"fallback_base_url" json:"fallback_base_url"`
	UserAgent       string `yaml:"user_agent" json:"user_agent"`

	// DefaultCity disambiguates bare landmark names ("USU" → "USU, Medan").
	DefaultCity string `yaml:"default_city" json:"default_city"`

	// TimeoutS is the wall-clock budget across both providers.
	TimeoutS  int `yaml:"timeout_s" json:"timeout_s"`
	CacheTTLS int `yaml:"cache_ttl_s" json:"cache_ttl_s"`
	CacheMax  int `yaml:"cache_max" json:"cache_max"`
}

// RetrievalConfig configures the hybrid retriever.
type RetrievalConfig struct {
	// DefaultMethod is "hybrid", "api_only", or "vector_only".
	DefaultMethod string `yaml:"default_method" json:"default_method"`

	// SemanticWeight is w in w*semantic + (1-w)*api_position.
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`

	// Proximity fallback radii: start at DefaultRadiusKM, widen once
	// to MaxRadiusKM when the first circle is empty.
	DefaultRadiusKM float64 `yaml:"default_radius_km" json:"default_radius_km"`
	MaxRadiusKM     float64 `yaml:"max_radius_km" json:"max_radius_km"`

	// DetailConcurrency bounds parallel authoritative-detail fetches.
	DetailConcurrency int `yaml:"detail_concurrency" json:"detail_concurrency"`
}

// AgentConfig configures the conversation loop.
type AgentConfig struct {
	MaxToolHops    int `yaml:"max_tool_hops" json:"max_tool_hops"`
	TurnDeadlineMS int `yaml:"turn_deadline_ms" json:"turn_deadline_ms"`
	ToolDeadlineMS int `yaml:"tool_deadline_ms" json:"tool_deadline_ms"`
}

// MemoryConfig configures conversation memory.
type MemoryConfig struct {
	// Path defaults to <data_dir>/memory.db when empty.
	Path string `yaml:"path" json:"path"`

	// Window is the number of recent messages sent to the model.
	Window int `yaml:"window" json:"window"`

	// SummarizeThreshold triggers compaction of older messages.
	SummarizeThreshold int `yaml:"summarize_threshold" json:"summarize_threshold"`

	// Compact deletes summarized messages instead of retaining them.
	Compact bool `yaml:"compact" json:"compact"`
}

// SyncConfig configures the ingestion pipeline.
type SyncConfig struct {
	IntervalMinutes int `yaml:"interval_minutes" json:"interval_minutes"`
	BatchLimit      int `yaml:"batch_limit" json:"batch_limit"`

	// StatePath defaults to <data_dir>/sync-state.json when empty.
	StatePath string `yaml:"state_path" json:"state_path"`
}

// KnowledgeConfig configures the sales-knowledge full-text index.
type KnowledgeConfig struct {
	// Backend is "fts5" (default, concurrent access) or "bleve" (legacy).
	Backend string `yaml:"backend" json:"backend"`

	// Path defaults to <data_dir>/knowledge when empty.
	Path string `yaml:"path" json:"path"`
}

// ABConfig configures the A/B method router.
type ABConfig struct {
	// ExperimentsPath defaults to <data_dir>/experiments.yaml when empty.
	ExperimentsPath string `yaml:"experiments_path" json:"experiments_path"`

	// Watch hot-reloads the experiments file on change.
	Watch bool `yaml:"watch" json:"watch"`
}

// MetricsConfig configures the JSONL metrics sink.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Dir defaults to <data_dir>/metrics when empty.
	Dir string `yaml:"dir" json:"dir"`
}

// EvalConfig configures the constraint evaluator.
type EvalConfig struct {
	// GoldPath defaults to <data_dir>/gold.json when empty.
	GoldPath string `yaml:"gold_path" json:"gold_path"`

	// ThresholdT and PriceTolerance override the gold file defaults
	// when non-zero.
	ThresholdT     float64 `yaml:"threshold_t" json:"threshold_t"`
	PriceTolerance float64 `yaml:"price_tolerance" json:"price_tolerance"`

	// ReportDir defaults to <data_dir>/eval when empty.
	ReportDir string `yaml:"report_dir" json:"report_dir"`
}

// LoggingConfig configures the rotating JSON log.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`

	// File defaults to <data_dir>/logs/rumahcari.log when empty.
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`

	// Stderr mirrors log records to stderr in addition to the file.
	Stderr bool `yaml:"stderr" json:"stderr"`
}

// NewConfig creates a Config with defaults tuned on the Medan deployment:
// local OpenAI-compatible providers, hybrid retrieval at 0.6 semantic
// weight, hourly sync.
func NewConfig() *Config {
	return &Config{
		Version:     1,
		Environment: EnvDevelopment,
		DataDir:     defaultDataDir(),
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Backend: BackendConfig{
			BaseURL:  "http://localhost:8000",
			TimeoutS: 20,
			PageSize: 25,
		},
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434/v1",
			Model:       "qwen3:8b",
			Temperature: 0.2,
			MaxTokens:   2048,
			TimeoutS:    60,
		},
		Embedding: EmbeddingConfig{
			Provider:   "", // Empty triggers auto-detection: openai endpoint → static
			BaseURL:    "http://localhost:11434/v1",
			ModelID:    "nomic-embed-text",
			Dimensions: 0, // Auto-detect from the first embedding
			BatchSize:  32,
			TimeoutS:   30,
			CacheTTLS:  3600,
			CacheMax:   10000,
		},
		Geocoding: GeocodingConfig{
			FallbackBaseURL: "https://nominatim.openstreetmap.org",
			UserAgent:       "rumahcari/1.0 (property-search; contact: ops@hunianlab.id)",
			DefaultCity:     "Medan",
			TimeoutS:        10,
			CacheTTLS:       86400,
			CacheMax:        500,
		},
		Retrieval: RetrievalConfig{
			DefaultMethod:     "hybrid",
			SemanticWeight:    0.6,
			DefaultRadiusKM:   2.0,
			MaxRadiusKM:       5.0,
			DetailConcurrency: 8,
		},
		Agent: AgentConfig{
			MaxToolHops:    6,
			TurnDeadlineMS: 60000,
			ToolDeadlineMS: 20000,
		},
		Memory: MemoryConfig{
			Window:             20,
			SummarizeThreshold: 50,
		},
		Sync: SyncConfig{
			IntervalMinutes: 60,
			BatchLimit:      200,
		},
		Knowledge: KnowledgeConfig{
			Backend: "fts5",
		},
		AB: ABConfig{
			Watch: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Eval: EvalConfig{
			ThresholdT:     0, // 0 = use the gold file default (0.6)
			PriceTolerance: 0, // 0 = use the gold file default
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// defaultDataDir returns the default persisted-state root.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".rumahcari")
	}
	return filepath.Join(home, ".rumahcari")
}

// GetUserConfigPath returns the path to the user configuration file,
// following the XDG Base Directory layout.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rumahcari", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "rumahcari", "config.yaml")
	}
	return filepath.Join(home, ".config", "rumahcari", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration for the given working directory.
// Precedence, low to high:
//  1. Hardcoded defaults
//  2. User config (~/.config/rumahcari/config.yaml)
//  3. Project config (rumahcari.yaml in dir)
//  4. Environment variables (RUMAHCARI_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile loads a single explicit config file over the defaults, then
// applies env overrides. Used by --config.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if !fileExists(path) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile attempts to load rumahcari.yaml or rumahcari.yml from dir.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, "rumahcari.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, "rumahcari.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c. Booleans that
// default to true (metrics.enabled, ab.watch) merge only when a sibling
// field in their section was set, since YAML cannot distinguish "absent"
// from "false".
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Environment != "" {
		c.Environment = other.Environment
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	// Server
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.PidFile != "" {
		c.Server.PidFile = other.Server.PidFile
	}
	if other.Server.Pprof {
		c.Server.Pprof = true
	}

	// Backend
	if other.Backend.BaseURL != "" {
		c.Backend.BaseURL = other.Backend.BaseURL
	}
	if other.Backend.APIKey != "" {
		c.Backend.APIKey = other.Backend.APIKey
	}
	if other.Backend.TimeoutS != 0 {
		c.Backend.TimeoutS = other.Backend.TimeoutS
	}
	if other.Backend.PageSize != 0 {
		c.Backend.PageSize = other.Backend.PageSize
	}

	// LLM
	if other.LLM.BaseURL != "" {
		c.LLM.BaseURL = other.LLM.BaseURL
	}
	if other.LLM.APIKey != "" {
		c.LLM.APIKey = other.LLM.APIKey
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.TimeoutS != 0 {
		c.LLM.TimeoutS = other.LLM.TimeoutS
	}
	if other.LLM.SummaryModel != "" {
		c.LLM.SummaryModel = other.LLM.SummaryModel
	}

	// Embedding
	if other.Embedding.Provider != "" {
		c.Embedding.Provider = other.Embedding.Provider
	}
	if other.Embedding.BaseURL != "" {
		c.Embedding.BaseURL = other.Embedding.BaseURL
	}
	if other.Embedding.APIKey != "" {
		c.Embedding.APIKey = other.Embedding.APIKey
	}
	if other.Embedding.ModelID != "" {
		c.Embedding.ModelID = other.Embedding.ModelID
	}
	if other.Embedding.Dimensions != 0 {
		c.Embedding.Dimensions = other.Embedding.Dimensions
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}
	if other.Embedding.TimeoutS != 0 {
		c.Embedding.TimeoutS = other.Embedding.TimeoutS
	}
	if other.Embedding.CacheTTLS != 0 {
		c.Embedding.CacheTTLS = other.Embedding.CacheTTLS
	}
	if other.Embedding.CacheMax != 0 {
		c.Embedding.CacheMax = other.Embedding.CacheMax
	}

	// Geocoding
	if other.Geocoding.PrimaryBaseURL != "" {
		c.Geocoding.PrimaryBaseURL = other.Geocoding.PrimaryBaseURL
	}
	if other.Geocoding.PrimaryAPIKey != "" {
		c.Geocoding.PrimaryAPIKey = other.Geocoding.PrimaryAPIKey
	}
	if other.Geocoding.FallbackBaseURL != "" {
		c.Geocoding.FallbackBaseURL = other.Geocoding.FallbackBaseURL
	}
	if other.Geocoding.UserAgent != "" {
		c.Geocoding.UserAgent = other.Geocoding.UserAgent
	}
	if other.Geocoding.DefaultCity != "" {
		c.Geocoding.DefaultCity = other.Geocoding.DefaultCity
	}
	if other.Geocoding.TimeoutS != 0 {
		c.Geocoding.TimeoutS = other.Geocoding.TimeoutS
	}
	if other.Geocoding.CacheTTLS != 0 {
		c.Geocoding.CacheTTLS = other.Geocoding.CacheTTLS
	}
	if other.Geocoding.CacheMax != 0 {
		c.Geocoding.CacheMax = other.Geocoding.CacheMax
	}

	// Retrieval
	if other.Retrieval.DefaultMethod != "" {
		c.Retrieval.DefaultMethod = other.Retrieval.DefaultMethod
	}
	if other.Retrieval.SemanticWeight != 0 {
		c.Retrieval.SemanticWeight = other.Retrieval.SemanticWeight
	}
	if other.Retrieval.DefaultRadiusKM != 0 {
		c.Retrieval.DefaultRadiusKM = other.Retrieval.DefaultRadiusKM
	}
	if other.Retrieval.MaxRadiusKM != 0 {
		c.Retrieval.MaxRadiusKM = other.Retrieval.MaxRadiusKM
	}
	if other.Retrieval.DetailConcurrency != 0 {
		c.Retrieval.DetailConcurrency = other.Retrieval.DetailConcurrency
	}

	// Agent
	if other.Agent.MaxToolHops != 0 {
		c.Agent.MaxToolHops = other.Agent.MaxToolHops
	}
	if other.Agent.TurnDeadlineMS != 0 {
		c.Agent.TurnDeadlineMS = other.Agent.TurnDeadlineMS
	}
	if other.Agent.ToolDeadlineMS != 0 {
		c.Agent.ToolDeadlineMS = other.Agent.ToolDeadlineMS
	}

	// Memory
	if other.Memory.Path != "" {
		c.Memory.Path = other.Memory.Path
	}
	if other.Memory.Window != 0 {
		c.Memory.Window = other.Memory.Window
	}
	if other.Memory.SummarizeThreshold != 0 {
		c.Memory.SummarizeThreshold = other.Memory.SummarizeThreshold
	}

	// Sync
	if other.Sync.IntervalMinutes != 0 {
		c.Sync.IntervalMinutes = other.Sync.IntervalMinutes
	}
	if other.Sync.BatchLimit != 0 {
		c.Sync.BatchLimit = other.Sync.BatchLimit
	}
	if other.Sync.StatePath != "" {
		c.Sync.StatePath = other.Sync.StatePath
	}

	// Knowledge
	if other.Knowledge.Backend != "" {
		c.Knowledge.Backend = other.Knowledge.Backend
	}
	if other.Knowledge.Path != "" {
		c.Knowledge.Path = other.Knowledge.Path
	}

	// AB: Watch defaults to true, so only merge when the section is present
	if other.AB.ExperimentsPath != "" {
		c.AB.ExperimentsPath = other.AB.ExperimentsPath
		c.AB.Watch = other.AB.Watch
	}

	// Metrics: Enabled defaults to true, same treatment
	if other.Metrics.Dir != "" {
		c.Metrics.Dir = other.Metrics.Dir
		c.Metrics.Enabled = other.Metrics.Enabled
	}

	// Eval
	if other.Eval.GoldPath != "" {
		c.Eval.GoldPath = other.Eval.GoldPath
	}
	if other.Eval.ThresholdT != 0 {
		c.Eval.ThresholdT = other.Eval.ThresholdT
	}
	if other.Eval.PriceTolerance != 0 {
		c.Eval.PriceTolerance = other.Eval.PriceTolerance
	}
	if other.Eval.ReportDir != "" {
		c.Eval.ReportDir = other.Eval.ReportDir
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxBackups != 0 {
		c.Logging.MaxBackups = other.Logging.MaxBackups
	}
	if other.Logging.Stderr {
		c.Logging.Stderr = true
	}
}

// applyEnvOverrides applies RUMAHCARI_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RUMAHCARI_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("RUMAHCARI_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("RUMAHCARI_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("RUMAHCARI_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}

	if v := os.Getenv("RUMAHCARI_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("RUMAHCARI_BACKEND_API_KEY"); v != "" {
		c.Backend.APIKey = v
	}

	if v := os.Getenv("RUMAHCARI_LLM_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("RUMAHCARI_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("RUMAHCARI_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}

	if v := os.Getenv("RUMAHCARI_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("RUMAHCARI_EMBEDDING_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("RUMAHCARI_EMBEDDING_MODEL"); v != "" {
		c.Embedding.ModelID = v
	}

	if v := os.Getenv("RUMAHCARI_GEOCODE_API_KEY"); v != "" {
		c.Geocoding.PrimaryAPIKey = v
	}

	// Retrieval tuning (supports explicit zero for semantic weight)
	if v := os.Getenv("RUMAHCARI_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.SemanticWeight = w
		}
	}
	if v := os.Getenv("RUMAHCARI_DEFAULT_METHOD"); v != "" {
		c.Retrieval.DefaultMethod = v
	}

	if v := os.Getenv("RUMAHCARI_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RUMAHCARI_METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("environment must be 'development', 'production', or 'test', got %s", c.Environment)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	validMethods := map[string]bool{"hybrid": true, "api_only": true, "vector_only": true}
	if !validMethods[strings.ToLower(c.Retrieval.DefaultMethod)] {
		return fmt.Errorf("retrieval.default_method must be 'hybrid', 'api_only', or 'vector_only', got %s", c.Retrieval.DefaultMethod)
	}

	if c.Retrieval.SemanticWeight < 0 || c.Retrieval.SemanticWeight > 1 {
		return fmt.Errorf("retrieval.semantic_weight must be between 0 and 1, got %f", c.Retrieval.SemanticWeight)
	}
	if c.Retrieval.DefaultRadiusKM <= 0 {
		return fmt.Errorf("retrieval.default_radius_km must be positive, got %f", c.Retrieval.DefaultRadiusKM)
	}
	if c.Retrieval.MaxRadiusKM < c.Retrieval.DefaultRadiusKM {
		return fmt.Errorf("retrieval.max_radius_km (%.1f) must be at least default_radius_km (%.1f)",
			c.Retrieval.MaxRadiusKM, c.Retrieval.DefaultRadiusKM)
	}
	if c.Retrieval.DetailConcurrency < 1 {
		return fmt.Errorf("retrieval.detail_concurrency must be at least 1, got %d", c.Retrieval.DetailConcurrency)
	}

	if c.Agent.MaxToolHops < 1 {
		return fmt.Errorf("agent.max_tool_hops must be at least 1, got %d", c.Agent.MaxToolHops)
	}
	if c.Agent.TurnDeadlineMS <= 0 {
		return fmt.Errorf("agent.turn_deadline_ms must be positive, got %d", c.Agent.TurnDeadlineMS)
	}
	if c.Agent.ToolDeadlineMS <= 0 || c.Agent.ToolDeadlineMS > c.Agent.TurnDeadlineMS {
		return fmt.Errorf("agent.tool_deadline_ms must be positive and at most turn_deadline_ms, got %d", c.Agent.ToolDeadlineMS)
	}

	if c.Memory.Window < 2 {
		return fmt.Errorf("memory.window must be at least 2, got %d", c.Memory.Window)
	}
	if c.Memory.SummarizeThreshold < c.Memory.Window {
		return fmt.Errorf("memory.summarize_threshold (%d) must be at least memory.window (%d)",
			c.Memory.SummarizeThreshold, c.Memory.Window)
	}

	if c.Sync.IntervalMinutes < 1 {
		return fmt.Errorf("sync.interval_minutes must be at least 1, got %d", c.Sync.IntervalMinutes)
	}
	if c.Sync.BatchLimit < 1 || c.Sync.BatchLimit > 1000 {
		return fmt.Errorf("sync.batch_limit must be between 1 and 1000, got %d", c.Sync.BatchLimit)
	}

	if c.Embedding.Provider != "" { // Empty string triggers auto-detection
		validProviders := map[string]bool{"openai": true, "static": true}
		if !validProviders[strings.ToLower(c.Embedding.Provider)] {
			return fmt.Errorf("embedding.provider must be 'openai', 'static', or empty (auto-detect), got %s", c.Embedding.Provider)
		}
	}
	if c.Embedding.CacheMax < 1 {
		return fmt.Errorf("embedding.cache_max must be at least 1, got %d", c.Embedding.CacheMax)
	}

	if c.Geocoding.TimeoutS < 1 {
		return fmt.Errorf("geocoding.timeout_s must be at least 1, got %d", c.Geocoding.TimeoutS)
	}
	if c.Geocoding.UserAgent == "" {
		return fmt.Errorf("geocoding.user_agent must not be empty (the fallback provider requires it)")
	}

	validBackends := map[string]bool{"fts5": true, "bleve": true}
	if !validBackends[strings.ToLower(c.Knowledge.Backend)] {
		return fmt.Errorf("knowledge.backend must be 'fts5' or 'bleve', got %s", c.Knowledge.Backend)
	}

	if c.Eval.ThresholdT != 0 && (c.Eval.ThresholdT < 0 || c.Eval.ThresholdT > 1) {
		return fmt.Errorf("eval.threshold_t must be between 0 and 1, got %f", c.Eval.ThresholdT)
	}
	if math.Signbit(c.Eval.PriceTolerance) {
		return fmt.Errorf("eval.price_tolerance must not be negative, got %f", c.Eval.PriceTolerance)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// Derived paths. Empty per-section paths resolve against DataDir so the
// whole state tree moves together.

// IndexDir returns the vector index root. Collections (one per model_id)
// live in subdirectories.
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir, "index")
}

// MemoryDBPath returns the conversation database path.
func (c *Config) MemoryDBPath() string {
	if c.Memory.Path != "" {
		return c.Memory.Path
	}
	return filepath.Join(c.DataDir, "memory.db")
}

// MetricsDir returns the JSONL metrics directory.
func (c *Config) MetricsDir() string {
	if c.Metrics.Dir != "" {
		return c.Metrics.Dir
	}
	return filepath.Join(c.DataDir, "metrics")
}

// MetricsDBPath returns the metrics aggregate database path.
func (c *Config) MetricsDBPath() string {
	return filepath.Join(c.MetricsDir(), "aggregates.db")
}

// KnowledgePath returns the knowledge index location.
func (c *Config) KnowledgePath() string {
	if c.Knowledge.Path != "" {
		return c.Knowledge.Path
	}
	return filepath.Join(c.DataDir, "knowledge")
}

// SyncStatePath returns the sync cursor file.
func (c *Config) SyncStatePath() string {
	if c.Sync.StatePath != "" {
		return c.Sync.StatePath
	}
	return filepath.Join(c.DataDir, "sync-state.json")
}

// ExperimentsPath returns the A/B experiments file.
func (c *Config) ExperimentsPath() string {
	if c.AB.ExperimentsPath != "" {
		return c.AB.ExperimentsPath
	}
	return filepath.Join(c.DataDir, "experiments.yaml")
}

// GoldPath returns the evaluation gold set file.
func (c *Config) GoldPath() string {
	if c.Eval.GoldPath != "" {
		return c.Eval.GoldPath
	}
	return filepath.Join(c.DataDir, "gold.json")
}

// EvalReportDir returns the evaluation report directory.
func (c *Config) EvalReportDir() string {
	if c.Eval.ReportDir != "" {
		return c.Eval.ReportDir
	}
	return filepath.Join(c.DataDir, "eval")
}

// LogFilePath returns the rotating log file path.
func (c *Config) LogFilePath() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(c.DataDir, "logs", "rumahcari.log")
}

// PidFilePath returns the server pidfile path.
func (c *Config) PidFilePath() string {
	if c.Server.PidFile != "" {
		return c.Server.PidFile
	}
	return filepath.Join(c.DataDir, "run", "rumahcari.pid")
}

// ListenAddr returns the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
