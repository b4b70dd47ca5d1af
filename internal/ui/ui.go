// Package ui provides terminal UI components for the sync and eval
// commands: a bubbletea renderer for interactive terminals and a plain
// line renderer for pipes and CI.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is one phase of a sync cycle.
type Stage int

const (
	// StageFetch pulls pending records from the backend.
	StageFetch Stage = iota
	// StageEmbed generates vectors for the fetched documents.
	StageEmbed
	// StageIndex writes entries into the vector index.
	StageIndex
	// StageComplete indicates the cycle finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageFetch:
		return "Fetch"
	case StageEmbed:
		return "Embed"
	case StageIndex:
		return "Index"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageFetch:
		return "FETCH"
	case StageEmbed:
		return "EMBED"
	case StageIndex:
		return "INDEX"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ParseStage maps the pipeline's progress labels onto stages.
func ParseStage(label string) Stage {
	switch label {
	case "fetch":
		return StageFetch
	case "embed":
		return StageEmbed
	case "index":
		return StageIndex
	default:
		return StageComplete
	}
}

// ProgressEvent is one progress update from the pipeline.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	// Slug identifies the record being processed, when known.
	Slug    string
	Message string
}

// ErrorEvent is a record-level failure surfaced during a cycle.
type ErrorEvent struct {
	Slug   string
	Err    error
	IsWarn bool
}

// EmbedderInfo describes the embedding backend used for the cycle.
type EmbedderInfo struct {
	Provider   string
	Model      string
	Dimensions int
}

// CompletionStats summarizes a finished sync cycle.
type CompletionStats struct {
	Attempted int
	Embedded  int
	Upserted  int
	Deleted   int
	Failed    int
	Duration  time.Duration
	Embedder  EmbedderInfo
}

// Renderer displays sync progress.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates the progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds a record failure to the display.
	AddError(event ErrorEvent)

	// Complete marks the run finished with a summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Title is shown in the panel header, e.g. the backend base URL.
	Title string
}

// ConfigOption modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithTitle sets the panel header title.
func WithTitle(title string) ConfigOption {
	return func(c *Config) {
		c.Title = title
	}
}

// NewConfig creates a Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks a renderer for the environment: the bubbletea TUI on
// an interactive terminal, plain lines for pipes, CI, or --plain.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks whether the writer is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether the process runs under a CI system.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
