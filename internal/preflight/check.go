package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hunianlab/rumahcari/internal/config"
)

// CheckStatus is the outcome of one doctor check.
type CheckStatus int

const (
	// StatusPass indicates the check passed.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical problem.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports whether a required check failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs the doctor checks against a loaded configuration.
type Checker struct {
	cfg     *config.Config
	verbose bool
	output  io.Writer
	// skipRemote disables checks that reach external services.
	skipRemote bool
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose enables detail lines in the printed report.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the report writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// WithSkipRemote skips the backend, embedder, LLM, and geocoder checks.
func WithSkipRemote(skip bool) Option {
	return func(c *Checker) {
		c.skipRemote = skip
	}
}

// New creates a Checker for the given configuration.
func New(cfg *config.Config, opts ...Option) *Checker {
	c := &Checker{
		cfg:    cfg,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check and returns the results in display order.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := []CheckResult{
		c.CheckConfig(),
		c.CheckDiskSpace(c.cfg.DataDir),
		c.CheckWritePermissions(c.cfg.DataDir),
		c.CheckVectorIndex(),
		c.CheckMemoryDB(),
	}
	if !c.skipRemote {
		results = append(results,
			c.CheckBackend(ctx),
			c.CheckEmbedder(ctx),
			c.CheckLLM(ctx),
			c.CheckGeocoder(ctx),
		)
	}
	return results
}

// HasCriticalFailures reports whether any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus condenses the results into ready / ready_with_warnings
// / failed.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints the report to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "rumahcari doctor")
	_, _ = fmt.Fprintln(c.output, "================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var warnings, errors []string
	for _, r := range results {
		switch {
		case r.IsCritical():
			errors = append(errors, r.Name+": "+r.Message)
		case r.Status == StatusWarn || r.Status == StatusFail:
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}
	if len(errors) > 0 {
		_, _ = fmt.Fprintf(c.output, "\n%d error(s):\n", len(errors))
		for _, e := range errors {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", e)
		}
	}
	if len(warnings) > 0 {
		_, _ = fmt.Fprintf(c.output, "\n%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", w)
		}
	}
}

// CheckConfig validates the loaded configuration.
func (c *Checker) CheckConfig() CheckResult {
	result := CheckResult{Name: "config", Required: true}
	if c.cfg == nil {
		result.Status = StatusFail
		result.Message = "no configuration loaded"
		return result
	}
	if err := c.cfg.Validate(); err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	result.Status = StatusPass
	result.Message = "OK"
	result.Details = "data dir: " + c.cfg.DataDir
	return result
}

// CheckWritePermissions verifies the data directory is writable.
func (c *Checker) CheckWritePermissions(path string) CheckResult {
	result := CheckResult{Name: "write_permissions", Required: true}

	if err := os.MkdirAll(path, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("create data dir: %v", err)
		return result
	}
	testFile := filepath.Join(path, ".rumahcari-doctor-test")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}
