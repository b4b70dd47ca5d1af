package cmd

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hunianlab/rumahcari/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		skipRemote bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the deployment and diagnose issues",
		Long: `Run diagnostics against the local state and the remote collaborators.

Checks:
  - Configuration validity
  - Disk space and data-dir write permissions
  - Vector index integrity
  - Conversation database integrity
  - Property Backend, embedder, LLM, and geocoder reachability

Backend failures are critical; embedder, LLM, and geocoder failures are
warnings, since retrieval degrades to API-only without them.`,
		Example: `  # Full diagnostics
  rumahcari doctor

  # Local checks only (no network)
  rumahcari doctor --skip-remote

  # JSON output for scripting
  rumahcari doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, jsonOutput, skipRemote)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&skipRemote, "skip-remote", false, "Skip remote reachability checks")

	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput, skipRemote bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checker := preflight.New(cfg,
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithSkipRemote(skipRemote),
	)

	results := checker.RunAll(ctx)

	if jsonOutput {
		if err := outputDoctorJSON(cmd, checker, results); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		_ = preflight.ClearMarker(cfg.DataDir)
		return &doctorError{message: "system check failed"}
	}

	if !skipRemote {
		if err := preflight.MarkPassed(cfg.DataDir); err != nil {
			cmd.PrintErrf("warning: could not record check marker: %v\n", err)
		}
	}
	return nil
}

// doctorError keeps the exit status non-zero without cobra re-printing
// usage for a failed health check.
type doctorError struct {
	message string
}

func (e *doctorError) Error() string {
	return e.message
}

// DoctorJSON is the machine-readable doctor output.
type DoctorJSON struct {
	Status   string            `json:"status"`
	Checks   []DoctorCheckJSON `json:"checks"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

// DoctorCheckJSON is one check in the JSON output.
type DoctorCheckJSON struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func outputDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	out := DoctorJSON{
		Status: checker.SummaryStatus(results),
		Checks: make([]DoctorCheckJSON, len(results)),
	}

	for i, r := range results {
		out.Checks[i] = DoctorCheckJSON{
			Name:     r.Name,
			Status:   statusLabel(r.Status),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}
		if r.IsCritical() {
			out.Errors = append(out.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			out.Warnings = append(out.Warnings, r.Name+": "+r.Message)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func statusLabel(s preflight.CheckStatus) string {
	switch s {
	case preflight.StatusPass:
		return "pass"
	case preflight.StatusWarn:
		return "warn"
	case preflight.StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}
