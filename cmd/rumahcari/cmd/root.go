// Package cmd provides the CLI commands for rumahcari.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hunianlab/rumahcari/internal/config"
	"github.com/hunianlab/rumahcari/internal/logging"
	"github.com/hunianlab/rumahcari/internal/profiling"
	"github.com/hunianlab/rumahcari/pkg/version"
)

// Shared flags every subcommand inherits.
var (
	cfgFile string
	dataDir string
)

// Profiling flags.
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// Debug logging flag.
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the rumahcari CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rumahcari",
		Short: "Hybrid property retrieval engine for Medan real estate",
		Long: `Rumahcari indexes property listings and developer projects from the
Property Backend, serves hybrid (API + vector) retrieval, and fronts it
with a tool-calling chat agent for sales assistants.

Typical flow:
  rumahcari init      # write a project config
  rumahcari sync      # pull listings and build the vector index
  rumahcari serve     # start the HTTP chat API (or --mcp for MCP clients)`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("rumahcari version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a config file (default: rumahcari.yaml in the working directory)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newEvalCmd())
	cmd.AddCommand(newThreadsCmd())
	cmd.AddCommand(newCompactCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newKnowledgeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig resolves the effective configuration for a subcommand,
// honoring --config and --data-dir.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
	} else {
		dir, wdErr := os.Getwd()
		if wdErr != nil {
			dir = "."
		}
		cfg, err = config.Load(dir)
	}
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

// setupLogging routes slog through the configured rotating file.
// stderr additionally mirrors records to stderr, for long-running
// foreground commands.
func setupLogging(cfg *config.Config, stderr bool) (*slog.Logger, func(), error) {
	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.LogFilePath(),
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxBackups,
		WriteToStderr: stderr || cfg.Logging.Stderr,
	}
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

// startProfilingAndLogging starts CPU/trace profiling and debug logging
// if the flags are set.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error

	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("start CPU profile: %w", err)
		}
	}

	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("start trace: %w", err)
		}
	}

	return nil
}

// stopProfilingAndLogging stops profiling and logging, and writes the
// memory profile if requested.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}

	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("write memory profile: %w", err)
		}
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}

	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
