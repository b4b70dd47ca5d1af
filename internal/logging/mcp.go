package logging

import (
	"log/slog"
)

// SetupMCPMode initializes logging for MCP server mode.
//
// The MCP protocol uses stdout exclusively for JSON-RPC; any stray byte
// on stdout or stderr corrupts the stream and the client drops the
// connection. So in MCP mode logs go to the file only, at debug level
// for complete diagnostics.
func SetupMCPMode() (func(), error) {
	cfg := Config{
		Level:         "debug",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      3,
		WriteToStderr: false, // stderr must stay silent in MCP mode
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)

	slog.Info("MCP mode logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level),
		slog.Bool("stderr_disabled", true))

	return cleanup, nil
}

// SetupMCPModeWithLevel initializes MCP-safe logging with a specific level.
func SetupMCPModeWithLevel(level string) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      3,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	return cleanup, nil
}
