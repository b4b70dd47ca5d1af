package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.rumahcari/logs/).
// Falls back to the temp directory if the home directory is unavailable.
// Deployments with a custom data_dir pass explicit paths instead.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".rumahcari", "logs")
	}
	return filepath.Join(home, ".rumahcari", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "rumahcari.log")
}

// SyncLogPath returns the log path of the standalone sync worker.
func SyncLogPath() string {
	return filepath.Join(DefaultLogDir(), "sync.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceServer is the HTTP server and agent logs (default).
	LogSourceServer LogSource = "server"
	// LogSourceSync is the standalone sync worker logs.
	LogSourceSync LogSource = "sync"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile attempts to find the log file for viewing.
// Priority:
//  1. Explicit path (if provided)
//  2. ~/.rumahcari/logs/rumahcari.log
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found. The server may not have run yet.\nExpected at: %s", globalPath)
}

// FindLogFileBySource finds log files based on the source type.
// Returns the log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	// Explicit path takes precedence
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceServer:
		serverPath := DefaultLogPath()
		checked = append(checked, serverPath)
		if _, err := os.Stat(serverPath); err == nil {
			paths = append(paths, serverPath)
		}

	case LogSourceSync:
		syncPath := SyncLogPath()
		checked = append(checked, syncPath)
		if _, err := os.Stat(syncPath); err == nil {
			paths = append(paths, syncPath)
		}

	case LogSourceAll:
		serverPath := DefaultLogPath()
		syncPath := SyncLogPath()
		checked = append(checked, serverPath, syncPath)

		if _, err := os.Stat(serverPath); err == nil {
			paths = append(paths, serverPath)
		}
		if _, err := os.Stat(syncPath); err == nil {
			paths = append(paths, syncPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: server, sync, all)", source)
	}

	if len(paths) == 0 {
		hint := getLogHint(source)
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, hint)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "sync":
		return LogSourceSync
	case "all":
		return LogSourceAll
	default:
		return LogSourceServer
	}
}

// EnsureLogDir creates the default log directory if it doesn't exist.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}

// getLogHint returns a message on how to generate logs for the source.
func getLogHint(source LogSource) string {
	switch source {
	case LogSourceServer:
		return "To generate server logs:\n  rumahcari serve"
	case LogSourceSync:
		return "To generate sync logs:\n  rumahcari sync"
	case LogSourceAll:
		return "To generate logs:\n  server: rumahcari serve\n  sync:   rumahcari sync"
	default:
		return ""
	}
}
