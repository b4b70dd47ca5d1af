package cmd

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hunianlab/rumahcari/internal/httpapi"
	"github.com/hunianlab/rumahcari/internal/ingest"
	"github.com/hunianlab/rumahcari/internal/knowledge"
	"github.com/hunianlab/rumahcari/internal/memory"
	"github.com/hunianlab/rumahcari/internal/output"
	"github.com/hunianlab/rumahcari/internal/store"
)

// StatusInfo is what the status command reports.
type StatusInfo struct {
	Environment string    `json:"environment"`
	DataDir     string    `json:"data_dir"`
	BackendURL  string    `json:"backend_url"`
	ServerUp    bool      `json:"server_running"`
	SyncDaemon  bool      `json:"sync_daemon_running"`
	LastSyncAt  time.Time `json:"last_sync_at,omitzero"`
	SyncCycles  int64     `json:"sync_cycles"`

	Collections []store.CollectionStats `json:"collections"`
	Threads     int                     `json:"threads"`
	Knowledge   int                     `json:"knowledge_count"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show deployment status",
		Long: `Display the deployment at a glance: whether the server and sync
daemon are running, when the last sync finished, and how much data the
local indexes hold.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	info := StatusInfo{
		Environment: cfg.Environment,
		DataDir:     cfg.DataDir,
		BackendURL:  cfg.Backend.BaseURL,
	}

	info.ServerUp = httpapi.NewPIDFile(cfg.PidFilePath()).IsRunning()
	syncPid := filepath.Join(filepath.Dir(cfg.PidFilePath()), "rumahcari-sync.pid")
	info.SyncDaemon = httpapi.NewPIDFile(syncPid).IsRunning()

	if st, err := ingest.LoadState(cfg.SyncStatePath()); err == nil {
		info.LastSyncAt = st.LastSyncAt
		info.SyncCycles = st.Cycles
	}

	vectors := store.NewStore(cfg.IndexDir())
	if collections, err := vectors.Stats(); err == nil {
		info.Collections = collections
	}
	_ = vectors.Close()

	if fileExists(cfg.MemoryDBPath()) {
		if memStore, err := memory.Open(cfg.MemoryDBPath(), nil); err == nil {
			if threads, err := memStore.Threads(cmd.Context()); err == nil {
				info.Threads = len(threads)
			}
			_ = memStore.Close()
		}
	}

	if know, err := knowledge.New(cfg.KnowledgePath(), cfg.Knowledge); err == nil {
		if n, err := know.Count(); err == nil {
			info.Knowledge = n
		}
		_ = know.Close()
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	out := output.New(cmd.OutOrStdout())
	out.Printf("Environment:  %s\n", info.Environment)
	out.Printf("Data dir:     %s\n", info.DataDir)
	out.Printf("Backend:      %s\n", info.BackendURL)
	out.Printf("Server:       %s\n", runningLabel(info.ServerUp))
	out.Printf("Sync daemon:  %s\n", runningLabel(info.SyncDaemon))
	if !info.LastSyncAt.IsZero() {
		out.Printf("Last sync:    %s (%d cycles)\n",
			info.LastSyncAt.Format("2006-01-02 15:04:05"), info.SyncCycles)
	} else {
		out.Println("Last sync:    never")
	}

	out.Newline()
	if len(info.Collections) == 0 {
		out.Println("Vector index: empty")
	}
	for _, c := range info.Collections {
		out.Printf("Vector index: %s — %d entries, %d dims\n", c.ModelID, c.Count, c.Dimensions)
	}
	out.Printf("Threads:      %d\n", info.Threads)
	out.Printf("Knowledge:    %d snippets\n", info.Knowledge)
	return nil
}

func runningLabel(up bool) string {
	if up {
		return "running"
	}
	return "stopped"
}
