package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hunianlab/rumahcari/internal/httpapi"
	"github.com/hunianlab/rumahcari/internal/mcp"
	"github.com/hunianlab/rumahcari/pkg/retrieval"
)

func newServeCmd() *cobra.Command {
	var (
		addr     string
		mcpMode  bool
		pprofOn  bool
		noPid    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API server",
		Long: `Start the HTTP chat API: POST /chat, POST /chat/stream (SSE),
GET /health, GET /methods.

With --mcp the engine is exposed over the Model Context Protocol on
stdio instead; stdout then carries JSON-RPC exclusively and all logs go
to the log file.`,
		Example: `  # HTTP API on the configured address
  rumahcari serve

  # Expose the tools to an MCP client (Claude Desktop, editors)
  rumahcari serve --mcp

  # Development: pprof on the same listener
  rumahcari serve --pprof`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, addr, mcpMode, pprofOn, noPid)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: from config)")
	cmd.Flags().BoolVar(&mcpMode, "mcp", false, "Serve MCP over stdio instead of HTTP")
	cmd.Flags().BoolVar(&pprofOn, "pprof", false, "Mount /debug/pprof on the listener")
	cmd.Flags().BoolVar(&noPid, "no-pidfile", false, "Skip writing the pid file")

	return cmd
}

func runServe(cmd *cobra.Command, addr string, mcpMode, pprofOn, noPid bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// MCP owns stdout; keep logs off stderr there too, MCP clients
	// surface stderr noise to users.
	logger, cleanup, err := setupLogging(cfg, !mcpMode)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(ctx, cfg, logger,
		retrieval.WithAggregates(),
		retrieval.WithExperimentWatch(),
	)
	if err != nil {
		return err
	}
	defer eng.Close()

	if mcpMode {
		server, err := mcp.NewServer(
			eng.Stack.Retriever, eng.Stack.Backend, eng.Knowledge, eng.Stack.Geocoder,
			mcp.WithLogger(logger))
		if err != nil {
			return err
		}
		return server.Serve(ctx)
	}

	if addr == "" {
		addr = cfg.ListenAddr()
	}
	pidFile := cfg.PidFilePath()
	if noPid {
		pidFile = ""
	}

	server, err := httpapi.NewServer(eng.Agent, httpapi.Config{
		Addr:            addr,
		Environment:     cfg.Environment,
		DefaultMethod:   cfg.Retrieval.DefaultMethod,
		PidFile:         pidFile,
		Pprof:           pprofOn || cfg.Server.Pprof,
		ShutdownTimeout: 10 * time.Second,
	}, logger)
	if err != nil {
		return err
	}

	cmd.Printf("Listening on %s\n", addr)
	return server.ListenAndServe(ctx)
}
