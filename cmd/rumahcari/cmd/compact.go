package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hunianlab/rumahcari/internal/llm"
	"github.com/hunianlab/rumahcari/internal/memory"
	"github.com/hunianlab/rumahcari/internal/validation"
)

func newCompactCmd() *cobra.Command {
	var (
		threadID string
		userID   string
		keep     bool
	)

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Fold a thread's history into its summary",
		Long: `Force summarization of a conversation thread: the messages the
summary covers are folded into it through the LLM and, unless --keep is
set, deleted from the store.

Normally summarization happens automatically once a thread crosses the
configured threshold; compact runs it on demand.`,
		Example: `  rumahcari compact --thread 7f3a1b2c-... --user sales-1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompactThread(cmd, threadID, userID, !keep)
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "Thread ID to compact (required)")
	cmd.Flags().StringVar(&userID, "user", "", "User ID the thread belongs to")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep summarized messages instead of deleting them")
	_ = cmd.MarkFlagRequired("thread")

	return cmd
}

func runCompactThread(cmd *cobra.Command, threadID, userID string, compact bool) error {
	if err := validation.ThreadID(threadID); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := memory.Open(cfg.MemoryDBPath(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	client, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	manager := memory.NewManager(store, client, memory.ManagerConfig{
		Window:             cfg.Memory.Window,
		SummarizeThreshold: cfg.Memory.SummarizeThreshold,
		Compact:            compact,
		SummaryModel:       cfg.LLM.SummaryModel,
	}, logger)

	summary, err := manager.Summarize(cmd.Context(), threadID, userID, compact)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Thread %s compacted.\n\nSummary:\n%s\n", threadID, summary)
	return nil
}
