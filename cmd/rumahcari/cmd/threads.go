package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hunianlab/rumahcari/internal/memory"
	"github.com/hunianlab/rumahcari/internal/output"
	"github.com/hunianlab/rumahcari/internal/validation"
)

func newThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Manage conversation threads",
		Long: `List, inspect, or delete stored conversation threads.

Examples:
  # List all threads
  rumahcari threads list

  # Show a thread's summary and recent messages
  rumahcari threads show 7f3a1b2c-...

  # Delete a thread and its messages
  rumahcari threads delete 7f3a1b2c-...`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runThreadsList(cmd, false)
		},
	}

	cmd.AddCommand(newThreadsListCmd())
	cmd.AddCommand(newThreadsShowCmd())
	cmd.AddCommand(newThreadsDeleteCmd())

	return cmd
}

func newThreadsListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversation threads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runThreadsList(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newThreadsShowCmd() *cobra.Command {
	var (
		userID string
		tail   int
	)

	cmd := &cobra.Command{
		Use:   "show THREAD_ID",
		Short: "Show a thread's summary and recent messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadsShow(cmd, args[0], userID, tail)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID the thread belongs to")
	cmd.Flags().IntVar(&tail, "tail", 20, "Number of recent messages to print")

	return cmd
}

func newThreadsDeleteCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "delete THREAD_ID",
		Short: "Delete a thread and all its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadsDelete(cmd, args[0], userID)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID the thread belongs to")

	return cmd
}

// openMemory opens the conversation store read-write from config.
func openMemory() (*memory.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !fileExists(cfg.MemoryDBPath()) {
		return nil, fmt.Errorf("no conversations yet (%s does not exist)", cfg.MemoryDBPath())
	}
	return memory.Open(cfg.MemoryDBPath(), nil)
}

func runThreadsList(cmd *cobra.Command, jsonOutput bool) error {
	store, err := openMemory()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	threads, err := store.Threads(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(threads)
	}

	if len(threads) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No threads.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "THREAD\tUSER\tMESSAGES\tUPDATED")
	for _, t := range threads {
		user := t.UserID
		if user == "" {
			user = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			t.ThreadID, user, t.MessageCount, t.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runThreadsShow(cmd *cobra.Command, threadID, userID string, tail int) error {
	if err := validation.ThreadID(threadID); err != nil {
		return err
	}

	store, err := openMemory()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	conv, err := store.Conversation(ctx, threadID, userID)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Printf("Thread:   %s\n", conv.ThreadID)
	if conv.UserID != "" {
		out.Printf("User:     %s\n", conv.UserID)
	}
	out.Printf("Messages: %d\n", conv.MessageCount)
	out.Printf("Updated:  %s\n", conv.UpdatedAt.Format("2006-01-02 15:04:05"))
	if conv.Summary != "" {
		out.Newline()
		out.Println("Summary:")
		out.Println("  " + strings.ReplaceAll(conv.Summary, "\n", "\n  "))
	}

	msgs, err := store.LastMessages(ctx, threadID, userID, tail)
	if err != nil {
		return err
	}
	if len(msgs) > 0 {
		out.Newline()
		for _, m := range msgs {
			label := m.Role
			if m.ToolName != "" {
				label = m.Role + ":" + m.ToolName
			}
			content := m.Content
			if len(content) > 200 {
				content = content[:200] + "…"
			}
			out.Printf("[%d] %-16s %s\n", m.Sequence, label, strings.ReplaceAll(content, "\n", " "))
		}
	}
	return nil
}

func runThreadsDelete(cmd *cobra.Command, threadID, userID string) error {
	if err := validation.ThreadID(threadID); err != nil {
		return err
	}

	store, err := openMemory()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	deleted, err := store.DeleteThread(cmd.Context(), threadID, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("no thread %s", threadID)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted thread %s\n", threadID)
	return nil
}
