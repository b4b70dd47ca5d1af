package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hunianlab/rumahcari/internal/agent"
	"github.com/hunianlab/rumahcari/internal/output"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/pkg/retrieval"
)

// chatOptions holds CLI flags for chat.
type chatOptions struct {
	threadID string
	userID   string
	method   string
	noStream bool
}

func newChatCmd() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the property assistant",
		Long: `Chat with the tool-calling assistant from the terminal.

With a message argument the command answers once and exits. Without
one it opens a REPL; 'exit' or Ctrl-D ends it. --thread resumes an
existing conversation.`,
		Example: `  # One-shot question
  rumahcari chat "cari rumah 3 kamar di Medan Johor di bawah 2M"

  # Interactive session, resuming a thread
  rumahcari chat --thread 7f3a... --user sales-1`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.threadID, "thread", "", "Thread ID to resume (empty starts a new conversation)")
	cmd.Flags().StringVar(&opts.userID, "user", "", "User ID for memory and experiment assignment")
	cmd.Flags().StringVar(&opts.method, "method", "", "Force a retrieval method for this session")
	cmd.Flags().BoolVar(&opts.noStream, "no-stream", false, "Wait for the full reply instead of streaming tokens")

	return cmd
}

func runChat(cmd *cobra.Command, message string, opts chatOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	var method property.SearchMethod
	if opts.method != "" {
		if method, err = property.ParseMethod(opts.method); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(ctx, cfg, logger, retrieval.WithExperimentWatch())
	if err != nil {
		return err
	}
	defer eng.Close()

	out := output.New(cmd.OutOrStdout())
	threadID := opts.threadID

	ask := func(text string) error {
		req := agent.ChatRequest{
			Message:  text,
			ThreadID: threadID,
			UserID:   opts.userID,
			Method:   method,
		}
		if opts.noStream {
			res, err := eng.Agent.Chat(ctx, req)
			if err != nil {
				return err
			}
			threadID = res.ThreadID
			out.Println(res.Text)
			return nil
		}

		events, err := eng.Agent.ChatStream(ctx, req)
		if err != nil {
			return err
		}
		for ev := range events {
			switch ev.Kind {
			case agent.EventToolCall:
				out.Statusf("⚙", "%s", ev.Name)
			case agent.EventResponseToken:
				fmt.Fprint(cmd.OutOrStdout(), ev.Content)
			case agent.EventError:
				out.Newline()
				return fmt.Errorf("%s", ev.Content)
			case agent.EventDone:
				out.Newline()
			}
		}
		return nil
	}

	if message != "" {
		return ask(message)
	}

	// Fix the thread id upfront so streamed REPL turns share one
	// conversation.
	if threadID == "" {
		threadID = uuid.NewString()
	}

	out.Printf("rumahcari chat — thread %s — 'exit' or Ctrl-D to quit\n", threadID)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(cmd.OutOrStdout(), "> ")
		if !scanner.Scan() {
			out.Newline()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := ask(line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			out.Errorf("%v", err)
		}
	}
}
