package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hunianlab/rumahcari/internal/knowledge"
)

func newKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the sales-knowledge index",
		Long: `Manage the full-text index behind the get_knowledge tool:
certificates, financing, taxes, negotiation guidance for Medan.`,
	}

	cmd.AddCommand(newKnowledgeLoadCmd())

	return cmd
}

func newKnowledgeLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE",
		Short: "Load knowledge snippets from a JSONL file",
		Long: `Ingest a JSONL file of knowledge snippets into the index. Each line
is one snippet: {"title", "category", "content", "tags"}. Snippets
with the same derived id are replaced, so reloading an edited file
updates in place.`,
		Example: `  rumahcari knowledge load snippets.jsonl`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKnowledgeLoad(cmd, args[0])
		},
	}
}

func runKnowledgeLoad(cmd *cobra.Command, path string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	idx, err := knowledge.New(cfg.KnowledgePath(), cfg.Knowledge)
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	n, err := knowledge.LoadFile(cmd.Context(), idx, path)
	if err != nil {
		return err
	}

	total, err := idx.Count()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d snippet(s); index now holds %d.\n", n, total)
	return nil
}
