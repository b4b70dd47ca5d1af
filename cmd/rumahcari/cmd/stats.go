package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/hunianlab/rumahcari/internal/knowledge"
	"github.com/hunianlab/rumahcari/internal/output"
	"github.com/hunianlab/rumahcari/internal/store"
	"github.com/hunianlab/rumahcari/internal/telemetry"
)

// StatsOutput is the JSON shape of the stats command.
type StatsOutput struct {
	Collections    []store.CollectionStats `json:"collections"`
	KnowledgeCount int                     `json:"knowledge_count"`
	MethodCounts   map[string]int64        `json:"method_counts"`
	TopTerms       []telemetry.TermCount   `json:"top_terms"`
	ZeroResults    []string                `json:"zero_result_queries"`
}

func newStatsCmd() *cobra.Command {
	var (
		jsonOutput bool
		days       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index and search statistics",
		Long: `Display the vector collections, the knowledge index size, and the
aggregated search telemetry: method distribution, top query terms, and
recent zero-result queries.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Days of telemetry to include")

	return cmd
}

func runStats(cmd *cobra.Command, jsonOutput bool, days int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var stats StatsOutput

	vectors := store.NewStore(cfg.IndexDir())
	if collections, err := vectors.Stats(); err == nil {
		stats.Collections = collections
	}
	_ = vectors.Close()

	if know, err := knowledge.New(cfg.KnowledgePath(), cfg.Knowledge); err == nil {
		if n, err := know.Count(); err == nil {
			stats.KnowledgeCount = n
		}
		_ = know.Close()
	}

	if fileExists(cfg.MetricsDBPath()) {
		metrics, err := telemetry.OpenStore(cfg.MetricsDBPath())
		if err != nil {
			return fmt.Errorf("open metrics store: %w", err)
		}
		defer func() { _ = metrics.Close() }()

		to := time.Now()
		from := to.AddDate(0, 0, -days)
		if counts, err := metrics.GetMethodCounts(
			from.Format("2006-01-02"), to.Format("2006-01-02")); err == nil {
			stats.MethodCounts = counts
		}
		if terms, err := metrics.GetTopTerms(10); err == nil {
			stats.TopTerms = terms
		}
		if zero, err := metrics.GetZeroResultQueries(10); err == nil {
			stats.ZeroResults = zero
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	out := output.New(cmd.OutOrStdout())

	out.Println("Vector index")
	if len(stats.Collections) == 0 {
		out.Println("  (empty — run 'rumahcari sync')")
	}
	for _, c := range stats.Collections {
		out.Printf("  %s: %d entries, %d dims", c.ModelID, c.Count, c.Dimensions)
		if c.Orphans > 0 {
			out.Printf(" (%d orphans)", c.Orphans)
		}
		out.Newline()
	}

	out.Newline()
	out.Printf("Knowledge snippets: %d\n", stats.KnowledgeCount)

	if len(stats.MethodCounts) > 0 {
		out.Newline()
		out.Printf("Searches by method (last %d days)\n", days)
		methods := make([]string, 0, len(stats.MethodCounts))
		for method := range stats.MethodCounts {
			methods = append(methods, method)
		}
		sort.Strings(methods)
		for _, method := range methods {
			out.Printf("  %-12s %d\n", method, stats.MethodCounts[method])
		}
	}
	if len(stats.TopTerms) > 0 {
		out.Newline()
		out.Println("Top query terms")
		for _, t := range stats.TopTerms {
			out.Printf("  %-20s %d\n", t.Term, t.Count)
		}
	}
	if len(stats.ZeroResults) > 0 {
		out.Newline()
		out.Println("Recent zero-result queries")
		for _, q := range stats.ZeroResults {
			out.Printf("  %s\n", q)
		}
	}
	return nil
}
