package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hunianlab/rumahcari/internal/eval"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/ui"
	"github.com/hunianlab/rumahcari/pkg/retrieval"
)

// evalOptions holds CLI flags for eval.
type evalOptions struct {
	method    string
	gold      string
	limit     int
	overrides string
	report    string
}

func newEvalCmd() *cobra.Command {
	var opts evalOptions

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Replay the gold set and score retrieval quality",
		Long: `Run the gold question set against the retrieval engine and score
each returned property against the question's constraints.

--method all runs every retrieval method and prints a side-by-side
comparison. Manual questions land in the report as pending, with an
override template next to it; fill it in and apply with --overrides.`,
		Example: `  # Score the configured default method
  rumahcari eval

  # Compare all methods
  rumahcari eval --method all

  # Apply human judgments to an earlier run
  rumahcari eval --report run_20260826-101500_ab12cd34.json --overrides pending.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.overrides != "" {
				return runEvalOverrides(cmd, opts)
			}
			return runEval(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.method, "method", "", "Retrieval method: hybrid, api_only, vector_only, or all")
	cmd.Flags().StringVar(&opts.gold, "gold", "", "Gold set path (default: from config)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Properties retrieved per question")
	cmd.Flags().StringVar(&opts.overrides, "overrides", "", "Manual override file to apply to a saved report")
	cmd.Flags().StringVar(&opts.report, "report", "", "Saved report to apply overrides to (path or file name in the report dir)")

	return cmd
}

func runEval(cmd *cobra.Command, opts evalOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	goldPath := opts.gold
	if goldPath == "" {
		goldPath = cfg.GoldPath()
	}
	gold, err := eval.LoadGoldSet(goldPath)
	if err != nil {
		return err
	}
	if cfg.Eval.ThresholdT > 0 {
		gold.ThresholdT = cfg.Eval.ThresholdT
	}
	if cfg.Eval.PriceTolerance > 0 {
		gold.PriceTolerance = cfg.Eval.PriceTolerance
	}

	var methods []property.SearchMethod
	switch opts.method {
	case "", "default":
		methods = []property.SearchMethod{{}} // defer to routing
	case "all":
		for _, name := range []string{"hybrid", "api_only", "vector_only"} {
			m, err := property.ParseMethod(name)
			if err != nil {
				return err
			}
			methods = append(methods, m)
		}
	default:
		m, err := property.ParseMethod(opts.method)
		if err != nil {
			return err
		}
		methods = []property.SearchMethod{m}
	}

	ctx := cmd.Context()
	stack, err := retrieval.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	styles := ui.GetStyles(ui.DetectNoColor())
	reports := make([]*eval.Report, 0, len(methods))
	for _, method := range methods {
		runner, err := eval.NewRunner(gold, stack.Retriever, stack.Sink, eval.RunnerConfig{
			Method: method,
			Limit:  opts.limit,
		}, logger)
		if err != nil {
			return err
		}
		report, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		reports = append(reports, report)

		path, err := report.Save(cfg.EvalReportDir())
		if err != nil {
			return err
		}
		cmd.Printf("Report saved: %s\n", path)

		if report.PendingManual > 0 {
			tmpl, err := report.SavePendingTemplate(cfg.EvalReportDir())
			if err != nil {
				return err
			}
			cmd.Printf("Pending manual judgments: %d — template at %s\n",
				report.PendingManual, tmpl)
		}
	}

	if len(reports) > 1 {
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderComparison(reports, styles))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderReport(reports[0], styles))
	return nil
}

// runEvalOverrides applies a manual override file to a saved report and
// re-saves it with the metrics recomputed.
func runEvalOverrides(cmd *cobra.Command, opts evalOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.report == "" {
		return fmt.Errorf("--overrides requires --report")
	}

	reportPath := opts.report
	if !fileExists(reportPath) {
		candidate := cfg.EvalReportDir() + "/" + opts.report
		if !fileExists(candidate) {
			return fmt.Errorf("report not found: %s", opts.report)
		}
		reportPath = candidate
	}

	report, err := eval.LoadReport(reportPath)
	if err != nil {
		return err
	}
	overrides, err := eval.LoadOverrides(opts.overrides)
	if err != nil {
		return err
	}
	if err := report.ApplyOverrides(overrides); err != nil {
		return err
	}

	path, err := report.Save(cfg.EvalReportDir())
	if err != nil {
		return err
	}
	cmd.Printf("Report finalized: %s\n", path)

	styles := ui.GetStyles(ui.DetectNoColor())
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderReport(report, styles))
	return nil
}
