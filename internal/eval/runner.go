package eval

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/search"
	"github.com/hunianlab/rumahcari/internal/telemetry"
)

// Retriever is the retrieval surface a run drives. *search.Retriever
// satisfies it; tests inject fixed result sets.
type Retriever interface {
	Retrieve(ctx context.Context, criteria *property.SearchCriteria, opts search.RetrieveOptions) (*search.RetrievalResult, error)
}

// RunnerConfig tunes one evaluation run.
type RunnerConfig struct {
	// Method forces a retrieval method for every question. The zero
	// value defers to the retriever's routing, which makes runs depend
	// on experiment state; pass an explicit method when comparing
	// strategies.
	Method property.SearchMethod

	// Limit caps retrieved properties per question. Zero uses
	// DefaultQuestionLimit.
	Limit int

	// UserID attributes the run's searches in telemetry. Empty uses
	// "eval".
	UserID string
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.Limit <= 0 {
		c.Limit = DefaultQuestionLimit
	}
	if c.UserID == "" {
		c.UserID = "eval"
	}
	return c
}

// Runner replays a gold set against one retrieval strategy and scores
// what comes back. Runs are read-only with respect to the retrieval
// stack; the only writes are the report and one telemetry record.
type Runner struct {
	gold      *GoldSet
	retriever Retriever
	sink      telemetry.Sink
	logger    *slog.Logger
	cfg       RunnerConfig
}

// NewRunner wires a runner. The gold set must already be validated.
func NewRunner(gold *GoldSet, retriever Retriever, sink telemetry.Sink, cfg RunnerConfig, logger *slog.Logger) (*Runner, error) {
	if gold == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "evaluation runner requires a gold set", nil)
	}
	if retriever == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "evaluation runner requires a retriever", nil)
	}
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		gold:      gold,
		retriever: retriever,
		sink:      sink,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}, nil
}

// Run evaluates every question in gold order and returns the scored
// report. A retrieval failure on one question scores that question as
// answered-empty and the run continues; only context cancellation
// aborts the whole run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{
		RunID:      uuid.NewString(),
		StartedAt:  start.UTC(),
		Method:     r.methodLabel(),
		ThresholdT: r.gold.ThresholdT,
		Questions:  make([]QuestionResult, 0, len(r.gold.Questions)),
	}

	r.logger.Info("evaluation run started",
		slog.String("run_id", report.RunID),
		slog.String("method", report.Method),
		slog.Int("questions", len(r.gold.Questions)))

	for i := range r.gold.Questions {
		if err := ctx.Err(); err != nil {
			return nil, rcerrors.New(rcerrors.ErrCodeSearchFailed, "evaluation run canceled", err)
		}
		q := &r.gold.Questions[i]
		report.Questions = append(report.Questions, r.runQuestion(ctx, q))
	}

	report.DurationMS = time.Since(start).Milliseconds()
	report.rescore()

	r.sink.Record(telemetry.KindEval, telemetry.EvalRecord{
		Timestamp:     start.UTC(),
		RunID:         report.RunID,
		Questions:     len(report.Questions),
		TruePositive:  report.Metrics.TruePositive,
		FalsePositive: report.Metrics.FalsePositive,
		TrueNegative:  report.Metrics.TrueNegative,
		FalseNegative: report.Metrics.FalseNegative,
		Precision:     report.Metrics.Precision,
		Recall:        report.Metrics.Recall,
		F1:            report.Metrics.F1,
		Accuracy:      report.Metrics.Accuracy,
		ThresholdT:    report.ThresholdT,
		DurationMS:    report.DurationMS,
	})

	r.logger.Info("evaluation run finished",
		slog.String("run_id", report.RunID),
		slog.Float64("precision", report.Metrics.Precision),
		slog.Float64("recall", report.Metrics.Recall),
		slog.Float64("f1", report.Metrics.F1),
		slog.Int("pending_manual", report.PendingManual),
		slog.Int64("took_ms", report.DurationMS))
	return report, nil
}

func (r *Runner) methodLabel() string {
	if r.cfg.Method.IsZero() {
		return "routed"
	}
	return r.cfg.Method.String()
}

func (r *Runner) runQuestion(ctx context.Context, q *GoldQuestion) QuestionResult {
	qr := QuestionResult{
		ID:       q.ID,
		Question: q.Question,
		Category: q.Category,
		Expected: q.ExpectedResult,
		Mode:     q.EvaluationMode,
	}

	res, err := r.retriever.Retrieve(ctx, r.gold.Criteria(q, r.cfg.Limit), search.RetrieveOptions{
		UserID: r.cfg.UserID,
		Method: r.cfg.Method,
	})
	if err != nil {
		// The question is scored as if retrieval answered nothing. For
		// has_data questions that lands in FN, which is the honest
		// reading of "the system failed to produce the data".
		qr.Error = err.Error()
		r.logger.Warn("question retrieval failed",
			slog.String("question_id", q.ID),
			slog.Any("error", err))
	} else {
		qr.MethodUsed = res.MethodUsed
		qr.Total = res.Total
		qr.TookMS = res.TookMS
	}

	if q.EvaluationMode == ModeManual {
		// Checks are deferred to a human: persist what came back and
		// wait for overrides. An empty result needs no judgment, so it
		// scores mechanically right away.
		if res != nil && len(res.Properties) > 0 {
			qr.Properties = make([]PropertyResult, 0, len(res.Properties))
			for i := range res.Properties {
				p := &res.Properties[i]
				qr.Properties = append(qr.Properties, PropertyResult{Slug: p.Slug, Title: p.Title})
			}
			qr.Outcome = OutcomePending
			return qr
		}
		qr.score(r.gold.ThresholdT)
		return qr
	}

	if res != nil {
		qr.Properties = make([]PropertyResult, 0, len(res.Properties))
		for i := range res.Properties {
			qr.Properties = append(qr.Properties, r.scoreProperty(q, &res.Properties[i]))
		}
	}
	qr.score(r.gold.ThresholdT)
	return qr
}

// scoreProperty runs the question's constraints against one returned
// property and folds the raw check results into the scoring rule.
func (r *Runner) scoreProperty(q *GoldQuestion, p *property.Property) PropertyResult {
	pr := PropertyResult{
		Slug:   p.Slug,
		Title:  p.Title,
		Checks: r.gold.checkProperty(q, p),
	}
	for _, check := range pr.Checks {
		switch effective(check.Result, q.ExpectedResult) {
		case CheckPass:
			pr.Applicable++
			pr.Passed++
		case CheckFail:
			pr.Applicable++
		}
	}
	if pr.Applicable > 0 {
		pr.CPR = float64(pr.Passed) / float64(pr.Applicable)
		pr.Strict = pr.Passed == pr.Applicable
	} else {
		// Nothing applicable to judge: the property cannot count
		// against the question.
		pr.CPR = 1
		pr.Strict = true
	}
	return pr
}
