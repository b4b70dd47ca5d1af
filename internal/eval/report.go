package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// Outcome places one scored question in the confusion matrix.
type Outcome string

const (
	OutcomeTruePositive  Outcome = "tp"
	OutcomeFalsePositive Outcome = "fp"
	OutcomeTrueNegative  Outcome = "tn"
	OutcomeFalseNegative Outcome = "fn"

	// OutcomePending marks a manual question awaiting human overrides.
	// Pending questions stay out of every metric until finalized.
	OutcomePending Outcome = "pending"
)

// PropertyResult scores one returned property against one question.
type PropertyResult struct {
	Slug  string `json:"slug"`
	Title string `json:"title,omitempty"`

	// Checks are the raw per-constraint outcomes. Empty for manual
	// questions until overrides land.
	Checks []Check `json:"checks,omitempty"`

	// Passed / Applicable count checks after the missing-folding rule;
	// na checks are in neither.
	Passed     int     `json:"passed"`
	Applicable int     `json:"applicable"`
	CPR        float64 `json:"cpr"`

	// Strict: every applicable check passed.
	Strict bool `json:"strict"`

	// Manual carries the human judgment that replaced automatic checks.
	Manual *ManualJudgment `json:"manual,omitempty"`
}

// QuestionResult is one question's scored retrieval.
type QuestionResult struct {
	ID       string         `json:"id"`
	Question string         `json:"question"`
	Category string         `json:"category,omitempty"`
	Expected ExpectedResult `json:"expected_result"`
	Mode     EvaluationMode `json:"evaluation_mode"`

	// MethodUsed is the executed retrieval method label, including any
	// +GEO decoration. Empty when retrieval failed.
	MethodUsed string `json:"method_used,omitempty"`

	// Total is the backend's match estimate beyond the returned page.
	Total  int   `json:"total"`
	TookMS int64 `json:"took_ms"`

	// Error is set when retrieval failed; the question then scores as
	// answered-empty.
	Error string `json:"error,omitempty"`

	Properties []PropertyResult `json:"properties,omitempty"`

	// MeanCPR averages CPR over returned properties. Zero when nothing
	// came back.
	MeanCPR float64 `json:"mean_cpr"`

	// Strict: at least one property returned and all of them strict.
	Strict bool `json:"strict_success"`

	// Success applies the query-success rule: has_data needs results
	// with mean-CPR at or above the threshold, no_data needs zero
	// results.
	Success bool    `json:"success"`
	Outcome Outcome `json:"outcome"`
}

// score derives the question-level verdict from the per-property
// scores. Pending questions never reach here.
func (qr *QuestionResult) score(thresholdT float64) {
	qr.MeanCPR = 0
	qr.Strict = false
	if n := len(qr.Properties); n > 0 {
		var sum float64
		qr.Strict = true
		for i := range qr.Properties {
			sum += qr.Properties[i].CPR
			if !qr.Properties[i].Strict {
				qr.Strict = false
			}
		}
		qr.MeanCPR = sum / float64(n)
	}

	// Unconstrained questions score CPR 1 per property, so "results
	// present" alone predicts positive for them.
	predicted := len(qr.Properties) > 0 && qr.MeanCPR >= thresholdT
	actual := qr.Expected == ExpectHasData
	switch {
	case actual && predicted:
		qr.Outcome = OutcomeTruePositive
	case actual && !predicted:
		qr.Outcome = OutcomeFalseNegative
	case !actual && predicted:
		qr.Outcome = OutcomeFalsePositive
	default:
		qr.Outcome = OutcomeTrueNegative
	}

	if actual {
		qr.Success = predicted
	} else {
		qr.Success = len(qr.Properties) == 0
	}
}

// Metrics aggregates scored questions. Precision, recall, F1 and
// accuracy use the usual zero-denominator-is-zero convention.
type Metrics struct {
	Questions int `json:"questions"`

	TruePositive  int `json:"tp"`
	FalsePositive int `json:"fp"`
	TrueNegative  int `json:"tn"`
	FalseNegative int `json:"fn"`

	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Accuracy  float64 `json:"accuracy"`

	Successes       int `json:"successes"`
	StrictSuccesses int `json:"strict_successes"`

	// MeanCPR averages the question-level means over questions that
	// returned at least one property.
	MeanCPR float64 `json:"mean_cpr"`
}

func (m *Metrics) add(qr *QuestionResult) {
	m.Questions++
	switch qr.Outcome {
	case OutcomeTruePositive:
		m.TruePositive++
	case OutcomeFalsePositive:
		m.FalsePositive++
	case OutcomeTrueNegative:
		m.TrueNegative++
	case OutcomeFalseNegative:
		m.FalseNegative++
	}
	if qr.Success {
		m.Successes++
	}
	if qr.Strict {
		m.StrictSuccesses++
	}
}

func (m *Metrics) compute() {
	if d := m.TruePositive + m.FalsePositive; d > 0 {
		m.Precision = float64(m.TruePositive) / float64(d)
	}
	if d := m.TruePositive + m.FalseNegative; d > 0 {
		m.Recall = float64(m.TruePositive) / float64(d)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	if m.Questions > 0 {
		m.Accuracy = float64(m.TruePositive+m.TrueNegative) / float64(m.Questions)
	}
}

// KindAccuracy is the pass rate of one constraint kind across every
// applicable check in the run.
type KindAccuracy struct {
	Kind       ConstraintKind `json:"kind"`
	Passed     int            `json:"passed"`
	Applicable int            `json:"applicable"`
	Accuracy   float64        `json:"accuracy"`
}

// Report is the persisted outcome of one evaluation run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	Method     string    `json:"method"`
	ThresholdT float64   `json:"threshold_t"`
	DurationMS int64     `json:"duration_ms"`

	Questions []QuestionResult `json:"questions"`

	Metrics Metrics `json:"metrics"`

	// PerConstraint lists pass rates per constraint kind, in the fixed
	// check order.
	PerConstraint []KindAccuracy `json:"per_constraint_accuracy"`

	// Categories breaks the metrics down by question category.
	// Uncategorized questions appear only in the top-level metrics.
	Categories map[string]Metrics `json:"categories,omitempty"`

	// PendingManual counts questions still awaiting human overrides.
	PendingManual int `json:"pending_manual"`

	// Finalized: no pending questions remain; the report is complete
	// and further overrides must not be applied.
	Finalized bool `json:"finalized"`
}

// rescore recomputes every aggregate from the per-question results.
// Called after a run and again after overrides are applied.
func (r *Report) rescore() {
	type bucket struct {
		metrics Metrics
		cprSum  float64
		cprN    int
	}
	var total bucket
	cats := make(map[string]*bucket)
	kindPassed := make(map[ConstraintKind]int, len(constraintKinds))
	kindApplicable := make(map[ConstraintKind]int, len(constraintKinds))

	r.PendingManual = 0
	for i := range r.Questions {
		qr := &r.Questions[i]
		if qr.Outcome == OutcomePending {
			r.PendingManual++
			continue
		}

		buckets := []*bucket{&total}
		if qr.Category != "" {
			b := cats[qr.Category]
			if b == nil {
				b = &bucket{}
				cats[qr.Category] = b
			}
			buckets = append(buckets, b)
		}
		for _, b := range buckets {
			b.metrics.add(qr)
			if len(qr.Properties) > 0 {
				b.cprSum += qr.MeanCPR
				b.cprN++
			}
		}

		for pi := range qr.Properties {
			for _, check := range qr.Properties[pi].Checks {
				switch effective(check.Result, qr.Expected) {
				case CheckPass:
					kindPassed[check.Kind]++
					kindApplicable[check.Kind]++
				case CheckFail:
					kindApplicable[check.Kind]++
				}
			}
		}
	}

	total.metrics.compute()
	if total.cprN > 0 {
		total.metrics.MeanCPR = total.cprSum / float64(total.cprN)
	}
	r.Metrics = total.metrics

	r.Categories = nil
	if len(cats) > 0 {
		r.Categories = make(map[string]Metrics, len(cats))
		for name, b := range cats {
			b.metrics.compute()
			if b.cprN > 0 {
				b.metrics.MeanCPR = b.cprSum / float64(b.cprN)
			}
			r.Categories[name] = b.metrics
		}
	}

	r.PerConstraint = r.PerConstraint[:0]
	for _, kind := range constraintKinds {
		applicable := kindApplicable[kind]
		if applicable == 0 {
			continue
		}
		r.PerConstraint = append(r.PerConstraint, KindAccuracy{
			Kind:       kind,
			Passed:     kindPassed[kind],
			Applicable: applicable,
			Accuracy:   float64(kindPassed[kind]) / float64(applicable),
		})
	}

	r.Finalized = r.PendingManual == 0
}

// Filename is the report's canonical file name within a report
// directory.
func (r *Report) Filename() string {
	short := r.RunID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("run_%s_%s.json", r.StartedAt.Format("20060102-150405"), short)
}

// Save writes the report under dir, atomically, and returns the path.
func (r *Report) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", rcerrors.New(rcerrors.ErrCodeFilePermission,
			fmt.Sprintf("cannot create report directory %s", dir), err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", rcerrors.New(rcerrors.ErrCodeInternal, "cannot encode evaluation report", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, r.Filename())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", rcerrors.New(rcerrors.ErrCodeFilePermission,
			fmt.Sprintf("cannot write report %s", tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", rcerrors.New(rcerrors.ErrCodeFilePermission,
			fmt.Sprintf("cannot finalize report %s", path), err)
	}
	return path, nil
}

// LoadReport reads a previously saved report, typically to apply
// manual overrides to it.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeFileNotFound,
			fmt.Sprintf("report %s is not readable", path), err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeInvalidInput,
			fmt.Sprintf("report %s is not valid JSON", path), err)
	}
	return &report, nil
}
