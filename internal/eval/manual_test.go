package eval

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/search"
)

func manualReport(t *testing.T) *Report {
	t.Helper()
	gold := &GoldSet{
		Questions: []GoldQuestion{{
			ID:             "q1",
			Question:       "rumah paling asri di Medan",
			ExpectedResult: ExpectHasData,
			EvaluationMode: ModeManual,
		}},
	}
	require.NoError(t, gold.Validate())

	retriever := &fakeRetriever{
		responses: map[string]*search.RetrievalResult{
			"rumah paling asri di Medan": resultOf(
				house("asri-1", 900_000_000, 3),
				house("asri-2", 1_100_000_000, 4),
			),
		},
	}
	runner, err := NewRunner(gold, retriever, nil, RunnerConfig{}, nil)
	require.NoError(t, err)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.PendingManual)
	return report
}

func TestSavePendingTemplate(t *testing.T) {
	report := manualReport(t)
	dir := t.TempDir()

	path, err := report.SavePendingTemplate(dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var o ManualOverrides
	require.NoError(t, json.Unmarshal(data, &o))
	assert.Equal(t, report.RunID, o.RunID)
	require.Contains(t, o.Judgments, "q1")
	assert.Len(t, o.Judgments["q1"], 2)
	for slug, j := range o.Judgments["q1"] {
		assert.Empty(t, j.Result, "template result for %s must be blank", slug)
	}
}

func TestSavePendingTemplateWithoutPendingQuestions(t *testing.T) {
	report := &Report{RunID: "r1"}
	report.rescore()

	_, err := report.SavePendingTemplate(t.TempDir())
	require.Error(t, err)
	assert.Equal(t, rcerrors.ErrCodeInvalidInput, rcerrors.GetCode(err))
}

func TestApplyOverridesFinalizesPendingQuestion(t *testing.T) {
	report := manualReport(t)

	err := report.ApplyOverrides(&ManualOverrides{
		RunID: report.RunID,
		Judgments: map[string]map[string]ManualJudgment{
			"q1": {
				"asri-1": {Result: CheckPass, Comment: "taman luas, foto meyakinkan"},
				"asri-2": {Result: CheckFail, Comment: "tidak ada taman"},
			},
		},
	})
	require.NoError(t, err)

	q1 := report.Questions[0]
	require.Len(t, q1.Properties, 2)
	require.NotNil(t, q1.Properties[0].Manual)
	assert.Equal(t, 1.0, q1.Properties[0].CPR)
	assert.Equal(t, 0.0, q1.Properties[1].CPR)
	assert.InDelta(t, 0.5, q1.MeanCPR, 1e-9)

	// Mean 0.5 sits under the 0.6 threshold: the judged answer set was
	// not good enough for a has_data question.
	assert.Equal(t, OutcomeFalseNegative, q1.Outcome)

	assert.Zero(t, report.PendingManual)
	assert.True(t, report.Finalized)
	assert.Equal(t, 1, report.Metrics.Questions)
	assert.Equal(t, 1, report.Metrics.FalseNegative)
}

func TestApplyOverridesAllPassScoresTruePositive(t *testing.T) {
	report := manualReport(t)

	err := report.ApplyOverrides(&ManualOverrides{
		Judgments: map[string]map[string]ManualJudgment{
			"q1": {
				"asri-1": {Result: CheckPass},
				"asri-2": {Result: CheckPass},
			},
		},
	})
	require.NoError(t, err)

	q1 := report.Questions[0]
	assert.Equal(t, OutcomeTruePositive, q1.Outcome)
	assert.True(t, q1.Strict)
	assert.Equal(t, 1, report.Metrics.TruePositive)
}

func TestApplyOverridesPartialJudgmentStaysPending(t *testing.T) {
	report := manualReport(t)

	err := report.ApplyOverrides(&ManualOverrides{
		Judgments: map[string]map[string]ManualJudgment{
			"q1": {"asri-1": {Result: CheckPass}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomePending, report.Questions[0].Outcome)
	assert.Equal(t, 1, report.PendingManual)
	assert.False(t, report.Finalized)
}

func TestApplyOverridesRejectsUnknownTargets(t *testing.T) {
	report := manualReport(t)

	err := report.ApplyOverrides(&ManualOverrides{
		Judgments: map[string]map[string]ManualJudgment{
			"q99": {"asri-1": {Result: CheckPass}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown question")

	err = report.ApplyOverrides(&ManualOverrides{
		Judgments: map[string]map[string]ManualJudgment{
			"q1": {"ghost-slug": {Result: CheckPass}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown property")
}

func TestApplyOverridesRejectsRunMismatch(t *testing.T) {
	report := manualReport(t)

	err := report.ApplyOverrides(&ManualOverrides{RunID: "someone-elses-run"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run")
}

func TestApplyOverridesRejectsFinalizedReport(t *testing.T) {
	report := manualReport(t)
	require.NoError(t, report.ApplyOverrides(&ManualOverrides{
		Judgments: map[string]map[string]ManualJudgment{
			"q1": {
				"asri-1": {Result: CheckPass},
				"asri-2": {Result: CheckPass},
			},
		},
	}))
	require.True(t, report.Finalized)

	err := report.ApplyOverrides(&ManualOverrides{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finalized")
}

func TestLoadOverridesNormalizesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"run_id": "r1",
		"judgments": {
			"q1": {
				"a": {"result": " PASS "},
				"b": {"result": "fail", "comment": "bukan rumah"},
				"c": {"result": ""}
			},
			"q2": {
				"d": {"result": ""}
			}
		}
	}`), 0o644))

	o, err := LoadOverrides(path)
	require.NoError(t, err)

	require.Contains(t, o.Judgments, "q1")
	assert.Equal(t, CheckPass, o.Judgments["q1"]["a"].Result)
	assert.Equal(t, CheckFail, o.Judgments["q1"]["b"].Result)
	_, hasEmpty := o.Judgments["q1"]["c"]
	assert.False(t, hasEmpty, "unjudged entries are dropped")
	assert.NotContains(t, o.Judgments, "q2", "questions with nothing judged are dropped")
}

func TestLoadOverridesRejectsBadResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"judgments": {"q1": {"a": {"result": "maybe"}}}
	}`), 0o644))

	_, err := LoadOverrides(path)
	require.Error(t, err)
	assert.Equal(t, rcerrors.ErrCodeInvalidInput, rcerrors.GetCode(err))
}

func TestReportSaveLoadRoundTrip(t *testing.T) {
	report := manualReport(t)
	dir := t.TempDir()

	path, err := report.Save(dir)
	require.NoError(t, err)

	loaded, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, loaded.RunID)
	assert.Equal(t, 1, loaded.PendingManual)

	// Overrides apply to the reloaded report the same way.
	require.NoError(t, loaded.ApplyOverrides(&ManualOverrides{
		Judgments: map[string]map[string]ManualJudgment{
			"q1": {
				"asri-1": {Result: CheckPass},
				"asri-2": {Result: CheckPass},
			},
		},
	}))
	assert.True(t, loaded.Finalized)
}
