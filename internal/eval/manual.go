package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// ManualJudgment is one human verdict on one returned property of a
// manual-mode question.
type ManualJudgment struct {
	// Result is pass or fail. The template ships it empty; empty
	// entries are treated as not yet judged.
	Result  CheckResult `json:"result"`
	Comment string      `json:"comment,omitempty"`
}

// ManualOverrides is the override file a human fills in to finalize
// pending questions: question id → property slug → judgment.
type ManualOverrides struct {
	// RunID ties the file to one run. Empty skips the check.
	RunID string `json:"run_id,omitempty"`

	Judgments map[string]map[string]ManualJudgment `json:"judgments"`
}

func invalidOverride(format string, args ...any) error {
	return rcerrors.New(rcerrors.ErrCodeInvalidInput, fmt.Sprintf(format, args...), nil)
}

// LoadOverrides reads an override file. Entries with an empty result
// are dropped (not yet judged); any other value outside pass/fail is
// rejected.
func LoadOverrides(path string) (*ManualOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeFileNotFound,
			fmt.Sprintf("override file %s is not readable", path), err)
	}
	var o ManualOverrides
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeInvalidInput,
			fmt.Sprintf("override file %s is not valid JSON", path), err)
	}

	for qid, bySlug := range o.Judgments {
		for slug, j := range bySlug {
			switch CheckResult(strings.ToLower(strings.TrimSpace(string(j.Result)))) {
			case CheckPass:
				j.Result = CheckPass
				bySlug[slug] = j
			case CheckFail:
				j.Result = CheckFail
				bySlug[slug] = j
			case "":
				delete(bySlug, slug)
			default:
				return nil, invalidOverride("override %s/%s: result %q is not pass or fail", qid, slug, j.Result)
			}
		}
		if len(bySlug) == 0 {
			delete(o.Judgments, qid)
		}
	}
	return &o, nil
}

// SavePendingTemplate writes a skeleton override file for every
// pending question under dir and returns its path. Humans fill in the
// empty results and feed the file back through ApplyOverrides.
func (r *Report) SavePendingTemplate(dir string) (string, error) {
	o := ManualOverrides{
		RunID:     r.RunID,
		Judgments: make(map[string]map[string]ManualJudgment),
	}
	for i := range r.Questions {
		qr := &r.Questions[i]
		if qr.Outcome != OutcomePending {
			continue
		}
		bySlug := make(map[string]ManualJudgment, len(qr.Properties))
		for _, p := range qr.Properties {
			bySlug[p.Slug] = ManualJudgment{}
		}
		o.Judgments[qr.ID] = bySlug
	}
	if len(o.Judgments) == 0 {
		return "", invalidOverride("report %s has no pending questions", r.RunID)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", rcerrors.New(rcerrors.ErrCodeFilePermission,
			fmt.Sprintf("cannot create report directory %s", dir), err)
	}
	data, err := json.MarshalIndent(&o, "", "  ")
	if err != nil {
		return "", rcerrors.New(rcerrors.ErrCodeInternal, "cannot encode pending template", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, "pending_"+strings.TrimPrefix(r.Filename(), "run_"))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", rcerrors.New(rcerrors.ErrCodeFilePermission,
			fmt.Sprintf("cannot write pending template %s", path), err)
	}
	return path, nil
}

// ApplyOverrides folds human judgments into pending questions and
// rescores the report. A pending question finalizes only once every
// returned property carries a judgment; partially judged questions
// stay pending. Judgments naming unknown questions or slugs are
// rejected so typos never vanish silently.
func (r *Report) ApplyOverrides(o *ManualOverrides) error {
	if r.Finalized {
		return invalidOverride("report %s is already finalized", r.RunID)
	}
	if o.RunID != "" && o.RunID != r.RunID {
		return invalidOverride("override file is for run %s, report is run %s", o.RunID, r.RunID)
	}

	byID := make(map[string]*QuestionResult, len(r.Questions))
	for i := range r.Questions {
		byID[r.Questions[i].ID] = &r.Questions[i]
	}
	for qid, bySlug := range o.Judgments {
		qr, ok := byID[qid]
		if !ok {
			return invalidOverride("override names unknown question %q", qid)
		}
		if qr.Mode != ModeManual {
			return invalidOverride("question %s is not manual-mode", qid)
		}
		slugs := make(map[string]bool, len(qr.Properties))
		for i := range qr.Properties {
			slugs[qr.Properties[i].Slug] = true
		}
		for slug := range bySlug {
			if !slugs[slug] {
				return invalidOverride("override for question %s names unknown property %q", qid, slug)
			}
		}
	}

	for i := range r.Questions {
		qr := &r.Questions[i]
		if qr.Outcome != OutcomePending {
			continue
		}
		bySlug := o.Judgments[qr.ID]
		if len(bySlug) < len(qr.Properties) {
			continue
		}
		complete := true
		for pi := range qr.Properties {
			if _, ok := bySlug[qr.Properties[pi].Slug]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}

		for pi := range qr.Properties {
			p := &qr.Properties[pi]
			j := bySlug[p.Slug]
			p.Manual = &j
			p.Applicable = 1
			if j.Result == CheckPass {
				p.Passed = 1
				p.CPR = 1
				p.Strict = true
			} else {
				p.Passed = 0
				p.CPR = 0
				p.Strict = false
			}
		}
		qr.score(r.ThresholdT)
	}

	r.rescore()
	return nil
}
