package ab

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/property"
)

// weightEpsilon is the tolerance on the cell weight sum.
const weightEpsilon = 0.01

// Cell is one arm of an experiment. Method defaults to parsing the cell
// name, so `name: HYBRID_60_40` needs no separate method line.
type Cell struct {
	Name   string  `yaml:"name" json:"name"`
	Method string  `yaml:"method,omitempty" json:"method,omitempty"`
	Weight float64 `yaml:"weight" json:"weight"`

	resolved property.SearchMethod
}

// ResolvedMethod is the parsed strategy this cell routes to. Valid only
// after the experiment passed validation.
func (c Cell) ResolvedMethod() property.SearchMethod {
	return c.resolved
}

// Experiment is one A/B test window over the retrieval strategies.
type Experiment struct {
	Name  string    `yaml:"name" json:"name"`
	Start time.Time `yaml:"start" json:"start"`
	End   time.Time `yaml:"end" json:"end"`

	// ConsistentPerUser pins each known user to one cell by hash;
	// anonymous traffic still draws weighted random.
	ConsistentPerUser bool `yaml:"consistent_per_user" json:"consistent_per_user"`

	Cells []Cell `yaml:"cells" json:"cells"`
}

// ActiveAt reports whether now falls inside the inclusive window.
func (e *Experiment) ActiveAt(now time.Time) bool {
	return !now.Before(e.Start) && !now.After(e.End)
}

func (e *Experiment) validate() error {
	if e.Name == "" {
		return fmt.Errorf("experiment has no name")
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return fmt.Errorf("experiment %q needs start and end", e.Name)
	}
	if !e.End.After(e.Start) {
		return fmt.Errorf("experiment %q ends before it starts", e.Name)
	}
	if len(e.Cells) == 0 {
		return fmt.Errorf("experiment %q has no cells", e.Name)
	}

	sum := 0.0
	for i := range e.Cells {
		cell := &e.Cells[i]
		if cell.Name == "" {
			return fmt.Errorf("experiment %q: cell %d has no name", e.Name, i)
		}
		if cell.Weight <= 0 || cell.Weight > 1 {
			return fmt.Errorf("experiment %q: cell %q weight %v outside (0, 1]", e.Name, cell.Name, cell.Weight)
		}
		sum += cell.Weight

		src := cell.Method
		if src == "" {
			src = cell.Name
		}
		method, err := property.ParseMethod(src)
		if err != nil {
			return fmt.Errorf("experiment %q: cell %q: %w", e.Name, cell.Name, err)
		}
		cell.resolved = method
	}

	if sum < 1-weightEpsilon || sum > 1+weightEpsilon {
		return fmt.Errorf("experiment %q: cell weights sum to %v, want 1 ± %v", e.Name, sum, weightEpsilon)
	}
	return nil
}

type experimentsFile struct {
	Experiments []Experiment `yaml:"experiments"`
}

// LoadExperiments reads and validates the experiments file. A missing
// file means no experiments and is not an error.
func LoadExperiments(path string) ([]Experiment, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("read experiments file %s", path), err)
	}

	var file experimentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("parse experiments file %s", path), err)
	}

	for i := range file.Experiments {
		if err := file.Experiments[i].validate(); err != nil {
			return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("experiments file %s", path), err)
		}
	}
	return file.Experiments, nil
}
