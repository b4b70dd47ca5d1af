// Package ab routes searches across retrieval strategies. A process-wide
// override wins, then the active experiment assigns a cell (stable
// FNV-1a hash per user, weighted random otherwise), then the configured
// default applies. The experiments file hot-reloads on change.
package ab

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hunianlab/rumahcari/internal/property"
)

// reloadDebounce coalesces the burst of fsnotify events an editor save
// produces into one reload.
const reloadDebounce = 200 * time.Millisecond

// RouterConfig wires the router.
type RouterConfig struct {
	// DefaultMethod applies when no override or experiment matches.
	DefaultMethod property.SearchMethod

	// ExperimentsPath is the experiments yaml file. Empty disables
	// experiments entirely.
	ExperimentsPath string
}

// Router implements method_for. Safe for concurrent use.
type Router struct {
	cfg    RouterConfig
	logger *slog.Logger

	mu          sync.RWMutex
	experiments []Experiment
	override    *property.SearchMethod

	// Seams for deterministic tests.
	now       func() time.Time
	randFloat func() float64

	watcher     *fsnotify.Watcher
	reloadTimer *time.Timer
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewRouter loads the experiments file (when configured) and returns a
// ready router. A malformed file fails startup; hot reloads of a
// malformed file keep the previous experiments instead.
func NewRouter(cfg RouterConfig, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultMethod.IsZero() {
		cfg.DefaultMethod = property.Hybrid(property.DefaultSemanticWeight)
	}

	r := &Router{
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		randFloat: rand.Float64,
		stopCh:    make(chan struct{}),
	}

	if cfg.ExperimentsPath != "" {
		experiments, err := LoadExperiments(cfg.ExperimentsPath)
		if err != nil {
			return nil, err
		}
		r.experiments = experiments
		if len(experiments) > 0 {
			logger.Info("experiments loaded",
				"path", cfg.ExperimentsPath, "count", len(experiments))
		}
	}
	return r, nil
}

// MethodFor resolves the retrieval strategy for one request. userID may
// be empty.
func (r *Router) MethodFor(userID string) property.SearchMethod {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.override != nil {
		return *r.override
	}

	exp := r.activeLocked()
	if exp == nil {
		return r.cfg.DefaultMethod
	}

	var x float64
	if exp.ConsistentPerUser && userID != "" {
		x = userBucket(userID)
	} else {
		x = r.randFloat()
	}

	cell := pickCell(exp.Cells, x)
	return cell.ResolvedMethod()
}

// SetOverride pins every subsequent MethodFor to m until cleared.
func (r *Router) SetOverride(m property.SearchMethod) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.override = &m
}

// ClearOverride removes the override.
func (r *Router) ClearOverride() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.override = nil
}

// ActiveExperiment returns the experiment currently in window, if any.
func (r *Router) ActiveExperiment() (Experiment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if exp := r.activeLocked(); exp != nil {
		return *exp, true
	}
	return Experiment{}, false
}

// activeLocked returns the first experiment whose window contains now.
// Overlapping windows are a config smell; first-wins keeps assignment
// deterministic anyway.
func (r *Router) activeLocked() *Experiment {
	now := r.now()
	for i := range r.experiments {
		if r.experiments[i].ActiveAt(now) {
			return &r.experiments[i]
		}
	}
	return nil
}

// Reload re-reads the experiments file and swaps the set in. On error
// the previous experiments stay active.
func (r *Router) Reload() error {
	if r.cfg.ExperimentsPath == "" {
		return nil
	}
	experiments, err := LoadExperiments(r.cfg.ExperimentsPath)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.experiments = experiments
	r.mu.Unlock()

	r.logger.Info("experiments reloaded",
		"path", r.cfg.ExperimentsPath, "count", len(experiments))
	return nil
}

// Watch hot-reloads the experiments file until Close. The parent
// directory is watched rather than the file itself so atomic
// write-rename saves keep working.
func (r *Router) Watch() error {
	if r.cfg.ExperimentsPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create experiments watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.cfg.ExperimentsPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch experiments directory: %w", err)
	}
	r.watcher = watcher

	go r.watchLoop()
	return nil
}

func (r *Router) watchLoop() {
	target := filepath.Base(r.cfg.ExperimentsPath)

	for {
		select {
		case <-r.stopCh:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			r.scheduleReload()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("experiments watcher error", "error", err)
		}
	}
}

func (r *Router) scheduleReload() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reloadTimer != nil {
		r.reloadTimer.Stop()
	}
	r.reloadTimer = time.AfterFunc(reloadDebounce, func() {
		if err := r.Reload(); err != nil {
			r.logger.Warn("experiments reload failed; keeping previous set",
				"path", r.cfg.ExperimentsPath, "error", err)
		}
	})
}

// Close stops the watcher. Idempotent.
func (r *Router) Close() error {
	r.stopOnce.Do(func() {
		close(r.stopCh)

		r.mu.Lock()
		if r.reloadTimer != nil {
			r.reloadTimer.Stop()
		}
		r.mu.Unlock()

		if r.watcher != nil {
			_ = r.watcher.Close()
		}
	})
	return nil
}

// userBucket maps a user id onto [0, 1) with FNV-1a, giving every user
// a fixed position against the cumulative cell weights.
func userBucket(userID string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return float64(h.Sum32()) / float64(1<<32)
}

// pickCell walks cumulative weights. The last cell absorbs the epsilon
// the weight-sum tolerance allows.
func pickCell(cells []Cell, x float64) Cell {
	cum := 0.0
	for _, cell := range cells {
		cum += cell.Weight
		if x < cum {
			return cell
		}
	}
	return cells[len(cells)-1]
}
