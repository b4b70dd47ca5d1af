package ui

import (
	"sync"
	"time"
)

// speedWindow is how far back the rolling rate looks.
const speedWindow = 10 * time.Second

// ProgressTracker accumulates progress events and derives rate and ETA.
// Safe for concurrent use: the pipeline reports from its own goroutine
// while the TUI reads on every frame.
type ProgressTracker struct {
	mu sync.Mutex

	stage     Stage
	current   int
	total     int
	slug      string
	started   time.Time
	stageFrom time.Time

	samples []rateSample
	spark   *Sparkline

	errors []ErrorEvent
}

type rateSample struct {
	at    time.Time
	count int
}

// ProgressStats is a point-in-time snapshot for rendering.
type ProgressStats struct {
	Stage      Stage
	Current    int
	Total      int
	Slug       string
	Progress   float64
	Rate       float64
	ETA        time.Duration
	Elapsed    time.Duration
	ErrorCount int
	WarnCount  int
}

// NewProgressTracker creates a tracker.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		started:   now,
		stageFrom: now,
		spark:     NewSparkline(60),
	}
}

// SetStage moves to a new stage and resets per-stage counters.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.slug = ""
	p.stageFrom = time.Now()
	p.samples = p.samples[:0]
}

// Update records progress within the current stage.
func (p *ProgressTracker) Update(current int, slug string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.current = current
	if slug != "" {
		p.slug = slug
	}

	p.samples = append(p.samples, rateSample{at: now, count: current})
	p.trimSamples(now)
	p.spark.Add(p.rateLocked(now))
}

// AddError records a record-level failure.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, event)
}

// Errors returns the recorded failures.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ErrorEvent, len(p.errors))
	copy(out, p.errors)
	return out
}

// Stats returns a snapshot for rendering.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	s := ProgressStats{
		Stage:   p.stage,
		Current: p.current,
		Total:   p.total,
		Slug:    p.slug,
		Rate:    p.rateLocked(now),
		Elapsed: now.Sub(p.started),
	}
	if p.total > 0 {
		s.Progress = float64(p.current) / float64(p.total)
	}
	if s.Rate > 0 && p.total > p.current {
		s.ETA = time.Duration(float64(p.total-p.current) / s.Rate * float64(time.Second))
	}
	for _, e := range p.errors {
		if e.IsWarn {
			s.WarnCount++
		} else {
			s.ErrorCount++
		}
	}
	return s
}

// RenderSparkline renders the recent throughput as block characters.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spark.RenderWidth(width)
}

// rateLocked computes items/sec over the rolling window.
func (p *ProgressTracker) rateLocked(now time.Time) float64 {
	if len(p.samples) < 2 {
		return 0
	}
	first := p.samples[0]
	last := p.samples[len(p.samples)-1]
	dt := last.at.Sub(first.at).Seconds()
	if dt <= 0 {
		return 0
	}
	return float64(last.count-first.count) / dt
}

func (p *ProgressTracker) trimSamples(now time.Time) {
	cutoff := now.Add(-speedWindow)
	i := 0
	for i < len(p.samples)-1 && p.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		p.samples = p.samples[i:]
	}
}
