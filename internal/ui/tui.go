package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer shows live sync progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *syncModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. Fails when the output is not a
// terminal; callers fall back to the plain renderer.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newSyncModel(tracker, cfg.Title)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	_, r.cancel = context.WithCancel(ctx)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stats().Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.Slug)

	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.program != nil {
		r.program.Quit()
		// Bounded wait so Ctrl+C never hangs on an unresponsive TUI.
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

// syncModel is the bubbletea model for a sync cycle.
type syncModel struct {
	tracker     *ProgressTracker
	width       int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	title       string
}

func newSyncModel(tracker *ProgressTracker, title string) *syncModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAmber))

	p := progress.New(
		progress.WithSolidFill(ColorAmber),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &syncModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		title:       title,
	}
}

// Init implements tea.Model.
func (m *syncModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *syncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = msg.Width - 20
		if m.progressBar.Width < 20 {
			m.progressBar.Width = 20
		}

	case progressUpdateMsg, errorMsg:
		// State lives in the tracker; the next frame picks it up.
		return m, nil

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *syncModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	divider := m.styles.Border.Render(strings.Repeat("─", contentWidth))
	sections := []string{
		m.renderStages(),
		divider,
		m.renderProgress(),
		m.renderRate(),
		divider,
		m.styles.Spark.Render(m.tracker.RenderSparkline(contentWidth-12)) +
			" " + m.styles.Dim.Render("throughput"),
	}
	if slug := m.tracker.Stats().Slug; slug != "" {
		sections = append(sections, divider, m.styles.Dim.Render(truncate(slug, contentWidth-2)))
	}

	title := "rumahcari sync"
	if m.title != "" {
		title = "rumahcari sync • " + m.title
	}

	panel := lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		m.styles.Panel.Width(contentWidth).Render(strings.Join(sections, "\n")),
	)
	return panel + "\n" + m.renderStatusBar()
}

// renderStages renders the pipeline stage indicators.
func (m *syncModel) renderStages() string {
	current := m.tracker.Stats().Stage

	stages := []Stage{StageFetch, StageEmbed, StageIndex}
	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		var icon string
		var style lipgloss.Style
		switch {
		case s < current:
			icon = "●"
			style = m.styles.Success
		case s == current:
			icon = m.spinner.View()
			style = m.styles.Active
		default:
			icon = "○"
			style = m.styles.Dim
		}
		parts = append(parts, style.Render(icon+" "+s.String()))
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *syncModel) renderProgress() string {
	stats := m.tracker.Stats()
	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), stats.Stage)
	}

	bar := m.progressBar.ViewAs(stats.Progress)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
	count := m.styles.Label.Render(fmt.Sprintf("%d / %d records", stats.Current, stats.Total))
	return fmt.Sprintf("%s  %s\n%s", bar, pct, count)
}

func (m *syncModel) renderRate() string {
	stats := m.tracker.Stats()

	parts := []string{m.styles.Label.Render(fmt.Sprintf("Rate: %.0f/s", stats.Rate))}
	if stats.ETA > 0 {
		parts = append(parts, m.styles.Label.Render("ETA: "+formatDuration(stats.ETA)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  •  "))
}

func (m *syncModel) renderStatusBar() string {
	stats := m.tracker.Stats()

	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	if len(parts) == 0 {
		return m.styles.Dim.Render("q to quit")
	}
	return strings.Join(parts, m.styles.Dim.Render("  │  ")) + m.styles.Dim.Render("  │  q to quit")
}

// renderComplete renders the completion summary panel.
func (m *syncModel) renderComplete() string {
	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	lines := []string{
		m.styles.Success.Render("✓ Sync Complete"),
		"",
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Fetched: "),
			m.styles.Active.Render(fmt.Sprintf("%d", m.stats.Attempted))),
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Upserted:"),
			m.styles.Active.Render(fmt.Sprintf("%d", m.stats.Upserted))),
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Deleted: "),
			m.styles.Active.Render(fmt.Sprintf("%d", m.stats.Deleted))),
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Duration:"),
			m.styles.Active.Render(formatDuration(m.stats.Duration))),
	}
	if m.stats.Failed > 0 {
		lines = append(lines, "",
			m.styles.Error.Render(fmt.Sprintf("✗ %d records failed", m.stats.Failed)))
	}
	if m.stats.Embedder.Model != "" {
		lines = append(lines, "",
			m.styles.Dim.Render(fmt.Sprintf("%s (%s, %d dims)",
				m.stats.Embedder.Provider, m.stats.Embedder.Model, m.stats.Embedder.Dimensions)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAmber)).
		Padding(1, 2).
		Width(contentWidth)
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders a duration as 12s / 2m 15s / 1h 3m.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max+3:]
}

var _ Renderer = (*TUIRenderer)(nil)
