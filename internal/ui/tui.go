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

// TUIRenderer draws run progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	tracker *ProgressTracker
	model   *runModel
	program *tea.Program
	done    chan struct{}
}

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}
	tracker := NewProgressTracker()
	model := newRunModel(tracker, cfg.Source)
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
	if r.program != nil {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(ev ProgressEvent) {
	r.tracker.Update(ev)
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(ev ErrorEvent) {
	r.tracker.AddError(ev)
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracker.Update(ProgressEvent{Stage: StageComplete})
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer. It waits briefly for the program to exit.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type completeMsg CompletionStats
type tickMsg time.Time

// runModel is the bubbletea model of one index run.
type runModel struct {
	tracker  *ProgressTracker
	source   string
	width    int
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
	complete *CompletionStats
	quitting bool
}

func newRunModel(tracker *ProgressTracker, source string) *runModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))
	return &runModel{
		tracker: tracker,
		source:  source,
		width:   80,
		spinner: s,
		bar:     progress.New(progress.WithSolidFill(ColorAccent), progress.WithWidth(50), progress.WithoutPercentage()),
		styles:  DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m *runModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m *runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 20)
	case completeMsg:
		stats := CompletionStats(msg)
		m.complete = &stats
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *runModel) View() string {
	if m.complete != nil {
		return m.viewComplete(*m.complete)
	}
	if m.quitting {
		return "Canceled.\n"
	}

	st := m.tracker.Stats()
	title := "docsearch index"
	if m.source != "" {
		title += " • " + m.source
	}

	lines := []string{m.styles.Header.Render(title), m.viewStages(st.Stage)}
	if st.Total == 0 {
		lines = append(lines, m.spinner.View()+" "+m.styles.Label.Render(st.Stage.String()+"..."))
	} else {
		lines = append(lines,
			fmt.Sprintf("%s  %s", m.bar.ViewAs(st.Fraction), m.styles.Active.Render(fmt.Sprintf("%3.0f%%", st.Fraction*100))),
			m.styles.Label.Render(fmt.Sprintf("%d / %d documents  •  %.1f/s  •  ETA %s",
				st.Current, st.Total, st.Rate, formatDuration(st.ETA))))
	}
	if st.DocPath != "" {
		lines = append(lines, m.styles.Dim.Render(truncatePath(st.DocPath, m.width-4)))
	}
	if st.Errors > 0 || st.Warnings > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("%d errors, %d warnings", st.Errors, st.Warnings)))
	}
	return strings.Join(lines, "\n") + "\n"
}

// viewStages renders the stage bar with done, active and pending stages.
func (m *runModel) viewStages(current Stage) string {
	parts := make([]string, len(pipeline))
	for i, s := range pipeline {
		switch {
		case s < current:
			parts[i] = m.styles.Success.Render("● " + s.String())
		case s == current:
			parts[i] = m.styles.Active.Render(m.spinner.View() + " " + s.String())
		default:
			parts[i] = m.styles.Dim.Render("○ " + s.String())
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *runModel) viewComplete(s CompletionStats) string {
	head := m.styles.Success.Render("✓ Index up to date")
	if s.Canceled {
		head = m.styles.Warning.Render("Index run canceled")
	}
	lines := []string{
		head,
		"",
		fmt.Sprintf("%s %d new, %d changed, %d unchanged, %d deleted",
			m.styles.Label.Render("Documents:"), s.New, s.Changed, s.Unchanged, s.Deleted),
		fmt.Sprintf("%s %d", m.styles.Label.Render("Chunks:   "), s.Chunks),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Duration: "), formatDuration(s.Duration)),
	}
	if s.Failed > 0 {
		lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d failed", s.Failed)))
	}
	if s.Skipped > 0 || s.Degraded > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("%d skipped, %d degraded", s.Skipped, s.Degraded)))
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccentDim)).
		Padding(0, 2)
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders d as "42s", "3m 5s" or "1h 2m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncatePath keeps the tail of path within n bytes.
func truncatePath(path string, n int) string {
	if n < 4 || len(path) <= n {
		return path
	}
	return "..." + path[len(path)-n+3:]
}

var _ Renderer = (*TUIRenderer)(nil)
