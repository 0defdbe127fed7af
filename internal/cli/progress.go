package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/kbingest/internal/models"
)

const pollInterval = time.Second

// Theme holds the color scheme for job output.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) statusFor(s models.JobStatus) lipgloss.Style {
	switch s {
	case models.JobComplete:
		return t.completedStyle()
	case models.JobError:
		return t.errorStyle()
	default:
		return t.statusStyle()
	}
}

// stageFraction maps a job status to a position on the progress bar. Jobs
// do not report per-segment progress, so the bar shows lifecycle stage.
func stageFraction(s models.JobStatus) float64 {
	switch s {
	case models.JobQueued:
		return 0.1
	case models.JobProcessing:
		return 0.5
	case models.JobComplete, models.JobError:
		return 1
	default:
		return 0
	}
}

type jobGetter interface {
	GetJob(ctx context.Context, id string) (*models.IngestionJob, error)
}

// tickMsg triggers polling the job status
type tickMsg time.Time

// jobUpdateMsg carries the updated job data
type jobUpdateMsg struct {
	job *models.IngestionJob
	err error
}

// progressModel is the bubbletea model for watching a job.
type progressModel struct {
	jobs     jobGetter
	jobID    string
	job      *models.IngestionJob
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(jobs jobGetter, job *models.IngestionJob) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		jobs:     jobs,
		jobID:    job.ID,
		job:      job,
		progress: prog,
		theme:    defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.job = msg.job
		if m.job.Status.Terminal() {
			m.done = true
			if m.job.Status == models.JobError {
				m.err = jobError(m.job)
			}
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.job == nil {
		return "Loading job status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	bar := m.progress.ViewAs(stageFraction(m.job.Status))
	hint := m.theme.hintStyle().Render("Press q to stop watching; the job keeps running")

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, m.job.VersionID, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nStopped watching job %s.\nUse 'kbingest jobs %s' to check status.\n", m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	var b strings.Builder
	b.WriteString(m.theme.completedStyle().Render("✓ Completed") + "\n\n")
	if m.job != nil && m.job.ResultSummary != nil {
		renderSummary(&b, *m.job.ResultSummary, m.theme)
	}
	return b.String()
}

// fetchJob runs as a command so Update never blocks on the store.
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.jobs.GetJob(ctx, m.jobID)
		return jobUpdateMsg{job: job, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runJobProgress runs the interactive progress UI for a job.
// Returns nil on success or when the user stops watching, and the job's
// error when it failed.
func runJobProgress(jobs jobGetter, job *models.IngestionJob) error {
	p := tea.NewProgram(newProgressModel(jobs, job))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok && !m.quitting {
		return m.err
	}
	return nil
}

// pollJob prints status changes until the job is terminal. Used when
// stdout is not a terminal.
func pollJob(ctx context.Context, w io.Writer, jobs jobGetter, id string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last models.JobStatus
	for {
		job, err := jobs.GetJob(ctx, id)
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		if job.Status != last {
			fmt.Fprintf(w, "%s %s\n", time.Now().Format("15:04:05"), job.Status)
			last = job.Status
		}
		if job.Status.Terminal() {
			if job.ResultSummary != nil {
				renderSummary(w, *job.ResultSummary, defaultTheme)
			}
			if job.Status == models.JobError {
				return jobError(job)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func jobError(job *models.IngestionJob) error {
	if job.ErrorDetail != nil && *job.ErrorDetail != "" {
		return fmt.Errorf("%s", *job.ErrorDetail)
	}
	return fmt.Errorf("job failed with unknown error")
}
