package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/service"
	"github.com/spf13/cobra"
)

var (
	jobsStatus string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect ingestion jobs",
	Long: `List ingestion jobs, newest first, or inspect a specific job by ID.

Examples:
  kbingest jobs                  # List recent jobs
  kbingest jobs --status error   # Only failed jobs
  kbingest jobs 4f9c...          # Show details for one job`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVarP(&jobsStatus, "status", "s", "", "filter by status (queued, processing, complete, error)")
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 50, "max results")
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if len(args) == 1 {
		job, err := jobs.GetJob(ctx, args[0])
		if errors.Is(err, service.ErrJobNotFound) {
			return fmt.Errorf("job not found: %s", args[0])
		}
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		renderJob(os.Stdout, *job, defaultTheme)
		return nil
	}

	status := models.JobStatus(jobsStatus)
	switch status {
	case "", models.JobQueued, models.JobProcessing, models.JobComplete, models.JobError:
	default:
		return fmt.Errorf("unknown status %q", jobsStatus)
	}

	list, err := jobs.ListJobs(ctx, status, jobsLimit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	renderJobTable(os.Stdout, list, defaultTheme)
	return nil
}

func renderJobTable(w io.Writer, jobs []models.IngestionJob, theme Theme) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return
	}

	fmt.Fprintf(w, "%-36s  %-12s  %-20s  %-20s  %s\n", "ID", "STATUS", "VERSION", "SOURCE", "SUBMITTED")
	fmt.Fprintln(w, "------------------------------------------------------------------------------------------------------------")
	for _, job := range jobs {
		status := theme.statusFor(job.Status).Render(fmt.Sprintf("%-12s", job.Status))
		fmt.Fprintf(w, "%-36s  %s  %-20s  %-20s  %s\n",
			job.ID, status, clip(job.VersionID, 20), clip(job.SourceID, 20), job.SubmittedAt.Format("2006-01-02 15:04:05"))
	}
}

func renderJob(w io.Writer, job models.IngestionJob, theme Theme) {
	fmt.Fprintf(w, "Job: %s\n", job.ID)
	fmt.Fprintf(w, "  Status: %s\n", theme.statusFor(job.Status).Render(string(job.Status)))
	fmt.Fprintf(w, "  Source: %s\n", job.SourceID)
	fmt.Fprintf(w, "  Version: %s\n", job.VersionID)
	if job.SubmittedBy != "" {
		fmt.Fprintf(w, "  Submitted by: %s\n", job.SubmittedBy)
	}
	fmt.Fprintf(w, "  Submitted: %s\n", job.SubmittedAt.Format(time.RFC3339))
	if job.ClaimedAt != nil {
		fmt.Fprintf(w, "  Claimed: %s\n", job.ClaimedAt.Format(time.RFC3339))
	}
	if job.ProcessedAt != nil {
		fmt.Fprintf(w, "  Processed: %s\n", job.ProcessedAt.Format(time.RFC3339))
	}

	if job.ErrorDetail != nil && *job.ErrorDetail != "" {
		fmt.Fprintf(w, "  Error: %s\n", theme.errorStyle().Render(*job.ErrorDetail))
	}

	if job.ResultSummary != nil {
		fmt.Fprintln(w, "\nResult:")
		renderSummary(w, *job.ResultSummary, theme)
	}
}

func renderSummary(w io.Writer, r models.ResultSummary, theme Theme) {
	fmt.Fprintf(w, "  Segments processed:   %d\n", r.SegmentsProcessed)
	fmt.Fprintf(w, "  Embeddings created:   %d (%d chunks, %s)\n", r.EmbeddingsCreated, r.EmbeddingChunks, r.EmbeddingModel)
	if r.AnnotationModel != nil {
		fmt.Fprintf(w, "  Annotation model:     %s\n", *r.AnnotationModel)
	}
	fmt.Fprintf(w, "  Entities linked:      %d\n", r.EntitiesLinked)
	fmt.Fprintf(w, "  Relationships linked: %d\n", r.RelationshipsLinked)
	fmt.Fprintf(w, "  Duration:             %s\n", (time.Duration(r.DurationMS) * time.Millisecond).Round(time.Millisecond))
	if len(r.Notes) > 0 {
		fmt.Fprintln(w, theme.errorStyle().Render(fmt.Sprintf("\n  Notes (%d):", len(r.Notes))))
		for _, n := range r.Notes {
			fmt.Fprintf(w, "    - %s\n", n)
		}
	}
}

func renderCycle(w io.Writer, report service.CycleReport) {
	theme := defaultTheme
	fmt.Fprintf(w, "Queued before claim: %d", report.Queued)
	if report.Backlog {
		fmt.Fprint(w, theme.errorStyle().Render("  (backlog)"))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Claimed: %d  Completed: %s  Failed: %s\n",
		report.Claimed,
		theme.completedStyle().Render(fmt.Sprint(report.Completed)),
		theme.errorStyle().Render(fmt.Sprint(report.Failed)),
	)
	for _, j := range report.Jobs {
		line := fmt.Sprintf("  %s  %s", j.JobID, theme.statusFor(j.Status).Render(string(j.Status)))
		if j.Error != "" {
			line += "  " + clip(j.Error, 80)
		}
		fmt.Fprintln(w, line)
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
