package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	enqueueBy    string
	enqueueWatch bool
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <source-id> <version-id>",
	Short: "Queue a transcript version for ingestion",
	Long: `Add an ingestion job for a transcript version. A running worker or the
server poller picks it up.

Examples:
  kbingest enqueue meeting-42 meeting-42-v3
  kbingest enqueue meeting-42 meeting-42-v3 --watch`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := jobs.Enqueue(cmd.Context(), models.JobSubmission{
			SourceID:    args[0],
			VersionID:   args[1],
			SubmittedBy: enqueueBy,
		})
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		fmt.Printf("Queued job %s\n", job.ID)

		if !enqueueWatch {
			return nil
		}
		return watchJob(cmd, job)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job until it completes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := jobs.GetJob(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		return watchJob(cmd, job)
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueBy, "by", os.Getenv("USER"), "submitter recorded on the job")
	enqueueCmd.Flags().BoolVarP(&enqueueWatch, "watch", "w", false, "follow the job until it completes")
}

func watchJob(cmd *cobra.Command, job *models.IngestionJob) error {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return runJobProgress(jobs, job)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return pollJob(ctx, os.Stdout, jobs, job.ID, pollInterval)
}
