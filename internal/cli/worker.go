package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runBatch int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Poll the queue and process jobs until interrupted",
	Long: `Run the dispatcher in continuous mode. Every poll interval it claims
up to dispatch.poll_batch jobs and processes them. A job that is already
claimed finishes before the worker exits.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{"local": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("worker started",
			"store", cfg.Store.Backend,
			"graph", cfg.Store.Graph,
			"poll_interval", cfg.Dispatch.PollInterval,
			"poll_batch", cfg.Dispatch.PollBatch,
		)
		return application.Dispatcher.Run(ctx)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Claim and process one batch of jobs",
	Long: `Run a single dispatch cycle: claim up to --batch queued jobs, process
them in order and print a report.

Examples:
  kbingest run
  kbingest run --batch 25`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n := runBatch
		if n <= 0 {
			n = cfg.Dispatch.BatchSize
		}
		if n > maxBatch {
			return fmt.Errorf("batch must be at most %d, got %d", maxBatch, n)
		}

		report, err := runner.RunCycle(cmd.Context(), n)
		if err != nil {
			return err
		}
		renderCycle(os.Stdout, report)
		return nil
	},
}

const maxBatch = 100

func init() {
	runCmd.Flags().IntVarP(&runBatch, "batch", "n", 0, "jobs to claim (default dispatch.batch_size)")
}
