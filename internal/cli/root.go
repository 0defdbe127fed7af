// Package cli provides the command-line interface for kbingest.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/raphaelgruber/kbingest/internal/app"
	"github.com/raphaelgruber/kbingest/internal/client"
	"github.com/raphaelgruber/kbingest/internal/config"
	"github.com/raphaelgruber/kbingest/internal/metrics"
	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/service"
	"github.com/spf13/cobra"
)

// jobAPI is the job surface shared by the local store and the server client.
type jobAPI interface {
	Enqueue(ctx context.Context, sub models.JobSubmission) (*models.IngestionJob, error)
	GetJob(ctx context.Context, id string) (*models.IngestionJob, error)
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.IngestionJob, error)
}

type cycleRunner interface {
	RunCycle(ctx context.Context, n int) (service.CycleReport, error)
}

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	cfg         config.Config
	logger      *slog.Logger
	closeLog    func() error
	application *app.App

	// Set for every command; backed by application or by a server client.
	jobs   jobAPI
	runner cycleRunner
	stats  func(ctx context.Context) (*metrics.Snapshot, error)
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kbingest",
	Short: "Transcript ingestion pipeline",
	Long: `kbingest turns queued transcript versions into searchable, annotated
content segments and knowledge-graph entries.

Configuration comes from the YAML file named by KBINGEST_CONFIG and
KBINGEST_* environment variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.LogLevel()
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.Log.File, level)
		slog.SetDefault(logger)

		if serverURL != "" {
			if cmd.Annotations["local"] == "true" {
				return fmt.Errorf("%s needs a local store and cannot use --server", cmd.Name())
			}
			c := client.New(serverURL)
			jobs, runner, stats = c, c, c.Stats
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		application, err = app.New(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		jobs, runner = application.Jobs, application.Dispatcher
		stats = func(context.Context) (*metrics.Snapshot, error) {
			snap := application.Metrics.Snapshot()
			return &snap, nil
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application != nil {
			if err := application.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close connections: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "send commands to a kbingest-server at this URL instead of the local store")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(statsCmd)
}
