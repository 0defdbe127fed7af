package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/raphaelgruber/kbingest/internal/metrics"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline timing statistics",
	Long: `Show operation counts, failures and timings. With --server the numbers
come from the running server; locally they only cover this process.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		renderStats(os.Stdout, *snap)
		return nil
	},
}

func renderStats(w io.Writer, s metrics.Snapshot) {
	fmt.Fprintf(w, "Uptime: %s\n\n", (time.Duration(s.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(w, "%-14s %8s %8s %10s %10s %10s\n", "OPERATION", "COUNT", "FAILED", "AVG", "MIN", "MAX")

	rows := []struct {
		name string
		op   *metrics.OperationSnapshot
	}{
		{"claim", s.Claim},
		{"job", s.Job},
		{"embedding", s.Embedding},
		{"annotate", s.Annotate},
		{"content_write", s.ContentWrite},
		{"graph_write", s.GraphWrite},
	}
	for _, r := range rows {
		if r.op == nil {
			continue
		}
		failed := fmt.Sprintf("%8d", r.op.Failures)
		if r.op.Failures > 0 {
			failed = defaultTheme.errorStyle().Render(failed)
		}
		fmt.Fprintf(w, "%-14s %8d %s %8.1fms %8dms %8dms\n",
			r.name, r.op.Count, failed, r.op.AvgTimeMs, r.op.MinTimeMs, r.op.MaxTimeMs)
	}
}
