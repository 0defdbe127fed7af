package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/raphaelgruber/kbingest/internal/alert"
	"github.com/raphaelgruber/kbingest/internal/metrics"
	"github.com/raphaelgruber/kbingest/internal/models"
)

// DispatcherConfig tunes claiming and alerting.
type DispatcherConfig struct {
	// BacklogThreshold fires one backlog alert per cycle when the queued
	// count exceeds it. Zero disables the alert.
	BacklogThreshold int

	// PollInterval is the delay between cycles in continuous mode.
	PollInterval time.Duration

	// PollBatch is how many jobs each continuous-mode cycle claims.
	PollBatch int
}

// Dispatcher claims jobs, runs them through a JobProcessor and finalizes them.
type Dispatcher struct {
	queue     QueueSource
	processor JobProcessor
	notifier  alert.Notifier
	metrics   *metrics.Collector
	logger    *slog.Logger
	cfg       DispatcherConfig
}

// NewDispatcher creates a dispatcher. notifier and collector may be nil.
func NewDispatcher(queue QueueSource, processor JobProcessor, notifier alert.Notifier, collector *metrics.Collector, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = alert.NewLogger(logger)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.PollBatch <= 0 {
		cfg.PollBatch = 1
	}
	return &Dispatcher{
		queue:     queue,
		processor: processor,
		notifier:  notifier,
		metrics:   collector,
		logger:    logger.With("component", "dispatcher"),
		cfg:       cfg,
	}
}

// JobReport is the result of one job within a cycle.
type JobReport struct {
	JobID     string           `json:"job_id"`
	VersionID string           `json:"version_id"`
	Status    models.JobStatus `json:"status"`
	Error     string           `json:"error,omitempty"`
}

// CycleReport summarizes one claim-and-process cycle.
type CycleReport struct {
	Queued    int         `json:"queued"`
	Backlog   bool        `json:"backlog"`
	Claimed   int         `json:"claimed"`
	Completed int         `json:"completed"`
	Failed    int         `json:"failed"`
	Jobs      []JobReport `json:"jobs"`
}

// RunCycle claims up to n jobs and processes them one after another.
// Job failures are recorded on the job and never returned; the error is
// only set when the queue itself cannot be read.
func (d *Dispatcher) RunCycle(ctx context.Context, n int) (CycleReport, error) {
	report := CycleReport{Jobs: []JobReport{}}

	queued, err := d.queue.CountQueued(ctx)
	if err != nil {
		d.logger.Warn("count queued jobs failed", "error", err)
	} else {
		report.Queued = queued
		if d.cfg.BacklogThreshold > 0 && queued > d.cfg.BacklogThreshold {
			report.Backlog = true
			d.notify(ctx, alert.KindQueueBacklog,
				fmt.Sprintf("ingestion backlog: %d jobs queued (threshold %d)", queued, d.cfg.BacklogThreshold),
				map[string]any{"queued": queued, "threshold": d.cfg.BacklogThreshold})
		}
	}

	claimStart := time.Now()
	jobs, err := d.queue.ClaimBatch(ctx, n)
	if err != nil {
		d.recordFailure(metrics.OpClaim)
		return report, fmt.Errorf("claim batch: %w", err)
	}
	d.recordTiming(metrics.OpClaim, time.Since(claimStart))
	report.Claimed = len(jobs)

	if len(jobs) == 0 {
		d.logger.Debug("no jobs claimed", "queued", report.Queued)
		return report, nil
	}

	for _, job := range jobs {
		jr := d.runJob(ctx, job)
		if jr.Status == models.JobComplete {
			report.Completed++
		} else {
			report.Failed++
		}
		report.Jobs = append(report.Jobs, jr)
	}

	d.logger.Info("cycle complete", "claimed", report.Claimed, "completed", report.Completed, "failed", report.Failed)
	return report, nil
}

// runJob processes and finalizes one job. A claimed job runs to completion
// even if ctx is cancelled, so shutdown never strands work it started.
func (d *Dispatcher) runJob(ctx context.Context, job models.IngestionJob) JobReport {
	jobCtx := context.WithoutCancel(ctx)
	log := d.logger.With("job_id", job.ID, "version_id", job.VersionID)
	start := time.Now()

	summary, err := d.process(jobCtx, job)
	outcome := models.JobOutcome{Summary: summary, Err: err}
	if err != nil {
		outcome.Detail = SerializeError(err)
	}

	jr := JobReport{JobID: job.ID, VersionID: job.VersionID, Status: outcome.Status()}
	if err != nil {
		jr.Error = err.Error()
		d.recordFailure(metrics.OpJob)
		log.Error("job failed", "error", err)
		d.notify(jobCtx, alert.KindJobFailed,
			fmt.Sprintf("ingestion job %s failed: %v", job.ID, err),
			map[string]any{"job_id": job.ID, "source_id": job.SourceID, "version_id": job.VersionID, "error": err.Error()})
	} else {
		d.recordTiming(metrics.OpJob, time.Since(start))
	}

	if ferr := d.queue.Finalize(jobCtx, job.ID, outcome); ferr != nil {
		log.Error("finalize failed", "status", outcome.Status(), "error", ferr)
	}
	return jr
}

// process calls the processor, converting a panic into an error.
func (d *Dispatcher) process(ctx context.Context, job models.IngestionJob) (summary *models.ResultSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			summary = nil
			err = &PanicError{Value: r}
		}
	}()
	return d.processor.ProcessJob(ctx, job)
}

// Run polls the queue every PollInterval until ctx is cancelled. The first
// cycle runs immediately.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("poller started", "interval", d.cfg.PollInterval, "batch", d.cfg.PollBatch)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.RunCycle(ctx, d.cfg.PollBatch); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("poll cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			d.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) notify(ctx context.Context, kind alert.Kind, text string, payload map[string]any) {
	if err := d.notifier.Notify(ctx, alert.New(kind, text, payload)); err != nil {
		d.logger.Warn("alert delivery failed", "kind", kind, "error", err)
	}
}

func (d *Dispatcher) recordTiming(op string, dur time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordTiming(op, dur)
	}
}

func (d *Dispatcher) recordFailure(op string) {
	if d.metrics != nil {
		d.metrics.RecordFailure(op)
	}
}

// PanicError wraps a value recovered from a panicking job.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("internal panic: %v", e.Value)
}

// ErrorDetail is the serialized form of a job failure stored on the job.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SerializeError renders err as the JSON stored in error_detail.
func SerializeError(err error) string {
	detail := ErrorDetail{Kind: "internal", Message: err.Error()}
	var panicErr *PanicError
	switch {
	case errors.Is(err, ErrVersionNotFound):
		detail.Kind = "version_not_found"
	case errors.Is(err, ErrNoSegments):
		detail.Kind = "no_segments"
	case errors.As(err, &panicErr):
		detail.Kind = "panic"
	}
	raw, mErr := json.Marshal(detail)
	if mErr != nil {
		return err.Error()
	}
	return string(raw)
}
