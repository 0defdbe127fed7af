// Package alert delivers side-channel notifications for queue backlog and
// processing failures.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Kind classifies an alert.
type Kind string

const (
	KindQueueBacklog     Kind = "queue_backlog"
	KindJobFailed        Kind = "job_failed"
	KindEmbeddingFailed  Kind = "embedding_failed"
	KindAnnotationFailed Kind = "annotation_failed"
	KindGraphFailed      Kind = "graph_failed"
)

// Event is a single notification: human text plus a structured payload.
type Event struct {
	Kind    Kind           `json:"kind"`
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// New creates an event stamped with the current time.
func New(kind Kind, text string, payload map[string]any) Event {
	return Event{Kind: kind, Text: text, Payload: payload, At: time.Now().UTC()}
}

// Notifier delivers events to one destination.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Fanout delivers each event to every notifier and joins their errors.
type Fanout []Notifier

// Notify sends e to all notifiers, continuing past failures.
func (f Fanout) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logger writes events to a structured logger.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a log sink.
func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger.With("component", "alert")}
}

// Notify logs e at warn level.
func (l *Logger) Notify(ctx context.Context, e Event) error {
	attrs := []any{"kind", e.Kind}
	for k, v := range e.Payload {
		attrs = append(attrs, k, v)
	}
	l.logger.WarnContext(ctx, e.Text, attrs...)
	return nil
}

// Recorder keeps events in memory for inspection in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify stores e.
func (r *Recorder) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
