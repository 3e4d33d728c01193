// Package worker drains buffered audit events into a store.
package worker

import (
	"context"
	"log/slog"

	audit "portal/pkg/platform/audit"
)

// Handler persists one event. Publisher.deliver satisfies it.
type Handler func(ctx context.Context, event audit.Event) error

// Worker consumes events until its inbox is closed. A failing event is
// logged and skipped so one bad write never blocks the queue.
type Worker struct {
	handle Handler
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(handle Handler, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{handle: handle, inbox: inbox, logger: logger}
}

// Run returns once the inbox is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for event := range w.inbox {
		if err := w.handle(ctx, event); err != nil {
			w.logger.ErrorContext(ctx, "failed to persist audit event",
				"error", err,
				"action", event.Action,
				"event_id", event.ID.String(),
			)
		}
	}
}
