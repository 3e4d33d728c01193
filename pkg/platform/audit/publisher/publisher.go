// Package publisher emits audit events to a store and optional sinks,
// either inline or through a bounded background buffer.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"portal/pkg/domain"
	audit "portal/pkg/platform/audit"
	"portal/pkg/platform/audit/worker"
	"portal/pkg/platform/circuit"
)

// ErrBufferFull is returned by Emit in async mode when the buffer is full
// and the caller's context ends before space frees up.
var ErrBufferFull = errors.New("audit buffer full")

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("audit publisher closed")

type Publisher struct {
	store  audit.Store
	sinks  []guardedSink
	logger *slog.Logger

	bufferSize int
	buffer     chan audit.Event
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// guardedSink skips a sink while its breaker is open so a dead broker
// does not add its timeout to every event.
type guardedSink struct {
	sink    audit.Sink
	breaker *circuit.Breaker
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with a buffer of n
// events. n <= 0 keeps sync mode.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) { p.bufferSize = n }
}

// WithSink fans every persisted event out to sink. breakerOpts tune the
// sink's circuit breaker.
func WithSink(sink audit.Sink, breakerOpts ...circuit.Option) Option {
	return func(p *Publisher) {
		if sink == nil {
			return
		}
		p.sinks = append(p.sinks, guardedSink{
			sink:    sink,
			breaker: circuit.New(fmt.Sprintf("audit-sink-%d", len(p.sinks)+1), breakerOpts...),
		})
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.bufferSize > 0 {
		p.buffer = make(chan audit.Event, p.bufferSize)
		w := worker.NewWorker(p.deliver, p.buffer, p.logger)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			// detached from any request: events outlive the request that emitted them
			w.Run(context.Background())
		}()
	}
	return p
}

// Emit fills ID, Timestamp, and Category when unset and records the event.
// In sync mode store errors are returned; in async mode they are logged.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.ID.IsNil() {
		event.ID = domain.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = event.Action.Category()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if p.buffer == nil {
		return p.deliver(ctx, event)
	}

	select {
	case p.buffer <- event:
		return nil
	default:
	}
	select {
	case p.buffer <- event:
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "audit buffer full, dropping event",
			"action", event.Action,
			"event_id", event.ID.String(),
		)
		return ErrBufferFull
	}
}

// deliver persists then fans out. Sink failures never undo a stored event.
func (p *Publisher) deliver(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	for _, gs := range p.sinks {
		if !gs.breaker.Allow() {
			continue
		}
		if err := gs.sink.Publish(ctx, event); err != nil {
			_, change := gs.breaker.RecordFailure()
			p.logger.WarnContext(ctx, "audit sink publish failed",
				"error", err,
				"sink", gs.breaker.Name(),
				"action", event.Action,
				"event_id", event.ID.String(),
			)
			if change.Opened {
				p.logger.ErrorContext(ctx, "audit sink circuit opened", "sink", gs.breaker.Name())
			}
			continue
		}
		if _, change := gs.breaker.RecordSuccess(); change.Closed {
			p.logger.InfoContext(ctx, "audit sink circuit closed", "sink", gs.breaker.Name())
		}
	}
	return nil
}

// List returns the audit trail of one subject.
func (p *Publisher) List(ctx context.Context, subject domain.SubjectID) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subject)
}

// Close stops accepting events and, in async mode, waits for the buffer to
// drain. Safe to call more than once.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.buffer != nil {
		close(p.buffer)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
