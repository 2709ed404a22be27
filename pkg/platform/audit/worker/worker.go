// Package worker relays audit events from the transactional outbox to the
// downstream broker. Writing to the outbox in the request path and publishing
// from here keeps event emission atomic with record writes without putting
// the broker on the request's critical path.
package worker

import (
	"context"
	"log/slog"
	"time"

	audit "sigillum/pkg/platform/audit"
)

const defaultBatchSize = 100

// OutboxSource lists and acknowledges pending outbox rows.
type OutboxSource interface {
	ListUnpublished(ctx context.Context, limit int) ([]audit.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []string) error
}

// Sink is where relayed events go, typically the Kafka publisher.
type Sink interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Relay polls the outbox and publishes pending events. Delivery is
// at-least-once: a crash between Emit and MarkPublished re-sends the batch
// on the next tick, so consumers must tolerate duplicates.
type Relay struct {
	source    OutboxSource
	sink      Sink
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithBatchSize(size int) Option {
	return func(r *Relay) { r.batchSize = size }
}

func NewRelay(source OutboxSource, sink Sink, interval time.Duration, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		sink:      sink,
		logger:    slog.Default(),
		interval:  interval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until the context is cancelled. Relay errors are logged and
// retried on the next tick rather than stopping the loop.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Drain(ctx); err != nil {
				r.logger.WarnContext(ctx, "outbox relay pass failed", "error", err)
			}
		}
	}
}

// Drain relays every pending outbox row once. Exposed separately so tests
// and shutdown paths can flush without the ticker.
func (r *Relay) Drain(ctx context.Context) error {
	for {
		entries, err := r.source.ListUnpublished(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		published := make([]string, 0, len(entries))
		for _, entry := range entries {
			if err := r.sink.Emit(ctx, entry.Event); err != nil {
				// Mark what made it through so only the remainder re-sends.
				if markErr := r.source.MarkPublished(ctx, published); markErr != nil {
					r.logger.WarnContext(ctx, "failed to mark relayed outbox rows", "error", markErr)
				}
				return err
			}
			published = append(published, entry.ID)
		}
		if err := r.source.MarkPublished(ctx, published); err != nil {
			return err
		}
		if len(entries) < r.batchSize {
			return nil
		}
	}
}
