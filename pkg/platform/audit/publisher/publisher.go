// Package publisher provides the audit publisher used by the pipeline.
//
// In sync mode Emit blocks until the store write succeeds. With an async
// buffer, events are queued and drained by a background goroutine; a full
// buffer drops the event with a warning rather than stalling a registration.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sigillum/pkg/domain"
	audit "sigillum/pkg/platform/audit"
)

type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	inbox  chan audit.Event
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with the given queue
// depth.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.inbox = make(chan audit.Event, size)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an audit event. Timestamps are stamped here so callers don't
// have to remember.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}

	select {
	case p.inbox <- event:
		return nil
	case <-p.closed:
		return p.store.Append(ctx, event)
	default:
		p.logger.Warn("audit buffer full, dropping event",
			"action", event.Action,
			"key", event.Key,
		)
		return nil
	}
}

// List returns persisted events for a registration key.
func (p *Publisher) List(ctx context.Context, key domain.RegistrationKey) ([]audit.Event, error) {
	return p.store.ListByKey(ctx, key)
}

// Close drains the async buffer and stops the background worker.
func (p *Publisher) Close() error {
	p.once.Do(func() {
		close(p.closed)
		if p.inbox != nil {
			close(p.inbox)
			p.wg.Wait()
		}
	})
	return nil
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.inbox {
		if err := p.store.Append(context.Background(), event); err != nil {
			p.logger.Error("audit append failed",
				"action", event.Action,
				"key", event.Key,
				"error", err,
			)
		}
	}
}
