// Package postgres implements audit.Store using the transactional outbox
// pattern. Events are written to the outbox table and published to Kafka by
// the outbox worker; Kafka is the source of truth downstream.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"sigillum/pkg/domain"
	audit "sigillum/pkg/platform/audit"
	txcontext "sigillum/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka. Field names match
// audit.Event for deserialization by the consumer.
type outboxPayload struct {
	ID        string `json:"ID"`
	Category  string `json:"Category"`
	Timestamp string `json:"Timestamp"`
	AttemptID string `json:"AttemptID,omitempty"`
	Key       string `json:"Key"`
	Owner     string `json:"Owner,omitempty"`
	Action    string `json:"Action"`
	Step      string `json:"Step,omitempty"`
	TxHash    string `json:"TxHash,omitempty"`
	Reason    string `json:"Reason,omitempty"`
	RequestID string `json:"RequestID,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
// Participates in an enclosing SQL transaction when one is in context.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Category is always derived from the action; the map in audit is the
	// source of truth.
	category := audit.AuditEvent(event.Action).Category()

	payload := outboxPayload{
		ID:        eventID.String(),
		Category:  string(category),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Key:       event.Key.String(),
		Owner:     event.Owner.String(),
		Action:    event.Action,
		Step:      event.Step,
		TxHash:    event.TxHash.String(),
		Reason:    event.Reason,
		RequestID: event.RequestID,
	}
	if !event.AttemptID.IsNil() {
		payload.AttemptID = event.AttemptID.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	const q = `
		INSERT INTO audit_outbox (id, registration_key, category, action, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.execer(ctx).ExecContext(ctx, q,
		eventID, event.Key.String(), string(category), event.Action, body, event.Timestamp,
	); err != nil {
		return fmt.Errorf("append audit outbox: %w", err)
	}
	return nil
}

// ListByKey returns the persisted events for a registration key, oldest first.
func (s *Store) ListByKey(ctx context.Context, key domain.RegistrationKey) ([]audit.Event, error) {
	const q = `
		SELECT payload FROM audit_outbox
		WHERE registration_key = $1
		ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, q, key.String())
	if err != nil {
		return nil, fmt.Errorf("list audit outbox: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		var payload outboxPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal audit payload: %w", err)
		}
		events = append(events, payloadToEvent(payload))
	}
	return events, rows.Err()
}

// ListUnpublished returns outbox rows not yet relayed downstream, oldest
// first, up to limit.
func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]audit.OutboxEntry, error) {
	const q = `
		SELECT id, payload FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list unpublished outbox: %w", err)
	}
	defer rows.Close()

	var entries []audit.OutboxEntry
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		var payload outboxPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
		}
		entries = append(entries, audit.OutboxEntry{ID: id, Event: payloadToEvent(payload)})
	}
	return entries, rows.Err()
}

// MarkPublished stamps the given outbox rows as relayed.
func (s *Store) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `UPDATE audit_outbox SET published_at = NOW() WHERE id = ANY($1::uuid[])`
	if _, err := s.db.ExecContext(ctx, q, pq.StringArray(ids)); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func payloadToEvent(p outboxPayload) audit.Event {
	event := audit.Event{
		Category:  audit.EventCategory(p.Category),
		Key:       domain.RegistrationKey(p.Key),
		Owner:     domain.OwnerAddress(p.Owner),
		Action:    p.Action,
		Step:      p.Step,
		TxHash:    domain.TxHash(p.TxHash),
		Reason:    p.Reason,
		RequestID: p.RequestID,
	}
	if ts, err := time.Parse(time.RFC3339Nano, p.Timestamp); err == nil {
		event.Timestamp = ts
	}
	if attemptID, err := domain.ParseAttemptID(p.AttemptID); err == nil {
		event.AttemptID = attemptID
	}
	return event
}
