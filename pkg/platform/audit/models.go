package audit

import (
	"context"
	"time"

	"sigillum/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance: a proof was
	// durably registered (or definitively not) for an owner. Long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. Can be sampled with shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the pipeline to capture lifecycle transitions. Keep
// it transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	AttemptID domain.AttemptID
	Key       domain.RegistrationKey
	Owner     domain.OwnerAddress
	Action    string
	Step      string
	TxHash    domain.TxHash
	Reason    string
	RequestID string
}

// AuditEvent names a registration lifecycle transition.
type AuditEvent string

// Registration lifecycle events.
const (
	EventSubmitted          AuditEvent = "proof_submitted"
	EventUploaded           AuditEvent = "proof_uploaded"
	EventPersisted          AuditEvent = "proof_persisted"
	EventConfirmed          AuditEvent = "proof_confirmed"
	EventAwaitingConfirm    AuditEvent = "proof_awaiting_confirmation"
	EventCancelled          AuditEvent = "proof_cancelled"
	EventFailed             AuditEvent = "proof_failed"
	EventResumed            AuditEvent = "proof_resumed"
	EventDuplicateCompleted AuditEvent = "proof_duplicate_completed"
)

// eventCategories is the source of truth for routing. Terminal registration
// facts are compliance; intermediate progress is operations.
var eventCategories = map[AuditEvent]EventCategory{
	EventSubmitted:          CategoryOperations,
	EventUploaded:           CategoryOperations,
	EventPersisted:          CategoryOperations,
	EventConfirmed:          CategoryCompliance,
	EventAwaitingConfirm:    CategoryOperations,
	EventCancelled:          CategoryOperations,
	EventFailed:             CategoryCompliance,
	EventResumed:            CategoryOperations,
	EventDuplicateCompleted: CategoryOperations,
}

// Category returns the event's routing category, defaulting to operations
// for unknown actions.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// OutboxEntry is one outbox row awaiting relay to the downstream broker.
type OutboxEntry struct {
	ID    string
	Event Event
}

// Store persists audit events. Implementations: in-memory (tests, dev) and
// the PostgreSQL outbox (production, drained to Kafka).
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByKey(ctx context.Context, key domain.RegistrationKey) ([]Event, error)
}
