// Package store persists proof records keyed by registration identity.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"sigillum/internal/proof/models"
	"sigillum/pkg/domain"
	dErrors "sigillum/pkg/domain-errors"
	"sigillum/pkg/platform/sentinel"
)

// InMemoryStore keeps records in a map. Used by tests and single-process
// deployments; the Postgres store is the production implementation.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[domain.RegistrationKey]*models.ProofRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[domain.RegistrationKey]*models.ProofRecord)}
}

// Upsert merges the supplied fields into the record for key, creating it on
// first touch. Nil field pointers leave stored values untouched, so two
// concurrent attempts cannot erase each other's progress.
func (s *InMemoryStore) Upsert(_ context.Context, key domain.RegistrationKey, fields models.RecordFields) (*models.ProofRecord, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	record, ok := s.records[key]
	if !ok {
		record = &models.ProofRecord{Key: key, CreatedAt: now}
		s.records[key] = record
	}
	applyFields(record, fields)
	record.UpdatedAt = now

	copied := *record
	return &copied, nil
}

func (s *InMemoryStore) Get(_ context.Context, key domain.RegistrationKey) (*models.ProofRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, owner domain.OwnerAddress) ([]*models.ProofRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ProofRecord
	for _, record := range s.records {
		if record.Owner.Canonical() == owner.Canonical() {
			copied := *record
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func applyFields(record *models.ProofRecord, fields models.RecordFields) {
	if fields.Digest != nil {
		record.Digest = *fields.Digest
	}
	if fields.Owner != nil {
		record.Owner = *fields.Owner
	}
	if fields.StorageLocator != nil {
		record.StorageLocator = *fields.StorageLocator
	}
	if fields.StorageVerified != nil {
		record.StorageVerified = *fields.StorageVerified
	}
	if fields.Metadata != nil {
		record.Metadata = *fields.Metadata
	}
	if fields.TxHash != nil {
		record.TxHash = *fields.TxHash
	}
}

// validateFields rejects malformed metadata before it reaches storage.
// Schema violations are programming errors, fatal to the attempt.
func validateFields(fields models.RecordFields) error {
	if fields.Metadata != nil {
		if fields.Metadata.Title == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "metadata title is required")
		}
		if !fields.Metadata.Visibility.IsValid() {
			return dErrors.New(dErrors.CodeInvalidInput, "metadata visibility must be public or private")
		}
	}
	return nil
}
