// Package idempotency derives registration identities and finds prior runs.
//
// Users retry after crashed tabs, rejected signing prompts, and network
// blips. The resolver is what keeps those retries from re-uploading or
// re-paying: the same (digest, owner) pair always lands on the same record.
package idempotency

import (
	"context"
	"errors"

	"sigillum/internal/proof/models"
	"sigillum/internal/proof/ports"
	"sigillum/pkg/domain"
	dErrors "sigillum/pkg/domain-errors"
	"sigillum/pkg/platform/sentinel"
)

type Resolver struct {
	records ports.RecordStore
}

func NewResolver(records ports.RecordStore) *Resolver {
	return &Resolver{records: records}
}

// Resolve derives the stable registration key for a (digest, owner) pair.
func (r *Resolver) Resolve(digest domain.Digest, owner domain.OwnerAddress) domain.RegistrationKey {
	return domain.DeriveRegistrationKey(digest, owner)
}

// LookupExisting returns the prior record for key, or nil when this is a
// fresh registration. Store connectivity failures are retryable.
func (r *Resolver) LookupExisting(ctx context.Context, key domain.RegistrationKey) (*models.ProofRecord, error) {
	record, err := r.records.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "lookup existing registration")
	}
	return record, nil
}
