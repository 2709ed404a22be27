// Package flight guards concurrent registration attempts on the same key and
// caches pipeline state for the progress endpoint. The lock is advisory: it
// prevents duplicate concurrent work, not concurrent record writes (the
// record store's upsert already makes those safe).
package flight

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"sigillum/internal/proof/models"
	"sigillum/pkg/domain"
	dErrors "sigillum/pkg/domain-errors"
	"sigillum/pkg/platform/sentinel"
)

const (
	lockPrefix  = "flight:lock:"
	statePrefix = "flight:state:"
)

// RedisStore is the cross-process flight store. Lock TTLs double as crash
// recovery: a process that dies mid-run releases its lock by expiry.
type RedisStore struct {
	rdb redis.Cmdable
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Acquire(ctx context.Context, key domain.RegistrationKey, ttl time.Duration) (bool, error) {
	acquired, err := s.rdb.SetNX(ctx, lockPrefix+key.String(), "1", ttl).Result()
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to acquire flight lock")
	}
	return acquired, nil
}

func (s *RedisStore) Release(ctx context.Context, key domain.RegistrationKey) error {
	if err := s.rdb.Del(ctx, lockPrefix+key.String()).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to release flight lock")
	}
	return nil
}

func (s *RedisStore) SaveState(ctx context.Context, state models.PipelineState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode pipeline state")
	}
	if err := s.rdb.Set(ctx, statePrefix+state.Key.String(), payload, ttl).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to cache pipeline state")
	}
	return nil
}

func (s *RedisStore) LoadState(ctx context.Context, key domain.RegistrationKey) (models.PipelineState, error) {
	payload, err := s.rdb.Get(ctx, statePrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.PipelineState{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.PipelineState{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load pipeline state")
	}

	var state models.PipelineState
	if err := json.Unmarshal(payload, &state); err != nil {
		return models.PipelineState{}, dErrors.Wrap(err, dErrors.CodeInternal, "corrupt cached pipeline state")
	}
	return state, nil
}
