package idempotency

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigillum/internal/proof/models"
	"sigillum/internal/proof/store"
	"sigillum/pkg/domain"
)

var (
	resolverDigest = domain.Digest("bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy")
	resolverOwner  = domain.OwnerAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
)

func TestResolveIsStableAcrossOwnerCasing(t *testing.T) {
	r := NewResolver(store.NewInMemoryStore())

	key := r.Resolve(resolverDigest, resolverOwner)
	assert.Equal(t, key, r.Resolve(resolverDigest, resolverOwner))

	checksummed := domain.OwnerAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	assert.Equal(t, key, r.Resolve(resolverDigest, checksummed))

	otherOwner := domain.OwnerAddress("0x" + strings.Repeat("11", 20))
	assert.NotEqual(t, key, r.Resolve(resolverDigest, otherOwner))
}

func TestLookupExistingReturnsNilForFreshRegistration(t *testing.T) {
	r := NewResolver(store.NewInMemoryStore())

	record, err := r.LookupExisting(context.Background(), r.Resolve(resolverDigest, resolverOwner))
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestLookupExistingFindsPriorRecord(t *testing.T) {
	records := store.NewInMemoryStore()
	r := NewResolver(records)
	key := r.Resolve(resolverDigest, resolverOwner)

	_, err := records.Upsert(context.Background(), key, models.RecordFields{
		Digest: &resolverDigest,
		Owner:  &resolverOwner,
	})
	require.NoError(t, err)

	record, err := r.LookupExisting(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, resolverDigest, record.Digest)
}
