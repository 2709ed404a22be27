//go:build integration

package store_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"sigillum/internal/proof/models"
	proofstore "sigillum/internal/proof/store"
	"sigillum/pkg/domain"
	"sigillum/pkg/platform/sentinel"
	"sigillum/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *proofstore.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = proofstore.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "proof_records", "audit_outbox")
	s.Require().NoError(err)
}

func pgTestKey(suffix string) domain.RegistrationKey {
	return domain.RegistrationKey(strings.Repeat("0", 64-len(suffix)) + suffix)
}

func (s *PostgresStoreSuite) TestUpsertRoundTrip() {
	ctx := context.Background()
	key := pgTestKey("a1")
	digest := domain.Digest("bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy")
	owner := domain.OwnerAddress("0x" + strings.Repeat("ab", 20))

	created, err := s.store.Upsert(ctx, key, models.RecordFields{
		Digest: &digest,
		Owner:  &owner,
		Metadata: &models.Metadata{
			Title:      "deed of origin",
			Category:   "document",
			Visibility: models.VisibilityPublic,
		},
	})
	s.Require().NoError(err)
	s.Equal(key, created.Key)
	s.False(created.Confirmed())

	fetched, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal(digest, fetched.Digest)
	s.Equal("deed of origin", fetched.Metadata.Title)
	s.Equal(models.VisibilityPublic, fetched.Metadata.Visibility)
}

func (s *PostgresStoreSuite) TestUpsertMergeKeepsEarlierFields() {
	ctx := context.Background()
	key := pgTestKey("b2")
	digest := domain.Digest("bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy")
	locator := "https://storage.example/proofs/" + key.String()
	verified := true

	_, err := s.store.Upsert(ctx, key, models.RecordFields{
		Digest:   &digest,
		Metadata: &models.Metadata{Title: "first pass", Visibility: models.VisibilityPrivate},
	})
	s.Require().NoError(err)

	merged, err := s.store.Upsert(ctx, key, models.RecordFields{
		StorageLocator:  &locator,
		StorageVerified: &verified,
	})
	s.Require().NoError(err)
	s.Equal(digest, merged.Digest)
	s.Equal("first pass", merged.Metadata.Title)
	s.Equal(locator, merged.StorageLocator)
	s.True(merged.StorageVerified)
}

func (s *PostgresStoreSuite) TestTxHashAttachedIdempotently() {
	ctx := context.Background()
	key := pgTestKey("c3")
	digest := domain.Digest("bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy")
	txHash := domain.TxHash("0x" + strings.Repeat("cd", 32))

	_, err := s.store.Upsert(ctx, key, models.RecordFields{Digest: &digest})
	s.Require().NoError(err)

	confirmed, err := s.store.Upsert(ctx, key, models.RecordFields{TxHash: &txHash})
	s.Require().NoError(err)
	s.True(confirmed.Confirmed())
	s.Equal(txHash, confirmed.TxHash)

	// Re-attaching the same hash is idempotent.
	again, err := s.store.Upsert(ctx, key, models.RecordFields{TxHash: &txHash})
	s.Require().NoError(err)
	s.Equal(txHash, again.TxHash)
}

func (s *PostgresStoreSuite) TestGetMissingReturnsNotFound() {
	_, err := s.store.Get(context.Background(), pgTestKey("d4"))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestConcurrentUpsertsSameKey() {
	ctx := context.Background()
	key := pgTestKey("e5")
	digest := domain.Digest("bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy")
	locator := "https://storage.example/proofs/" + key.String()
	verified := true

	const goroutines = 20
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = s.store.Upsert(ctx, key, models.RecordFields{Digest: &digest})
			} else {
				_, err = s.store.Upsert(ctx, key, models.RecordFields{
					StorageLocator:  &locator,
					StorageVerified: &verified,
				})
			}
			require.NoError(s.T(), err)
		}(i)
	}
	wg.Wait()

	record, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal(digest, record.Digest)
	s.Equal(locator, record.StorageLocator)
}

func (s *PostgresStoreSuite) TestListByOwnerNewestFirst() {
	ctx := context.Background()
	owner := domain.OwnerAddress("0x" + strings.Repeat("ab", 20))
	digest := domain.Digest("bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy")

	for _, suffix := range []string{"f6", "f7"} {
		_, err := s.store.Upsert(ctx, pgTestKey(suffix), models.RecordFields{
			Digest: &digest,
			Owner:  &owner,
		})
		s.Require().NoError(err)
	}

	records, err := s.store.ListByOwner(ctx, owner)
	s.Require().NoError(err)
	s.Len(records, 2)
	s.False(records[0].CreatedAt.Before(records[1].CreatedAt))
}
