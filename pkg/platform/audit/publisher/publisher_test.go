package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigillum/pkg/domain"
	audit "sigillum/pkg/platform/audit"
	"sigillum/pkg/platform/audit/store/memory"
)

const testKey = domain.RegistrationKey("0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c4b5a69788796a5b4c3d2e1f0")

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		Key:    testKey,
		Action: string(audit.EventConfirmed),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), testKey)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventConfirmed), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))

	err := pub.Emit(context.Background(), audit.Event{
		Key:    testKey,
		Action: string(audit.EventUploaded),
	})
	require.NoError(t, err)

	// Close drains the buffer before returning.
	require.NoError(t, pub.Close())

	events, err := pub.List(context.Background(), testKey)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
}

func TestPublisher_AsyncFullBufferDropsInsteadOfBlocking(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = pub.Emit(context.Background(), audit.Event{
				Key:    testKey,
				Action: string(audit.EventSubmitted),
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on full buffer")
	}
}
