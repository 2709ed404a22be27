package worker

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "sigillum/pkg/platform/audit"
)

// fakeOutbox is an in-memory outbox with injectable failures.
type fakeOutbox struct {
	pending []audit.OutboxEntry
	marked  []string
}

func (f *fakeOutbox) ListUnpublished(_ context.Context, limit int) ([]audit.OutboxEntry, error) {
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	return f.pending[:limit], nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, ids []string) error {
	f.marked = append(f.marked, ids...)
	remaining := f.pending[:0]
	for _, entry := range f.pending {
		published := false
		for _, id := range ids {
			if entry.ID == id {
				published = true
				break
			}
		}
		if !published {
			remaining = append(remaining, entry)
		}
	}
	f.pending = remaining
	return nil
}

type fakeSink struct {
	emitted []audit.Event
	failOn  string
}

func (f *fakeSink) Emit(_ context.Context, event audit.Event) error {
	if f.failOn != "" && event.Action == f.failOn {
		return errors.New("broker unavailable")
	}
	f.emitted = append(f.emitted, event)
	return nil
}

func entries(n int) []audit.OutboxEntry {
	out := make([]audit.OutboxEntry, n)
	for i := range out {
		out[i] = audit.OutboxEntry{
			ID:    strconv.Itoa(i),
			Event: audit.Event{Action: "proof_uploaded", Reason: strconv.Itoa(i)},
		}
	}
	return out
}

func TestDrainRelaysAndMarks(t *testing.T) {
	outbox := &fakeOutbox{pending: entries(5)}
	sink := &fakeSink{}
	relay := NewRelay(outbox, sink, time.Second)

	require.NoError(t, relay.Drain(context.Background()))

	assert.Len(t, sink.emitted, 5)
	assert.Len(t, outbox.marked, 5)
	assert.Empty(t, outbox.pending)
}

func TestDrainWorksThroughMultipleBatches(t *testing.T) {
	outbox := &fakeOutbox{pending: entries(7)}
	sink := &fakeSink{}
	relay := NewRelay(outbox, sink, time.Second, WithBatchSize(3))

	require.NoError(t, relay.Drain(context.Background()))
	assert.Len(t, sink.emitted, 7)
	assert.Empty(t, outbox.pending)
}

func TestDrainKeepsFailedRowsPending(t *testing.T) {
	outbox := &fakeOutbox{pending: entries(3)}
	outbox.pending[1].Event.Action = "proof_confirmed"
	sink := &fakeSink{failOn: "proof_confirmed"}
	relay := NewRelay(outbox, sink, time.Second)

	err := relay.Drain(context.Background())
	require.Error(t, err)

	// Row 0 made it through and is acknowledged; rows 1 and 2 remain.
	assert.Equal(t, []string{"0"}, outbox.marked)
	assert.Len(t, outbox.pending, 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	outbox := &fakeOutbox{}
	relay := NewRelay(outbox, &fakeSink{}, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := relay.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
