package outbox

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	published []Entry
	err       error
}

func (p *capturePublisher) Publish(_ context.Context, entries []Entry) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, entries...)
	return nil
}

func newEntry(eventType string) Entry {
	return Entry{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   []byte(`{"k":"v"}`),
		CreatedAt: time.Now(),
	}
}

func TestWorker_DrainPublishesAndMarks(t *testing.T) {
	store := NewInMemoryStore()
	pub := &capturePublisher{}
	w := NewWorker(store, pub, slog.Default())

	ctx := context.Background()
	require.NoError(t, store.Append(ctx, newEntry("config.toggled")))
	require.NoError(t, store.Append(ctx, newEntry("assessment.completed")))

	require.NoError(t, w.Drain(ctx))

	require.Len(t, pub.published, 2)
	for _, e := range store.All() {
		assert.NotNil(t, e.PublishedAt, "entry %s should be marked published", e.ID)
	}

	// Second drain finds nothing new.
	require.NoError(t, w.Drain(ctx))
	assert.Len(t, pub.published, 2)
}

func TestWorker_DrainRetainsOnPublishFailure(t *testing.T) {
	store := NewInMemoryStore()
	pub := &capturePublisher{err: errors.New("broker down")}
	w := NewWorker(store, pub, slog.Default())

	ctx := context.Background()
	require.NoError(t, store.Append(ctx, newEntry("config.toggled")))

	require.Error(t, w.Drain(ctx))

	// Entry stays unpublished for the next tick.
	pending, err := store.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
