// Package outbox implements the transactional outbox for audit event
// streaming. Events are inserted in the same database transaction as the
// state change they describe; a background worker publishes them to Kafka
// and marks them published. Kafka consumers (SIEM, reporting) therefore see
// every committed change exactly once and never see uncommitted ones.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "github.com/adverant/nexus-compliance/pkg/domain"
)

// Entry is one pending or published outbox row.
type Entry struct {
	ID          uuid.UUID
	EventType   string
	TenantID    id.TenantID
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// Store persists outbox entries. Append participates in the caller's
// transaction when one is carried in ctx.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	FetchUnpublished(ctx context.Context, limit int) ([]Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Publisher delivers entries to the downstream stream.
type Publisher interface {
	Publish(ctx context.Context, entries []Entry) error
}
