package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
)

// Worker drains the outbox: fetch unpublished entries, publish, mark
// published. Delivery is at-least-once; consumers deduplicate on entry ID.
type Worker struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollInterval overrides the poll interval.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.interval = d }
}

// WithBatchSize overrides the per-poll batch size.
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) { w.batchSize = n }
}

// NewWorker constructs an outbox worker.
func NewWorker(store Store, publisher Publisher, logger *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  defaultPollInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled. Publish failures are logged and retried
// on the next tick; they never crash the worker.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

// Drain performs one fetch-publish-mark cycle. Exposed for tests and for a
// final flush on shutdown.
func (w *Worker) Drain(ctx context.Context) error {
	entries, err := w.store.FetchUnpublished(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if err := w.publisher.Publish(ctx, entries); err != nil {
		return err
	}
	published := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		published = append(published, e.ID)
	}
	return w.store.MarkPublished(ctx, published, time.Now())
}
