package nats

import (
	"context"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"
)

// PooledHandler adapts a blocking ingest function into a subscription
// handler that hands each task to the worker pool and returns
// immediately, so the subscription goroutine keeps draining messages
// while up to pool-capacity documents process in parallel. When the
// pool is saturated, Submit blocks until a worker frees up, which is
// the only backpressure applied to the subscription. Task outcomes are
// logged, not returned: the returned error covers submission alone.
func PooledHandler(
	pool *ants.Pool,
	log *slog.Logger,
	taskTimeout time.Duration,
	run func(ctx context.Context, tenantID, documentID string) error,
) func(ctx context.Context, tenantID, documentID string) error {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, tenantID, documentID string) error {
		return pool.Submit(func() {
			taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
			defer cancel()
			if err := run(taskCtx, tenantID, documentID); err != nil {
				log.Error("ingest task failed",
					"tenant_id", tenantID,
					"document_id", documentID,
					"error", err,
				)
			}
		})
	}
}
