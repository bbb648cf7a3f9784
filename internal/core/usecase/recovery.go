package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
	"github.com/kirillkom/knowledge-pipeline/internal/core/ports"
)

// RecoveryObserver counts recovery outcomes.
type RecoveryObserver interface {
	ObserveRecovery(service, outcome string, count int)
}

// RecoverStaleUseCase reconciles documents stranded mid-pipeline by a
// crashed worker. A document caught in GRAPH_SYNC with at least one
// persisted chunk has all its authoritative data committed; the graph
// projection is derivable, so it is promoted straight to READY instead
// of forcing a re-run. Everything else stuck in a working state is
// failed with a retryable payload. The repository resolves the whole
// batch in a single skip-locked claim, so concurrent recovery runs
// partition the stale set between them.
type RecoverStaleUseCase struct {
	docs      ports.DocumentRepository
	notifier  ports.Notifier
	metrics   RecoveryObserver
	batchSize int
	log       *slog.Logger
}

func NewRecoverStaleUseCase(
	docs ports.DocumentRepository,
	notifier ports.Notifier,
	metrics RecoveryObserver,
	batchSize int,
	log *slog.Logger,
) *RecoverStaleUseCase {
	if batchSize <= 0 {
		batchSize = 200
	}
	if log == nil {
		log = slog.Default()
	}
	return &RecoverStaleUseCase{
		docs:      docs,
		notifier:  notifier,
		metrics:   metrics,
		batchSize: batchSize,
		log:       log,
	}
}

func (uc *RecoverStaleUseCase) RecoverStale(ctx context.Context) (promoted, failed int, err error) {
	failure := &domain.ErrorPayload{
		Kind:    "temporary",
		Message: "processing interrupted by restart, please retry",
	}
	outcomes, err := uc.docs.ClaimStaleForRecovery(
		ctx, domain.WorkingStatuses(), domain.StatusGraphSync, uc.batchSize, failure)
	if err != nil {
		return 0, 0, fmt.Errorf("claim stale documents: %w", err)
	}

	for _, out := range outcomes {
		if out.NewStatus == domain.StatusReady {
			promoted++
		} else {
			failed++
		}
		uc.publish(ctx, out)
	}

	if uc.metrics != nil {
		uc.metrics.ObserveRecovery(serviceName, "promoted", promoted)
		uc.metrics.ObserveRecovery(serviceName, "failed", failed)
	}
	if len(outcomes) > 0 {
		uc.log.Info("stale recovery finished",
			"scanned", len(outcomes), "promoted", promoted, "failed", failed)
	}
	return promoted, failed, nil
}

func (uc *RecoverStaleUseCase) publish(ctx context.Context, out domain.StaleOutcome) {
	err := uc.notifier.PublishProgress(ctx, domain.StatusEvent{
		DocumentID: out.DocumentID,
		TenantID:   out.TenantID,
		OldStatus:  out.OldStatus,
		NewStatus:  out.NewStatus,
		Progress:   domain.PipelineProgress(out.NewStatus),
	})
	if err != nil {
		uc.log.Warn("recovery event dropped", "document_id", out.DocumentID, "error", err)
	}
}
