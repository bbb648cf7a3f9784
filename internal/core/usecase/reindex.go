package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
	"github.com/kirillkom/knowledge-pipeline/internal/core/ports"
)

// EmbeddingResolver resolves a tenant's effective embedding config and
// can probe a model's output dimensionality with a live embed call.
type EmbeddingResolver interface {
	Resolve(tenant *domain.Tenant) domain.EmbeddingConfig
	ProbeDimensions(ctx context.Context, cfg domain.EmbeddingConfig) (int, error)
}

// ReindexUseCase detects embedding-config drift and migrates a tenant's
// corpus onto a new embedding space. Mixed-dimensionality collections
// are never allowed: the collection is dropped and re-created with the
// new dimensions before any document is reset, so a concurrently
// running ingest can never upsert into a missing or stale collection.
type ReindexUseCase struct {
	tenants  ports.TenantRepository
	docs     ports.DocumentRepository
	chunks   ports.ChunkRepository
	index    ports.VectorIndex
	graph    ports.GraphEnricher
	queue    ports.TaskQueue
	resolver EmbeddingResolver
	log      *slog.Logger
}

func NewReindexUseCase(
	tenants ports.TenantRepository,
	docs ports.DocumentRepository,
	chunks ports.ChunkRepository,
	index ports.VectorIndex,
	graph ports.GraphEnricher,
	queue ports.TaskQueue,
	resolver EmbeddingResolver,
	log *slog.Logger,
) *ReindexUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &ReindexUseCase{
		tenants:  tenants,
		docs:     docs,
		chunks:   chunks,
		index:    index,
		graph:    graph,
		queue:    queue,
		resolver: resolver,
		log:      log,
	}
}

// CheckTenants compares each active tenant's resolved embedding config
// against the materialized collection dimensionality.
func (uc *ReindexUseCase) CheckTenants(ctx context.Context) ([]domain.CompatibilityStatus, error) {
	tenants, err := uc.tenants.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}

	statuses := make([]domain.CompatibilityStatus, 0, len(tenants))
	for _, tenant := range tenants {
		cfg := uc.resolver.Resolve(tenant)
		status := domain.CompatibilityStatus{
			TenantID:   tenant.ID,
			Configured: cfg,
		}

		collectionDims, err := uc.index.CollectionDimensions(ctx, tenant)
		if err != nil {
			status.IncompatibleNote = fmt.Sprintf("collection inspection failed: %v", err)
			statuses = append(statuses, status)
			continue
		}
		status.CollectionDims = collectionDims

		switch {
		case collectionDims == 0:
			// Nothing materialized yet; the next ingest creates the
			// collection with whatever the config resolves to.
			status.Compatible = true
		case cfg.Dimensions == 0:
			status.Compatible = true
			status.IncompatibleNote = "configured dimensionality unknown, probe on migration"
		case collectionDims == cfg.Dimensions:
			status.Compatible = true
		default:
			status.NeedsMigration = true
			status.IncompatibleNote = fmt.Sprintf(
				"collection has %d dims, config resolves to %d", collectionDims, cfg.Dimensions)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// MigrateTenant moves the tenant onto its resolved embedding config and
// re-ingests every document. Returned task IDs let the caller cancel
// the fan-out.
func (uc *ReindexUseCase) MigrateTenant(ctx context.Context, tenantID string) ([]string, error) {
	tenant, err := uc.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}

	cfg := uc.resolver.Resolve(tenant)
	if cfg.Dimensions == 0 {
		dims, err := uc.resolver.ProbeDimensions(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("probe embedding dimensions: %w", err)
		}
		cfg.Dimensions = dims
	}

	if err := uc.tenants.SaveEmbeddingConfig(ctx, tenantID, cfg); err != nil {
		return nil, fmt.Errorf("persist embedding config: %w", err)
	}
	tenant.EmbeddingProvider = cfg.Provider
	tenant.EmbeddingModel = cfg.Model
	tenant.EmbeddingDimensions = cfg.Dimensions

	// Collection first: drop and pre-create with the new dims before
	// any document resets, so concurrent ingests never see a missing
	// collection.
	if err := uc.index.DropCollection(ctx, tenant); err != nil {
		return nil, fmt.Errorf("drop collection: %w", err)
	}
	if err := uc.index.EnsureCollection(ctx, tenant, cfg.Dimensions); err != nil {
		return nil, fmt.Errorf("recreate collection: %w", err)
	}

	if err := uc.graph.DeleteTenantData(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("clear tenant graph: %w", err)
	}
	deletedChunks, err := uc.chunks.DeleteByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("clear tenant chunks: %w", err)
	}
	resetDocs, err := uc.docs.ResetTenantToIngested(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("reset tenant documents: %w", err)
	}

	docs, err := uc.docs.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tenant documents: %w", err)
	}
	taskIDs := make([]string, 0, len(docs))
	for _, doc := range docs {
		taskID, err := uc.queue.DispatchIngest(ctx, tenantID, doc.ID)
		if err != nil {
			return taskIDs, fmt.Errorf("dispatch re-ingest for %s: %w", doc.ID, err)
		}
		taskIDs = append(taskIDs, taskID)
	}

	uc.log.Info("tenant migration started",
		"tenant_id", tenantID,
		"provider", cfg.Provider,
		"model", cfg.Model,
		"dimensions", cfg.Dimensions,
		"documents", resetDocs,
		"chunks_dropped", deletedChunks,
	)
	return taskIDs, nil
}

// CancelMigration revokes dispatched re-ingest tasks. Best effort: a
// task already picked up runs to completion or failure on its own.
func (uc *ReindexUseCase) CancelMigration(ctx context.Context, taskIDs []string) error {
	var firstErr error
	for _, taskID := range taskIDs {
		if err := uc.queue.Cancel(ctx, taskID, true); err != nil {
			uc.log.Warn("task cancel failed", "task_id", taskID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
