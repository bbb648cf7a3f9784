package ports

import (
	"context"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

// DocumentRegistrar is the inbound contract for upload registration with
// content-hash dedup.
type DocumentRegistrar interface {
	Register(ctx context.Context, tenantID, filename string, data []byte, contentType string) (*domain.Document, error)
}

// DocumentIngestor drives one document through the full pipeline.
type DocumentIngestor interface {
	IngestByID(ctx context.Context, tenantID, documentID string) error
}

// StaleRecoverer reconciles documents left mid-pipeline after a crash.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context) (promoted, failed int, err error)
}

// ReindexService detects embedding-config drift and migrates tenants.
type ReindexService interface {
	CheckTenants(ctx context.Context) ([]domain.CompatibilityStatus, error)
	MigrateTenant(ctx context.Context, tenantID string) ([]string, error)
	CancelMigration(ctx context.Context, taskIDs []string) error
}

// DocumentDeleter removes a document and best-effort purges its vector
// and graph projections.
type DocumentDeleter interface {
	DeleteDocument(ctx context.Context, tenantID, documentID string) error
}
