package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
	"github.com/kirillkom/knowledge-pipeline/internal/core/ports"
)

// DeleteDocumentUseCase removes a document. The relational delete is
// authoritative (chunks cascade with it); vector and graph projections
// are derived data, so their cleanup is best effort and never blocks
// the delete.
type DeleteDocumentUseCase struct {
	docs    ports.DocumentRepository
	tenants ports.TenantRepository
	storage ports.ObjectStorage
	index   ports.VectorIndex
	graph   ports.GraphEnricher
	chunks  ports.ChunkRepository
	log     *slog.Logger
}

func NewDeleteDocumentUseCase(
	docs ports.DocumentRepository,
	tenants ports.TenantRepository,
	storage ports.ObjectStorage,
	index ports.VectorIndex,
	graph ports.GraphEnricher,
	chunks ports.ChunkRepository,
	log *slog.Logger,
) *DeleteDocumentUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &DeleteDocumentUseCase{
		docs:    docs,
		tenants: tenants,
		storage: storage,
		index:   index,
		graph:   graph,
		chunks:  chunks,
		log:     log,
	}
}

func (uc *DeleteDocumentUseCase) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	tenant, err := uc.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("resolve tenant: %w", err)
	}
	doc, err := uc.docs.GetByID(ctx, tenantID, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	if err := uc.docs.Delete(ctx, tenantID, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if err := uc.storage.Delete(ctx, doc.StoragePath); err != nil {
		uc.log.Warn("stored object not removed", "document_id", documentID, "error", err)
	}
	if err := uc.index.DeleteByDocument(ctx, tenant, documentID); err != nil {
		uc.log.Warn("vector cleanup failed", "document_id", documentID, "error", err)
	}
	if err := uc.pruneGraph(ctx, tenantID, documentID); err != nil {
		uc.log.Warn("graph cleanup failed", "document_id", documentID, "error", err)
	}

	uc.log.Info("document deleted", "tenant_id", tenantID, "document_id", documentID)
	return nil
}

// pruneGraph detaches the document's nodes by rebuilding the valid-id
// sets without it.
func (uc *DeleteDocumentUseCase) pruneGraph(ctx context.Context, tenantID, documentID string) error {
	docs, err := uc.docs.ListByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list remaining documents: %w", err)
	}
	validDocs := make([]string, 0, len(docs))
	validChunks := make([]string, 0)
	for _, d := range docs {
		if d.ID == documentID {
			continue
		}
		validDocs = append(validDocs, d.ID)
		cs, err := uc.chunks.ListByDocument(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("list chunks for %s: %w", d.ID, err)
		}
		validChunks = append(validChunks, chunkIDs(cs)...)
	}
	return uc.graph.PruneOrphans(ctx, tenantID, validDocs, validChunks)
}

func chunkIDs(chunks []*domain.Chunk) []string {
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ID)
	}
	return ids
}
