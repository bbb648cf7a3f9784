package ports

import (
	"context"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

// DocumentRepository persists and reads document state. UpdateStatusCAS
// is the pipeline's inter-worker concurrency guard: it only succeeds
// when the row still holds expectedOld. ClaimStaleForRecovery resolves
// stranded documents in one statement, promoting rows stuck in the
// promotable status that already have chunks and failing the rest with
// the given payload, so the claim and the resolution are atomic.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.Document, error)
	FindByContentHash(ctx context.Context, tenantID, contentHash string) (*domain.Document, error)
	UpdateStatusCAS(ctx context.Context, id string, next, expectedOld domain.DocumentStatus) (bool, error)
	SetStatus(ctx context.Context, id string, status domain.DocumentStatus, payload *domain.ErrorPayload) error
	SaveClassification(ctx context.Context, id, docDomain string) error
	SaveEnrichment(ctx context.Context, id, summary string, keywords, hashtags []string) error
	ClaimStaleForRecovery(ctx context.Context, statuses []domain.DocumentStatus, promotable domain.DocumentStatus, limit int, failure *domain.ErrorPayload) ([]domain.StaleOutcome, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.Document, error)
	ResetTenantToIngested(ctx context.Context, tenantID string) (int, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// ChunkRepository persists chunk rows. ReplaceForDocument swaps the full
// chunk set atomically so indices stay contiguous per document version.
type ChunkRepository interface {
	ReplaceForDocument(ctx context.Context, documentID string, chunks []*domain.Chunk) error
	ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error)
	CountByDocument(ctx context.Context, documentID string) (int, error)
	UpdateEmbeddingStatus(ctx context.Context, chunkIDs []string, status domain.EmbeddingStatus) error
	DeleteByTenant(ctx context.Context, tenantID string) (int, error)
}

// TenantRepository reads tenants and locks in embedding config changes.
type TenantRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Tenant, error)
	ListActive(ctx context.Context) ([]*domain.Tenant, error)
	SaveEmbeddingConfig(ctx context.Context, id string, cfg domain.EmbeddingConfig) error
}

// ObjectStorage stores source document bytes.
type ObjectStorage interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// VectorIndex is the tenant-scoped vector store surface. Collection
// resolution (dedicated vs shared) happens behind this port.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, tenant *domain.Tenant, dims int) error
	UpsertChunks(ctx context.Context, tenant *domain.Tenant, records []domain.VectorRecord) error
	Search(ctx context.Context, tenant *domain.Tenant, vector []float32, limit int, excludeChunkID string) ([]domain.Neighbor, error)
	DeleteByDocument(ctx context.Context, tenant *domain.Tenant, documentID string) error
	DropCollection(ctx context.Context, tenant *domain.Tenant) error
	CollectionDimensions(ctx context.Context, tenant *domain.Tenant) (int, error)
}

// GraphStore is the two-primitive graph port; every higher-level graph
// operation is built from these.
type GraphStore interface {
	ExecuteRead(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error
}

// GraphEnricher materializes and maintains the tenant's graph projection.
type GraphEnricher interface {
	SyncChunkNodes(ctx context.Context, doc *domain.Document, chunks []*domain.Chunk) error
	WriteEntities(ctx context.Context, tenantID, chunkID string, entities []domain.Entity, relations []domain.Relation) error
	WriteSimilarityEdges(ctx context.Context, tenant *domain.Tenant, chunkID string, vector []float32) (int, error)
	MergeNodes(ctx context.Context, tenantID, targetName string, sourceNames []string) error
	PruneOrphans(ctx context.Context, tenantID string, validDocIDs, validChunkIDs []string) error
	DeleteTenantData(ctx context.Context, tenantID string) error
}

// TaskQueue dispatches and revokes asynchronous pipeline work. Retry and
// backoff policy live here, not in the orchestrator.
type TaskQueue interface {
	DispatchIngest(ctx context.Context, tenantID, documentID string) (string, error)
	Cancel(ctx context.Context, taskID string, terminate bool) error
	SubscribeIngest(ctx context.Context, handler func(ctx context.Context, tenantID, documentID string) error) error
}

// Notifier publishes live progress. Failures are swallowed by callers.
type Notifier interface {
	PublishProgress(ctx context.Context, event domain.StatusEvent) error
}

// ContentExtractor turns raw bytes plus a declared mime type into a
// normalized extraction result.
type ContentExtractor interface {
	Name() string
	Extract(ctx context.Context, data []byte, mimeType string) (domain.ExtractionResult, error)
}

// EntityExtractor pulls entities and relations from one chunk of text.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]domain.Entity, []domain.Relation, error)
}

// EmbeddingProvider vectorizes a batch of texts. MaxBatchTokens is the
// per-request token ceiling the pipeline splits against.
type EmbeddingProvider interface {
	Name() string
	MaxBatchTokens() int
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// DomainClassifier assigns a document to a chunking-profile domain.
type DomainClassifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// DocumentEnricher produces summary/keywords/hashtags. Best effort; the
// pipeline never fails on enrichment errors.
type DocumentEnricher interface {
	Enrich(ctx context.Context, text string) (summary string, keywords, hashtags []string, err error)
}

// UsageMeter records embedding token usage for cost accounting.
type UsageMeter interface {
	Record(ctx context.Context, usage domain.UsageRecord)
}
