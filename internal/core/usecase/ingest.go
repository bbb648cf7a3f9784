package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
	"github.com/kirillkom/knowledge-pipeline/internal/core/ports"
)

// Chunker splits extracted text into ordered chunk data.
type Chunker interface {
	Chunk(text, title string, hints []domain.StructuralSpan) []domain.ChunkData
}

// ChunkerFactory returns a chunker sized for a classification domain.
type ChunkerFactory func(docDomain string) Chunker

// QualityGrader scores text readability.
type QualityGrader interface {
	Grade(text string) domain.QualityReport
}

// Embedder runs the embedding pipeline for a document's chunk set and
// returns the upserted records.
type Embedder interface {
	EmbedChunks(ctx context.Context, tenant *domain.Tenant, doc *domain.Document, chunks []*domain.Chunk, progress domain.ProgressFunc) ([]domain.VectorRecord, error)
}

// StageObserver records per-stage pipeline metrics.
type StageObserver interface {
	StartIngest()
	FinishIngest(service string, err error)
	ObserveStage(service, stage string, duration time.Duration, err error)
}

const serviceName = "worker"

// IngestDeps carries the orchestrator's collaborators.
type IngestDeps struct {
	Docs       ports.DocumentRepository
	Chunks     ports.ChunkRepository
	Tenants    ports.TenantRepository
	Storage    ports.ObjectStorage
	Extractor  ports.ContentExtractor
	Classifier ports.DomainClassifier
	ChunkerFor ChunkerFactory
	Grader     QualityGrader
	Embedder   Embedder
	Graph      ports.GraphEnricher
	Entities   ports.EntityExtractor
	Enricher   ports.DocumentEnricher
	Notifier   ports.Notifier
	Metrics    StageObserver
	EntityPool *ants.Pool
	Logger     *slog.Logger
}

// IngestDocumentUseCase drives one document through the pipeline in
// strict stage order. Every status change is a CAS checkpoint committed
// before the next stage's work starts; losing a CAS means another
// worker owns the document and this run stops quietly. The orchestrator
// never retries internally, adapters carry their own retry policy.
type IngestDocumentUseCase struct {
	deps IngestDeps
	log  *slog.Logger
}

type nopStageObserver struct{}

func (nopStageObserver) StartIngest()                                      {}
func (nopStageObserver) FinishIngest(string, error)                        {}
func (nopStageObserver) ObserveStage(string, string, time.Duration, error) {}

func NewIngestDocumentUseCase(deps IngestDeps) *IngestDocumentUseCase {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopStageObserver{}
	}
	return &IngestDocumentUseCase{deps: deps, log: log}
}

func (uc *IngestDocumentUseCase) IngestByID(ctx context.Context, tenantID, documentID string) error {
	uc.deps.Metrics.StartIngest()
	err := uc.ingest(ctx, tenantID, documentID)
	uc.deps.Metrics.FinishIngest(serviceName, err)
	return err
}

func (uc *IngestDocumentUseCase) ingest(ctx context.Context, tenantID, documentID string) error {
	tenant, err := uc.deps.Tenants.GetByID(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("resolve tenant: %w", err)
	}
	doc, err := uc.deps.Docs.GetByID(ctx, tenantID, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	won, err := uc.advance(ctx, doc, domain.StatusExtracting)
	if err != nil {
		return uc.fail(ctx, doc, err)
	}
	if !won {
		uc.log.Info("another worker owns document, aborting",
			"document_id", doc.ID, "status", doc.Status)
		return nil
	}

	// EXTRACTING
	result, err := runStage(ctx, uc, doc, "extract", func(ctx context.Context) (domain.ExtractionResult, error) {
		return uc.extract(ctx, doc)
	})
	if err != nil {
		return uc.fail(ctx, doc, err)
	}

	if _, err := uc.advance(ctx, doc, domain.StatusClassifying); err != nil {
		return uc.fail(ctx, doc, err)
	}

	// CLASSIFYING
	docDomain, err := runStage(ctx, uc, doc, "classify", func(ctx context.Context) (string, error) {
		return uc.classify(ctx, doc, result.Content)
	})
	if err != nil {
		return uc.fail(ctx, doc, err)
	}
	doc.Domain = docDomain

	if _, err := uc.advance(ctx, doc, domain.StatusChunking); err != nil {
		return uc.fail(ctx, doc, err)
	}

	// CHUNKING
	chunkOut, err := runStage(ctx, uc, doc, "chunk", func(ctx context.Context) (chunkOutcome, error) {
		return uc.chunkAndPersist(ctx, doc, result)
	})
	if err != nil {
		return uc.fail(ctx, doc, err)
	}
	if chunkOut.reviewReason != "" {
		return uc.flagForReview(ctx, doc, chunkOut.reviewReason)
	}
	chunks := chunkOut.chunks

	if _, err := uc.advance(ctx, doc, domain.StatusEmbedding); err != nil {
		return uc.fail(ctx, doc, err)
	}

	// EMBEDDING covers vectors plus the graph chunk projection, so a
	// document that reaches GRAPH_SYNC is already queryable.
	_, err = runStage(ctx, uc, doc, "embed", func(ctx context.Context) (struct{}, error) {
		records, embedErr := uc.embed(ctx, tenant, doc, chunks)
		if embedErr != nil {
			return struct{}{}, embedErr
		}
		return struct{}{}, uc.projectToGraph(ctx, tenant, doc, chunks, records)
	})
	if err != nil {
		return uc.fail(ctx, doc, err)
	}

	if _, err := uc.advance(ctx, doc, domain.StatusGraphSync); err != nil {
		return uc.fail(ctx, doc, err)
	}

	// GRAPH_SYNC
	_, err = runStage(ctx, uc, doc, "graph_sync", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, uc.extractEntities(ctx, doc, chunks)
	})
	if err != nil {
		return uc.fail(ctx, doc, err)
	}

	uc.enrichBestEffort(ctx, doc, result.Content)

	if _, err := uc.advance(ctx, doc, domain.StatusReady); err != nil {
		return uc.fail(ctx, doc, err)
	}

	uc.log.Info("document ready",
		"tenant_id", tenantID,
		"document_id", doc.ID,
		"domain", doc.Domain,
		"chunks", len(chunks),
	)
	return nil
}

// advance commits a CAS checkpoint. The returned bool reports CAS
// ownership; callers treat a loss on the first transition as a quiet
// abort and a loss mid-pipeline as a consistency failure.
func (uc *IngestDocumentUseCase) advance(ctx context.Context, doc *domain.Document, next domain.DocumentStatus) (bool, error) {
	if err := domain.ValidateTransition(doc.Status, next); err != nil {
		return false, err
	}
	if doc.Status == next {
		return true, nil
	}
	won, err := uc.deps.Docs.UpdateStatusCAS(ctx, doc.ID, next, doc.Status)
	if err != nil {
		return false, fmt.Errorf("cas to %s: %w", next, err)
	}
	if !won {
		if next == domain.StatusExtracting {
			return false, nil
		}
		return false, domain.WrapError(domain.ErrConsistency, "status checkpoint",
			fmt.Errorf("lost cas %s -> %s on document %s", doc.Status, next, doc.ID))
	}

	old := doc.Status
	doc.Status = next
	uc.publishProgress(ctx, doc, old, next, domain.PipelineProgress(next))
	return true, nil
}

func (uc *IngestDocumentUseCase) publishProgress(ctx context.Context, doc *domain.Document, old, next domain.DocumentStatus, progress int) {
	err := uc.deps.Notifier.PublishProgress(ctx, domain.StatusEvent{
		DocumentID: doc.ID,
		TenantID:   doc.TenantID,
		OldStatus:  old,
		NewStatus:  next,
		Progress:   progress,
	})
	if err != nil {
		uc.log.Warn("progress event dropped", "document_id", doc.ID, "error", err)
	}
}

func (uc *IngestDocumentUseCase) extract(ctx context.Context, doc *domain.Document) (domain.ExtractionResult, error) {
	data, err := uc.deps.Storage.Get(ctx, doc.StoragePath)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("load document bytes: %w", err)
	}
	result, err := uc.deps.Extractor.Extract(ctx, data, doc.MimeType)
	if err != nil {
		return domain.ExtractionResult{}, err
	}
	if result.Content == "" {
		return domain.ExtractionResult{}, domain.WrapError(domain.ErrInvalidInput, "extract content",
			fmt.Errorf("empty extracted text for %s", doc.Filename))
	}
	return result, nil
}

// classificationExcerpt caps the text sent to the classifier.
const classificationExcerpt = 4000

func (uc *IngestDocumentUseCase) classify(ctx context.Context, doc *domain.Document, content string) (string, error) {
	excerpt := content
	if len(excerpt) > classificationExcerpt {
		excerpt = excerpt[:classificationExcerpt]
	}
	docDomain, err := uc.deps.Classifier.Classify(ctx, excerpt)
	if err != nil {
		return "", fmt.Errorf("classify domain: %w", err)
	}
	if err := uc.deps.Docs.SaveClassification(ctx, doc.ID, docDomain); err != nil {
		return "", fmt.Errorf("save classification: %w", err)
	}
	return docDomain, nil
}

// structuralHints turns extracted tables into named spans so tabular
// documents chunk along sheet boundaries instead of text heuristics.
func structuralHints(result domain.ExtractionResult) []domain.StructuralSpan {
	if len(result.Tables) == 0 {
		return nil
	}
	spans := make([]domain.StructuralSpan, 0, len(result.Tables))
	for _, table := range result.Tables {
		var sb strings.Builder
		for _, row := range table.Rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteByte('\n')
		}
		spans = append(spans, domain.StructuralSpan{Name: table.Name, Content: sb.String()})
	}
	return spans
}

type chunkOutcome struct {
	chunks       []*domain.Chunk
	reviewReason string
}

// chunkAndPersist splits, grades, and atomically replaces the chunk
// set. A non-empty review reason means the whole document failed the
// readability gate and should be parked for human review; the graded
// chunks are persisted anyway so the reviewer has material to inspect,
// they just never reach the embedding stage.
func (uc *IngestDocumentUseCase) chunkAndPersist(ctx context.Context, doc *domain.Document, result domain.ExtractionResult) (chunkOutcome, error) {
	outcome := chunkOutcome{}
	if overall := uc.deps.Grader.Grade(result.Content); !overall.IsReadable {
		outcome.reviewReason = overall.Reason
	}

	chunker := uc.deps.ChunkerFor(doc.Domain)
	data := chunker.Chunk(result.Content, doc.Filename, structuralHints(result))
	if len(data) == 0 {
		return chunkOutcome{}, domain.WrapError(domain.ErrInvalidInput, "chunk document",
			fmt.Errorf("chunking produced zero chunks for %s", doc.ID))
	}

	now := time.Now().UTC()
	chunks := make([]*domain.Chunk, 0, len(data))
	for _, cd := range data {
		report := uc.deps.Grader.Grade(cd.Content)
		meta := make(map[string]string, len(cd.Metadata)+3)
		for k, v := range cd.Metadata {
			meta[k] = v
		}
		meta["extractor"] = result.ExtractorUsed
		meta["quality_score"] = strconv.FormatFloat(report.Score, 'f', 3, 64)
		meta["quality_readable"] = strconv.FormatBool(report.IsReadable)

		chunks = append(chunks, &domain.Chunk{
			ID:              uuid.NewString(),
			DocumentID:      doc.ID,
			TenantID:        doc.TenantID,
			Index:           cd.Index,
			Content:         cd.Content,
			TokenCount:      cd.TokenCount,
			EmbeddingStatus: domain.EmbeddingPending,
			Metadata:        meta,
			CreatedAt:       now,
		})
	}

	if err := uc.deps.Chunks.ReplaceForDocument(ctx, doc.ID, chunks); err != nil {
		return chunkOutcome{}, fmt.Errorf("persist chunks: %w", err)
	}
	outcome.chunks = chunks
	return outcome, nil
}

func (uc *IngestDocumentUseCase) embed(ctx context.Context, tenant *domain.Tenant, doc *domain.Document, chunks []*domain.Chunk) ([]domain.VectorRecord, error) {
	progress := func(completed, total int) {
		if total == 0 {
			return
		}
		pct := domain.PipelineProgress(domain.StatusEmbedding)
		span := domain.PipelineProgress(domain.StatusGraphSync) - pct
		uc.publishProgress(ctx, doc, domain.StatusEmbedding, domain.StatusEmbedding,
			pct+span*completed/total)
	}

	records, err := uc.deps.Embedder.EmbedChunks(ctx, tenant, doc, chunks, progress)
	if err != nil {
		uc.markChunkEmbedding(ctx, chunks, domain.EmbeddingFailed)
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	uc.markChunkEmbedding(ctx, chunks, domain.EmbeddingCompleted)
	return records, nil
}

func (uc *IngestDocumentUseCase) markChunkEmbedding(ctx context.Context, chunks []*domain.Chunk, status domain.EmbeddingStatus) {
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ID)
		c.EmbeddingStatus = status
	}
	if err := uc.deps.Chunks.UpdateEmbeddingStatus(ctx, ids, status); err != nil {
		uc.log.Warn("chunk embedding status update failed", "status", status, "error", err)
	}
}

// projectToGraph mirrors chunks into the graph and writes similarity
// edges from the fresh dense vectors. Both are fatal on failure, unlike
// entity extraction.
func (uc *IngestDocumentUseCase) projectToGraph(ctx context.Context, tenant *domain.Tenant, doc *domain.Document, chunks []*domain.Chunk, records []domain.VectorRecord) error {
	if err := uc.deps.Graph.SyncChunkNodes(ctx, doc, chunks); err != nil {
		return fmt.Errorf("sync chunk nodes: %w", err)
	}

	dense := make(map[string][]float32, len(records))
	for _, rec := range records {
		dense[rec.ChunkID] = rec.Dense
	}
	for _, chunk := range chunks {
		vec, ok := dense[chunk.ID]
		if !ok {
			continue
		}
		if _, err := uc.deps.Graph.WriteSimilarityEdges(ctx, tenant, chunk.ID, vec); err != nil {
			return fmt.Errorf("similarity edges for chunk %d: %w", chunk.Index, err)
		}
	}
	return nil
}

// extractEntities tolerates per-chunk extractor failures: a partially
// populated graph beats a failed document. The tolerance ends when
// every chunk fails, which means the extractor is down rather than
// struggling with individual content, so the stage fails and the
// document is not promoted with an empty graph.
func (uc *IngestDocumentUseCase) extractEntities(ctx context.Context, doc *domain.Document, chunks []*domain.Chunk) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0
	failed := 0
	total := len(chunks)

	base := domain.PipelineProgress(domain.StatusGraphSync)
	span := domain.PipelineProgress(domain.StatusReady) - base

	for _, chunk := range chunks {
		chunk := chunk
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			var chunkErr error
			entities, relations, err := uc.deps.Entities.Extract(ctx, chunk.Content)
			if err != nil {
				chunkErr = err
				uc.log.Warn("entity extraction skipped for chunk",
					"document_id", doc.ID, "chunk_index", chunk.Index, "error", err)
			} else if len(entities) > 0 || len(relations) > 0 {
				if err := uc.deps.Graph.WriteEntities(ctx, doc.TenantID, chunk.ID, entities, relations); err != nil {
					chunkErr = err
					uc.log.Warn("entity write skipped for chunk",
						"document_id", doc.ID, "chunk_index", chunk.Index, "error", err)
				}
			}

			mu.Lock()
			completed++
			if chunkErr != nil {
				failed++
			}
			done := completed
			mu.Unlock()
			uc.publishProgress(ctx, doc, domain.StatusGraphSync, domain.StatusGraphSync,
				base+span*done/total)
		}

		if uc.deps.EntityPool != nil {
			if err := uc.deps.EntityPool.Submit(task); err != nil {
				wg.Done()
				mu.Lock()
				failed++
				mu.Unlock()
				uc.log.Warn("entity pool rejected task", "document_id", doc.ID, "error", err)
			}
		} else {
			task()
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if total > 0 && failed >= total {
		return domain.WrapError(domain.ErrTransientProvider, "extract entities",
			fmt.Errorf("entity extraction failed for all %d chunks of %s", total, doc.ID))
	}
	return nil
}

// enrichBestEffort asks the LLM for summary/keywords/hashtags. Failure
// never blocks readiness.
func (uc *IngestDocumentUseCase) enrichBestEffort(ctx context.Context, doc *domain.Document, content string) {
	excerpt := content
	if len(excerpt) > classificationExcerpt {
		excerpt = excerpt[:classificationExcerpt]
	}
	summary, keywords, hashtags, err := uc.deps.Enricher.Enrich(ctx, excerpt)
	if err != nil {
		uc.log.Warn("enrichment skipped", "document_id", doc.ID, "error", err)
		return
	}
	if err := uc.deps.Docs.SaveEnrichment(ctx, doc.ID, summary, keywords, hashtags); err != nil {
		uc.log.Warn("enrichment not persisted", "document_id", doc.ID, "error", err)
		return
	}
	doc.Summary = summary
	doc.Keywords = keywords
	doc.Hashtags = hashtags
}

func (uc *IngestDocumentUseCase) flagForReview(ctx context.Context, doc *domain.Document, reason string) error {
	old := doc.Status
	payload := &domain.ErrorPayload{Kind: "unreadable_content", Message: reason}
	if err := uc.deps.Docs.SetStatus(ctx, doc.ID, domain.StatusNeedsReview, payload); err != nil {
		return fmt.Errorf("flag for review: %w", err)
	}
	doc.Status = domain.StatusNeedsReview
	doc.Error = payload
	uc.publishProgress(ctx, doc, old, domain.StatusNeedsReview, domain.PipelineProgress(domain.StatusNeedsReview))
	uc.log.Info("document flagged for review", "document_id", doc.ID, "reason", reason)
	return nil
}

// fail records the structured failure payload and re-raises the
// original error so queue-level handling can see it.
func (uc *IngestDocumentUseCase) fail(ctx context.Context, doc *domain.Document, cause error) error {
	old := doc.Status
	payload := domain.PayloadFromError(cause)
	if err := uc.deps.Docs.SetStatus(ctx, doc.ID, domain.StatusFailed, payload); err != nil {
		uc.log.Error("failed status not persisted", "document_id", doc.ID, "error", err)
		return fmt.Errorf("%w; persist failed status: %v", cause, err)
	}
	doc.Status = domain.StatusFailed
	doc.Error = payload
	uc.publishProgress(ctx, doc, old, domain.StatusFailed, domain.PipelineProgress(domain.StatusFailed))
	return cause
}

// runStage times one stage's work and records the outcome.
func runStage[T any](ctx context.Context, uc *IngestDocumentUseCase, doc *domain.Document, stage string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, err := fn(ctx)
	uc.deps.Metrics.ObserveStage(serviceName, stage, time.Since(start), err)
	if err != nil {
		uc.log.Error("stage failed", "stage", stage, "document_id", doc.ID, "error", err)
	}
	return out, err
}
