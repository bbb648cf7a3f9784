package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

func testTenant() *domain.Tenant {
	return &domain.Tenant{ID: "tenant-1", Name: "acme", Active: true}
}

func testDocument() *domain.Document {
	return &domain.Document{
		ID:          "doc-1",
		TenantID:    "tenant-1",
		Filename:    "report.md",
		MimeType:    "text/markdown",
		StoragePath: "tenant-1/doc-1.md",
		Status:      domain.StatusIngested,
	}
}

type ingestHarness struct {
	uc       *IngestDocumentUseCase
	docs     *docRepoFake
	chunks   *chunkRepoFake
	storage  *storageFake
	graph    *graphFake
	notifier *notifierFake
	metrics  *metricsFake
}

func newIngestHarness(t *testing.T, mutate func(*IngestDeps)) *ingestHarness {
	t.Helper()

	docs := newDocRepoFake(testDocument())
	chunks := newChunkRepoFake()
	storage := newStorageFake()
	storage.objects["tenant-1/doc-1.md"] = []byte("# Heading\n\nBody text.")
	graph := &graphFake{}
	notifier := &notifierFake{}
	metrics := newMetricsFake()

	deps := IngestDeps{
		Docs:       docs,
		Chunks:     chunks,
		Tenants:    newTenantRepoFake(testTenant()),
		Storage:    storage,
		Extractor: &contentExtractorFake{result: domain.ExtractionResult{
			Content:       "# Heading\n\nBody text with enough words to pass readability checks.",
			ExtractorUsed: "plaintext",
			Confidence:    0.98,
		}},
		Classifier: &classifierFake{domain: "technical"},
		ChunkerFor: func(string) Chunker {
			return &chunkerFake{data: []domain.ChunkData{
				{Index: 0, Content: "first chunk body", TokenCount: 4},
				{Index: 1, Content: "second chunk body", TokenCount: 4},
			}}
		},
		Grader:   &graderFake{},
		Embedder: &embedderFake{},
		Graph:    graph,
		Entities: &entityFake{entities: []domain.Entity{{Name: "Acme", Type: "organization"}}},
		Enricher: &enricherFake{summary: "a short summary"},
		Notifier: notifier,
		Metrics:  metrics,
	}
	if mutate != nil {
		mutate(&deps)
	}

	return &ingestHarness{
		uc:       NewIngestDocumentUseCase(deps),
		docs:     docs,
		chunks:   chunks,
		storage:  storage,
		graph:    graph,
		notifier: notifier,
		metrics:  metrics,
	}
}

func TestIngestHappyPathWalksEveryStage(t *testing.T) {
	h := newIngestHarness(t, nil)

	if err := h.uc.IngestByID(context.Background(), "tenant-1", "doc-1"); err != nil {
		t.Fatalf("IngestByID error = %v", err)
	}

	if got := h.docs.statusOf("doc-1"); got != domain.StatusReady {
		t.Fatalf("final status = %s, want %s", got, domain.StatusReady)
	}

	wantCAS := []domain.DocumentStatus{
		domain.StatusExtracting,
		domain.StatusClassifying,
		domain.StatusChunking,
		domain.StatusEmbedding,
		domain.StatusGraphSync,
		domain.StatusReady,
	}
	if len(h.docs.casCalls) != len(wantCAS) {
		t.Fatalf("cas calls = %d, want %d", len(h.docs.casCalls), len(wantCAS))
	}
	for i, want := range wantCAS {
		if h.docs.casCalls[i].next != want {
			t.Errorf("cas call %d = %s, want %s", i, h.docs.casCalls[i].next, want)
		}
	}

	if h.docs.savedDomain != "technical" {
		t.Errorf("saved domain = %q, want technical", h.docs.savedDomain)
	}
	persisted := h.chunks.byDoc["doc-1"]
	if len(persisted) != 2 {
		t.Fatalf("persisted chunks = %d, want 2", len(persisted))
	}
	if persisted[0].Metadata["extractor"] != "plaintext" {
		t.Errorf("chunk metadata missing extractor provenance: %v", persisted[0].Metadata)
	}
	if persisted[0].Metadata["quality_score"] == "" {
		t.Errorf("chunk metadata missing quality score")
	}
	if len(h.graph.syncedDocs) != 1 {
		t.Errorf("graph sync calls = %d, want 1", len(h.graph.syncedDocs))
	}
	if len(h.graph.simChunks) != 2 {
		t.Errorf("similarity edge calls = %d, want 2", len(h.graph.simChunks))
	}
	if len(h.graph.entityChunks) != 2 {
		t.Errorf("entity write calls = %d, want 2", len(h.graph.entityChunks))
	}
	if h.docs.savedSummary != "a short summary" {
		t.Errorf("enrichment not persisted, got %q", h.docs.savedSummary)
	}

	gotEvents := h.notifier.statuses()
	if len(gotEvents) != len(wantCAS) {
		t.Errorf("checkpoint events = %d, want %d", len(gotEvents), len(wantCAS))
	}
}

func TestIngestRecordsEmbeddingStatus(t *testing.T) {
	h := newIngestHarness(t, nil)

	if err := h.uc.IngestByID(context.Background(), "tenant-1", "doc-1"); err != nil {
		t.Fatalf("IngestByID error = %v", err)
	}
	if len(h.chunks.statusCalls) != 1 || h.chunks.statusCalls[0] != domain.EmbeddingCompleted {
		t.Fatalf("embedding status calls = %v, want [completed]", h.chunks.statusCalls)
	}
}

func TestIngestExtractionFailureSetsStructuredPayload(t *testing.T) {
	exhausted := &domain.ExhaustedError{Failures: []domain.ExtractorFailure{
		{Extractor: "pdf_text", Err: errors.New("no text layer")},
	}}
	h := newIngestHarness(t, func(deps *IngestDeps) {
		deps.Extractor = &contentExtractorFake{err: exhausted}
	})

	err := h.uc.IngestByID(context.Background(), "tenant-1", "doc-1")
	if err == nil {
		t.Fatalf("expected error to be re-raised")
	}
	if got := h.docs.statusOf("doc-1"); got != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}
	if h.docs.lastPayload == nil {
		t.Fatalf("expected structured error payload")
	}
	if h.docs.lastPayload.Kind != "extraction_exhausted" {
		t.Errorf("payload kind = %q, want extraction_exhausted", h.docs.lastPayload.Kind)
	}
}

func TestIngestEmbeddingFailureMarksChunksFailed(t *testing.T) {
	h := newIngestHarness(t, func(deps *IngestDeps) {
		deps.Embedder = &embedderFake{err: domain.WrapError(domain.ErrQuotaExceeded, "embed", errors.New("429"))}
	})

	err := h.uc.IngestByID(context.Background(), "tenant-1", "doc-1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := h.docs.statusOf("doc-1"); got != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}
	if h.docs.lastPayload.Kind != "quota_exceeded" {
		t.Errorf("payload kind = %q, want quota_exceeded", h.docs.lastPayload.Kind)
	}
	if len(h.chunks.statusCalls) != 1 || h.chunks.statusCalls[0] != domain.EmbeddingFailed {
		t.Errorf("embedding status calls = %v, want [failed]", h.chunks.statusCalls)
	}
}

func TestIngestFirstCASLossAbortsQuietly(t *testing.T) {
	h := newIngestHarness(t, nil)
	h.docs.loseCAS[domain.StatusExtracting] = true

	if err := h.uc.IngestByID(context.Background(), "tenant-1", "doc-1"); err != nil {
		t.Fatalf("cas loss should not be an error, got %v", err)
	}
	if got := h.docs.statusOf("doc-1"); got != domain.StatusIngested {
		t.Fatalf("status = %s, want untouched ingested", got)
	}
	if len(h.chunks.byDoc["doc-1"]) != 0 {
		t.Fatalf("no stage work should run after a lost first cas")
	}
}

func TestIngestUnreadableContentParksForReview(t *testing.T) {
	h := newIngestHarness(t, func(deps *IngestDeps) {
		deps.Grader = &graderFake{unreadable: true}
	})

	if err := h.uc.IngestByID(context.Background(), "tenant-1", "doc-1"); err != nil {
		t.Fatalf("review path should not error, got %v", err)
	}
	if got := h.docs.statusOf("doc-1"); got != domain.StatusNeedsReview {
		t.Fatalf("status = %s, want needs_review", got)
	}
	if h.docs.lastPayload == nil || h.docs.lastPayload.Kind != "unreadable_content" {
		t.Fatalf("payload = %+v, want unreadable_content", h.docs.lastPayload)
	}
	persisted := h.chunks.byDoc["doc-1"]
	if len(persisted) != 2 {
		t.Fatalf("persisted chunks = %d, want the graded chunks kept for review", len(persisted))
	}
	for _, chunk := range persisted {
		if chunk.Metadata["quality_readable"] != "false" {
			t.Errorf("chunk %d quality_readable = %q, want false", chunk.Index, chunk.Metadata["quality_readable"])
		}
	}
	if len(h.graph.syncedDocs) != 0 {
		t.Errorf("parked document must not reach the graph projection")
	}
}

func TestIngestFailsWhenEntityExtractionFailsForEveryChunk(t *testing.T) {
	h := newIngestHarness(t, func(deps *IngestDeps) {
		deps.Entities = &entityFake{err: errors.New("extractor endpoint down")}
	})

	err := h.uc.IngestByID(context.Background(), "tenant-1", "doc-1")
	if err == nil {
		t.Fatal("expected an error when no chunk yields entities")
	}
	if !domain.IsKind(err, domain.ErrTransientProvider) {
		t.Fatalf("error kind = %v, want transient provider", err)
	}
	if got := h.docs.statusOf("doc-1"); got != domain.StatusFailed {
		t.Fatalf("status = %s, want failed instead of an empty-graph ready", got)
	}
}

func TestIngestFailsWhenEveryEntityWriteFails(t *testing.T) {
	h := newIngestHarness(t, func(deps *IngestDeps) {
		deps.Graph.(*graphFake).entityErr = errors.New("neo4j unavailable")
	})

	err := h.uc.IngestByID(context.Background(), "tenant-1", "doc-1")
	if err == nil {
		t.Fatal("expected an error when no entity write lands")
	}
	if got := h.docs.statusOf("doc-1"); got != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}
}

func TestIngestToleratesPartialEntityFailures(t *testing.T) {
	h := newIngestHarness(t, func(deps *IngestDeps) {
		deps.Entities = &entityFake{
			entities: []domain.Entity{{Name: "Acme", Type: "organization"}},
			failOn:   "second chunk body",
		}
	})

	if err := h.uc.IngestByID(context.Background(), "tenant-1", "doc-1"); err != nil {
		t.Fatalf("one bad chunk must not fail the document, got %v", err)
	}
	if got := h.docs.statusOf("doc-1"); got != domain.StatusReady {
		t.Fatalf("status = %s, want ready", got)
	}
	if len(h.graph.entityChunks) != 1 {
		t.Fatalf("entity writes = %d, want 1 from the surviving chunk", len(h.graph.entityChunks))
	}
}

func TestIngestEnrichmentFailureDoesNotBlockReady(t *testing.T) {
	h := newIngestHarness(t, func(deps *IngestDeps) {
		deps.Enricher = &enricherFake{err: errors.New("model unavailable")}
	})

	if err := h.uc.IngestByID(context.Background(), "tenant-1", "doc-1"); err != nil {
		t.Fatalf("IngestByID error = %v", err)
	}
	if got := h.docs.statusOf("doc-1"); got != domain.StatusReady {
		t.Fatalf("status = %s, want ready despite enrichment failure", got)
	}
}

func TestIngestPassesTableSpansToChunker(t *testing.T) {
	chunker := &chunkerFake{data: []domain.ChunkData{
		{Index: 0, Content: "r1\tr2", TokenCount: 2},
	}}
	h := newIngestHarness(t, func(deps *IngestDeps) {
		deps.Extractor = &contentExtractorFake{result: domain.ExtractionResult{
			Content:       "## Sheet1\n\na\tb",
			ExtractorUsed: "spreadsheet",
			Tables: []domain.Table{
				{Name: "Sheet1", Rows: [][]string{{"a", "b"}, {"c", "d"}}},
			},
		}}
		deps.ChunkerFor = func(string) Chunker { return chunker }
	})

	if err := h.uc.IngestByID(context.Background(), "tenant-1", "doc-1"); err != nil {
		t.Fatalf("IngestByID error = %v", err)
	}
	if len(chunker.gotHints) != 1 {
		t.Fatalf("hints = %d, want 1 span per table", len(chunker.gotHints))
	}
	if chunker.gotHints[0].Name != "Sheet1" {
		t.Fatalf("span name = %q, want Sheet1", chunker.gotHints[0].Name)
	}
	if chunker.gotHints[0].Content != "a\tb\nc\td\n" {
		t.Fatalf("span content = %q", chunker.gotHints[0].Content)
	}
}
