package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

type casCall struct {
	next     domain.DocumentStatus
	expected domain.DocumentStatus
}

type docRepoFake struct {
	mu       sync.Mutex
	docs     map[string]*domain.Document
	casCalls []casCall
	loseCAS  map[domain.DocumentStatus]bool

	setStatusCalls []domain.DocumentStatus
	lastPayload    *domain.ErrorPayload
	savedDomain    string
	savedSummary   string
	resetCount     int
	deleted        []string
	chunkCounts    map[string]int
}

func newDocRepoFake(docs ...*domain.Document) *docRepoFake {
	f := &docRepoFake{
		docs:        make(map[string]*domain.Document),
		loseCAS:     make(map[domain.DocumentStatus]bool),
		chunkCounts: make(map[string]int),
	}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *docRepoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	return nil
}

func (f *docRepoFake) GetByID(_ context.Context, tenantID, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.TenantID != tenantID {
		return nil, domain.ErrDocumentNotFound
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *docRepoFake) FindByContentHash(_ context.Context, tenantID, hash string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.TenantID == tenantID && doc.ContentHash == hash {
			copyDoc := *doc
			return &copyDoc, nil
		}
	}
	return nil, domain.ErrDocumentNotFound
}

func (f *docRepoFake) UpdateStatusCAS(_ context.Context, id string, next, expectedOld domain.DocumentStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.casCalls = append(f.casCalls, casCall{next: next, expected: expectedOld})
	if f.loseCAS[next] {
		return false, nil
	}
	doc, ok := f.docs[id]
	if !ok || doc.Status != expectedOld {
		return false, nil
	}
	doc.Status = next
	return true, nil
}

func (f *docRepoFake) SetStatus(_ context.Context, id string, status domain.DocumentStatus, payload *domain.ErrorPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setStatusCalls = append(f.setStatusCalls, status)
	f.lastPayload = payload
	if doc, ok := f.docs[id]; ok {
		doc.Status = status
		doc.Error = payload
	}
	return nil
}

func (f *docRepoFake) SaveClassification(_ context.Context, id, docDomain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedDomain = docDomain
	if doc, ok := f.docs[id]; ok {
		doc.Domain = docDomain
	}
	return nil
}

func (f *docRepoFake) SaveEnrichment(_ context.Context, id, summary string, keywords, hashtags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedSummary = summary
	return nil
}

func (f *docRepoFake) ClaimStaleForRecovery(_ context.Context, statuses []domain.DocumentStatus, promotable domain.DocumentStatus, limit int, failure *domain.ErrorPayload) ([]domain.StaleOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	allowed := make(map[domain.DocumentStatus]bool, len(statuses))
	for _, s := range statuses {
		allowed[s] = true
	}
	var outcomes []domain.StaleOutcome
	for _, doc := range f.docs {
		if !allowed[doc.Status] || len(outcomes) >= limit {
			continue
		}
		out := domain.StaleOutcome{
			DocumentID: doc.ID,
			TenantID:   doc.TenantID,
			OldStatus:  doc.Status,
		}
		if doc.Status == promotable && f.chunkCounts[doc.ID] > 0 {
			doc.Status = domain.StatusReady
			doc.Error = nil
		} else {
			doc.Status = domain.StatusFailed
			doc.Error = failure
			f.lastPayload = failure
		}
		out.NewStatus = doc.Status
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (f *docRepoFake) ListByTenant(_ context.Context, tenantID string) ([]*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Document
	for _, doc := range f.docs {
		if doc.TenantID == tenantID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *docRepoFake) ResetTenantToIngested(_ context.Context, tenantID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, doc := range f.docs {
		if doc.TenantID == tenantID {
			doc.Status = domain.StatusIngested
			count++
		}
	}
	f.resetCount = count
	return count, nil
}

func (f *docRepoFake) Delete(_ context.Context, tenantID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.TenantID != tenantID {
		return domain.ErrDocumentNotFound
	}
	delete(f.docs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *docRepoFake) statusOf(id string) domain.DocumentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok {
		return doc.Status
	}
	return ""
}

type chunkRepoFake struct {
	mu           sync.Mutex
	byDoc        map[string][]*domain.Chunk
	statusCalls  []domain.EmbeddingStatus
	tenantWipes  []string
	deletedCount int
}

func newChunkRepoFake() *chunkRepoFake {
	return &chunkRepoFake{byDoc: make(map[string][]*domain.Chunk)}
}

func (f *chunkRepoFake) ReplaceForDocument(_ context.Context, documentID string, chunks []*domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byDoc[documentID] = chunks
	return nil
}

func (f *chunkRepoFake) ListByDocument(_ context.Context, documentID string) ([]*domain.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byDoc[documentID], nil
}

func (f *chunkRepoFake) CountByDocument(_ context.Context, documentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byDoc[documentID]), nil
}

func (f *chunkRepoFake) UpdateEmbeddingStatus(_ context.Context, _ []string, status domain.EmbeddingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, status)
	return nil
}

func (f *chunkRepoFake) DeleteByTenant(_ context.Context, tenantID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenantWipes = append(f.tenantWipes, tenantID)
	count := 0
	for docID, chunks := range f.byDoc {
		keep := chunks[:0]
		for _, c := range chunks {
			if c.TenantID == tenantID {
				count++
			} else {
				keep = append(keep, c)
			}
		}
		f.byDoc[docID] = keep
	}
	f.deletedCount = count
	return count, nil
}

type tenantRepoFake struct {
	tenants  map[string]*domain.Tenant
	savedCfg *domain.EmbeddingConfig
}

func newTenantRepoFake(tenants ...*domain.Tenant) *tenantRepoFake {
	f := &tenantRepoFake{tenants: make(map[string]*domain.Tenant)}
	for _, t := range tenants {
		f.tenants[t.ID] = t
	}
	return f
}

func (f *tenantRepoFake) GetByID(_ context.Context, id string) (*domain.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	copyTenant := *t
	return &copyTenant, nil
}

func (f *tenantRepoFake) ListActive(_ context.Context) ([]*domain.Tenant, error) {
	var out []*domain.Tenant
	for _, t := range f.tenants {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *tenantRepoFake) SaveEmbeddingConfig(_ context.Context, id string, cfg domain.EmbeddingConfig) error {
	t, ok := f.tenants[id]
	if !ok {
		return domain.ErrTenantNotFound
	}
	f.savedCfg = &cfg
	t.EmbeddingProvider = cfg.Provider
	t.EmbeddingModel = cfg.Model
	t.EmbeddingDimensions = cfg.Dimensions
	return nil
}

type storageFake struct {
	objects map[string][]byte
	uploads int
	deletes []string
}

func newStorageFake() *storageFake {
	return &storageFake{objects: make(map[string][]byte)}
}

func (f *storageFake) Upload(_ context.Context, path string, data []byte, _ string) error {
	f.objects[path] = data
	f.uploads++
	return nil
}

func (f *storageFake) Get(_ context.Context, path string) ([]byte, error) {
	data, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", path)
	}
	return data, nil
}

func (f *storageFake) Delete(_ context.Context, path string) error {
	delete(f.objects, path)
	f.deletes = append(f.deletes, path)
	return nil
}

type indexFake struct {
	ensuredDims    int
	ensureLog      []string
	dropLog        []string
	deletedDocs    []string
	collectionDims int
	deleteErr      error
}

func (f *indexFake) EnsureCollection(_ context.Context, _ *domain.Tenant, dims int) error {
	f.ensuredDims = dims
	f.ensureLog = append(f.ensureLog, "ensure")
	return nil
}

func (f *indexFake) UpsertChunks(context.Context, *domain.Tenant, []domain.VectorRecord) error {
	return nil
}

func (f *indexFake) Search(context.Context, *domain.Tenant, []float32, int, string) ([]domain.Neighbor, error) {
	return nil, nil
}

func (f *indexFake) DeleteByDocument(_ context.Context, _ *domain.Tenant, documentID string) error {
	f.deletedDocs = append(f.deletedDocs, documentID)
	return f.deleteErr
}

func (f *indexFake) DropCollection(context.Context, *domain.Tenant) error {
	f.dropLog = append(f.dropLog, "drop")
	return nil
}

func (f *indexFake) CollectionDimensions(context.Context, *domain.Tenant) (int, error) {
	return f.collectionDims, nil
}

// order returns the interleaved drop/ensure call order.
func (f *indexFake) order() []string {
	return append(append([]string{}, f.dropLog...), f.ensureLog...)
}

type graphFake struct {
	mu            sync.Mutex
	syncedDocs    []string
	entityChunks  []string
	simChunks     []string
	prunedTenants []string
	wipedTenants  []string
	syncErr       error
	entityErr     error
}

func (f *graphFake) SyncChunkNodes(_ context.Context, doc *domain.Document, _ []*domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncedDocs = append(f.syncedDocs, doc.ID)
	return f.syncErr
}

func (f *graphFake) WriteEntities(_ context.Context, _, chunkID string, _ []domain.Entity, _ []domain.Relation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityChunks = append(f.entityChunks, chunkID)
	return f.entityErr
}

func (f *graphFake) WriteSimilarityEdges(_ context.Context, _ *domain.Tenant, chunkID string, _ []float32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simChunks = append(f.simChunks, chunkID)
	return 1, nil
}

func (f *graphFake) MergeNodes(context.Context, string, string, []string) error { return nil }

func (f *graphFake) PruneOrphans(_ context.Context, tenantID string, _, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunedTenants = append(f.prunedTenants, tenantID)
	return nil
}

func (f *graphFake) DeleteTenantData(_ context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wipedTenants = append(f.wipedTenants, tenantID)
	return nil
}

type queueFake struct {
	dispatched []string
	cancelled  []string
	nextTask   int
}

func (f *queueFake) DispatchIngest(_ context.Context, _, documentID string) (string, error) {
	f.dispatched = append(f.dispatched, documentID)
	f.nextTask++
	return fmt.Sprintf("task-%d", f.nextTask), nil
}

func (f *queueFake) Cancel(_ context.Context, taskID string, _ bool) error {
	f.cancelled = append(f.cancelled, taskID)
	return nil
}

func (f *queueFake) SubscribeIngest(context.Context, func(context.Context, string, string) error) error {
	return nil
}

type notifierFake struct {
	mu     sync.Mutex
	events []domain.StatusEvent
}

func (f *notifierFake) PublishProgress(_ context.Context, event domain.StatusEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *notifierFake) statuses() []domain.DocumentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DocumentStatus
	for _, e := range f.events {
		if e.OldStatus != e.NewStatus {
			out = append(out, e.NewStatus)
		}
	}
	return out
}

type contentExtractorFake struct {
	result domain.ExtractionResult
	err    error
}

func (f *contentExtractorFake) Name() string { return "fake" }

func (f *contentExtractorFake) Extract(context.Context, []byte, string) (domain.ExtractionResult, error) {
	if f.err != nil {
		return domain.ExtractionResult{}, f.err
	}
	return f.result, nil
}

type classifierFake struct {
	domain string
	err    error
}

func (f *classifierFake) Classify(context.Context, string) (string, error) {
	return f.domain, f.err
}

type chunkerFake struct {
	data     []domain.ChunkData
	gotHints []domain.StructuralSpan
}

func (f *chunkerFake) Chunk(_, _ string, hints []domain.StructuralSpan) []domain.ChunkData {
	f.gotHints = hints
	return f.data
}

type graderFake struct {
	unreadable bool
}

func (f *graderFake) Grade(string) domain.QualityReport {
	if f.unreadable {
		return domain.QualityReport{Score: 0.1, IsReadable: false, Reason: "fragmented tokens"}
	}
	return domain.QualityReport{Score: 0.9, IsReadable: true}
}

type embedderFake struct {
	err error
}

func (f *embedderFake) EmbedChunks(_ context.Context, _ *domain.Tenant, _ *domain.Document, chunks []*domain.Chunk, progress domain.ProgressFunc) ([]domain.VectorRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	records := make([]domain.VectorRecord, 0, len(chunks))
	for i, c := range chunks {
		if progress != nil {
			progress(i+1, len(chunks))
		}
		records = append(records, domain.VectorRecord{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			TenantID:   c.TenantID,
			ChunkIndex: c.Index,
			Dense:      []float32{0.1, 0.2},
		})
	}
	return records, nil
}

type entityFake struct {
	entities []domain.Entity
	err      error
	failOn   string
}

func (f *entityFake) Extract(_ context.Context, text string) ([]domain.Entity, []domain.Relation, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, nil, fmt.Errorf("malformed model output for %q", f.failOn)
	}
	return f.entities, nil, nil
}

type enricherFake struct {
	summary string
	err     error
}

func (f *enricherFake) Enrich(context.Context, string) (string, []string, []string, error) {
	if f.err != nil {
		return "", nil, nil, f.err
	}
	return f.summary, []string{"kw"}, []string{"#tag"}, nil
}

type metricsFake struct {
	mu       sync.Mutex
	stages   []string
	recovery map[string]int
}

func newMetricsFake() *metricsFake {
	return &metricsFake{recovery: make(map[string]int)}
}

func (f *metricsFake) StartIngest() {}

func (f *metricsFake) FinishIngest(string, error) {}

func (f *metricsFake) ObserveStage(_, stage string, _ time.Duration, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
}

func (f *metricsFake) ObserveRecovery(_, outcome string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovery[outcome] += count
}

type resolverFake struct {
	cfg       domain.EmbeddingConfig
	probeDims int
	probeErr  error
	probed    bool
}

func (f *resolverFake) Resolve(*domain.Tenant) domain.EmbeddingConfig { return f.cfg }

func (f *resolverFake) ProbeDimensions(context.Context, domain.EmbeddingConfig) (int, error) {
	f.probed = true
	return f.probeDims, f.probeErr
}
