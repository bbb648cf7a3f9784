package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

type recordedWrite struct {
	query  string
	params map[string]any
}

type fakeGraphStore struct {
	writes   []recordedWrite
	writeErr error
	readRows []map[string]any
}

func (f *fakeGraphStore) ExecuteRead(_ context.Context, _ string, _ map[string]any) ([]map[string]any, error) {
	return f.readRows, nil
}

func (f *fakeGraphStore) ExecuteWrite(_ context.Context, query string, params map[string]any) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, recordedWrite{query: query, params: params})
	return nil
}

type fakeVectorIndex struct {
	neighbors []domain.Neighbor
	searchErr error

	gotVector  []float32
	gotLimit   int
	gotExclude string
}

func (f *fakeVectorIndex) EnsureCollection(context.Context, *domain.Tenant, int) error { return nil }
func (f *fakeVectorIndex) UpsertChunks(context.Context, *domain.Tenant, []domain.VectorRecord) error {
	return nil
}
func (f *fakeVectorIndex) Search(_ context.Context, _ *domain.Tenant, vector []float32, limit int, excludeChunkID string) ([]domain.Neighbor, error) {
	f.gotVector = vector
	f.gotLimit = limit
	f.gotExclude = excludeChunkID
	return f.neighbors, f.searchErr
}
func (f *fakeVectorIndex) DeleteByDocument(context.Context, *domain.Tenant, string) error { return nil }
func (f *fakeVectorIndex) DropCollection(context.Context, *domain.Tenant) error           { return nil }
func (f *fakeVectorIndex) CollectionDimensions(context.Context, *domain.Tenant) (int, error) {
	return 0, nil
}

func TestSyncChunkNodesWritesDocumentThenChunks(t *testing.T) {
	store := &fakeGraphStore{}
	engine := NewEngine(store, &fakeVectorIndex{}, 0.8, 5, nil)

	doc := &domain.Document{ID: "doc-1", TenantID: "tenant-1", Filename: "report.pdf", Domain: "financial"}
	chunks := []*domain.Chunk{
		{ID: "chunk-1", Index: 0},
		{ID: "chunk-2", Index: 1},
	}

	if err := engine.SyncChunkNodes(context.Background(), doc, chunks); err != nil {
		t.Fatalf("SyncChunkNodes: %v", err)
	}
	if len(store.writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(store.writes))
	}
	if !strings.Contains(store.writes[0].query, "MERGE (d:Document") {
		t.Errorf("first write should merge the document node, got: %s", store.writes[0].query)
	}
	if !strings.Contains(store.writes[1].query, "HAS_CHUNK") {
		t.Errorf("second write should link chunks, got: %s", store.writes[1].query)
	}
	rows, ok := store.writes[1].params["chunks"].([]map[string]any)
	if !ok || len(rows) != 2 {
		t.Fatalf("expected 2 chunk rows in params, got %v", store.writes[1].params["chunks"])
	}
}

func TestWriteEntitiesSkipsEmptySlices(t *testing.T) {
	store := &fakeGraphStore{}
	engine := NewEngine(store, &fakeVectorIndex{}, 0.8, 5, nil)

	err := engine.WriteEntities(context.Background(), "tenant-1", "chunk-1", nil, nil)
	if err != nil {
		t.Fatalf("WriteEntities: %v", err)
	}
	if len(store.writes) != 0 {
		t.Errorf("expected no writes for empty entities, got %d", len(store.writes))
	}
}

func TestWriteEntitiesMentionsAndRelations(t *testing.T) {
	store := &fakeGraphStore{}
	engine := NewEngine(store, &fakeVectorIndex{}, 0.8, 5, nil)

	entities := []domain.Entity{{Name: "Acme Corp", Type: "organization"}}
	relations := []domain.Relation{{Source: "Acme Corp", Target: "Widget", Type: "produces", Weight: 1}}

	err := engine.WriteEntities(context.Background(), "tenant-1", "chunk-1", entities, relations)
	if err != nil {
		t.Fatalf("WriteEntities: %v", err)
	}
	if len(store.writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(store.writes))
	}
	if !strings.Contains(store.writes[0].query, "MENTIONS") {
		t.Errorf("first write should create MENTIONS edges")
	}
	if !strings.Contains(store.writes[1].query, "RELATES_TO") {
		t.Errorf("second write should create RELATES_TO edges")
	}
}

func TestWriteSimilarityEdgesFiltersByThreshold(t *testing.T) {
	index := &fakeVectorIndex{
		neighbors: []domain.Neighbor{
			{ChunkID: "chunk-9", Score: 0.95},
			{ChunkID: "chunk-8", Score: 0.70},
			{ChunkID: "chunk-1", Score: 0.99},
		},
	}
	store := &fakeGraphStore{}
	engine := NewEngine(store, index, 0.82, 5, nil)

	tenant := &domain.Tenant{ID: "tenant-1"}
	written, err := engine.WriteSimilarityEdges(context.Background(), tenant, "chunk-1", []float32{0.1, 0.2})
	if err != nil {
		t.Fatalf("WriteSimilarityEdges: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected 1 edge above threshold excluding self, got %d", written)
	}
	if index.gotExclude != "chunk-1" {
		t.Errorf("search should exclude the source chunk, got %q", index.gotExclude)
	}
	if index.gotLimit != 5 {
		t.Errorf("search limit should be the fan-out, got %d", index.gotLimit)
	}
	if len(store.writes) != 1 || !strings.Contains(store.writes[0].query, "SIMILAR_TO") {
		t.Fatalf("expected one SIMILAR_TO write, got %v", store.writes)
	}
}

func TestWriteSimilarityEdgesNoNeighborsNoWrite(t *testing.T) {
	store := &fakeGraphStore{}
	engine := NewEngine(store, &fakeVectorIndex{}, 0.82, 5, nil)

	written, err := engine.WriteSimilarityEdges(context.Background(), &domain.Tenant{ID: "t"}, "chunk-1", nil)
	if err != nil {
		t.Fatalf("WriteSimilarityEdges: %v", err)
	}
	if written != 0 || len(store.writes) != 0 {
		t.Errorf("expected no writes, got %d edges, %d writes", written, len(store.writes))
	}
}

func TestMergeNodesExecutesOrderedSteps(t *testing.T) {
	store := &fakeGraphStore{}
	engine := NewEngine(store, &fakeVectorIndex{}, 0.8, 5, nil)

	err := engine.MergeNodes(context.Background(), "tenant-1", "Acme Corp", []string{"ACME", "Acme Inc"})
	if err != nil {
		t.Fatalf("MergeNodes: %v", err)
	}
	if len(store.writes) != 4 {
		t.Fatalf("expected 4 merge steps, got %d", len(store.writes))
	}
	wantOrder := []string{"<-[r]-", "-[r:RELATES_TO]->", "SET t.description", "DETACH DELETE s"}
	for i, fragment := range wantOrder {
		if !strings.Contains(store.writes[i].query, fragment) {
			t.Errorf("step %d should contain %q, got: %s", i, fragment, store.writes[i].query)
		}
	}
}

func TestPruneOrphansOrder(t *testing.T) {
	store := &fakeGraphStore{}
	engine := NewEngine(store, &fakeVectorIndex{}, 0.8, 5, nil)

	err := engine.PruneOrphans(context.Background(), "tenant-1", []string{"doc-1"}, []string{"chunk-1"})
	if err != nil {
		t.Fatalf("PruneOrphans: %v", err)
	}
	if len(store.writes) != 4 {
		t.Fatalf("expected 4 prune steps, got %d", len(store.writes))
	}
	wantOrder := []string{"d:Document", "c:Chunk", "e:Entity", "com:Community"}
	for i, fragment := range wantOrder {
		if !strings.Contains(store.writes[i].query, fragment) {
			t.Errorf("step %d should target %q, got: %s", i, fragment, store.writes[i].query)
		}
	}
}

func TestMergeNodesStopsOnWriteError(t *testing.T) {
	store := &fakeGraphStore{writeErr: errors.New("boom")}
	engine := NewEngine(store, &fakeVectorIndex{}, 0.8, 5, nil)

	err := engine.MergeNodes(context.Background(), "tenant-1", "Target", []string{"Source"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "move incoming edges") {
		t.Errorf("error should name the failing step, got: %v", err)
	}
}

func TestDeleteTenantData(t *testing.T) {
	store := &fakeGraphStore{}
	engine := NewEngine(store, &fakeVectorIndex{}, 0.8, 5, nil)

	if err := engine.DeleteTenantData(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("DeleteTenantData: %v", err)
	}
	if len(store.writes) != 1 || !strings.Contains(store.writes[0].query, "DETACH DELETE n") {
		t.Fatalf("expected a single detach-delete write, got %v", store.writes)
	}
}
