package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

func migrationTenant() *domain.Tenant {
	return &domain.Tenant{
		ID:                  "tenant-1",
		Name:                "acme",
		EmbeddingProvider:   "ollama",
		EmbeddingModel:      "nomic-embed-text",
		EmbeddingDimensions: 768,
		Active:              true,
	}
}

func TestCheckTenantsFlagsDimensionMismatch(t *testing.T) {
	tenants := newTenantRepoFake(migrationTenant())
	index := &indexFake{collectionDims: 384}
	resolver := &resolverFake{cfg: domain.EmbeddingConfig{Provider: "ollama", Model: "nomic-embed-text", Dimensions: 768}}

	uc := NewReindexUseCase(tenants, newDocRepoFake(), newChunkRepoFake(), index, &graphFake{}, &queueFake{}, resolver, nil)
	statuses, err := uc.CheckTenants(context.Background())
	if err != nil {
		t.Fatalf("CheckTenants error = %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	st := statuses[0]
	if !st.NeedsMigration {
		t.Errorf("expected NeedsMigration for 384 vs 768")
	}
	if st.Compatible {
		t.Errorf("mismatched dims should not be compatible")
	}
	if st.Configured != resolver.cfg {
		t.Errorf("reported config = %+v, want resolved %+v", st.Configured, resolver.cfg)
	}
	if st.CollectionDims != 384 {
		t.Errorf("collection dims = %d, want 384", st.CollectionDims)
	}
}

func TestCheckTenantsEmptyCollectionIsCompatible(t *testing.T) {
	tenants := newTenantRepoFake(migrationTenant())
	index := &indexFake{collectionDims: 0}
	resolver := &resolverFake{cfg: domain.EmbeddingConfig{Provider: "ollama", Model: "nomic-embed-text", Dimensions: 768}}

	uc := NewReindexUseCase(tenants, newDocRepoFake(), newChunkRepoFake(), index, &graphFake{}, &queueFake{}, resolver, nil)
	statuses, err := uc.CheckTenants(context.Background())
	if err != nil {
		t.Fatalf("CheckTenants error = %v", err)
	}
	if !statuses[0].Compatible || statuses[0].NeedsMigration {
		t.Fatalf("unmaterialized collection should be compatible, got %+v", statuses[0])
	}
}

func TestMigrateTenantResetsAndRedispatches(t *testing.T) {
	docA := testDocument()
	docA.ID = "doc-a"
	docA.Status = domain.StatusReady
	docB := testDocument()
	docB.ID = "doc-b"
	docB.Status = domain.StatusFailed
	docs := newDocRepoFake(docA, docB)

	chunks := newChunkRepoFake()
	chunks.byDoc["doc-a"] = []*domain.Chunk{{ID: "c1", TenantID: "tenant-1"}}

	tenants := newTenantRepoFake(migrationTenant())
	index := &indexFake{}
	graph := &graphFake{}
	queue := &queueFake{}
	resolver := &resolverFake{cfg: domain.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimensions: 1536}}

	uc := NewReindexUseCase(tenants, docs, chunks, index, graph, queue, resolver, nil)
	taskIDs, err := uc.MigrateTenant(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("MigrateTenant error = %v", err)
	}

	if tenants.savedCfg == nil || tenants.savedCfg.Dimensions != 1536 {
		t.Fatalf("embedding config not persisted: %+v", tenants.savedCfg)
	}
	if len(index.dropLog) != 1 || len(index.ensureLog) != 1 {
		t.Fatalf("collection should be dropped and recreated exactly once, got %v", index.order())
	}
	if index.ensuredDims != 1536 {
		t.Errorf("recreated collection dims = %d, want 1536", index.ensuredDims)
	}
	if len(graph.wipedTenants) != 1 || graph.wipedTenants[0] != "tenant-1" {
		t.Errorf("tenant graph not wiped: %v", graph.wipedTenants)
	}
	if len(chunks.tenantWipes) != 1 {
		t.Errorf("tenant chunks not wiped: %v", chunks.tenantWipes)
	}
	if docs.statusOf("doc-a") != domain.StatusIngested || docs.statusOf("doc-b") != domain.StatusIngested {
		t.Errorf("documents not reset to ingested")
	}
	if len(taskIDs) != 2 {
		t.Fatalf("task ids = %d, want one per document", len(taskIDs))
	}
	if len(queue.dispatched) != 2 {
		t.Errorf("dispatched = %d, want 2", len(queue.dispatched))
	}
}

func TestMigrateTenantProbesUnknownDimensions(t *testing.T) {
	tenants := newTenantRepoFake(migrationTenant())
	resolver := &resolverFake{
		cfg:       domain.EmbeddingConfig{Provider: "voyage", Model: "voyage-3"},
		probeDims: 1024,
	}
	index := &indexFake{}

	uc := NewReindexUseCase(tenants, newDocRepoFake(), newChunkRepoFake(), index, &graphFake{}, &queueFake{}, resolver, nil)
	if _, err := uc.MigrateTenant(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("MigrateTenant error = %v", err)
	}
	if !resolver.probed {
		t.Fatalf("expected a probe embed for unknown dimensionality")
	}
	if index.ensuredDims != 1024 {
		t.Fatalf("ensured dims = %d, want probed 1024", index.ensuredDims)
	}
}

func TestCancelMigrationRevokesAllTasks(t *testing.T) {
	queue := &queueFake{}
	uc := NewReindexUseCase(newTenantRepoFake(), newDocRepoFake(), newChunkRepoFake(), &indexFake{}, &graphFake{}, queue, &resolverFake{}, nil)

	if err := uc.CancelMigration(context.Background(), []string{"task-1", "task-2"}); err != nil {
		t.Fatalf("CancelMigration error = %v", err)
	}
	if len(queue.cancelled) != 2 {
		t.Fatalf("cancelled = %v, want 2 tasks", queue.cancelled)
	}
}
