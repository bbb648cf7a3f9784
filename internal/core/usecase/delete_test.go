package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

func TestDeleteDocumentPurgesProjections(t *testing.T) {
	doc := testDocument()
	docs := newDocRepoFake(doc)
	storage := newStorageFake()
	storage.objects[doc.StoragePath] = []byte("bytes")
	index := &indexFake{}
	graph := &graphFake{}

	uc := NewDeleteDocumentUseCase(docs, newTenantRepoFake(testTenant()), storage, index, graph, newChunkRepoFake(), nil)
	if err := uc.DeleteDocument(context.Background(), "tenant-1", doc.ID); err != nil {
		t.Fatalf("DeleteDocument error = %v", err)
	}

	if len(docs.deleted) != 1 {
		t.Fatalf("document row not deleted")
	}
	if len(storage.deletes) != 1 {
		t.Errorf("stored object not deleted")
	}
	if len(index.deletedDocs) != 1 || index.deletedDocs[0] != doc.ID {
		t.Errorf("vector points not deleted: %v", index.deletedDocs)
	}
	if len(graph.prunedTenants) != 1 {
		t.Errorf("graph not pruned: %v", graph.prunedTenants)
	}
}

func TestDeleteDocumentSurvivesProjectionFailures(t *testing.T) {
	doc := testDocument()
	docs := newDocRepoFake(doc)
	storage := newStorageFake()
	storage.objects[doc.StoragePath] = []byte("bytes")
	index := &indexFake{deleteErr: errors.New("qdrant down")}

	uc := NewDeleteDocumentUseCase(docs, newTenantRepoFake(testTenant()), storage, index, &graphFake{}, newChunkRepoFake(), nil)
	if err := uc.DeleteDocument(context.Background(), "tenant-1", doc.ID); err != nil {
		t.Fatalf("vector failure must not block delete, got %v", err)
	}
	if len(docs.deleted) != 1 {
		t.Fatalf("authoritative delete did not happen")
	}
}

func TestDeleteDocumentUnknownID(t *testing.T) {
	uc := NewDeleteDocumentUseCase(newDocRepoFake(), newTenantRepoFake(testTenant()), newStorageFake(), &indexFake{}, &graphFake{}, newChunkRepoFake(), nil)

	err := uc.DeleteDocument(context.Background(), "tenant-1", "ghost")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}
