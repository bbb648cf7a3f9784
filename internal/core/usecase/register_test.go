package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

func TestRegisterCreatesAndDispatches(t *testing.T) {
	docs := newDocRepoFake()
	storage := newStorageFake()
	queue := &queueFake{}
	uc := NewRegisterDocumentUseCase(docs, newTenantRepoFake(testTenant()), storage, queue, nil)

	doc, err := uc.Register(context.Background(), "tenant-1", "notes.txt", []byte("hello world"), "text/plain")
	if err != nil {
		t.Fatalf("Register error = %v", err)
	}
	if doc.Status != domain.StatusIngested {
		t.Errorf("status = %s, want ingested", doc.Status)
	}
	if doc.ContentHash == "" {
		t.Errorf("content hash not set")
	}
	if storage.uploads != 1 {
		t.Errorf("uploads = %d, want 1", storage.uploads)
	}
	if len(queue.dispatched) != 1 || queue.dispatched[0] != doc.ID {
		t.Errorf("dispatched = %v, want [%s]", queue.dispatched, doc.ID)
	}
}

func TestRegisterDedupsIdenticalBytes(t *testing.T) {
	docs := newDocRepoFake()
	storage := newStorageFake()
	queue := &queueFake{}
	uc := NewRegisterDocumentUseCase(docs, newTenantRepoFake(testTenant()), storage, queue, nil)

	first, err := uc.Register(context.Background(), "tenant-1", "notes.txt", []byte("same bytes"), "text/plain")
	if err != nil {
		t.Fatalf("first Register error = %v", err)
	}
	second, err := uc.Register(context.Background(), "tenant-1", "renamed.txt", []byte("same bytes"), "text/plain")
	if err != nil {
		t.Fatalf("second Register error = %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("dedup should return the existing document, got %s and %s", first.ID, second.ID)
	}
	if storage.uploads != 1 {
		t.Errorf("uploads = %d, want 1 (no second object write)", storage.uploads)
	}
	if len(queue.dispatched) != 1 {
		t.Errorf("dispatched = %d tasks, want 1", len(queue.dispatched))
	}
}

func TestRegisterRejectsEmptyFile(t *testing.T) {
	uc := NewRegisterDocumentUseCase(newDocRepoFake(), newTenantRepoFake(testTenant()), newStorageFake(), &queueFake{}, nil)

	_, err := uc.Register(context.Background(), "tenant-1", "empty.txt", nil, "text/plain")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRegisterUnknownTenant(t *testing.T) {
	uc := NewRegisterDocumentUseCase(newDocRepoFake(), newTenantRepoFake(), newStorageFake(), &queueFake{}, nil)

	_, err := uc.Register(context.Background(), "ghost", "notes.txt", []byte("data"), "text/plain")
	if !domain.IsKind(err, domain.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}
