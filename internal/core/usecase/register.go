package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
	"github.com/kirillkom/knowledge-pipeline/internal/core/ports"
)

// RegisterDocumentUseCase stores uploaded bytes and creates the tracking
// record. Identical bytes within a tenant resolve to the existing
// document instead of a second upload.
type RegisterDocumentUseCase struct {
	docs    ports.DocumentRepository
	tenants ports.TenantRepository
	storage ports.ObjectStorage
	queue   ports.TaskQueue
	log     *slog.Logger
}

func NewRegisterDocumentUseCase(
	docs ports.DocumentRepository,
	tenants ports.TenantRepository,
	storage ports.ObjectStorage,
	queue ports.TaskQueue,
	log *slog.Logger,
) *RegisterDocumentUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &RegisterDocumentUseCase{
		docs:    docs,
		tenants: tenants,
		storage: storage,
		queue:   queue,
		log:     log,
	}
}

func (uc *RegisterDocumentUseCase) Register(ctx context.Context, tenantID, filename string, data []byte, contentType string) (*domain.Document, error) {
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register document", fmt.Errorf("empty file: %s", filename))
	}
	if _, err := uc.tenants.GetByID(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])

	existing, err := uc.docs.FindByContentHash(ctx, tenantID, contentHash)
	if err == nil {
		uc.log.Info("duplicate upload resolved to existing document",
			"tenant_id", tenantID,
			"document_id", existing.ID,
			"filename", filename,
		)
		return existing, nil
	}
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Filename:    filename,
		MimeType:    contentType,
		ContentHash: contentHash,
		Status:      domain.StatusIngested,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	doc.StoragePath = path.Join(tenantID, doc.ID+path.Ext(filename))

	if err := uc.storage.Upload(ctx, doc.StoragePath, data, contentType); err != nil {
		return nil, fmt.Errorf("upload document bytes: %w", err)
	}
	if err := uc.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}

	taskID, err := uc.queue.DispatchIngest(ctx, tenantID, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("dispatch ingest task: %w", err)
	}
	uc.log.Info("document registered",
		"tenant_id", tenantID,
		"document_id", doc.ID,
		"task_id", taskID,
		"filename", filename,
		"size_bytes", len(data),
	)
	return doc, nil
}
