package domain

import "time"

type EmbeddingStatus string

const (
	EmbeddingPending   EmbeddingStatus = "pending"
	EmbeddingCompleted EmbeddingStatus = "completed"
	EmbeddingFailed    EmbeddingStatus = "failed"
)

// Document is one ingested source file tracked through the pipeline
// state machine. (tenant_id, content_hash) is unique: re-uploading
// identical bytes resolves to the existing record.
type Document struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	Filename    string            `json:"filename"`
	MimeType    string            `json:"mime_type"`
	ContentHash string            `json:"content_hash"`
	StoragePath string            `json:"storage_path"`
	Status      DocumentStatus    `json:"status"`
	Domain      string            `json:"domain,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
	Hashtags    []string          `json:"hashtags,omitempty"`
	Error       *ErrorPayload     `json:"error,omitempty"`
	FolderID    string            `json:"folder_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Chunk is one size-bounded text span of a Document, the unit of
// embedding and retrieval. Indices are contiguous per document version;
// re-chunking replaces the full set.
type Chunk struct {
	ID              string            `json:"id"`
	DocumentID      string            `json:"document_id"`
	TenantID        string            `json:"tenant_id"`
	Index           int               `json:"index"`
	Content         string            `json:"content"`
	TokenCount      int               `json:"token_count"`
	EmbeddingStatus EmbeddingStatus   `json:"embedding_status"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ErrorPayload is the structured failure record persisted on a FAILED
// document for UI display.
type ErrorPayload struct {
	Kind     string `json:"kind"`
	Provider string `json:"provider,omitempty"`
	Message  string `json:"message"`
}

// StaleOutcome reports how recovery resolved one stranded document.
type StaleOutcome struct {
	DocumentID string
	TenantID   string
	OldStatus  DocumentStatus
	NewStatus  DocumentStatus
}

// StatusEvent is published on every pipeline checkpoint. Delivery is
// best-effort; losing one never fails the pipeline.
type StatusEvent struct {
	DocumentID string         `json:"document_id"`
	TenantID   string         `json:"tenant_id"`
	OldStatus  DocumentStatus `json:"old_status"`
	NewStatus  DocumentStatus `json:"new_status"`
	Progress   int            `json:"progress"`
}
