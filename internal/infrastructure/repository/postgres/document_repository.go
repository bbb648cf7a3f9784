package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026090101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	embedding_provider TEXT NOT NULL DEFAULT '',
	embedding_model TEXT NOT NULL DEFAULT '',
	embedding_dimensions INTEGER NOT NULL DEFAULT 0,
	dedicated_collection BOOLEAN NOT NULL DEFAULT FALSE,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	domain TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	summary TEXT NOT NULL DEFAULT '',
	keywords JSONB NOT NULL DEFAULT '[]'::jsonb,
	hashtags JSONB NOT NULL DEFAULT '[]'::jsonb,
	error JSONB,
	folder_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (tenant_id, content_hash)
);

CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	tenant_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	token_count INTEGER NOT NULL,
	embedding_status TEXT NOT NULL DEFAULT 'pending',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_tenant ON chunks(tenant_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const documentColumns = `id, tenant_id, filename, mime_type, content_hash, storage_path, status, domain, metadata, summary, keywords, hashtags, error, folder_id, created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	metaJSON, keywordsJSON, hashtagsJSON, errJSON, err := marshalDocumentJSON(doc)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`,
		doc.ID, doc.TenantID, doc.Filename, doc.MimeType, doc.ContentHash, doc.StoragePath,
		string(doc.Status), doc.Domain, metaJSON, doc.Summary, keywordsJSON, hashtagsJSON,
		errJSON, doc.FolderID, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE tenant_id = $1 AND id = $2
`, tenantID, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
		}
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) FindByContentHash(ctx context.Context, tenantID, contentHash string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE tenant_id = $1 AND content_hash = $2
`, tenantID, contentHash)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

// UpdateStatusCAS advances the status only if the row still holds
// expectedOld. The returned bool reports whether this caller won.
func (r *DocumentRepository) UpdateStatusCAS(ctx context.Context, id string, next, expectedOld domain.DocumentStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, updated_at = $3
WHERE id = $1 AND status = $4
`, id, string(next), time.Now().UTC(), string(expectedOld))
	if err != nil {
		return false, fmt.Errorf("cas update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cas rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *DocumentRepository) SetStatus(ctx context.Context, id string, status domain.DocumentStatus, payload *domain.ErrorPayload) error {
	var errJSON any
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal error payload: %w", err)
		}
		errJSON = raw
	}

	_, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set document status: %w", err)
	}
	return nil
}

func (r *DocumentRepository) SaveClassification(ctx context.Context, id, docDomain string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE documents
SET domain = $2, updated_at = $3
WHERE id = $1
`, id, docDomain, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	return nil
}

func (r *DocumentRepository) SaveEnrichment(ctx context.Context, id, summary string, keywords, hashtags []string) error {
	keywordsJSON, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	hashtagsJSON, err := json.Marshal(hashtags)
	if err != nil {
		return fmt.Errorf("marshal hashtags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
UPDATE documents
SET summary = $2, keywords = $3, hashtags = $4, updated_at = $5
WHERE id = $1
`, id, summary, keywordsJSON, hashtagsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save enrichment: %w", err)
	}
	return nil
}

// ClaimStaleForRecovery resolves documents stranded in working states.
// The skip-locked select and the status update run as one statement, so
// the row locks cover the resolution and two workers booting at once
// partition the batch instead of double-resolving it. Rows stuck in the
// promotable status that already persisted chunks flip to ready with
// the error cleared; everything else flips to failed with the supplied
// payload.
func (r *DocumentRepository) ClaimStaleForRecovery(
	ctx context.Context,
	statuses []domain.DocumentStatus,
	promotable domain.DocumentStatus,
	limit int,
	failure *domain.ErrorPayload,
) ([]domain.StaleOutcome, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("marshal statuses: %w", err)
	}
	var failJSON any
	if failure != nil {
		failJSON, err = json.Marshal(failure)
		if err != nil {
			return nil, fmt.Errorf("marshal failure payload: %w", err)
		}
	}

	rows, err := r.db.QueryContext(ctx, `
WITH stale AS (
	SELECT id, status
	FROM documents
	WHERE status IN (SELECT jsonb_array_elements_text($1::jsonb))
	ORDER BY updated_at ASC
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
UPDATE documents d
SET status = CASE
		WHEN s.status = $3 AND EXISTS (SELECT 1 FROM chunks c WHERE c.document_id = d.id)
		THEN 'ready' ELSE 'failed'
	END,
	error = CASE
		WHEN s.status = $3 AND EXISTS (SELECT 1 FROM chunks c WHERE c.document_id = d.id)
		THEN NULL ELSE $4::jsonb
	END,
	updated_at = $5
FROM stale s
WHERE d.id = s.id
RETURNING d.id, d.tenant_id, s.status, d.status
`, raw, limit, string(promotable), failJSON, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("claim stale documents: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.StaleOutcome
	for rows.Next() {
		var out domain.StaleOutcome
		var oldStatus, newStatus string
		if err := rows.Scan(&out.DocumentID, &out.TenantID, &oldStatus, &newStatus); err != nil {
			return nil, fmt.Errorf("scan stale outcome: %w", err)
		}
		out.OldStatus = domain.DocumentStatus(oldStatus)
		out.NewStatus = domain.DocumentStatus(newStatus)
		outcomes = append(outcomes, out)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale outcomes: %w", err)
	}
	return outcomes, nil
}

func (r *DocumentRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE tenant_id = $1
ORDER BY created_at ASC
`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list documents by tenant: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

func (r *DocumentRepository) ResetTenantToIngested(ctx context.Context, tenantID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error = NULL, updated_at = $3
WHERE tenant_id = $1
`, tenantID, string(domain.StatusIngested), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("reset tenant documents: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *DocumentRepository) Delete(ctx context.Context, tenantID, id string) error {
	res, err := r.db.ExecContext(ctx, `
DELETE FROM documents
WHERE tenant_id = $1 AND id = $2
`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var status string
	var metaRaw, keywordsRaw, hashtagsRaw []byte
	var errRaw []byte

	err := row.Scan(
		&doc.ID, &doc.TenantID, &doc.Filename, &doc.MimeType, &doc.ContentHash, &doc.StoragePath,
		&status, &doc.Domain, &metaRaw, &doc.Summary, &keywordsRaw, &hashtagsRaw,
		&errRaw, &doc.FolderID, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc.Status = domain.DocumentStatus(status)
	if err := json.Unmarshal(metaRaw, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal(keywordsRaw, &doc.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshal keywords: %w", err)
	}
	if err := json.Unmarshal(hashtagsRaw, &doc.Hashtags); err != nil {
		return nil, fmt.Errorf("unmarshal hashtags: %w", err)
	}
	if len(errRaw) > 0 {
		var payload domain.ErrorPayload
		if err := json.Unmarshal(errRaw, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal error payload: %w", err)
		}
		doc.Error = &payload
	}
	return &doc, nil
}

func collectDocuments(rows *sql.Rows) ([]*domain.Document, error) {
	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func marshalDocumentJSON(doc *domain.Document) (meta, keywords, hashtags []byte, errPayload any, err error) {
	meta, err = json.Marshal(orEmptyMap(doc.Metadata))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	keywords, err = json.Marshal(orEmptySlice(doc.Keywords))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal keywords: %w", err)
	}
	hashtags, err = json.Marshal(orEmptySlice(doc.Hashtags))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal hashtags: %w", err)
	}
	if doc.Error != nil {
		raw, merr := json.Marshal(doc.Error)
		if merr != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal error payload: %w", merr)
		}
		errPayload = raw
	}
	return meta, keywords, hashtags, errPayload, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
