package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

type ChunkRepository struct {
	db *sql.DB
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// ReplaceForDocument swaps the document's chunk set in one transaction
// so a reader never sees a mix of old and new indices.
func (r *ChunkRepository) ReplaceForDocument(ctx context.Context, documentID string, chunks []*domain.Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	for _, chunk := range chunks {
		metaJSON, err := json.Marshal(orEmptyMap(chunk.Metadata))
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO chunks (id, document_id, tenant_id, chunk_index, content, token_count, embedding_status, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
			chunk.ID, chunk.DocumentID, chunk.TenantID, chunk.Index, chunk.Content,
			chunk.TokenCount, string(chunk.EmbeddingStatus), metaJSON, chunk.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, tenant_id, chunk_index, content, token_count, embedding_status, metadata, created_at
FROM chunks
WHERE document_id = $1
ORDER BY chunk_index ASC
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*domain.Chunk
	for rows.Next() {
		var chunk domain.Chunk
		var status string
		var metaRaw []byte
		err := rows.Scan(
			&chunk.ID, &chunk.DocumentID, &chunk.TenantID, &chunk.Index, &chunk.Content,
			&chunk.TokenCount, &status, &metaRaw, &chunk.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunk.EmbeddingStatus = domain.EmbeddingStatus(status)
		if err := json.Unmarshal(metaRaw, &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
		chunks = append(chunks, &chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

func (r *ChunkRepository) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

func (r *ChunkRepository) UpdateEmbeddingStatus(ctx context.Context, chunkIDs []string, status domain.EmbeddingStatus) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	raw, err := json.Marshal(chunkIDs)
	if err != nil {
		return fmt.Errorf("marshal chunk ids: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
UPDATE chunks
SET embedding_status = $2
WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))
`, raw, string(status))
	if err != nil {
		return fmt.Errorf("update embedding status: %w", err)
	}
	return nil
}

func (r *ChunkRepository) DeleteByTenant(ctx context.Context, tenantID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("delete tenant chunks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete rows affected: %w", err)
	}
	return int(affected), nil
}
