package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
	"github.com/kirillkom/knowledge-pipeline/internal/core/ports"
)

// Engine materializes and maintains the tenant's graph projection. The
// projection is derived data: every operation here can be replayed from
// the relational document/chunk set.
type Engine struct {
	store ports.GraphStore
	index ports.VectorIndex
	log   *slog.Logger

	similarityThreshold float64
	similarityFanOut    int
}

func NewEngine(
	store ports.GraphStore,
	index ports.VectorIndex,
	similarityThreshold float64,
	similarityFanOut int,
	log *slog.Logger,
) *Engine {
	if similarityFanOut <= 0 {
		similarityFanOut = 5
	}
	return &Engine{
		store:               store,
		index:               index,
		log:                 log,
		similarityThreshold: similarityThreshold,
		similarityFanOut:    similarityFanOut,
	}
}

// SyncChunkNodes mirrors the document and its chunk rows as graph nodes.
// MERGE keys on id+tenant so replays update in place.
func (e *Engine) SyncChunkNodes(ctx context.Context, doc *domain.Document, chunks []*domain.Chunk) error {
	err := e.store.ExecuteWrite(ctx, `
MERGE (d:Document {id: $id, tenant_id: $tenant_id})
SET d.filename = $filename, d.domain = $domain
`, map[string]any{
		"id":        doc.ID,
		"tenant_id": doc.TenantID,
		"filename":  doc.Filename,
		"domain":    doc.Domain,
	})
	if err != nil {
		return fmt.Errorf("sync document node: %w", err)
	}

	chunkRows := make([]map[string]any, 0, len(chunks))
	for _, chunk := range chunks {
		chunkRows = append(chunkRows, map[string]any{
			"id":    chunk.ID,
			"index": chunk.Index,
		})
	}

	err = e.store.ExecuteWrite(ctx, `
MATCH (d:Document {id: $document_id, tenant_id: $tenant_id})
UNWIND $chunks AS row
MERGE (c:Chunk {id: row.id, tenant_id: $tenant_id})
SET c.index = row.index
MERGE (d)-[:HAS_CHUNK]->(c)
`, map[string]any{
		"document_id": doc.ID,
		"tenant_id":   doc.TenantID,
		"chunks":      chunkRows,
	})
	if err != nil {
		return fmt.Errorf("sync chunk nodes: %w", err)
	}
	return nil
}

// WriteEntities writes entity nodes with MENTIONS edges from the chunk
// and RELATES_TO edges between entities.
func (e *Engine) WriteEntities(
	ctx context.Context,
	tenantID, chunkID string,
	entities []domain.Entity,
	relations []domain.Relation,
) error {
	if len(entities) > 0 {
		rows := make([]map[string]any, 0, len(entities))
		for _, ent := range entities {
			rows = append(rows, map[string]any{
				"name":        ent.Name,
				"type":        ent.Type,
				"description": ent.Description,
			})
		}
		err := e.store.ExecuteWrite(ctx, `
MATCH (c:Chunk {id: $chunk_id, tenant_id: $tenant_id})
UNWIND $entities AS row
MERGE (e:Entity {name: row.name, tenant_id: $tenant_id})
SET e.type = row.type,
    e.description = CASE
        WHEN coalesce(e.description, '') = '' THEN row.description
        ELSE e.description
    END
MERGE (c)-[:MENTIONS]->(e)
`, map[string]any{
			"chunk_id":  chunkID,
			"tenant_id": tenantID,
			"entities":  rows,
		})
		if err != nil {
			return fmt.Errorf("write entity mentions: %w", err)
		}
	}

	if len(relations) > 0 {
		rows := make([]map[string]any, 0, len(relations))
		for _, rel := range relations {
			rows = append(rows, map[string]any{
				"source":      rel.Source,
				"target":      rel.Target,
				"type":        rel.Type,
				"description": rel.Description,
				"weight":      rel.Weight,
			})
		}
		err := e.store.ExecuteWrite(ctx, `
UNWIND $relations AS row
MERGE (s:Entity {name: row.source, tenant_id: $tenant_id})
MERGE (t:Entity {name: row.target, tenant_id: $tenant_id})
MERGE (s)-[r:RELATES_TO {type: row.type}]->(t)
SET r.description = row.description, r.weight = row.weight
`, map[string]any{
			"tenant_id": tenantID,
			"relations": rows,
		})
		if err != nil {
			return fmt.Errorf("write entity relations: %w", err)
		}
	}
	return nil
}

// WriteSimilarityEdges searches the vector index for the chunk's nearest
// neighbors above the threshold and writes symmetric SIMILAR_TO edges,
// bounded by the fan-out. MERGE keys the edge on the node pair, so
// re-running ingestion for an already-indexed chunk updates the score
// instead of duplicating the edge.
func (e *Engine) WriteSimilarityEdges(
	ctx context.Context,
	tenant *domain.Tenant,
	chunkID string,
	vector []float32,
) (int, error) {
	neighbors, err := e.index.Search(ctx, tenant, vector, e.similarityFanOut, chunkID)
	if err != nil {
		return 0, fmt.Errorf("similarity search: %w", err)
	}

	edges := make([]map[string]any, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Score < e.similarityThreshold || n.ChunkID == chunkID {
			continue
		}
		edges = append(edges, map[string]any{
			"other": n.ChunkID,
			"score": n.Score,
		})
	}
	if len(edges) == 0 {
		return 0, nil
	}

	err = e.store.ExecuteWrite(ctx, `
MATCH (a:Chunk {id: $chunk_id, tenant_id: $tenant_id})
UNWIND $edges AS row
MATCH (b:Chunk {id: row.other, tenant_id: $tenant_id})
MERGE (a)-[r1:SIMILAR_TO]->(b)
SET r1.score = row.score
MERGE (b)-[r2:SIMILAR_TO]->(a)
SET r2.score = row.score
`, map[string]any{
		"chunk_id":  chunkID,
		"tenant_id": tenant.ID,
		"edges":     edges,
	})
	if err != nil {
		return 0, fmt.Errorf("write similarity edges: %w", err)
	}
	return len(edges), nil
}

// MergeNodes re-points all edges from each source entity onto the
// target, merges descriptions and aliases, then deletes the sources.
// Four separate write steps because the store lacks a single merge
// primitive: move-in, move-out, merge-properties, delete.
func (e *Engine) MergeNodes(ctx context.Context, tenantID, targetName string, sourceNames []string) error {
	params := map[string]any{
		"tenant_id": tenantID,
		"target":    targetName,
		"sources":   sourceNames,
	}

	steps := []struct {
		name  string
		query string
	}{
		{"move incoming edges", `
MATCH (s:Entity {tenant_id: $tenant_id})<-[r]-(n)
WHERE s.name IN $sources
MATCH (t:Entity {name: $target, tenant_id: $tenant_id})
WHERE n <> t
MERGE (n)-[nr:MENTIONS]->(t)
DELETE r
`},
		{"move outgoing edges", `
MATCH (s:Entity {tenant_id: $tenant_id})-[r:RELATES_TO]->(n)
WHERE s.name IN $sources
MATCH (t:Entity {name: $target, tenant_id: $tenant_id})
WHERE n <> t
MERGE (t)-[nr:RELATES_TO {type: coalesce(r.type, 'related')}]->(n)
DELETE r
`},
		{"merge properties", `
MATCH (s:Entity {tenant_id: $tenant_id})
WHERE s.name IN $sources
MATCH (t:Entity {name: $target, tenant_id: $tenant_id})
WITH t, collect(s.description) AS descs, collect(s.name) AS names
SET t.description = reduce(acc = coalesce(t.description, ''), d IN [x IN descs WHERE coalesce(x, '') <> ''] |
        CASE WHEN acc = '' THEN d ELSE acc + ' | ' + d END),
    t.aliases = [x IN coalesce(t.aliases, []) + names WHERE x <> t.name]
`},
		{"delete sources", `
MATCH (s:Entity {tenant_id: $tenant_id})
WHERE s.name IN $sources
DETACH DELETE s
`},
	}

	for _, step := range steps {
		if err := e.store.ExecuteWrite(ctx, step.query, params); err != nil {
			return fmt.Errorf("merge nodes (%s): %w", step.name, err)
		}
	}
	return nil
}

// PruneOrphans deletes graph nodes absent from the supplied valid-id
// sets. Order matters: each step can produce the next step's orphans.
func (e *Engine) PruneOrphans(ctx context.Context, tenantID string, validDocIDs, validChunkIDs []string) error {
	params := map[string]any{
		"tenant_id": tenantID,
		"doc_ids":   validDocIDs,
		"chunk_ids": validChunkIDs,
	}

	steps := []struct {
		name  string
		query string
	}{
		{"prune documents", `
MATCH (d:Document {tenant_id: $tenant_id})
WHERE NOT d.id IN $doc_ids
DETACH DELETE d
`},
		{"prune chunks", `
MATCH (c:Chunk {tenant_id: $tenant_id})
WHERE NOT c.id IN $chunk_ids
DETACH DELETE c
`},
		{"prune unmentioned entities", `
MATCH (e:Entity {tenant_id: $tenant_id})
WHERE NOT (e)<-[:MENTIONS]-(:Chunk)
DETACH DELETE e
`},
		{"prune unreachable communities", `
MATCH (com:Community {tenant_id: $tenant_id})
WHERE NOT (com)<-[:IN_COMMUNITY]-(:Entity)
DETACH DELETE com
`},
	}

	for _, step := range steps {
		if err := e.store.ExecuteWrite(ctx, step.query, params); err != nil {
			return fmt.Errorf("prune orphans (%s): %w", step.name, err)
		}
	}
	return nil
}

// DeleteTenantData detach-deletes every node tagged with the tenant.
// Used by tenant deletion and by embedding migration.
func (e *Engine) DeleteTenantData(ctx context.Context, tenantID string) error {
	err := e.store.ExecuteWrite(ctx, `
MATCH (n {tenant_id: $tenant_id})
DETACH DELETE n
`, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return fmt.Errorf("delete tenant graph data: %w", err)
	}
	return nil
}
