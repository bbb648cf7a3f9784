package domain

// Entity is one extracted named entity destined for the graph store.
type Entity struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
}

// Relation is a directed relationship between two extracted entities,
// anchored to the chunk it was observed in.
type Relation struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Weight      float64 `json:"weight,omitempty"`
}

// VectorRecord is one dense (+ optional sparse) point upserted into the
// tenant's active collection.
type VectorRecord struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	TenantID   string            `json:"tenant_id"`
	Content    string            `json:"content"`
	ChunkIndex int               `json:"chunk_index"`
	Dense      []float32         `json:"dense"`
	Sparse     SparseVector      `json:"sparse"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SparseVector is a lexical representation as parallel index/value
// slices. Empty means "no sparse signal", which is a legal degraded
// state, never an error.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

func (v SparseVector) Empty() bool { return len(v.Indices) == 0 }

// Neighbor is one vector-search hit used for similarity edges.
type Neighbor struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}

// ProgressFunc reports granular stage completion as (completed, total).
type ProgressFunc func(completed, total int)

// UsageRecord meters one embedding batch for cost accounting.
type UsageRecord struct {
	TenantID      string  `json:"tenant_id"`
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	TotalTokens   int     `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}
