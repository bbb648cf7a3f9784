package domain

import "time"

// ExtractionResult is the normalized output shape shared by every
// extractor in the chain.
type ExtractionResult struct {
	Content        string            `json:"content"`
	Tables         []Table           `json:"tables,omitempty"`
	Images         []ImageRef        `json:"images,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ExtractorUsed  string            `json:"extractor_used"`
	Confidence     float64           `json:"confidence"`
	ExtractionTime time.Duration     `json:"extraction_time"`
}

type Table struct {
	Name string     `json:"name,omitempty"`
	Rows [][]string `json:"rows"`
}

type ImageRef struct {
	Name string `json:"name"`
	Page int    `json:"page,omitempty"`
}

// StructuralSpan is a pre-parsed named span (code definition, clause,
// section) that the chunker emits as one chunk directly, bypassing
// generic splitting.
type StructuralSpan struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ChunkData is the chunker's output before persistence.
type ChunkData struct {
	Index      int               `json:"index"`
	Content    string            `json:"content"`
	TokenCount int               `json:"token_count"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// QualityReport grades a text span's readability. It annotates chunk
// metadata and flags low-quality chunks for review; it never blocks
// chunk creation.
type QualityReport struct {
	Score      float64            `json:"score"`
	IsReadable bool               `json:"is_readable"`
	Reason     string             `json:"reason,omitempty"`
	Metrics    map[string]float64 `json:"metrics"`
}
