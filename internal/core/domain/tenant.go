package domain

import "time"

// Tenant owns a document corpus and may override the system embedding
// defaults. The active vector collection is resolved from these fields
// by the naming policy.
type Tenant struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	EmbeddingProvider   string    `json:"embedding_provider,omitempty"`
	EmbeddingModel      string    `json:"embedding_model,omitempty"`
	EmbeddingDimensions int       `json:"embedding_dimensions,omitempty"`
	DedicatedCollection bool      `json:"dedicated_collection"`
	Active              bool      `json:"active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// EmbeddingConfig is the effective provider/model/dimensionality after
// tenant overrides are applied on top of system defaults.
type EmbeddingConfig struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// CompatibilityStatus reports whether a tenant's configured embedding
// setup matches what its vector collection actually materializes.
type CompatibilityStatus struct {
	TenantID         string          `json:"tenant_id"`
	Configured       EmbeddingConfig `json:"configured"`
	CollectionDims   int             `json:"collection_dims"`
	Compatible       bool            `json:"compatible"`
	NeedsMigration   bool            `json:"needs_migration"`
	IncompatibleNote string          `json:"incompatible_note,omitempty"`
}
