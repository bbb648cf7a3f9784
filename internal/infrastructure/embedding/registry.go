package embedding

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kirillkom/knowledge-pipeline/internal/core/ports"
)

// Registry holds the configured embedding providers and their explicit
// failover ranking. The ranking is plain data so failover behavior can
// be inspected and tested instead of living in catch-and-retry control
// flow.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ports.EmbeddingProvider
	ranking   []string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]ports.EmbeddingProvider)}
}

// Register adds a provider; registration order defines the default
// failover ranking.
func (r *Registry) Register(p ports.EmbeddingProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(p.Name())
	if _, exists := r.providers[name]; !exists {
		r.ranking = append(r.ranking, name)
	}
	r.providers[name] = p
}

func (r *Registry) Get(name string) (ports.EmbeddingProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("embedding provider %q not registered", name)
	}
	return p, nil
}

// Ranked returns the failover order starting from primary, followed by
// every other registered provider in registration order. With failover
// disabled callers take only the head.
func (r *Registry) Ranked(primary string) []ports.EmbeddingProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary = strings.ToLower(primary)
	out := make([]ports.EmbeddingProvider, 0, len(r.ranking))
	if p, ok := r.providers[primary]; ok {
		out = append(out, p)
	}
	for _, name := range r.ranking {
		if name == primary {
			continue
		}
		out = append(out, r.providers[name])
	}
	return out
}

// InferProvider guesses the provider from a model name, used when a
// migration supplies only a model.
func InferProvider(model string) string {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "text-embedding"):
		return "openai"
	case strings.HasPrefix(model, "voyage"):
		return "voyage"
	case strings.Contains(model, "nomic") || strings.Contains(model, "mxbai") || strings.Contains(model, "bge"):
		return "ollama"
	default:
		return "ollama"
	}
}
