package ollama

import (
	"context"
	"encoding/json"
	"fmt"
)

// Enricher produces the document-level summary, keywords, and hashtags.
// Callers treat failures as non-fatal.
type Enricher struct {
	client *Client
}

func NewEnricher(client *Client) *Enricher {
	return &Enricher{client: client}
}

func (e *Enricher) Enrich(ctx context.Context, text string) (string, []string, []string, error) {
	raw, err := e.client.generateJSON(ctx, buildEnrichmentPrompt(text), "enrich")
	if err != nil {
		return "", nil, nil, err
	}

	var result struct {
		Summary  string   `json:"summary"`
		Keywords []string `json:"keywords"`
		Hashtags []string `json:"hashtags"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &result); err != nil {
		return "", nil, nil, fmt.Errorf("parse enrichment json: %w", err)
	}
	return result.Summary, result.Keywords, result.Hashtags, nil
}

func buildEnrichmentPrompt(text string) string {
	const maxSnippet = 8000
	snippet := text
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}

	return `You summarize documents for a search index.
Return a strict JSON object with keys:
summary (string, at most 3 sentences),
keywords (array of at most 10 strings),
hashtags (array of at most 5 strings, each starting with #).
No markdown, no extra keys.

Document:
` + snippet
}
