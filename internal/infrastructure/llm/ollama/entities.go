package ollama

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

// EntityExtractor pulls entities and directed relations from one chunk
// of text.
type EntityExtractor struct {
	client *Client
}

func NewEntityExtractor(client *Client) *EntityExtractor {
	return &EntityExtractor{client: client}
}

func (e *EntityExtractor) Extract(ctx context.Context, text string) ([]domain.Entity, []domain.Relation, error) {
	raw, err := e.client.generateJSON(ctx, buildEntityPrompt(text), "extract_entities")
	if err != nil {
		return nil, nil, err
	}

	var result struct {
		Entities []struct {
			Name        string `json:"name"`
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"entities"`
		Relations []struct {
			Source      string `json:"source"`
			Target      string `json:"target"`
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"relations"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &result); err != nil {
		return nil, nil, fmt.Errorf("parse entity json: %w", err)
	}

	entities := make([]domain.Entity, 0, len(result.Entities))
	for _, ent := range result.Entities {
		if ent.Name == "" {
			continue
		}
		entities = append(entities, domain.Entity{
			Name:        ent.Name,
			Type:        ent.Type,
			Description: ent.Description,
		})
	}

	relations := make([]domain.Relation, 0, len(result.Relations))
	for _, rel := range result.Relations {
		if rel.Source == "" || rel.Target == "" {
			continue
		}
		relations = append(relations, domain.Relation{
			Source:      rel.Source,
			Target:      rel.Target,
			Type:        rel.Type,
			Description: rel.Description,
			Weight:      1,
		})
	}

	return entities, relations, nil
}

func buildEntityPrompt(text string) string {
	const maxSnippet = 6000
	snippet := text
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}

	return `You extract knowledge graph data.
Return a strict JSON object with keys:
entities (array of {name, type, description}),
relations (array of {source, target, type, description}).
Entity types: person, organization, location, concept, product, event.
No markdown, no extra keys.

Text:
` + snippet
}
