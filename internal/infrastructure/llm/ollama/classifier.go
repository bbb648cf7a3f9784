package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// knownDomains keeps the classifier output aligned with the configured
// chunking profiles.
var knownDomains = []string{"legal", "financial", "scientific", "technical", "conversational", "general"}

// Classifier assigns a document to a chunking-profile domain. On any
// model failure it falls back to a keyword heuristic, so classification
// never blocks the pipeline.
type Classifier struct {
	client *Client
}

func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

func (c *Classifier) Classify(ctx context.Context, text string) (string, error) {
	raw, err := c.client.generateJSON(ctx, buildDomainPrompt(text), "classify")
	if err != nil {
		return heuristicDomain(text), nil
	}

	var result struct {
		Domain string `json:"domain"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &result); err != nil {
		return heuristicDomain(text), nil
	}

	domain := strings.ToLower(strings.TrimSpace(result.Domain))
	for _, known := range knownDomains {
		if domain == known {
			return domain, nil
		}
	}
	return "general", nil
}

func buildDomainPrompt(text string) string {
	const maxSnippet = 4000
	snippet := text
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}

	return fmt.Sprintf(`You are a document domain classifier.
Return a strict JSON object with one key: domain.
The value must be one of: %s.
No markdown, no extra keys.

Document:
%s`, strings.Join(knownDomains, ", "), snippet)
}

func heuristicDomain(text string) string {
	sample := strings.ToLower(text)
	if len(sample) > 8000 {
		sample = sample[:8000]
	}

	scores := map[string]int{}
	for domain, markers := range domainMarkers {
		for _, marker := range markers {
			scores[domain] += strings.Count(sample, marker)
		}
	}

	best, bestScore := "general", 2
	for domain, score := range scores {
		if score > bestScore {
			best, bestScore = domain, score
		}
	}
	return best
}

var domainMarkers = map[string][]string{
	"legal":      {"hereinafter", "whereas", "pursuant", "clause", "agreement", "liability"},
	"financial":  {"fiscal", "revenue", "balance sheet", "ebitda", "quarter", "dividend"},
	"scientific": {"abstract", "hypothesis", "methodology", "et al", "figure", "dataset"},
	"technical":  {"func ", "class ", "install", "configure", "api", "endpoint"},
}
