package extraction

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

// PlaintextExtractor handles text-native formats. It refuses binary
// payloads so the chain falls through to a heavier extractor.
type PlaintextExtractor struct{}

func NewPlaintextExtractor() *PlaintextExtractor { return &PlaintextExtractor{} }

func (e *PlaintextExtractor) Name() string { return "plaintext" }

func (e *PlaintextExtractor) Extract(_ context.Context, data []byte, _ string) (domain.ExtractionResult, error) {
	if !utf8.Valid(data) {
		return domain.ExtractionResult{}, fmt.Errorf("payload is not valid utf-8 text")
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return domain.ExtractionResult{}, fmt.Errorf("empty text payload")
	}

	return domain.ExtractionResult{
		Content:    text,
		Confidence: 0.98,
		Metadata:   map[string]string{"bytes": fmt.Sprintf("%d", len(data))},
	}, nil
}
