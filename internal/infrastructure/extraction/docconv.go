package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

// DocconvExtractor wraps docconv. With readability enabled it acts as
// the layout-aware PDF fallback; without it it is the catch-all for
// office formats the dedicated extractors do not cover.
type DocconvExtractor struct {
	name           string
	useReadability bool
}

func NewDocconvExtractor(name string, useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{name: name, useReadability: useReadability}
}

func (e *DocconvExtractor) Name() string { return e.name }

func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, mimeType string) (domain.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ExtractionResult{}, err
	}

	res, err := docconv.Convert(bytes.NewReader(data), mimeType, e.useReadability)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("docconv convert (%s): %w", mimeType, err)
	}

	text := strings.TrimSpace(res.Body)
	if text == "" {
		return domain.ExtractionResult{}, fmt.Errorf("docconv produced empty text for %s", mimeType)
	}

	metadata := make(map[string]string, len(res.Meta))
	for k, v := range res.Meta {
		metadata[k] = v
	}

	return domain.ExtractionResult{
		Content:    text,
		Metadata:   metadata,
		Confidence: 0.8,
	}, nil
}
