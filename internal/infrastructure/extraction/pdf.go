package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

// PDFExtractor is the fast primary for application/pdf. It pulls the
// embedded text layer only; scanned PDFs come back empty and fall
// through to the layout/OCR fallbacks.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

func (e *PDFExtractor) Name() string { return "pdf_text" }

func (e *PDFExtractor) Extract(ctx context.Context, data []byte, _ string) (result domain.ExtractionResult, err error) {
	// The pdf package panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	pages := reader.NumPage()
	for pageNum := 1; pageNum <= pages; pageNum++ {
		if err := ctx.Err(); err != nil {
			return domain.ExtractionResult{}, err
		}
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n\n")
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return domain.ExtractionResult{}, fmt.Errorf("pdf has no extractable text layer (%d pages)", pages)
	}

	return domain.ExtractionResult{
		Content:    text,
		Confidence: 0.9,
		Metadata:   map[string]string{"pages": fmt.Sprintf("%d", pages)},
	}, nil
}
