package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

// SpreadsheetExtractor flattens workbook sheets into tab-separated text
// and keeps the raw rows as tables for downstream consumers.
type SpreadsheetExtractor struct{}

func NewSpreadsheetExtractor() *SpreadsheetExtractor { return &SpreadsheetExtractor{} }

func (e *SpreadsheetExtractor) Name() string { return "spreadsheet" }

func (e *SpreadsheetExtractor) Extract(ctx context.Context, data []byte, _ string) (domain.ExtractionResult, error) {
	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("open workbook: %w", err)
	}
	defer workbook.Close()

	var sb strings.Builder
	var tables []domain.Table

	for _, sheet := range workbook.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return domain.ExtractionResult{}, err
		}
		rows, err := workbook.GetRows(sheet)
		if err != nil {
			return domain.ExtractionResult{}, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}

		sb.WriteString("## " + sheet + "\n\n")
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
		tables = append(tables, domain.Table{Name: sheet, Rows: rows})
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return domain.ExtractionResult{}, fmt.Errorf("workbook has no populated sheets")
	}

	return domain.ExtractionResult{
		Content:    text,
		Tables:     tables,
		Confidence: 0.92,
		Metadata:   map[string]string{"sheets": fmt.Sprintf("%d", len(tables))},
	}, nil
}
