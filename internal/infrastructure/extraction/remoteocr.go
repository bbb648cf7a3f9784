package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

// RemoteOCRExtractor is the last-resort fallback: it posts the raw bytes
// to a remote OCR API. Config-gated because it is slow and metered.
type RemoteOCRExtractor struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewRemoteOCRExtractor(baseURL, apiKey string) *RemoteOCRExtractor {
	return &RemoteOCRExtractor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (e *RemoteOCRExtractor) Name() string { return "remote_ocr" }

func (e *RemoteOCRExtractor) Extract(ctx context.Context, data []byte, mimeType string) (domain.ExtractionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/ocr", bytes.NewReader(data))
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("create ocr request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return domain.ExtractionResult{}, fmt.Errorf("ocr status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var ocrResp struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ocrResp); err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("decode ocr response: %w", err)
	}

	text := strings.TrimSpace(ocrResp.Text)
	if text == "" {
		return domain.ExtractionResult{}, fmt.Errorf("ocr returned empty text")
	}

	confidence := ocrResp.Confidence
	if confidence == 0 {
		confidence = 0.5
	}
	return domain.ExtractionResult{
		Content:    text,
		Confidence: confidence,
		Metadata:   map[string]string{"ocr": "remote"},
	}, nil
}
