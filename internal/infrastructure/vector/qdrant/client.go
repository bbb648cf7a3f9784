package qdrant

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

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// Client is the Qdrant adapter behind the vector index port. Collection
// resolution follows the tenant naming policy: a dedicated collection
// per tenant when configured, a shared one otherwise.
type Client struct {
	baseURL          string
	sharedCollection string
	collectionPrefix string
	httpClient       *http.Client
}

func New(baseURL, sharedCollection, collectionPrefix string) *Client {
	return &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		sharedCollection: sharedCollection,
		collectionPrefix: collectionPrefix,
		httpClient:       &http.Client{Timeout: 60 * time.Second},
	}
}

// CollectionFor resolves the tenant's active vector collection name.
func (c *Client) CollectionFor(tenant *domain.Tenant) string {
	if tenant != nil && tenant.DedicatedCollection {
		return c.collectionPrefix + strings.ReplaceAll(tenant.ID, "-", "")
	}
	return c.sharedCollection
}

// EnsureCollection pre-creates the collection with named dense and
// sparse vector spaces. A 409 means another worker created it first.
func (c *Client) EnsureCollection(ctx context.Context, tenant *domain.Tenant, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("invalid vector size %d", dims)
	}

	reqBody := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     dims,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}

	resp, err := c.do(ctx, http.MethodPut, "/collections/"+c.CollectionFor(tenant), reqBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	return checkStatus(resp, "ensure collection")
}

func (c *Client) UpsertChunks(ctx context.Context, tenant *domain.Tenant, records []domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  map[string]any `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(records))
	for _, rec := range records {
		vector := map[string]any{
			denseVectorName: rec.Dense,
		}
		if !rec.Sparse.Empty() {
			vector[sparseVectorName] = map[string]any{
				"indices": rec.Sparse.Indices,
				"values":  rec.Sparse.Values,
			}
		}
		points = append(points, point{
			ID:     rec.ChunkID,
			Vector: vector,
			Payload: map[string]any{
				"chunk_id":    rec.ChunkID,
				"document_id": rec.DocumentID,
				"tenant_id":   rec.TenantID,
				"content":     rec.Content,
				"chunk_index": rec.ChunkIndex,
			},
		})
	}

	resp, err := c.do(ctx, http.MethodPut,
		"/collections/"+c.CollectionFor(tenant)+"/points?wait=true",
		map[string]any{"points": points})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, "upsert points")
}

// Search returns the nearest neighbors within the tenant, excluding the
// given chunk itself.
func (c *Client) Search(
	ctx context.Context,
	tenant *domain.Tenant,
	vector []float32,
	limit int,
	excludeChunkID string,
) ([]domain.Neighbor, error) {
	filter := map[string]any{
		"must": []map[string]any{
			{"key": "tenant_id", "match": map[string]any{"value": tenant.ID}},
		},
	}
	if excludeChunkID != "" {
		filter["must_not"] = []map[string]any{
			{"key": "chunk_id", "match": map[string]any{"value": excludeChunkID}},
		}
	}

	reqBody := map[string]any{
		"vector": map[string]any{
			"name":   denseVectorName,
			"vector": vector,
		},
		"limit":        limit,
		"with_payload": true,
		"filter":       filter,
	}

	resp, err := c.do(ctx, http.MethodPost,
		"/collections/"+c.CollectionFor(tenant)+"/points/search", reqBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "search points"); err != nil {
		return nil, err
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.Neighbor, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.Neighbor{
			ChunkID:    payloadString(r.Payload, "chunk_id"),
			DocumentID: payloadString(r.Payload, "document_id"),
			Score:      r.Score,
		})
	}
	return out, nil
}

func (c *Client) DeleteByDocument(ctx context.Context, tenant *domain.Tenant, documentID string) error {
	reqBody := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "tenant_id", "match": map[string]any{"value": tenant.ID}},
				{"key": "document_id", "match": map[string]any{"value": documentID}},
			},
		},
	}

	resp, err := c.do(ctx, http.MethodPost,
		"/collections/"+c.CollectionFor(tenant)+"/points/delete?wait=true", reqBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, "delete points")
}

func (c *Client) DropCollection(ctx context.Context, tenant *domain.Tenant) error {
	resp, err := c.do(ctx, http.MethodDelete, "/collections/"+c.CollectionFor(tenant), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Dropping a collection that never existed is not a failure.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return checkStatus(resp, "drop collection")
}

// CollectionDimensions reports the dense vector size materialized in the
// tenant's collection, or 0 when the collection does not exist yet.
func (c *Client) CollectionDimensions(ctx context.Context, tenant *domain.Tenant) (int, error) {
	resp, err := c.do(ctx, http.MethodGet, "/collections/"+c.CollectionFor(tenant), nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if err := checkStatus(resp, "get collection"); err != nil {
		return 0, err
	}

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors map[string]struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, fmt.Errorf("decode collection info: %w", err)
	}
	return info.Result.Config.Params.Vectors[denseVectorName].Size, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal qdrant request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create qdrant request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant request: %w", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response, operation string) error {
	if resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, msg)
	}
	return fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
