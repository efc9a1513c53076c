package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sitevox/sitevox/config"
	"github.com/sitevox/sitevox/provider"
)

// PineconeIndex talks to a Pinecone-compatible data plane over REST.
type PineconeIndex struct {
	baseURL         string
	apiKey          string
	upsertBatchSize int
	httpClient      *http.Client
}

// NewPineconeIndex creates an index adapter from configuration. BaseURL is
// the per-index data-plane host, not the control plane.
func NewPineconeIndex(cfg config.VectorConfig) (*PineconeIndex, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vector.base_url must be set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PineconeIndex{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		upsertBatchSize: cfg.UpsertBatchSize,
		httpClient:      &http.Client{Timeout: timeout},
	}, nil
}

type pineconeVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Vectors   []pineconeVector `json:"vectors"`
	Namespace string           `json:"namespace"`
}

type queryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	Namespace       string    `json:"namespace"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
}

type deleteRequest struct {
	DeleteAll bool   `json:"deleteAll"`
	Namespace string `json:"namespace"`
}

// Upsert writes records in backend-sized batches. Batches already written
// stay written when a later batch fails; callers mark the page failed and
// retry the whole page, which overwrites by ID.
func (p *PineconeIndex) Upsert(ctx context.Context, namespace string, records []Record) error {
	if namespace == "" {
		return fmt.Errorf("upsert requires a namespace")
	}
	if len(records) == 0 {
		return nil
	}

	for start := 0; start < len(records); start += p.upsertBatchSize {
		end := start + p.upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		vectors := make([]pineconeVector, 0, end-start)
		for _, r := range records[start:end] {
			vectors = append(vectors, pineconeVector{ID: r.ID, Values: r.Values, Metadata: r.Metadata})
		}
		if err := p.doJSON(ctx, "/vectors/upsert", upsertRequest{Vectors: vectors, Namespace: namespace}, nil); err != nil {
			return fmt.Errorf("vector upsert failed: %w", err)
		}
	}
	return nil
}

// Query returns the topK nearest records in the namespace with metadata.
func (p *PineconeIndex) Query(ctx context.Context, namespace string, values []float32, topK int) ([]Match, error) {
	if namespace == "" {
		return nil, fmt.Errorf("query requires a namespace")
	}
	var decoded queryResponse
	err := p.doJSON(ctx, "/query", queryRequest{
		Vector:          values,
		TopK:            topK,
		Namespace:       namespace,
		IncludeMetadata: true,
	}, &decoded)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	matches := make([]Match, 0, len(decoded.Matches))
	for _, m := range decoded.Matches {
		matches = append(matches, Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	return matches, nil
}

// DeleteNamespace removes every record in the namespace. Deleting a
// namespace that does not exist is not an error.
func (p *PineconeIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	if namespace == "" {
		return fmt.Errorf("delete requires a namespace")
	}
	err := p.doJSON(ctx, "/vectors/delete", deleteRequest{DeleteAll: true, Namespace: namespace}, nil)
	if err != nil {
		var statusErr *provider.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("namespace delete failed: %w", err)
	}
	return nil
}

func (p *PineconeIndex) doJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return &provider.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
