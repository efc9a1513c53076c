// Package voyage_provider implements the embedding provider against the
// Voyage AI REST API.
package voyage_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sitevox/sitevox/config"
	"github.com/sitevox/sitevox/provider"
)

const defaultBaseURL = "https://api.voyageai.com/v1"

// Client calls the Voyage embeddings endpoint. It is the engine's embedding
// batcher: callers hand it any number of texts and it splits them into
// provider-sized requests, re-sorting each response by the returned index
// because the provider does not guarantee submission order.
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	maxBatchSize int
	httpClient   *http.Client
}

// NewClient creates an embedding client from configuration.
func NewClient(cfg config.EmbeddingConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		maxBatchSize: cfg.MaxBatchSize,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	InputType string   `json:"input_type"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed implements provider.Embedder. A failure in any batch aborts the whole
// call; partial results are never returned, so the caller can safely assume
// output[i] corresponds to input[i] on success.
func (c *Client) Embed(ctx context.Context, texts []string, mode provider.EmbedMode) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.maxBatchSize {
		end := start + c.maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.embedBatch(ctx, texts[start:end], mode)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string, mode provider.EmbedMode) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model:     c.model,
		Input:     batch,
		InputType: string(mode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &provider.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to parse embed response: %w", err)
	}
	if len(decoded.Data) != len(batch) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(batch), len(decoded.Data))
	}

	sort.Slice(decoded.Data, func(i, j int) bool { return decoded.Data[i].Index < decoded.Data[j].Index })

	vecs := make([][]float32, len(decoded.Data))
	for i, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(batch) {
			return nil, fmt.Errorf("embedding index %d out of range for batch of %d", d.Index, len(batch))
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
