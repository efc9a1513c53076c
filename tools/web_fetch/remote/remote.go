// Package remote fetches pages through an external extraction service that
// renders the page and returns markdown plus discovered links.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sitevox/sitevox/tools/web_fetch/models"
)

type Fetch struct {
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

type extractRequest struct {
	URL string `json:"url"`
}

// extractResponse mirrors the service payload. Markdown arrives either as a
// plain string or as an object with raw_markdown and fit_markdown, depending
// on the service version, so it is decoded lazily.
type extractResponse struct {
	URL      string          `json:"url"`
	Title    string          `json:"title"`
	Markdown json.RawMessage `json:"markdown"`
	Links    struct {
		Internal []linkEntry `json:"internal"`
	} `json:"links"`
	Success bool   `json:"success"`
	Error   string `json:"error_message"`
}

// linkEntry tolerates both bare string links and {href, text} objects.
type linkEntry struct {
	Href string
}

func (l *linkEntry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		l.Href = s
		return nil
	}
	var obj struct {
		Href string `json:"href"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	l.Href = obj.Href
	return nil
}

type markdownObject struct {
	RawMarkdown string `json:"raw_markdown"`
	FitMarkdown string `json:"fit_markdown"`
}

// normalizeMarkdown resolves the duck-typed markdown field. The fit variant
// is preferred when present because it strips navigation chrome.
func normalizeMarkdown(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj markdownObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if strings.TrimSpace(obj.FitMarkdown) != "" {
		return obj.FitMarkdown
	}
	return obj.RawMarkdown
}

func (f *Fetch) Exec(ctx context.Context, pageURL string) (models.Result, error) {
	if strings.TrimSpace(pageURL) == "" {
		return models.Result{}, fmt.Errorf("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	body, err := json.Marshal(extractRequest{URL: pageURL})
	if err != nil {
		return models.Result{}, fmt.Errorf("failed to marshal extract request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(f.BaseURL, "/")+"/extract", bytes.NewReader(body))
	if err != nil {
		return models.Result{}, fmt.Errorf("failed to create extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := f.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: f.Timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Result{}, fmt.Errorf("extract request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return models.Result{}, fmt.Errorf("extract service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return models.Result{}, fmt.Errorf("failed to parse extract response: %w", err)
	}

	links := make([]string, 0, len(decoded.Links.Internal))
	for _, l := range decoded.Links.Internal {
		if l.Href != "" {
			links = append(links, l.Href)
		}
	}

	return models.Result{
		URL:           pageURL,
		Title:         strings.TrimSpace(decoded.Title),
		Markdown:      normalizeMarkdown(decoded.Markdown),
		InternalLinks: links,
		Success:       decoded.Success,
		Error:         decoded.Error,
		StatusCode:    resp.StatusCode,
		RenderMS:      int(time.Since(t0) / time.Millisecond),
	}, nil
}
