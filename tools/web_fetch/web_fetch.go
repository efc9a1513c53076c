package web_fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/sitevox/sitevox/config"
	"github.com/sitevox/sitevox/tools/web_fetch/chromedp"
	"github.com/sitevox/sitevox/tools/web_fetch/models"
	"github.com/sitevox/sitevox/tools/web_fetch/remote"
)

const DefaultTimeout = 15 * time.Second

// WebFetcher fetches one page and extracts readable content plus the links
// found on it.
type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	RemoteFetcherType   FetcherType = "remote"
	ChromedpFetcherType FetcherType = "chromedp"
)

// NewWebFetcher builds the fetcher selected by crawl.fetcher. The remote
// fetcher delegates rendering and extraction to an external service; the
// chromedp fetcher renders locally in a headless browser.
func NewWebFetcher(cfg config.CrawlConfig) (WebFetcher, error) {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	switch FetcherType(cfg.Fetcher) {
	case RemoteFetcherType:
		if cfg.FetchServiceURL == "" {
			return nil, fmt.Errorf("crawl.fetch_service_url must be set for the remote fetcher")
		}
		return &remote.Fetch{BaseURL: cfg.FetchServiceURL, Timeout: timeout}, nil
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unsupported fetcher type: %q", cfg.Fetcher)
	}
}
