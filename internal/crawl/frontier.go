// Package crawl walks a website breadth-first from a seed URL and writes
// accepted pages into the store for ingestion to pick up.
package crawl

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/sitevox/sitevox/config"
	"github.com/sitevox/sitevox/internal/helpers"
	"github.com/sitevox/sitevox/tools/web_fetch"
)

// PageWriter is the slice of the store the frontier needs.
type PageWriter interface {
	UpsertPage(ctx context.Context, agentID, sourceURL, title, content, contentHash string, skipUnchanged bool) (string, bool, error)
}

// Report summarises one crawl.
type Report struct {
	PagesAccepted  int
	PagesSkipped   int
	PagesFailed    int
	PagesUnchanged int
}

// Frontier runs a bounded breadth-first crawl. Pages shorter than the
// content gate are skipped but their links still feed the queue, so thin
// index pages do not strand a site.
type Frontier struct {
	logger  *log.Logger
	fetcher web_fetch.WebFetcher
	writer  PageWriter

	pageCap         int
	minContentChars int
	skipUnchanged   bool
}

func NewFrontier(logger *log.Logger, fetcher web_fetch.WebFetcher, writer PageWriter, crawlCfg config.CrawlConfig, ingestCfg config.IngestConfig) *Frontier {
	return &Frontier{
		logger:          logger,
		fetcher:         fetcher,
		writer:          writer,
		pageCap:         crawlCfg.PageCap,
		minContentChars: crawlCfg.MinContentChars,
		skipUnchanged:   !ingestCfg.ReembedUnchanged,
	}
}

// Crawl walks the site from seedURL until the accepted-page cap is reached
// or the frontier drains. pageCap <= 0 uses the configured default. Fetch
// failures are logged and skipped; only an unusable seed is an error.
func (f *Frontier) Crawl(ctx context.Context, agentID, seedURL string, pageCap int) (Report, error) {
	var report Report
	if pageCap <= 0 {
		pageCap = f.pageCap
	}

	seed, err := helpers.CanonicalPageURL(seedURL)
	if err != nil {
		return report, fmt.Errorf("invalid seed url: %w", err)
	}
	if !helpers.IsPublicURL(seed) {
		return report, fmt.Errorf("seed url is not publicly routable: %s", seedURL)
	}

	visited := map[string]bool{seed: true}
	queue := []string{seed}

	for len(queue) > 0 && report.PagesAccepted < pageCap {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		current := queue[0]
		queue = queue[1:]

		result, err := f.fetcher.Exec(ctx, current)
		if err != nil {
			report.PagesFailed++
			f.logger.Printf("fetch failed for %s: %v", current, err)
			continue
		}
		if !result.Success {
			report.PagesFailed++
			f.logger.Printf("fetch unsuccessful for %s: %s", current, result.Error)
			continue
		}

		content := strings.TrimSpace(result.Markdown)
		if len(content) >= f.minContentChars {
			_, unchanged, err := f.writer.UpsertPage(ctx, agentID, current, result.Title, content, helpers.ContentHash(content), f.skipUnchanged)
			if err != nil {
				report.PagesFailed++
				f.logger.Printf("failed to persist %s: %v", current, err)
			} else {
				report.PagesAccepted++
				if unchanged {
					report.PagesUnchanged++
				}
			}
		} else {
			report.PagesSkipped++
		}

		for _, link := range helpers.FilterInternalLinks(current, result.InternalLinks) {
			if visited[link] {
				continue
			}
			visited[link] = true
			queue = append(queue, link)
		}
	}

	return report, nil
}
