// Package worker orchestrates the full knowledge-base build for an agent:
// wipe, crawl, ingest, and the lifecycle status transitions around them.
// It runs either inline behind the API or as a stream-driven consumer.
package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/sitevox/sitevox/internal/crawl"
	"github.com/sitevox/sitevox/internal/ingest"
	"github.com/sitevox/sitevox/internal/store"
	otelmetric "go.opentelemetry.io/otel/metric"
)

const (
	// StreamCrawlRequested carries crawl job requests from the API to workers.
	StreamCrawlRequested = "knowledge.crawl"

	// EventCrawlRequested is the event type published on the stream.
	EventCrawlRequested = "knowledge.crawl.requested"

	// CrawlPayloadVersion versions the CrawlRequestedPayload shape.
	CrawlPayloadVersion = "v1"
)

// CrawlRequestedPayload mirrors the JSON payload published to knowledge.crawl.
type CrawlRequestedPayload struct {
	AgentID string `json:"agent_id"`
	SeedURL string `json:"seed_url"`
	PageCap int    `json:"page_cap"`
	Refresh bool   `json:"refresh,omitempty"`
}

// StoreAPI captures the store methods required by the pipeline.
type StoreAPI interface {
	SetAgentStatus(ctx context.Context, agentID, status, errMsg string) error
	DeleteAgentPages(ctx context.Context, agentID string) error
}

// Crawler walks a site and writes page rows.
type Crawler interface {
	Crawl(ctx context.Context, agentID, seedURL string, pageCap int) (crawl.Report, error)
}

// Ingestor drains pending pages into the vector index.
type Ingestor interface {
	ProcessPending(ctx context.Context, agentID string) (ingest.BatchReport, error)
}

// NamespaceWiper clears an agent's records from the vector index.
type NamespaceWiper interface {
	DeleteNamespace(ctx context.Context, namespace string) error
}

// KeywordDropper clears an agent's in-memory keyword index.
type KeywordDropper interface {
	Drop(namespace string)
}

// Pipeline runs one agent's knowledge-base build end to end.
type Pipeline struct {
	logger      *log.Logger
	store       StoreAPI
	crawler     Crawler
	ingestor    Ingestor
	wiper       NamespaceWiper
	keyword     KeywordDropper
	runCounter  otelmetric.Int64Counter
	pageCounter otelmetric.Int64Counter
}

// NewPipeline constructs a Pipeline. keyword may be nil; meter may be nil.
func NewPipeline(logger *log.Logger, st StoreAPI, crawler Crawler, ingestor Ingestor, wiper NamespaceWiper, keyword KeywordDropper, meter otelmetric.Meter) *Pipeline {
	p := &Pipeline{
		logger:   logger,
		store:    st,
		crawler:  crawler,
		ingestor: ingestor,
		wiper:    wiper,
		keyword:  keyword,
	}
	if meter != nil {
		var err error
		p.runCounter, err = meter.Int64Counter("worker_crawls_processed")
		if err != nil {
			logger.Printf("warn: create crawl counter failed: %v", err)
		}
		p.pageCounter, err = meter.Int64Counter("worker_pages_ingested")
		if err != nil {
			logger.Printf("warn: create page counter failed: %v", err)
		}
	}
	return p
}

// RunCrawl rebuilds the agent's knowledge base from seedURL. The old
// namespace and page rows are wiped before the first new upsert so a
// re-crawl can never serve a mix of old and new content.
func (p *Pipeline) RunCrawl(ctx context.Context, agentID, seedURL string, pageCap int) error {
	return p.run(ctx, agentID, seedURL, pageCap, true)
}

// RunRefresh re-crawls without the wipe. Unchanged pages are short-circuited
// by their content hash and changed pages overwrite their vector records by
// ID, so a refresh is cheap but cannot drop pages removed from the site; use
// RunCrawl for that.
func (p *Pipeline) RunRefresh(ctx context.Context, agentID, seedURL string, pageCap int) error {
	return p.run(ctx, agentID, seedURL, pageCap, false)
}

func (p *Pipeline) run(ctx context.Context, agentID, seedURL string, pageCap int, wipe bool) error {
	p.logger.Printf("crawl starting for agent %s from %s", agentID, seedURL)
	if p.runCounter != nil {
		p.runCounter.Add(ctx, 1)
	}

	if err := p.store.SetAgentStatus(ctx, agentID, store.AgentStatusCrawling, ""); err != nil {
		return fmt.Errorf("failed to set crawling status: %w", err)
	}

	if wipe {
		if err := p.wipe(ctx, agentID); err != nil {
			return p.fail(ctx, agentID, err)
		}
	}

	crawlReport, err := p.crawler.Crawl(ctx, agentID, seedURL, pageCap)
	if err != nil {
		return p.fail(ctx, agentID, fmt.Errorf("crawl failed: %w", err))
	}
	p.logger.Printf("crawl finished for agent %s: accepted=%d skipped=%d failed=%d",
		agentID, crawlReport.PagesAccepted, crawlReport.PagesSkipped, crawlReport.PagesFailed)

	if crawlReport.PagesAccepted == 0 {
		return p.fail(ctx, agentID, fmt.Errorf("no usable pages found at %s", seedURL))
	}

	if err := p.store.SetAgentStatus(ctx, agentID, store.AgentStatusProcessing, ""); err != nil {
		return fmt.Errorf("failed to set processing status: %w", err)
	}

	batch, err := p.ingestor.ProcessPending(ctx, agentID)
	if err != nil {
		return p.fail(ctx, agentID, fmt.Errorf("ingestion failed: %w", err))
	}
	p.logger.Printf("ingestion finished for agent %s: embedded=%d failed=%d chunks=%d",
		agentID, batch.Succeeded, batch.Failed, batch.ChunksCreated)
	if p.pageCounter != nil {
		p.pageCounter.Add(ctx, int64(batch.Succeeded))
	}

	// Pages short-circuited as unchanged never enter the pending set, so an
	// all-unchanged re-crawl legitimately embeds zero pages.
	if batch.Succeeded == 0 && crawlReport.PagesUnchanged == 0 {
		return p.fail(ctx, agentID, fmt.Errorf("all %d pages failed ingestion", batch.Failed))
	}

	if err := p.store.SetAgentStatus(ctx, agentID, store.AgentStatusReady, ""); err != nil {
		return fmt.Errorf("failed to set ready status: %w", err)
	}
	return nil
}

// wipe clears vector records, keyword index, and page rows for the agent.
func (p *Pipeline) wipe(ctx context.Context, agentID string) error {
	if err := p.wiper.DeleteNamespace(ctx, agentID); err != nil {
		return fmt.Errorf("failed to wipe vector namespace: %w", err)
	}
	if p.keyword != nil {
		p.keyword.Drop(agentID)
	}
	if err := p.store.DeleteAgentPages(ctx, agentID); err != nil {
		return fmt.Errorf("failed to wipe page rows: %w", err)
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, agentID string, cause error) error {
	p.logger.Printf("crawl for agent %s failed: %v", agentID, cause)
	if err := p.store.SetAgentStatus(ctx, agentID, store.AgentStatusError, cause.Error()); err != nil {
		p.logger.Printf("failed to record error status: %v", err)
	}
	return cause
}
