package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sitevox/sitevox/internal/crawl"
	"github.com/sitevox/sitevox/internal/ingest"
	"github.com/sitevox/sitevox/internal/queue/streams"
)

func crawlMessage(t *testing.T, eventType string, payload any) streams.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return streams.Message{
		ID: "1-0",
		Envelope: streams.Envelope{
			EventID:        "evt-1",
			EventType:      eventType,
			PayloadVersion: CrawlPayloadVersion,
			Data:           raw,
		},
	}
}

func TestHandleDispatchesCrawl(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	st := &stubStore{rec: rec}
	crawler := &stubCrawler{rec: rec, report: crawl.Report{PagesAccepted: 2}}
	ingestor := &stubIngestor{rec: rec, report: ingest.BatchReport{Succeeded: 2}}
	p := NewProcessor(newTestPipeline(st, crawler, ingestor, &stubWiper{rec: rec}), nil, "")

	msg := crawlMessage(t, EventCrawlRequested, CrawlRequestedPayload{
		AgentID: "agent-1",
		SeedURL: "https://example.com",
		PageCap: 5,
	})
	if err := p.handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	found := false
	for _, e := range rec.events {
		if e.kind == "wipe_vectors" {
			found = true
		}
	}
	if !found {
		t.Error("non-refresh request should wipe before crawling")
	}
}

func TestHandleRefreshSkipsWipe(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	st := &stubStore{rec: rec}
	crawler := &stubCrawler{rec: rec, report: crawl.Report{PagesAccepted: 2}}
	ingestor := &stubIngestor{rec: rec, report: ingest.BatchReport{Succeeded: 2}}
	p := NewProcessor(newTestPipeline(st, crawler, ingestor, &stubWiper{rec: rec}), nil, "")

	msg := crawlMessage(t, EventCrawlRequested, CrawlRequestedPayload{
		AgentID: "agent-1",
		SeedURL: "https://example.com",
		Refresh: true,
	})
	if err := p.handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	for _, e := range rec.events {
		if e.kind == "wipe_vectors" || e.kind == "delete_pages" {
			t.Errorf("refresh request triggered %s", e.kind)
		}
	}
}

func TestHandleRejectsMalformedMessages(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p := NewProcessor(newTestPipeline(
		&stubStore{rec: rec},
		&stubCrawler{rec: rec},
		&stubIngestor{rec: rec},
		&stubWiper{rec: rec},
	), nil, "")

	wrongType := crawlMessage(t, "knowledge.page.embedded", CrawlRequestedPayload{AgentID: "a", SeedURL: "https://example.com"})
	if err := p.handle(context.Background(), wrongType); err == nil {
		t.Error("expected error for unexpected event type")
	}

	missingSeed := crawlMessage(t, EventCrawlRequested, CrawlRequestedPayload{AgentID: "a"})
	if err := p.handle(context.Background(), missingSeed); err == nil {
		t.Error("expected error for missing seed_url")
	}
	if len(rec.events) != 0 {
		t.Errorf("rejected messages must not touch the pipeline, got %v", rec.events)
	}
}
