package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sitevox/sitevox/internal/queue/streams"
)

// Processor consumes crawl requests from the knowledge.crawl stream and runs
// them through the pipeline. Each message is acked after handling, success or
// not; a failed crawl is recorded on the agent projection, not retried by
// redelivery.
type Processor struct {
	pipeline *Pipeline
	consumer *streams.Consumer
	stream   string
}

func NewProcessor(pipeline *Pipeline, consumer *streams.Consumer, stream string) *Processor {
	if stream == "" {
		stream = StreamCrawlRequested
	}
	return &Processor{pipeline: pipeline, consumer: consumer, stream: stream}
}

// Start blocks, continuously processing crawl requests until the context is
// cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.pipeline.logger.Printf("worker starting; consuming stream %s", p.stream)

	for {
		select {
		case <-ctx.Done():
			p.pipeline.logger.Printf("worker stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := p.consumer.Read(ctx, p.stream, streams.WithBlock(5*time.Second), streams.WithCount(4))
		if err != nil {
			p.pipeline.logger.Printf("error reading stream: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			if err := p.handle(ctx, msg); err != nil {
				p.pipeline.logger.Printf("error handling message %s: %v", msg.ID, err)
			}
			if err := p.consumer.Ack(ctx, p.stream, msg.ID); err != nil {
				p.pipeline.logger.Printf("error acking message %s: %v", msg.ID, err)
			}
		}
	}
}

func (p *Processor) handle(ctx context.Context, msg streams.Message) error {
	if msg.Envelope.EventType != EventCrawlRequested {
		return fmt.Errorf("unexpected event type %q", msg.Envelope.EventType)
	}

	var payload CrawlRequestedPayload
	if err := json.Unmarshal(msg.Envelope.Data, &payload); err != nil {
		return fmt.Errorf("failed to decode crawl payload: %w", err)
	}
	if payload.AgentID == "" || payload.SeedURL == "" {
		return fmt.Errorf("crawl payload missing agent_id or seed_url")
	}

	if payload.Refresh {
		return p.pipeline.RunRefresh(ctx, payload.AgentID, payload.SeedURL, payload.PageCap)
	}
	return p.pipeline.RunCrawl(ctx, payload.AgentID, payload.SeedURL, payload.PageCap)
}
