package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/sitevox/sitevox/config"
	"github.com/sitevox/sitevox/internal/store"
	"github.com/sitevox/sitevox/internal/vector"
	"github.com/sitevox/sitevox/provider"
	"github.com/sitevox/sitevox/utils"
)

// PageSource is the slice of the store the processor needs.
type PageSource interface {
	SelectPendingBatch(ctx context.Context, agentID string, limit int) ([]store.KnowledgePage, error)
	MarkEmbedded(ctx context.Context, pageID string, chunkCount int) error
	MarkError(ctx context.Context, pageID string, msg string) error
	UpdateAgentProgress(ctx context.Context, agentID string, pagesCrawled, pagesEmbedded, chunksCreated int) error
	CountPagesByStatus(ctx context.Context, agentID string) (map[string]int, error)
}

// ChunkIndexer receives chunk text for keyword indexing alongside the vector
// upsert. Optional; a nil indexer disables keyword indexing.
type ChunkIndexer interface {
	IndexChunk(namespace, id, text string) error
}

// PageOutcome reports what happened to one page.
type PageOutcome struct {
	PageID    string
	SourceURL string
	Chunks    int
	Err       error
}

// BatchReport summarises one ProcessPending run.
type BatchReport struct {
	Succeeded     int
	Failed        int
	ChunksCreated int
	Outcomes      []PageOutcome
}

// Processor drains pending pages for an agent: chunk, embed, upsert, mark.
// One page failing never aborts the batch; the page is marked error and the
// rest continue.
type Processor struct {
	logger   *log.Logger
	pages    PageSource
	embedder provider.Embedder
	index    vector.Index
	keyword  ChunkIndexer

	chunkMaxChars     int
	batchSize         int
	metadataTextLimit int
}

func NewProcessor(logger *log.Logger, pages PageSource, embedder provider.Embedder, index vector.Index, keyword ChunkIndexer, ingestCfg config.IngestConfig, vectorCfg config.VectorConfig) *Processor {
	return &Processor{
		logger:            logger,
		pages:             pages,
		embedder:          embedder,
		index:             index,
		keyword:           keyword,
		chunkMaxChars:     ingestCfg.ChunkMaxChars,
		batchSize:         ingestCfg.BatchSize,
		metadataTextLimit: vectorCfg.MetadataTextLimit,
	}
}

// ProcessPending loops over pending batches until none remain, updating the
// agent progress projection after every batch.
func (p *Processor) ProcessPending(ctx context.Context, agentID string) (BatchReport, error) {
	var report BatchReport
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		batch, err := p.pages.SelectPendingBatch(ctx, agentID, p.batchSize)
		if err != nil {
			return report, fmt.Errorf("failed to select pending batch: %w", err)
		}
		if len(batch) == 0 {
			return report, nil
		}

		for _, page := range batch {
			outcome := p.processPage(ctx, agentID, page)
			report.Outcomes = append(report.Outcomes, outcome)
			if outcome.Err != nil {
				report.Failed++
				p.logger.Printf("page %s failed: %v", page.SourceURL, outcome.Err)
				if markErr := p.pages.MarkError(ctx, page.ID, outcome.Err.Error()); markErr != nil {
					// An unmarked page stays pending and would be
					// re-selected forever; stop the run instead.
					return report, fmt.Errorf("failed to mark page %s as error: %w", page.ID, markErr)
				}
				continue
			}
			report.Succeeded++
			report.ChunksCreated += outcome.Chunks
		}

		if err := p.updateProgress(ctx, agentID, report.ChunksCreated); err != nil {
			p.logger.Printf("failed to update agent progress: %v", err)
		}
	}
}

func (p *Processor) processPage(ctx context.Context, agentID string, page store.KnowledgePage) PageOutcome {
	outcome := PageOutcome{PageID: page.ID, SourceURL: page.SourceURL}

	chunks := ChunkPage(page.ID, page.Title, page.Content, p.chunkMaxChars)
	if len(chunks) == 0 {
		outcome.Err = fmt.Errorf("page produced no chunks")
		return outcome
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vecs, err := p.embedder.Embed(ctx, texts, provider.EmbedModeDocument)
	if err != nil {
		outcome.Err = fmt.Errorf("embedding failed: %w", err)
		return outcome
	}
	if len(vecs) != len(chunks) {
		outcome.Err = fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(vecs))
		return outcome
	}

	records := make([]vector.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vector.Record{
			ID:     fmt.Sprintf("%s-%d", page.ID, c.Index),
			Values: vecs[i],
			Metadata: map[string]any{
				"agentId":       agentID,
				"sourceUrl":     page.SourceURL,
				"pageTitle":     page.Title,
				"chunkIndex":    c.Index,
				"sectionHeader": c.SectionHeader,
				"chunkType":     c.ChunkType,
				"text":          utils.Truncate(c.Text, p.metadataTextLimit),
			},
		}
	}

	if err := p.index.Upsert(ctx, agentID, records); err != nil {
		outcome.Err = fmt.Errorf("vector upsert failed: %w", err)
		return outcome
	}

	if p.keyword != nil {
		for i, c := range chunks {
			if err := p.keyword.IndexChunk(agentID, records[i].ID, c.Text); err != nil {
				p.logger.Printf("keyword indexing failed for %s: %v", records[i].ID, err)
			}
		}
	}

	if err := p.pages.MarkEmbedded(ctx, page.ID, len(chunks)); err != nil {
		outcome.Err = fmt.Errorf("failed to mark page embedded: %w", err)
		return outcome
	}

	outcome.Chunks = len(chunks)
	return outcome
}

func (p *Processor) updateProgress(ctx context.Context, agentID string, chunksCreated int) error {
	counts, err := p.pages.CountPagesByStatus(ctx, agentID)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return p.pages.UpdateAgentProgress(ctx, agentID, total, counts[store.PageStatusEmbedded], chunksCreated)
}
