package retrieval

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sitevox/sitevox/config"
	"github.com/sitevox/sitevox/internal/vector"
	"github.com/sitevox/sitevox/provider"
)

// RetrievalChunk is one retrieved passage with its provenance.
type RetrievalChunk struct {
	Text          string  `json:"text"`
	SourceURL     string  `json:"source_url"`
	PageTitle     string  `json:"page_title"`
	SectionHeader string  `json:"section_header,omitempty"`
	Score         float64 `json:"score"`
}

// Result is the outcome of one retrieval. Chunks holds what passed the
// relevance gate; AllChunks holds the fallback pool, the top candidates by
// vector score with no floor applied. Empty Chunks alongside a populated
// AllChunks means the gate rejected everything, which is an answerable
// "not covered", not an error.
type Result struct {
	Chunks          []RetrievalChunk `json:"chunks"`
	AllChunks       []RetrievalChunk `json:"all_chunks"`
	RetrievalTimeMS int64            `json:"retrieval_time_ms"`
}

// KeywordSearcher is the optional keyword-boost hook.
type KeywordSearcher interface {
	Search(namespace, query string, limit int) ([]string, error)
}

// Retriever runs the two-stage pipeline: expand the query, embed the
// variants in one batch, fan out vector queries, fuse by max score, then
// rerank the survivors and gate on reranker relevance.
type Retriever struct {
	logger   *log.Logger
	embedder provider.Embedder
	index    vector.Index
	reranker provider.Reranker
	keyword  KeywordSearcher
	cfg      config.RetrievalConfig
}

func NewRetriever(logger *log.Logger, embedder provider.Embedder, index vector.Index, reranker provider.Reranker, keyword KeywordSearcher, cfg config.RetrievalConfig) *Retriever {
	return &Retriever{
		logger:   logger,
		embedder: embedder,
		index:    index,
		reranker: reranker,
		keyword:  keyword,
		cfg:      cfg,
	}
}

type candidate struct {
	id    string
	score float64
	chunk RetrievalChunk
}

// Retrieve answers query against the agent's namespace. topK <= 0 falls back
// to the configured default.
func (r *Retriever) Retrieve(ctx context.Context, agentID, query string, topK int) (Result, error) {
	start := time.Now()
	if topK <= 0 {
		topK = r.cfg.DefaultTopK
	}

	variants := ExpandQuery(query, r.cfg.MaxVariants)
	if len(variants) == 0 {
		return Result{}, fmt.Errorf("empty query")
	}

	vecs, err := r.embedder.Embed(ctx, variants, provider.EmbedModeQuery)
	if err != nil {
		return Result{}, fmt.Errorf("query embedding failed: %w", err)
	}
	if len(vecs) != len(variants) {
		return Result{}, fmt.Errorf("embedding count mismatch: %d variants, %d vectors", len(variants), len(vecs))
	}

	fused, err := r.fanOut(ctx, agentID, vecs)
	if err != nil {
		return Result{}, err
	}
	if len(fused) == 0 {
		return Result{RetrievalTimeMS: time.Since(start).Milliseconds()}, nil
	}

	r.applyKeywordBoost(agentID, query, fused)

	ranked := make([]candidate, 0, len(fused))
	for _, c := range fused {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})

	// The fallback pool is the top candidates by score with no floor
	// applied; it is what the caller gets as AllChunks either way.
	poolSize := r.cfg.FallbackPoolSize
	if poolSize > len(ranked) {
		poolSize = len(ranked)
	}
	pool := ranked[:poolSize]

	// Pre-filter on the vector floor; the unfiltered pool feeds the
	// reranker when the floor rejects everything.
	filtered := make([]candidate, 0, len(ranked))
	for _, c := range ranked {
		if c.score >= r.cfg.VectorFloor {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) > r.cfg.CandidateCap {
		filtered = filtered[:r.cfg.CandidateCap]
	}
	if len(filtered) == 0 {
		filtered = pool
	}

	all := make([]RetrievalChunk, len(pool))
	for i, c := range pool {
		all[i] = c.chunk
	}

	chunks, err := r.rerank(ctx, query, filtered, topK)
	if err != nil {
		r.logger.Printf("reranker unavailable, degrading to vector scores: %v", err)
		chunks = vectorFallback(filtered, r.cfg.RerankFailFloor, topK)
	}

	return Result{
		Chunks:          chunks,
		AllChunks:       all,
		RetrievalTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

// fanOut queries the index once per variant vector concurrently and fuses
// the matches by id, keeping the best score seen for each chunk.
func (r *Retriever) fanOut(ctx context.Context, agentID string, vecs [][]float32) (map[string]candidate, error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		fused    = map[string]candidate{}
	)

	for _, vec := range vecs {
		wg.Add(1)
		go func(values []float32) {
			defer wg.Done()
			matches, err := r.index.Query(ctx, agentID, values, r.cfg.CandidatePoolSize)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			for _, m := range matches {
				existing, ok := fused[m.ID]
				if ok && existing.score >= m.Score {
					continue
				}
				fused[m.ID] = candidate{id: m.ID, score: m.Score, chunk: chunkFromMatch(m)}
			}
		}(vec)
	}
	wg.Wait()

	// Any variant failing fails the whole retrieval; the caller gets an
	// error, never a silently thinner candidate set.
	if firstErr != nil {
		return nil, fmt.Errorf("vector query failed: %w", firstErr)
	}
	return fused, nil
}

func (r *Retriever) applyKeywordBoost(agentID, query string, fused map[string]candidate) {
	if r.keyword == nil || r.cfg.KeywordBoost <= 0 {
		return
	}
	ids, err := r.keyword.Search(agentID, query, r.cfg.CandidateCap)
	if err != nil {
		r.logger.Printf("keyword search failed: %v", err)
		return
	}
	for _, id := range ids {
		if c, ok := fused[id]; ok {
			c.score += r.cfg.KeywordBoost
			fused[id] = c
		}
	}
}

func (r *Retriever) rerank(ctx context.Context, query string, candidates []candidate, topK int) ([]RetrievalChunk, error) {
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.chunk.Text
	}

	results, err := r.reranker.Rerank(ctx, query, docs, topK)
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].Index < results[j].Index
	})

	chunks := make([]RetrievalChunk, 0, topK)
	for _, res := range results {
		if res.RelevanceScore < r.cfg.RerankFloor {
			continue
		}
		chunk := candidates[res.Index].chunk
		chunk.Score = res.RelevanceScore
		chunks = append(chunks, chunk)
		if len(chunks) >= topK {
			break
		}
	}
	return chunks, nil
}

// vectorFallback gates on the raw vector score when the reranker is down.
// The floor is stricter than the pre-filter floor because vector similarity
// alone is a weaker relevance signal.
func vectorFallback(candidates []candidate, floor float64, topK int) []RetrievalChunk {
	chunks := make([]RetrievalChunk, 0, topK)
	for _, c := range candidates {
		if c.score < floor {
			continue
		}
		chunks = append(chunks, c.chunk)
		if len(chunks) >= topK {
			break
		}
	}
	return chunks
}

func chunkFromMatch(m vector.Match) RetrievalChunk {
	chunk := RetrievalChunk{Score: m.Score}
	if s, ok := m.Metadata["text"].(string); ok {
		chunk.Text = s
	}
	if s, ok := m.Metadata["sourceUrl"].(string); ok {
		chunk.SourceURL = s
	}
	if s, ok := m.Metadata["pageTitle"].(string); ok {
		chunk.PageTitle = s
	}
	if s, ok := m.Metadata["sectionHeader"].(string); ok {
		chunk.SectionHeader = s
	}
	return chunk
}
