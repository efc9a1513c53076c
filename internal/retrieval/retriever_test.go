package retrieval

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/sitevox/sitevox/config"
	"github.com/sitevox/sitevox/internal/vector"
	"github.com/sitevox/sitevox/provider"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, texts []string, mode provider.EmbedMode) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(i)}
	}
	return vecs, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, texts []string, mode provider.EmbedMode) ([][]float32, error) {
	return nil, errors.New("provider down")
}

// stubIndex returns canned matches keyed by the variant vector's first value.
type stubIndex struct {
	matchesByVariant map[int][]vector.Match
}

func (s *stubIndex) Query(ctx context.Context, namespace string, values []float32, topK int) ([]vector.Match, error) {
	return s.matchesByVariant[int(values[0])], nil
}

func (s *stubIndex) Upsert(ctx context.Context, namespace string, records []vector.Record) error {
	return nil
}

func (s *stubIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	return nil
}

type stubReranker struct {
	scores []float64 // score for document i
	err    error
}

func (s *stubReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]provider.RerankResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	results := make([]provider.RerankResult, 0, len(documents))
	for i := range documents {
		score := 0.0
		if i < len(s.scores) {
			score = s.scores[i]
		}
		results = append(results, provider.RerankResult{Index: i, RelevanceScore: score})
	}
	return results, nil
}

func match(id, text string, score float64) vector.Match {
	return vector.Match{
		ID:    id,
		Score: score,
		Metadata: map[string]any{
			"text":      text,
			"sourceUrl": "https://example.com/" + id,
			"pageTitle": "Page " + id,
		},
	}
}

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		CandidatePoolSize: 10,
		CandidateCap:      15,
		FallbackPoolSize:  5,
		MaxVariants:       3,
		VectorFloor:       0.25,
		RerankFloor:       0.5,
		RerankFailFloor:   0.4,
		DefaultTopK:       4,
	}
}

func newTestRetriever(idx vector.Index, reranker provider.Reranker, cfg config.RetrievalConfig) *Retriever {
	return NewRetriever(log.New(io.Discard, "", 0), stubEmbedder{}, idx, reranker, nil, cfg)
}

func TestRetrieveFusesByMaxScore(t *testing.T) {
	t.Parallel()

	// The same chunk comes back from two variants with different scores;
	// fusion must keep the higher one.
	idx := &stubIndex{matchesByVariant: map[int][]vector.Match{
		0: {match("c1", "refunds within 30 days", 0.6)},
		1: {match("c1", "refunds within 30 days", 0.8), match("c2", "shipping times", 0.5)},
	}}
	rr := &stubReranker{scores: []float64{0.9, 0.7}}

	res, err := newTestRetriever(idx, rr, testRetrievalConfig()).
		Retrieve(context.Background(), "agent-1", "refund policy", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.AllChunks) != 2 {
		t.Fatalf("all chunks = %+v", res.AllChunks)
	}
	if res.AllChunks[0].Score != 0.8 {
		t.Errorf("fused score = %v, want max 0.8", res.AllChunks[0].Score)
	}
}

func TestRetrieveGateRejectsEverything(t *testing.T) {
	t.Parallel()

	idx := &stubIndex{matchesByVariant: map[int][]vector.Match{
		0: {match("c1", "something vaguely related", 0.3)},
	}}
	rr := &stubReranker{scores: []float64{0.1}} // below the 0.5 gate

	res, err := newTestRetriever(idx, rr, testRetrievalConfig()).
		Retrieve(context.Background(), "agent-1", "unrelated question", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Chunks) != 0 {
		t.Errorf("chunks = %+v, want gated empty", res.Chunks)
	}
	if len(res.AllChunks) == 0 {
		t.Error("all chunks should still carry the candidate pool")
	}
}

func TestRetrieveVectorFloorUsesFallbackPool(t *testing.T) {
	t.Parallel()

	// Every match is under the 0.25 floor; the fallback pool still feeds the
	// reranker instead of returning nothing.
	idx := &stubIndex{matchesByVariant: map[int][]vector.Match{
		0: {
			match("c1", "weak match one", 0.2),
			match("c2", "weak match two", 0.15),
		},
	}}
	rr := &stubReranker{scores: []float64{0.85, 0.1}}

	res, err := newTestRetriever(idx, rr, testRetrievalConfig()).
		Retrieve(context.Background(), "agent-1", "niche question", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Chunks) != 1 {
		t.Fatalf("chunks = %+v", res.Chunks)
	}
	if res.Chunks[0].Text != "weak match one" {
		t.Errorf("chunk = %+v", res.Chunks[0])
	}
	if res.Chunks[0].Score != 0.85 {
		t.Errorf("score = %v, want reranker score", res.Chunks[0].Score)
	}
}

func TestRetrieveAllChunksKeepsBelowFloorCandidates(t *testing.T) {
	t.Parallel()

	// One candidate clears the 0.25 floor, one does not; the fallback pool
	// carries both so the caller can degrade gracefully.
	idx := &stubIndex{matchesByVariant: map[int][]vector.Match{
		0: {
			match("c1", "strong match", 0.6),
			match("c2", "barely related", 0.1),
		},
	}}
	rr := &stubReranker{scores: []float64{0.9}}

	res, err := newTestRetriever(idx, rr, testRetrievalConfig()).
		Retrieve(context.Background(), "agent-1", "a question", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.AllChunks) != 2 {
		t.Fatalf("all chunks = %+v, want both candidates regardless of floor", res.AllChunks)
	}
	if res.AllChunks[0].Text != "strong match" || res.AllChunks[1].Text != "barely related" {
		t.Errorf("all chunks order = %+v", res.AllChunks)
	}
	// The floor still keeps the weak candidate out of the reranker input.
	if len(res.Chunks) != 1 || res.Chunks[0].Text != "strong match" {
		t.Errorf("chunks = %+v", res.Chunks)
	}
}

func TestRetrieveRerankerFailureFallsBackToVectorScores(t *testing.T) {
	t.Parallel()

	idx := &stubIndex{matchesByVariant: map[int][]vector.Match{
		0: {
			match("c1", "strong match", 0.7),
			match("c2", "middling match", 0.3), // under the 0.4 fail floor
		},
	}}
	rr := &stubReranker{err: errors.New("rerank service down")}

	res, err := newTestRetriever(idx, rr, testRetrievalConfig()).
		Retrieve(context.Background(), "agent-1", "a question", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v (reranker failure must degrade, not fail)", err)
	}
	if len(res.Chunks) != 1 {
		t.Fatalf("chunks = %+v", res.Chunks)
	}
	if res.Chunks[0].Text != "strong match" {
		t.Errorf("chunk = %+v", res.Chunks[0])
	}
}

func TestRetrieveHonoursTopK(t *testing.T) {
	t.Parallel()

	var matches []vector.Match
	scores := make([]float64, 0, 8)
	for i := 0; i < 8; i++ {
		matches = append(matches, match(string(rune('a'+i)), "chunk", 0.9))
		scores = append(scores, 0.9)
	}
	idx := &stubIndex{matchesByVariant: map[int][]vector.Match{0: matches}}
	rr := &stubReranker{scores: scores}

	res, err := newTestRetriever(idx, rr, testRetrievalConfig()).
		Retrieve(context.Background(), "agent-1", "popular topic", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Chunks) != 2 {
		t.Errorf("got %d chunks, want topK=2", len(res.Chunks))
	}
}

func TestRetrieveEmptyNamespace(t *testing.T) {
	t.Parallel()

	idx := &stubIndex{matchesByVariant: map[int][]vector.Match{}}
	rr := &stubReranker{}

	res, err := newTestRetriever(idx, rr, testRetrievalConfig()).
		Retrieve(context.Background(), "agent-1", "anything", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Chunks) != 0 || len(res.AllChunks) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestRetrieveIsDeterministic(t *testing.T) {
	t.Parallel()

	idx := &stubIndex{matchesByVariant: map[int][]vector.Match{
		0: {match("c1", "refunds within 30 days", 0.7), match("c2", "shipping times", 0.6)},
		1: {match("c3", "return labels", 0.5)},
	}}
	rr := &stubReranker{scores: []float64{0.9, 0.8, 0.6}}
	r := newTestRetriever(idx, rr, testRetrievalConfig())

	first, err := r.Retrieve(context.Background(), "agent-1", "refund policy", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	second, err := r.Retrieve(context.Background(), "agent-1", "refund policy", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if len(first.Chunks) != len(second.Chunks) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first.Chunks), len(second.Chunks))
	}
	for i := range first.Chunks {
		if first.Chunks[i].Text != second.Chunks[i].Text || first.Chunks[i].Score != second.Chunks[i].Score {
			t.Errorf("chunk %d differs: %+v vs %+v", i, first.Chunks[i], second.Chunks[i])
		}
	}
}

// flakyIndex fails queries for one variant and answers the rest.
type flakyIndex struct {
	stubIndex
	failVariant int
}

func (f *flakyIndex) Query(ctx context.Context, namespace string, values []float32, topK int) ([]vector.Match, error) {
	if int(values[0]) == f.failVariant {
		return nil, errors.New("index shard unavailable")
	}
	return f.stubIndex.Query(ctx, namespace, values, topK)
}

func TestRetrieveVariantQueryFailureIsError(t *testing.T) {
	t.Parallel()

	// One variant succeeds, another fails; the result must be an error, not
	// a quietly smaller candidate set.
	idx := &flakyIndex{
		stubIndex: stubIndex{matchesByVariant: map[int][]vector.Match{
			0: {match("c1", "refunds within 30 days", 0.7)},
		}},
		failVariant: 1,
	}
	rr := &stubReranker{scores: []float64{0.9}}

	_, err := newTestRetriever(idx, rr, testRetrievalConfig()).
		Retrieve(context.Background(), "agent-1", "refund policy", 4)
	if err == nil {
		t.Fatal("expected error when a variant's vector query fails")
	}
}

func TestRetrieveEmbeddingFailureIsError(t *testing.T) {
	t.Parallel()

	r := NewRetriever(log.New(io.Discard, "", 0), failingEmbedder{}, &stubIndex{}, &stubReranker{}, nil, testRetrievalConfig())
	if _, err := r.Retrieve(context.Background(), "agent-1", "anything", 4); err == nil {
		t.Fatal("expected error when query embedding fails")
	}
}

func TestRetrieveKeywordBoostLiftsCandidate(t *testing.T) {
	t.Parallel()

	idx := &stubIndex{matchesByVariant: map[int][]vector.Match{
		0: {
			match("c1", "generic text", 0.6),
			match("c2", "exact phrase text", 0.55),
		},
	}}
	rr := &stubReranker{scores: []float64{0.9, 0.9}}
	cfg := testRetrievalConfig()
	cfg.KeywordBoost = 0.2

	registry := NewKeywordRegistry()
	if err := registry.IndexChunk("agent-1", "c2", "exact phrase text"); err != nil {
		t.Fatalf("IndexChunk: %v", err)
	}
	t.Cleanup(func() { registry.Drop("agent-1") })

	r := NewRetriever(log.New(io.Discard, "", 0), stubEmbedder{}, idx, rr, registry, cfg)
	res, err := r.Retrieve(context.Background(), "agent-1", "exact phrase", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.AllChunks) != 2 {
		t.Fatalf("all chunks = %+v", res.AllChunks)
	}
	// The boosted chunk overtakes the higher raw vector score.
	if res.AllChunks[0].Text != "exact phrase text" {
		t.Errorf("first candidate = %+v, want boosted chunk", res.AllChunks[0])
	}
}
