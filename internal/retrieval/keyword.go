package retrieval

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
)

// KeywordIndex is an in-memory full-text index over one agent's chunks.
// It lives alongside the vector index and lets retrieval boost candidates
// that literally contain the query terms.
type KeywordIndex struct {
	idx bleve.Index
}

type chunkDoc struct {
	Text string `json:"text"`
}

func newKeywordIndex() (*KeywordIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}
	return &KeywordIndex{idx: idx}, nil
}

// Index adds or replaces one chunk document.
func (k *KeywordIndex) Index(id, text string) error {
	return k.idx.Index(id, chunkDoc{Text: text})
}

// Search returns matching chunk ids for the query, best first.
func (k *KeywordIndex) Search(query string, limit int) ([]string, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = limit
	res, err := k.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Close releases the index.
func (k *KeywordIndex) Close() error {
	return k.idx.Close()
}

// KeywordRegistry keeps one keyword index per agent namespace. Indexes are
// created lazily on first write and dropped when the namespace is wiped for
// a re-crawl.
type KeywordRegistry struct {
	mu      sync.RWMutex
	indexes map[string]*KeywordIndex
}

func NewKeywordRegistry() *KeywordRegistry {
	return &KeywordRegistry{indexes: map[string]*KeywordIndex{}}
}

// IndexChunk writes one chunk into the namespace's index, creating it if
// needed. Satisfies the ingest ChunkIndexer interface.
func (r *KeywordRegistry) IndexChunk(namespace, id, text string) error {
	r.mu.Lock()
	idx, ok := r.indexes[namespace]
	if !ok {
		var err error
		idx, err = newKeywordIndex()
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.indexes[namespace] = idx
	}
	r.mu.Unlock()
	return idx.Index(id, text)
}

// Search queries the namespace's index. A namespace with no index returns no
// hits rather than an error.
func (r *KeywordRegistry) Search(namespace, query string, limit int) ([]string, error) {
	r.mu.RLock()
	idx, ok := r.indexes[namespace]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return idx.Search(query, limit)
}

// Drop removes and closes the namespace's index.
func (r *KeywordRegistry) Drop(namespace string) {
	r.mu.Lock()
	idx, ok := r.indexes[namespace]
	delete(r.indexes, namespace)
	r.mu.Unlock()
	if ok {
		_ = idx.Close()
	}
}
