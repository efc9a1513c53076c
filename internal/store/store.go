// Package store persists crawled pages and agent knowledge-base state in
// Postgres. Pages move through a small status machine: pending after a crawl
// writes them, embedded once their chunks are in the vector index, error when
// processing failed.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

type Store struct {
	DB *sql.DB
}

// Page statuses persisted for ingestion processing.
const (
	PageStatusPending  = "pending"
	PageStatusEmbedded = "embedded"
	PageStatusError    = "error"
)

// Agent knowledge-base statuses. A row starts pending until its first crawl
// is requested.
const (
	AgentStatusPending    = "pending"
	AgentStatusCrawling   = "crawling"
	AgentStatusProcessing = "processing"
	AgentStatusReady      = "ready"
	AgentStatusError      = "error"
)

// KnowledgePage is one crawled page row.
type KnowledgePage struct {
	ID          string
	AgentID     string
	SourceURL   string
	Title       string
	Content     string
	ContentHash string
	Status      string
	ChunkCount  int
	ErrorMsg    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AgentStatus is the crawl progress projection for one agent.
type AgentStatus struct {
	AgentID       string
	Status        string
	PagesCrawled  int
	PagesEmbedded int
	ChunksCreated int
	ErrorMsg      string
	UpdatedAt     time.Time
}

var (
	metricsOnce    sync.Once
	pagesCounter   otelmetric.Int64Counter
	chunksCounter  otelmetric.Int64Counter
	metricsInitErr error
)

func initStoreMetrics() {
	meter := otel.Meter("store")
	var err error
	pagesCounter, err = meter.Int64Counter("pages_embedded_total")
	if err != nil {
		metricsInitErr = err
		return
	}
	chunksCounter, err = meter.Int64Counter("chunks_created_total")
	if err != nil {
		metricsInitErr = err
	}
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// UpsertPage writes a crawled page keyed on (agent_id, source_url). A fresh
// or changed page lands in status pending; when skipUnchanged is set and an
// already embedded row carries the same content hash, the row keeps status
// embedded so ingestion will not re-embed it. Returns the row id and whether
// the short-circuit kept the page embedded.
func (s *Store) UpsertPage(ctx context.Context, agentID, sourceURL, title, content, contentHash string, skipUnchanged bool) (string, bool, error) {
	var id, status string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO knowledge_pages (agent_id, source_url, title, content, content_hash, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,'pending',NOW(),NOW())
ON CONFLICT (agent_id, source_url) DO UPDATE SET
  title = EXCLUDED.title,
  content = EXCLUDED.content,
  content_hash = EXCLUDED.content_hash,
  status = CASE
    WHEN knowledge_pages.status = 'embedded' AND knowledge_pages.content_hash = EXCLUDED.content_hash AND $6 THEN 'embedded'
    ELSE 'pending'
  END,
  error_message = NULL,
  updated_at = NOW()
RETURNING id, status;
`, agentID, sourceURL, title, content, contentHash, skipUnchanged).Scan(&id, &status)
	if err != nil {
		return "", false, fmt.Errorf("failed to upsert page: %w", err)
	}
	return id, status == PageStatusEmbedded, nil
}

// SelectPendingBatch returns up to limit pending pages for the agent, oldest
// first so crawl order is roughly preserved through ingestion.
func (s *Store) SelectPendingBatch(ctx context.Context, agentID string, limit int) ([]KnowledgePage, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, agent_id, source_url, title, content, content_hash, status, chunk_count, COALESCE(error_message,''), created_at, updated_at
FROM knowledge_pages
WHERE agent_id = $1 AND status = 'pending'
ORDER BY created_at ASC
LIMIT $2;
`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending pages: %w", err)
	}
	defer rows.Close()

	var pages []KnowledgePage
	for rows.Next() {
		var p KnowledgePage
		if err := rows.Scan(&p.ID, &p.AgentID, &p.SourceURL, &p.Title, &p.Content, &p.ContentHash, &p.Status, &p.ChunkCount, &p.ErrorMsg, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// MarkEmbedded transitions a page to embedded and records its chunk count.
func (s *Store) MarkEmbedded(ctx context.Context, pageID string, chunkCount int) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE knowledge_pages SET status = 'embedded', chunk_count = $2, error_message = NULL, updated_at = NOW() WHERE id = $1;
`, pageID, chunkCount)
	if err != nil {
		return fmt.Errorf("failed to mark page embedded: %w", err)
	}
	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr == nil {
		pagesCounter.Add(ctx, 1)
		chunksCounter.Add(ctx, int64(chunkCount))
	}
	return nil
}

// MarkError records a processing failure without losing the page content.
func (s *Store) MarkError(ctx context.Context, pageID string, msg string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE knowledge_pages SET status = 'error', error_message = $2, updated_at = NOW() WHERE id = $1;
`, pageID, msg)
	if err != nil {
		return fmt.Errorf("failed to mark page error: %w", err)
	}
	return nil
}

// DeleteAgentPages removes every page row for the agent. Used before a
// re-crawl together with a namespace wipe on the vector side.
func (s *Store) DeleteAgentPages(ctx context.Context, agentID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM knowledge_pages WHERE agent_id = $1;`, agentID)
	if err != nil {
		return fmt.Errorf("failed to delete agent pages: %w", err)
	}
	return nil
}

// ListPages returns every page row for the agent, newest first.
func (s *Store) ListPages(ctx context.Context, agentID string) ([]KnowledgePage, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, agent_id, source_url, title, content, content_hash, status, chunk_count, COALESCE(error_message,''), created_at, updated_at
FROM knowledge_pages
WHERE agent_id = $1
ORDER BY created_at DESC;
`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []KnowledgePage
	for rows.Next() {
		var p KnowledgePage
		if err := rows.Scan(&p.ID, &p.AgentID, &p.SourceURL, &p.Title, &p.Content, &p.ContentHash, &p.Status, &p.ChunkCount, &p.ErrorMsg, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// CountPagesByStatus returns per-status page counts for the agent.
func (s *Store) CountPagesByStatus(ctx context.Context, agentID string) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT status, COUNT(*) FROM knowledge_pages WHERE agent_id = $1 GROUP BY status;
`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// SetAgentStatus upserts the agent projection row with a new lifecycle
// status. An empty errMsg clears any previous error.
func (s *Store) SetAgentStatus(ctx context.Context, agentID, status, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO agents (id, status, error_message, updated_at)
VALUES ($1,$2,NULLIF($3,''),NOW())
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  error_message = EXCLUDED.error_message,
  updated_at = NOW();
`, agentID, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to set agent status: %w", err)
	}
	return nil
}

// UpdateAgentProgress records crawl and ingestion counters on the projection.
func (s *Store) UpdateAgentProgress(ctx context.Context, agentID string, pagesCrawled, pagesEmbedded, chunksCreated int) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE agents SET pages_crawled = $2, pages_embedded = $3, chunks_created = $4, updated_at = NOW() WHERE id = $1;
`, agentID, pagesCrawled, pagesEmbedded, chunksCreated)
	if err != nil {
		return fmt.Errorf("failed to update agent progress: %w", err)
	}
	return nil
}

// GetAgentStatus fetches the agent projection. The bool reports existence.
func (s *Store) GetAgentStatus(ctx context.Context, agentID string) (AgentStatus, bool, error) {
	var st AgentStatus
	err := s.DB.QueryRowContext(ctx, `
SELECT id, status, pages_crawled, pages_embedded, chunks_created, COALESCE(error_message,''), updated_at
FROM agents WHERE id = $1;
`, agentID).Scan(&st.AgentID, &st.Status, &st.PagesCrawled, &st.PagesEmbedded, &st.ChunksCreated, &st.ErrorMsg, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return AgentStatus{}, false, nil
	}
	if err != nil {
		return AgentStatus{}, false, fmt.Errorf("failed to get agent status: %w", err)
	}
	return st, true, nil
}
