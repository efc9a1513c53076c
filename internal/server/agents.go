package server

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sitevox/sitevox/internal/queue/streams"
	"github.com/sitevox/sitevox/internal/retrieval"
	"github.com/sitevox/sitevox/internal/store"
	"github.com/sitevox/sitevox/internal/worker"
)

// CrawlRunner runs crawls inline when no queue is configured.
type CrawlRunner interface {
	RunCrawl(ctx context.Context, agentID, seedURL string, pageCap int) error
	RunRefresh(ctx context.Context, agentID, seedURL string, pageCap int) error
}

// Querier answers questions against an agent's knowledge base.
type Querier interface {
	Retrieve(ctx context.Context, agentID, query string, topK int) (retrieval.Result, error)
}

// AgentStore is the slice of the store the handlers need.
type AgentStore interface {
	GetAgentStatus(ctx context.Context, agentID string) (store.AgentStatus, bool, error)
	ListPages(ctx context.Context, agentID string) ([]store.KnowledgePage, error)
	CountPagesByStatus(ctx context.Context, agentID string) (map[string]int, error)
}

// CrawlEnqueuer publishes crawl requests onto the worker stream.
type CrawlEnqueuer interface {
	PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

type AgentsHandler struct {
	Logger    *log.Logger
	Store     AgentStore
	Pipeline  CrawlRunner
	Retriever Querier
	// Publisher is optional; when nil, crawls run in-process.
	Publisher CrawlEnqueuer
	PageCap   int
}

func (h *AgentsHandler) Register(g *echo.Group) {
	g.POST("/:id/crawl", h.crawl)
	g.GET("/:id/status", h.status)
	g.GET("/:id/pages", h.pages)
	g.POST("/:id/query", h.query)
}

type crawlRequest struct {
	SeedURL string `json:"seed_url"`
	PageCap int    `json:"page_cap"`
	Refresh bool   `json:"refresh"`
}

func (h *AgentsHandler) crawl(c echo.Context) error {
	agentID := c.Param("id")
	var req crawlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.SeedURL = strings.TrimSpace(req.SeedURL)
	if req.SeedURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "seed_url required")
	}
	if req.PageCap <= 0 || req.PageCap > h.PageCap {
		req.PageCap = h.PageCap
	}

	// A crawl already in flight must finish before the next starts,
	// otherwise two runs would interleave writes in the same namespace.
	status, ok, err := h.Store.GetAgentStatus(c.Request().Context(), agentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if ok && (status.Status == store.AgentStatusCrawling || status.Status == store.AgentStatusProcessing) {
		return echo.NewHTTPError(http.StatusConflict, "crawl already in progress")
	}

	jobID := uuid.NewString()

	if h.Publisher != nil {
		payload := worker.CrawlRequestedPayload{
			AgentID: agentID,
			SeedURL: req.SeedURL,
			PageCap: req.PageCap,
			Refresh: req.Refresh,
		}
		if _, err := h.Publisher.PublishRaw(c.Request().Context(), worker.StreamCrawlRequested, worker.EventCrawlRequested, worker.CrawlPayloadVersion, payload); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	} else {
		go func() {
			// Detached from the request; the crawl outlives the HTTP call.
			ctx := context.Background()
			var err error
			if req.Refresh {
				err = h.Pipeline.RunRefresh(ctx, agentID, req.SeedURL, req.PageCap)
			} else {
				err = h.Pipeline.RunCrawl(ctx, agentID, req.SeedURL, req.PageCap)
			}
			if err != nil {
				h.Logger.Printf("crawl job %s failed: %v", jobID, err)
			}
		}()
	}

	return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID, "agent_id": agentID})
}

func (h *AgentsHandler) status(c echo.Context) error {
	agentID := c.Param("id")
	status, ok, err := h.Store.GetAgentStatus(c.Request().Context(), agentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "agent not found")
	}

	counts, err := h.Store.CountPagesByStatus(c.Request().Context(), agentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"agent_id":        status.AgentID,
		"status":          status.Status,
		"pages_crawled":   status.PagesCrawled,
		"pages_embedded":  status.PagesEmbedded,
		"chunks_created":  status.ChunksCreated,
		"pages_by_status": counts,
		"error":           status.ErrorMsg,
		"updated_at":      status.UpdatedAt,
	})
}

func (h *AgentsHandler) pages(c echo.Context) error {
	agentID := c.Param("id")
	pages, err := h.Store.ListPages(c.Request().Context(), agentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	type pageView struct {
		ID         string `json:"id"`
		SourceURL  string `json:"source_url"`
		Title      string `json:"title"`
		Status     string `json:"status"`
		ChunkCount int    `json:"chunk_count"`
		Error      string `json:"error,omitempty"`
	}
	out := make([]pageView, 0, len(pages))
	for _, p := range pages {
		out = append(out, pageView{
			ID:         p.ID,
			SourceURL:  p.SourceURL,
			Title:      p.Title,
			Status:     p.Status,
			ChunkCount: p.ChunkCount,
			Error:      p.ErrorMsg,
		})
	}
	return c.JSON(http.StatusOK, out)
}

type queryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

func (h *AgentsHandler) query(c echo.Context) error {
	agentID := c.Param("id")
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}

	status, ok, err := h.Store.GetAgentStatus(c.Request().Context(), agentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "agent not found")
	}
	if status.Status != store.AgentStatusReady {
		return echo.NewHTTPError(http.StatusConflict, "knowledge base not ready: "+status.Status)
	}

	result, err := h.Retriever.Retrieve(c.Request().Context(), agentID, req.Question, req.TopK)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	// Empty chunks with a populated pool is a confident "not covered by this
	// site", distinguished from transport errors above.
	return c.JSON(http.StatusOK, result)
}
