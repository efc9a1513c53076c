// Package server exposes the REST API: crawl triggers, agent status, and
// retrieval queries, wired together from config at startup.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/sitevox/sitevox/config"
	"github.com/sitevox/sitevox/internal/crawl"
	"github.com/sitevox/sitevox/internal/ingest"
	"github.com/sitevox/sitevox/internal/queue/streams"
	"github.com/sitevox/sitevox/internal/retrieval"
	"github.com/sitevox/sitevox/internal/store"
	"github.com/sitevox/sitevox/internal/vector"
	"github.com/sitevox/sitevox/internal/worker"
	cohere_provider "github.com/sitevox/sitevox/provider/cohere"
	voyage_provider "github.com/sitevox/sitevox/provider/voyage"
	"github.com/sitevox/sitevox/tools/web_fetch"
)

// NewEcho builds the echo instance with the shared middleware stack.
func NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// Runtime holds the wired service components shared by the HTTP server, the
// stream worker, and the CLI commands.
type Runtime struct {
	Store     *store.Store
	Pipeline  *worker.Pipeline
	Retriever *retrieval.Retriever
	Keyword   *retrieval.KeywordRegistry
}

// BuildRuntime wires store, providers, crawler, and retriever from config.
func BuildRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return nil, err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, err
	}

	embedder := voyage_provider.NewClient(cfg.Embedding)
	reranker := cohere_provider.NewClient(cfg.Reranker)
	index, err := vector.NewPineconeIndex(cfg.Vector)
	if err != nil {
		return nil, err
	}

	keyword := retrieval.NewKeywordRegistry()
	var meter otelmetric.Meter
	if cfg.Telemetry.Enabled {
		meter = otel.GetMeterProvider().Meter("sitevox")
	}

	crawlLogger := log.New(log.Writer(), "[CRAWL] ", log.LstdFlags)
	var crawler worker.Crawler
	if cfg.Crawl.CrawlServiceURL != "" {
		jobClient, err := crawl.NewJobClient(crawlLogger, cfg.Crawl, cfg.Ingest)
		if err != nil {
			return nil, err
		}
		crawler = crawl.NewJobRunner(jobClient, st)
	} else {
		fetcher, err := web_fetch.NewWebFetcher(cfg.Crawl)
		if err != nil {
			return nil, err
		}
		crawler = crawl.NewFrontier(crawlLogger, fetcher, st, cfg.Crawl, cfg.Ingest)
	}

	ingestLogger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	processor := ingest.NewProcessor(ingestLogger, st, embedder, index, keyword, cfg.Ingest, cfg.Vector)

	workerLogger := log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	pipeline := worker.NewPipeline(workerLogger, st, crawler, processor, index, keyword, meter)

	retrieveLogger := log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags)
	retriever := retrieval.NewRetriever(retrieveLogger, embedder, index, reranker, keyword, cfg.Retrieval)

	return &Runtime{Store: st, Pipeline: pipeline, Retriever: retriever, Keyword: keyword}, nil
}

// Run wires the full service from config and blocks serving HTTP.
func Run(cfgPath string) error {
	cfg := config.LoadConfig(cfgPath)

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}

	e := NewEcho()
	if err := store.Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx := context.Background()
	rt, err := BuildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	st := rt.Store

	var publisher *streams.Publisher
	if cfg.Storage.Redis.Enabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := streams.EnsureGroup(ctx, redisClient, worker.StreamCrawlRequested, "sitevox-workers"); err != nil {
			return err
		}
		publisher = streams.NewPublisher(redisClient)
	}

	api := e.Group("/api")
	ah := &AgentsHandler{
		Logger:    log.New(log.Writer(), "[API] ", log.LstdFlags),
		Store:     st,
		Pipeline:  rt.Pipeline,
		Retriever: rt.Retriever,
		PageCap:   cfg.Crawl.PageCap,
	}
	if publisher != nil {
		ah.Publisher = publisher
	}
	ah.Register(api.Group("/agents"))

	sessions := NewSessionRegistry()
	sh := &SessionsHandler{Sessions: sessions, Store: st, Retriever: rt.Retriever}
	sh.Register(api.Group("/sessions"))

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if n := sessions.Sweep(30 * time.Minute); n > 0 {
				log.Printf("[API] swept %d idle sessions", n)
			}
		}
	}()

	return e.Start(cfg.Server.Address)
}
