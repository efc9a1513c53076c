package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the knowledge engine
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Reranker  RerankerConfig  `mapstructure:"reranker"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// StorageConfig contains database and queue connection settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes the knowledge page store connection
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a Postgres DSN from either the URL or the discrete fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", errors.New("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig describes the crawl job stream connection. Optional: when Host
// is empty the API runs crawls in-process instead of enqueueing them.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis-backed crawl queue is configured.
func (r RedisConfig) Enabled() bool { return r.Host != "" }

// Addr returns the host:port pair for the Redis client.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// CrawlConfig bounds the crawl frontier
type CrawlConfig struct {
	PageCap         int           `mapstructure:"page_cap"`          // maximum accepted pages per crawl
	MinContentChars int           `mapstructure:"min_content_chars"` // pages shorter than this are skipped
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`     // per-page fetch budget
	Fetcher         string        `mapstructure:"fetcher"`           // remote | chromedp
	FetchServiceURL string        `mapstructure:"fetch_service_url"` // extraction service base URL (remote fetcher)
	JobPollInterval time.Duration `mapstructure:"job_poll_interval"` // remote crawl job polling cadence
	JobPollAttempts int           `mapstructure:"job_poll_attempts"` // polling budget before giving up
	CrawlServiceURL string        `mapstructure:"crawl_service_url"` // remote crawl job API base URL
	CrawlServiceKey string        `mapstructure:"crawl_service_key"` // remote crawl job API key
}

func (c CrawlConfig) Validate() error {
	if c.PageCap <= 0 {
		return fmt.Errorf("crawl.page_cap must be > 0")
	}
	switch c.Fetcher {
	case "remote", "chromedp":
	default:
		return fmt.Errorf("crawl.fetcher must be remote or chromedp, got %q", c.Fetcher)
	}
	if c.Fetcher == "remote" && c.FetchServiceURL == "" {
		return fmt.Errorf("crawl.fetch_service_url required for the remote fetcher")
	}
	return nil
}

// IngestConfig bounds chunking and batch processing
type IngestConfig struct {
	ChunkMaxChars    int  `mapstructure:"chunk_max_chars"`   // maximum characters per chunk
	BatchSize        int  `mapstructure:"batch_size"`        // pending pages processed per batch
	ReembedUnchanged bool `mapstructure:"reembed_unchanged"` // re-embed pages whose content hash did not change
}

func (i IngestConfig) Validate() error {
	if i.ChunkMaxChars <= 0 {
		return fmt.Errorf("ingest.chunk_max_chars must be > 0")
	}
	if i.BatchSize <= 0 {
		return fmt.Errorf("ingest.batch_size must be > 0")
	}
	return nil
}

// EmbeddingConfig configures the embedding provider
type EmbeddingConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	MaxBatchSize int           `mapstructure:"max_batch_size"` // provider input limit per call
	Timeout      time.Duration `mapstructure:"timeout"`
}

func (e EmbeddingConfig) Validate() error {
	if e.Model == "" {
		return fmt.Errorf("embedding.model must be set")
	}
	if e.MaxBatchSize <= 0 {
		return fmt.Errorf("embedding.max_batch_size must be > 0")
	}
	return nil
}

// RerankerConfig configures the cross-encoder reranker provider
type RerankerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// VectorConfig configures the vector index adapter
type VectorConfig struct {
	BaseURL           string        `mapstructure:"base_url"` // data-plane host of the index
	APIKey            string        `mapstructure:"api_key"`
	UpsertBatchSize   int           `mapstructure:"upsert_batch_size"`   // records per upsert request
	MetadataTextLimit int           `mapstructure:"metadata_text_limit"` // chunk text truncation inside metadata
	Timeout           time.Duration `mapstructure:"timeout"`
}

func (v VectorConfig) Validate() error {
	if v.UpsertBatchSize <= 0 {
		return fmt.Errorf("vector.upsert_batch_size must be > 0")
	}
	if v.MetadataTextLimit <= 0 {
		return fmt.Errorf("vector.metadata_text_limit must be > 0")
	}
	return nil
}

// RetrievalConfig holds the retriever's thresholds. The floors are hand-tuned
// starting defaults, not derived values; deployments are expected to adjust
// them per corpus.
type RetrievalConfig struct {
	CandidatePoolSize int     `mapstructure:"candidate_pool_size"` // vector matches fetched per query variant
	CandidateCap      int     `mapstructure:"candidate_cap"`       // merged candidates sent to the reranker
	FallbackPoolSize  int     `mapstructure:"fallback_pool_size"`  // unfiltered pool retained for degradation
	MaxVariants       int     `mapstructure:"max_variants"`        // query expansion cap, original included
	VectorFloor       float64 `mapstructure:"vector_floor"`        // pre-filter similarity floor
	RerankFloor       float64 `mapstructure:"rerank_floor"`        // authoritative relevance gate
	RerankFailFloor   float64 `mapstructure:"rerank_fail_floor"`   // vector-score floor when the reranker is down
	DefaultTopK       int     `mapstructure:"default_top_k"`
	KeywordBoost      float64 `mapstructure:"keyword_boost"` // score bonus for keyword-index hits, 0 disables
}

func (r RetrievalConfig) Validate() error {
	if r.CandidatePoolSize <= 0 || r.CandidateCap <= 0 || r.FallbackPoolSize <= 0 {
		return fmt.Errorf("retrieval pool sizes must be > 0")
	}
	if r.MaxVariants < 1 {
		return fmt.Errorf("retrieval.max_variants must be >= 1")
	}
	if r.VectorFloor < 0 || r.RerankFloor < 0 || r.RerankFailFloor < 0 {
		return fmt.Errorf("retrieval floors must be >= 0")
	}
	if r.RerankFloor < r.VectorFloor {
		return fmt.Errorf("retrieval.rerank_floor should not be looser than the vector pre-filter floor")
	}
	return nil
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate runs every section validator.
func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{
		c.Crawl, c.Ingest, c.Embedding, c.Vector, c.Retrieval,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig reads configuration from the given path (or the default search
// locations) with SITEVOX_* environment overrides. A missing config file is
// not an error; defaults plus environment cover a full deployment.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	setDefaults()

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("SITEVOX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Errorf("invalid config: %w", err))
	}
	return &cfg
}

func setDefaults() {
	viper.SetDefault("server.address", ":8090")

	viper.SetDefault("crawl.page_cap", 10)
	viper.SetDefault("crawl.min_content_chars", 50)
	viper.SetDefault("crawl.fetch_timeout", 15*time.Second)
	viper.SetDefault("crawl.fetcher", "remote")
	viper.SetDefault("crawl.fetch_service_url", "http://localhost:11235")
	viper.SetDefault("crawl.job_poll_interval", 2*time.Second)
	viper.SetDefault("crawl.job_poll_attempts", 60)

	viper.SetDefault("ingest.chunk_max_chars", 1000)
	viper.SetDefault("ingest.batch_size", 3)
	viper.SetDefault("ingest.reembed_unchanged", false)

	viper.SetDefault("embedding.base_url", "https://api.voyageai.com/v1")
	viper.SetDefault("embedding.model", "voyage-2")
	viper.SetDefault("embedding.max_batch_size", 128)
	viper.SetDefault("embedding.timeout", 30*time.Second)

	viper.SetDefault("reranker.base_url", "https://api.cohere.com/v2")
	viper.SetDefault("reranker.model", "rerank-english-v3.0")
	viper.SetDefault("reranker.timeout", 15*time.Second)

	viper.SetDefault("vector.upsert_batch_size", 100)
	viper.SetDefault("vector.metadata_text_limit", 2000)
	viper.SetDefault("vector.timeout", 30*time.Second)

	viper.SetDefault("retrieval.candidate_pool_size", 10)
	viper.SetDefault("retrieval.candidate_cap", 15)
	viper.SetDefault("retrieval.fallback_pool_size", 5)
	viper.SetDefault("retrieval.max_variants", 3)
	viper.SetDefault("retrieval.vector_floor", 0.25)
	viper.SetDefault("retrieval.rerank_floor", 0.5)
	viper.SetDefault("retrieval.rerank_fail_floor", 0.4)
	viper.SetDefault("retrieval.default_top_k", 4)
	viper.SetDefault("retrieval.keyword_boost", 0.0)

	viper.SetDefault("telemetry.enabled", true)
}
