package crawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sitevox/sitevox/config"
	"github.com/sitevox/sitevox/internal/helpers"
	"github.com/sitevox/sitevox/provider"
	"github.com/sitevox/sitevox/utils"
)

// ErrJobTimeout is returned when a remote crawl job does not finish within
// the polling budget.
var ErrJobTimeout = errors.New("remote crawl job timed out")

// ErrJobCancelled is returned when the crawl service reports the job as
// cancelled before completion.
var ErrJobCancelled = errors.New("remote crawl job was cancelled")

// Job states reported by the crawl service.
const (
	JobStatePending    = "pending"
	JobStateProcessing = "processing"
	JobStateCompleted  = "completed"
	JobStateFailed     = "failed"
	JobStateCancelled  = "cancelled"
)

// JobResult is one page returned by a finished remote crawl job.
type JobResult struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
	Success  bool   `json:"success"`
	Error    string `json:"error_message"`
}

// JobStatus is a point-in-time snapshot of a remote job.
type JobStatus struct {
	State   string      `json:"status"`
	Results []JobResult `json:"results"`
	Error   string      `json:"error"`
}

// JobClient drives crawls on an external crawl service instead of the local
// frontier. Submit starts a job; Await polls it to completion; Materialize
// writes the results through the same page gates the frontier applies.
type JobClient struct {
	logger     *log.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client

	pollInterval    time.Duration
	pollAttempts    int
	minContentChars int
	skipUnchanged   bool
}

func NewJobClient(logger *log.Logger, crawlCfg config.CrawlConfig, ingestCfg config.IngestConfig) (*JobClient, error) {
	if crawlCfg.CrawlServiceURL == "" {
		return nil, fmt.Errorf("crawl.crawl_service_url must be set")
	}
	interval := crawlCfg.JobPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	attempts := crawlCfg.JobPollAttempts
	if attempts <= 0 {
		attempts = 60
	}
	return &JobClient{
		logger:          logger,
		baseURL:         strings.TrimRight(crawlCfg.CrawlServiceURL, "/"),
		apiKey:          crawlCfg.CrawlServiceKey,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		pollInterval:    interval,
		pollAttempts:    attempts,
		minContentChars: crawlCfg.MinContentChars,
		skipUnchanged:   !ingestCfg.ReembedUnchanged,
	}, nil
}

type submitRequest struct {
	URLs     []string `json:"urls"`
	MaxPages int      `json:"max_pages"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

// Submit starts a crawl job and returns its id.
func (c *JobClient) Submit(ctx context.Context, seedURL string, pageCap int) (string, error) {
	seed, err := helpers.CanonicalPageURL(seedURL)
	if err != nil {
		return "", fmt.Errorf("invalid seed url: %w", err)
	}
	if !helpers.IsPublicURL(seed) {
		return "", fmt.Errorf("seed url is not publicly routable: %s", seedURL)
	}

	// Only the submit is retried; Await already re-polls.
	var decoded submitResponse
	err = utils.Retry(ctx, 3, time.Second, func() error {
		return c.doJSON(ctx, http.MethodPost, "/crawl", submitRequest{URLs: []string{seed}, MaxPages: pageCap}, &decoded)
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit crawl job: %w", err)
	}
	if decoded.TaskID == "" {
		return "", fmt.Errorf("crawl service returned no task id")
	}
	return decoded.TaskID, nil
}

// Status fetches the current state of a job.
func (c *JobClient) Status(ctx context.Context, jobID string) (JobStatus, error) {
	var decoded JobStatus
	if err := c.doJSON(ctx, http.MethodGet, "/task/"+jobID, nil, &decoded); err != nil {
		return JobStatus{}, fmt.Errorf("failed to fetch job status: %w", err)
	}
	return decoded, nil
}

// Await polls the job at a fixed interval until it completes, fails, or
// exhausts the attempt budget.
func (c *JobClient) Await(ctx context.Context, jobID string) (JobStatus, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		status, err := c.Status(ctx, jobID)
		if err != nil {
			c.logger.Printf("job %s status poll failed: %v", jobID, err)
		} else {
			switch status.State {
			case JobStateCompleted:
				return status, nil
			case JobStateFailed:
				return status, fmt.Errorf("remote crawl job failed: %s", status.Error)
			case JobStateCancelled:
				return status, ErrJobCancelled
			}
		}

		select {
		case <-ctx.Done():
			return JobStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
	return JobStatus{}, ErrJobTimeout
}

// JobRunner adapts the remote job flow to the frontier's Crawl contract so
// the pipeline can swap between local and service-backed crawling.
type JobRunner struct {
	client *JobClient
	writer PageWriter
}

func NewJobRunner(client *JobClient, writer PageWriter) *JobRunner {
	return &JobRunner{client: client, writer: writer}
}

func (r *JobRunner) Crawl(ctx context.Context, agentID, seedURL string, pageCap int) (Report, error) {
	jobID, err := r.client.Submit(ctx, seedURL, pageCap)
	if err != nil {
		return Report{}, err
	}
	status, err := r.client.Await(ctx, jobID)
	if err != nil {
		return Report{}, err
	}
	return r.client.Materialize(ctx, agentID, status, r.writer)
}

// Materialize writes job results into the store with the same canonical-URL
// and content gates the local frontier applies.
func (c *JobClient) Materialize(ctx context.Context, agentID string, status JobStatus, writer PageWriter) (Report, error) {
	var report Report
	for _, res := range status.Results {
		if !res.Success {
			report.PagesFailed++
			continue
		}
		canonical, err := helpers.CanonicalPageURL(res.URL)
		if err != nil || !helpers.IsPublicURL(canonical) {
			report.PagesSkipped++
			continue
		}
		content := strings.TrimSpace(res.Markdown)
		if len(content) < c.minContentChars {
			report.PagesSkipped++
			continue
		}
		_, unchanged, err := writer.UpsertPage(ctx, agentID, canonical, res.Title, content, helpers.ContentHash(content), c.skipUnchanged)
		if err != nil {
			report.PagesFailed++
			c.logger.Printf("failed to persist %s: %v", canonical, err)
			continue
		}
		report.PagesAccepted++
		if unchanged {
			report.PagesUnchanged++
		}
	}
	return report, nil
}

func (c *JobClient) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return &provider.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
