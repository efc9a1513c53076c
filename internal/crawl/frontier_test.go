package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/sitevox/sitevox/config"
	"github.com/sitevox/sitevox/tools/web_fetch/models"
)

type sitePage struct {
	title    string
	content  string
	links    []string
	fetchErr error
}

type stubSite struct {
	pages   map[string]sitePage
	fetched []string
}

func (s *stubSite) Exec(ctx context.Context, url string) (models.Result, error) {
	s.fetched = append(s.fetched, url)
	page, ok := s.pages[url]
	if !ok {
		return models.Result{URL: url, Success: false, Error: "not found"}, nil
	}
	if page.fetchErr != nil {
		return models.Result{}, page.fetchErr
	}
	return models.Result{
		URL:           url,
		Title:         page.title,
		Markdown:      page.content,
		InternalLinks: page.links,
		Success:       true,
	}, nil
}

type recordingWriter struct {
	upserts   []string
	unchanged map[string]bool
	failOn    string
}

func (w *recordingWriter) UpsertPage(ctx context.Context, agentID, sourceURL, title, content, contentHash string, skipUnchanged bool) (string, bool, error) {
	if w.failOn != "" && sourceURL == w.failOn {
		return "", false, errors.New("db unavailable")
	}
	w.upserts = append(w.upserts, sourceURL)
	return fmt.Sprintf("page-%d", len(w.upserts)), w.unchanged[sourceURL], nil
}

func longContent(seed string) string {
	return strings.Repeat(seed+" ", 20)
}

func newTestFrontier(site *stubSite, writer *recordingWriter, pageCap int) *Frontier {
	return NewFrontier(
		log.New(io.Discard, "", 0),
		site,
		writer,
		config.CrawlConfig{PageCap: pageCap, MinContentChars: 50},
		config.IngestConfig{ReembedUnchanged: false},
	)
}

func TestCrawlWalksBreadthFirst(t *testing.T) {
	t.Parallel()

	site := &stubSite{pages: map[string]sitePage{
		"https://example.com": {
			title: "Home", content: longContent("home"),
			links: []string{"https://example.com/a", "https://example.com/b"},
		},
		"https://example.com/a": {
			title: "A", content: longContent("aaaa"),
			links: []string{"https://example.com/a/deep"},
		},
		"https://example.com/b": {title: "B", content: longContent("bbbb")},
		"https://example.com/a/deep": {title: "Deep", content: longContent("deep")},
	}}
	writer := &recordingWriter{}

	report, err := newTestFrontier(site, writer, 10).Crawl(context.Background(), "agent-1", "https://example.com", 0)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if report.PagesAccepted != 4 {
		t.Errorf("accepted = %d, want 4", report.PagesAccepted)
	}
	want := []string{"https://example.com", "https://example.com/a", "https://example.com/b", "https://example.com/a/deep"}
	if len(writer.upserts) != len(want) {
		t.Fatalf("upserts = %v", writer.upserts)
	}
	for i, u := range want {
		if writer.upserts[i] != u {
			t.Errorf("upserts[%d] = %q, want %q (breadth-first order)", i, writer.upserts[i], u)
		}
	}
}

func TestCrawlStopsAtPageCap(t *testing.T) {
	t.Parallel()

	// A wide site: the seed links to 50 children, each child to 20 more.
	pages := map[string]sitePage{}
	var seedLinks []string
	for i := 0; i < 50; i++ {
		child := fmt.Sprintf("https://example.com/p%d", i)
		seedLinks = append(seedLinks, child)
		var grandLinks []string
		for j := 0; j < 20; j++ {
			grand := fmt.Sprintf("%s/c%d", child, j)
			grandLinks = append(grandLinks, grand)
			pages[grand] = sitePage{title: "G", content: longContent("gggg")}
		}
		pages[child] = sitePage{title: "C", content: longContent("cccc"), links: grandLinks}
	}
	pages["https://example.com"] = sitePage{title: "Home", content: longContent("home"), links: seedLinks}

	site := &stubSite{pages: pages}
	writer := &recordingWriter{}

	report, err := newTestFrontier(site, writer, 10).Crawl(context.Background(), "agent-1", "https://example.com", 0)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if report.PagesAccepted != 10 {
		t.Errorf("accepted = %d, want exactly the cap", report.PagesAccepted)
	}
	// Breadth-first means the cap fills with the seed plus its first children.
	if writer.upserts[0] != "https://example.com" || writer.upserts[1] != "https://example.com/p0" {
		t.Errorf("upserts = %v", writer.upserts[:2])
	}
}

func TestCrawlSkipsThinPagesButFollowsLinks(t *testing.T) {
	t.Parallel()

	site := &stubSite{pages: map[string]sitePage{
		"https://example.com": {
			title: "Index", content: "short", // under the 50-char gate
			links: []string{"https://example.com/real"},
		},
		"https://example.com/real": {title: "Real", content: longContent("real")},
	}}
	writer := &recordingWriter{}

	report, err := newTestFrontier(site, writer, 10).Crawl(context.Background(), "agent-1", "https://example.com", 0)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if report.PagesSkipped != 1 || report.PagesAccepted != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(writer.upserts) != 1 || writer.upserts[0] != "https://example.com/real" {
		t.Errorf("upserts = %v", writer.upserts)
	}
}

func TestCrawlFetchFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	site := &stubSite{pages: map[string]sitePage{
		"https://example.com": {
			title: "Home", content: longContent("home"),
			links: []string{"https://example.com/broken", "https://example.com/fine"},
		},
		"https://example.com/broken": {fetchErr: errors.New("timeout")},
		"https://example.com/fine":   {title: "Fine", content: longContent("fine")},
	}}
	writer := &recordingWriter{}

	report, err := newTestFrontier(site, writer, 10).Crawl(context.Background(), "agent-1", "https://example.com", 0)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if report.PagesFailed != 1 || report.PagesAccepted != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestCrawlDeduplicatesHostVariants(t *testing.T) {
	t.Parallel()

	site := &stubSite{pages: map[string]sitePage{
		"https://example.com": {
			title: "Home", content: longContent("home"),
			links: []string{
				"https://www.example.com/about",
				"https://example.com/about",
				"https://example.com/about#team",
			},
		},
		"https://example.com/about": {title: "About", content: longContent("about")},
	}}
	writer := &recordingWriter{}

	report, err := newTestFrontier(site, writer, 10).Crawl(context.Background(), "agent-1", "https://example.com", 0)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if report.PagesAccepted != 2 {
		t.Errorf("accepted = %d, want 2 (about fetched once)", report.PagesAccepted)
	}
	fetchCount := 0
	for _, u := range site.fetched {
		if u == "https://example.com/about" {
			fetchCount++
		}
	}
	if fetchCount != 1 {
		t.Errorf("about fetched %d times", fetchCount)
	}
}

func TestCrawlRejectsPrivateSeed(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	_, err := newTestFrontier(&stubSite{pages: map[string]sitePage{}}, writer, 10).
		Crawl(context.Background(), "agent-1", "http://192.168.1.10/admin", 0)
	if err == nil {
		t.Fatal("expected error for private seed")
	}
}

func TestCrawlCountsUnchangedPages(t *testing.T) {
	t.Parallel()

	site := &stubSite{pages: map[string]sitePage{
		"https://example.com": {title: "Home", content: longContent("home")},
	}}
	writer := &recordingWriter{unchanged: map[string]bool{"https://example.com": true}}

	report, err := newTestFrontier(site, writer, 10).Crawl(context.Background(), "agent-1", "https://example.com", 0)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if report.PagesUnchanged != 1 {
		t.Errorf("unchanged = %d", report.PagesUnchanged)
	}
}
