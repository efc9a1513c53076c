// Package chromedp renders pages locally in a headless browser and extracts
// readable content with readability.
package chromedp

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/sitevox/sitevox/tools/web_fetch/models"
)

type Fetch struct {
	Timeout time.Duration
}

func (f Fetch) Exec(ctx context.Context, pageURL string) (models.Result, error) {
	if strings.TrimSpace(pageURL) == "" {
		return models.Result{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	html, links, err := fetchHTML(ctx, pageURL)
	if err != nil {
		return models.Result{
			URL:        pageURL,
			Success:    false,
			Error:      err.Error(),
			StatusCode: 599,
			RenderMS:   int(time.Since(t0) / time.Millisecond),
		}, nil
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(pageURL))
	if err != nil {
		return models.Result{
			URL:        pageURL,
			Success:    false,
			Error:      "content extraction failed: " + err.Error(),
			StatusCode: 200,
			RenderMS:   int(time.Since(t0) / time.Millisecond),
		}, nil
	}

	return models.Result{
		URL:           pageURL,
		Title:         strings.TrimSpace(article.Title),
		Markdown:      strings.TrimSpace(article.TextContent),
		InternalLinks: links,
		Success:       true,
		StatusCode:    200,
		RenderMS:      int(time.Since(t0) / time.Millisecond),
	}, nil
}

func fetchHTML(ctx context.Context, pageURL string) (string, []string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("SitevoxCrawler/1.0 (+contact@example.com)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	var links []string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(`Array.from(document.querySelectorAll("a[href]")).map(a => a.href)`, &links),
	)
	return html, links, err
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
