package models

// Result is a fetched and extracted page. Markdown is the readable body
// text; InternalLinks keeps the raw hrefs found on the page for the crawl
// frontier to filter.
type Result struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Markdown      string   `json:"markdown"`
	InternalLinks []string `json:"internal_links"`
	Success       bool     `json:"success"`
	Error         string   `json:"error,omitempty"`
	StatusCode    int      `json:"status_code"`
	RenderMS      int      `json:"render_ms"`
}
