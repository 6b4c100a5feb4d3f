// Package metadata fetches article pages and pulls out the headline, the
// publication date and the body text.
package metadata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
)

const maxPageBytes = 5 << 20

var whitespace = regexp.MustCompile(`\s+`)

// Elements whose text is page chrome, never article body
var chromeTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "nav": true, "header": true,
	"footer": true, "aside": true, "form": true, "svg": true, "iframe": true,
}

// Page is what the fetcher recovered from one article URL
type Page struct {
	Title       string
	Description string
	SiteName    string
	PublishedAt *time.Time
	Text        string
	WordCount   int
}

// Fetcher downloads article pages
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
}

// NewFetcher creates a page fetcher with the given request timeout
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return eris.New("stopped after 10 redirects")
				}
				return nil
			},
		},
		userAgent: "fin-news/1.0",
	}
}

// Fetch downloads articleURL and extracts its metadata and body text
func (f *Fetcher) Fetch(ctx context.Context, articleURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to fetch %s", articleURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("HTTP %d fetching %s", resp.StatusCode, articleURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, eris.Wrap(err, "failed to read response body")
	}
	return Parse(string(body))
}

// Parse extracts metadata and body text from an HTML document
func Parse(document string) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse HTML")
	}

	page := &Page{}
	articleBody := extractJSONLD(doc, page)
	extractMeta(doc, page)
	if page.Title == "" {
		page.Title = findTitle(doc)
	}

	page.Text = extractText(doc)
	if len(articleBody) > len(page.Text) {
		page.Text = articleBody
	}
	page.WordCount = len(strings.Fields(page.Text))
	return page, nil
}

// extractMeta fills empty fields from Open Graph and named meta tags
func extractMeta(doc *html.Node, page *Page) {
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "meta" {
			return true
		}
		key := attr(n, "property")
		if key == "" {
			key = attr(n, "name")
		}
		content := strings.TrimSpace(attr(n, "content"))
		if content == "" {
			return true
		}

		switch key {
		case "og:title", "twitter:title":
			setIfEmpty(&page.Title, content)
		case "og:description", "description", "twitter:description":
			setIfEmpty(&page.Description, content)
		case "og:site_name":
			setIfEmpty(&page.SiteName, content)
		case "article:published_time", "article:published", "pubdate":
			if page.PublishedAt == nil {
				page.PublishedAt = parseTime(content)
			}
		}
		return true
	})
}

// extractJSONLD reads NewsArticle/Article objects and returns their
// articleBody when present
func extractJSONLD(doc *html.Node, page *Page) string {
	var body string

	var process func(interface{})
	process = func(item interface{}) {
		switch v := item.(type) {
		case []interface{}:
			for _, sub := range v {
				process(sub)
			}
		case map[string]interface{}:
			if graph, ok := v["@graph"]; ok {
				process(graph)
			}
			typ, _ := v["@type"].(string)
			if typ != "NewsArticle" && typ != "Article" && typ != "ReportageNewsArticle" {
				return
			}
			if headline, ok := v["headline"].(string); ok {
				setIfEmpty(&page.Title, strings.TrimSpace(headline))
			}
			if description, ok := v["description"].(string); ok {
				setIfEmpty(&page.Description, strings.TrimSpace(description))
			}
			if publisher, ok := v["publisher"].(map[string]interface{}); ok {
				if name, ok := publisher["name"].(string); ok {
					setIfEmpty(&page.SiteName, name)
				}
			}
			if published, ok := v["datePublished"].(string); ok && page.PublishedAt == nil {
				page.PublishedAt = parseTime(published)
			}
			if articleBody, ok := v["articleBody"].(string); ok && body == "" {
				body = collapse(articleBody)
			}
		}
	}

	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "script" && attr(n, "type") == "application/ld+json" {
			if n.FirstChild != nil {
				var data interface{}
				if err := json.Unmarshal([]byte(n.FirstChild.Data), &data); err == nil {
					process(data)
				}
			}
			return false
		}
		return true
	})
	return body
}

// extractText returns the paragraphs of the <article> element, or of the
// whole document when the page has none
func extractText(doc *html.Node) string {
	root := doc
	walk(doc, func(n *html.Node) bool {
		if root != doc {
			return false
		}
		if n.Type == html.ElementNode && n.Data == "article" {
			root = n
			return false
		}
		return true
	})

	var paragraphs []string
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if chromeTags[n.Data] {
			return false
		}
		if n.Data == "p" {
			if text := collapse(textOf(n)); text != "" {
				paragraphs = append(paragraphs, text)
			}
			return false
		}
		return true
	})
	return strings.Join(paragraphs, "\n\n")
}

func findTitle(doc *html.Node) string {
	var title string
	walk(doc, func(n *html.Node) bool {
		if title != "" {
			return false
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			title = collapse(textOf(n))
			return false
		}
		return true
	})
	return title
}

// walk visits nodes depth first; returning false skips the node's children
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.ElementNode && chromeTags[c.Data] {
			return false
		}
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setIfEmpty(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func collapse(s string) string {
	return whitespace.ReplaceAllString(strings.TrimSpace(s), " ")
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04:05", "2006-01-02"}

func parseTime(value string) *time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
