package feeds

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"fin-news/internal/metadata"
	"fin-news/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPerFeedLimit = 50
	defaultFeedTimeout  = 30 * time.Second
	maxConcurrentFeeds  = 4
	maxContentChars     = 20000
)

// PageFetcher downloads the full text of an article page
type PageFetcher interface {
	Fetch(ctx context.Context, articleURL string) (*metadata.Page, error)
}

// FeedError records one feed that could not be read
type FeedError struct {
	Feed  string `json:"feed"`
	Error string `json:"error"`
}

// FetchErrors lists the feeds that failed during one fetch. Articles from
// the other feeds are still returned alongside it.
type FetchErrors []FeedError

func (e FetchErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Feed + ": " + fe.Error
	}
	return fmt.Sprintf("%d feed(s) failed: %s", len(e), strings.Join(parts, "; "))
}

// SourceConfig configures a Source
type SourceConfig struct {
	Feeds           []Feed
	PerFeedLimit    int
	Timeout         time.Duration
	FetchFullText   bool
	MinContentChars int
}

// Source reads articles from RSS feeds
type Source struct {
	cfg    SourceConfig
	client *http.Client
	pages  PageFetcher
	log    zerolog.Logger
}

// NewSource creates a feed source. pages may be nil when full-text fetching
// is disabled.
func NewSource(cfg SourceConfig, pages PageFetcher, log zerolog.Logger) *Source {
	if len(cfg.Feeds) == 0 {
		cfg.Feeds = DefaultFeeds()
	}
	if cfg.PerFeedLimit <= 0 {
		cfg.PerFeedLimit = defaultPerFeedLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFeedTimeout
	}
	return &Source{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		pages:  pages,
		log:    log.With().Str("component", "feeds").Logger(),
	}
}

// Feeds returns the configured feed list
func (s *Source) Feeds() []Feed {
	return s.cfg.Feeds
}

// Fetch reads every feed concurrently. Articles come back in feed order.
// When some feeds fail the error is a FetchErrors and the articles of the
// other feeds are still returned.
func (s *Source) Fetch(ctx context.Context) ([]models.Article, error) {
	results := make([][]models.Article, len(s.cfg.Feeds))
	var (
		mu     sync.Mutex
		failed FetchErrors
	)

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentFeeds)
	for i, feed := range s.cfg.Feeds {
		g.Go(func() error {
			articles, err := s.fetchFeed(ctx, feed)
			if err != nil {
				s.log.Warn().Err(err).Str("feed", feed.Name).Msg("Failed to fetch feed")
				mu.Lock()
				failed = append(failed, FeedError{Feed: feed.Name, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			results[i] = articles
			return nil
		})
	}
	_ = g.Wait()

	var all []models.Article
	for _, articles := range results {
		all = append(all, articles...)
	}

	if ctx.Err() != nil {
		return all, eris.Wrap(ctx.Err(), "feed fetch cancelled")
	}
	if len(failed) > 0 {
		return all, failed
	}
	return all, nil
}

func (s *Source) fetchFeed(ctx context.Context, feed Feed) ([]models.Article, error) {
	parser := gofeed.NewParser()
	parser.Client = s.client
	parser.UserAgent = "fin-news/1.0"

	parsed, err := parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse feed %s", feed.URL)
	}

	now := time.Now().UTC()
	var articles []models.Article
	for _, item := range parsed.Items {
		if len(articles) >= s.cfg.PerFeedLimit {
			break
		}
		article, ok := s.toArticle(ctx, feed, item, now)
		if !ok {
			continue
		}
		articles = append(articles, article)
	}

	s.log.Debug().Str("feed", feed.Name).Int("items", len(parsed.Items)).Int("articles", len(articles)).Msg("Fetched feed")
	return articles, nil
}

func (s *Source) toArticle(ctx context.Context, feed Feed, item *gofeed.Item, fetchedAt time.Time) (models.Article, bool) {
	title := cleanHTML(item.Title)
	link := strings.TrimSpace(item.Link)
	if title == "" || link == "" {
		return models.Article{}, false
	}

	content := cleanHTML(item.Content)
	if content == "" {
		content = cleanHTML(item.Description)
	}

	var published *time.Time
	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		published = &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		published = &t
	}

	if s.cfg.FetchFullText && s.pages != nil && len(content) < s.cfg.MinContentChars {
		page, err := s.pages.Fetch(ctx, link)
		if err != nil {
			s.log.Debug().Err(err).Str("url", link).Msg("Could not fetch article page")
		} else if len(page.Text) > len(content) {
			content = page.Text
			if published == nil {
				published = page.PublishedAt
			}
		}
	}
	if len(content) > maxContentChars {
		content = strings.ToValidUTF8(content[:maxContentChars], "")
	}

	return models.Article{
		Title:           title,
		Source:          feed.Name,
		URL:             link,
		Content:         content,
		PublicationDate: published,
		FetchedAt:       fetchedAt,
	}, true
}

// cleanHTML strips markup from feed text and collapses whitespace
func cleanHTML(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
