// Package feeds polls financial RSS feeds and stores new articles for
// extraction.
package feeds

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Feed is one named RSS source
type Feed struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// DefaultFeeds returns the built-in financial news feeds
func DefaultFeeds() []Feed {
	return []Feed{
		{Name: "reuters_business", URL: "https://feeds.reuters.com/reuters/businessNews"},
		{Name: "yahoo_finance", URL: "https://feeds.finance.yahoo.com/rss/2.0/headline"},
		{Name: "cnbc", URL: "https://feeds.cnbc.com/cnbc/financialnews/"},
		{Name: "bloomberg", URL: "https://feeds.bloomberg.com/markets/news.rss"},
		{Name: "seeking_alpha", URL: "https://seekingalpha.com/feed.xml"},
	}
}

type feedFile struct {
	Feeds []Feed `yaml:"feeds"`
}

// LoadFeeds reads a feed list from a YAML file. An empty path returns the
// defaults.
func LoadFeeds(path string) ([]Feed, error) {
	if path == "" {
		return DefaultFeeds(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read feeds file %s", path)
	}

	var file feedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "failed to parse feeds file %s", path)
	}

	seen := make(map[string]bool)
	feeds := make([]Feed, 0, len(file.Feeds))
	for _, f := range file.Feeds {
		f.Name = strings.TrimSpace(f.Name)
		f.URL = strings.TrimSpace(f.URL)
		if f.Name == "" || f.URL == "" {
			return nil, eris.Errorf("feeds file %s: every feed needs a name and a url", path)
		}
		if !strings.HasPrefix(f.URL, "http://") && !strings.HasPrefix(f.URL, "https://") {
			return nil, eris.Errorf("feeds file %s: feed %s has a non-http url", path, f.Name)
		}
		if seen[f.Name] {
			return nil, eris.Errorf("feeds file %s: duplicate feed name %s", path, f.Name)
		}
		seen[f.Name] = true
		feeds = append(feeds, f)
	}
	if len(feeds) == 0 {
		return nil, eris.Errorf("feeds file %s lists no feeds", path)
	}
	return feeds, nil
}
