package feeds

import (
	"context"
	"errors"
	"time"

	"fin-news/internal/models"
	"fin-news/internal/services"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Fetcher produces fetched articles
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.Article, error)
}

// Store persists fetched articles, deduplicating on canonical url
type Store interface {
	Ingest(ctx context.Context, articles []models.Article) (services.IngestStats, error)
}

// Result summarizes one ingestion pass
type Result struct {
	Fetched    int         `json:"fetched"`
	Saved      int         `json:"saved"`
	Duplicates int         `json:"duplicates"`
	Skipped    int         `json:"skipped"`
	FeedErrors []FeedError `json:"feed_errors,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// IngestService moves articles from the feeds into the store
type IngestService struct {
	source Fetcher
	store  Store
	log    zerolog.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(source Fetcher, store Store, log zerolog.Logger) *IngestService {
	return &IngestService{
		source: source,
		store:  store,
		log:    log.With().Str("component", "ingest").Logger(),
	}
}

// Run performs one ingestion pass. Failing feeds are reported in the result
// and do not stop the others; only a storage failure or cancellation is an
// error.
func (is *IngestService) Run(ctx context.Context) (Result, error) {
	result := Result{StartedAt: time.Now().UTC()}

	articles, err := is.source.Fetch(ctx)
	var feedErrs FetchErrors
	switch {
	case errors.As(err, &feedErrs):
		result.FeedErrors = feedErrs
	case err != nil:
		result.FinishedAt = time.Now().UTC()
		return result, eris.Wrap(err, "failed to fetch feeds")
	}
	result.Fetched = len(articles)

	stats, err := is.store.Ingest(ctx, articles)
	result.Saved = stats.Saved
	result.Duplicates = stats.Duplicates
	result.Skipped = stats.Skipped
	result.FinishedAt = time.Now().UTC()
	if err != nil {
		return result, eris.Wrap(err, "failed to store fetched articles")
	}

	is.log.Info().
		Int("fetched", result.Fetched).
		Int("saved", result.Saved).
		Int("duplicates", result.Duplicates).
		Int("feed_errors", len(result.FeedErrors)).
		Msg("Ingestion pass finished")
	return result, nil
}
