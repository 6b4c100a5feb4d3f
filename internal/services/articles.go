package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"fin-news/internal/models"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrArticleNotFound is returned when an article id does not exist
var ErrArticleNotFound = errors.New("article not found")

// maxErrorLength bounds the stored text of a failed attempt
const maxErrorLength = 2000

// canonicalizeURL removes tracking parameters and other noise to create a canonical URL
func canonicalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL // Return original if parsing fails
	}

	// Remove common tracking and variant parameters
	query := parsed.Query()

	// List of parameters to remove for canonicalization
	paramsToRemove := []string{
		"variant", "utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
		"fbclid", "gclid", "msclkid", "ref", "source", "campaign",
		"_ga", "_gl", "mc_cid", "mc_eid", "yclid", "guccounter", "guce_referrer", "tsrc", "mod",
	}

	for _, param := range paramsToRemove {
		query.Del(param)
	}

	parsed.RawQuery = query.Encode()
	parsed.Fragment = ""
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	return parsed.String()
}

// ArticlesService stores articles and owns their processing state
type ArticlesService struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewArticlesService creates a new articles service
func NewArticlesService(db *gorm.DB, log zerolog.Logger) *ArticlesService {
	return &ArticlesService{
		db:  db,
		log: log.With().Str("component", "articles").Logger(),
	}
}

// Ping checks that the database is reachable
func (as *ArticlesService) Ping(ctx context.Context) error {
	sqlDB, err := as.db.DB()
	if err != nil {
		return eris.Wrap(err, "failed to get database handle")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return eris.Wrap(err, "database ping failed")
	}
	return nil
}

// FetchPending returns up to limit pending articles. Articles with fewer
// failed attempts come first, then oldest fetched.
func (as *ArticlesService) FetchPending(ctx context.Context, limit int) ([]models.Article, error) {
	var articles []models.Article
	err := as.db.WithContext(ctx).
		Where("processing_state = ?", models.StatePending).
		Order("extraction_attempts ASC").
		Order("fetched_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&articles).Error
	if err != nil {
		return nil, eris.Wrap(err, "failed to fetch pending articles")
	}
	return articles, nil
}

// CommitExtraction saves the event (if any) and marks the article processed
// in one transaction. If another run already processed the article the
// transaction is rolled back and models.ErrArticleNotPending is returned.
func (as *ArticlesService) CommitExtraction(ctx context.Context, articleID uuid.UUID, event *models.ExtractedEvent, outcome models.ExtractionOutcome) error {
	return as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if event != nil {
			event.ArticleID = articleID
			if err := tx.Create(event).Error; err != nil {
				return eris.Wrap(err, "failed to save extracted event")
			}
		}

		now := time.Now().UTC()
		result := tx.Model(&models.Article{}).
			Where("id = ? AND processing_state = ?", articleID, models.StatePending).
			Updates(map[string]interface{}{
				"processing_state":    models.StateProcessed,
				"extraction_outcome":  outcome,
				"processed_at":        now,
				"last_attempt_at":     now,
				"extraction_attempts": gorm.Expr("extraction_attempts + 1"),
				"last_error":          "",
			})
		if result.Error != nil {
			return eris.Wrap(result.Error, "failed to mark article processed")
		}
		if result.RowsAffected == 0 {
			return models.ErrArticleNotPending
		}
		return nil
	})
}

// RecordFailure stores a failed attempt. The article stays pending.
func (as *ArticlesService) RecordFailure(ctx context.Context, articleID uuid.UUID, cause error) error {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	if len(message) > maxErrorLength {
		message = message[:maxErrorLength]
	}

	err := as.db.WithContext(ctx).Model(&models.Article{}).
		Where("id = ? AND processing_state = ?", articleID, models.StatePending).
		Updates(map[string]interface{}{
			"extraction_attempts": gorm.Expr("extraction_attempts + 1"),
			"last_error":          message,
			"last_attempt_at":     time.Now().UTC(),
		}).Error
	if err != nil {
		return eris.Wrapf(err, "failed to record failure for article %s", articleID)
	}
	return nil
}

// IngestStats counts the outcome of storing a batch of fetched articles
type IngestStats struct {
	Saved      int `json:"saved"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// Ingest stores new articles as pending. An article whose canonical URL is
// already stored is counted as a duplicate and left untouched.
func (as *ArticlesService) Ingest(ctx context.Context, articles []models.Article) (IngestStats, error) {
	var stats IngestStats
	seen := make(map[string]bool, len(articles))

	for i := range articles {
		article := articles[i]
		article.URL = canonicalizeURL(article.URL)
		article.Title = strings.TrimSpace(article.Title)
		if article.URL == "" || article.Title == "" {
			stats.Skipped++
			continue
		}
		if seen[article.URL] {
			stats.Duplicates++
			continue
		}
		seen[article.URL] = true

		// Processing state always starts over for new rows
		article.ID = uuid.Nil
		article.ProcessingState = models.StatePending
		article.ExtractionOutcome = ""
		article.ExtractionAttempts = 0

		result := as.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "url"}}, DoNothing: true}).
			Create(&article)
		if result.Error != nil {
			return stats, eris.Wrapf(result.Error, "failed to save article %s", article.URL)
		}
		if result.RowsAffected == 0 {
			stats.Duplicates++
			continue
		}
		stats.Saved++
	}

	as.log.Debug().Int("saved", stats.Saved).Int("duplicates", stats.Duplicates).Msg("Stored fetched articles")
	return stats, nil
}

// ArticleFilter narrows article listings
type ArticleFilter struct {
	Source string
	State  models.ProcessingState
	Limit  int
	Offset int
}

// ListArticles returns articles newest fetch first, with the total match count
func (as *ArticlesService) ListArticles(ctx context.Context, filter ArticleFilter) ([]models.Article, int64, error) {
	query := as.db.WithContext(ctx).Model(&models.Article{})
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.State != "" {
		query = query.Where("processing_state = ?", filter.State)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, eris.Wrap(err, "failed to count articles")
	}

	var articles []models.Article
	err := query.
		Order("fetched_at DESC").
		Order("id ASC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&articles).Error
	if err != nil {
		return nil, 0, eris.Wrap(err, "failed to list articles")
	}
	return articles, total, nil
}

// GetArticle loads one article with its events
func (as *ArticlesService) GetArticle(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	var article models.Article
	err := as.db.WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("extracted_at DESC")
		}).
		First(&article, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrArticleNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to load article %s", id)
	}
	return &article, nil
}
