package services

import (
	"context"
	"strings"

	"fin-news/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const topCompaniesLimit = 10

// EventsService serves the read path over extracted events
type EventsService struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewEventsService creates a new events service
func NewEventsService(db *gorm.DB, log zerolog.Logger) *EventsService {
	return &EventsService{
		db:  db,
		log: log.With().Str("component", "events").Logger(),
	}
}

// EventFilter narrows event listings. Company matches as a case-insensitive
// substring, the other fields exactly.
type EventFilter struct {
	Company   string
	Sector    string
	EventType string
	Sentiment string
	Limit     int
	Offset    int
}

// ListEvents returns events newest first, with the total match count
func (es *EventsService) ListEvents(ctx context.Context, filter EventFilter) ([]models.ExtractedEvent, int64, error) {
	query := es.db.WithContext(ctx).Model(&models.ExtractedEvent{})
	if company := strings.TrimSpace(filter.Company); company != "" {
		query = query.Where("LOWER(company) LIKE ?", "%"+strings.ToLower(company)+"%")
	}
	if filter.Sector != "" {
		query = query.Where("sector = ?", filter.Sector)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.Sentiment != "" {
		query = query.Where("sentiment = ?", filter.Sentiment)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, eris.Wrap(err, "failed to count events")
	}

	var events []models.ExtractedEvent
	err := query.
		Order("extracted_at DESC").
		Order("id ASC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&events).Error
	if err != nil {
		return nil, 0, eris.Wrap(err, "failed to list events")
	}
	return events, total, nil
}

// CompanyCount is one row of the top companies ranking
type CompanyCount struct {
	Company string `json:"company"`
	Count   int64  `json:"count"`
}

// Summary aggregates extracted events
type Summary struct {
	TotalEvents  int64            `json:"total_events"`
	BySentiment  map[string]int64 `json:"by_sentiment"`
	ByEventType  map[string]int64 `json:"by_event_type"`
	TopCompanies []CompanyCount   `json:"top_companies"`
}

// Stats reports pipeline progress
type Stats struct {
	TotalArticles     int64 `json:"total_articles"`
	ProcessedArticles int64 `json:"processed_articles"`
	PendingArticles   int64 `json:"pending_articles"`
	EmptyArticles     int64 `json:"empty_articles"`
	TotalEvents       int64 `json:"total_events"`
}

type groupCount struct {
	Name  string
	Count int64
}

// Summary counts events by sentiment and event type and ranks companies.
// Every sentiment is present in the result, zero when unseen.
func (es *EventsService) Summary(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		BySentiment: map[string]int64{"positive": 0, "negative": 0, "neutral": 0},
		ByEventType: map[string]int64{},
	}

	total, err := es.count(ctx, sq.Select("COUNT(*)").From("extracted_events"))
	if err != nil {
		return nil, eris.Wrap(err, "failed to count events")
	}
	summary.TotalEvents = total

	bySentiment, err := es.groupBy(ctx, "sentiment")
	if err != nil {
		return nil, err
	}
	for _, row := range bySentiment {
		summary.BySentiment[row.Name] = row.Count
	}

	byType, err := es.groupBy(ctx, "event_type")
	if err != nil {
		return nil, err
	}
	for _, row := range byType {
		summary.ByEventType[row.Name] = row.Count
	}

	sql, args, err := sq.Select("company", "COUNT(*) AS count").
		From("extracted_events").
		Where(sq.NotEq{"company": ""}).
		GroupBy("company").
		OrderBy("count DESC", "company ASC").
		Limit(topCompaniesLimit).
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "failed to build top companies query")
	}
	summary.TopCompanies = []CompanyCount{}
	if err := es.db.WithContext(ctx).Raw(sql, args...).Scan(&summary.TopCompanies).Error; err != nil {
		return nil, eris.Wrap(err, "failed to rank companies")
	}

	return summary, nil
}

// Stats counts articles by processing state and total events
func (es *EventsService) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	var err error

	articles := sq.Select("COUNT(*)").From("articles")
	if stats.TotalArticles, err = es.count(ctx, articles); err != nil {
		return nil, eris.Wrap(err, "failed to count articles")
	}
	if stats.ProcessedArticles, err = es.count(ctx, articles.Where(sq.Eq{"processing_state": models.StateProcessed})); err != nil {
		return nil, eris.Wrap(err, "failed to count processed articles")
	}
	if stats.PendingArticles, err = es.count(ctx, articles.Where(sq.Eq{"processing_state": models.StatePending})); err != nil {
		return nil, eris.Wrap(err, "failed to count pending articles")
	}
	if stats.EmptyArticles, err = es.count(ctx, articles.Where(sq.Eq{"extraction_outcome": models.OutcomeEmpty})); err != nil {
		return nil, eris.Wrap(err, "failed to count empty articles")
	}
	if stats.TotalEvents, err = es.count(ctx, sq.Select("COUNT(*)").From("extracted_events")); err != nil {
		return nil, eris.Wrap(err, "failed to count events")
	}
	return &stats, nil
}

func (es *EventsService) groupBy(ctx context.Context, column string) ([]groupCount, error) {
	sql, args, err := sq.Select(column+" AS name", "COUNT(*) AS count").
		From("extracted_events").
		GroupBy(column).
		ToSql()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to build %s query", column)
	}

	var rows []groupCount
	if err := es.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, eris.Wrapf(err, "failed to count events by %s", column)
	}
	return rows, nil
}

func (es *EventsService) count(ctx context.Context, builder sq.SelectBuilder) (int64, error) {
	sql, args, err := builder.ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := es.db.WithContext(ctx).Raw(sql, args...).Scan(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
