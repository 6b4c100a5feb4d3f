package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"fin-news/internal/entities"
	"fin-news/internal/extraction"
	"fin-news/internal/generator"
	"fin-news/internal/models"
	"fin-news/internal/preprocess"
	"fin-news/internal/reconcile"
	"fin-news/internal/services"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	appleText = "Apple Inc. reported record quarterly earnings of $123.5 billion, up 8.2% from last year."
	appleJSON = `Here is the analysis: {"company": "Apple Inc", "sector": "Technology", "event_type": "earnings", "sentiment": "positive", "confidence_score": 0.9, "key_metrics": {"revenue": "$123.5 billion", "growth_percent": "8.2%"}, "summary": "Apple posted record revenue."}`
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))

	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func seedArticle(t *testing.T, db *gorm.DB, title, content string) models.Article {
	t.Helper()
	article := models.Article{
		Title:   title,
		URL:     "https://example.com/" + uuid.NewString(),
		Source:  "test",
		Content: content,
	}
	require.NoError(t, db.Create(&article).Error)
	return article
}

func newExtractor(gen generator.Generator) *extraction.Extractor {
	return extraction.New(gen, extraction.Config{
		Backoff:     extraction.DefaultBackoff(),
		CallTimeout: time.Second,
	}, extraction.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))
}

func newTestCoordinator(t *testing.T, repo Repository, extractor StructuredExtractor) *Coordinator {
	t.Helper()
	recognizer, err := entities.NewRecognizer(entities.DefaultRules())
	require.NoError(t, err)

	c, err := NewCoordinator(CoordinatorDeps{
		Repo:       repo,
		Recognizer: recognizer,
		Extractor:  extractor,
		Reconciler: reconcile.New(reconcile.DefaultConfig(), reconcile.WithLookup(recognizer.Lookup)),
		Workers:    2,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func loadEvents(t *testing.T, db *gorm.DB, articleID uuid.UUID) []models.ExtractedEvent {
	t.Helper()
	var events []models.ExtractedEvent
	require.NoError(t, db.Where("article_id = ?", articleID).Find(&events).Error)
	return events
}

func loadArticle(t *testing.T, db *gorm.DB, id uuid.UUID) models.Article {
	t.Helper()
	var article models.Article
	require.NoError(t, db.First(&article, "id = ?", id).Error)
	return article
}

func TestRunExtractsAppleEarnings(t *testing.T) {
	db := setupTestDB(t)
	repo := services.NewArticlesService(db, zerolog.Nop())
	article := seedArticle(t, db, "Apple earnings", appleText)

	gen := generator.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return appleJSON, nil
	})
	summary, err := newTestCoordinator(t, repo, newExtractor(gen)).Run(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Degraded)
	assert.NotEqual(t, uuid.Nil, summary.RunID)

	stored := loadArticle(t, db, article.ID)
	assert.Equal(t, models.StateProcessed, stored.ProcessingState)
	assert.Equal(t, models.OutcomeEvent, stored.ExtractionOutcome)

	events := loadEvents(t, db, article.ID)
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, "Apple Inc", event.Company)
	assert.Equal(t, "Technology", event.Sector)
	assert.Equal(t, "earnings", event.EventType)
	assert.Equal(t, "positive", event.Sentiment)
	assert.Equal(t, 0.9, event.ConfidenceScore)
	assert.Equal(t, reconcile.MethodReconciled, event.ExtractionMethod)
	assert.Equal(t, models.KeyMetrics{"revenue": "$123.5 billion", "growth_percent": "8.2%"}, event.Metrics())

	var report entities.Report
	require.NoError(t, json.Unmarshal(event.ExtractedEntities, &report))
	assert.Equal(t, []string{"Apple Inc"}, report.Organizations)
	assert.Equal(t, []string{"$123.5 billion"}, report.Metrics.MonetaryValues)

	var audit reconcile.Audit
	require.NoError(t, json.Unmarshal(event.RawStructuredOutput, &audit))
	assert.Equal(t, reconcile.AuditValid, audit.Status)
	assert.Equal(t, "largest_object", audit.Strategy)
}

func TestRunDegradesWhenGeneratorFails(t *testing.T) {
	db := setupTestDB(t)
	repo := services.NewArticlesService(db, zerolog.Nop())
	article := seedArticle(t, db, "Apple earnings", appleText)

	var calls int
	var mu sync.Mutex
	gen := generator.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "", generator.ErrUnavailable
	})
	summary, err := newTestCoordinator(t, repo, newExtractor(gen)).Run(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Degraded)
	assert.Equal(t, 3, calls, "retried up to the attempt limit on one segment only")

	events := loadEvents(t, db, article.ID)
	require.Len(t, events, 1)
	assert.Equal(t, reconcile.MethodDegraded, events[0].ExtractionMethod)
	assert.Equal(t, "Apple Inc", events[0].Company)
	assert.Equal(t, 0.2, events[0].ConfidenceScore)
	assert.Equal(t, models.OutcomeDegraded, loadArticle(t, db, article.ID).ExtractionOutcome)
}

func TestRunWithoutGeneratorDegrades(t *testing.T) {
	db := setupTestDB(t)
	repo := services.NewArticlesService(db, zerolog.Nop())
	seedArticle(t, db, "Apple earnings", appleText)

	summary, err := newTestCoordinator(t, repo, nil).Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Degraded)
}

func TestRunMarksNonFinancialArticlesEmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := services.NewArticlesService(db, zerolog.Nop())
	weather := seedArticle(t, db, "Weather", "the weather was sunny in the park today and people walked their dogs.")
	blank := seedArticle(t, db, "", "   ")

	summary, err := newTestCoordinator(t, repo, nil).Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Empty)

	for _, id := range []uuid.UUID{weather.ID, blank.ID} {
		stored := loadArticle(t, db, id)
		assert.Equal(t, models.StateProcessed, stored.ProcessingState)
		assert.Equal(t, models.OutcomeEmpty, stored.ExtractionOutcome)
		assert.Empty(t, loadEvents(t, db, id))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := services.NewArticlesService(db, zerolog.Nop())
	article := seedArticle(t, db, "Apple earnings", appleText)

	gen := generator.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return appleJSON, nil
	})
	c := newTestCoordinator(t, repo, newExtractor(gen))

	_, err := c.Run(context.Background(), 10)
	require.NoError(t, err)
	second, err := c.Run(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 0, second.Fetched)
	assert.Equal(t, 0, second.Processed)
	assert.Len(t, loadEvents(t, db, article.ID), 1)
}

// fakeRepo is an in-memory Repository
type fakeRepo struct {
	mu        sync.Mutex
	pingErr   error
	fetchErr  error
	commitErr error
	articles  []models.Article
	committed map[uuid.UUID]models.ExtractionOutcome
	failures  map[uuid.UUID]error
	onFetch   func()
}

func newFakeRepo(articles ...models.Article) *fakeRepo {
	return &fakeRepo{
		articles:  articles,
		committed: map[uuid.UUID]models.ExtractionOutcome{},
		failures:  map[uuid.UUID]error{},
	}
}

func (r *fakeRepo) Ping(ctx context.Context) error { return r.pingErr }

func (r *fakeRepo) FetchPending(ctx context.Context, limit int) ([]models.Article, error) {
	if r.onFetch != nil {
		r.onFetch()
	}
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	if len(r.articles) > limit {
		return r.articles[:limit], nil
	}
	return r.articles, nil
}

func (r *fakeRepo) CommitExtraction(ctx context.Context, id uuid.UUID, event *models.ExtractedEvent, outcome models.ExtractionOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	r.committed[id] = outcome
	return nil
}

func (r *fakeRepo) RecordFailure(ctx context.Context, id uuid.UUID, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[id] = cause
	return nil
}

func testArticles(n int) []models.Article {
	articles := make([]models.Article, n)
	for i := range articles {
		articles[i] = models.Article{ID: uuid.New(), Title: "Apple", Content: appleText}
	}
	return articles
}

type extractorFunc func(ctx context.Context, segment string, tmpl *extraction.PromptTemplate) extraction.Candidate

func (f extractorFunc) Extract(ctx context.Context, segment string, tmpl *extraction.PromptTemplate) extraction.Candidate {
	return f(ctx, segment, tmpl)
}

type recognizerFunc func(text string) (entities.EntitySet, error)

func (f recognizerFunc) Recognize(text string) (entities.EntitySet, error) { return f(text) }

func TestRunSystemicFailureTouchesNothing(t *testing.T) {
	tests := []struct {
		name string
		repo *fakeRepo
	}{
		{name: "Ping fails", repo: &fakeRepo{pingErr: errors.New("connection refused")}},
		{name: "Fetch fails", repo: &fakeRepo{fetchErr: errors.New("relation does not exist")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.repo.committed = map[uuid.UUID]models.ExtractionOutcome{}
			tt.repo.failures = map[uuid.UUID]error{}

			summary, err := newTestCoordinator(t, tt.repo, nil).Run(context.Background(), 10)
			require.Error(t, err)
			assert.Equal(t, 0, summary.Processed+summary.Failed)
			assert.Empty(t, tt.repo.committed)
			assert.Empty(t, tt.repo.failures)
		})
	}
}

func TestRunRecordsHardFailures(t *testing.T) {
	articles := testArticles(2)
	repo := newFakeRepo(articles...)

	c := newTestCoordinator(t, repo, nil)
	c.recognizer = recognizerFunc(func(text string) (entities.EntitySet, error) {
		return entities.EntitySet{}, errors.New("pattern table corrupted")
	})

	summary, err := c.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 0, summary.Processed)
	assert.Len(t, repo.failures, 2)
	assert.Empty(t, repo.committed)
}

func TestRunRecoversRecognizerPanic(t *testing.T) {
	repo := newFakeRepo(testArticles(1)...)
	c := newTestCoordinator(t, repo, nil)
	c.recognizer = recognizerFunc(func(text string) (entities.EntitySet, error) {
		panic("boom")
	})

	summary, err := c.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
}

func TestRunCountsAlreadyProcessedAsSkipped(t *testing.T) {
	repo := newFakeRepo(testArticles(3)...)
	repo.commitErr = models.ErrArticleNotPending

	summary, err := newTestCoordinator(t, repo, nil).Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Empty(t, repo.failures, "a lost race is not a failure")
}

func TestRunPersistenceErrorIsRecorded(t *testing.T) {
	repo := newFakeRepo(testArticles(1)...)
	repo.commitErr = errors.New("disk full")

	summary, err := newTestCoordinator(t, repo, nil).Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, repo.failures, 1)
}

func TestRunStopsDispatchOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo(testArticles(3)...)
	var detachedOK bool
	var once sync.Once
	extractor := extractorFunc(func(actx context.Context, segment string, tmpl *extraction.PromptTemplate) extraction.Candidate {
		once.Do(func() {
			cancel()
			detachedOK = actx.Err() == nil
		})
		return extraction.SoftFailure{Reason: extraction.ReasonUnavailable}
	})

	c := newTestCoordinator(t, repo, extractor)
	c.workers = 1

	summary, err := c.Run(ctx, 10)
	require.NoError(t, err)

	assert.True(t, detachedOK, "dispatched articles keep running after cancellation")
	assert.GreaterOrEqual(t, summary.Cancelled, 1)
	assert.GreaterOrEqual(t, summary.Processed, 1)
	assert.Equal(t, 3, summary.Processed+summary.Cancelled)
	assert.Len(t, repo.committed, summary.Processed)
}

func TestRunCancelWhileWaitingForWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo(testArticles(3)...)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	extractor := extractorFunc(func(actx context.Context, segment string, tmpl *extraction.PromptTemplate) extraction.Candidate {
		once.Do(func() {
			close(started)
			<-release
		})
		return extraction.SoftFailure{Reason: extraction.ReasonUnavailable}
	})

	c := newTestCoordinator(t, repo, extractor)
	c.workers = 1

	type result struct {
		summary RunSummary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := c.Run(ctx, 10)
		done <- result{summary, err}
	}()

	// The only worker is busy, so the second article waits for a slot
	<-started
	cancel()
	close(release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 1, res.summary.Processed)
	assert.Equal(t, 2, res.summary.Cancelled)
	assert.Len(t, repo.committed, 1)
}

func TestRunCancelledBeforeDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newFakeRepo(testArticles(3)...)
	repo.onFetch = cancel

	summary, err := newTestCoordinator(t, repo, nil).Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Cancelled)
	assert.Empty(t, repo.committed)
}

func TestExtractStructuredSegmentPolicy(t *testing.T) {
	segments := []preprocess.Segment{{Index: 0, Text: "first"}, {Index: 1, Text: "second"}, {Index: 2, Text: "third"}}
	valid := extraction.Valid{Event: extraction.Event{EventType: "earnings", Sentiment: "positive"}}

	tests := []struct {
		name     string
		answers  map[string]extraction.Candidate
		calls    []string
		expected extraction.Candidate
	}{
		{
			name:     "Valid first segment",
			answers:  map[string]extraction.Candidate{"first": valid},
			calls:    []string{"first"},
			expected: valid,
		},
		{
			name: "Unparseable moves to next segment",
			answers: map[string]extraction.Candidate{
				"first":  extraction.SoftFailure{Reason: extraction.ReasonUnparseable},
				"second": valid,
			},
			calls:    []string{"first", "second"},
			expected: valid,
		},
		{
			name: "Unavailable stops early",
			answers: map[string]extraction.Candidate{
				"first": extraction.SoftFailure{Reason: extraction.ReasonUnavailable},
			},
			calls:    []string{"first"},
			expected: extraction.SoftFailure{Reason: extraction.ReasonUnavailable},
		},
		{
			name: "Bounded by segment limit",
			answers: map[string]extraction.Candidate{
				"first":  extraction.SoftFailure{Reason: extraction.ReasonInvalid},
				"second": extraction.SoftFailure{Reason: extraction.ReasonUnparseable},
				"third":  valid,
			},
			calls:    []string{"first", "second"},
			expected: extraction.SoftFailure{Reason: extraction.ReasonUnparseable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			c := newTestCoordinator(t, newFakeRepo(), extractorFunc(func(ctx context.Context, segment string, tmpl *extraction.PromptTemplate) extraction.Candidate {
				calls = append(calls, segment)
				return tt.answers[segment]
			}))

			got := c.extractStructured(context.Background(), zerolog.Nop(), segments)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.calls, calls)
		})
	}
}

func TestExtractStructuredRecoversPanic(t *testing.T) {
	c := newTestCoordinator(t, newFakeRepo(), extractorFunc(func(ctx context.Context, segment string, tmpl *extraction.PromptTemplate) extraction.Candidate {
		panic("generator client bug")
	}))

	got := c.extractStructured(context.Background(), zerolog.Nop(), []preprocess.Segment{{Text: "x"}})
	failure, ok := got.(extraction.SoftFailure)
	require.True(t, ok)
	assert.Equal(t, extraction.ReasonPanic, failure.Reason)
}

func TestNewCoordinatorRequiresDependencies(t *testing.T) {
	_, err := NewCoordinator(CoordinatorDeps{})
	assert.Error(t, err)

	_, err = NewCoordinator(CoordinatorDeps{Repo: newFakeRepo()})
	assert.Error(t, err)
}
