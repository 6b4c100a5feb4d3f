package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"fin-news/internal/feeds"
	"fin-news/internal/models"
	"fin-news/internal/services"
	"fin-news/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArticles struct {
	pingErr    error
	lastFilter services.ArticleFilter
	article    *models.Article
}

func (f *fakeArticles) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeArticles) ListArticles(ctx context.Context, filter services.ArticleFilter) ([]models.Article, int64, error) {
	f.lastFilter = filter
	return []models.Article{{Title: "Apple"}}, 41, nil
}

func (f *fakeArticles) GetArticle(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	if f.article == nil || f.article.ID != id {
		return nil, services.ErrArticleNotFound
	}
	return f.article, nil
}

type fakeEvents struct {
	lastFilter services.EventFilter
	err        error
}

func (f *fakeEvents) ListEvents(ctx context.Context, filter services.EventFilter) ([]models.ExtractedEvent, int64, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, 0, f.err
	}
	return []models.ExtractedEvent{{Company: "Apple Inc"}}, 1, nil
}

func (f *fakeEvents) Summary(ctx context.Context) (*services.Summary, error) {
	return &services.Summary{
		TotalEvents: 3,
		BySentiment: map[string]int64{"positive": 2, "negative": 1, "neutral": 0},
		ByEventType: map[string]int64{"earnings": 3},
	}, nil
}

func (f *fakeEvents) Stats(ctx context.Context) (*services.Stats, error) {
	return &services.Stats{TotalArticles: 5, ProcessedArticles: 3, PendingArticles: 2, TotalEvents: 3}, nil
}

type fakeWorker struct {
	lastLimit int
	runErr    error
}

func (f *fakeWorker) RunBatch(ctx context.Context, limit int) (worker.RunSummary, error) {
	f.lastLimit = limit
	return worker.RunSummary{Fetched: limit, Processed: limit}, f.runErr
}

func (f *fakeWorker) RunIngest(ctx context.Context) (feeds.Result, error) {
	return feeds.Result{Fetched: 2, Saved: 2}, nil
}

func (f *fakeWorker) GetStatus() map[string]interface{} {
	return map[string]interface{}{"running": true}
}

type testServer struct {
	router   *gin.Engine
	articles *fakeArticles
	events   *fakeEvents
	worker   *fakeWorker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &testServer{articles: &fakeArticles{}, events: &fakeEvents{}, worker: &fakeWorker{}}
	s.router = NewRouter(RouterDeps{
		API:    NewAPIHandler(s.articles, s.events, s.worker),
		Docs:   NewDocsHandler(t.TempDir()),
		Logger: zerolog.Nop(),
	})
	return s
}

func (s *testServer) do(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	s.articles.pingErr = errors.New("connection refused")
	w = s.do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decode(t, w)["status"])
}

func TestListEventsPassesFilters(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/events?company=apple&sector=Technology&event_type=earnings&sentiment=positive&limit=5&page=3")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, services.EventFilter{
		Company:   "apple",
		Sector:    "Technology",
		EventType: "earnings",
		Sentiment: "positive",
		Limit:     5,
		Offset:    10,
	}, s.events.lastFilter)

	body := decode(t, w)
	meta := body["meta"].(map[string]interface{})
	assert.Equal(t, float64(1), meta["total"])
	assert.Equal(t, float64(3), meta["page"])
	assert.Len(t, body["events"], 1)
}

func TestListEventsError(t *testing.T) {
	s := newTestServer(t)
	s.events.err = errors.New("boom")

	w := s.do(http.MethodGet, "/api/events")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "boom", decode(t, w)["details"])
}

func TestPagination(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{query: "", limit: 20, offset: 0},
		{query: "?limit=500", limit: 100, offset: 0},
		{query: "?limit=0&page=2", limit: 20, offset: 20},
		{query: "?limit=abc&page=-1", limit: 20, offset: 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			s := newTestServer(t)
			w := s.do(http.MethodGet, "/api/articles"+tt.query)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.limit, s.articles.lastFilter.Limit)
			assert.Equal(t, tt.offset, s.articles.lastFilter.Offset)
		})
	}
}

func TestListArticlesFilters(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/articles?source=cnbc&state=pending")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cnbc", s.articles.lastFilter.Source)
	assert.Equal(t, models.StatePending, s.articles.lastFilter.State)

	w = s.do(http.MethodGet, "/api/articles?state=archived")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetArticle(t *testing.T) {
	s := newTestServer(t)
	id := uuid.New()
	s.articles.article = &models.Article{ID: id, Title: "Apple earnings"}

	w := s.do(http.MethodGet, "/api/articles/"+id.String())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Apple earnings", decode(t, w)["title"])

	w = s.do(http.MethodGet, "/api/articles/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/articles/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummaryAndStats(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/summary")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(3), body["total_events"])
	assert.Equal(t, map[string]interface{}{"positive": float64(2), "negative": float64(1), "neutral": float64(0)}, body["by_sentiment"])

	w = s.do(http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["pending_articles"])
}

func TestProcessClampsLimit(t *testing.T) {
	tests := []struct {
		query string
		limit int
		code  int
	}{
		{query: "", limit: 10, code: http.StatusOK},
		{query: "?limit=0", limit: 1, code: http.StatusOK},
		{query: "?limit=1000", limit: 100, code: http.StatusOK},
		{query: "?limit=ten", limit: 0, code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			s := newTestServer(t)
			w := s.do(http.MethodPost, "/api/process"+tt.query)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.limit, s.worker.lastLimit)
		})
	}
}

func TestProcessErrors(t *testing.T) {
	s := newTestServer(t)

	s.worker.runErr = worker.ErrRunInProgress
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/process").Code)

	s.worker.runErr = errors.New("repository unavailable")
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodPost, "/api/process").Code)
}

func TestIngestAndWorkerStatus(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/ingest")
	require.Equal(t, http.StatusOK, w.Code)
	result := decode(t, w)["result"].(map[string]interface{})
	assert.Equal(t, float64(2), result["saved"])

	w = s.do(http.MethodGet, "/api/worker/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"running": true}, decode(t, w)["worker_status"])
}

func TestServeMarkdownAsHTML(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# fin-news\n\nExtracts **events**."), 0o644))

	router := NewRouter(RouterDeps{
		API:    NewAPIHandler(&fakeArticles{}, &fakeEvents{}, &fakeWorker{}),
		Docs:   NewDocsHandler(dir),
		Logger: zerolog.Nop(),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/doc/README", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<strong>events</strong>")
	assert.Contains(t, w.Body.String(), "<title>Project Overview - fin-news</title>")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/doc/DESIGN", nil))
	assert.Equal(t, http.StatusNotFound, w.Code, "allowed but missing on disk")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/doc/secrets", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodOptions, "/api/events")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
