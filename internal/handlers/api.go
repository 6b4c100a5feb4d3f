package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"fin-news/internal/feeds"
	"fin-news/internal/models"
	"fin-news/internal/services"
	"fin-news/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize    = 20
	maxPageSize        = 100
	defaultProcessSize = 10
	maxProcessSize     = 100
)

// ArticleStore is the article read path
type ArticleStore interface {
	Ping(ctx context.Context) error
	ListArticles(ctx context.Context, filter services.ArticleFilter) ([]models.Article, int64, error)
	GetArticle(ctx context.Context, id uuid.UUID) (*models.Article, error)
}

// EventStore is the event read path
type EventStore interface {
	ListEvents(ctx context.Context, filter services.EventFilter) ([]models.ExtractedEvent, int64, error)
	Summary(ctx context.Context) (*services.Summary, error)
	Stats(ctx context.Context) (*services.Stats, error)
}

// Worker triggers and reports pipeline runs
type Worker interface {
	RunBatch(ctx context.Context, limit int) (worker.RunSummary, error)
	RunIngest(ctx context.Context) (feeds.Result, error)
	GetStatus() map[string]interface{}
}

// APIHandler handles the JSON API
type APIHandler struct {
	articles ArticleStore
	events   EventStore
	worker   Worker
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(articles ArticleStore, events EventStore, w Worker) *APIHandler {
	return &APIHandler{
		articles: articles,
		events:   events,
		worker:   w,
	}
}

// Meta describes one page of a listing
type Meta struct {
	Total   int64 `json:"total"`
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
}

// pagination reads limit and page, clamping limit to 1..100
func pagination(c *gin.Context) (limit, page, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))

	if limit > maxPageSize {
		limit = maxPageSize
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if page < 1 {
		page = 1
	}
	return limit, page, (page - 1) * limit
}

// HealthCheck handles GET /health
func (h *APIHandler) HealthCheck(c *gin.Context) {
	if err := h.articles.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"service":  "fin-news",
			"database": "unreachable",
			"details":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  "fin-news",
		"database": "ok",
	})
}

// ListEvents handles GET /api/events
func (h *APIHandler) ListEvents(c *gin.Context) {
	limit, page, offset := pagination(c)

	events, total, err := h.events.ListEvents(c.Request.Context(), services.EventFilter{
		Company:   c.Query("company"),
		Sector:    c.Query("sector"),
		EventType: c.Query("event_type"),
		Sentiment: c.Query("sentiment"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to retrieve events",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"meta":   Meta{Total: total, Page: page, PerPage: limit},
	})
}

// ListArticles handles GET /api/articles
func (h *APIHandler) ListArticles(c *gin.Context) {
	limit, page, offset := pagination(c)

	state := models.ProcessingState(c.Query("state"))
	if state != "" && state != models.StatePending && state != models.StateProcessed {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "state must be pending or processed",
		})
		return
	}

	articles, total, err := h.articles.ListArticles(c.Request.Context(), services.ArticleFilter{
		Source: c.Query("source"),
		State:  state,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to retrieve articles",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"articles": articles,
		"meta":     Meta{Total: total, Page: page, PerPage: limit},
	})
}

// GetArticle handles GET /api/articles/:id
func (h *APIHandler) GetArticle(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid article ID format",
		})
		return
	}

	article, err := h.articles.GetArticle(c.Request.Context(), id)
	if errors.Is(err, services.ErrArticleNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Article not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to retrieve article",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, article)
}

// Summary handles GET /api/summary
func (h *APIHandler) Summary(c *gin.Context) {
	summary, err := h.events.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to compute summary",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Stats handles GET /api/stats
func (h *APIHandler) Stats(c *gin.Context) {
	stats, err := h.events.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to compute stats",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Process handles POST /api/process
func (h *APIHandler) Process(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultProcessSize)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "limit must be an integer",
		})
		return
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxProcessSize {
		limit = maxProcessSize
	}

	summary, err := h.worker.RunBatch(c.Request.Context(), limit)
	if errors.Is(err, worker.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "An extraction run is already in progress",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Extraction run could not start",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"summary": summary,
	})
}

// Ingest handles POST /api/ingest
func (h *APIHandler) Ingest(c *gin.Context) {
	result, err := h.worker.RunIngest(c.Request.Context())
	if errors.Is(err, worker.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "An ingestion pass is already in progress",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Ingestion failed",
			"details": err.Error(),
			"result":  result,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"result": result,
	})
}

// WorkerStatus handles GET /api/worker/status
func (h *APIHandler) WorkerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"worker_status": h.worker.GetStatus(),
	})
}
