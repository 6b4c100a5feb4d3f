package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps wires the HTTP router
type RouterDeps struct {
	API     *APIHandler
	Docs    *DocsHandler
	GinMode string
	Logger  zerolog.Logger
}

// NewRouter builds the gin engine with every route registered
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.GinMode != "" {
		gin.SetMode(deps.GinMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Logger))

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.GET("/health", deps.API.HealthCheck)

	if deps.Docs != nil {
		r.GET("/doc/:doc", deps.Docs.ServeMarkdownAsHTML)
	}

	api := r.Group("/api")
	{
		api.GET("/events", deps.API.ListEvents)
		api.GET("/articles", deps.API.ListArticles)
		api.GET("/articles/:id", deps.API.GetArticle)
		api.GET("/summary", deps.API.Summary)
		api.GET("/stats", deps.API.Stats)

		api.POST("/process", deps.API.Process)
		api.POST("/ingest", deps.API.Ingest)

		worker := api.Group("/worker")
		{
			worker.GET("/status", deps.API.WorkerStatus)
		}
	}

	return r
}

// requestLogger logs one line per request
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = log.Error()
		case status >= http.StatusBadRequest:
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}
