package main

import (
	"context"
	"errors"
	"io"

	"fin-news/internal/config"
	"fin-news/internal/database"
	"fin-news/internal/entities"
	"fin-news/internal/extraction"
	"fin-news/internal/feeds"
	"fin-news/internal/generator"
	"fin-news/internal/metadata"
	"fin-news/internal/preprocess"
	"fin-news/internal/reconcile"
	"fin-news/internal/services"
	"fin-news/internal/worker"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

// app holds every wired component for one process
type app struct {
	cfg         *config.Config
	log         zerolog.Logger
	db          *gorm.DB
	articles    *services.ArticlesService
	events      *services.EventsService
	coordinator *worker.Coordinator
	ingest      *feeds.IngestService
	closers     []io.Closer
}

// newApp connects to the database and builds the pipeline
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		articles: services.NewArticlesService(db, log),
		events:   services.NewEventsService(db, log),
	}

	if err := a.buildPipeline(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildIngest(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildPipeline(ctx context.Context) error {
	cfg := a.cfg

	rules, err := entities.LoadRules(cfg.Entities.GazetteerFile)
	if err != nil {
		return err
	}
	recognizer, err := entities.NewRecognizer(rules)
	if err != nil {
		return eris.Wrap(err, "failed to build entity recognizer")
	}

	gen, err := generator.New(ctx, cfg.GenAI)
	switch {
	case errors.Is(err, generator.ErrNoAPIKey):
		a.log.Warn().Msg("GENAI_API_KEY not set, every event will be degraded")
		gen = nil
	case err != nil:
		return eris.Wrap(err, "failed to create generator")
	}
	if closer, ok := gen.(io.Closer); ok {
		a.closers = append(a.closers, closer)
	}

	prompt, err := extraction.LoadPrompt(cfg.Extraction.PromptFile)
	if err != nil {
		return err
	}

	extractor := extraction.New(gen, extraction.Config{
		Backoff: extraction.Backoff{
			MaxAttempts: cfg.Extraction.MaxAttempts,
			Base:        cfg.Extraction.BackoffBase,
			Max:         cfg.Extraction.BackoffMax,
			Jitter:      cfg.Extraction.BackoffJitter,
		},
		CallTimeout: cfg.Extraction.CallTimeout,
	},
		extraction.WithSemaphore(semaphore.NewWeighted(int64(cfg.Extraction.MaxInFlight))),
		extraction.WithLogger(a.log),
	)

	a.coordinator, err = worker.NewCoordinator(worker.CoordinatorDeps{
		Repo: a.articles,
		Preprocessor: preprocess.New(preprocess.Config{
			MaxSegmentChars: cfg.Extraction.MaxSegmentChars,
			Overlap:         cfg.Extraction.SegmentOverlap,
		}),
		Recognizer:            recognizer,
		Extractor:             extractor,
		Reconciler:            reconcile.New(reconcile.DefaultConfig(), reconcile.WithLookup(recognizer.Lookup)),
		Prompt:                prompt,
		Workers:               cfg.Worker.Workers,
		MaxStructuredSegments: cfg.Extraction.MaxStructuredSegments,
		Logger:                a.log,
	})
	return err
}

func (a *app) buildIngest() error {
	var feedList []feeds.Feed
	if path := a.cfg.Ingest.FeedsFile; path != "" {
		loaded, err := feeds.LoadFeeds(path)
		if err != nil {
			return err
		}
		feedList = loaded
	}

	source := feeds.NewSource(feeds.SourceConfig{
		Feeds:           feedList,
		PerFeedLimit:    a.cfg.Ingest.PerFeedLimit,
		Timeout:         a.cfg.Ingest.Timeout,
		FetchFullText:   a.cfg.Ingest.FetchFullText,
		MinContentChars: a.cfg.Ingest.MinContentChars,
	}, metadata.NewFetcher(a.cfg.Ingest.Timeout), a.log)

	a.ingest = feeds.NewIngestService(source, a.articles, a.log)
	return nil
}

// workerService wraps the coordinator and ingestion in the background loops
func (a *app) workerService() *worker.WorkerService {
	return worker.NewWorkerService(a.coordinator, a.ingest, worker.ServiceConfig{
		BatchSize:       a.cfg.Worker.BatchSize,
		ProcessInterval: a.cfg.Worker.ProcessInterval,
		IngestInterval:  a.cfg.Worker.IngestInterval,
	}, a.log)
}

// Close releases the generator client and the database
func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close client")
		}
	}
	if err := database.Close(a.db); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close database")
	}
}
