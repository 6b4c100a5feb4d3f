package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fin-news/internal/entities"
	"fin-news/internal/extraction"
	"fin-news/internal/models"
	"fin-news/internal/preprocess"
	"fin-news/internal/reconcile"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

const (
	defaultWorkers               = 4
	defaultBatchLimit            = 10
	defaultMaxStructuredSegments = 2
)

// Repository is the persistence the coordinator needs
type Repository interface {
	Ping(ctx context.Context) error
	FetchPending(ctx context.Context, limit int) ([]models.Article, error)
	CommitExtraction(ctx context.Context, articleID uuid.UUID, event *models.ExtractedEvent, outcome models.ExtractionOutcome) error
	RecordFailure(ctx context.Context, articleID uuid.UUID, cause error) error
}

// EntityRecognizer finds entities in one segment
type EntityRecognizer interface {
	Recognize(text string) (entities.EntitySet, error)
}

// StructuredExtractor asks the generator for a structured event
type StructuredExtractor interface {
	Extract(ctx context.Context, segment string, tmpl *extraction.PromptTemplate) extraction.Candidate
}

// CoordinatorDeps wires a Coordinator
type CoordinatorDeps struct {
	Repo                  Repository
	Preprocessor          *preprocess.Preprocessor
	Recognizer            EntityRecognizer
	Extractor             StructuredExtractor
	Reconciler            *reconcile.Reconciler
	Prompt                *extraction.PromptTemplate
	Workers               int
	MaxStructuredSegments int
	Logger                zerolog.Logger
}

// RunSummary counts what one batch did. Degraded and Empty are subsets of
// Processed. Cancelled counts articles never dispatched.
type RunSummary struct {
	RunID      uuid.UUID `json:"run_id"`
	Fetched    int       `json:"fetched"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Degraded   int       `json:"degraded"`
	Empty      int       `json:"empty"`
	Cancelled  int       `json:"cancelled"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Coordinator drives pending articles through extraction and commits the
// results
type Coordinator struct {
	repo        Repository
	pre         *preprocess.Preprocessor
	recognizer  EntityRecognizer
	extractor   StructuredExtractor
	reconciler  *reconcile.Reconciler
	prompt      *extraction.PromptTemplate
	workers     int
	maxSegments int
	log         zerolog.Logger
}

// NewCoordinator creates a coordinator. Repo and Recognizer are required; a
// nil Extractor makes every event degraded.
func NewCoordinator(deps CoordinatorDeps) (*Coordinator, error) {
	if deps.Repo == nil {
		return nil, eris.New("coordinator requires a repository")
	}
	if deps.Recognizer == nil {
		return nil, eris.New("coordinator requires an entity recognizer")
	}

	c := &Coordinator{
		repo:        deps.Repo,
		pre:         deps.Preprocessor,
		recognizer:  deps.Recognizer,
		extractor:   deps.Extractor,
		reconciler:  deps.Reconciler,
		prompt:      deps.Prompt,
		workers:     deps.Workers,
		maxSegments: deps.MaxStructuredSegments,
		log:         deps.Logger.With().Str("component", "coordinator").Logger(),
	}
	if c.pre == nil {
		c.pre = preprocess.New(preprocess.Config{})
	}
	if c.reconciler == nil {
		c.reconciler = reconcile.New(reconcile.DefaultConfig())
	}
	if c.prompt == nil {
		c.prompt = extraction.DefaultPrompt()
	}
	if c.workers <= 0 {
		c.workers = defaultWorkers
	}
	if c.maxSegments <= 0 {
		c.maxSegments = defaultMaxStructuredSegments
	}
	return c, nil
}

// Run processes up to batchLimit pending articles. An error means the batch
// could not start and no article was touched. Cancelling ctx stops dispatch;
// articles already dispatched finish and commit.
func (c *Coordinator) Run(ctx context.Context, batchLimit int) (RunSummary, error) {
	summary := RunSummary{RunID: uuid.New(), StartedAt: time.Now().UTC()}
	log := c.log.With().Str("run_id", summary.RunID.String()).Logger()

	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}

	if err := c.repo.Ping(ctx); err != nil {
		return summary, eris.Wrap(err, "repository unavailable")
	}
	articles, err := c.repo.FetchPending(ctx, batchLimit)
	if err != nil {
		return summary, eris.Wrap(err, "failed to load pending articles")
	}
	summary.Fetched = len(articles)

	if len(articles) == 0 {
		summary.FinishedAt = time.Now().UTC()
		log.Debug().Msg("No pending articles")
		return summary, nil
	}

	log.Info().Int("articles", len(articles)).Int("workers", c.workers).Msg("Starting extraction run")

	var mu sync.Mutex
	detached := context.WithoutCancel(ctx)

	// slots bounds the pool. Waiting for a slot also watches ctx so that no
	// article is dispatched once the run is cancelled.
	slots := make(chan struct{}, c.workers)
	g := new(errgroup.Group)

	for i := range articles {
		if !acquireSlot(ctx, slots) {
			summary.Cancelled = len(articles) - i
			log.Warn().Int("cancelled", summary.Cancelled).Msg("Run cancelled, remaining articles left pending")
			break
		}

		article := articles[i]
		g.Go(func() error {
			defer func() { <-slots }()
			outcome, err := c.processArticle(detached, log, &article)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, models.ErrArticleNotPending):
				summary.Skipped++
			case err != nil:
				summary.Failed++
			default:
				summary.Processed++
				switch outcome {
				case models.OutcomeDegraded:
					summary.Degraded++
				case models.OutcomeEmpty:
					summary.Empty++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.FinishedAt = time.Now().UTC()
	log.Info().
		Int("processed", summary.Processed).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("degraded", summary.Degraded).
		Int("empty", summary.Empty).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("Extraction run finished")

	return summary, nil
}

// acquireSlot blocks until a worker slot is free. It reports false, holding
// no slot, when ctx ends first.
func acquireSlot(ctx context.Context, slots chan struct{}) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	// Both cases may have been ready
	if ctx.Err() != nil {
		<-slots
		return false
	}
	return true
}

// processArticle runs both extraction paths over one article and commits
// the reconciled event. Hard failures are recorded on the article.
func (c *Coordinator) processArticle(ctx context.Context, runLog zerolog.Logger, article *models.Article) (models.ExtractionOutcome, error) {
	log := runLog.With().Str("article_id", article.ID.String()).Logger()

	text := article.Content
	if strings.TrimSpace(text) == "" {
		text = article.Title
	}
	segments := c.pre.Normalize(text)
	if len(segments) == 0 {
		return c.commit(ctx, log, article, nil, models.OutcomeEmpty)
	}

	var (
		wg        sync.WaitGroup
		set       entities.EntitySet
		entityErr error
		candidate extraction.Candidate
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		set, entityErr = c.recognize(segments)
	}()
	go func() {
		defer wg.Done()
		candidate = c.extractStructured(ctx, log, segments)
	}()
	wg.Wait()

	if entityErr != nil {
		return "", c.fail(ctx, log, article, eris.Wrap(entityErr, "entity extraction failed"))
	}

	event := c.reconciler.Reconcile(set, candidate)
	if event == nil {
		return c.commit(ctx, log, article, nil, models.OutcomeEmpty)
	}

	record, err := toModel(event)
	if err != nil {
		return "", c.fail(ctx, log, article, err)
	}

	outcome := models.OutcomeEvent
	if event.Method == reconcile.MethodDegraded {
		outcome = models.OutcomeDegraded
	}
	return c.commit(ctx, log, article, record, outcome)
}

func (c *Coordinator) commit(ctx context.Context, log zerolog.Logger, article *models.Article, record *models.ExtractedEvent, outcome models.ExtractionOutcome) (models.ExtractionOutcome, error) {
	err := c.repo.CommitExtraction(ctx, article.ID, record, outcome)
	if errors.Is(err, models.ErrArticleNotPending) {
		log.Info().Msg("Article already processed by another run, skipping")
		return "", err
	}
	if err != nil {
		return "", c.fail(ctx, log, article, eris.Wrap(err, "failed to commit extraction"))
	}

	log.Info().Str("outcome", string(outcome)).Msg("Processed article")
	return outcome, nil
}

func (c *Coordinator) fail(ctx context.Context, log zerolog.Logger, article *models.Article, cause error) error {
	log.Error().Err(cause).Msg("Article failed")
	if err := c.repo.RecordFailure(ctx, article.ID, cause); err != nil {
		log.Error().Err(err).Msg("Failed to record article failure")
	}
	return cause
}

// recognize runs the entity extractor over every segment and merges the
// results in article coordinates
func (c *Coordinator) recognize(segments []preprocess.Segment) (set entities.EntitySet, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("entity recognizer panicked: %v", r)
		}
	}()

	parts := make([]entities.Located, 0, len(segments))
	for _, seg := range segments {
		found, err := c.recognizer.Recognize(seg.Text)
		if err != nil {
			return entities.EntitySet{}, err
		}
		parts = append(parts, entities.Located{Offset: seg.Offset, Set: found})
	}
	return entities.Merge(parts), nil
}

// extractStructured tries segments in order until one yields a valid
// candidate. It stops early when the generator is out of reach or rejects
// the request.
func (c *Coordinator) extractStructured(ctx context.Context, log zerolog.Logger, segments []preprocess.Segment) (result extraction.Candidate) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Structured extraction panicked")
			result = extraction.SoftFailure{Reason: extraction.ReasonPanic, Detail: fmt.Sprint(r)}
		}
	}()

	if c.extractor == nil {
		return extraction.SoftFailure{Reason: extraction.ReasonUnavailable, Detail: "no generator configured"}
	}

	var last extraction.Candidate
	for i, seg := range segments {
		if i >= c.maxSegments {
			break
		}
		cand := c.extractor.Extract(ctx, seg.Text, c.prompt)
		switch v := cand.(type) {
		case extraction.Valid:
			return v
		case extraction.SoftFailure:
			log.Debug().Int("segment", seg.Index).Str("reason", string(v.Reason)).Msg("Segment produced no candidate")
			if v.Terminal() {
				return v
			}
		}
		last = cand
	}
	return last
}

// toModel converts a reconciled event into its persisted form
func toModel(event *reconcile.Event) (*models.ExtractedEvent, error) {
	entityJSON, err := json.Marshal(event.Entities)
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode entities")
	}
	auditJSON, err := json.Marshal(event.Audit)
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode extraction audit")
	}

	metrics := models.KeyMetrics{}
	for k, v := range event.KeyMetrics {
		metrics[k] = v
	}

	return &models.ExtractedEvent{
		Company:             event.Company,
		Sector:              event.Sector,
		EventType:           event.EventType,
		Sentiment:           event.Sentiment,
		ConfidenceScore:     event.Confidence,
		KeyMetrics:          datatypes.NewJSONType(metrics),
		Summary:             event.Summary,
		ExtractedEntities:   datatypes.JSON(entityJSON),
		RawStructuredOutput: datatypes.JSON(auditJSON),
		ExtractionMethod:    event.Method,
	}, nil
}
