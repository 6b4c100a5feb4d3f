package worker

import (
	"context"
	"sync"
	"time"

	"fin-news/internal/feeds"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// ErrRunInProgress is returned when a batch or ingestion pass is requested
// while another of the same kind is still running
var ErrRunInProgress = eris.New("a run is already in progress")

// Runner processes a batch of pending articles
type Runner interface {
	Run(ctx context.Context, batchLimit int) (RunSummary, error)
}

// Ingester performs one ingestion pass
type Ingester interface {
	Run(ctx context.Context) (feeds.Result, error)
}

// ServiceConfig controls the background loops
type ServiceConfig struct {
	BatchSize       int
	ProcessInterval time.Duration
	IngestInterval  time.Duration
}

// WorkerService manages background workers for the application
type WorkerService struct {
	runner   Runner
	ingester Ingester
	cfg      ServiceConfig
	log      zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	started time.Time
	mu      sync.RWMutex

	processMu sync.Mutex
	ingestMu  sync.Mutex

	lastRun       *RunSummary
	lastRunError  string
	lastIngest    *feeds.Result
	lastIngestErr string
}

// NewWorkerService creates a new worker service. ingester may be nil, which
// disables the ingestion loop.
func NewWorkerService(runner Runner, ingester Ingester, cfg ServiceConfig, log zerolog.Logger) *WorkerService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchLimit
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = time.Minute
	}
	if cfg.IngestInterval <= 0 {
		cfg.IngestInterval = 15 * time.Minute
	}
	return &WorkerService{
		runner:   runner,
		ingester: ingester,
		cfg:      cfg,
		log:      log.With().Str("component", "worker").Logger(),
	}
}

// Start starts all background workers
func (ws *WorkerService) Start() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.running {
		return nil // Already running
	}

	ws.log.Info().
		Dur("process_interval", ws.cfg.ProcessInterval).
		Dur("ingest_interval", ws.cfg.IngestInterval).
		Msg("Starting background workers")

	ws.ctx, ws.cancel = context.WithCancel(context.Background())
	ws.started = time.Now().UTC()

	if ws.ingester != nil {
		ws.wg.Add(1)
		go func() {
			defer ws.wg.Done()
			ws.loop(ws.ctx, ws.cfg.IngestInterval, ws.ingestTick)
		}()
	}

	ws.wg.Add(1)
	go func() {
		defer ws.wg.Done()
		ws.loop(ws.ctx, ws.cfg.ProcessInterval, ws.processTick)
	}()

	ws.running = true
	return nil
}

// Stop stops all background workers and waits for in-flight runs to finish
func (ws *WorkerService) Stop() {
	ws.mu.Lock()
	if !ws.running {
		ws.mu.Unlock()
		return
	}
	ws.log.Info().Msg("Stopping background workers")
	ws.cancel()
	ws.running = false
	ws.mu.Unlock()

	// Loops record their results under mu, so wait without holding it
	ws.wg.Wait()
	ws.log.Info().Msg("Background workers stopped")
}

// IsRunning returns whether the worker service is currently running
func (ws *WorkerService) IsRunning() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.running
}

// loop runs tick immediately and then on every interval until ctx ends
func (ws *WorkerService) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (ws *WorkerService) processTick(ctx context.Context) {
	if _, err := ws.RunBatch(ctx, ws.cfg.BatchSize); err != nil && !eris.Is(err, ErrRunInProgress) {
		ws.log.Error().Err(err).Msg("Scheduled extraction run failed")
	}
}

func (ws *WorkerService) ingestTick(ctx context.Context) {
	if _, err := ws.RunIngest(ctx); err != nil && !eris.Is(err, ErrRunInProgress) {
		ws.log.Error().Err(err).Msg("Scheduled ingestion failed")
	}
}

// RunBatch runs one coordinator batch unless one is already running
func (ws *WorkerService) RunBatch(ctx context.Context, limit int) (RunSummary, error) {
	if !ws.processMu.TryLock() {
		return RunSummary{}, ErrRunInProgress
	}
	defer ws.processMu.Unlock()

	summary, err := ws.runner.Run(ctx, limit)

	ws.mu.Lock()
	ws.lastRun = &summary
	ws.lastRunError = ""
	if err != nil {
		ws.lastRunError = err.Error()
	}
	ws.mu.Unlock()

	return summary, err
}

// RunIngest runs one ingestion pass unless one is already running
func (ws *WorkerService) RunIngest(ctx context.Context) (feeds.Result, error) {
	if ws.ingester == nil {
		return feeds.Result{}, eris.New("ingestion is not configured")
	}
	if !ws.ingestMu.TryLock() {
		return feeds.Result{}, ErrRunInProgress
	}
	defer ws.ingestMu.Unlock()

	result, err := ws.ingester.Run(ctx)

	ws.mu.Lock()
	ws.lastIngest = &result
	ws.lastIngestErr = ""
	if err != nil {
		ws.lastIngestErr = err.Error()
	}
	ws.mu.Unlock()

	return result, err
}

// GetStatus returns the current status of the worker service
func (ws *WorkerService) GetStatus() map[string]interface{} {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	status := map[string]interface{}{
		"running":          ws.running,
		"batch_size":       ws.cfg.BatchSize,
		"process_interval": ws.cfg.ProcessInterval.String(),
		"ingest_interval":  ws.cfg.IngestInterval.String(),
		"ingest_enabled":   ws.ingester != nil,
	}
	if ws.running {
		status["uptime"] = time.Since(ws.started).Round(time.Second).String()
	}
	if ws.lastRun != nil {
		status["last_run"] = *ws.lastRun
	}
	if ws.lastRunError != "" {
		status["last_run_error"] = ws.lastRunError
	}
	if ws.lastIngest != nil {
		status["last_ingest"] = *ws.lastIngest
	}
	if ws.lastIngestErr != "" {
		status["last_ingest_error"] = ws.lastIngestErr
	}
	return status
}
