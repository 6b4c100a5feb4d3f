package extraction

import (
	"context"
	"math/rand/v2"
	"time"

	"fin-news/internal/generator"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Config tunes retries and per-call limits
type Config struct {
	Backoff     Backoff
	CallTimeout time.Duration
}

// Option customizes an Extractor
type Option func(*Extractor)

// WithSleep replaces the backoff sleep, mainly for tests
func WithSleep(sleep SleepFunc) Option {
	return func(e *Extractor) { e.sleep = sleep }
}

// WithJitterSource replaces the random source used for jitter. It must
// return values in [0,1).
func WithJitterSource(source func() float64) Option {
	return func(e *Extractor) { e.jitter = source }
}

// WithSemaphore bounds in-flight generator calls across every user of sem
func WithSemaphore(sem *semaphore.Weighted) Option {
	return func(e *Extractor) { e.sem = sem }
}

// WithRepairChain replaces the repair strategies
func WithRepairChain(chain []RepairStrategy) Option {
	return func(e *Extractor) { e.repairs = chain }
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(e *Extractor) { e.log = log }
}

// Extractor produces structured candidates from text segments
type Extractor struct {
	gen     generator.Generator
	cfg     Config
	sleep   SleepFunc
	jitter  func() float64
	sem     *semaphore.Weighted
	repairs []RepairStrategy
	log     zerolog.Logger
}

// New creates an extractor. gen may be nil, in which case every extraction
// is a soft failure.
func New(gen generator.Generator, cfg Config, opts ...Option) *Extractor {
	if cfg.Backoff.MaxAttempts < 1 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}

	e := &Extractor{
		gen:     gen,
		cfg:     cfg,
		sleep:   sleepContext,
		jitter:  rand.Float64,
		repairs: DefaultRepairChain(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract renders the prompt, calls the generator with retries and repairs
// and validates the answer
func (e *Extractor) Extract(ctx context.Context, segment string, tmpl *PromptTemplate) Candidate {
	if e == nil || e.gen == nil {
		return SoftFailure{Reason: ReasonUnavailable, Detail: "no generator configured"}
	}
	if tmpl == nil {
		tmpl = DefaultPrompt()
	}

	prompt, err := tmpl.Render(segment)
	if err != nil {
		return SoftFailure{Reason: ReasonPermanent, Detail: err.Error()}
	}

	schedule := e.cfg.Backoff.Schedule()
	maxAttempts := len(schedule) + 1

	for attempt := 1; ; attempt++ {
		raw, err := e.call(ctx, prompt)
		if err == nil {
			return e.interpret(raw, attempt)
		}

		if !generator.IsTransient(err) {
			reason := ReasonPermanent
			if ctx.Err() != nil {
				reason = ReasonUnavailable
			}
			e.log.Warn().Err(err).Int("attempt", attempt).Msg("Generator call failed permanently")
			return SoftFailure{Reason: reason, Detail: err.Error(), Attempts: attempt}
		}

		if attempt >= maxAttempts {
			e.log.Warn().Err(err).Int("attempts", attempt).Msg("Generator retries exhausted")
			return SoftFailure{Reason: ReasonUnavailable, Detail: err.Error(), Attempts: attempt}
		}

		delay := e.cfg.Backoff.withJitter(schedule[attempt-1], e.jitter())
		e.log.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Retrying generator call")

		if err := e.sleep(ctx, delay); err != nil {
			return SoftFailure{Reason: ReasonUnavailable, Detail: err.Error(), Attempts: attempt}
		}
	}
}

// call makes one generator request holding an in-flight slot. The slot is
// released before any backoff sleep.
func (e *Extractor) call(ctx context.Context, prompt string) (string, error) {
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer e.sem.Release(1)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	return e.gen.Complete(callCtx, prompt)
}

// interpret runs the repair chain in order. An object that fails validation
// does not end the chain; a later strategy may still recover a valid one.
func (e *Extractor) interpret(raw string, attempts int) Candidate {
	var invalid error
	for _, strategy := range e.repairs {
		w, ok := strategy.Apply(raw)
		if !ok {
			continue
		}

		event, err := validate(w)
		if err != nil {
			e.log.Debug().Err(err).Str("strategy", strategy.Name).Msg("Recovered object failed validation")
			if invalid == nil {
				invalid = err
			}
			continue
		}
		return Valid{Event: event, Raw: raw, Strategy: strategy.Name, Attempts: attempts}
	}

	if invalid != nil {
		return SoftFailure{Reason: ReasonInvalid, Detail: invalid.Error(), Raw: raw, Attempts: attempts}
	}
	return SoftFailure{Reason: ReasonUnparseable, Detail: "no repair strategy recovered an object", Raw: raw, Attempts: attempts}
}
