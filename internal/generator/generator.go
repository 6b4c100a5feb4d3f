// Package generator talks to the external generative text service. Every
// backend classifies its failures into the sentinel errors below so callers
// can tell retryable failures from permanent ones.
package generator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"fin-news/internal/config"

	"github.com/rotisserie/eris"
)

var (
	ErrNoAPIKey      = errors.New("generator: API key not configured")
	ErrRateLimited   = errors.New("generator: rate limited")
	ErrUnavailable   = errors.New("generator: service unavailable")
	ErrUnauthorized  = errors.New("generator: unauthorized")
	ErrBadRequest    = errors.New("generator: bad request")
	ErrEmptyResponse = errors.New("generator: empty response")
)

// Generator completes a prompt
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// IsTransient reports whether a failed call is worth retrying. Timeouts,
// rate limiting, server errors, network errors and empty responses are
// transient; cancellation, auth and request errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrBadRequest), errors.Is(err, ErrNoAPIKey):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrEmptyResponse):
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// classifyStatus maps an HTTP status from a backend to a sentinel error
func classifyStatus(code int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 200 {
		body = body[:200]
	}

	var sentinel error
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		sentinel = ErrUnauthorized
	case code == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case code == http.StatusRequestTimeout || code >= 500:
		sentinel = ErrUnavailable
	case code >= 400:
		sentinel = ErrBadRequest
	default:
		return nil
	}
	return eris.Wrapf(sentinel, "status %d: %s", code, body)
}

// New builds the configured backend. A missing API key yields ErrNoAPIKey so
// callers can run without a generator.
func New(ctx context.Context, cfg config.GenAIConfig) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.UseGemini {
		return NewGemini(ctx, cfg)
	}
	return NewOpenAI(cfg)
}
