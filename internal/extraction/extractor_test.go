package extraction

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"fin-news/internal/generator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

const appleJSON = `{"company": "Apple Inc", "sector": "Technology", "event_type": "earnings", "sentiment": "positive", "confidence_score": 0.9, "key_metrics": {"revenue": "$123.5 billion", "growth_percent": "8.2%"}, "summary": "Apple posted record revenue."}`

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestExtractor(gen generator.Generator, rec *sleepRecorder, opts ...Option) *Extractor {
	opts = append([]Option{
		WithSleep(rec.sleep),
		WithJitterSource(func() float64 { return 0.5 }),
	}, opts...)
	return New(gen, Config{Backoff: DefaultBackoff(), CallTimeout: time.Second}, opts...)
}

func extractRaw(t *testing.T, raw string) Candidate {
	gen := &mockGenerator{}
	gen.On("Complete", mock.Anything, mock.Anything).Return(raw, nil).Once()
	return newTestExtractor(gen, &sleepRecorder{}).Extract(context.Background(), "Apple Inc. reported earnings.", nil)
}

func TestExtractValidResponse(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Complete", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "Apple Inc. reported earnings.")
	})).Return(appleJSON, nil).Once()

	result := newTestExtractor(gen, &sleepRecorder{}).Extract(context.Background(), "Apple Inc. reported earnings.", nil)

	valid, ok := result.(Valid)
	require.True(t, ok, "expected Valid, got %#v", result)
	assert.Equal(t, "direct", valid.Strategy)
	assert.Equal(t, 1, valid.Attempts)
	assert.Equal(t, appleJSON, valid.Raw)
	assert.Equal(t, Event{
		Company:    "Apple Inc",
		Sector:     "Technology",
		EventType:  "earnings",
		Sentiment:  "positive",
		Confidence: 0.9,
		KeyMetrics: map[string]string{"revenue": "$123.5 billion", "growth_percent": "8.2%"},
		Summary:    "Apple posted record revenue.",
	}, valid.Event)
	gen.AssertExpectations(t)
}

func TestExtractWrappedResponsesMatchBareJSON(t *testing.T) {
	bare, ok := extractRaw(t, appleJSON).(Valid)
	require.True(t, ok)

	tests := []struct {
		name     string
		raw      string
		strategy string
	}{
		{"Markdown fence", "```json\n" + appleJSON + "\n```", "code_fence"},
		{"Prose around object", "Sure! Here is the extraction:\n" + appleJSON + "\nLet me know if you need more.", "largest_object"},
		{"Prose with braces", "Note {draft}: " + appleJSON + " {end}", "largest_object"},
		{"Envelope object", `{"event": ` + appleJSON + `}`, "largest_object"},
		{"Envelope with status", `{"status": "ok", "result": ` + appleJSON + `, "model": "x"}`, "largest_object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, ok := extractRaw(t, tt.raw).(Valid)
			require.True(t, ok)
			assert.Equal(t, tt.strategy, valid.Strategy)
			assert.Equal(t, bare.Event, valid.Event)
		})
	}
}

func TestExtractSalvagesTruncatedJSON(t *testing.T) {
	raw := `{"company": "Apple Inc", "event_type": "earnings", "sentiment": "positive", "confidence_score": "0.8", "key_metrics": {"revenue": "$1B", "eps": 1.52`

	valid, ok := extractRaw(t, raw).(Valid)
	require.True(t, ok)
	assert.Equal(t, "field_salvage", valid.Strategy)
	assert.Equal(t, "Apple Inc", valid.Event.Company)
	assert.Equal(t, 0.8, valid.Event.Confidence)
	assert.Equal(t, map[string]string{"revenue": "$1B", "eps": "1.52"}, valid.Event.KeyMetrics)
}

func TestExtractRetriesTransientFailures(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Complete", mock.Anything, mock.Anything).Return("", generator.ErrRateLimited).Times(2)
	gen.On("Complete", mock.Anything, mock.Anything).Return(appleJSON, nil).Once()

	rec := &sleepRecorder{}
	result := newTestExtractor(gen, rec).Extract(context.Background(), "text", nil)

	valid, ok := result.(Valid)
	require.True(t, ok)
	assert.Equal(t, 3, valid.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.delays)
	gen.AssertNumberOfCalls(t, "Complete", 3)
}

func TestExtractRetryScheduleIsDeterministic(t *testing.T) {
	for k := 0; k < 3; k++ {
		gen := &mockGenerator{}
		if k > 0 {
			gen.On("Complete", mock.Anything, mock.Anything).Return("", generator.ErrUnavailable).Times(k)
		}
		gen.On("Complete", mock.Anything, mock.Anything).Return(appleJSON, nil).Once()

		rec := &sleepRecorder{}
		result := newTestExtractor(gen, rec).Extract(context.Background(), "text", nil)

		require.IsType(t, Valid{}, result)
		require.Len(t, rec.delays, k, "%d transient failures must produce %d delays", k, k)
		if k > 0 {
			assert.Equal(t, DefaultBackoff().Schedule()[:k], rec.delays)
		}
	}
}

func TestExtractExhaustedRetries(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Complete", mock.Anything, mock.Anything).Return("", generator.ErrUnavailable)

	rec := &sleepRecorder{}
	result := newTestExtractor(gen, rec).Extract(context.Background(), "text", nil)

	failure, ok := result.(SoftFailure)
	require.True(t, ok)
	assert.Equal(t, ReasonUnavailable, failure.Reason)
	assert.Equal(t, 3, failure.Attempts)
	assert.True(t, failure.Terminal())
	assert.Len(t, rec.delays, 2)
	gen.AssertNumberOfCalls(t, "Complete", 3)
}

func TestExtractPermanentFailureIsNotRetried(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Complete", mock.Anything, mock.Anything).Return("", generator.ErrUnauthorized).Once()

	rec := &sleepRecorder{}
	result := newTestExtractor(gen, rec).Extract(context.Background(), "text", nil)

	failure, ok := result.(SoftFailure)
	require.True(t, ok)
	assert.Equal(t, ReasonPermanent, failure.Reason)
	assert.Equal(t, 1, failure.Attempts)
	assert.Empty(t, rec.delays)
	gen.AssertExpectations(t)
}

func TestExtractUnparseableAndInvalid(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason FailureReason
	}{
		{"Plain refusal", "I'm sorry, I cannot help with that.", ReasonUnparseable},
		{"Array instead of object", `["earnings", "positive"]`, ReasonUnparseable},
		{"Unknown sentiment", `{"company": "Apple Inc", "event_type": "earnings", "sentiment": "ecstatic"}`, ReasonInvalid},
		{"Missing sentiment", `{"company": "Apple Inc", "event_type": "earnings"}`, ReasonInvalid},
		{"Missing event type", `{"company": "Apple Inc", "sentiment": "positive"}`, ReasonInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failure, ok := extractRaw(t, tt.raw).(SoftFailure)
			require.True(t, ok)
			assert.Equal(t, tt.reason, failure.Reason)
			assert.Equal(t, tt.raw, failure.Raw)
			assert.False(t, failure.Terminal())
		})
	}
}

func TestExtractNormalizesFields(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		confidence float64
		sentiment  string
		eventType  string
	}{
		{"Confidence above one", `{"event_type": "earnings", "sentiment": "positive", "confidence_score": 1.7}`, 1, "positive", "earnings"},
		{"Negative confidence", `{"event_type": "earnings", "sentiment": "positive", "confidence_score": -0.3}`, 0, "positive", "earnings"},
		{"Percent string", `{"event_type": "earnings", "sentiment": "positive", "confidence_score": "95%"}`, 0.95, "positive", "earnings"},
		{"Missing confidence", `{"event_type": "earnings", "sentiment": "positive"}`, DefaultConfidence, "positive", "earnings"},
		{"Non-numeric confidence", `{"event_type": "earnings", "sentiment": "positive", "confidence_score": "high"}`, DefaultConfidence, "positive", "earnings"},
		{"Bullish synonym", `{"event_type": "Upgrade", "sentiment": "Bullish", "confidence_score": 0.7}`, 0.7, "positive", "upgrade"},
		{"Bearish synonym", `{"event_type": "downgrade", "sentiment": "bearish", "confidence_score": 0.7}`, 0.7, "negative", "downgrade"},
		{"Mixed synonym", `{"event_type": "earnings", "sentiment": "mixed", "confidence_score": 0.7}`, 0.7, "neutral", "earnings"},
		{"Plural event type", `{"event_type": "Acquisitions", "sentiment": "neutral", "confidence_score": 0.6}`, 0.6, "neutral", "acquisition"},
		{"Unknown event type", `{"event_type": "stock split", "sentiment": "neutral", "confidence_score": 0.6}`, 0.6, "neutral", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, ok := extractRaw(t, tt.raw).(Valid)
			require.True(t, ok)
			assert.Equal(t, tt.confidence, valid.Event.Confidence)
			assert.Equal(t, tt.sentiment, valid.Event.Sentiment)
			assert.Equal(t, tt.eventType, valid.Event.EventType)
		})
	}
}

func TestExtractStringifiesMetrics(t *testing.T) {
	raw := `{"company": null, "event_type": "earnings", "sentiment": "neutral", "extra": true,
		"key_metrics": {"revenue": 123.5, "profit": "if mentioned", "loss": null, "guidance": "", "beat": true, "segments": ["iPhone", "Mac"]}}`

	valid, ok := extractRaw(t, raw).(Valid)
	require.True(t, ok)
	assert.Equal(t, "", valid.Event.Company)
	assert.Equal(t, map[string]string{
		"revenue":  "123.5",
		"beat":     "true",
		"segments": `["iPhone","Mac"]`,
	}, valid.Event.KeyMetrics)
}

func TestExtractWithoutGenerator(t *testing.T) {
	var missing *Extractor
	failure, ok := missing.Extract(context.Background(), "text", nil).(SoftFailure)
	require.True(t, ok)
	assert.Equal(t, ReasonUnavailable, failure.Reason)

	failure, ok = New(nil, Config{}).Extract(context.Background(), "text", nil).(SoftFailure)
	require.True(t, ok)
	assert.Equal(t, ReasonUnavailable, failure.Reason)
	assert.Equal(t, 0, failure.Attempts)
}

func TestExtractCallTimeout(t *testing.T) {
	gen := generator.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	e := New(gen, Config{Backoff: Backoff{MaxAttempts: 1}, CallTimeout: 10 * time.Millisecond})
	failure, ok := e.Extract(context.Background(), "text", nil).(SoftFailure)
	require.True(t, ok)
	assert.Equal(t, ReasonUnavailable, failure.Reason)
	assert.Equal(t, 1, failure.Attempts)
}

func TestExtractReleasesSemaphoreWhileSleeping(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	gen := &mockGenerator{}
	gen.On("Complete", mock.Anything, mock.Anything).Return("", generator.ErrRateLimited).Once()
	gen.On("Complete", mock.Anything, mock.Anything).Return(appleJSON, nil).Once()

	slotFree := false
	sleep := func(ctx context.Context, d time.Duration) error {
		if sem.TryAcquire(1) {
			slotFree = true
			sem.Release(1)
		}
		return nil
	}

	e := New(gen, Config{Backoff: DefaultBackoff(), CallTimeout: time.Second}, WithSemaphore(sem), WithSleep(sleep))
	require.IsType(t, Valid{}, e.Extract(context.Background(), "text", nil))
	assert.True(t, slotFree, "the in-flight slot must be released before sleeping")

	// and released after the call
	assert.True(t, sem.TryAcquire(1))
}

func TestExtractCancelledWhileWaitingForSlot(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	require.True(t, sem.TryAcquire(1))

	gen := &mockGenerator{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	failure, ok := New(gen, Config{}, WithSemaphore(sem)).Extract(ctx, "text", nil).(SoftFailure)
	require.True(t, ok)
	assert.Equal(t, ReasonUnavailable, failure.Reason)
	gen.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestBackoffSchedule(t *testing.T) {
	tests := []struct {
		name     string
		backoff  Backoff
		expected []time.Duration
	}{
		{"Default", DefaultBackoff(), []time.Duration{2 * time.Second, 4 * time.Second}},
		{"Capped", Backoff{MaxAttempts: 5, Base: 2 * time.Second, Max: 10 * time.Second}, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}},
		{"Single attempt", Backoff{MaxAttempts: 1, Base: time.Second}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.backoff.Schedule())
		})
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Jitter: 0.2}
	assert.InDelta(t, float64(8*time.Second), float64(b.withJitter(10*time.Second, 0)), float64(time.Millisecond))
	assert.InDelta(t, float64(10*time.Second), float64(b.withJitter(10*time.Second, 0.5)), float64(time.Millisecond))
	assert.InDelta(t, float64(12*time.Second), float64(b.withJitter(10*time.Second, 0.999999)), float64(time.Millisecond))

	assert.Equal(t, 10*time.Second, Backoff{}.withJitter(10*time.Second, 0.9))
}

func TestPromptRender(t *testing.T) {
	p := DefaultPrompt()

	out, err := p.Render("Apple Inc. reported earnings.")
	require.NoError(t, err)
	assert.Contains(t, out, "Apple Inc. reported earnings.")
	assert.Contains(t, out, "earnings, merger, acquisition")
	assert.Contains(t, out, "positive, neutral, negative")

	long := strings.Repeat("é", 2000) // 4000 bytes
	out, err = p.Render(long)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(out))
	assert.NotContains(t, out, strings.Repeat("é", 1501))
	assert.Contains(t, out, strings.Repeat("é", 1500))
}

func TestParsePromptErrors(t *testing.T) {
	_, err := ParsePrompt("{{.Text")
	assert.Error(t, err)

	p, err := ParsePrompt("{{.Missing}}")
	require.NoError(t, err)
	_, err = p.Render("text")
	assert.Error(t, err)

	_, err = LoadPrompt("testdata/does-not-exist.tmpl")
	assert.Error(t, err)

	p, err = LoadPrompt("")
	require.NoError(t, err)
	assert.NotNil(t, p)
}
