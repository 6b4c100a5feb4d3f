package extraction

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultConfidence is used when the generator omits a score
const DefaultConfidence = 0.5

var (
	sentimentSynonyms = map[string]string{
		"positive": "positive",
		"bullish":  "positive",
		"negative": "negative",
		"bearish":  "negative",
		"neutral":  "neutral",
		"mixed":    "neutral",
	}

	knownEventTypes = func() map[string]bool {
		m := make(map[string]bool, len(EventTypes))
		for _, t := range EventTypes {
			m[t] = true
		}
		return m
	}()

	// Values models put in fields they have nothing for
	placeholders = map[string]bool{
		"": true, "null": true, "none": true, "n/a": true, "na": true, "unknown": true,
		"if mentioned": true, "not mentioned": true, "not available": true, "not specified": true, "-": true,
	}
)

func isPlaceholder(s string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(s))]
}

// validate normalizes a recovered object into an Event
func validate(w *wireEvent) (Event, error) {
	sentiment := strings.ToLower(strings.TrimSpace(string(w.Sentiment)))
	if sentiment == "" {
		return Event{}, eris.New("missing sentiment")
	}
	normalized, ok := sentimentSynonyms[sentiment]
	if !ok {
		return Event{}, eris.Errorf("invalid sentiment %q", sentiment)
	}

	eventType := normalizeEventType(string(w.EventType))
	if eventType == "" {
		return Event{}, eris.New("missing event_type")
	}

	confidence := DefaultConfidence
	if w.Confidence.Set {
		confidence = clamp(w.Confidence.Value)
	}

	metrics := make(map[string]string, len(w.KeyMetrics))
	for key, value := range w.KeyMetrics {
		value = strings.TrimSpace(value)
		if isPlaceholder(value) {
			continue
		}
		metrics[key] = value
	}

	return Event{
		Company:    optional(string(w.Company)),
		Sector:     optional(string(w.Sector)),
		EventType:  eventType,
		Sentiment:  normalized,
		Confidence: confidence,
		KeyMetrics: metrics,
		Summary:    optional(string(w.Summary)),
	}, nil
}

func normalizeEventType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	if isPlaceholder(t) {
		return ""
	}
	if knownEventTypes[t] {
		return t
	}
	if singular := strings.TrimSuffix(t, "s"); knownEventTypes[singular] {
		return singular
	}
	return "other"
}

func optional(s string) string {
	if isPlaceholder(s) {
		return ""
	}
	return strings.TrimSpace(s)
}

func clamp(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return DefaultConfidence
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
