package extraction

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// wireEvent is the generator's answer before validation. Every field
// tolerates the wrong JSON type so that a structurally valid object always
// decodes.
type wireEvent struct {
	Company    looseString  `json:"company"`
	Sector     looseString  `json:"sector"`
	EventType  looseString  `json:"event_type"`
	Sentiment  looseString  `json:"sentiment"`
	Confidence looseNumber  `json:"confidence_score"`
	KeyMetrics looseMetrics `json:"key_metrics"`
	Summary    looseString  `json:"summary"`
}

type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	*s = looseString(scalarString(data))
	return nil
}

type looseNumber struct {
	Value float64
	Set   bool
}

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	n.Value, n.Set = parseConfidence(scalarString(data))
	return nil
}

type looseMetrics map[string]string

func (m *looseMetrics) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*m = nil
		return nil
	}

	out := make(looseMetrics, len(raw))
	for key, value := range raw {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		text := scalarString(value)
		if text == "" && len(bytes.TrimSpace(value)) > 0 && value[0] != '"' && string(value) != "null" {
			// Nested objects and arrays are kept as compact JSON
			var compact bytes.Buffer
			if json.Compact(&compact, value) == nil {
				text = compact.String()
			}
		}
		out[key] = text
	}
	*m = out
	return nil
}

// scalarString renders a JSON scalar as text. Objects, arrays and null
// become the empty string.
func scalarString(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case 't', 'f':
		return string(data)
	case 'n', '{', '[':
		return ""
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// parseConfidence reads a number, a numeric string or a percentage
func parseConfidence(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}

	percent := strings.HasSuffix(text, "%")
	text = strings.TrimSpace(strings.TrimSuffix(text, "%"))

	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	if percent {
		f /= 100
	}
	return f, true
}

// RepairStrategy tries to recover an event object from a raw response
type RepairStrategy struct {
	Name  string
	Apply func(raw string) (*wireEvent, bool)
}

// DefaultRepairChain is tried in order until one strategy succeeds
func DefaultRepairChain() []RepairStrategy {
	return []RepairStrategy{
		{Name: "direct", Apply: repairDirect},
		{Name: "code_fence", Apply: repairCodeFence},
		{Name: "largest_object", Apply: repairLargestObject},
		{Name: "field_salvage", Apply: repairFieldSalvage},
	}
}

func decodeObject(text string) (*wireEvent, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return nil, false
	}
	var w wireEvent
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return nil, false
	}
	return &w, true
}

func repairDirect(raw string) (*wireEvent, bool) {
	return decodeObject(raw)
}

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z]*\\s*(.*?)```")

func repairCodeFence(raw string) (*wireEvent, bool) {
	for _, m := range fencePattern.FindAllStringSubmatch(raw, -1) {
		if w, ok := decodeObject(m[1]); ok {
			return w, true
		}
	}
	return nil, false
}

// repairLargestObject decodes the largest balanced {...} substring that is
// valid JSON and carries a classifying field. Nested objects are considered
// too, so an answer wrapped in an envelope still yields the inner event.
func repairLargestObject(raw string) (*wireEvent, bool) {
	objects := balancedObjects(raw)
	sort.SliceStable(objects, func(i, j int) bool { return len(objects[i]) > len(objects[j]) })

	var fallback *wireEvent
	for _, obj := range objects {
		w, ok := decodeObject(obj)
		if !ok {
			continue
		}
		if w.classified() {
			return w, true
		}
		if fallback == nil {
			fallback = w
		}
	}
	return fallback, fallback != nil
}

// classified reports whether the object names an event type or sentiment
func (w *wireEvent) classified() bool {
	return strings.TrimSpace(string(w.EventType)) != "" || strings.TrimSpace(string(w.Sentiment)) != ""
}

// balancedObjects returns every brace-balanced substring, ignoring braces
// inside JSON strings
func balancedObjects(raw string) []string {
	var (
		objects  []string
		starts   []int
		inString bool
		escaped  bool
	)

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if len(starts) > 0 {
				inString = true
			}
		case '{':
			starts = append(starts, i)
		case '}':
			if len(starts) == 0 {
				continue
			}
			start := starts[len(starts)-1]
			starts = starts[:len(starts)-1]
			objects = append(objects, raw[start:i+1])
		}
	}
	return objects
}

var (
	stringFieldPattern = `"%s"\s*:\s*"((?:[^"\\]|\\.)*)"`
	salvageFields      = map[string]*regexp.Regexp{}
	confidencePattern  = regexp.MustCompile(`"confidence_score"\s*:\s*"?\s*(-?\d+(?:\.\d+)?\s*%?)`)
	metricsPattern     = regexp.MustCompile(`"key_metrics"\s*:\s*\{([^{}]*)`)
	metricPairPattern  = regexp.MustCompile(`"([^"\\]+)"\s*:\s*("(?:[^"\\]|\\.)*"|-?\d+(?:\.\d+)?)`)
)

func init() {
	for _, field := range []string{"company", "sector", "event_type", "sentiment", "summary"} {
		salvageFields[field] = regexp.MustCompile(strings.Replace(stringFieldPattern, "%s", field, 1))
	}
}

// repairFieldSalvage pulls individual fields out of truncated or otherwise
// broken JSON. It succeeds only when a classifying field was found.
func repairFieldSalvage(raw string) (*wireEvent, bool) {
	field := func(name string) looseString {
		m := salvageFields[name].FindStringSubmatch(raw)
		if m == nil {
			return ""
		}
		return looseString(scalarString([]byte(`"` + m[1] + `"`)))
	}

	w := &wireEvent{
		Company:   field("company"),
		Sector:    field("sector"),
		EventType: field("event_type"),
		Sentiment: field("sentiment"),
		Summary:   field("summary"),
	}
	if !w.classified() {
		return nil, false
	}

	if m := confidencePattern.FindStringSubmatch(raw); m != nil {
		w.Confidence.Value, w.Confidence.Set = parseConfidence(m[1])
	}

	if m := metricsPattern.FindStringSubmatch(raw); m != nil {
		metrics := make(looseMetrics)
		for _, pair := range metricPairPattern.FindAllStringSubmatch(m[1], -1) {
			metrics[pair[1]] = scalarString([]byte(pair[2]))
		}
		w.KeyMetrics = metrics
	}

	return w, true
}
