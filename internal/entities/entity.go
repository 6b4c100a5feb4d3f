// Package entities recognizes financial entities (organizations, monetary
// amounts, dates, percentages, tickers) in article text with deterministic
// rules. Results are a cross-check for the generative extractor.
package entities

import (
	"sort"
	"strings"
)

// Category labels an entity span
type Category string

const (
	Organization Category = "ORG"
	Monetary     Category = "MONEY"
	Date         Category = "DATE"
	Percentage   Category = "PERCENT"
	Ticker       Category = "TICKER"
)

// priority breaks ties between equal spans of different categories
var priority = map[Category]int{
	Organization: 0,
	Monetary:     1,
	Percentage:   2,
	Date:         3,
	Ticker:       4,
}

// Entity is a typed span. Start and End are byte offsets, End exclusive.
type Entity struct {
	Text     string   `json:"text"`
	Category Category `json:"label"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
}

// EntitySet holds non-overlapping entities ordered by position
type EntitySet struct {
	Entities []Entity `json:"entities"`
}

// MetricCandidates are the distinct metric-like strings found, in order of appearance
type MetricCandidates struct {
	MonetaryValues []string `json:"monetary_values"`
	Percentages    []string `json:"percentages"`
	Dates          []string `json:"dates"`
}

// Report is the persisted form of an entity set
type Report struct {
	Organizations []string         `json:"organizations"`
	Tickers       []string         `json:"tickers"`
	Metrics       MetricCandidates `json:"metrics"`
	Entities      []Entity         `json:"entities"`
}

// Empty reports whether nothing was recognized
func (s EntitySet) Empty() bool {
	return len(s.Entities) == 0
}

// HasFinancialEvidence reports whether any organization, amount, percentage
// or ticker was found. Dates alone do not count.
func (s EntitySet) HasFinancialEvidence() bool {
	for _, e := range s.Entities {
		if e.Category != Date {
			return true
		}
	}
	return false
}

// ByCategory returns entities of one category in order
func (s EntitySet) ByCategory(c Category) []Entity {
	var out []Entity
	for _, e := range s.Entities {
		if e.Category == c {
			out = append(out, e)
		}
	}
	return out
}

// Organizations returns distinct organization names in order of appearance
func (s EntitySet) Organizations() []string {
	return distinctTexts(s.ByCategory(Organization))
}

// TopOrganization returns the most frequently mentioned organization.
// Ties go to the earliest mention.
func (s EntitySet) TopOrganization() string {
	counts := make(map[string]int)
	first := make(map[string]int)
	names := make(map[string]string)

	for i, e := range s.ByCategory(Organization) {
		key := strings.ToLower(e.Text)
		if _, seen := first[key]; !seen {
			first[key] = i
			names[key] = e.Text
		}
		counts[key]++
	}

	best := ""
	for key, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && first[key] < first[best]) {
			best = key
		}
	}
	return names[best]
}

// Metrics derives metric candidates from monetary, percentage and date spans
func (s EntitySet) Metrics() MetricCandidates {
	return MetricCandidates{
		MonetaryValues: distinctTexts(s.ByCategory(Monetary)),
		Percentages:    distinctTexts(s.ByCategory(Percentage)),
		Dates:          distinctTexts(s.ByCategory(Date)),
	}
}

// Report builds the persisted summary of the set
func (s EntitySet) Report() Report {
	entities := s.Entities
	if entities == nil {
		entities = []Entity{}
	}
	metrics := s.Metrics()
	return Report{
		Organizations: nonNil(s.Organizations()),
		Tickers:       nonNil(distinctTexts(s.ByCategory(Ticker))),
		Metrics: MetricCandidates{
			MonetaryValues: nonNil(metrics.MonetaryValues),
			Percentages:    nonNil(metrics.Percentages),
			Dates:          nonNil(metrics.Dates),
		},
		Entities: entities,
	}
}

// Located pairs a segment's entity set with the segment's offset in the
// normalized article text.
type Located struct {
	Offset int
	Set    EntitySet
}

// Merge combines per-segment results into one article-level set. Offsets are
// shifted to article coordinates and duplicates from overlapping segments
// collapse into one span.
func Merge(parts []Located) EntitySet {
	var all []Entity
	for _, part := range parts {
		for _, e := range part.Set.Entities {
			e.Start += part.Offset
			e.End += part.Offset
			all = append(all, e)
		}
	}
	return EntitySet{Entities: resolveOverlaps(all)}
}

// resolveOverlaps keeps a deterministic, non-overlapping subset: earlier
// start wins, then the longer span, then category priority.
func resolveOverlaps(found []Entity) []Entity {
	if len(found) == 0 {
		return nil
	}

	sorted := make([]Entity, len(found))
	copy(sorted, found)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
			return la > lb
		}
		return priority[a.Category] < priority[b.Category]
	})

	kept := make([]Entity, 0, len(sorted))
	lastEnd := -1
	for _, e := range sorted {
		if e.Start < lastEnd {
			continue
		}
		kept = append(kept, e)
		lastEnd = e.End
	}
	return kept
}

func distinctTexts(entities []Entity) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range entities {
		if seen[e.Text] {
			continue
		}
		seen[e.Text] = true
		out = append(out, e.Text)
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
