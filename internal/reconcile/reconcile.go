// Package reconcile merges the entity set and the structured candidate of
// one article into a single scored event.
package reconcile

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"fin-news/internal/entities"
	"fin-news/internal/extraction"
)

const (
	MethodReconciled = "reconciled"
	MethodDegraded   = "degraded"

	// EventTypeUnclassified marks events built without a structured candidate
	EventTypeUnclassified = "unclassified"

	// Keys under which unclaimed entity figures are supplied
	MetricAmounts     = "amounts"
	MetricPercentages = "percentages"
)

// Audit statuses of the generator exchange
const (
	AuditValid       = "valid"
	AuditSoftFailure = "soft_failure"
	AuditNone        = "none"
)

// Config holds the confidence penalties
type Config struct {
	CompanyMismatchPenalty  float64
	MissingCompanyPenalty   float64
	EmptyMetricsPenalty     float64
	UnverifiedMetricPenalty float64
	MaxUnverifiedPenalty    float64
	FallbackConfidence      float64
}

// DefaultConfig returns the standard penalties
func DefaultConfig() Config {
	return Config{
		CompanyMismatchPenalty:  0.15,
		MissingCompanyPenalty:   0.05,
		EmptyMetricsPenalty:     0.1,
		UnverifiedMetricPenalty: 0.05,
		MaxUnverifiedPenalty:    0.2,
		FallbackConfidence:      0.2,
	}
}

// Adjustment is one rule applied while reconciling
type Adjustment struct {
	Rule    string  `json:"rule"`
	Penalty float64 `json:"penalty"`
	Detail  string  `json:"detail,omitempty"`
}

// Audit is the persisted record of the generator exchange and the rules
// applied to its answer
type Audit struct {
	Status      string       `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	Detail      string       `json:"detail,omitempty"`
	Strategy    string       `json:"strategy,omitempty"`
	Attempts    int          `json:"attempts"`
	Response    string       `json:"response,omitempty"`
	Adjustments []Adjustment `json:"adjustments"`
}

// Event is the reconciled result for one article
type Event struct {
	Company    string
	Sector     string
	EventType  string
	Sentiment  string
	Confidence float64
	KeyMetrics map[string]string
	Summary    string
	Method     string
	Entities   entities.Report
	Audit      Audit
}

// Lookup resolves an organization name against a gazetteer
type Lookup func(name string) (entities.KnownOrganization, bool)

// Option customizes a Reconciler
type Option func(*Reconciler)

// WithLookup lets company matching and sector filling use a gazetteer
func WithLookup(lookup Lookup) Option {
	return func(r *Reconciler) { r.lookup = lookup }
}

// Reconciler applies deterministic merge and scoring rules
type Reconciler struct {
	cfg    Config
	lookup Lookup
}

// New creates a reconciler
func New(cfg Config, opts ...Option) *Reconciler {
	r := &Reconciler{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile merges both extractors' output. It returns nil only when there
// are no entities and no valid candidate.
func (r *Reconciler) Reconcile(set entities.EntitySet, candidate extraction.Candidate) *Event {
	audit := Audit{Status: AuditNone, Adjustments: []Adjustment{}}

	switch c := candidate.(type) {
	case extraction.Valid:
		audit.Status = AuditValid
		audit.Strategy = c.Strategy
		audit.Attempts = c.Attempts
		audit.Response = c.Raw
		return r.reconciled(set, c.Event, audit)
	case extraction.SoftFailure:
		audit.Status = AuditSoftFailure
		audit.Reason = string(c.Reason)
		audit.Detail = c.Detail
		audit.Attempts = c.Attempts
		audit.Response = c.Raw
	}

	if !set.HasFinancialEvidence() {
		return nil
	}
	return r.degraded(set, audit)
}

func (r *Reconciler) reconciled(set entities.EntitySet, cand extraction.Event, audit Audit) *Event {
	score := cand.Confidence
	penalize := func(rule string, penalty float64, detail string) {
		score -= penalty
		audit.Adjustments = append(audit.Adjustments, Adjustment{Rule: rule, Penalty: penalty, Detail: detail})
	}

	orgs := set.Organizations()
	company := strings.TrimSpace(cand.Company)
	switch {
	case company == "":
		company = set.TopOrganization()
		penalize("missing_company", r.cfg.MissingCompanyPenalty, company)
	case len(orgs) > 0 && !r.matchesAny(company, orgs):
		penalize("company_mismatch", r.cfg.CompanyMismatchPenalty, company)
	}

	sector := strings.TrimSpace(cand.Sector)
	if sector == "" {
		sector = r.sectorOf(company)
	}

	metrics, unverified := crossCheck(set, cand.KeyMetrics)
	if len(unverified) > 0 {
		penalty := math.Min(float64(len(unverified))*r.cfg.UnverifiedMetricPenalty, r.cfg.MaxUnverifiedPenalty)
		penalize("unverified_metrics", penalty, strings.Join(unverified, ", "))
	}
	if len(metrics) == 0 {
		penalize("empty_metrics", r.cfg.EmptyMetricsPenalty, "")
	}

	return &Event{
		Company:    company,
		Sector:     sector,
		EventType:  cand.EventType,
		Sentiment:  cand.Sentiment,
		Confidence: clamp(score),
		KeyMetrics: metrics,
		Summary:    cand.Summary,
		Method:     MethodReconciled,
		Entities:   set.Report(),
		Audit:      audit,
	}
}

func (r *Reconciler) degraded(set entities.EntitySet, audit Audit) *Event {
	metrics, _ := crossCheck(set, nil)
	company := set.TopOrganization()

	return &Event{
		Company:    company,
		Sector:     r.sectorOf(company),
		EventType:  EventTypeUnclassified,
		Sentiment:  "neutral",
		Confidence: clamp(r.cfg.FallbackConfidence),
		KeyMetrics: metrics,
		Method:     MethodDegraded,
		Entities:   set.Report(),
		Audit:      audit,
	}
}

// crossCheck copies candidate metrics, returning the keys of numeric values
// no MONEY or PERCENT entity supports. Entity figures no metric claimed are
// supplied under MetricAmounts and MetricPercentages.
func crossCheck(set entities.EntitySet, candidate map[string]string) (map[string]string, []string) {
	type figure struct {
		text    string
		q       quantity
		claimed bool
	}

	var figures []*figure
	for _, e := range set.Entities {
		if e.Category != entities.Monetary && e.Category != entities.Percentage {
			continue
		}
		q, ok := parseQuantity(e.Text)
		if !ok {
			continue
		}
		if e.Category == entities.Percentage {
			q.percent = true
		}
		figures = append(figures, &figure{text: e.Text, q: q})
	}

	keys := make([]string, 0, len(candidate))
	for key := range candidate {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	metrics := make(map[string]string, len(candidate)+2)
	var unverified []string
	for _, key := range keys {
		value := candidate[key]
		metrics[key] = value

		q, ok := parseQuantity(value)
		if !ok {
			continue
		}
		verified := false
		for _, f := range figures {
			if q.matches(f.q) {
				f.claimed = true
				verified = true
			}
		}
		if !verified {
			unverified = append(unverified, key)
		}
	}

	supply := func(key string, percent bool) {
		if _, taken := metrics[key]; taken {
			return
		}
		var values []string
		seen := make(map[string]bool)
		for _, f := range figures {
			if f.claimed || f.q.percent != percent || seen[f.text] {
				continue
			}
			seen[f.text] = true
			values = append(values, f.text)
		}
		if len(values) > 0 {
			metrics[key] = strings.Join(values, "; ")
		}
	}
	supply(MetricAmounts, false)
	supply(MetricPercentages, true)

	return metrics, unverified
}

// matchesAny reports whether company shares a significant token with any
// organization, or resolves to the same gazetteer entry as one
func (r *Reconciler) matchesAny(company string, orgs []string) bool {
	want := tokens(company)
	known, isKnown := r.resolve(company)

	for _, org := range orgs {
		for token := range tokens(org) {
			if want[token] {
				return true
			}
		}
		if isKnown {
			if other, ok := r.resolve(org); ok && other.Name == known.Name {
				return true
			}
		}
	}
	return false
}

func (r *Reconciler) resolve(name string) (entities.KnownOrganization, bool) {
	if r.lookup == nil || name == "" {
		return entities.KnownOrganization{}, false
	}
	return r.lookup(name)
}

func (r *Reconciler) sectorOf(company string) string {
	if org, ok := r.resolve(company); ok {
		return org.Sector
	}
	return ""
}

// Words that never identify a company on their own
var insignificant = map[string]bool{
	"inc": true, "incorporated": true, "corp": true, "corporation": true, "co": true,
	"company": true, "ltd": true, "limited": true, "llc": true, "llp": true, "plc": true,
	"ag": true, "sa": true, "nv": true, "se": true, "group": true, "holdings": true,
	"holding": true, "the": true, "and": true, "of": true, "com": true,
}

func tokens(name string) map[string]bool {
	out := make(map[string]bool)
	for _, word := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(word) < 2 || insignificant[word] {
			continue
		}
		out[word] = true
	}
	return out
}

// clamp bounds a score to [0,1] and rounds it to four decimals so equal
// inputs always persist equal scores
func clamp(score float64) float64 {
	score = math.Round(score*1e4) / 1e4
	switch {
	case math.IsNaN(score):
		return 0
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}
