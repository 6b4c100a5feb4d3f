// Package extraction asks the generative service for a structured event and
// turns whatever comes back into either a validated candidate or a typed
// soft failure. It never returns an error: the caller always gets something
// it can reconcile.
package extraction

// Event is a validated structured extraction
type Event struct {
	Company    string            `json:"company"`
	Sector     string            `json:"sector"`
	EventType  string            `json:"event_type"`
	Sentiment  string            `json:"sentiment"`
	Confidence float64           `json:"confidence_score"`
	KeyMetrics map[string]string `json:"key_metrics"`
	Summary    string            `json:"summary"`
}

// Candidate is the outcome of one extraction: Valid or SoftFailure
type Candidate interface {
	candidate()
}

// Valid carries a validated event and the response it came from
type Valid struct {
	Event    Event
	Raw      string
	Strategy string
	Attempts int
}

// FailureReason classifies a soft failure
type FailureReason string

const (
	// ReasonUnavailable means the service could not be reached in time
	ReasonUnavailable FailureReason = "unavailable"
	// ReasonPermanent means the service rejected the request
	ReasonPermanent FailureReason = "permanent"
	// ReasonUnparseable means no repair strategy recovered an object
	ReasonUnparseable FailureReason = "unparseable"
	// ReasonInvalid means an object was recovered but failed validation
	ReasonInvalid FailureReason = "invalid"
	// ReasonPanic means the extraction path crashed
	ReasonPanic FailureReason = "panic"
)

// SoftFailure records why no valid candidate was produced
type SoftFailure struct {
	Reason   FailureReason
	Detail   string
	Raw      string
	Attempts int
}

func (Valid) candidate()       {}
func (SoftFailure) candidate() {}

// Terminal reports whether trying another segment of the same article is
// pointless after this failure
func (f SoftFailure) Terminal() bool {
	return f.Reason == ReasonUnavailable || f.Reason == ReasonPermanent
}
