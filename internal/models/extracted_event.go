package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// KeyMetrics maps a metric name (revenue, growth_percent, ...) to its value as written
type KeyMetrics map[string]string

// ExtractedEvent is the canonical, confidence-scored record produced by one
// extraction pass over an article. Rows are immutable once written.
type ExtractedEvent struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	ArticleID uuid.UUID `json:"article_id" gorm:"type:uuid;not null;index"`

	Company         string                         `json:"company" gorm:"index"`
	Sector          string                         `json:"sector" gorm:"index"`
	EventType       string                         `json:"event_type" gorm:"index;not null"`
	Sentiment       string                         `json:"sentiment" gorm:"index;not null"`
	ConfidenceScore float64                        `json:"confidence_score" gorm:"not null"`
	KeyMetrics      datatypes.JSONType[KeyMetrics] `json:"key_metrics"`
	Summary         string                         `json:"summary" gorm:"type:text"`

	// Evidence kept for audit
	ExtractedEntities   datatypes.JSON `json:"extracted_entities"`
	RawStructuredOutput datatypes.JSON `json:"raw_structured_output"`
	ExtractionMethod    string         `json:"extraction_method"` // reconciled or degraded

	ExtractedAt time.Time `json:"extracted_at" gorm:"index;not null"`
}

// TableName sets the table name for the ExtractedEvent model
func (ExtractedEvent) TableName() string {
	return "extracted_events"
}

// BeforeCreate assigns identity and extraction time
func (e *ExtractedEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ExtractedAt.IsZero() {
		e.ExtractedAt = time.Now().UTC()
	}
	return nil
}

// Metrics returns the key metrics map (never nil)
func (e *ExtractedEvent) Metrics() KeyMetrics {
	m := e.KeyMetrics.Data()
	if m == nil {
		return KeyMetrics{}
	}
	return m
}
