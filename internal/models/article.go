package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProcessingState tracks an article through the extraction pipeline
type ProcessingState string

const (
	StatePending   ProcessingState = "pending"
	StateProcessed ProcessingState = "processed"
)

// ExtractionOutcome records what a successful extraction pass produced
type ExtractionOutcome string

const (
	OutcomeEvent    ExtractionOutcome = "event"
	OutcomeDegraded ExtractionOutcome = "degraded"
	OutcomeEmpty    ExtractionOutcome = "empty" // pass ran, nothing financial found
)

// Article represents an ingested news item awaiting or having had extraction
type Article struct {
	ID              uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	Title           string     `json:"title" gorm:"not null"`
	Source          string     `json:"source" gorm:"index"`
	URL             string     `json:"url" gorm:"uniqueIndex;not null"` // Canonical URL
	PublicationDate *time.Time `json:"publication_date"`
	Content         string     `json:"content" gorm:"type:text"`
	FetchedAt       time.Time  `json:"fetched_at" gorm:"index;not null"`

	ProcessingState   ProcessingState   `json:"processing_state" gorm:"type:varchar(16);index;not null"`
	ExtractionOutcome ExtractionOutcome `json:"extraction_outcome,omitempty" gorm:"type:varchar(16)"`
	ProcessedAt       *time.Time        `json:"processed_at,omitempty"`

	// Attempt tracking, kept even when a pass fails and the article stays pending
	ExtractionAttempts int        `json:"extraction_attempts" gorm:"default:0;index"`
	LastError          string     `json:"last_error,omitempty" gorm:"type:text"`
	LastAttemptAt      *time.Time `json:"last_attempt_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Events []ExtractedEvent `json:"events,omitempty" gorm:"foreignKey:ArticleID;constraint:OnDelete:CASCADE"`
}

// TableName sets the table name for the Article model
func (Article) TableName() string {
	return "articles"
}

// BeforeCreate assigns identity and initial state
func (a *Article) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.FetchedAt.IsZero() {
		a.FetchedAt = time.Now().UTC()
	}
	if a.ProcessingState == "" {
		a.ProcessingState = StatePending
	}
	return nil
}

// IsProcessed reports whether the article completed an extraction pass
func (a *Article) IsProcessed() bool {
	return a.ProcessingState == StateProcessed
}
