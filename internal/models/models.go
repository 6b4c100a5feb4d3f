// Package models contains all data models for the fin-news application
package models

import (
	"errors"

	"gorm.io/gorm"
)

// ErrArticleNotPending is returned when a state transition finds the article
// already processed (or gone).
var ErrArticleNotPending = errors.New("article is not pending")

// AllModels returns a slice of all model types for database migrations
func AllModels() []interface{} {
	return []interface{}{
		&Article{},
		&ExtractedEvent{},
	}
}

// AutoMigrate runs automatic migrations for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
