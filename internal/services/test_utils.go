package services

import (
	"fmt"
	"strings"
	"testing"

	"fin-news/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a private in-memory sqlite database with the schema migrated
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "failed to open test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection serializes writers so sqlite never reports a locked database
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.AutoMigrate(db), "failed to migrate test database")

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}
