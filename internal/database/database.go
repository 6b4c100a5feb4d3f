package database

import (
	"context"
	"fmt"
	"strings"

	"fin-news/internal/config"
	"fin-news/internal/logger"
	"fin-news/internal/models"

	"github.com/lib/pq"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DSN builds a PostgreSQL connection string. A postgres:// URL is converted
// to key/value form; otherwise the discrete fields are used.
func DSN(cfg config.DatabaseConfig) (string, error) {
	if cfg.URL != "" {
		if strings.HasPrefix(cfg.URL, "postgres://") || strings.HasPrefix(cfg.URL, "postgresql://") {
			dsn, err := pq.ParseURL(cfg.URL)
			if err != nil {
				return "", eris.Wrap(err, "failed to parse DATABASE_URL")
			}
			return dsn, nil
		}
		return cfg.URL, nil
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Name, cfg.SSLMode,
	)

	// Only add password if it's not empty
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}
	return dsn, nil
}

// Connect opens a PostgreSQL connection
func Connect(cfg config.DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}

	level := gormlogger.Warn
	if cfg.Debug {
		level = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Gorm(log, level),
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to connect to database")
	}

	log.Info().Msg("Successfully connected to database")
	return db, nil
}

// Migrate runs database migrations
func Migrate(db *gorm.DB, log zerolog.Logger) error {
	if db == nil {
		return eris.New("database connection not established")
	}

	if err := models.AutoMigrate(db); err != nil {
		return eris.Wrap(err, "failed to run migrations")
	}

	log.Info().Msg("Database migrations completed successfully")
	return nil
}

// Ping checks that the database answers
func Ping(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return eris.New("database connection not established")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return eris.Wrap(err, "failed to access database handle")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return eris.Wrap(err, "database ping failed")
	}
	return nil
}

// Close closes the database connection
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
