package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/mdmcmusicads/smartlink/internal/analytics"
	"github.com/mdmcmusicads/smartlink/internal/cache"
	"github.com/mdmcmusicads/smartlink/internal/smartlinks"
	"github.com/mdmcmusicads/smartlink/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema and data migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate creates or updates every table owned by the service.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&users.Account{},
		&smartlinks.SmartLink{},
		&analytics.Record{},
		&cache.Entry{},
		&migrationRecord{},
	)
}
