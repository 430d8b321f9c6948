package repository

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/scanium/enricher/internal/config"
	"github.com/scanium/enricher/internal/domain"
	applog "github.com/scanium/enricher/internal/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitAuditDB opens the audit database and migrates the run table.
// Parameters:
//   - cfg: audit configuration including driver and connection settings.
// Returns:
//   - *gorm.DB: initialized database handle.
//   - error: non-nil if connection or migration fails.
func InitAuditDB(cfg config.AuditConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	var db *gorm.DB
	var err error

	applog.GetDefault().Infof("[DB] Initializing audit database with driver: %q", cfg.Driver)

	switch cfg.Driver {
	case "postgres":
		db, err = initPostgres(cfg.AuditDSN(), gormConfig)
	default:
		db, err = initSQLite(cfg.AuditDSN(), gormConfig)
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&domain.EnrichmentRun{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}
	return db, nil
}

// initPostgres opens a PostgreSQL connection.
func initPostgres(dsn string, gormConfig *gorm.Config) (*gorm.DB, error) {
	// Simple protocol keeps transaction poolers working.
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return db, nil
}

// initSQLite opens a SQLite database, creating its directory if needed.
func initSQLite(path string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	return db, nil
}
