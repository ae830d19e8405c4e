// Package database owns the shared gorm connection, the persisted data
// model and the change-data store used by the scan pipeline, playback
// engine and playlist generators.
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Initialize opens the database connection described by the configuration.
// Module schemas are migrated later by the module manager.
func Initialize(cfg *config.Config) error {
	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Database.Type {
	case "postgres":
		db, err = connectPostgres(cfg)
	case "sqlite":
		db, err = connectSQLite(cfg)
	default:
		return fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s database: %w", cfg.Database.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access underlying connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	DB = db
	logger.InfoStructured("✅ Database initialized", logger.String("type", cfg.Database.Type))
	return nil
}

func connectPostgres(cfg *config.Config) (*gorm.DB, error) {
	dsn := cfg.Database.URL
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host, cfg.Database.Username, cfg.Database.Password,
			cfg.Database.Database, cfg.Database.Port)
	}

	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger(cfg),
	})
}

func connectSQLite(cfg *config.Config) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	return gorm.Open(sqlite.Open(cfg.Database.DatabasePath), &gorm.Config{
		Logger: gormLogger(cfg),
	})
}

// gormLogger keeps gorm quiet unless query logging is asked for
func gormLogger(cfg *config.Config) gormlogger.Interface {
	if cfg.Database.LogQueries || cfg.Logging.Level == "debug" {
		return gormlogger.Default.LogMode(gormlogger.Info)
	}
	return gormlogger.Default.LogMode(gormlogger.Warn)
}

// GetDB returns the shared database instance
func GetDB() *gorm.DB {
	return DB
}
