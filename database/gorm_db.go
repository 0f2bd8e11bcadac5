package database

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camden-git/photoner/models"
)

// InitGormDB opens (creating if needed) the sqlite audit database. gorm's
// own log lines go to log.
func InitGormDB(dataSourceName string, verbose bool, log *slog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir := filepath.Dir(dataSourceName); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory '%s': %w", dir, err)
		}
	}

	level, slogLevel := logger.Warn, slog.LevelWarn
	if verbose {
		level, slogLevel = logger.Info, slog.LevelDebug
	}
	gormLogger := logger.New(
		newSlogWriter(log, slogLevel),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dataSourceName), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}

	// single writer
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
		log.Warn("failed to set WAL mode", "error", err)
	}

	return db, nil
}

// AutoMigrateModels creates or updates the audit tables and their indexes
func AutoMigrateModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.ProcessingRecord{},
		&models.CleanupEvent{},
	)
	if err != nil {
		return fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}
	return nil
}

// Open is InitGormDB followed by AutoMigrateModels
func Open(dataSourceName string, verbose bool, log *slog.Logger) (*gorm.DB, error) {
	db, err := InitGormDB(dataSourceName, verbose, log)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrateModels(db); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	return db, nil
}
