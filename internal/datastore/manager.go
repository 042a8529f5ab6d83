package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/logger"
)

// GetLogger returns the datastore module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}

// gormStore implements Store on top of gorm.
type gormStore struct {
	db *gorm.DB
}

// New wraps an open gorm connection. The schema must already be migrated.
func New(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// Open opens the configured database and migrates the schema.
func Open(settings *conf.DatabaseSettings) (Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), settings.SlowThreshold),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch settings.Type {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			settings.MySQL.Username, settings.MySQL.Password,
			settings.MySQL.Host, settings.MySQL.Port, settings.MySQL.Database)
		db, err = gorm.Open(mysql.Open(dsn), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open MySQL database: %w", err)
		}
	default:
		path := settings.SQLite.Path
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	GetLogger().Info("database opened", logger.String("type", settings.Type))
	return New(db), nil
}

// Migrate creates or updates the schema for every entity.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(entities.All()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
