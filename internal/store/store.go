// Package store persists series, overrides and RSVPs with gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	appLog "github.com/joshuaslong/labor-membership-sub000/internal/log"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
)

var (
	// ErrNotFound is returned when a series does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIntegrityHold is returned for writes to a series whose split lineage
	// was found inconsistent. It stays until the flag is cleared by hand.
	ErrIntegrityHold = errors.New("series is on integrity hold pending repair")
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store wraps a gorm handle. Inside Transaction the handle is the
// transaction, so every method participates in it.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database. Postgres is the production
// backend; sqlite is for local development and tests.
func Open(driver, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres, "":
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(gormWriter{}, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// One writer at a time; sqlite reports SQLITE_BUSY otherwise.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	appLog.Info("database connected", "driver", driver)
	return &Store{db: db}, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&model.EventSeries{}, &model.InstanceOverride{}, &model.RsvpRecord{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks connectivity, used by /health.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Transaction runs fn in a single database transaction. Any error returned
// by fn rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) with(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// gormWriter routes gorm's logger into the application log.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...any) {
	appLog.Warn("gorm", "msg", fmt.Sprintf(format, args...))
}
