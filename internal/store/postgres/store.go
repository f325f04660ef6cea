// Package postgres provides the gorm-backed implementation of the store interfaces.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/sitekiln/internal/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresStore implements the Store interface on top of gorm.
type PostgresStore struct {
	db     *gorm.DB
	logger *slog.Logger

	users     *UserStore
	jobs      *JobStore
	artifacts *ArtifactStore
	profiles  *ProfileStore
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(dsn string) *Config {
	return &Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// NewPostgresStore opens a PostgreSQL connection pool and returns a store using it.
func NewPostgresStore(cfg *Config, log *slog.Logger) (*PostgresStore, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := gorm.Open(postgres.New(postgres.Config{DSN: cfg.DSN}), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info("connected to PostgreSQL database")
	return New(db, log), nil
}

// New wraps an already opened gorm handle. Tests use it with SQLite.
func New(db *gorm.DB, log *slog.Logger) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{
		db:        db,
		logger:    log,
		users:     &UserStore{db: db, logger: log},
		jobs:      &JobStore{db: db, logger: log},
		artifacts: &ArtifactStore{db: db, logger: log},
		profiles:  &ProfileStore{db: db, logger: log},
	}
}

// DB exposes the gorm handle for components that share the connection.
func (s *PostgresStore) DB() *gorm.DB {
	return s.db
}

// Users returns the UserStore.
func (s *PostgresStore) Users() store.UserStore {
	return s.users
}

// Jobs returns the JobStore.
func (s *PostgresStore) Jobs() store.JobStore {
	return s.jobs
}

// Artifacts returns the ArtifactStore.
func (s *PostgresStore) Artifacts() store.ArtifactStore {
	return s.artifacts
}

// Profiles returns the ProfileStore.
func (s *PostgresStore) Profiles() store.ProfileStore {
	return s.profiles
}

// WithTx executes fn with a store bound to a single transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx, s.logger))
	})
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
