// Package store persists the server's ban list and session audit in SQLite
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/gear6io/replicant/pkg/errors"
	"github.com/gear6io/replicant/server/config"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// Store wraps the bun database
type Store struct {
	db     *bun.DB
	now    func() time.Time
	logger zerolog.Logger
}

// Open creates or opens the database at cfg.Path and migrates it.
// ":memory:" keeps everything in process.
func Open(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (*Store, error) {
	dsn := cfg.Path
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, errors.New(ErrOpenFailed, "failed to create store directory", err).AddContext("path", cfg.Path)
		}
		dsn += "?_foreign_keys=on"
	}

	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.New(ErrOpenFailed, "failed to open SQLite database", err).AddContext("path", cfg.Path)
	}
	// SQLite serialises writers; a single connection also keeps :memory: alive
	sqldb.SetMaxOpenConns(1)

	s := New(bun.NewDB(sqldb, sqlitedialect.New()), logger)
	if cfg.Debug {
		s.db.AddQueryHook(&queryLogger{logger: s.logger})
	}

	if err := s.Migrate(ctx); err != nil {
		s.db.Close()
		return nil, err
	}

	s.logger.Info().Str("path", cfg.Path).Msg("Store opened")
	return s, nil
}

// New wraps an existing database without migrating it
func New(db *bun.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// DB returns the underlying bun DB
func (s *Store) DB() *bun.DB {
	return s.db
}

// Close releases the database
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// queryLogger traces queries at debug level
type queryLogger struct {
	logger zerolog.Logger
}

func (h *queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	h.logger.Debug().
		Str("query", event.Query).
		Dur("duration", time.Since(event.StartTime)).
		Err(event.Err).
		Msg("SQL")
}
