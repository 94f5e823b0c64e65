package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/gear6io/replicant/pkg/errors"
	"github.com/uptrace/bun"
)

// Migration is one forward-only schema step
type Migration interface {
	Version() int
	Name() string
	Up(ctx context.Context, tx bun.Tx) error
}

// migrationRecord tracks applied migrations
type migrationRecord struct {
	bun.BaseModel `bun:"table:schema_migrations"`

	Version   int       `bun:"version,pk"`
	Name      string    `bun:"name,notnull"`
	AppliedAt time.Time `bun:"applied_at,notnull"`
}

var migrations = []Migration{
	&initialSchema{},
}

type initialSchema struct{}

func (m *initialSchema) Version() int {
	return 1
}

func (m *initialSchema) Name() string {
	return "bans_and_sessions"
}

func (m *initialSchema) Up(ctx context.Context, tx bun.Tx) error {
	if _, err := tx.NewCreateTable().Model((*Ban)(nil)).IfNotExists().Exec(ctx); err != nil {
		return errors.New(ErrMigrationFailed, "failed to create bans table", err)
	}
	if _, err := tx.NewCreateTable().Model((*Session)(nil)).IfNotExists().Exec(ctx); err != nil {
		return errors.New(ErrMigrationFailed, "failed to create sessions table", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_sessions_address ON sessions(address)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_connected_at ON sessions(connected_at)`,
	}
	for _, stmt := range indexes {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.New(ErrMigrationFailed, "failed to create index", err).AddContext("statement", stmt)
		}
	}
	return nil
}

// Migrate applies every pending migration in a single transaction
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*migrationRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return errors.New(ErrMigrationFailed, "failed to create migrations table", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	var pending []Migration
	for _, m := range migrations {
		if m.Version() > current {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		s.logger.Debug().Int("version", current).Msg("Schema is up to date")
		return nil
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, m := range pending {
			if err := m.Up(ctx, tx); err != nil {
				return errors.Wrapf(ErrMigrationFailed, err, "migration %d (%s) failed", m.Version(), m.Name())
			}

			record := &migrationRecord{Version: m.Version(), Name: m.Name(), AppliedAt: time.Now().UTC()}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				return errors.Wrapf(ErrMigrationFailed, err, "failed to record migration %d", m.Version())
			}
			s.logger.Info().Int("version", m.Version()).Str("name", m.Name()).Msg("Applied migration")
		}
		return nil
	})
}

// SchemaVersion returns the latest applied migration, 0 when none
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.NewSelect().
		Model((*migrationRecord)(nil)).
		Column("version").
		Order("version DESC").
		Limit(1).
		Scan(ctx, &version)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.New(ErrMigrationFailed, "failed to read schema version", err)
	}
	return version, nil
}
