package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/gear6io/replicant/pkg/errors"
	"github.com/uptrace/bun"
)

// AddBan bans host, replacing any earlier ban. A zero ttl bans forever.
func (s *Store) AddBan(ctx context.Context, host, reason string, ttl time.Duration) (*Ban, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errors.New(ErrInvalidBan, "ban needs a host", nil)
	}
	if ttl < 0 {
		return nil, errors.Newf(ErrInvalidBan, "negative ban duration %s", ttl).AddContext("host", host)
	}

	now := s.now()
	ban := &Ban{Host: host, Reason: reason, CreatedAt: now}
	if ttl > 0 {
		expires := now.Add(ttl)
		ban.ExpiresAt = &expires
	}

	_, err := s.db.NewInsert().
		Model(ban).
		On("CONFLICT (host) DO UPDATE").
		Set("reason = EXCLUDED.reason").
		Set("created_at = EXCLUDED.created_at").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	if err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to store ban", err).AddContext("host", host)
	}

	s.logger.Info().Str("host", host).Str("reason", reason).Dur("ttl", ttl).Msg("Host banned")
	return ban, nil
}

// RemoveBan lifts the ban on host
func (s *Store) RemoveBan(ctx context.Context, host string) error {
	res, err := s.db.NewDelete().
		Model((*Ban)(nil)).
		Where("host = ?", host).
		Exec(ctx)
	if err != nil {
		return errors.New(ErrQueryFailed, "failed to remove ban", err).AddContext("host", host)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Newf(ErrBanNotFound, "%s is not banned", host).AddContext("host", host)
	}
	return nil
}

// GetBan returns the ban on host whether or not it has expired
func (s *Store) GetBan(ctx context.Context, host string) (*Ban, error) {
	ban := new(Ban)
	err := s.db.NewSelect().
		Model(ban).
		Where("host = ?", host).
		Scan(ctx)
	if isNoRows(err) {
		return nil, errors.Newf(ErrBanNotFound, "%s is not banned", host).AddContext("host", host)
	}
	if err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to read ban", err).AddContext("host", host)
	}
	return ban, nil
}

// IsBanned reports whether an unexpired ban covers host
func (s *Store) IsBanned(ctx context.Context, host string) (bool, *Ban, error) {
	ban, err := s.GetBan(ctx, host)
	if errors.HasCode(err, ErrBanNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	if !ban.Active(s.now()) {
		return false, ban, nil
	}
	return true, ban, nil
}

// ListBans returns every ban, newest first
func (s *Store) ListBans(ctx context.Context) ([]Ban, error) {
	var bans []Ban
	err := s.db.NewSelect().
		Model(&bans).
		Order("created_at DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to list bans", err)
	}
	return bans, nil
}

// PurgeExpiredBans deletes bans that no longer apply
func (s *Store) PurgeExpiredBans(ctx context.Context) (int, error) {
	bans, err := s.ListBans(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	var expired []int64
	for _, ban := range bans {
		if !ban.Active(now) {
			expired = append(expired, ban.ID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if _, err := s.db.NewDelete().
		Model((*Ban)(nil)).
		Where("id IN (?)", bun.In(expired)).
		Exec(ctx); err != nil {
		return 0, errors.New(ErrQueryFailed, "failed to purge expired bans", err)
	}
	return len(expired), nil
}

func isNoRows(err error) bool {
	return stderrors.Is(err, sql.ErrNoRows)
}
