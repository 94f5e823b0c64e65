package store

import (
	"context"

	"github.com/gear6io/replicant/pkg/errors"
)

// OpenSession records a peer joining
func (s *Store) OpenSession(ctx context.Context, session *Session) error {
	if session.ConnectedAt.IsZero() {
		session.ConnectedAt = s.now()
	}
	session.Status = SessionConnected

	if _, err := s.db.NewInsert().Model(session).Exec(ctx); err != nil {
		return errors.New(ErrQueryFailed, "failed to open session", err).AddContext("session", session.ID)
	}
	return nil
}

// CloseSession records a peer leaving and why
func (s *Store) CloseSession(ctx context.Context, id, reason string) error {
	now := s.now()
	res, err := s.db.NewUpdate().
		Model((*Session)(nil)).
		Set("status = ?", SessionClosed).
		Set("reason = ?", reason).
		Set("disconnected_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", SessionConnected).
		Exec(ctx)
	if err != nil {
		return errors.New(ErrQueryFailed, "failed to close session", err).AddContext("session", id)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Newf(ErrSessionNotFound, "no open session %s", id).AddContext("session", id)
	}
	return nil
}

// GetSession returns one session by id
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	session := new(Session)
	err := s.db.NewSelect().Model(session).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, errors.Newf(ErrSessionNotFound, "no session %s", id).AddContext("session", id)
		}
		return nil, errors.New(ErrQueryFailed, "failed to read session", err).AddContext("session", id)
	}
	return session, nil
}

// RecentSessions returns up to limit sessions, newest first
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	var sessions []Session
	err := s.db.NewSelect().
		Model(&sessions).
		Order("connected_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to list sessions", err)
	}
	return sessions, nil
}

// CountOpenSessions returns the number of sessions still connected
func (s *Store) CountOpenSessions(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().
		Model((*Session)(nil)).
		Where("status = ?", SessionConnected).
		Count(ctx)
	if err != nil {
		return 0, errors.New(ErrQueryFailed, "failed to count sessions", err)
	}
	return n, nil
}

// CloseOrphanedSessions closes sessions left open by a previous run
func (s *Store) CloseOrphanedSessions(ctx context.Context) (int, error) {
	return s.CloseOpenSessions(ctx, "server restarted")
}

// CloseOpenSessions closes every session still marked connected
func (s *Store) CloseOpenSessions(ctx context.Context, reason string) (int, error) {
	res, err := s.db.NewUpdate().
		Model((*Session)(nil)).
		Set("status = ?", SessionClosed).
		Set("reason = ?", reason).
		Set("disconnected_at = ?", s.now()).
		Where("status = ?", SessionConnected).
		Exec(ctx)
	if err != nil {
		return 0, errors.New(ErrQueryFailed, "failed to close open sessions", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
