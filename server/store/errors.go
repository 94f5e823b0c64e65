package store

import "github.com/gear6io/replicant/pkg/errors"

// Store error codes
var (
	ErrOpenFailed      = errors.MustNewCode("store.open_failed")
	ErrMigrationFailed = errors.MustNewCode("store.migration_failed")
	ErrQueryFailed     = errors.MustNewCode("store.query_failed")
	ErrBanNotFound     = errors.MustNewCode("store.ban_not_found")
	ErrSessionNotFound = errors.MustNewCode("store.session_not_found")
	ErrInvalidBan      = errors.MustNewCode("store.invalid_ban")
)
