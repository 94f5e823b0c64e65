package server

import "github.com/gear6io/replicant/pkg/errors"

// Server package specific error codes
var (
	ErrStartFailed = errors.MustNewCode("server.start_failed")
	ErrHTTPFailed  = errors.MustNewCode("server.http_failed")
)
