package transport

import "github.com/gear6io/replicant/pkg/errors"

// Transport error codes
var (
	ErrShortDatagram  = errors.MustNewCode("transport.short_datagram")
	ErrMalformedAuth  = errors.MustNewCode("transport.malformed_auth")
	ErrTimedOut       = errors.MustNewCode("transport.timed_out")
	ErrSocket         = errors.MustNewCode("transport.socket")
	ErrNoRules        = errors.MustNewCode("transport.no_rules")
	ErrAlreadyDialled = errors.MustNewCode("transport.already_dialled")
)
