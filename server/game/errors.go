package game

import "github.com/gear6io/replicant/pkg/errors"

// Game error codes. Admission failures travel to the rejected peer.
var (
	ErrBanned          = errors.MustNewCode("game.banned")
	ErrServerFull      = errors.MustNewCode("game.server_full")
	ErrWrongNetmode    = errors.MustNewCode("game.wrong_netmode")
	ErrInvalidAddress  = errors.MustNewCode("game.invalid_address")
	ErrSpawnFailed     = errors.MustNewCode("game.spawn_failed")
	ErrNoPawn          = errors.MustNewCode("game.no_pawn")
	ErrInvalidName     = errors.MustNewCode("game.invalid_name")
	ErrAdmissionFailed = errors.MustNewCode("game.admission_failed")
)
