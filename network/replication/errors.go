package replication

import "github.com/gear6io/replicant/pkg/errors"

// Replication error codes
var (
	ErrAttributeTypeMismatch = errors.MustNewCode("replication.attribute_type_mismatch")
	ErrUnknownAttribute      = errors.MustNewCode("replication.unknown_attribute")
	ErrInvalidClass          = errors.MustNewCode("replication.invalid_class")
	ErrDuplicateClass        = errors.MustNewCode("replication.duplicate_class")
	ErrUnknownClass          = errors.MustNewCode("replication.unknown_class")
	ErrIDInUse               = errors.MustNewCode("replication.id_in_use")
	ErrIDExhausted           = errors.MustNewCode("replication.id_exhausted")
	ErrNotRegistered         = errors.MustNewCode("replication.not_registered")
	ErrUnknownInstance       = errors.MustNewCode("replication.unknown_instance")
	ErrUnknownRPC            = errors.MustNewCode("replication.unknown_rpc")
	ErrRPCUnhandled          = errors.MustNewCode("replication.rpc_unhandled")
	ErrMalformedPacket       = errors.MustNewCode("replication.malformed_packet")
)
