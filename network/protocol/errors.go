package protocol

import "github.com/gear6io/replicant/pkg/errors"

// Framing error codes
var (
	ErrTruncatedPacket  = errors.MustNewCode("protocol.truncated_packet")
	ErrUnknownProtocol  = errors.MustNewCode("protocol.unknown_protocol")
	ErrPayloadTooLarge  = errors.MustNewCode("protocol.payload_too_large")
	ErrMalformedPayload = errors.MustNewCode("protocol.malformed_payload")
)
