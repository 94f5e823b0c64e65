package client

import "github.com/gear6io/replicant/pkg/errors"

// Error codes for client package
var (
	ErrClientNotConnected = errors.MustNewCode("client.not_connected")
	ErrConnectionFailed   = errors.MustNewCode("client.connection_failed")
	ErrDisconnected       = errors.MustNewCode("client.disconnected")
	ErrNoController       = errors.MustNewCode("client.no_controller")
)
