package transport

import "fmt"

// Status is the lifecycle state of a ConnectionInterface. Anything below
// StatusDisconnected is terminal and the Network drops the peer.
type Status int8

const (
	StatusDeleted Status = iota
	StatusTimeout
	StatusFailed
	StatusDisconnected
	StatusHandshake
	StatusConnected
)

var statusNames = map[Status]string{
	StatusDeleted:      "deleted",
	StatusTimeout:      "timeout",
	StatusFailed:       "failed",
	StatusDisconnected: "disconnected",
	StatusHandshake:    "handshake",
	StatusConnected:    "connected",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int8(s))
}

// Terminal reports whether the peer can no longer make progress
func (s Status) Terminal() bool {
	return s < StatusDisconnected
}
