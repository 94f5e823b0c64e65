package protocol

import "fmt"

// Protocol identifies the payload carried by a Packet
type Protocol byte

const (
	AuthFailure Protocol = iota
	AuthSuccess
	RequestAuth
	ReplicationInit
	ReplicationDel
	ReplicationUpdate
	MethodInvoke
	RequestDisconnect
)

var protocolNames = map[Protocol]string{
	AuthFailure:       "auth_failure",
	AuthSuccess:       "auth_success",
	RequestAuth:       "request_auth",
	ReplicationInit:   "replication_init",
	ReplicationDel:    "replication_del",
	ReplicationUpdate: "replication_update",
	MethodInvoke:      "method_invoke",
	RequestDisconnect: "request_disconnect",
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("protocol(%d)", byte(p))
}

// IsHandshake reports whether p belongs to the connection handshake
func (p Protocol) IsHandshake() bool {
	return p <= RequestAuth
}

// IsReplication reports whether p is handled by a replication connection
func (p Protocol) IsReplication() bool {
	return p >= ReplicationInit && p <= MethodInvoke
}

// Valid reports whether p is a known protocol
func (p Protocol) Valid() bool {
	return p <= RequestDisconnect
}

// Header sizes in bytes
const (
	LengthSize   = 2
	ProtocolSize = 1
	HeaderSize   = LengthSize + ProtocolSize

	// MaxPayload is the largest payload a single packet can frame
	MaxPayload = 1<<16 - 1 - ProtocolSize
)
