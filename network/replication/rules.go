package replication

// Rules is the game's policy for admitting peers and choosing what they see
type Rules interface {
	// PreInitialise accepts or rejects a peer before any state is created.
	// Returned coded errors are sent back to the peer.
	PreInitialise(addr string, netmode Netmode) error

	// PostInitialise runs once the peer is accepted and returns the
	// replicable it controls, if any
	PostInitialise(conn *ServerConnection) (Replicable, error)

	// IsRelevant reports whether r should be replicated to conn
	IsRelevant(conn *ServerConnection, r Replicable) bool
}

// DisconnectObserver is implemented by rules that track departing peers
type DisconnectObserver interface {
	OnDisconnect(conn *ServerConnection)
}
