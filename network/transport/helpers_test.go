package transport

import (
	"encoding/binary"
	"testing"

	"github.com/gear6io/replicant/network/protocol"
	"github.com/gear6io/replicant/network/replication"
	"github.com/gear6io/replicant/network/serial"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type avatar struct {
	replication.Object

	Health replication.Attribute[uint8] `net:"health,notify"`
}

func newAvatar() *avatar {
	a := &avatar{}
	a.Health.Set(10)
	a.Roles.Set(replication.Roles{Local: replication.RoleAuthority, Remote: replication.RoleAutonomousProxy})
	return a
}

func (a *avatar) Conditions(isOwner, isComplaining, isInitial bool) []string {
	return append(a.Object.Conditions(isOwner, isComplaining, isInitial), "health")
}

func newTypes(t *testing.T) *replication.TypeRegistry {
	t.Helper()
	types := replication.NewTypeRegistry()
	_, err := types.Register("Avatar", func() replication.Replicable { return newAvatar() })
	require.NoError(t, err)
	return types
}

// gameRules hands every accepted peer an avatar unless reject is set
type gameRules struct {
	world        *replication.World
	reject       error
	controllers  []replication.Replicable
	disconnected []string
}

func (r *gameRules) PreInitialise(string, replication.Netmode) error {
	return r.reject
}

func (r *gameRules) PostInitialise(*replication.ServerConnection) (replication.Replicable, error) {
	a := newAvatar()
	if err := r.world.Add(a); err != nil {
		return nil, err
	}
	r.controllers = append(r.controllers, a)
	return a, nil
}

func (r *gameRules) IsRelevant(*replication.ServerConnection, replication.Replicable) bool {
	return true
}

func (r *gameRules) OnDisconnect(conn *replication.ServerConnection) {
	r.disconnected = append(r.disconnected, conn.Addr())
}

// stubReplicator replays queued collections and records what it receives
type stubReplicator struct {
	outgoing []*protocol.Collection
	received []*protocol.Packet
	closed   bool
}

func (s *stubReplicator) Send(bool) *protocol.Collection {
	if len(s.outgoing) == 0 {
		return protocol.NewCollection()
	}
	out := s.outgoing[0]
	s.outgoing = s.outgoing[1:]
	return out
}

func (s *stubReplicator) Receive(packets []*protocol.Packet) {
	s.received = append(s.received, packets...)
}

func (s *stubReplicator) Close() {
	s.closed = true
}

func (s *stubReplicator) Controller() replication.Replicable {
	return nil
}

// connectedInterface skips the handshake
func connectedInterface(stub *stubReplicator) *ConnectionInterface {
	ci := newInterface("peer", &clientHandshake{}, zerolog.Nop())
	ci.status = StatusConnected
	ci.conn = stub
	return ci
}

// buildDatagram builds an incoming datagram acknowledging ack and acked
func buildDatagram(t *testing.T, sequence, ack uint16, acked []uint16, packets ...*protocol.Packet) []byte {
	t.Helper()

	bits := serial.NewBitField(AckWindow)
	for _, s := range acked {
		d := int(ack - s)
		require.True(t, d >= 1 && d <= AckWindow, "sequence %d outside the ack window of %d", s, ack)
		bits.Set(d-1, true)
	}

	buf := binary.BigEndian.AppendUint16(nil, sequence)
	buf = binary.BigEndian.AppendUint16(buf, ack)
	buf = append(buf, bits.Bytes()...)
	buf, err := protocol.NewCollection(packets...).Encode(buf)
	require.NoError(t, err)
	return buf
}

// payload strips the datagram header
func payload(t *testing.T, data []byte) []*protocol.Packet {
	t.Helper()
	require.GreaterOrEqual(t, len(data), HeaderSize)
	c, err := protocol.DecodeCollection(data[HeaderSize:])
	require.NoError(t, err)
	return c.Members
}
