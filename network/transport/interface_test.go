package transport

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/gear6io/replicant/network/protocol"
	"github.com/gear6io/replicant/network/replication"
	"github.com/gear6io/replicant/network/serial"
	"github.com/gear6io/replicant/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceMoreRecent(t *testing.T) {
	tests := []struct {
		name   string
		s1, s2 uint16
		want   bool
	}{
		{"later", 10, 9, true},
		{"earlier", 9, 10, false},
		{"equal", 7, 7, false},
		{"across wrap", 2, 65534, true},
		{"behind wrap", 65534, 2, false},
		{"half range", 32768, 0, true},
		{"past half range", 32769, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SequenceMoreRecent(tt.s1, tt.s2))
		})
	}
}

func TestSendHeader(t *testing.T) {
	ci := connectedInterface(&stubReplicator{})

	ci.Receive(buildDatagram(t, 1, 0, nil))
	ci.Receive(buildDatagram(t, 2, 0, nil))
	ci.Receive(buildDatagram(t, 4, 0, nil))

	data, err := ci.Send(false)
	require.NoError(t, err)
	require.Len(t, data, HeaderSize)

	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(data[0:]))
	assert.Equal(t, uint16(4), binary.BigEndian.Uint16(data[2:]))

	bits, _, err := serial.ReadBitField(AckWindow, data, 4)
	require.NoError(t, err)
	assert.False(t, bits.Get(0), "3 never arrived")
	assert.True(t, bits.Get(1), "2 arrived")
	assert.True(t, bits.Get(2), "1 arrived")
	assert.False(t, bits.Get(3))
}

func TestSequenceWraps(t *testing.T) {
	ci := connectedInterface(&stubReplicator{})
	ci.localSequence = SequenceMaxSize - 1

	data, err := ci.Send(false)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(data))

	data, err = ci.Send(false)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(data))
}

func TestAcknowledgement(t *testing.T) {
	t.Run("direct ack fires success callbacks", func(t *testing.T) {
		acked := 0
		p := protocol.NewReliable(protocol.MethodInvoke, []byte{1, 0})
		p.OnSuccess = func() { acked++ }

		ci := connectedInterface(&stubReplicator{outgoing: []*protocol.Collection{protocol.NewCollection(p)}})
		_, err := ci.Send(false)
		require.NoError(t, err)
		require.Equal(t, 1, ci.Pending())

		ci.Receive(buildDatagram(t, 1, 1, nil))
		assert.Equal(t, 1, acked)
		assert.Equal(t, 0, ci.Pending())
	})

	t.Run("bitfield acks earlier datagrams", func(t *testing.T) {
		ci := connectedInterface(&stubReplicator{})
		for i := 0; i < 3; i++ {
			_, err := ci.Send(false)
			require.NoError(t, err)
		}

		ci.Receive(buildDatagram(t, 1, 3, []uint16{2}))
		assert.Equal(t, 1, ci.Pending(), "datagram 1 is neither acked nor old enough to be lost")
		_, waiting := ci.requestedAck[1]
		assert.True(t, waiting)
	})
}

func TestResendReliableOnly(t *testing.T) {
	failed := 0
	reliable := protocol.NewReliable(protocol.MethodInvoke, []byte{1, 0, 7})
	reliable.OnFailure = func() { failed++ }
	unreliable := protocol.New(protocol.MethodInvoke, []byte{1, 1, 9})

	stub := &stubReplicator{outgoing: []*protocol.Collection{
		protocol.NewCollection(reliable),
		protocol.NewCollection(unreliable),
	}}
	ci := connectedInterface(stub)

	for i := 0; i < 3; i++ {
		_, err := ci.Send(false)
		require.NoError(t, err)
	}

	// The peer has moved on 40 sequences without acknowledging 1..2
	ci.Receive(buildDatagram(t, 1, 40, []uint16{39}))
	assert.Equal(t, 1, failed)

	data, err := ci.Send(false)
	require.NoError(t, err)

	packets := payload(t, data)
	require.Len(t, packets, 1)
	assert.Equal(t, reliable.Payload, packets[0].Payload)

	// Resent once, not again on the following send
	data, err = ci.Send(false)
	require.NoError(t, err)
	assert.Empty(t, payload(t, data))
}

func TestReceiveFiltering(t *testing.T) {
	invoke := protocol.New(protocol.MethodInvoke, []byte{3, 0})

	t.Run("duplicates are dropped", func(t *testing.T) {
		stub := &stubReplicator{}
		ci := connectedInterface(stub)

		ci.Receive(buildDatagram(t, 5, 0, nil, invoke))
		ci.Receive(buildDatagram(t, 5, 0, nil, invoke))
		assert.Len(t, stub.received, 1)
	})

	t.Run("stale datagrams are dropped", func(t *testing.T) {
		stub := &stubReplicator{}
		ci := connectedInterface(stub)

		ci.Receive(buildDatagram(t, 100, 0, nil))
		ci.Receive(buildDatagram(t, 60, 0, nil, invoke))
		assert.Empty(t, stub.received)
	})

	t.Run("late datagrams inside the window are kept", func(t *testing.T) {
		stub := &stubReplicator{}
		ci := connectedInterface(stub)

		ci.Receive(buildDatagram(t, 100, 0, nil))
		ci.Receive(buildDatagram(t, 90, 0, nil, invoke))
		assert.Len(t, stub.received, 1)
		assert.Equal(t, uint16(100), ci.remoteSequence)
	})

	t.Run("short datagrams are dropped", func(t *testing.T) {
		stub := &stubReplicator{}
		ci := connectedInterface(stub)

		ci.Receive([]byte{0, 1, 0})
		assert.Empty(t, stub.received)
		assert.False(t, ci.receivedAny)
	})
}

func TestTimeout(t *testing.T) {
	clock := time.Unix(1000, 0)
	ci := connectedInterface(&stubReplicator{})
	ci.SetClock(func() time.Time { return clock })

	clock = clock.Add(time.Second)
	data, err := ci.Send(false)
	require.NoError(t, err)
	assert.NotNil(t, data)

	clock = clock.Add(DefaultTimeout)
	data, err = ci.Send(false)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, StatusTimeout, ci.Status())
	assert.True(t, errors.HasCode(ci.Err(), ErrTimedOut))
}

// pair runs a server and client interface against each other in memory
type pair struct {
	serverWorld *replication.World
	clientWorld *replication.World
	rules       *gameRules
	server      *ConnectionInterface
	client      *ConnectionInterface
}

func newPair(t *testing.T) *pair {
	t.Helper()
	types := newTypes(t)
	p := &pair{
		serverWorld: replication.NewWorld(replication.NetmodeServer, types, zerolog.Nop()),
		clientWorld: replication.NewWorld(replication.NetmodeClient, types, zerolog.Nop()),
	}
	p.rules = &gameRules{world: p.serverWorld}
	p.server = NewServerInterface(p.serverWorld, p.rules, "client:1", zerolog.Nop())
	p.client = NewClientInterface(p.clientWorld, "server:1", zerolog.Nop())
	return p
}

// exchange sends one datagram each way, client first
func (p *pair) exchange(t *testing.T) {
	t.Helper()

	if data, err := p.client.Send(false); assert.NoError(t, err) && data != nil {
		p.server.Receive(data)
	}
	p.serverWorld.Update(0.1)
	if data, err := p.server.Send(true); assert.NoError(t, err) && data != nil {
		p.client.Receive(data)
	}
	p.clientWorld.Update(0)
}

func TestHandshake(t *testing.T) {
	p := newPair(t)

	p.exchange(t)
	assert.Equal(t, StatusConnected, p.client.Status())
	assert.Equal(t, StatusHandshake, p.server.Status(), "server waits for its auth_success to be acked")

	p.exchange(t)
	assert.Equal(t, StatusConnected, p.server.Status())

	require.Len(t, p.rules.controllers, 1)
	controller := p.rules.controllers[0]
	assert.Same(t, controller, p.server.Controller())

	// The avatar arrives on the client as its own controller
	mirrored, ok := p.clientWorld.Get(controller.Replication().ID())
	require.True(t, ok)
	assert.Same(t, mirrored, p.client.Controller())
	assert.Equal(t, uint8(10), mirrored.(*avatar).Health.Get())

	controller.(*avatar).Health.Set(4)
	p.exchange(t)
	assert.Equal(t, uint8(4), mirrored.(*avatar).Health.Get())
}

func TestHandshakeRejected(t *testing.T) {
	banned := errors.MustNewCode("game.banned")

	p := newPair(t)
	p.rules.reject = errors.New(banned, "you are banned", nil)

	p.exchange(t)
	assert.Equal(t, StatusFailed, p.client.Status())
	require.Error(t, p.client.Err())
	assert.True(t, errors.HasCode(p.client.Err(), banned))
	assert.Contains(t, p.client.Err().Error(), "you are banned")
	assert.Nil(t, p.client.Connection())

	// The client acknowledges the refusal once, then goes quiet
	p.exchange(t)
	assert.Equal(t, StatusDeleted, p.server.Status())

	data, err := p.client.Send(false)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestHandshakeRequestIsResent(t *testing.T) {
	p := newPair(t)

	// The first request is lost in transit
	_, err := p.client.Send(false)
	require.NoError(t, err)
	assert.Equal(t, StatusHandshake, p.client.Status())

	// The server keeps talking and eventually acks far past the request
	p.client.Receive(buildDatagram(t, 1, 0, nil))
	p.client.Receive(buildDatagram(t, 2, AckWindow+5, nil))

	data, err := p.client.Send(false)
	require.NoError(t, err)
	packets := payload(t, data)
	require.Len(t, packets, 1)
	assert.Equal(t, protocol.RequestAuth, packets[0].Protocol)
	assert.Equal(t, []byte{byte(replication.NetmodeClient)}, packets[0].Payload)

	p.server.Receive(data)
	assert.Equal(t, StatusHandshake, p.server.Status())
}

func TestRoundTripEstimate(t *testing.T) {
	clock := time.Unix(0, 0)
	ci := connectedInterface(&stubReplicator{})
	ci.SetClock(func() time.Time { return clock })
	assert.Zero(t, ci.RTT())

	_, err := ci.Send(false)
	require.NoError(t, err)
	clock = clock.Add(100 * time.Millisecond)
	ci.Receive(buildDatagram(t, 1, 1, nil))
	assert.Equal(t, 100*time.Millisecond, ci.RTT(), "the first sample seeds the estimate")

	_, err = ci.Send(false)
	require.NoError(t, err)
	clock = clock.Add(200 * time.Millisecond)
	ci.Receive(buildDatagram(t, 2, 2, nil))
	assert.Equal(t, 110*time.Millisecond, ci.RTT(), "later samples are smoothed")

	t.Run("duplicate acks leave the estimate alone", func(t *testing.T) {
		clock = clock.Add(time.Second)
		ci.Receive(buildDatagram(t, 3, 2, nil))
		assert.Equal(t, 110*time.Millisecond, ci.RTT())
	})
}

func TestDisconnect(t *testing.T) {
	t.Run("the next datagram asks the peer to drop us", func(t *testing.T) {
		stub := &stubReplicator{outgoing: []*protocol.Collection{
			protocol.NewCollection(protocol.NewReliable(protocol.MethodInvoke, []byte{1, 0})),
		}}
		ci := connectedInterface(stub)
		ci.Disconnect()

		data, err := ci.Send(false)
		require.NoError(t, err)
		packets := payload(t, data)
		require.Len(t, packets, 1)
		assert.Equal(t, protocol.RequestDisconnect, packets[0].Protocol)
		assert.Len(t, stub.outgoing, 1, "replication is not flushed on the way out")
		assert.Equal(t, StatusDeleted, ci.Status())

		data, err = ci.Send(false)
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("a request from the peer deletes the interface", func(t *testing.T) {
		stub := &stubReplicator{}
		ci := connectedInterface(stub)

		ci.Receive(buildDatagram(t, 1, 0, nil,
			protocol.New(protocol.RequestDisconnect, nil),
			protocol.New(protocol.MethodInvoke, []byte{1, 0}),
		))
		assert.Equal(t, StatusDeleted, ci.Status())
		assert.Empty(t, stub.received)
	})

	t.Run("terminal interfaces stay silent", func(t *testing.T) {
		ci := connectedInterface(&stubReplicator{})
		ci.status = StatusTimeout
		ci.Disconnect()

		data, err := ci.Send(false)
		require.NoError(t, err)
		assert.Nil(t, data)
		assert.Equal(t, StatusTimeout, ci.Status())
	})
}
