package transport

import (
	"testing"
	"time"

	"github.com/gear6io/replicant/network/replication"
	"github.com/gear6io/replicant/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loopback struct {
	serverWorld *replication.World
	clientWorld *replication.World
	rules       *gameRules
	server      *Network
	client      *Network
	peer        *ConnectionInterface
}

func newLoopback(t *testing.T, opts Options) *loopback {
	t.Helper()

	types := newTypes(t)
	l := &loopback{
		serverWorld: replication.NewWorld(replication.NetmodeServer, types, zerolog.Nop()),
		clientWorld: replication.NewWorld(replication.NetmodeClient, types, zerolog.Nop()),
	}
	l.rules = &gameRules{world: l.serverWorld}

	serverOpts := opts
	serverOpts.Address = "127.0.0.1:0"
	serverOpts.Rules = l.rules

	var err error
	l.server, err = NewNetwork(l.serverWorld, serverOpts, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { l.server.Close() })

	l.client, err = NewNetwork(l.clientWorld, Options{Address: "127.0.0.1:0", Timeout: opts.Timeout}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { l.client.Close() })

	l.peer, err = l.client.Connect(l.server.LocalAddr().String())
	require.NoError(t, err)
	return l
}

// run ticks both sides until done reports true or the deadline passes
func (l *loopback) run(t *testing.T, clientSends bool, done func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if clientSends {
			l.client.Send(false)
		}
		time.Sleep(2 * time.Millisecond)
		l.server.Receive()
		l.serverWorld.Update(0.05)
		l.server.Send(true)
		time.Sleep(2 * time.Millisecond)
		l.client.Receive()
		l.clientWorld.Update(0)

		if done() {
			return true
		}
	}
	return false
}

func TestNetworkRequiresRules(t *testing.T) {
	world := replication.NewWorld(replication.NetmodeServer, newTypes(t), zerolog.Nop())
	_, err := NewNetwork(world, Options{Address: "127.0.0.1:0"}, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrNoRules))
}

func TestNetworkConnects(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := newLoopback(t, Options{Metrics: NewMetrics(reg, "replicant")})

	connected := l.run(t, true, func() bool {
		peers := l.server.Interfaces()
		return l.peer.Status() == StatusConnected && len(peers) == 1 && peers[0].Status() == StatusConnected
	})
	require.True(t, connected, "handshake did not complete over loopback")

	require.Len(t, l.rules.controllers, 1)
	id := l.rules.controllers[0].Replication().ID()
	require.True(t, l.run(t, true, func() bool {
		_, ok := l.clientWorld.Get(id)
		return ok
	}))

	stats := l.server.Stats()
	assert.NotZero(t, stats.DatagramsSent)
	assert.NotZero(t, stats.DatagramsReceived)
	assert.NotZero(t, stats.BytesSent)
	assert.Greater(t, testutil.ToFloat64(l.server.metrics.datagramsSent), 0.0)

	_, err := l.client.Connect(l.server.LocalAddr().String())
	assert.True(t, errors.HasCode(err, ErrAlreadyDialled))
}

func TestNetworkDropsTimedOutPeer(t *testing.T) {
	l := newLoopback(t, Options{Timeout: 200 * time.Millisecond})

	require.True(t, l.run(t, true, func() bool {
		peers := l.server.Interfaces()
		return len(peers) == 1 && peers[0].Status() == StatusConnected
	}))
	require.Len(t, l.rules.controllers, 1)
	controller := l.rules.controllers[0]

	// The client goes silent
	require.True(t, l.run(t, false, func() bool {
		return len(l.server.Interfaces()) == 0
	}), "server never dropped the silent peer")
	l.serverWorld.Update(0)

	assert.Len(t, l.rules.disconnected, 1)
	assert.False(t, controller.Replication().IsRegistered(), "controller is unregistered with its peer")
}

func TestNetworkRejectedPeer(t *testing.T) {
	l := newLoopback(t, Options{})
	l.rules.reject = errors.New(errors.CommonUnauthorized, "server full", nil)

	require.True(t, l.run(t, true, func() bool {
		return l.peer.Status() == StatusFailed
	}))
	assert.True(t, errors.HasCode(l.peer.Err(), errors.CommonUnauthorized))

	require.True(t, l.run(t, true, func() bool {
		return len(l.server.Interfaces()) == 0
	}), "server kept the refused peer")
	assert.Empty(t, l.client.Interfaces(), "client drops its refused interface")
}

func TestCanSend(t *testing.T) {
	l := newLoopback(t, Options{SendInterval: time.Hour})

	clock := time.Unix(0, 0)
	l.client.now = func() time.Time { return clock }

	assert.True(t, l.client.CanSend())
	l.client.Send(false)
	assert.False(t, l.client.CanSend())

	clock = clock.Add(time.Hour)
	assert.True(t, l.client.CanSend())
}

func TestNetworkCleanDisconnect(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := newLoopback(t, Options{Timeout: time.Minute, Metrics: NewMetrics(reg, "replicant")})

	require.True(t, l.run(t, true, func() bool {
		peers := l.server.Interfaces()
		return l.peer.Status() == StatusConnected && len(peers) == 1 && peers[0].Status() == StatusConnected
	}))
	require.Len(t, l.rules.controllers, 1)
	controller := l.rules.controllers[0]

	t.Run("round trips are estimated", func(t *testing.T) {
		assert.Positive(t, l.peer.RTT())
		assert.Positive(t, l.server.Interfaces()[0].RTT())
		n, err := testutil.GatherAndCount(reg, "replicant_transport_round_trip_seconds")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	l.client.Disconnect()
	assert.Equal(t, StatusDeleted, l.peer.Status())
	assert.Empty(t, l.client.Interfaces())

	require.True(t, l.run(t, false, func() bool {
		return len(l.server.Interfaces()) == 0
	}), "server kept the departed peer")
	l.serverWorld.Update(0)

	assert.Len(t, l.rules.disconnected, 1)
	assert.False(t, controller.Replication().IsRegistered(), "controller leaves with its peer")
}
