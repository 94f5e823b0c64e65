package game

import (
	"context"
	"testing"

	"github.com/gear6io/replicant/network/protocol"
	"github.com/gear6io/replicant/network/replication"
	"github.com/gear6io/replicant/server/config"
	"github.com/gear6io/replicant/server/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeLedger keeps bans and sessions in memory
type fakeLedger struct {
	bans     map[string]string
	sessions map[string]*store.Session
	closed   map[string]string
	failBans error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		bans:     make(map[string]string),
		sessions: make(map[string]*store.Session),
		closed:   make(map[string]string),
	}
}

func (l *fakeLedger) IsBanned(_ context.Context, host string) (bool, *store.Ban, error) {
	if l.failBans != nil {
		return false, nil, l.failBans
	}
	reason, ok := l.bans[host]
	if !ok {
		return false, nil, nil
	}
	return true, &store.Ban{Host: host, Reason: reason}, nil
}

func (l *fakeLedger) OpenSession(_ context.Context, session *store.Session) error {
	l.sessions[session.ID] = session
	return nil
}

func (l *fakeLedger) CloseSession(_ context.Context, id, reason string) error {
	l.closed[id] = reason
	return nil
}

func testGameConfig() config.GameConfig {
	return config.GameConfig{MaxPlayers: 2, RelevanceRadius: 10, SpawnHealth: 100}
}

type fixture struct {
	world  *replication.World
	types  *replication.TypeRegistry
	rules  *Rules
	ledger *fakeLedger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	types, err := NewTypes()
	require.NoError(t, err)

	f := &fixture{types: types, ledger: newFakeLedger()}
	f.world = replication.NewWorld(replication.NetmodeServer, types, zerolog.Nop())
	f.rules = NewRules(f.world, testGameConfig(), f.ledger, zerolog.Nop())
	return f
}

// join admits a peer the way the transport handshake does
func (f *fixture) join(t *testing.T, addr string) (*replication.ServerConnection, *PlayerController) {
	t.Helper()
	require.NoError(t, f.rules.PreInitialise(addr, replication.NetmodeClient))

	conn := replication.NewServerConnection(f.world, f.rules, addr, zerolog.Nop())
	controller, err := f.rules.PostInitialise(conn)
	require.NoError(t, err)
	conn.SetController(controller)
	return conn, controller.(*PlayerController)
}

// transfer moves a collection across the wire format
func transfer(t *testing.T, col *protocol.Collection) []*protocol.Packet {
	t.Helper()
	data, err := col.Bytes()
	require.NoError(t, err)
	decoded, err := protocol.DecodeCollection(data)
	require.NoError(t, err)
	return decoded.Members
}
