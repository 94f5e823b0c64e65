package replication

import (
	"testing"

	"github.com/gear6io/replicant/network/serial"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type damageArgs struct {
	Amount   uint8 `net:"amount"`
	Critical bool  `net:"critical"`
}

type testPawn struct {
	Object

	Health Attribute[uint8]      `net:"health,notify,max_value=200"`
	Name   Attribute[string]     `net:"name"`
	Score  Attribute[int32]      `net:"score,complain"`
	Friend Attribute[Replicable] `net:"friend"`

	Damage RPC[damageArgs] `net:"damage,target=server,reliable"`
	Ping   RPC[struct{}]   `net:"ping,target=client"`

	notified []string
	damage   int
	pings    int
}

func newTestPawn() *testPawn {
	p := &testPawn{}
	p.Health.Set(100)
	p.Roles.Set(Roles{Local: RoleAuthority, Remote: RoleSimulatedProxy})
	p.Damage.Handle(func(args damageArgs) error {
		p.damage += int(args.Amount)
		if args.Critical {
			p.damage *= 2
		}
		return nil
	})
	p.Ping.Handle(func(struct{}) error {
		p.pings++
		return nil
	})
	return p
}

func (p *testPawn) Conditions(isOwner, isComplaining, isInitial bool) []string {
	names := append(p.Object.Conditions(isOwner, isComplaining, isInitial), "health", "name", "friend")
	if isComplaining {
		names = append(names, "score")
	}
	return names
}

func (p *testPawn) OnNotify(name string) {
	p.notified = append(p.notified, name)
}

type hiddenThing struct {
	Object

	Secret Attribute[string] `net:"secret"`
}

func newTestTypes(t *testing.T) *TypeRegistry {
	t.Helper()
	types := NewTypeRegistry()
	_, err := types.Register("Pawn", func() Replicable { return newTestPawn() })
	require.NoError(t, err)
	_, err = types.Register("Hidden", func() Replicable { return &hiddenThing{} })
	require.NoError(t, err)
	return types
}

func newTestWorld(t *testing.T, netmode Netmode, types *TypeRegistry) *World {
	t.Helper()
	return NewWorld(netmode, types, zerolog.Nop())
}

// recordingListener keeps registration events in order
type recordingListener struct {
	events []string
}

func (l *recordingListener) OnRegistered(r Replicable) {
	l.events = append(l.events, "+"+r.Replication().Class().Name)
}

func (l *recordingListener) OnUnregistered(r Replicable) {
	l.events = append(l.events, "-"+r.Replication().Class().Name)
}

// testRules admits everyone and treats nothing as relevant unless marked
type testRules struct {
	relevant   map[*Object]bool
	controller func(conn *ServerConnection) Replicable
}

func (r *testRules) PreInitialise(string, Netmode) error {
	return nil
}

func (r *testRules) PostInitialise(conn *ServerConnection) (Replicable, error) {
	if r.controller == nil {
		return nil, nil
	}
	return r.controller(conn), nil
}

func (r *testRules) IsRelevant(_ *ServerConnection, rep Replicable) bool {
	return r.relevant[rep.Replication()]
}

func serialFlagOfReplicable() serial.TypeFlag {
	return serial.Flag[Replicable]()
}
