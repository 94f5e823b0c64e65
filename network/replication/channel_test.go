package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAttributes(t *testing.T, ch *Channel, data []byte) map[string]any {
	t.Helper()
	values, n, err := ch.args.Unpack(data, 0, nil)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	out := make(map[string]any, len(values))
	for _, v := range values {
		out[v.Name] = v.Value
	}
	return out
}

func TestChannelAttributes(t *testing.T) {
	types := newTestTypes(t)

	t.Run("initial send skips class defaults", func(t *testing.T) {
		world := newTestWorld(t, NetmodeServer, types)
		pawn := newTestPawn()
		require.NoError(t, world.Add(pawn))

		ch, err := NewChannel(pawn)
		require.NoError(t, err)
		assert.True(t, ch.IsInitial())

		data, err := ch.GetAttributes(false)
		require.NoError(t, err)
		require.NotNil(t, data)
		assert.False(t, ch.IsInitial())

		values := decodeAttributes(t, ch, data)
		assert.Equal(t, map[string]any{"roles": Roles{Local: RoleSimulatedProxy, Remote: RoleAuthority}}, values)
	})

	t.Run("unchanged attributes are not resent", func(t *testing.T) {
		world := newTestWorld(t, NetmodeServer, types)
		pawn := newTestPawn()
		require.NoError(t, world.Add(pawn))
		ch, err := NewChannel(pawn)
		require.NoError(t, err)

		_, err = ch.GetAttributes(false)
		require.NoError(t, err)

		data, err := ch.GetAttributes(false)
		require.NoError(t, err)
		assert.Nil(t, data)

		pawn.Health.Set(40)
		pawn.Name.Set("ada")
		data, err = ch.GetAttributes(false)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"health": uint8(40), "name": "ada"}, decodeAttributes(t, ch, data))
	})

	t.Run("complaints add conditional attributes once", func(t *testing.T) {
		world := newTestWorld(t, NetmodeServer, types)
		pawn := newTestPawn()
		require.NoError(t, world.Add(pawn))
		ch, err := NewChannel(pawn)
		require.NoError(t, err)
		_, err = ch.GetAttributes(false)
		require.NoError(t, err)

		pawn.Score.Set(12)
		assert.True(t, ch.IsComplaining())
		assert.True(t, ch.AwaitingReplication())

		data, err := ch.GetAttributes(false)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"score": int32(12)}, decodeAttributes(t, ch, data))
		assert.False(t, ch.IsComplaining())
	})

	t.Run("autonomous proxies are simulated for other peers", func(t *testing.T) {
		world := newTestWorld(t, NetmodeServer, types)
		pawn := newTestPawn()
		pawn.Roles.Set(Roles{Local: RoleAuthority, Remote: RoleAutonomousProxy})
		require.NoError(t, world.Add(pawn))

		owner, err := NewChannel(pawn)
		require.NoError(t, err)
		data, err := owner.GetAttributes(true)
		require.NoError(t, err)
		assert.Equal(t, Roles{Local: RoleAutonomousProxy, Remote: RoleAuthority}, decodeAttributes(t, owner, data)["roles"])

		other, err := NewChannel(pawn)
		require.NoError(t, err)
		data, err = other.GetAttributes(false)
		require.NoError(t, err)
		assert.Equal(t, Roles{Local: RoleSimulatedProxy, Remote: RoleAuthority}, decodeAttributes(t, other, data)["roles"])
	})

	t.Run("update period gates replication", func(t *testing.T) {
		world := newTestWorld(t, NetmodeServer, types)
		pawn := newTestPawn()
		pawn.ReplicationUpdatePeriod = 1
		pawn.ReplicationPriority = 2
		require.NoError(t, world.Add(pawn))
		ch, err := NewChannel(pawn)
		require.NoError(t, err)
		_, err = ch.GetAttributes(false)
		require.NoError(t, err)

		world.Update(0.5)
		assert.False(t, ch.AwaitingReplication())
		assert.InDelta(t, 1.5, ch.ReplicationPriority(), 1e-9)

		world.Update(0.5)
		assert.True(t, ch.AwaitingReplication())
		assert.InDelta(t, 2.0, ch.ReplicationPriority(), 1e-9)
	})

	t.Run("inbound attributes are stored then notified", func(t *testing.T) {
		server := newTestWorld(t, NetmodeServer, types)
		client := newTestWorld(t, NetmodeClient, types)

		friend := newTestPawn()
		require.NoError(t, server.Add(friend))
		pawn := newTestPawn()
		require.NoError(t, server.Add(pawn))
		pawn.Health.Set(7)
		pawn.Friend.Set(friend)

		clientFriend, err := client.CreateOrReturn("Pawn", friend.ID())
		require.NoError(t, err)
		clientPawn, err := client.CreateOrReturn("Pawn", pawn.ID())
		require.NoError(t, err)

		out, err := NewChannel(pawn)
		require.NoError(t, err)
		data, err := out.GetAttributes(false)
		require.NoError(t, err)

		in, err := NewChannel(clientPawn)
		require.NoError(t, err)
		require.NoError(t, in.SetAttributes(data))
		assert.False(t, in.IsInitial())

		received := clientPawn.(*testPawn)
		assert.Equal(t, uint8(7), received.Health.Get())
		assert.Same(t, clientFriend, received.Friend.Get())
		assert.Equal(t, Roles{Local: RoleSimulatedProxy, Remote: RoleAuthority}, received.Roles.Get())
		assert.ElementsMatch(t, []string{"health", "roles"}, received.notified)
	})
}

type flaggedThing struct {
	Object

	Visible Attribute[bool] `net:"visible"`
	Armed   Attribute[bool] `net:"armed"`
}

func (f *flaggedThing) Conditions(isOwner, isComplaining, isInitial bool) []string {
	return append(f.Object.Conditions(isOwner, isComplaining, isInitial), "visible", "armed")
}

func TestChannelBoolAttributes(t *testing.T) {
	types := NewTypeRegistry()
	_, err := types.Register("Flagged", func() Replicable { return &flaggedThing{} })
	require.NoError(t, err)

	server := newTestWorld(t, NetmodeServer, types)
	client := newTestWorld(t, NetmodeClient, types)

	thing := &flaggedThing{}
	thing.Roles.Set(Roles{Local: RoleAuthority, Remote: RoleSimulatedProxy})
	require.NoError(t, server.Add(thing))
	mirror, err := client.CreateOrReturn("Flagged", thing.ID())
	require.NoError(t, err)

	out, err := NewChannel(thing)
	require.NoError(t, err)
	in, err := NewChannel(mirror)
	require.NoError(t, err)

	sync := func() map[string]any {
		t.Helper()
		data, err := out.GetAttributes(false)
		require.NoError(t, err)
		require.NotNil(t, data)
		require.NoError(t, in.SetAttributes(data))
		return decodeAttributes(t, in, data)
	}

	thing.Visible.Set(true)
	sync()

	thing.Armed.Set(true)
	assert.Equal(t, map[string]any{"armed": true}, sync())

	remote := mirror.(*flaggedThing)
	assert.True(t, remote.Visible.Get(), "an untouched bool keeps its value")
	assert.True(t, remote.Armed.Get())

	thing.Visible.Set(false)
	assert.Equal(t, map[string]any{"visible": false}, sync())
	assert.False(t, remote.Visible.Get())
	assert.True(t, remote.Armed.Get())
}

func TestChannelRejectsUnregistered(t *testing.T) {
	_, err := NewChannel(newTestPawn())
	require.Error(t, err)
}
