package replication

import (
	"testing"

	"github.com/gear6io/replicant/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorldRegistration(t *testing.T) {
	t.Run("ids are the lowest free", func(t *testing.T) {
		world := newTestWorld(t, NetmodeServer, newTestTypes(t))
		a, b, c := newTestPawn(), newTestPawn(), newTestPawn()

		require.NoError(t, world.Add(a))
		require.NoError(t, world.Add(b))
		assert.Equal(t, uint8(0), a.ID())
		assert.Equal(t, uint8(1), b.ID())
		assert.True(t, a.LocalAuthority())

		world.Remove(a)
		world.Update(0)
		require.NoError(t, world.Add(c))
		assert.Equal(t, uint8(0), c.ID())
	})

	t.Run("world info holds the reserved id", func(t *testing.T) {
		world := newTestWorld(t, NetmodeServer, newTestTypes(t))
		r, ok := world.Get(WorldInfoID)
		require.True(t, ok)
		assert.Same(t, world.Info(), r)

		err := world.AddStatic(newTestPawn(), WorldInfoID)
		assert.True(t, errors.HasCode(err, ErrIDInUse))

		world.Remove(world.Info())
		world.Update(0)
		_, ok = world.Get(WorldInfoID)
		assert.True(t, ok)
	})

	t.Run("removal waits for update", func(t *testing.T) {
		world := newTestWorld(t, NetmodeServer, newTestTypes(t))
		listener := &recordingListener{}
		world.Subscribe(listener)

		pawn := newTestPawn()
		require.NoError(t, world.Add(pawn))
		assert.Equal(t, []string{"+Pawn"}, listener.events)

		world.Remove(pawn)
		world.Remove(pawn)
		_, ok := world.Get(pawn.ID())
		assert.True(t, ok)
		assert.True(t, pawn.IsRegistered())

		world.Update(0.5)
		_, ok = world.Get(pawn.ID())
		assert.False(t, ok)
		assert.False(t, pawn.IsRegistered())
		assert.Equal(t, []string{"+Pawn", "-Pawn"}, listener.events)
		assert.Equal(t, 0.5, world.Elapsed())
		assert.Equal(t, 0.5, world.Info().Elapsed.Get())

		world.Unsubscribe(listener)
		require.NoError(t, world.Add(newTestPawn()))
		assert.Len(t, listener.events, 2)
	})

	t.Run("static ids move local instances", func(t *testing.T) {
		world := newTestWorld(t, NetmodeClient, newTestTypes(t))
		local := newTestPawn()
		require.NoError(t, world.Add(local))
		require.Equal(t, uint8(0), local.ID())

		remote := newTestPawn()
		require.NoError(t, world.AddStatic(remote, 0))
		assert.Equal(t, uint8(0), remote.ID())
		assert.NotEqual(t, uint8(0), local.ID())
		assert.True(t, local.IsRegistered())

		got, ok := world.Get(local.ID())
		require.True(t, ok)
		assert.Same(t, local, got)
	})

	t.Run("static ids do not move remote instances", func(t *testing.T) {
		world := newTestWorld(t, NetmodeClient, newTestTypes(t))
		require.NoError(t, world.AddStatic(newTestPawn(), 3))

		err := world.AddStatic(newTestPawn(), 3)
		assert.True(t, errors.HasCode(err, ErrIDInUse))
	})

	t.Run("create or return", func(t *testing.T) {
		world := newTestWorld(t, NetmodeClient, newTestTypes(t))

		first, err := world.CreateOrReturn("Pawn", 4)
		require.NoError(t, err)
		second, err := world.CreateOrReturn("Pawn", 4)
		require.NoError(t, err)
		assert.Same(t, first, second)

		info, err := world.CreateOrReturn(WorldInfoClass, WorldInfoID)
		require.NoError(t, err)
		assert.Same(t, world.Info(), info)

		_, err = world.CreateOrReturn("Nope", 5)
		assert.True(t, errors.HasCode(err, ErrUnknownClass))
	})

	t.Run("unregistered classes are rejected", func(t *testing.T) {
		world := newTestWorld(t, NetmodeServer, NewTypeRegistry())
		err := world.Add(newTestPawn())
		assert.True(t, errors.HasCode(err, ErrUnknownClass))
	})

	t.Run("ids run out", func(t *testing.T) {
		world := newTestWorld(t, NetmodeServer, newTestTypes(t))
		for i := 0; i < MaxReplicables; i++ {
			require.NoError(t, world.Add(&hiddenThing{}))
		}
		err := world.Add(&hiddenThing{})
		assert.True(t, errors.HasCode(err, ErrIDExhausted))
	})
}

func TestReplicableReferences(t *testing.T) {
	world := newTestWorld(t, NetmodeServer, newTestTypes(t))
	a, b := newTestPawn(), newTestPawn()
	require.NoError(t, world.Add(a))
	require.NoError(t, world.Add(b))

	handler, err := world.Registry().Handler(serialFlagOfReplicable())
	require.NoError(t, err)

	t.Run("references pack as ids", func(t *testing.T) {
		data, err := handler.Pack(b)
		require.NoError(t, err)
		assert.Equal(t, []byte{1}, data)

		value, n, err := handler.UnpackFrom(data, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Same(t, b, value)
	})

	t.Run("nil packs to the sentinel", func(t *testing.T) {
		data, err := handler.Pack(nil)
		require.NoError(t, err)
		assert.Equal(t, []byte{nilReference}, data)

		value, _, err := handler.UnpackFrom(data, 0)
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("unknown ids resolve to nil", func(t *testing.T) {
		value, n, err := handler.UnpackFrom([]byte{42}, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Nil(t, value)
	})

	t.Run("descriptions follow identity", func(t *testing.T) {
		assert.Equal(t, world.describe(a), world.describe(a))
		assert.NotEqual(t, world.describe(a), world.describe(b))
	})
}

func TestCreateOrReturnReplacesPendingRemoval(t *testing.T) {
	types := newTestTypes(t)
	world := newTestWorld(t, NetmodeClient, types)

	doomed, err := world.CreateOrReturn("Pawn", 3)
	require.NoError(t, err)
	world.Remove(doomed)

	fresh, err := world.CreateOrReturn("Pawn", 3)
	require.NoError(t, err)
	assert.NotSame(t, doomed, fresh)
	assert.False(t, doomed.Replication().IsRegistered())

	world.Update(0)
	current, ok := world.Get(3)
	require.True(t, ok)
	assert.Same(t, fresh, current)

	t.Run("remove now skips the queue", func(t *testing.T) {
		world.Remove(fresh)
		world.RemoveNow(fresh)
		_, ok := world.Get(3)
		assert.False(t, ok)
		world.Update(0)
		assert.False(t, fresh.Replication().IsRegistered())
	})
}
