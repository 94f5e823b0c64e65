package replication

import (
	"sort"

	"github.com/gear6io/replicant/network/protocol"
	"github.com/gear6io/replicant/network/serial"
	"github.com/rs/zerolog"
)

// Connection holds one channel per live replicable for a single peer
type Connection struct {
	world      *World
	channels   map[*Object]*Channel
	controller Replicable
	logger     zerolog.Logger
}

func newConnection(world *World, logger zerolog.Logger) Connection {
	return Connection{
		world:    world,
		channels: make(map[*Object]*Channel),
		logger:   logger,
	}
}

func (c *Connection) World() *World {
	return c.world
}

// Controller is the replicable driven by this connection's peer
func (c *Connection) Controller() Replicable {
	return c.controller
}

func (c *Connection) SetController(r Replicable) {
	c.controller = r
}

// Channel returns the channel of r
func (c *Connection) Channel(r Replicable) (*Channel, bool) {
	ch, ok := c.channels[r.Replication()]
	return ch, ok
}

// Channels returns the open channels ordered by instance id
func (c *Connection) Channels() []*Channel {
	out := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].object.id < out[j].object.id })
	return out
}

// IsOwner reports whether r's owner chain ends at this connection's controller
func (c *Connection) IsOwner(r Replicable) bool {
	if c.controller == nil || r == nil {
		return false
	}
	return r.Replication().TopOwner().Replication() == c.controller.Replication()
}

func (c *Connection) OnRegistered(r Replicable) {
	c.openChannel(r)
}

func (c *Connection) OnUnregistered(r Replicable) {
	c.closeChannel(r)
}

func (c *Connection) openChannel(r Replicable) {
	ch, err := NewChannel(r)
	if err != nil {
		c.logger.Error().Err(err).Uint8("instance", r.Replication().id).Msg("Unable to open channel")
		return
	}
	c.channels[r.Replication()] = ch
}

func (c *Connection) closeChannel(r Replicable) *Channel {
	o := r.Replication()
	ch, ok := c.channels[o]
	if !ok {
		return nil
	}
	delete(c.channels, o)

	if c.controller != nil && c.controller.Replication() == o {
		c.controller = nil
	}
	return ch
}

func (c *Connection) openExisting() {
	for _, r := range c.world.Instances() {
		c.openChannel(r)
	}
}

// rpcPackets frames the queued RPC calls of ch as method_invoke packets
func (c *Connection) rpcPackets(ch *Channel) []*protocol.Packet {
	calls := ch.TakeRPCCalls()
	packets := make([]*protocol.Packet, 0, len(calls))
	for _, call := range calls {
		payload := append([]byte{ch.object.id}, PackRPCCall(call)...)
		packets = append(packets, &protocol.Packet{
			Protocol: protocol.MethodInvoke,
			Payload:  payload,
			Reliable: call.Reliable,
		})
	}
	return packets
}

func (c *Connection) stringHandler() serial.Handler {
	return c.world.registry.MustHandler(serial.Flag[string]())
}

func (c *Connection) boolHandler() serial.Handler {
	return c.world.registry.MustHandler(serial.Flag[bool]())
}
