package replication

import (
	"github.com/gear6io/replicant/network/protocol"
	"github.com/gear6io/replicant/pkg/errors"
	"github.com/rs/zerolog"
)

// ClientConnection applies the server's replication to the client's world
type ClientConnection struct {
	Connection
}

func NewClientConnection(world *World, logger zerolog.Logger) *ClientConnection {
	c := &ClientConnection{
		Connection: newConnection(world, logger.With().Str("component", "client-connection").Logger()),
	}
	c.openExisting()
	world.Subscribe(c)
	return c
}

func (c *ClientConnection) Close() {
	c.world.Unsubscribe(c)
}

// Send emits the queued RPC calls of every replicable
func (c *ClientConnection) Send(bool) *protocol.Collection {
	out := protocol.NewCollection()
	for _, ch := range c.Channels() {
		out.Add(c.rpcPackets(ch)...)
	}
	return out
}

// Receive applies each packet in order. A bad packet is logged and does
// not stop the rest.
func (c *ClientConnection) Receive(packets []*protocol.Packet) {
	for _, p := range packets {
		if err := c.SetReplication(p); err != nil {
			c.logger.Warn().Err(err).Str("protocol", p.Protocol.String()).Msg("Dropping replication packet")
		}
	}
}

// SetReplication applies one replication packet
func (c *ClientConnection) SetReplication(p *protocol.Packet) error {
	if len(p.Payload) < 1 {
		return errors.Newf(ErrMalformedPacket, "%s without an instance id", p.Protocol)
	}
	id := p.Payload[0]

	switch p.Protocol {
	case protocol.ReplicationInit:
		return c.replicationInit(id, p.Payload[1:])

	case protocol.ReplicationUpdate:
		ch, err := c.channelFor(id)
		if err != nil {
			return err
		}
		return ch.SetAttributes(p.Payload[1:])

	case protocol.MethodInvoke:
		ch, err := c.channelFor(id)
		if err != nil {
			return err
		}
		if !c.IsOwner(ch.replicable) {
			return errors.Newf(ErrUnknownInstance, "rpc for instance %d which this client does not own", id)
		}
		// Body errors are already logged by the RPC
		_ = ch.InvokeRPCCall(p.Payload[1:])
		return nil

	case protocol.ReplicationDel:
		r, ok := c.world.Get(id)
		if !ok {
			return errors.Newf(ErrUnknownInstance, "deletion of unknown instance %d", id)
		}
		// Immediate, so an init reusing the id later in this batch finds it free
		c.world.RemoveNow(r)
		return nil
	}

	return errors.Newf(ErrMalformedPacket, "%s is not a replication protocol", p.Protocol)
}

func (c *ClientConnection) replicationInit(id uint8, data []byte) error {
	value, n, err := c.stringHandler().UnpackFrom(data, 0)
	if err != nil {
		return errors.Wrapf(ErrMalformedPacket, err, "replication init for %d", id)
	}
	isHost, _, err := c.boolHandler().UnpackFrom(data, n)
	if err != nil {
		return errors.Wrapf(ErrMalformedPacket, err, "replication init for %d", id)
	}

	r, err := c.world.CreateOrReturn(value.(string), id)
	if err != nil {
		return err
	}
	if isHost.(bool) {
		c.controller = r
	}
	return nil
}

func (c *ClientConnection) channelFor(id uint8) (*Channel, error) {
	r, ok := c.world.Get(id)
	if !ok {
		// Creation may still be in flight
		return nil, errors.Newf(ErrUnknownInstance, "no replicable with id %d", id)
	}
	ch, ok := c.Channel(r)
	if !ok {
		return nil, errors.Newf(ErrUnknownInstance, "no channel for replicable %d", id)
	}
	return ch, nil
}
