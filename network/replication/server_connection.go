package replication

import (
	"sort"

	"github.com/gear6io/replicant/network/protocol"
	"github.com/rs/zerolog"
)

// ServerConnection replicates the server's world to one client
type ServerConnection struct {
	Connection

	addr   string
	rules  Rules
	cached []*protocol.Packet
}

// NewServerConnection opens channels for every live replicable and follows
// the world's registrations until Close.
func NewServerConnection(world *World, rules Rules, addr string, logger zerolog.Logger) *ServerConnection {
	c := &ServerConnection{
		Connection: newConnection(world, logger.With().Str("component", "server-connection").Str("addr", addr).Logger()),
		addr:       addr,
		rules:      rules,
	}
	c.openExisting()
	world.Subscribe(c)
	return c
}

// Addr is the peer's network address
func (c *ServerConnection) Addr() string {
	return c.addr
}

// Close stops following the world
func (c *ServerConnection) Close() {
	c.world.Unsubscribe(c)
}

// OnUnregistered queues a deletion for peers that already hold r
func (c *ServerConnection) OnUnregistered(r Replicable) {
	ch := c.closeChannel(r)
	if ch == nil || ch.IsInitial() {
		return
	}
	c.cached = append(c.cached, protocol.NewReliable(protocol.ReplicationDel, []byte{r.Replication().id}))
}

// Send builds this tick's packets: full replication on network ticks and
// RPC calls only otherwise.
func (c *ServerConnection) Send(networkTick bool) *protocol.Collection {
	if networkTick {
		return c.GetFullReplication()
	}
	return c.GetMethodReplication()
}

func (c *ServerConnection) prioritised() []*Channel {
	channels := c.Channels()
	sort.SliceStable(channels, func(i, j int) bool {
		return channels[i].ReplicationPriority() > channels[j].ReplicationPriority()
	})
	return channels
}

func (c *ServerConnection) isRelevant(r Replicable) bool {
	if r.Replication().AlwaysRelevant {
		return true
	}
	if c.rules == nil {
		return false
	}
	return c.rules.IsRelevant(c, r)
}

// GetFullReplication emits queued deletions, then per replicable its
// creation and RPC calls, then every attribute update. Updates go last so
// references they carry resolve on the peer.
func (c *ServerConnection) GetFullReplication() *protocol.Collection {
	out := protocol.NewCollection(c.cached...)
	c.cached = nil

	var updates []*protocol.Packet
	for _, ch := range c.prioritised() {
		r := ch.replicable
		o := ch.object

		if o.Roles.Get().Remote == RoleNone {
			continue
		}

		isOwner := c.IsOwner(r)
		if !isOwner && !c.isRelevant(r) {
			continue
		}

		initial := ch.IsInitial()
		if initial {
			payload, err := c.initPayload(r)
			if err != nil {
				c.logger.Error().Err(err).Uint8("instance", o.id).Msg("Unable to pack replication init")
				continue
			}
			out.Add(protocol.NewReliable(protocol.ReplicationInit, payload))
		}

		if isOwner {
			out.Add(c.rpcPackets(ch)...)
		}

		if initial || ch.AwaitingReplication() {
			attributes, err := ch.GetAttributes(isOwner)
			if err != nil {
				c.logger.Error().Err(err).Uint8("instance", o.id).Msg("Unable to pack attributes")
			} else if attributes != nil {
				payload := append([]byte{o.id}, attributes...)
				updates = append(updates, protocol.NewReliable(protocol.ReplicationUpdate, payload))
			}

			// Sent once, then left to the peer
			if o.ReplicateTemporarily {
				delete(c.channels, o)
			}
		}
	}

	out.Add(updates...)
	return out
}

// GetMethodReplication emits RPC calls of owned replicables the peer holds
func (c *ServerConnection) GetMethodReplication() *protocol.Collection {
	out := protocol.NewCollection()
	for _, ch := range c.Channels() {
		if ch.IsInitial() || ch.object.Roles.Get().Remote == RoleNone {
			continue
		}
		if c.IsOwner(ch.replicable) {
			out.Add(c.rpcPackets(ch)...)
		}
	}
	return out
}

func (c *ServerConnection) initPayload(r Replicable) ([]byte, error) {
	o := r.Replication()
	name, err := c.stringHandler().Pack(o.class.Name)
	if err != nil {
		return nil, err
	}
	isHost, err := c.boolHandler().Pack(c.controller != nil && c.controller.Replication() == o)
	if err != nil {
		return nil, err
	}

	payload := append([]byte{o.id}, name...)
	return append(payload, isHost...), nil
}

// Receive invokes RPC calls on replicables owned by this peer. Anything
// else is logged and dropped.
func (c *ServerConnection) Receive(packets []*protocol.Packet) {
	for _, p := range packets {
		if p.Protocol != protocol.MethodInvoke {
			c.logger.Debug().Str("protocol", p.Protocol.String()).Msg("Ignoring packet clients may not send")
			continue
		}
		if len(p.Payload) < 2 {
			c.logger.Warn().Msg("Dropping truncated method_invoke")
			continue
		}

		id := p.Payload[0]
		r, ok := c.world.Get(id)
		if !ok {
			c.logger.Debug().Uint8("instance", id).Msg("Dropping RPC for unknown replicable")
			continue
		}
		if !c.IsOwner(r) {
			c.logger.Warn().Uint8("instance", id).Msg("Dropping RPC for replicable the peer does not own")
			continue
		}

		ch, ok := c.Channel(r)
		if !ok {
			c.logger.Debug().Uint8("instance", id).Msg("Dropping RPC for replicable without a channel")
			continue
		}
		// Body errors are already logged by the RPC
		_ = ch.InvokeRPCCall(p.Payload[1:])
	}
}
