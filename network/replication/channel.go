package replication

import (
	"github.com/gear6io/replicant/network/serial"
	"github.com/gear6io/replicant/pkg/errors"
	"github.com/rs/zerolog"
)

// Channel is the replication state of one replicable towards one peer
type Channel struct {
	replicable Replicable
	object     *Object
	world      *World
	args       *serial.ArgumentSerialiser
	logger     zerolog.Logger

	isInitial       bool
	sent            map[string]uint64
	complaints      map[string]uint64
	lastReplication float64
}

// NewChannel opens a channel for a registered replicable. The sent table
// starts from the class defaults, which the peer builds on its own.
func NewChannel(r Replicable) (*Channel, error) {
	o := r.Replication()
	if !o.registered || o.world == nil {
		return nil, errors.New(ErrNotRegistered, "channels need a registered replicable", nil)
	}

	args, err := o.world.argumentsFor(o.class)
	if err != nil {
		return nil, err
	}

	sent := make(map[string]uint64, len(o.class.defaults))
	for name, desc := range o.class.defaults {
		sent[name] = desc
	}

	return &Channel{
		replicable:      r,
		object:          o,
		world:           o.world,
		args:            args,
		logger:          o.world.logger.With().Uint8("instance", o.id).Str("class", o.class.Name).Logger(),
		isInitial:       true,
		sent:            sent,
		complaints:      make(map[string]uint64),
		lastReplication: o.world.elapsed,
	}, nil
}

func (c *Channel) Replicable() Replicable {
	return c.replicable
}

// IsInitial reports whether the peer has not yet received this replicable
func (c *Channel) IsInitial() bool {
	return c.isInitial
}

// IsComplaining reports whether a complaining attribute changed since the
// last replication
func (c *Channel) IsComplaining() bool {
	if len(c.complaints) != len(c.object.complaints) {
		return true
	}
	for name, desc := range c.object.complaints {
		if seen, ok := c.complaints[name]; !ok || seen != desc {
			return true
		}
	}
	return false
}

// ReplicationPriority raises the replicable's priority by how long it has
// waited relative to its update period
func (c *Channel) ReplicationPriority() float64 {
	interval := c.world.elapsed - c.lastReplication
	return c.object.ReplicationPriority + interval/c.object.ReplicationUpdatePeriod - 1
}

// AwaitingReplication reports whether the update period has passed or a
// complaint is outstanding
func (c *Channel) AwaitingReplication() bool {
	interval := c.world.elapsed - c.lastReplication
	return interval >= c.object.ReplicationUpdatePeriod || c.IsComplaining()
}

func (c *Channel) conditions(isOwner bool) []string {
	complaining := c.IsComplaining()
	if cond, ok := c.replicable.(Conditioner); ok {
		return cond.Conditions(isOwner, complaining, c.isInitial)
	}
	return c.object.Conditions(isOwner, complaining, c.isInitial)
}

// GetAttributes packs the offered attributes whose description changed
// since they were last sent. It returns nil when nothing changed.
func (c *Channel) GetAttributes(isOwner bool) ([]byte, error) {
	values := make(map[string]any)

	for _, name := range c.conditions(isOwner) {
		slot, ok := c.object.attributes[name]
		if !ok {
			c.logger.Warn().Str("attribute", name).Msg("Conditions named an unknown attribute")
			continue
		}

		value := slot.load()
		if name == rolesAttribute && !isOwner {
			// Only the owner drives an autonomous proxy
			if roles := value.(Roles); roles.Remote == RoleAutonomousProxy {
				roles.Remote = RoleSimulatedProxy
				value = roles
			}
		}

		desc := c.world.describe(value)
		if last, ok := c.sent[name]; ok && last == desc {
			continue
		}
		values[name] = value
		c.sent[name] = desc
	}

	c.complaints = make(map[string]uint64, len(c.object.complaints))
	for name, desc := range c.object.complaints {
		c.complaints[name] = desc
	}
	c.isInitial = false
	c.lastReplication = c.world.elapsed

	if len(values) == 0 {
		return nil, nil
	}
	return c.args.Pack(values)
}

// SetAttributes writes an inbound update. Values are stored directly and
// notify hooks run once every value is in place.
func (c *Channel) SetAttributes(data []byte) error {
	previous := make(map[string]any, len(c.object.attributes))
	for name, slot := range c.object.attributes {
		previous[name] = slot.load()
	}

	values, _, err := c.args.Unpack(data, 0, previous)
	if err != nil {
		return errors.Wrapf(ErrMalformedPacket, err, "attributes of %s", c.object.class.Name)
	}

	var notify []string
	for _, v := range values {
		slot, ok := c.object.attributes[v.Name]
		if !ok {
			continue
		}
		if err := slot.store(v.Value); err != nil {
			return err
		}
		if spec, _ := c.object.class.attribute(v.Name); spec != nil && spec.Notify {
			notify = append(notify, v.Name)
		}
	}
	c.isInitial = false

	if notifier, ok := c.replicable.(Notifier); ok {
		for _, name := range notify {
			notifier.OnNotify(name)
		}
	}
	return nil
}

// TakeRPCCalls drains the replicable's queued RPC calls
func (c *Channel) TakeRPCCalls() []RPCCall {
	return c.object.takeCalls()
}

// PackRPCCall frames a call as [rpc id][args]
func PackRPCCall(call RPCCall) []byte {
	return append([]byte{call.ID}, call.Args...)
}

// InvokeRPCCall runs the RPC whose id leads data. Unknown ids are logged
// and dropped; RPC body errors are returned.
func (c *Channel) InvokeRPCCall(data []byte) error {
	if len(data) == 0 {
		c.logger.Warn().Msg("Dropping empty RPC call")
		return nil
	}

	slot, ok := c.object.rpc(data[0])
	if !ok {
		c.logger.Warn().Uint8("rpc", data[0]).Msg("Dropping call to unknown RPC")
		return nil
	}
	return slot.execute(data[1:])
}
