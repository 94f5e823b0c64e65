package replication

import (
	"reflect"

	"github.com/cespare/xxhash/v2"
	"github.com/gear6io/replicant/pkg/errors"
)

const (
	rolesAttribute = "roles"
	ownerAttribute = "owner"

	// DefaultUpdatePeriod is the default time in seconds between attribute sends
	DefaultUpdatePeriod = 1.0 / 20
)

// Replicable is implemented by every type embedding Object
type Replicable interface {
	Replication() *Object
}

// Conditioner chooses which attributes are offered to a peer. Types
// overriding it usually start from Object.Conditions.
type Conditioner interface {
	Conditions(isOwner, isComplaining, isInitial bool) []string
}

// Notifier is told about inbound changes to notify attributes, after every
// value of the update has been written.
type Notifier interface {
	OnNotify(name string)
}

// Registrant observes its own registration with a World
type Registrant interface {
	OnRegistered()
	OnUnregistered()
}

// Object carries the replication state of a replicable. Embed it:
//
//	type Pawn struct {
//		replication.Object
//		Health replication.Attribute[uint8] `net:"health,notify"`
//	}
type Object struct {
	Roles Attribute[Roles]      `net:"roles,notify"`
	Owner Attribute[Replicable] `net:"owner,notify,complain"`

	// AlwaysRelevant replicates to every peer regardless of the rules
	AlwaysRelevant bool
	// ReplicateTemporarily sends the object once and then forgets the peer
	ReplicateTemporarily bool
	// ReplicationPriority orders objects within a send pass, higher first
	ReplicationPriority float64
	// ReplicationUpdatePeriod is the minimum time in seconds between attribute sends
	ReplicationUpdatePeriod float64

	id             uint8
	registered     bool
	localAuthority bool
	world          *World
	class          *Class
	self           Replicable

	attributes map[string]attributeSlot
	rpcs       map[uint8]rpcSlot
	complaints map[string]uint64
	calls      []RPCCall
}

func (o *Object) Replication() *Object {
	return o
}

// ID is the instance id shared by every peer
func (o *Object) ID() uint8 {
	return o.id
}

func (o *Object) IsRegistered() bool {
	return o.registered
}

func (o *Object) World() *World {
	return o.world
}

func (o *Object) Class() *Class {
	return o.class
}

// Self returns the value embedding this Object
func (o *Object) Self() Replicable {
	return o.self
}

// LocalAuthority reports whether this peer created the instance
func (o *Object) LocalAuthority() bool {
	return o.localAuthority
}

// Describe fingerprints the reference, not the contents, so attributes
// holding replicables change only when they point elsewhere.
func (o *Object) Describe() uint64 {
	var buf [9]byte
	if o.registered {
		buf[0] = 1
		buf[1] = o.id
	} else {
		ptr := uint64(reflect.ValueOf(o).Pointer())
		for i := 0; i < 8; i++ {
			buf[1+i] = byte(ptr >> (8 * i))
		}
	}
	return xxhash.Sum64(buf[:])
}

// Conditions offers roles and owner to every peer
func (o *Object) Conditions(isOwner, isComplaining, isInitial bool) []string {
	return []string{rolesAttribute, ownerAttribute}
}

// TopOwner follows the owner chain to its end
func (o *Object) TopOwner() Replicable {
	var top Replicable = o.self
	if top == nil {
		top = o
	}

	// Bounded walk guards against ownership cycles
	for i := 0; i <= MaxReplicables; i++ {
		owner := top.Replication().Owner.Get()
		if owner == nil || reflect.ValueOf(owner).IsNil() {
			return top
		}
		top = owner
	}
	return top
}

// GetAttribute reads an attribute by its wire name
func (o *Object) GetAttribute(name string) (any, error) {
	slot, ok := o.attributes[name]
	if !ok {
		return nil, errors.Newf(ErrUnknownAttribute, "unknown attribute %q", name)
	}
	return slot.load(), nil
}

// SetAttribute writes an attribute by its wire name. The value must have
// the attribute's declared type.
func (o *Object) SetAttribute(name string, value any) error {
	slot, ok := o.attributes[name]
	if !ok {
		return errors.Newf(ErrUnknownAttribute, "unknown attribute %q", name)
	}
	return slot.set(value)
}

func (o *Object) complain(name string, desc uint64) {
	if o.complaints == nil {
		o.complaints = make(map[string]uint64)
	}
	o.complaints[name] = desc
}

func (o *Object) queueCall(call RPCCall) {
	o.calls = append(o.calls, call)
}

// PendingCalls is the number of queued RPC calls
func (o *Object) PendingCalls() int {
	return len(o.calls)
}

func (o *Object) takeCalls() []RPCCall {
	calls := o.calls
	o.calls = nil
	return calls
}

func (o *Object) rpc(id uint8) (rpcSlot, bool) {
	slot, ok := o.rpcs[id]
	return slot, ok
}

// bind wires the instance's attribute and RPC fields to this Object
func (o *Object) bind(world *World, self Replicable, class *Class) {
	o.world = world
	o.self = self
	o.class = class

	value := reflect.ValueOf(self).Elem()

	o.attributes = make(map[string]attributeSlot, len(class.attributes))
	for _, spec := range class.attributes {
		slot := value.FieldByIndex(spec.Index).Addr().Interface().(attributeSlot)
		slot.bind(o, spec)
		o.attributes[spec.Name] = slot
	}

	o.rpcs = make(map[uint8]rpcSlot, len(class.rpcs))
	for _, spec := range class.rpcs {
		slot := value.FieldByIndex(spec.Index).Addr().Interface().(rpcSlot)
		slot.bind(o, spec)
		o.rpcs[spec.ID] = slot
	}

	if !o.Roles.isAssigned() {
		_ = o.Roles.store(DefaultRoles)
	}
	if o.ReplicationUpdatePeriod <= 0 {
		o.ReplicationUpdatePeriod = DefaultUpdatePeriod
	}
}
