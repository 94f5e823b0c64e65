package replication

import (
	"reflect"

	"github.com/gear6io/replicant/network/serial"
	"github.com/gear6io/replicant/pkg/errors"
)

// rpcSpec is the class-level declaration of one RPC field
type rpcSpec struct {
	Name     string
	ID       uint8
	Index    []int
	Target   Netmode
	Reliable bool
	ArgType  reflect.Type
}

// RPCCall is a queued invocation waiting to be sent to the peer
type RPCCall struct {
	ID       uint8
	Name     string
	Reliable bool
	Args     []byte
}

// RPC is a remotely invocable method with arguments of type A. Declare it on
// a type embedding Object, install its body with Handle, and call it with
// Call:
//
//	Move replication.RPC[MoveArgs] `net:"move,target=server,reliable"`
//
// A is usually a struct whose net-tagged fields are the parameters.
type RPC[A any] struct {
	body  func(A) error
	spec  *rpcSpec
	owner *Object
}

// Handle installs the body run on the target peer
func (r *RPC[A]) Handle(fn func(A) error) {
	r.body = fn
}

// Call runs the body when this world is the RPC's target, or in single
// player. Otherwise the arguments are packed and queued on the owner for the
// next send pass.
func (r *RPC[A]) Call(args A) error {
	if r.owner == nil || r.owner.world == nil {
		return errors.New(ErrNotRegistered, "rpc called on an unregistered replicable", nil).
			AddContext("rpc", r.name())
	}

	world := r.owner.world
	if r.runsLocally(world.Netmode()) {
		return r.invoke(args)
	}

	handler, err := world.registry.Handler(serial.FlagOf(r.spec.ArgType))
	if err != nil {
		return err
	}
	data, err := handler.Pack(args)
	if err != nil {
		return errors.Wrapf(serial.ErrInvalidValue, err, "packing arguments of %s", r.spec.Name)
	}

	r.owner.queueCall(RPCCall{ID: r.spec.ID, Name: r.spec.Name, Reliable: r.spec.Reliable, Args: data})
	return nil
}

func (r *RPC[A]) runsLocally(mode Netmode) bool {
	switch {
	case mode == NetmodeSingle:
		return true
	case r.spec.Target == NetmodeServer:
		return mode.IsServer()
	default:
		return mode == r.spec.Target
	}
}

func (r *RPC[A]) name() string {
	if r.spec == nil {
		return "<unbound>"
	}
	return r.spec.Name
}

func (r *RPC[A]) invoke(args A) error {
	if r.body == nil {
		return errors.Newf(ErrRPCUnhandled, "rpc %s has no handler", r.name())
	}
	return r.body(args)
}

// rpcSlot is how an Object reaches its RPC fields
type rpcSlot interface {
	argType() reflect.Type
	bind(owner *Object, spec *rpcSpec)
	rpcSpec() *rpcSpec
	execute(data []byte) error
}

var rpcSlotType = reflect.TypeOf((*rpcSlot)(nil)).Elem()

func (r *RPC[A]) argType() reflect.Type {
	return reflect.TypeOf((*A)(nil)).Elem()
}

func (r *RPC[A]) bind(owner *Object, spec *rpcSpec) {
	r.owner = owner
	r.spec = spec
}

func (r *RPC[A]) rpcSpec() *rpcSpec {
	return r.spec
}

// execute decodes packed arguments and runs the body. Malformed arguments
// are logged and dropped; body errors are logged and returned.
func (r *RPC[A]) execute(data []byte) error {
	world := r.owner.world
	logger := world.logger.With().Str("rpc", r.name()).Uint8("instance", r.owner.id).Logger()

	handler, err := world.registry.Handler(serial.FlagOf(r.spec.ArgType))
	if err != nil {
		logger.Error().Err(err).Msg("No argument handler for RPC")
		return nil
	}

	value, _, err := handler.UnpackFrom(data, 0)
	if err != nil {
		logger.Warn().Err(err).Msg("Dropping RPC with malformed arguments")
		return nil
	}

	var args A
	if value != nil {
		typed, ok := value.(A)
		if !ok {
			logger.Warn().Str("got", reflect.TypeOf(value).String()).Msg("Dropping RPC with mistyped arguments")
			return nil
		}
		args = typed
	}

	if err := r.invoke(args); err != nil {
		logger.Error().Err(err).Msg("RPC body failed")
		return err
	}
	return nil
}
