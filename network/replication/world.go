package replication

import (
	"reflect"
	"sort"

	"github.com/gear6io/replicant/network/serial"
	"github.com/gear6io/replicant/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// MaxReplicables bounds the live instances of a world, WorldInfo aside
	MaxReplicables = 255

	// WorldInfoID is reserved for the world's WorldInfo
	WorldInfoID uint8 = 255

	// nilReference encodes a nil replicable reference. WorldInfo is never
	// referenced by attributes, so its id is free for this.
	nilReference = byte(WorldInfoID)
)

// Listener observes instances joining and leaving a World
type Listener interface {
	OnRegistered(r Replicable)
	OnUnregistered(r Replicable)
}

// World is the set of live replicables of one peer, together with the
// netmode and serialisers they replicate under. A World is owned by a
// single tick goroutine.
type World struct {
	netmode  Netmode
	types    *TypeRegistry
	registry *serial.Registry
	logger   zerolog.Logger

	instances map[uint8]Replicable
	pending   []Replicable
	listeners []Listener
	info      *WorldInfo
	elapsed   float64

	arguments map[*Class]*serial.ArgumentSerialiser
}

// NewWorld creates a world holding only its WorldInfo
func NewWorld(netmode Netmode, types *TypeRegistry, logger zerolog.Logger) *World {
	w := &World{
		netmode:   netmode,
		types:     types,
		registry:  serial.NewRegistry(),
		logger:    logger.With().Str("component", "world").Str("netmode", netmode.String()).Logger(),
		instances: make(map[uint8]Replicable),
		arguments: make(map[*Class]*serial.ArgumentSerialiser),
	}

	w.registry.RegisterType(rolesType, func(*serial.Registry, serial.TypeFlag) (serial.Handler, error) {
		return rolesHandler{}, nil
	})
	w.registry.RegisterInterface(replicableType, func(_ *serial.Registry, flag serial.TypeFlag) (serial.Handler, error) {
		return &referenceHandler{world: w, typ: flag.Type}, nil
	})

	w.info = NewWorldInfo()
	if err := w.AddStatic(w.info, WorldInfoID); err != nil {
		panic(err)
	}
	return w
}

func (w *World) Netmode() Netmode {
	return w.netmode
}

func (w *World) Types() *TypeRegistry {
	return w.types
}

// Registry is the serialiser registry replicable values are packed with
func (w *World) Registry() *serial.Registry {
	return w.registry
}

func (w *World) Logger() zerolog.Logger {
	return w.logger
}

func (w *World) Info() *WorldInfo {
	return w.info
}

// Elapsed is the world clock in seconds
func (w *World) Elapsed() float64 {
	return w.elapsed
}

func (w *World) describe(v any) uint64 {
	return w.registry.Describe(v)
}

// Add registers r under the lowest free id and marks it locally authoritative
func (w *World) Add(r Replicable) error {
	id, err := w.freeID(-1)
	if err != nil {
		return err
	}
	if err := w.register(r, id); err != nil {
		return err
	}
	r.Replication().localAuthority = true
	return nil
}

// AddStatic registers r under an explicit id. A locally authoritative
// instance holding the id moves to a fresh one; any other holder is a
// conflict.
func (w *World) AddStatic(r Replicable, id uint8) error {
	if id == WorldInfoID {
		if _, ok := r.(*WorldInfo); !ok {
			return errors.Newf(ErrIDInUse, "id %d is reserved for WorldInfo", id)
		}
	}

	if existing, ok := w.instances[id]; ok {
		if existing.Replication() == r.Replication() {
			return nil
		}
		if !existing.Replication().localAuthority {
			return errors.Newf(ErrIDInUse, "instance id %d is already in use", id).
				AddContext("class", existing.Replication().class.Name)
		}
		if err := w.reassign(existing, id); err != nil {
			return err
		}
	}

	return w.register(r, id)
}

// CreateOrReturn returns the instance registered under id when it has the
// named class, otherwise builds and registers a new one.
func (w *World) CreateOrReturn(className string, id uint8) (Replicable, error) {
	class, ok := w.types.Lookup(className)
	if !ok {
		return nil, errors.Newf(ErrUnknownClass, "unknown replicable class %q", className)
	}

	if existing, ok := w.instances[id]; ok {
		if w.isPending(existing.Replication()) {
			// A removal and a new instance for the same id arrived together
			w.RemoveNow(existing)
		} else if existing.Replication().class == class {
			return existing, nil
		}
	}

	r := class.New()
	if err := w.AddStatic(r, id); err != nil {
		return nil, err
	}
	return r, nil
}

// Remove schedules r for unregistration on the next Update
func (w *World) Remove(r Replicable) {
	o := r.Replication()
	if !o.registered || o.world != w || o.id == WorldInfoID {
		return
	}
	if w.isPending(o) {
		return
	}
	w.pending = append(w.pending, r)
}

// RemoveNow unregisters r at once, dropping any scheduled removal
func (w *World) RemoveNow(r Replicable) {
	o := r.Replication()
	if !o.registered || o.world != w || o.id == WorldInfoID {
		return
	}
	for i, p := range w.pending {
		if p.Replication() == o {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			break
		}
	}
	w.unregister(r)
}

func (w *World) isPending(o *Object) bool {
	for _, p := range w.pending {
		if p.Replication() == o {
			return true
		}
	}
	return false
}

// Update advances the world clock and flushes pending removals
func (w *World) Update(delta float64) {
	w.elapsed += delta
	if w.netmode != NetmodeClient {
		w.info.Elapsed.Set(w.elapsed)
	}

	pending := w.pending
	w.pending = nil
	for _, r := range pending {
		w.unregister(r)
	}
}

// SetElapsed moves the world clock, used to follow the server's clock
func (w *World) SetElapsed(elapsed float64) {
	w.elapsed = elapsed
}

// Get returns the instance registered under id
func (w *World) Get(id uint8) (Replicable, bool) {
	r, ok := w.instances[id]
	return r, ok
}

// Instances returns the live instances ordered by id
func (w *World) Instances() []Replicable {
	out := make([]Replicable, 0, len(w.instances))
	for _, r := range w.instances {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Replication().id < out[j].Replication().id })
	return out
}

// Len is the number of live instances, WorldInfo included
func (w *World) Len() int {
	return len(w.instances)
}

func (w *World) Subscribe(l Listener) {
	w.listeners = append(w.listeners, l)
}

func (w *World) Unsubscribe(l Listener) {
	for i, existing := range w.listeners {
		if existing == l {
			w.listeners = append(w.listeners[:i], w.listeners[i+1:]...)
			return
		}
	}
}

// DiscardPendingCalls drops RPC calls nobody collected this pass
func (w *World) DiscardPendingCalls() {
	for _, r := range w.instances {
		o := r.Replication()
		if len(o.calls) > 0 {
			w.logger.Debug().Uint8("instance", o.id).Int("calls", len(o.calls)).Msg("Discarding unsent RPC calls")
			o.calls = nil
		}
	}
}

func (w *World) argumentsFor(class *Class) (*serial.ArgumentSerialiser, error) {
	if args, ok := w.arguments[class]; ok {
		return args, nil
	}
	args, err := serial.NewArgumentSerialiser(w.registry, class.fields())
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidClass, err, "attributes of %s", class.Name)
	}
	w.arguments[class] = args
	return args, nil
}

func (w *World) freeID(exclude int) (uint8, error) {
	for id := 0; id < MaxReplicables; id++ {
		if id == exclude {
			continue
		}
		if _, ok := w.instances[uint8(id)]; !ok {
			return uint8(id), nil
		}
	}
	return 0, errors.Newf(ErrIDExhausted, "all %d instance ids are in use", MaxReplicables)
}

func (w *World) register(r Replicable, id uint8) error {
	o := r.Replication()
	if o.registered {
		return errors.Newf(ErrIDInUse, "replicable is already registered as %d", o.id)
	}

	class, ok := w.types.ClassOf(r)
	if !ok {
		return errors.Newf(ErrUnknownClass, "%T is not a registered replicable class", r)
	}

	o.bind(w, r, class)
	o.id = id
	o.registered = true
	w.instances[id] = r

	w.logger.Debug().Uint8("instance", id).Str("class", class.Name).Msg("Registered replicable")

	for _, l := range append([]Listener(nil), w.listeners...) {
		l.OnRegistered(r)
	}
	if hook, ok := r.(Registrant); ok {
		hook.OnRegistered()
	}
	return nil
}

func (w *World) unregister(r Replicable) {
	o := r.Replication()
	if current, ok := w.instances[o.id]; !ok || current.Replication() != o {
		return
	}

	for _, l := range append([]Listener(nil), w.listeners...) {
		l.OnUnregistered(r)
	}
	if hook, ok := r.(Registrant); ok {
		hook.OnUnregistered()
	}

	delete(w.instances, o.id)
	o.registered = false
	o.calls = nil
	w.logger.Debug().Uint8("instance", o.id).Str("class", o.class.Name).Msg("Unregistered replicable")
}

// reassign moves a locally authoritative instance off id
func (w *World) reassign(r Replicable, id uint8) error {
	fresh, err := w.freeID(int(id))
	if err != nil {
		return err
	}

	w.logger.Info().Uint8("from", id).Uint8("to", fresh).Msg("Moving local replicable to make room for a static id")

	w.unregister(r)
	o := r.Replication()
	o.id = fresh
	o.registered = true
	w.instances[fresh] = r
	for _, l := range append([]Listener(nil), w.listeners...) {
		l.OnRegistered(r)
	}
	return nil
}

var replicableType = reflect.TypeOf((*Replicable)(nil)).Elem()

// referenceHandler packs replicables as their one byte instance id and
// resolves them against the world on unpack.
type referenceHandler struct {
	world *World
	typ   reflect.Type
}

func (h *referenceHandler) Pack(value any) ([]byte, error) {
	if value == nil || reflect.ValueOf(value).Kind() == reflect.Pointer && reflect.ValueOf(value).IsNil() {
		return []byte{nilReference}, nil
	}

	r, ok := value.(Replicable)
	if !ok {
		return nil, errors.Newf(serial.ErrInvalidValue, "cannot pack %T as a replicable reference", value)
	}

	o := r.Replication()
	switch {
	case !o.registered:
		return nil, errors.New(ErrNotRegistered, "cannot reference an unregistered replicable", nil)
	case o.id == WorldInfoID:
		return nil, errors.New(serial.ErrInvalidValue, "WorldInfo cannot be referenced", nil)
	}
	return []byte{o.id}, nil
}

func (h *referenceHandler) UnpackFrom(data []byte, offset int) (any, int, error) {
	if offset < 0 || offset >= len(data) {
		return nil, 0, errors.Newf(serial.ErrInsufficientData, "replicable reference needs 1 byte, have %d", len(data)-offset)
	}

	id := data[offset]
	if id == nilReference {
		return nil, 1, nil
	}

	r, ok := h.world.instances[id]
	if !ok {
		// The creation packet may still be in flight
		h.world.logger.Debug().Uint8("instance", id).Msg("Reference to unknown replicable resolved to nil")
		return nil, 1, nil
	}
	if !reflect.TypeOf(r).AssignableTo(h.typ) {
		h.world.logger.Warn().Uint8("instance", id).Str("want", h.typ.String()).Msg("Reference to replicable of the wrong type resolved to nil")
		return nil, 1, nil
	}
	return r, 1, nil
}

func (h *referenceHandler) Size([]byte) (int, error) {
	return 1, nil
}
