package serial

import (
	"reflect"
	"sync"

	"github.com/gear6io/replicant/pkg/errors"
)

// Handler packs and unpacks values of one TypeFlag
type Handler interface {
	// Pack serialises value to bytes
	Pack(value any) ([]byte, error)

	// UnpackFrom decodes a value at offset and returns it with the number of bytes consumed
	UnpackFrom(data []byte, offset int) (any, int, error)

	// Size returns the encoded size of the value at the start of data
	Size(data []byte) (int, error)
}

// Merger is implemented by handlers that can decode into an existing value
// so references to it stay valid.
type Merger interface {
	UnpackMerge(target any, data []byte, offset int) (int, error)
}

// Factory builds a Handler for a flag. It may resolve nested handlers
// through the registry.
type Factory func(r *Registry, flag TypeFlag) (Handler, error)

// DescribeFunc fingerprints a value for change detection
type DescribeFunc func(value any) uint64

type interfaceFactory struct {
	iface   reflect.Type
	factory Factory
}

// Registry maps value types to handler factories and caches resolved handlers
type Registry struct {
	mu sync.RWMutex

	types      map[reflect.Type]Factory
	interfaces []interfaceFactory
	kinds      map[reflect.Kind]Factory
	describers map[reflect.Type]DescribeFunc

	cache map[string]Handler
}

// NewRegistry returns a registry with the built-in handlers installed
func NewRegistry() *Registry {
	r := &Registry{
		types:      make(map[reflect.Type]Factory),
		kinds:      make(map[reflect.Kind]Factory),
		describers: make(map[reflect.Type]DescribeFunc),
		cache:      make(map[string]Handler),
	}
	registerBuiltins(r)
	return r
}

// RegisterType installs a factory for an exact type
func (r *Registry) RegisterType(t reflect.Type, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.types[t] = factory
	r.cache = make(map[string]Handler)
}

// RegisterInterface installs a factory used for every type implementing
// iface. Interfaces are tried in registration order.
func (r *Registry) RegisterInterface(iface reflect.Type, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, entry := range r.interfaces {
		if entry.iface == iface {
			r.interfaces[i].factory = factory
			r.cache = make(map[string]Handler)
			return
		}
	}
	r.interfaces = append(r.interfaces, interfaceFactory{iface: iface, factory: factory})
	r.cache = make(map[string]Handler)
}

// RegisterKind installs the fallback factory for a reflect.Kind
func (r *Registry) RegisterKind(kind reflect.Kind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.kinds[kind] = factory
	r.cache = make(map[string]Handler)
}

// RegisterDescriber installs a fingerprint function for an exact type
func (r *Registry) RegisterDescriber(t reflect.Type, fn DescribeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.describers[t] = fn
}

// Handler resolves the handler for flag. Resolution tries the exact type,
// then registered interfaces the type implements, then its kind.
func (r *Registry) Handler(flag TypeFlag) (Handler, error) {
	if flag.Type == nil {
		return nil, errors.New(ErrHandlerNotFound, "type flag has no type", nil)
	}

	key := flag.key()

	r.mu.RLock()
	handler, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return handler, nil
	}

	factory, ok := r.lookup(flag.Type)
	if !ok {
		return nil, errors.Newf(ErrHandlerNotFound, "no handler registered for type %s", typeName(flag.Type)).
			AddContext("type", typeName(flag.Type))
	}

	// Built outside the lock: factories resolve nested handlers
	handler, err := factory(r, flag)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = handler
	r.mu.Unlock()

	return handler, nil
}

// MustHandler is Handler for flags known to be supported
func (r *Registry) MustHandler(flag TypeFlag) Handler {
	handler, err := r.Handler(flag)
	if err != nil {
		panic(err)
	}
	return handler
}

func (r *Registry) lookup(t reflect.Type) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if factory, ok := r.types[t]; ok {
		return factory, true
	}

	for _, entry := range r.interfaces {
		if t == entry.iface || t.Implements(entry.iface) {
			return entry.factory, true
		}
	}

	factory, ok := r.kinds[t.Kind()]
	return factory, ok
}

// Describe fingerprints value: a Describer implementation wins, then a
// registered describer for its type, then the structural fingerprint.
func (r *Registry) Describe(value any) uint64 {
	if d, ok := value.(Describer); ok {
		return d.Describe()
	}

	if value != nil {
		r.mu.RLock()
		fn, ok := r.describers[reflect.TypeOf(value)]
		r.mu.RUnlock()
		if ok {
			return fn(value)
		}
	}

	return Describe(value)
}
