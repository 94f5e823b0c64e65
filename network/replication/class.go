package replication

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gear6io/replicant/network/serial"
	"github.com/gear6io/replicant/pkg/errors"
)

// Factory builds a fresh instance of a replicable class
type Factory func() Replicable

// Class is the reflected layout of one replicable type
type Class struct {
	Name string

	typ        reflect.Type
	factory    Factory
	attributes []*attributeSpec
	byName     map[string]*attributeSpec
	rpcs       []*rpcSpec
	defaults   map[string]uint64
}

// Attributes returns the attribute names in wire order
func (c *Class) Attributes() []string {
	names := make([]string, len(c.attributes))
	for i, spec := range c.attributes {
		names[i] = spec.Name
	}
	return names
}

// RPCs returns the RPC names ordered by id
func (c *Class) RPCs() []string {
	names := make([]string, len(c.rpcs))
	for i, spec := range c.rpcs {
		names[i] = spec.Name
	}
	return names
}

func (c *Class) attribute(name string) (*attributeSpec, bool) {
	spec, ok := c.byName[name]
	return spec, ok
}

func (c *Class) rpc(id uint8) (*rpcSpec, bool) {
	for _, spec := range c.rpcs {
		if spec.ID == id {
			return spec, true
		}
	}
	return nil, false
}

// New builds an unregistered instance
func (c *Class) New() Replicable {
	return c.factory()
}

func (c *Class) fields() []serial.Field {
	fields := make([]serial.Field, len(c.attributes))
	for i, spec := range c.attributes {
		fields[i] = serial.Field{Name: spec.Name, Flag: spec.Flag}
	}
	return fields
}

// TypeRegistry maps wire type names to replicable classes. Both peers must
// register the same classes under the same names.
type TypeRegistry struct {
	mu      sync.RWMutex
	classes map[string]*Class
	byType  map[reflect.Type]*Class
}

// NewTypeRegistry returns a registry holding the WorldInfo class
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{
		classes: make(map[string]*Class),
		byType:  make(map[reflect.Type]*Class),
	}
	if _, err := r.Register(WorldInfoClass, func() Replicable { return NewWorldInfo() }); err != nil {
		panic(err)
	}
	return r
}

// Register reflects the type built by factory and records it under name
func (r *TypeRegistry) Register(name string, factory Factory) (*Class, error) {
	if name == "" {
		return nil, errors.New(ErrInvalidClass, "class name must not be empty", nil)
	}

	prototype := factory()
	if prototype == nil {
		return nil, errors.Newf(ErrInvalidClass, "factory for %s returned nil", name)
	}
	typ := reflect.TypeOf(prototype)
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, errors.Newf(ErrInvalidClass, "%s must be a pointer to a struct, got %s", name, typ)
	}

	class := &Class{
		Name:     name,
		typ:      typ,
		factory:  factory,
		byName:   make(map[string]*attributeSpec),
		defaults: make(map[string]uint64),
	}

	if err := class.walk(typ.Elem(), nil); err != nil {
		return nil, errors.Wrapf(ErrInvalidClass, err, "registering %s", name)
	}
	if err := class.assignRPCIDs(); err != nil {
		return nil, errors.Wrapf(ErrInvalidClass, err, "registering %s", name)
	}

	sort.Slice(class.attributes, func(i, j int) bool { return class.attributes[i].Name < class.attributes[j].Name })
	class.recordDefaults(prototype)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.classes[name]; ok && existing.typ != typ {
		return nil, errors.Newf(ErrDuplicateClass, "class name %s already names %s", name, existing.typ)
	}
	r.classes[name] = class
	r.byType[typ] = class
	return class, nil
}

// MustRegister is Register for package init
func (r *TypeRegistry) MustRegister(name string, factory Factory) *Class {
	class, err := r.Register(name, factory)
	if err != nil {
		panic(err)
	}
	return class
}

// Lookup finds a class by wire name
func (r *TypeRegistry) Lookup(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	class, ok := r.classes[name]
	return class, ok
}

// ClassOf finds the class of a replicable instance
func (r *TypeRegistry) ClassOf(rep Replicable) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	class, ok := r.byType[reflect.TypeOf(rep)]
	return class, ok
}

// Names lists registered class names in order
func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// walk visits t's fields, descending into embedded structs
func (c *Class) walk(t reflect.Type, prefix []int) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		index := append(append([]int(nil), prefix...), i)
		ptr := reflect.PointerTo(field.Type)

		switch {
		case ptr.Implements(attributeSlotType):
			if err := c.addAttribute(field, index); err != nil {
				return err
			}
		case ptr.Implements(rpcSlotType):
			if err := c.addRPC(field, index); err != nil {
				return err
			}
		case field.Anonymous && field.Type.Kind() == reflect.Struct:
			if err := c.walk(field.Type, index); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Class) addAttribute(field reflect.StructField, index []int) error {
	name, options, ok := serial.ParseTag(field.Tag)
	if !ok {
		return nil
	}
	if !field.IsExported() {
		return errors.Newf(ErrInvalidClass, "attribute field %s must be exported", field.Name)
	}
	if name == "" {
		name = field.Name
	}
	if _, exists := c.byName[name]; exists {
		return errors.Newf(ErrInvalidClass, "attribute %s is declared twice", name)
	}

	valueType := reflect.New(field.Type).Interface().(attributeSlot).valueType()
	flag, rest, err := serial.ParseOptions(valueType, options)
	if err != nil {
		return err
	}

	spec := &attributeSpec{Name: name, Index: index, Flag: flag}
	for _, opt := range rest {
		switch opt {
		case "notify":
			spec.Notify = true
		case "complain":
			spec.Complain = true
		default:
			return errors.Newf(ErrInvalidClass, "unknown attribute option %q on %s", opt, name)
		}
	}

	c.attributes = append(c.attributes, spec)
	c.byName[name] = spec
	return nil
}

func (c *Class) addRPC(field reflect.StructField, index []int) error {
	name, options, ok := serial.ParseTag(field.Tag)
	if !ok {
		return nil
	}
	if name == "" {
		name = field.Name
	}
	for _, existing := range c.rpcs {
		if existing.Name == name {
			return errors.Newf(ErrInvalidClass, "rpc %s is declared twice", name)
		}
	}

	spec := &rpcSpec{
		Name:    name,
		Index:   index,
		Target:  NetmodeServer,
		ArgType: reflect.New(field.Type).Interface().(rpcSlot).argType(),
		ID:      noRPCID,
	}

	for _, raw := range options {
		key, value, _ := strings.Cut(strings.TrimSpace(raw), "=")
		switch key {
		case "target":
			mode, err := ParseNetmode(value)
			if err != nil {
				return err
			}
			spec.Target = mode
		case "reliable":
			spec.Reliable = true
		case "id":
			id, err := strconv.ParseUint(value, 10, 8)
			if err != nil || id == noRPCID {
				return errors.Newf(ErrInvalidClass, "rpc %s has invalid id %q", name, value)
			}
			spec.ID = uint8(id)
		case "":
		default:
			return errors.Newf(ErrInvalidClass, "unknown rpc option %q on %s", raw, name)
		}
	}

	c.rpcs = append(c.rpcs, spec)
	return nil
}

const noRPCID = 255

// assignRPCIDs numbers RPCs by name unless every RPC declares its own id
func (c *Class) assignRPCIDs() error {
	explicit := 0
	for _, spec := range c.rpcs {
		if spec.ID != noRPCID {
			explicit++
		}
	}

	switch {
	case explicit == 0:
		if len(c.rpcs) > noRPCID {
			return errors.Newf(ErrInvalidClass, "too many rpcs: %d", len(c.rpcs))
		}
		sort.Slice(c.rpcs, func(i, j int) bool { return c.rpcs[i].Name < c.rpcs[j].Name })
		for i, spec := range c.rpcs {
			spec.ID = uint8(i)
		}
	case explicit == len(c.rpcs):
		sort.Slice(c.rpcs, func(i, j int) bool { return c.rpcs[i].ID < c.rpcs[j].ID })
		for i := 1; i < len(c.rpcs); i++ {
			if c.rpcs[i].ID == c.rpcs[i-1].ID {
				return errors.Newf(ErrInvalidClass, "rpcs %s and %s share id %d", c.rpcs[i-1].Name, c.rpcs[i].Name, c.rpcs[i].ID)
			}
		}
	default:
		return errors.New(ErrInvalidClass, "either every rpc declares an id or none does", nil)
	}
	return nil
}

func (c *Class) recordDefaults(prototype Replicable) {
	value := reflect.ValueOf(prototype).Elem()
	for _, spec := range c.attributes {
		// Roles are swapped on the wire, so they are always sent first time
		if spec.Name == rolesAttribute {
			continue
		}
		slot := value.FieldByIndex(spec.Index).Addr().Interface().(attributeSlot)
		c.defaults[spec.Name] = serial.Describe(slot.load())
	}
}
