package replication

import (
	"reflect"

	"github.com/gear6io/replicant/network/serial"
	"github.com/gear6io/replicant/pkg/errors"
)

// attributeSpec is the class-level declaration of one attribute field
type attributeSpec struct {
	Name     string
	Index    []int
	Flag     serial.TypeFlag
	Notify   bool
	Complain bool
}

// Attribute is a replicated field. Declare it on a type embedding Object
// and tag it, for example:
//
//	Health replication.Attribute[uint8] `net:"health,notify,max_value=100"`
//
// Writes that do not change the value's description are ignored.
type Attribute[T any] struct {
	value    T
	assigned bool
	desc     uint64

	spec  *attributeSpec
	owner *Object
}

// Get returns the current value
func (a *Attribute[T]) Get() T {
	return a.value
}

// Set stores v unless it describes the same as the current value. Complaining
// attributes record the new description on their owner.
func (a *Attribute[T]) Set(v T) {
	desc := a.describe(v)
	if a.assigned && desc == a.desc {
		return
	}

	if a.spec != nil && a.spec.Complain && a.owner != nil {
		a.owner.complain(a.spec.Name, desc)
	}
	a.value = v
	a.desc = desc
	a.assigned = true
}

func (a *Attribute[T]) describe(v any) uint64 {
	if a.owner != nil && a.owner.world != nil {
		return a.owner.world.describe(v)
	}
	return serial.Describe(v)
}

// attributeSlot is how an Object reaches its attribute fields without
// knowing their value types.
type attributeSlot interface {
	valueType() reflect.Type
	bind(owner *Object, spec *attributeSpec)
	load() any
	store(v any) error
	isAssigned() bool
	set(v any) error
}

var attributeSlotType = reflect.TypeOf((*attributeSlot)(nil)).Elem()

func (a *Attribute[T]) valueType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (a *Attribute[T]) bind(owner *Object, spec *attributeSpec) {
	a.owner = owner
	a.spec = spec
	if a.assigned {
		a.desc = a.describe(a.value)
	}
}

func (a *Attribute[T]) load() any {
	return a.value
}

func (a *Attribute[T]) isAssigned() bool {
	return a.assigned
}

func (a *Attribute[T]) convert(v any) (T, error) {
	var zero T
	if v == nil {
		if isNillable(a.valueType()) {
			return zero, nil
		}
		return zero, a.mismatch(v)
	}

	typed, ok := v.(T)
	if !ok {
		return zero, a.mismatch(v)
	}
	return typed, nil
}

func (a *Attribute[T]) mismatch(v any) error {
	name := "<unbound>"
	if a.spec != nil {
		name = a.spec.Name
	}
	return errors.Newf(ErrAttributeTypeMismatch, "attribute %s expects %s, got %T", name, a.valueType(), v).
		AddContext("attribute", name)
}

// store writes an inbound value without change suppression or complaints
func (a *Attribute[T]) store(v any) error {
	typed, err := a.convert(v)
	if err != nil {
		return err
	}
	a.value = typed
	a.desc = a.describe(typed)
	a.assigned = true
	return nil
}

// set is Set for dynamically typed callers
func (a *Attribute[T]) set(v any) error {
	typed, err := a.convert(v)
	if err != nil {
		return err
	}
	a.Set(typed)
	return nil
}

func isNillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
		return true
	}
	return false
}
