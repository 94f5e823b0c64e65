package serial

import (
	"reflect"
	"strings"

	"github.com/gear6io/replicant/pkg/errors"
)

// TagName is the struct tag read by the serialiser
const TagName = "net"

// StructField is one net-tagged field of a struct
type StructField struct {
	Field
	Index   []int
	Options []string
}

// ParseTag splits a net tag into its name and options. A "-" name or an
// absent tag means the field is skipped.
func ParseTag(tag reflect.StructTag) (name string, options []string, ok bool) {
	raw, ok := tag.Lookup(TagName)
	if !ok {
		return "", nil, false
	}

	parts := strings.Split(raw, ",")
	name = strings.TrimSpace(parts[0])
	if name == "-" {
		return "", nil, false
	}
	return name, parts[1:], true
}

// StructFields lists the exported net-tagged fields of t in declaration
// order. Options the serialiser does not understand are kept for callers.
func StructFields(t reflect.Type) ([]StructField, error) {
	if t.Kind() != reflect.Struct {
		return nil, errors.Newf(ErrInvalidValue, "%s is not a struct", typeName(t))
	}

	var fields []StructField
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, options, ok := ParseTag(sf.Tag)
		if !ok {
			continue
		}
		if name == "" {
			name = sf.Name
		}

		flag, rest, err := ParseOptions(sf.Type, options)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidOption, err, "field %s.%s", typeName(t), sf.Name)
		}
		fields = append(fields, StructField{
			Field:   Field{Name: name, Flag: flag},
			Index:   sf.Index,
			Options: rest,
		})
	}
	return fields, nil
}

// structHandler packs only the fields that differ from their zero value
type structHandler struct {
	typ    reflect.Type
	fields []StructField
	args   *ArgumentSerialiser
}

func newStructHandler(r *Registry, flag TypeFlag) (Handler, error) {
	fields, err := StructFields(flag.Type)
	if err != nil {
		return nil, err
	}

	plain := make([]Field, len(fields))
	for i, f := range fields {
		plain[i] = f.Field
	}
	args, err := NewArgumentSerialiser(r, plain)
	if err != nil {
		return nil, errors.Wrapf(ErrHandlerNotFound, err, "struct %s", typeName(flag.Type))
	}
	return &structHandler{typ: flag.Type, fields: fields, args: args}, nil
}

func (h *structHandler) packValue(rv reflect.Value) ([]byte, error) {
	values := make(map[string]any, len(h.fields))
	for _, f := range h.fields {
		field := rv.FieldByIndex(f.Index)
		if field.IsZero() {
			continue
		}
		values[f.Name] = field.Interface()
	}
	return h.args.Pack(values)
}

func (h *structHandler) Pack(value any) ([]byte, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Type() != h.typ {
		return nil, mismatch(h.typ, value)
	}
	return h.packValue(rv)
}

// decodeInto zeroes target and writes the received fields
func (h *structHandler) decodeInto(target reflect.Value, data []byte, offset int) (int, error) {
	previous := make(map[string]any)
	for _, f := range h.fields {
		field := target.FieldByIndex(f.Index)
		if field.Kind() == reflect.Pointer || field.Kind() == reflect.Map {
			if !field.IsNil() {
				previous[f.Name] = field.Interface()
			}
		}
	}

	values, n, err := h.args.Unpack(data, offset, previous)
	if err != nil {
		return 0, err
	}

	byName := make(map[string]StructField, len(h.fields))
	for _, f := range h.fields {
		byName[f.Name] = f
	}

	target.Set(reflect.Zero(h.typ))
	for _, v := range values {
		if v.Value == nil {
			continue
		}
		target.FieldByIndex(byName[v.Name].Index).Set(reflect.ValueOf(v.Value))
	}
	return n, nil
}

func (h *structHandler) UnpackFrom(data []byte, offset int) (any, int, error) {
	out := reflect.New(h.typ).Elem()
	n, err := h.decodeInto(out, data, offset)
	if err != nil {
		return nil, 0, err
	}
	return out.Interface(), n, nil
}

func (h *structHandler) Size(data []byte) (int, error) {
	_, n, err := h.UnpackFrom(data, 0)
	return n, err
}

// pointerHandler packs *T for struct T and merges into existing pointers
type pointerHandler struct {
	typ   reflect.Type
	inner *structHandler
}

func newPointerHandler(r *Registry, flag TypeFlag) (Handler, error) {
	elem := flag.Type.Elem()
	if elem.Kind() != reflect.Struct {
		return nil, errors.Newf(ErrHandlerNotFound, "no handler registered for type %s", typeName(flag.Type)).
			AddContext("type", typeName(flag.Type))
	}

	inner, err := newStructHandler(r, FlagOf(elem))
	if err != nil {
		return nil, err
	}
	return &pointerHandler{typ: flag.Type, inner: inner.(*structHandler)}, nil
}

func (h *pointerHandler) Pack(value any) ([]byte, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || rv.Type() != h.typ {
		return nil, mismatch(h.typ, value)
	}
	if rv.IsNil() {
		return h.inner.packValue(reflect.Zero(h.inner.typ))
	}
	return h.inner.packValue(rv.Elem())
}

func (h *pointerHandler) UnpackFrom(data []byte, offset int) (any, int, error) {
	out := reflect.New(h.inner.typ)
	n, err := h.inner.decodeInto(out.Elem(), data, offset)
	if err != nil {
		return nil, 0, err
	}
	return out.Interface(), n, nil
}

// UnpackMerge decodes into the struct target points at
func (h *pointerHandler) UnpackMerge(target any, data []byte, offset int) (int, error) {
	rv := reflect.ValueOf(target)
	if !rv.IsValid() || rv.Type() != h.typ || rv.IsNil() {
		return 0, mismatch(h.typ, target)
	}
	return h.inner.decodeInto(rv.Elem(), data, offset)
}

func (h *pointerHandler) Size(data []byte) (int, error) {
	return h.inner.Size(data)
}
