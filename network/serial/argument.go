package serial

import (
	"reflect"

	"github.com/gear6io/replicant/pkg/errors"
)

// Field names one serialisable argument
type Field struct {
	Name string
	Flag TypeFlag
}

// Value is one decoded argument
type Value struct {
	Name  string
	Value any
}

// ArgumentSerialiser packs an ordered set of named values where any subset
// may be present. Non-bool values follow an inclusion bitfield; bools are
// packed together at the end as a presence bitfield and a value bitfield,
// so unpacking yields exactly the bools that were supplied.
type ArgumentSerialiser struct {
	fields   []Field
	handlers []Handler
	bools    []Field
}

// NewArgumentSerialiser resolves handlers for fields, keeping their order
func NewArgumentSerialiser(r *Registry, fields []Field) (*ArgumentSerialiser, error) {
	s := &ArgumentSerialiser{}
	seen := make(map[string]struct{}, len(fields))

	for _, field := range fields {
		if _, ok := seen[field.Name]; ok {
			return nil, errors.Newf(ErrInvalidOption, "duplicate argument %q", field.Name)
		}
		seen[field.Name] = struct{}{}

		if field.Flag.Type != nil && field.Flag.Type.Kind() == reflect.Bool {
			s.bools = append(s.bools, field)
			continue
		}

		handler, err := r.Handler(field.Flag)
		if err != nil {
			return nil, errors.Wrapf(ErrHandlerNotFound, err, "argument %q", field.Name)
		}
		s.fields = append(s.fields, field)
		s.handlers = append(s.handlers, handler)
	}

	return s, nil
}

// Fields returns the non-bool fields followed by the bool fields
func (s *ArgumentSerialiser) Fields() []Field {
	out := make([]Field, 0, len(s.fields)+len(s.bools))
	out = append(out, s.fields...)
	return append(out, s.bools...)
}

func (s *ArgumentSerialiser) contentsSize() int {
	n := len(s.fields)
	if len(s.bools) > 0 {
		n++
	}
	return n
}

// Pack serialises the supplied values. Names not declared are ignored.
func (s *ArgumentSerialiser) Pack(values map[string]any) ([]byte, error) {
	contents := NewBitField(s.contentsSize())
	var body []byte

	for i, field := range s.fields {
		value, ok := values[field.Name]
		if !ok {
			continue
		}

		packed, err := s.handlers[i].Pack(value)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidValue, err, "argument %q", field.Name)
		}
		contents.Set(i, true)
		body = append(body, packed...)
	}

	if len(s.bools) > 0 {
		present := NewBitField(len(s.bools))
		bools := NewBitField(len(s.bools))
		supplied := false
		for i, field := range s.bools {
			value, ok := values[field.Name]
			if !ok {
				continue
			}
			rv := reflect.ValueOf(value)
			if !rv.IsValid() || rv.Kind() != reflect.Bool {
				return nil, mismatch(field.Flag.Type, value)
			}
			supplied = true
			present.Set(i, true)
			bools.Set(i, rv.Bool())
		}

		if supplied {
			contents.Set(len(s.fields), true)
			body = append(body, present.bits...)
			body = append(body, bools.bits...)
		}
	}

	return append(contents.bits, body...), nil
}

// Unpack decodes the values present at offset, in declared order. Handlers
// implementing Merger decode into previous[name] when it is set, and the
// merged value is returned in its place.
func (s *ArgumentSerialiser) Unpack(data []byte, offset int, previous map[string]any) ([]Value, int, error) {
	contents, n, err := ReadBitField(s.contentsSize(), data, offset)
	if err != nil {
		return nil, 0, err
	}
	pos := offset + n

	var values []Value
	for i, field := range s.fields {
		if !contents.Get(i) {
			continue
		}

		handler := s.handlers[i]
		if merger, ok := handler.(Merger); ok {
			if target, exists := previous[field.Name]; exists && target != nil && !isNilPointer(target) {
				n, err := merger.UnpackMerge(target, data, pos)
				if err != nil {
					return nil, 0, errors.Wrapf(ErrInvalidValue, err, "argument %q", field.Name)
				}
				pos += n
				values = append(values, Value{Name: field.Name, Value: target})
				continue
			}
		}

		value, n, err := handler.UnpackFrom(data, pos)
		if err != nil {
			return nil, 0, errors.Wrapf(ErrInvalidValue, err, "argument %q", field.Name)
		}
		pos += n
		values = append(values, Value{Name: field.Name, Value: value})
	}

	if len(s.bools) > 0 && contents.Get(len(s.fields)) {
		present, n, err := ReadBitField(len(s.bools), data, pos)
		if err != nil {
			return nil, 0, err
		}
		pos += n
		bools, n, err := ReadBitField(len(s.bools), data, pos)
		if err != nil {
			return nil, 0, err
		}
		pos += n
		for i, field := range s.bools {
			if !present.Get(i) {
				continue
			}
			value := reflect.New(field.Flag.Type).Elem()
			value.SetBool(bools.Get(i))
			values = append(values, Value{Name: field.Name, Value: value.Interface()})
		}
	}

	return values, pos - offset, nil
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
