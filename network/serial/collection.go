package serial

import (
	"bytes"
	"reflect"
	"sort"

	"github.com/gear6io/replicant/pkg/errors"
)

// Auto compression mode prefix
const (
	modePlain byte = 0
	modeRLE   byte = 1
)

// listHandler packs slices. Bool members are packed as a bitfield.
type listHandler struct {
	registry    *Registry
	typ         reflect.Type
	elem        Handler
	isBool      bool
	width       int
	maxLength   int
	compression Compression
}

func newListHandler(r *Registry, flag TypeFlag) (Handler, error) {
	elemFlag := flag.element(flag.Type.Elem())
	elem, err := r.Handler(elemFlag)
	if err != nil {
		return nil, errors.New(ErrHandlerNotFound, "unable to pack list without element handler", err).
			AddContext("type", typeName(flag.Type))
	}

	max := flag.maxLength()
	return &listHandler{
		registry:    r,
		typ:         flag.Type,
		elem:        elem,
		isBool:      flag.Type.Elem().Kind() == reflect.Bool,
		width:       IntWidth(uint64(max), false),
		maxLength:   max,
		compression: flag.Compression,
	}, nil
}

func (h *listHandler) items(value any) ([]reflect.Value, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil, mismatch(h.typ, value)
	}
	if rv.Len() > h.maxLength {
		return nil, errors.Newf(ErrValueOutOfRange, "list of %d items exceeds max_length %d", rv.Len(), h.maxLength)
	}

	items := make([]reflect.Value, rv.Len())
	for i := range items {
		items[i] = rv.Index(i)
	}
	return items, nil
}

func (h *listHandler) Pack(value any) ([]byte, error) {
	items, err := h.items(value)
	if err != nil {
		return nil, err
	}

	switch h.compression {
	case CompressionNone:
		return h.packPlain(items)
	case CompressionRLE:
		return h.packRLE(items)
	}

	plain, err := h.packPlain(items)
	if err != nil {
		return nil, err
	}
	rle, err := h.packRLE(items)
	if err != nil {
		return nil, err
	}

	// Equal sizes favour plain, which is cheaper to rebuild
	if len(rle) < len(plain) {
		return append([]byte{modeRLE}, rle...), nil
	}
	return append([]byte{modePlain}, plain...), nil
}

func (h *listHandler) packPlain(items []reflect.Value) ([]byte, error) {
	buf := PutUint(nil, h.width, uint64(len(items)))

	if h.isBool {
		field := NewBitField(len(items))
		for i, item := range items {
			field.Set(i, item.Bool())
		}
		return append(buf, field.bits...), nil
	}

	for _, item := range items {
		packed, err := h.elem.Pack(item.Interface())
		if err != nil {
			return nil, err
		}
		buf = append(buf, packed...)
	}
	return buf, nil
}

func (h *listHandler) packRLE(items []reflect.Value) ([]byte, error) {
	runs := RunLengthEncode(items, func(a, b reflect.Value) bool {
		return h.registry.Describe(a.Interface()) == h.registry.Describe(b.Interface())
	})

	buf := PutUint(nil, h.width, uint64(len(runs)))

	if h.isBool {
		// Run values first as one bitfield, then the counts
		field := NewBitField(len(runs))
		for i, run := range runs {
			field.Set(i, run.Value.Bool())
		}
		buf = append(buf, field.bits...)
		for _, run := range runs {
			buf = PutUint(buf, h.width, uint64(run.Count))
		}
		return buf, nil
	}

	for _, run := range runs {
		buf = PutUint(buf, h.width, uint64(run.Count))
		packed, err := h.elem.Pack(run.Value.Interface())
		if err != nil {
			return nil, err
		}
		buf = append(buf, packed...)
	}
	return buf, nil
}

func (h *listHandler) UnpackFrom(data []byte, offset int) (any, int, error) {
	switch h.compression {
	case CompressionNone:
		return h.unpackPlain(data, offset)
	case CompressionRLE:
		return h.unpackRLE(data, offset)
	}

	if offset < 0 || offset >= len(data) {
		return nil, 0, insufficient("compression mode", 1, len(data)-offset)
	}

	var (
		value any
		n     int
		err   error
	)
	switch data[offset] {
	case modePlain:
		value, n, err = h.unpackPlain(data, offset+1)
	case modeRLE:
		value, n, err = h.unpackRLE(data, offset+1)
	default:
		return nil, 0, errors.Newf(ErrInvalidCompression, "invalid compression mode %d, data is corrupt", data[offset])
	}
	if err != nil {
		return nil, 0, err
	}
	return value, n + 1, nil
}

func (h *listHandler) build(values []any) any {
	out := reflect.MakeSlice(h.typ, len(values), len(values))
	for i, v := range values {
		if v != nil {
			out.Index(i).Set(reflect.ValueOf(v))
		}
	}
	return out.Interface()
}

func (h *listHandler) unpackPlain(data []byte, offset int) (any, int, error) {
	count, err := ReadUint(data, offset, h.width)
	if err != nil {
		return nil, 0, err
	}
	pos := offset + h.width

	if h.isBool {
		field, n, err := ReadBitField(int(count), data, pos)
		if err != nil {
			return nil, 0, err
		}
		values := make([]any, count)
		for i := range values {
			values[i] = reflect.ValueOf(field.Get(i)).Convert(h.typ.Elem()).Interface()
		}
		return h.build(values), h.width + n, nil
	}

	values := make([]any, 0, count)
	for i := uint64(0); i < count; i++ {
		v, n, err := h.elem.UnpackFrom(data, pos)
		if err != nil {
			return nil, 0, err
		}
		values = append(values, v)
		pos += n
	}
	return h.build(values), pos - offset, nil
}

func (h *listHandler) unpackRLE(data []byte, offset int) (any, int, error) {
	count, err := ReadUint(data, offset, h.width)
	if err != nil {
		return nil, 0, err
	}
	pos := offset + h.width

	runs := make([]Run[any], 0, count)
	if h.isBool {
		field, n, err := ReadBitField(int(count), data, pos)
		if err != nil {
			return nil, 0, err
		}
		pos += n
		for i := 0; i < int(count); i++ {
			repeat, err := ReadUint(data, pos, h.width)
			if err != nil {
				return nil, 0, err
			}
			pos += h.width
			value := reflect.ValueOf(field.Get(i)).Convert(h.typ.Elem()).Interface()
			runs = append(runs, Run[any]{Count: int(repeat), Value: value})
		}
	} else {
		for i := uint64(0); i < count; i++ {
			repeat, err := ReadUint(data, pos, h.width)
			if err != nil {
				return nil, 0, err
			}
			pos += h.width
			v, n, err := h.elem.UnpackFrom(data, pos)
			if err != nil {
				return nil, 0, err
			}
			pos += n
			runs = append(runs, Run[any]{Count: int(repeat), Value: v})
		}
	}

	values := RunLengthDecode(runs)
	if len(values) > h.maxLength {
		return nil, 0, errors.Newf(ErrValueOutOfRange, "decoded list of %d items exceeds max_length %d", len(values), h.maxLength)
	}
	return h.build(values), pos - offset, nil
}

func (h *listHandler) Size(data []byte) (int, error) {
	_, n, err := h.UnpackFrom(data, 0)
	return n, err
}

// setHandler packs map[T]struct{} and map[T]bool sets. Members never
// repeat, so sets are never run-length encoded.
type setHandler struct {
	typ       reflect.Type
	elem      Handler
	width     int
	maxLength int
}

func newSetHandler(r *Registry, flag TypeFlag) (Handler, error) {
	valueKind := flag.Type.Elem().Kind()
	isSet := valueKind == reflect.Bool || (valueKind == reflect.Struct && flag.Type.Elem().NumField() == 0)
	if !isSet {
		return nil, errors.Newf(ErrHandlerNotFound, "maps are only supported as sets, not %s", typeName(flag.Type))
	}

	elem, err := r.Handler(flag.element(flag.Type.Key()))
	if err != nil {
		return nil, errors.New(ErrHandlerNotFound, "unable to pack set without element handler", err).
			AddContext("type", typeName(flag.Type))
	}

	max := flag.maxLength()
	return &setHandler{typ: flag.Type, elem: elem, width: IntWidth(uint64(max), false), maxLength: max}, nil
}

func (h *setHandler) member() reflect.Value {
	if h.typ.Elem().Kind() == reflect.Bool {
		return reflect.ValueOf(true).Convert(h.typ.Elem())
	}
	return reflect.New(h.typ.Elem()).Elem()
}

func (h *setHandler) Pack(value any) ([]byte, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || rv.Kind() != reflect.Map {
		return nil, mismatch(h.typ, value)
	}

	var packed [][]byte
	iter := rv.MapRange()
	for iter.Next() {
		if iter.Value().Kind() == reflect.Bool && !iter.Value().Bool() {
			continue
		}
		p, err := h.elem.Pack(iter.Key().Interface())
		if err != nil {
			return nil, err
		}
		packed = append(packed, p)
	}

	if len(packed) > h.maxLength {
		return nil, errors.Newf(ErrValueOutOfRange, "set of %d members exceeds max_length %d", len(packed), h.maxLength)
	}

	// Stable byte order keeps equal sets byte-identical
	sort.Slice(packed, func(i, j int) bool { return bytes.Compare(packed[i], packed[j]) < 0 })

	buf := PutUint(nil, h.width, uint64(len(packed)))
	for _, p := range packed {
		buf = append(buf, p...)
	}
	return buf, nil
}

func (h *setHandler) decode(data []byte, offset int, into reflect.Value) (int, error) {
	count, err := ReadUint(data, offset, h.width)
	if err != nil {
		return 0, err
	}
	pos := offset + h.width

	member := h.member()
	for i := uint64(0); i < count; i++ {
		v, n, err := h.elem.UnpackFrom(data, pos)
		if err != nil {
			return 0, err
		}
		pos += n
		key := reflect.New(h.typ.Key()).Elem()
		if v != nil {
			key.Set(reflect.ValueOf(v))
		}
		into.SetMapIndex(key, member)
	}
	return pos - offset, nil
}

func (h *setHandler) UnpackFrom(data []byte, offset int) (any, int, error) {
	out := reflect.MakeMap(h.typ)
	n, err := h.decode(data, offset, out)
	if err != nil {
		return nil, 0, err
	}
	return out.Interface(), n, nil
}

// UnpackMerge replaces the members of an existing set in place
func (h *setHandler) UnpackMerge(target any, data []byte, offset int) (int, error) {
	rv := reflect.ValueOf(target)
	if !rv.IsValid() || rv.Type() != h.typ || rv.IsNil() {
		return 0, mismatch(h.typ, target)
	}

	fresh := reflect.MakeMap(h.typ)
	n, err := h.decode(data, offset, fresh)
	if err != nil {
		return 0, err
	}

	for _, key := range rv.MapKeys() {
		rv.SetMapIndex(key, reflect.Value{})
	}
	iter := fresh.MapRange()
	for iter.Next() {
		rv.SetMapIndex(iter.Key(), iter.Value())
	}
	return n, nil
}

func (h *setHandler) Size(data []byte) (int, error) {
	_, n, err := h.UnpackFrom(data, 0)
	return n, err
}
