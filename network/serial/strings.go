package serial

import (
	"reflect"

	"github.com/gear6io/replicant/pkg/errors"
)

// lengthPrefixed packs strings and byte slices as [len][bytes]
type lengthPrefixed struct {
	typ       reflect.Type
	width     int
	maxLength int
	isString  bool
}

func newStringHandler(_ *Registry, flag TypeFlag) (Handler, error) {
	max := flag.maxLength()
	return &lengthPrefixed{typ: flag.Type, width: IntWidth(uint64(max), false), maxLength: max, isString: true}, nil
}

func newBytesHandler(_ *Registry, flag TypeFlag) (Handler, error) {
	max := flag.maxLength()
	return &lengthPrefixed{typ: flag.Type, width: IntWidth(uint64(max), false), maxLength: max}, nil
}

func (h *lengthPrefixed) Pack(value any) ([]byte, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return nil, mismatch(h.typ, value)
	}

	var raw []byte
	switch {
	case h.isString && rv.Kind() == reflect.String:
		raw = []byte(rv.String())
	case !h.isString && rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8:
		raw = rv.Bytes()
	default:
		return nil, mismatch(h.typ, value)
	}

	if len(raw) > h.maxLength {
		return nil, errors.Newf(ErrValueOutOfRange, "length %d exceeds max_length %d", len(raw), h.maxLength).
			AddContext("type", typeName(h.typ))
	}

	buf := PutUint(make([]byte, 0, h.width+len(raw)), h.width, uint64(len(raw)))
	return append(buf, raw...), nil
}

func (h *lengthPrefixed) UnpackFrom(data []byte, offset int) (any, int, error) {
	n, err := ReadUint(data, offset, h.width)
	if err != nil {
		return nil, 0, err
	}

	start := offset + h.width
	end := start + int(n)
	if end > len(data) {
		return nil, 0, insufficient(typeName(h.typ), int(n), len(data)-start)
	}

	out := reflect.New(h.typ).Elem()
	if h.isString {
		out.SetString(string(data[start:end]))
	} else {
		raw := make([]byte, n)
		copy(raw, data[start:end])
		out.SetBytes(raw)
	}
	return out.Interface(), h.width + int(n), nil
}

func (h *lengthPrefixed) Size(data []byte) (int, error) {
	n, err := ReadUint(data, 0, h.width)
	if err != nil {
		return 0, err
	}
	return h.width + int(n), nil
}

// bitFieldHandler packs fixed fields as raw bits and variable ones as [count:1][bits]
type bitFieldHandler struct {
	fields int
}

func newBitFieldHandler(_ *Registry, flag TypeFlag) (Handler, error) {
	return &bitFieldHandler{fields: flag.Fields}, nil
}

func (h *bitFieldHandler) Pack(value any) ([]byte, error) {
	var field BitField
	switch v := value.(type) {
	case BitField:
		field = v
	case *BitField:
		if v == nil {
			return nil, mismatch(bitFieldType, value)
		}
		field = *v
	default:
		return nil, mismatch(bitFieldType, value)
	}

	if h.fields > 0 {
		if field.Len() != h.fields {
			return nil, errors.Newf(ErrValueOutOfRange, "bitfield has %d fields, expected %d", field.Len(), h.fields)
		}
		return field.Bytes(), nil
	}

	if field.Len() > 255 {
		return nil, errors.Newf(ErrValueOutOfRange, "variable bitfield of %d fields exceeds 255", field.Len())
	}
	return append([]byte{byte(field.Len())}, field.bits...), nil
}

func (h *bitFieldHandler) UnpackFrom(data []byte, offset int) (any, int, error) {
	if h.fields > 0 {
		field, n, err := ReadBitField(h.fields, data, offset)
		if err != nil {
			return nil, 0, err
		}
		return field, n, nil
	}

	if offset < 0 || offset >= len(data) {
		return nil, 0, insufficient("bitfield length", 1, len(data)-offset)
	}
	field, n, err := ReadBitField(int(data[offset]), data, offset+1)
	if err != nil {
		return nil, 0, err
	}
	return field, n + 1, nil
}

func (h *bitFieldHandler) Size(data []byte) (int, error) {
	if h.fields > 0 {
		return Footprint(h.fields), nil
	}
	if len(data) == 0 {
		return 0, insufficient("bitfield length", 1, 0)
	}
	return 1 + Footprint(int(data[0])), nil
}
