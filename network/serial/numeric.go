package serial

import (
	"encoding/binary"
	"math"
	"math/bits"
	"reflect"

	"github.com/gear6io/replicant/pkg/errors"
)

// IntWidth returns the smallest of 1, 2, 4 or 8 bytes able to hold
// maxValue, with a sign bit when signed is set.
func IntWidth(maxValue uint64, signed bool) int {
	n := bits.Len64(maxValue)
	if signed {
		n++
	}

	switch bytes := (n + 7) / 8; {
	case bytes <= 1:
		return 1
	case bytes <= 2:
		return 2
	case bytes <= 4:
		return 4
	default:
		return 8
	}
}

// PutUint appends v as a big-endian integer of width bytes
func PutUint(buf []byte, width int, v uint64) []byte {
	switch width {
	case 1:
		return append(buf, byte(v))
	case 2:
		return binary.BigEndian.AppendUint16(buf, uint16(v))
	case 4:
		return binary.BigEndian.AppendUint32(buf, uint32(v))
	default:
		return binary.BigEndian.AppendUint64(buf, v)
	}
}

// ReadUint decodes a big-endian integer of width bytes at offset
func ReadUint(data []byte, offset, width int) (uint64, error) {
	if offset < 0 || offset+width > len(data) {
		return 0, insufficient("integer", width, len(data)-offset)
	}

	b := data[offset : offset+width]
	switch width {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(b)), nil
	default:
		return binary.BigEndian.Uint64(b), nil
	}
}

func isSigned(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func mismatch(flag reflect.Type, value any) *errors.Error {
	return errors.Newf(ErrInvalidValue, "cannot pack %T as %s", value, typeName(flag)).
		AddContext("type", typeName(flag))
}

type intHandler struct {
	typ    reflect.Type
	width  int
	signed bool
}

func newIntHandler(_ *Registry, flag TypeFlag) (Handler, error) {
	h := &intHandler{typ: flag.Type, signed: isSigned(flag.Type.Kind())}
	if flag.MaxValue > 0 {
		h.width = IntWidth(flag.MaxValue, h.signed)
	} else {
		h.width = int(flag.Type.Size())
	}
	return h, nil
}

func (h *intHandler) Pack(value any) ([]byte, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return nil, mismatch(h.typ, value)
	}

	var u uint64
	switch k := rv.Kind(); {
	case isSigned(k):
		x := rv.Int()
		if h.width < 8 {
			limit := int64(1) << (h.width*8 - 1)
			if !h.signed {
				limit <<= 1
			}
			if x >= limit || (h.signed && x < -limit) || (!h.signed && x < 0) {
				return nil, errors.Newf(ErrValueOutOfRange, "%d does not fit in %d bytes", x, h.width)
			}
		} else if !h.signed && x < 0 {
			return nil, errors.Newf(ErrValueOutOfRange, "%d is negative for unsigned %s", x, typeName(h.typ))
		}
		u = uint64(x)
	case isUnsigned(k):
		u = rv.Uint()
		limit := uint64(1) << (h.width * 8)
		if h.signed {
			limit >>= 1
		}
		if h.width < 8 && u >= limit || h.width == 8 && h.signed && u > math.MaxInt64 {
			return nil, errors.Newf(ErrValueOutOfRange, "%d does not fit in %d bytes", u, h.width)
		}
	default:
		return nil, mismatch(h.typ, value)
	}

	return PutUint(make([]byte, 0, h.width), h.width, u), nil
}

func (h *intHandler) UnpackFrom(data []byte, offset int) (any, int, error) {
	u, err := ReadUint(data, offset, h.width)
	if err != nil {
		return nil, 0, err
	}

	out := reflect.New(h.typ).Elem()
	if h.signed {
		shift := 64 - uint(h.width)*8
		out.SetInt(int64(u<<shift) >> shift)
	} else {
		out.SetUint(u)
	}
	return out.Interface(), h.width, nil
}

func (h *intHandler) Size([]byte) (int, error) {
	return h.width, nil
}

type floatHandler struct {
	typ   reflect.Type
	width int
}

func newFloatHandler(_ *Registry, flag TypeFlag) (Handler, error) {
	width := 4
	if flag.MaxPrecision {
		width = 8
	}
	return &floatHandler{typ: flag.Type, width: width}, nil
}

func (h *floatHandler) Pack(value any) ([]byte, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Float32 && rv.Kind() != reflect.Float64) {
		return nil, mismatch(h.typ, value)
	}

	if h.width == 4 {
		return binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(rv.Float()))), nil
	}
	return binary.BigEndian.AppendUint64(nil, math.Float64bits(rv.Float())), nil
}

func (h *floatHandler) UnpackFrom(data []byte, offset int) (any, int, error) {
	u, err := ReadUint(data, offset, h.width)
	if err != nil {
		return nil, 0, err
	}

	out := reflect.New(h.typ).Elem()
	if h.width == 4 {
		out.SetFloat(float64(math.Float32frombits(uint32(u))))
	} else {
		out.SetFloat(math.Float64frombits(u))
	}
	return out.Interface(), h.width, nil
}

func (h *floatHandler) Size([]byte) (int, error) {
	return h.width, nil
}

type boolHandler struct {
	typ reflect.Type
}

func newBoolHandler(_ *Registry, flag TypeFlag) (Handler, error) {
	return &boolHandler{typ: flag.Type}, nil
}

func (h *boolHandler) Pack(value any) ([]byte, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || rv.Kind() != reflect.Bool {
		return nil, mismatch(h.typ, value)
	}
	if rv.Bool() {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (h *boolHandler) UnpackFrom(data []byte, offset int) (any, int, error) {
	if offset < 0 || offset >= len(data) {
		return nil, 0, insufficient("bool", 1, len(data)-offset)
	}
	out := reflect.New(h.typ).Elem()
	out.SetBool(data[offset] != 0)
	return out.Interface(), 1, nil
}

func (h *boolHandler) Size([]byte) (int, error) {
	return 1, nil
}
