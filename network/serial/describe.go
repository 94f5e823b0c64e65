package serial

import (
	"encoding/binary"
	"math"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// Describer lets a type supply its own content fingerprint
type Describer interface {
	Describe() uint64
}

var describerType = reflect.TypeOf((*Describer)(nil)).Elem()

// Describe returns a structural fingerprint of value. Equal contents give
// equal fingerprints; map and set order does not matter.
func Describe(value any) uint64 {
	d := xxhash.New()
	writeValue(d, reflect.ValueOf(value))
	return d.Sum64()
}

func writeUint(d *xxhash.Digest, tag byte, v uint64) {
	var buf [9]byte
	buf[0] = tag
	binary.BigEndian.PutUint64(buf[1:], v)
	d.Write(buf[:])
}

func writeValue(d *xxhash.Digest, v reflect.Value) {
	if !v.IsValid() {
		d.Write([]byte{0})
		return
	}

	if v.CanInterface() && v.Type().Implements(describerType) {
		if v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface || !v.IsNil() {
			writeUint(d, 1, v.Interface().(Describer).Describe())
			return
		}
	}

	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			writeUint(d, 2, 1)
		} else {
			writeUint(d, 2, 0)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeUint(d, 3, uint64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		writeUint(d, 4, v.Uint())
	case reflect.Float32, reflect.Float64:
		writeUint(d, 5, math.Float64bits(v.Float()))
	case reflect.String:
		writeUint(d, 6, uint64(v.Len()))
		d.WriteString(v.String())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			writeUint(d, 7, 0)
			return
		}
		writeUint(d, 7, uint64(v.Len()))
		for i := 0; i < v.Len(); i++ {
			writeValue(d, v.Index(i))
		}
	case reflect.Map:
		// Order independent: sum of per-entry fingerprints
		var sum uint64
		iter := v.MapRange()
		for iter.Next() {
			entry := xxhash.New()
			writeValue(entry, iter.Key())
			writeValue(entry, iter.Value())
			sum += entry.Sum64()
		}
		writeUint(d, 8, uint64(v.Len()))
		writeUint(d, 8, sum)
	case reflect.Struct:
		writeUint(d, 9, uint64(v.NumField()))
		for i := 0; i < v.NumField(); i++ {
			writeValue(d, v.Field(i))
		}
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			writeUint(d, 10, 0)
			return
		}
		writeValue(d, v.Elem())
	default:
		// Funcs and channels only compare by identity
		writeUint(d, 11, uint64(v.Kind()))
	}
}
