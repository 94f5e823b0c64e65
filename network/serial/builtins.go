package serial

import "reflect"

var (
	bitFieldType = reflect.TypeOf(BitField{})
	bytesType    = reflect.TypeOf([]byte(nil))
)

func newSliceHandler(r *Registry, flag TypeFlag) (Handler, error) {
	if flag.Type.Elem().Kind() == reflect.Uint8 {
		return newBytesHandler(r, flag)
	}
	return newListHandler(r, flag)
}

func registerBuiltins(r *Registry) {
	for _, kind := range []reflect.Kind{
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
	} {
		r.RegisterKind(kind, newIntHandler)
	}

	r.RegisterKind(reflect.Float32, newFloatHandler)
	r.RegisterKind(reflect.Float64, newFloatHandler)
	r.RegisterKind(reflect.Bool, newBoolHandler)
	r.RegisterKind(reflect.String, newStringHandler)
	r.RegisterKind(reflect.Slice, newSliceHandler)
	r.RegisterKind(reflect.Map, newSetHandler)
	r.RegisterKind(reflect.Struct, newStructHandler)
	r.RegisterKind(reflect.Pointer, newPointerHandler)

	r.RegisterType(bytesType, newBytesHandler)
	r.RegisterType(bitFieldType, newBitFieldHandler)
	r.RegisterDescriber(bitFieldType, func(value any) uint64 {
		field := value.(BitField)
		return Describe(struct {
			Size int
			Bits []byte
		}{field.size, field.bits})
	})
}
