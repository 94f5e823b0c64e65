package serial

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/gear6io/replicant/pkg/errors"
)

// Compression selects how list values are encoded
type Compression uint8

const (
	// CompressionAuto packs both ways and keeps the smaller, behind a one byte mode prefix
	CompressionAuto Compression = iota
	CompressionNone
	CompressionRLE
)

var compressionNames = map[Compression]string{
	CompressionAuto: "auto",
	CompressionNone: "none",
	CompressionRLE:  "rle",
}

func (c Compression) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("compression(%d)", c)
}

// DefaultMaxLength bounds strings and collections when no max_length is given
const DefaultMaxLength = 255

// TypeFlag describes a value's static type plus the codec parameters used
// to pick and configure its handler.
type TypeFlag struct {
	Type reflect.Type

	// MaxValue selects the integer width; zero means the Go type's own width
	MaxValue uint64
	// MaxLength bounds strings, byte slices and collections
	MaxLength int
	// MaxPrecision packs floats as float64
	MaxPrecision bool
	// Fields fixes a BitField's size; zero means variable sized
	Fields      int
	Compression Compression
	// Element overrides the flag of list and set members
	Element *TypeFlag
}

// Option configures a TypeFlag
type Option func(*TypeFlag)

func WithMaxValue(v uint64) Option {
	return func(f *TypeFlag) { f.MaxValue = v }
}

func WithMaxLength(n int) Option {
	return func(f *TypeFlag) { f.MaxLength = n }
}

func WithMaxPrecision() Option {
	return func(f *TypeFlag) { f.MaxPrecision = true }
}

func WithFields(n int) Option {
	return func(f *TypeFlag) { f.Fields = n }
}

func WithCompression(c Compression) Option {
	return func(f *TypeFlag) { f.Compression = c }
}

func WithElement(elem TypeFlag) Option {
	return func(f *TypeFlag) { f.Element = &elem }
}

// FlagOf builds a TypeFlag for t
func FlagOf(t reflect.Type, opts ...Option) TypeFlag {
	flag := TypeFlag{Type: t}
	for _, opt := range opts {
		opt(&flag)
	}
	return flag
}

// Flag builds a TypeFlag for the static type T
func Flag[T any](opts ...Option) TypeFlag {
	return FlagOf(reflect.TypeOf((*T)(nil)).Elem(), opts...)
}

func (f TypeFlag) maxLength() int {
	if f.MaxLength > 0 {
		return f.MaxLength
	}
	return DefaultMaxLength
}

// element returns the flag for members of type et
func (f TypeFlag) element(et reflect.Type) TypeFlag {
	if f.Element != nil {
		elem := *f.Element
		if elem.Type == nil {
			elem.Type = et
		}
		return elem
	}
	return FlagOf(et)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// key identifies a flag in handler caches
func (f TypeFlag) key() string {
	var b strings.Builder
	b.WriteString(typeName(f.Type))
	fmt.Fprintf(&b, "|v%d|l%d|p%t|f%d|c%d", f.MaxValue, f.MaxLength, f.MaxPrecision, f.Fields, f.Compression)
	if f.Element != nil {
		b.WriteString("|e(")
		b.WriteString(f.Element.key())
		b.WriteString(")")
	}
	return b.String()
}

func (f TypeFlag) String() string {
	return f.key()
}

// ParseOptions applies tag options understood by the serialiser to a flag
// for t and returns the options it did not recognise, in order.
//
// Recognised: max_value=N, max_length=N, precise, fields=N,
// compression=auto|none|rle, elem_max_value=N, elem_max_length=N, elem_precise.
func ParseOptions(t reflect.Type, options []string) (TypeFlag, []string, error) {
	flag := FlagOf(t)
	var elem *TypeFlag
	var rest []string

	elemFlag := func() *TypeFlag {
		if elem == nil {
			elem = &TypeFlag{}
		}
		return elem
	}

	for _, raw := range options {
		opt := strings.TrimSpace(raw)
		if opt == "" {
			continue
		}
		key, value, _ := strings.Cut(opt, "=")

		var err error
		switch key {
		case "max_value":
			flag.MaxValue, err = strconv.ParseUint(value, 10, 64)
		case "max_length":
			flag.MaxLength, err = strconv.Atoi(value)
		case "precise":
			flag.MaxPrecision = true
		case "fields":
			flag.Fields, err = strconv.Atoi(value)
		case "compression":
			switch value {
			case "auto":
				flag.Compression = CompressionAuto
			case "none":
				flag.Compression = CompressionNone
			case "rle":
				flag.Compression = CompressionRLE
			default:
				err = errors.Newf(ErrInvalidOption, "unknown compression %q", value)
			}
		case "elem_max_value":
			elemFlag().MaxValue, err = strconv.ParseUint(value, 10, 64)
		case "elem_max_length":
			elemFlag().MaxLength, err = strconv.Atoi(value)
		case "elem_precise":
			elemFlag().MaxPrecision = true
		default:
			rest = append(rest, opt)
		}

		if err != nil {
			return TypeFlag{}, nil, errors.New(ErrInvalidOption, "invalid serialiser option", err).
				AddContext("option", opt).
				AddContext("type", typeName(t))
		}
	}

	flag.Element = elem
	return flag, rest, nil
}
