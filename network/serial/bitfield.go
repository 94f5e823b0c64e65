package serial

// BitField is a fixed-length set of flags packed eight to a byte, bit i
// living in byte i/8 under mask 1<<(i%8).
type BitField struct {
	size int
	bits []byte
}

// Footprint returns the number of bytes needed to hold n bits
func Footprint(n int) int {
	return (n + 7) / 8
}

// NewBitField returns an all-false field of the given size
func NewBitField(size int) BitField {
	return BitField{size: size, bits: make([]byte, Footprint(size))}
}

// BitFieldFromBools builds a field with one bit per value
func BitFieldFromBools(values []bool) BitField {
	field := NewBitField(len(values))
	for i, v := range values {
		field.Set(i, v)
	}
	return field
}

// ReadBitField decodes a field of size bits starting at offset and returns
// it together with the number of bytes consumed.
func ReadBitField(size int, data []byte, offset int) (BitField, int, error) {
	n := Footprint(size)
	if offset < 0 || offset+n > len(data) {
		return BitField{}, 0, insufficient("bitfield", n, len(data)-offset)
	}

	field := NewBitField(size)
	copy(field.bits, data[offset:offset+n])

	// Anything past size is padding
	if rem := size % 8; rem != 0 {
		field.bits[n-1] &= byte(1<<rem) - 1
	}
	return field, n, nil
}

func (b BitField) Len() int {
	return b.size
}

// Get returns bit i; out of range reads as false
func (b BitField) Get(i int) bool {
	if i < 0 || i >= b.size {
		return false
	}
	return b.bits[i/8]&(1<<(i%8)) != 0
}

// Set assigns bit i. Out of range writes are ignored.
func (b *BitField) Set(i int, v bool) {
	if i < 0 || i >= b.size {
		return
	}
	if v {
		b.bits[i/8] |= 1 << (i % 8)
	} else {
		b.bits[i/8] &^= 1 << (i % 8)
	}
}

// Any reports whether at least one bit is set
func (b BitField) Any() bool {
	for _, v := range b.bits {
		if v != 0 {
			return true
		}
	}
	return false
}

func (b *BitField) Clear() {
	for i := range b.bits {
		b.bits[i] = 0
	}
}

func (b BitField) Bools() []bool {
	out := make([]bool, b.size)
	for i := range out {
		out[i] = b.Get(i)
	}
	return out
}

// Bytes returns a copy of the packed representation
func (b BitField) Bytes() []byte {
	out := make([]byte, len(b.bits))
	copy(out, b.bits)
	return out
}

// Equal reports whether both fields have the same size and bits
func (b BitField) Equal(other BitField) bool {
	if b.size != other.size {
		return false
	}
	for i := range b.bits {
		if b.bits[i] != other.bits[i] {
			return false
		}
	}
	return true
}
