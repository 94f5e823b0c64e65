package protocol

// Collection is an ordered batch of packets sent in one datagram
type Collection struct {
	Members []*Packet
}

// NewCollection groups packets, skipping nils
func NewCollection(packets ...*Packet) *Collection {
	c := &Collection{}
	c.Add(packets...)
	return c
}

func (c *Collection) Add(packets ...*Packet) {
	for _, p := range packets {
		if p != nil {
			c.Members = append(c.Members, p)
		}
	}
}

// Extend appends other's members in order
func (c *Collection) Extend(other *Collection) {
	if other == nil {
		return
	}
	c.Members = append(c.Members, other.Members...)
}

// Concat returns a new collection holding c's members followed by other's
func (c *Collection) Concat(other *Collection) *Collection {
	out := &Collection{Members: make([]*Packet, 0, c.Len()+other.Len())}
	out.Extend(c)
	out.Extend(other)
	return out
}

func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Members)
}

func (c *Collection) Empty() bool {
	return c.Len() == 0
}

func (c *Collection) filter(reliable bool) *Collection {
	out := &Collection{}
	for _, p := range c.Members {
		if p.Reliable == reliable {
			out.Members = append(out.Members, p)
		}
	}
	return out
}

// Reliable returns the members that must be resent when lost
func (c *Collection) Reliable() *Collection {
	return c.filter(true)
}

func (c *Collection) Unreliable() *Collection {
	return c.filter(false)
}

// OnAck runs every member's success callback
func (c *Collection) OnAck() {
	for _, p := range c.Members {
		if p.OnSuccess != nil {
			p.OnSuccess()
		}
	}
}

// OnNotAck runs every member's failure callback
func (c *Collection) OnNotAck() {
	for _, p := range c.Members {
		if p.OnFailure != nil {
			p.OnFailure()
		}
	}
}

// Size is the encoded size of all members
func (c *Collection) Size() int {
	n := 0
	for _, p := range c.Members {
		n += p.Size()
	}
	return n
}

// Encode appends all framed members to buf
func (c *Collection) Encode(buf []byte) ([]byte, error) {
	var err error
	for _, p := range c.Members {
		if buf, err = p.Encode(buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Bytes encodes the collection into a new buffer
func (c *Collection) Bytes() ([]byte, error) {
	return c.Encode(make([]byte, 0, c.Size()))
}

// DecodeCollection reads packets until data is exhausted
func DecodeCollection(data []byte) (*Collection, error) {
	c := &Collection{}
	for offset := 0; offset < len(data); {
		p, n, err := Decode(data[offset:])
		if err != nil {
			return nil, err
		}
		c.Members = append(c.Members, p)
		offset += n
	}
	return c, nil
}
