package protocol

import (
	"encoding/binary"

	"github.com/gear6io/replicant/pkg/errors"
)

// Packet is one framed protocol message. Callbacks fire when the datagram
// carrying the packet is acknowledged or presumed lost.
type Packet struct {
	Protocol Protocol
	Payload  []byte
	Reliable bool

	OnSuccess func()
	OnFailure func()
}

// New returns an unreliable packet
func New(p Protocol, payload []byte) *Packet {
	return &Packet{Protocol: p, Payload: payload}
}

// NewReliable returns a packet that is resent until acknowledged
func NewReliable(p Protocol, payload []byte) *Packet {
	return &Packet{Protocol: p, Payload: payload, Reliable: true}
}

// Size is the framed size of the packet
func (p *Packet) Size() int {
	return HeaderSize + len(p.Payload)
}

// Encode appends the framed packet to buf: [length:2][protocol:1][payload],
// length counting the protocol byte and payload.
func (p *Packet) Encode(buf []byte) ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, errors.Newf(ErrPayloadTooLarge, "%s payload of %d bytes exceeds %d", p.Protocol, len(p.Payload), MaxPayload)
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(ProtocolSize+len(p.Payload)))
	buf = append(buf, byte(p.Protocol))
	return append(buf, p.Payload...), nil
}

// Decode reads one packet at the start of data and returns the number of
// bytes consumed. Decoded packets are unreliable; reliability is a property
// of the sender.
func Decode(data []byte) (*Packet, int, error) {
	if len(data) < HeaderSize {
		return nil, 0, errors.Newf(ErrTruncatedPacket, "packet header needs %d bytes, have %d", HeaderSize, len(data))
	}

	length := int(binary.BigEndian.Uint16(data))
	if length < ProtocolSize {
		return nil, 0, errors.Newf(ErrTruncatedPacket, "packet length %d is shorter than its protocol id", length)
	}
	end := LengthSize + length
	if end > len(data) {
		return nil, 0, errors.Newf(ErrTruncatedPacket, "packet declares %d bytes, have %d", length, len(data)-LengthSize)
	}

	proto := Protocol(data[LengthSize])
	if !proto.Valid() {
		return nil, 0, errors.Newf(ErrUnknownProtocol, "unknown protocol %d", byte(proto))
	}

	payload := make([]byte, length-ProtocolSize)
	copy(payload, data[HeaderSize:end])
	return &Packet{Protocol: proto, Payload: payload}, end, nil
}

// Clone copies the packet, callbacks included
func (p *Packet) Clone() *Packet {
	out := *p
	out.Payload = append([]byte(nil), p.Payload...)
	return &out
}
