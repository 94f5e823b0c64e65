package transport

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/gear6io/replicant/network/protocol"
	"github.com/gear6io/replicant/network/replication"
	"github.com/gear6io/replicant/network/serial"
	"github.com/gear6io/replicant/pkg/errors"
	"github.com/gear6io/replicant/utils"
	"github.com/rs/zerolog"
)

// DefaultTimeout is how long a peer may stay silent before it times out
const DefaultTimeout = 2 * time.Second

// rttSmoothing weights each new round trip sample against the estimate
const rttSmoothing = 0.1

// Replicator is the replication connection carried once a peer is admitted.
// Both *replication.ServerConnection and *replication.ClientConnection
// satisfy it.
type Replicator interface {
	Send(networkTick bool) *protocol.Collection
	Receive(packets []*protocol.Packet)
	Close()
	Controller() replication.Replicable
}

// inflight is a sent datagram awaiting acknowledgement
type inflight struct {
	packets *protocol.Collection
	sentAt  time.Time
}

// ConnectionInterface is the reliability layer for one remote peer. It
// sequences outgoing datagrams, acknowledges incoming ones and resends the
// reliable packets of datagrams presumed lost.
type ConnectionInterface struct {
	addr     string
	session  string
	status   Status
	err      error
	farewell bool
	leaving  bool

	handshake handshaker
	conn      Replicator

	localSequence  uint16
	remoteSequence uint16
	receivedAny    bool
	receivedWindow []uint16
	requestedAck   map[uint16]inflight
	resend         *protocol.Collection
	rtt            time.Duration

	timeout      time.Duration
	lastReceived time.Time
	now          func() time.Time

	metrics *Metrics
	logger  zerolog.Logger
}

func newInterface(addr string, h handshaker, logger zerolog.Logger) *ConnectionInterface {
	session := utils.GenerateULIDString()
	ci := &ConnectionInterface{
		addr:           addr,
		session:        session,
		status:         StatusDisconnected,
		handshake:      h,
		receivedWindow: make([]uint16, 0, AckWindow),
		requestedAck:   make(map[uint16]inflight),
		resend:         protocol.NewCollection(),
		timeout:        DefaultTimeout,
		now:            time.Now,
		logger:         logger.With().Str("component", "connection-interface").Str("addr", addr).Str("session", session).Logger(),
	}
	ci.lastReceived = ci.now()
	return ci
}

// NewServerInterface handles a client at addr, admitting it through rules
func NewServerInterface(world *replication.World, rules replication.Rules, addr string, logger zerolog.Logger) *ConnectionInterface {
	return newInterface(addr, newServerHandshake(world, rules), logger)
}

// NewClientInterface handles the server at addr
func NewClientInterface(world *replication.World, addr string, logger zerolog.Logger) *ConnectionInterface {
	return newInterface(addr, &clientHandshake{world: world}, logger)
}

// SetTimeout overrides DefaultTimeout
func (ci *ConnectionInterface) SetTimeout(d time.Duration) {
	ci.timeout = d
}

// SetClock replaces time.Now, for tests and simulations
func (ci *ConnectionInterface) SetClock(now func() time.Time) {
	ci.now = now
	ci.lastReceived = now()
}

func (ci *ConnectionInterface) Addr() string {
	return ci.addr
}

// Session is a unique id for this peer's lifetime, used in logs and audits
func (ci *ConnectionInterface) Session() string {
	return ci.session
}

func (ci *ConnectionInterface) Status() Status {
	return ci.status
}

// Err is the reason the peer was refused, if it was
func (ci *ConnectionInterface) Err() error {
	return ci.err
}

// Connection is the admitted replication connection, nil before admission
func (ci *ConnectionInterface) Connection() Replicator {
	return ci.conn
}

// Controller is the replicable the peer controls, if any
func (ci *ConnectionInterface) Controller() replication.Replicable {
	if ci.conn == nil {
		return nil
	}
	return ci.conn.Controller()
}

// Pending is the number of sent datagrams awaiting acknowledgement
func (ci *ConnectionInterface) Pending() int {
	return len(ci.requestedAck)
}

// RTT is the smoothed round trip time, zero until the first
// acknowledgement
func (ci *ConnectionInterface) RTT() time.Duration {
	return ci.rtt
}

// Disconnect makes the next Send carry a request_disconnect to the peer,
// after which the interface is deleted
func (ci *ConnectionInterface) Disconnect() {
	if ci.status.Terminal() {
		return
	}
	ci.leaving = true
}

// Close releases the replication connection
func (ci *ConnectionInterface) Close() {
	if ci.conn != nil {
		ci.conn.Close()
	}
}

func (ci *ConnectionInterface) onConnected() {
	if ci.status == StatusHandshake {
		ci.status = StatusConnected
	}
}

// Send builds the next datagram, or returns nil when the peer is finished.
// A datagram is produced every call, even without payload, so that
// acknowledgements keep flowing.
func (ci *ConnectionInterface) Send(networkTick bool) ([]byte, error) {
	var out *protocol.Collection
	switch {
	case ci.status == StatusFailed && !ci.farewell:
		// Acknowledge the refusal once so the server can forget us
		ci.farewell = true
		out = protocol.NewCollection()
	case ci.status.Terminal():
		return nil, nil
	case ci.leaving:
		out = protocol.NewCollection(protocol.New(protocol.RequestDisconnect, nil))
	case ci.now().Sub(ci.lastReceived) > ci.timeout:
		ci.status = StatusTimeout
		ci.err = errors.Newf(ErrTimedOut, "no datagram from %s for %s", ci.addr, ci.timeout)
		ci.metrics.timedOut()
		ci.logger.Warn().Dur("timeout", ci.timeout).Msg("Connection timed out")
		return nil, nil
	case ci.status == StatusConnected:
		out = ci.conn.Send(networkTick)
	default:
		out = ci.handshake.send(ci)
	}

	if !ci.resend.Empty() && !ci.status.Terminal() && !ci.leaving {
		ci.metrics.resent(ci.resend.Len())
		out = ci.resend.Concat(out)
	}

	sequence := ci.localSequence + 1

	buf := make([]byte, 0, HeaderSize+out.Size())
	buf = binary.BigEndian.AppendUint16(buf, sequence)
	buf = binary.BigEndian.AppendUint16(buf, ci.remoteSequence)
	buf = append(buf, ci.ackBits().Bytes()...)

	buf, err := out.Encode(buf)
	if err != nil {
		return nil, err
	}

	ci.localSequence = sequence
	ci.requestedAck[sequence] = inflight{packets: out, sentAt: ci.now()}
	ci.resend = protocol.NewCollection()

	if ci.leaving {
		ci.status = StatusDeleted
		ci.logger.Info().Msg("Sent disconnect request")
	}
	return buf, nil
}

// ackBits marks bit d-1 when remoteSequence-d has been received
func (ci *ConnectionInterface) ackBits() serial.BitField {
	bits := serial.NewBitField(AckWindow)
	for _, s := range ci.receivedWindow {
		age := sequenceAge(ci.remoteSequence, s)
		if age >= 1 && age <= AckWindow {
			bits.Set(int(age)-1, true)
		}
	}
	return bits
}

func (ci *ConnectionInterface) seen(sequence uint16) bool {
	for _, s := range ci.receivedWindow {
		if s == sequence {
			return true
		}
	}
	return false
}

// Receive consumes one datagram from the peer. Malformed, duplicate and
// stale datagrams are dropped.
func (ci *ConnectionInterface) Receive(data []byte) {
	if len(data) < HeaderSize {
		ci.metrics.dropped("short")
		ci.logger.Debug().Err(errors.Newf(ErrShortDatagram, "datagram of %d bytes is shorter than the %d byte header", len(data), HeaderSize)).
			Msg("Dropping short datagram")
		return
	}

	sequence := binary.BigEndian.Uint16(data[0:])
	ack := binary.BigEndian.Uint16(data[2:])
	bits, _, err := serial.ReadBitField(AckWindow, data, 4)
	if err != nil {
		ci.metrics.dropped("short")
		return
	}

	if ci.seen(sequence) {
		ci.metrics.dropped("duplicate")
		return
	}
	if ci.receivedAny && !SequenceMoreRecent(sequence, ci.remoteSequence) &&
		sequenceAge(ci.remoteSequence, sequence) >= AckWindow {
		ci.metrics.dropped("stale")
		return
	}

	ci.lastReceived = ci.now()
	if !ci.receivedAny || SequenceMoreRecent(sequence, ci.remoteSequence) {
		ci.remoteSequence = sequence
	}
	ci.receivedAny = true

	if len(ci.receivedWindow) == AckWindow {
		ci.receivedWindow = append(ci.receivedWindow[:0], ci.receivedWindow[1:]...)
	}
	ci.receivedWindow = append(ci.receivedWindow, sequence)

	ci.acknowledge(ack, bits)

	members, err := protocol.DecodeCollection(data[HeaderSize:])
	if err != nil {
		ci.metrics.dropped("malformed")
		ci.logger.Warn().Err(err).Uint16("sequence", sequence).Msg("Dropping malformed datagram payload")
		return
	}
	ci.dispatch(members.Members)
}

// acknowledge settles every pending datagram the peer reports, then
// treats those that fell out of the window as lost
func (ci *ConnectionInterface) acknowledge(ack uint16, bits serial.BitField) {
	ci.settle(ack)
	for d := 1; d <= AckWindow; d++ {
		if bits.Get(d - 1) {
			ci.settle(ack - uint16(d))
		}
	}

	var lost []uint16
	for s := range ci.requestedAck {
		age := sequenceAge(ack, s)
		if age >= AckWindow && age < halfSequence {
			lost = append(lost, s)
		}
	}
	sort.Slice(lost, func(i, j int) bool {
		return sequenceAge(ack, lost[i]) > sequenceAge(ack, lost[j])
	})

	for _, s := range lost {
		reliable := ci.requestedAck[s].packets.Reliable()
		delete(ci.requestedAck, s)

		reliable.OnNotAck()
		ci.resend.Extend(reliable)
	}
	if len(lost) > 0 {
		ci.logger.Debug().Int("datagrams", len(lost)).Int("resend", ci.resend.Len()).Msg("Presumed datagrams lost")
	}
}

func (ci *ConnectionInterface) settle(sequence uint16) {
	sent, ok := ci.requestedAck[sequence]
	if !ok {
		return
	}
	delete(ci.requestedAck, sequence)
	sent.packets.OnAck()

	sample := ci.now().Sub(sent.sentAt)
	if ci.rtt == 0 {
		ci.rtt = sample
	} else {
		ci.rtt += time.Duration(rttSmoothing * float64(sample-ci.rtt))
	}
	ci.metrics.roundTrip(sample)
}

func (ci *ConnectionInterface) dispatch(packets []*protocol.Packet) {
	var payload []*protocol.Packet
	for _, p := range packets {
		if p.Protocol == protocol.RequestDisconnect {
			ci.status = StatusDeleted
			ci.logger.Info().Msg("Peer requested disconnect")
			return
		}
		if p.Protocol.IsHandshake() {
			ci.handshake.receive(ci, p)
			continue
		}
		payload = append(payload, p)
	}

	if len(payload) == 0 {
		return
	}
	if ci.conn == nil {
		ci.logger.Debug().Int("packets", len(payload)).Msg("Dropping packets received before admission")
		return
	}
	ci.conn.Receive(payload)
}
