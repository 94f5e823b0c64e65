package transport

import (
	"github.com/gear6io/replicant/network/protocol"
	"github.com/gear6io/replicant/network/replication"
	"github.com/gear6io/replicant/network/serial"
	"github.com/gear6io/replicant/pkg/errors"
)

// handshaker drives a ConnectionInterface until it has a Replicator
type handshaker interface {
	send(ci *ConnectionInterface) *protocol.Collection
	receive(ci *ConnectionInterface, p *protocol.Packet)
}

var stringFlag = serial.Flag[string]()

// serverHandshake admits a peer through the game Rules
type serverHandshake struct {
	world   *replication.World
	rules   replication.Rules
	pending *protocol.Collection
}

func newServerHandshake(world *replication.World, rules replication.Rules) *serverHandshake {
	return &serverHandshake{world: world, rules: rules, pending: protocol.NewCollection()}
}

func (h *serverHandshake) send(*ConnectionInterface) *protocol.Collection {
	out := h.pending
	h.pending = protocol.NewCollection()
	return out
}

func (h *serverHandshake) receive(ci *ConnectionInterface, p *protocol.Packet) {
	if p.Protocol != protocol.RequestAuth {
		ci.logger.Debug().Str("protocol", p.Protocol.String()).Msg("Ignoring handshake packet meant for a client")
		return
	}

	// Resent requests arrive after we already answered
	if ci.status != StatusDisconnected {
		return
	}

	if len(p.Payload) != 1 {
		h.reject(ci, errors.Newf(ErrMalformedAuth, "request_auth payload of %d bytes", len(p.Payload)))
		return
	}
	netmode := replication.Netmode(p.Payload[0])
	ci.status = StatusHandshake

	if err := h.rules.PreInitialise(ci.addr, netmode); err != nil {
		h.reject(ci, err)
		return
	}

	conn := replication.NewServerConnection(h.world, h.rules, ci.addr, ci.logger)
	controller, err := h.rules.PostInitialise(conn)
	if err != nil {
		conn.Close()
		h.reject(ci, err)
		return
	}
	if controller != nil {
		conn.SetController(controller)
	}
	ci.conn = conn

	accept := protocol.NewReliable(protocol.AuthSuccess, []byte{byte(h.world.Netmode())})
	accept.OnSuccess = ci.onConnected
	h.pending.Add(accept)

	ci.logger.Info().Str("netmode", netmode.String()).Msg("Accepted peer")
}

// reject answers with [code:str][message:str] and deletes the peer once
// the answer is acknowledged
func (h *serverHandshake) reject(ci *ConnectionInterface, err error) {
	ci.status = StatusHandshake
	ci.err = err

	code, message := errors.CommonUnauthorized.String(), err.Error()
	if errors.IsCoded(err) {
		coded := errors.AsError(err)
		code, message = coded.Code.String(), coded.Message
	}

	text := h.world.Registry().MustHandler(stringFlag)
	payload, packErr := text.Pack(code)
	if packErr == nil {
		var msg []byte
		msg, packErr = text.Pack(truncate(message, 255))
		payload = append(payload, msg...)
	}
	if packErr != nil {
		ci.logger.Error().Err(packErr).Msg("Failed to pack auth failure")
		ci.status = StatusDeleted
		return
	}

	refuse := protocol.NewReliable(protocol.AuthFailure, payload)
	refuse.OnSuccess = func() { ci.status = StatusDeleted }
	h.pending.Add(refuse)

	ci.logger.Warn().Str("code", code).Str("reason", message).Msg("Rejected peer")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// clientHandshake asks the server for admission
type clientHandshake struct {
	world *replication.World
}

func (h *clientHandshake) send(ci *ConnectionInterface) *protocol.Collection {
	if ci.status != StatusDisconnected {
		return protocol.NewCollection()
	}
	ci.status = StatusHandshake
	return protocol.NewCollection(protocol.NewReliable(protocol.RequestAuth, []byte{byte(h.world.Netmode())}))
}

func (h *clientHandshake) receive(ci *ConnectionInterface, p *protocol.Packet) {
	if ci.status != StatusHandshake {
		return
	}

	switch p.Protocol {
	case protocol.AuthSuccess:
		var remote replication.Netmode
		if len(p.Payload) > 0 {
			remote = replication.Netmode(p.Payload[0])
		}
		ci.conn = replication.NewClientConnection(h.world, ci.logger)
		ci.onConnected()
		ci.logger.Info().Str("remote_netmode", remote.String()).Msg("Connected to server")

	case protocol.AuthFailure:
		ci.err = h.decodeFailure(p.Payload)
		ci.status = StatusFailed
		ci.logger.Error().Err(ci.err).Str("code", errors.GetCode(ci.err)).Msg("Server refused connection")

	default:
		ci.logger.Debug().Str("protocol", p.Protocol.String()).Msg("Ignoring handshake packet meant for a server")
	}
}

func (h *clientHandshake) decodeFailure(payload []byte) error {
	text := h.world.Registry().MustHandler(stringFlag)

	code, n, err := text.UnpackFrom(payload, 0)
	if err != nil {
		return errors.Wrap(ErrMalformedAuth, err, "unreadable auth_failure code")
	}
	message, _, err := text.UnpackFrom(payload, n)
	if err != nil {
		return errors.Wrap(ErrMalformedAuth, err, "unreadable auth_failure message")
	}
	return errors.FromWire(code.(string), message.(string), errors.CommonUnauthorized)
}
