package transport

import (
	stderrors "errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/gear6io/replicant/network/replication"
	"github.com/gear6io/replicant/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// DefaultSendInterval throttles full sends to twenty per second
	DefaultSendInterval = time.Second / 20

	// MaxDatagramSize bounds a single read from the socket
	MaxDatagramSize = 64 * 1024

	inboxSize = 1024
)

// Options configures a Network
type Options struct {
	// Address to bind. Servers bind a fixed port; clients usually ":0".
	Address string

	// Rules admit clients. Required when the world is a server.
	Rules replication.Rules

	SendInterval time.Duration
	Timeout      time.Duration
	Metrics      *Metrics
}

type datagram struct {
	addr *net.UDPAddr
	data []byte
}

// Stats are cumulative and per-second socket counters
type Stats struct {
	BytesSent         uint64
	BytesReceived     uint64
	DatagramsSent     uint64
	DatagramsReceived uint64
	SendRate          float64
	ReceiveRate       float64
}

// Network owns the UDP socket and one ConnectionInterface per peer. Reads
// happen on a background goroutine; everything else runs on the caller's
// tick goroutine.
type Network struct {
	world   *replication.World
	opts    Options
	conn    *net.UDPConn
	inbox   chan datagram
	wg      sync.WaitGroup
	closing chan struct{}

	interfaces map[string]*ConnectionInterface
	addrs      map[string]*net.UDPAddr

	stats     Stats
	rateStart time.Time
	rateSent  uint64
	rateRecv  uint64
	lastSend  time.Time
	now       func() time.Time
	metrics   *Metrics
	logger    zerolog.Logger
}

// NewNetwork binds a UDP socket for world
func NewNetwork(world *replication.World, opts Options, logger zerolog.Logger) (*Network, error) {
	if world.Netmode().IsServer() && opts.Rules == nil {
		return nil, errors.New(ErrNoRules, "a server network needs game rules to admit clients", nil)
	}
	if opts.SendInterval <= 0 {
		opts.SendInterval = DefaultSendInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	addr, err := net.ResolveUDPAddr("udp", opts.Address)
	if err != nil {
		return nil, errors.Wrapf(ErrSocket, err, "failed to resolve %q", opts.Address)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(ErrSocket, err, "failed to bind %s", addr)
	}

	n := &Network{
		world:      world,
		opts:       opts,
		conn:       conn,
		inbox:      make(chan datagram, inboxSize),
		closing:    make(chan struct{}),
		interfaces: make(map[string]*ConnectionInterface),
		addrs:      make(map[string]*net.UDPAddr),
		now:        time.Now,
		metrics:    opts.Metrics,
		logger:     logger.With().Str("component", "network").Str("netmode", world.Netmode().String()).Logger(),
	}
	n.rateStart = n.now()

	n.wg.Add(1)
	go n.readLoop()

	n.logger.Info().Str("address", conn.LocalAddr().String()).Msg("Network bound")
	return n, nil
}

// LocalAddr is the bound socket address
func (n *Network) LocalAddr() net.Addr {
	return n.conn.LocalAddr()
}

// Connect starts the handshake with the server at addr
func (n *Network) Connect(addr string) (*ConnectionInterface, error) {
	if len(n.interfaces) > 0 {
		return nil, errors.Newf(ErrAlreadyDialled, "already connected to %s", n.firstAddr())
	}

	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(ErrSocket, err, "failed to resolve %q", addr)
	}

	ci := NewClientInterface(n.world, remote.String(), n.logger)
	n.track(ci, remote)
	n.logger.Info().Str("server", remote.String()).Msg("Connecting")
	return ci, nil
}

func (n *Network) firstAddr() string {
	for addr := range n.interfaces {
		return addr
	}
	return ""
}

func (n *Network) track(ci *ConnectionInterface, addr *net.UDPAddr) {
	ci.timeout = n.opts.Timeout
	ci.now = n.now
	ci.lastReceived = n.now()
	ci.metrics = n.metrics
	n.interfaces[ci.addr] = ci
	n.addrs[ci.addr] = addr
}

// Interfaces returns the live peers sorted by address
func (n *Network) Interfaces() []*ConnectionInterface {
	out := make([]*ConnectionInterface, 0, len(n.interfaces))
	for _, ci := range n.interfaces {
		out = append(out, ci)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].addr < out[j].addr })
	return out
}

// Interface returns the peer at addr
func (n *Network) Interface(addr string) (*ConnectionInterface, bool) {
	ci, ok := n.interfaces[addr]
	return ci, ok
}

func (n *Network) readLoop() {
	defer n.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	for {
		size, addr, err := n.conn.ReadFromUDP(buf)
		if err != nil {
			if stderrors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-n.closing:
				return
			default:
			}
			// ICMP unreachable and friends surface here on some platforms
			n.logger.Debug().Err(err).Msg("Socket read failed")
			continue
		}

		data := make([]byte, size)
		copy(data, buf[:size])

		select {
		case n.inbox <- datagram{addr: addr, data: data}:
		case <-n.closing:
			return
		default:
			n.metrics.dropped("overrun")
		}
	}
}

// Receive hands every datagram read since the last call to its peer.
// Servers accept unknown addresses as new peers; clients ignore them.
func (n *Network) Receive() {
	for {
		select {
		case d := <-n.inbox:
			n.deliver(d)
		default:
			return
		}
	}
}

func (n *Network) deliver(d datagram) {
	key := d.addr.String()

	n.stats.BytesReceived += uint64(len(d.data))
	n.stats.DatagramsReceived++
	n.rateRecv += uint64(len(d.data))
	n.metrics.received(len(d.data))

	ci, ok := n.interfaces[key]
	if !ok {
		if !n.world.Netmode().IsServer() {
			n.metrics.dropped("unknown_peer")
			n.logger.Debug().Str("addr", key).Msg("Ignoring datagram from unknown address")
			return
		}
		ci = NewServerInterface(n.world, n.opts.Rules, key, n.logger)
		n.track(ci, d.addr)
		n.logger.Debug().Str("addr", key).Str("session", ci.session).Msg("New peer")
	}
	ci.Receive(d.data)
}

// CanSend reports whether SendInterval has passed since the last Send
func (n *Network) CanSend() bool {
	return n.now().Sub(n.lastSend) >= n.opts.SendInterval
}

// Send writes one datagram to every peer, then drops the peers that have
// finished. RPC calls queued on replicables no connection owns are
// discarded.
func (n *Network) Send(networkTick bool) {
	n.lastSend = n.now()

	counts := make(map[Status]int)
	for _, ci := range n.Interfaces() {
		data, err := ci.Send(networkTick)
		if err != nil {
			n.logger.Error().Err(err).Str("addr", ci.addr).Msg("Failed to build datagram")
			continue
		}
		if data == nil {
			continue
		}
		counts[ci.status]++

		if _, err := n.conn.WriteToUDP(data, n.addrs[ci.addr]); err != nil {
			n.logger.Warn().Err(err).Str("addr", ci.addr).Msg("Failed to write datagram")
			continue
		}
		n.stats.BytesSent += uint64(len(data))
		n.stats.DatagramsSent++
		n.rateSent += uint64(len(data))
		n.metrics.sent(len(data))
	}

	n.prune()
	n.metrics.observe(counts)
	n.world.DiscardPendingCalls()
	n.updateRates()
}

// Disconnect sends every live peer a request_disconnect and drops them
// without waiting for their timeout
func (n *Network) Disconnect() {
	for _, ci := range n.interfaces {
		ci.Disconnect()
	}
	n.Send(false)
}

// prune removes peers in a terminal status and unregisters what they
// controlled
func (n *Network) prune() {
	for _, ci := range n.Interfaces() {
		if !ci.status.Terminal() {
			continue
		}

		if controller := ci.Controller(); controller != nil && n.world.Netmode().IsServer() {
			n.world.Remove(controller)
		}
		if server, ok := ci.conn.(*replication.ServerConnection); ok {
			if observer, ok := n.opts.Rules.(replication.DisconnectObserver); ok {
				observer.OnDisconnect(server)
			}
		}
		ci.Close()

		delete(n.interfaces, ci.addr)
		delete(n.addrs, ci.addr)
		n.logger.Info().Str("addr", ci.addr).Str("session", ci.session).Str("status", ci.status.String()).Msg("Dropped peer")
	}
}

func (n *Network) updateRates() {
	elapsed := n.now().Sub(n.rateStart)
	if elapsed < time.Second {
		return
	}
	seconds := elapsed.Seconds()
	n.stats.SendRate = float64(n.rateSent) / seconds
	n.stats.ReceiveRate = float64(n.rateRecv) / seconds
	n.rateSent, n.rateRecv = 0, 0
	n.rateStart = n.now()
}

// Stats returns a snapshot of the socket counters
func (n *Network) Stats() Stats {
	return n.stats
}

// Close drops every peer and releases the socket
func (n *Network) Close() error {
	for _, ci := range n.interfaces {
		ci.Close()
	}
	close(n.closing)
	err := n.conn.Close()
	n.wg.Wait()
	if err != nil {
		return errors.Wrap(ErrSocket, err, "failed to close socket")
	}
	return nil
}
