package client

import (
	"context"
	"sync"
	"time"

	"github.com/gear6io/replicant/network/replication"
	"github.com/gear6io/replicant/network/transport"
	"github.com/gear6io/replicant/pkg/errors"
	"github.com/gear6io/replicant/server/config"
	"github.com/gear6io/replicant/server/game"
	"github.com/rs/zerolog"
)

// Command runs on the client's tick goroutine against its controller
type Command func(controller *game.PlayerController) error

// Client joins a game server and mirrors its world. Run owns the world and
// the network; other goroutines talk to it through Do and Announcements.
type Client struct {
	config  *config.Config
	logger  zerolog.Logger
	world   *replication.World
	network *transport.Network
	iface   *transport.ConnectionInterface

	commands      chan Command
	announcements chan string
	greeted       bool

	mu     sync.RWMutex
	status transport.Status
	err    error
}

// New builds the client world and binds an ephemeral UDP socket
func New(cfg *config.Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Client.Validate(); err != nil {
		return nil, err
	}

	types, err := game.NewTypes()
	if err != nil {
		return nil, errors.New(ErrConnectionFailed, "failed to register game types", err)
	}

	logger = logger.With().Str("component", "client").Logger()
	world := replication.NewWorld(replication.NetmodeClient, types, logger)

	network, err := transport.NewNetwork(world, transport.Options{
		Address:      ":0",
		SendInterval: cfg.Network.SendInterval,
		Timeout:      cfg.Network.Timeout,
	}, logger)
	if err != nil {
		return nil, errors.New(ErrConnectionFailed, "failed to open client socket", err)
	}

	return &Client{
		config:        cfg,
		logger:        logger,
		world:         world,
		network:       network,
		commands:      make(chan Command, 64),
		announcements: make(chan string, 64),
		status:        transport.StatusDisconnected,
	}, nil
}

// Connect starts the handshake with the configured server
func (c *Client) Connect() error {
	iface, err := c.network.Connect(c.config.Client.Server)
	if err != nil {
		return errors.New(ErrConnectionFailed, "failed to connect", err).AddContext("server", c.config.Client.Server)
	}
	c.iface = iface
	return nil
}

// Run ticks the client until ctx is done or the connection ends. On
// cancellation it disconnects from the server and returns nil; otherwise
// it returns the connection's error.
func (c *Client) Run(ctx context.Context) error {
	if c.iface == nil {
		return errors.New(ErrClientNotConnected, "connect before running the client", nil)
	}

	ticker := time.NewTicker(time.Second / time.Duration(c.config.Client.TickRate))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			c.Disconnect()
			return nil
		case now := <-ticker.C:
			c.Tick(now.Sub(last).Seconds())
			last = now
		}

		if status := c.Status(); status.Terminal() {
			if err := c.Err(); err != nil {
				return err
			}
			return errors.Newf(ErrDisconnected, "connection ended: %s", status).AddContext("server", c.config.Client.Server)
		}
	}
}

// Tick runs one client step: receive, advance the world, run queued
// commands and send
func (c *Client) Tick(delta float64) {
	c.network.Receive()
	c.world.Update(delta)

	if controller, ok := c.controller(); ok {
		c.greet(controller)
		c.runCommands(controller)
	}

	if c.network.CanSend() {
		c.network.Send(true)
	}
	c.publish()
}

// Do queues cmd for the next tick that has a controller
func (c *Client) Do(cmd Command) {
	c.commands <- cmd
}

// Move asks the server to walk the controlled pawn by (x, y)
func (c *Client) Move(x, y float32) {
	c.Do(func(controller *game.PlayerController) error {
		return controller.Move.Call(game.MoveArgs{X: x, Y: y})
	})
}

// Announcements delivers server messages. Messages are dropped when the
// channel is full.
func (c *Client) Announcements() <-chan string {
	return c.announcements
}

// Controller returns the replicable the server gave this client. Only use
// it from a Command or after Run has returned.
func (c *Client) Controller() (*game.PlayerController, error) {
	controller, ok := c.controller()
	if !ok {
		return nil, errors.New(ErrNoController, "the server has not assigned a controller yet", nil)
	}
	return controller, nil
}

// Status is the connection status as of the last tick
func (c *Client) Status() transport.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Err is why the connection failed, if it did
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// LocalAddr is the client's bound UDP address
func (c *Client) LocalAddr() string {
	return c.network.LocalAddr().String()
}

// Disconnect tells the server this client is leaving so its player is
// dropped at once. Run calls it on cancellation; otherwise only call it
// when Run is not running.
func (c *Client) Disconnect() {
	if c.iface == nil {
		return
	}
	c.network.Disconnect()
	c.publish()
}

// Close releases the socket
func (c *Client) Close() error {
	return c.network.Close()
}

func (c *Client) controller() (*game.PlayerController, bool) {
	if c.iface == nil {
		return nil, false
	}
	controller, ok := c.iface.Controller().(*game.PlayerController)
	return controller, ok && controller != nil
}

// greet hooks announcements and sends the player name once the controller
// arrives
func (c *Client) greet(controller *game.PlayerController) {
	if c.greeted {
		return
	}
	c.greeted = true

	controller.OnAnnounce(func(msg string) {
		c.logger.Info().Str("message", msg).Msg("Announcement")
		select {
		case c.announcements <- msg:
		default:
		}
	})
	if err := controller.Rename.Call(game.RenameArgs{Name: c.config.Client.Name}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send player name")
	}
	c.logger.Info().Uint8("controller", controller.ID()).Msg("Controller assigned")
}

func (c *Client) runCommands(controller *game.PlayerController) {
	for {
		select {
		case cmd := <-c.commands:
			if err := cmd(controller); err != nil {
				c.logger.Warn().Err(err).Msg("Command failed")
			}
		default:
			return
		}
	}
}

func (c *Client) publish() {
	if c.iface == nil {
		return
	}
	status, err := c.iface.Status(), c.iface.Err()

	c.mu.Lock()
	c.status, c.err = status, err
	c.mu.Unlock()
}
