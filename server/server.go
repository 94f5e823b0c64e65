package server

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gear6io/replicant/network/replication"
	"github.com/gear6io/replicant/network/transport"
	"github.com/gear6io/replicant/pkg/errors"
	"github.com/gear6io/replicant/server/config"
	"github.com/gear6io/replicant/server/game"
	"github.com/gear6io/replicant/server/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// shutdownTimeout bounds the HTTP drain and the final session bookkeeping
const shutdownTimeout = 5 * time.Second

// Server runs the authoritative game world. One goroutine owns the world,
// the rules and the network; the HTTP endpoint only reads published
// snapshots and Prometheus collectors.
type Server struct {
	config   *config.Config
	logger   zerolog.Logger
	store    *store.Store
	types    *replication.TypeRegistry
	world    *replication.World
	rules    *game.Rules
	network  *transport.Network
	registry *prometheus.Registry
	metrics  *transport.Metrics

	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	players      prometheus.Gauge

	httpServer *http.Server
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	startTime  time.Time
	lastFull   time.Time

	mu       sync.RWMutex
	snapshot Status
}

// New opens the store and builds the world and its rules. Nothing is bound
// until Start.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	netmode, err := replication.ParseNetmode(cfg.Network.Netmode)
	if err != nil {
		return nil, errors.New(config.ErrInvalidNetmode, "invalid server netmode", err)
	}

	types, err := game.NewTypes()
	if err != nil {
		return nil, errors.New(ErrStartFailed, "failed to register game types", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	if n, err := st.CloseOrphanedSessions(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to close orphaned sessions")
	} else if n > 0 {
		logger.Info().Int("sessions", n).Msg("Closed sessions left open by a previous run")
	}
	if n, err := st.PurgeExpiredBans(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to purge expired bans")
	} else if n > 0 {
		logger.Info().Int("bans", n).Msg("Purged expired bans")
	}

	world := replication.NewWorld(netmode, types, logger)
	world.Info().TickRate.Set(uint16(cfg.Network.TickRate))

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	s := &Server{
		config:   cfg,
		logger:   logger.With().Str("component", "server").Logger(),
		store:    st,
		types:    types,
		world:    world,
		rules:    game.NewRules(world, cfg.Game, st, logger),
		registry: registry,
		metrics:  transport.NewMetrics(registry, cfg.Metrics.Namespace),
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Metrics.Namespace,
			Subsystem: "server",
			Name:      "ticks_total",
			Help:      "Simulation ticks run",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Metrics.Namespace,
			Subsystem: "server",
			Name:      "tick_duration_seconds",
			Help:      "Time spent receiving, updating and sending in one tick",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		players: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Metrics.Namespace,
			Subsystem: "server",
			Name:      "players",
			Help:      "Admitted players",
		}),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	s.publish()
	return s, nil
}

// Start binds the game socket, serves metrics when enabled and starts the
// tick loop
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info().Str("config", s.config.String()).Msg("Starting replicant server...")

	if err := s.bind(); err != nil {
		return err
	}

	if s.config.Metrics.Enabled {
		if err := s.startHTTP(); err != nil {
			s.network.Close()
			return err
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-s.ctx.Done()
		cancel()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(loopCtx)
	}()

	s.logger.Info().
		Str("game_address", s.Addr()).
		Bool("metrics_enabled", s.config.Metrics.Enabled).
		Str("metrics_address", s.config.GetMetricsAddress()).
		Msg("Server started")
	return nil
}

// bind opens the game socket without starting the tick loop
func (s *Server) bind() error {
	network, err := transport.NewNetwork(s.world, transport.Options{
		Address:      s.config.GetGameAddress(),
		Rules:        s.rules,
		SendInterval: s.config.Network.SendInterval,
		Timeout:      s.config.Network.Timeout,
		Metrics:      s.metrics,
	}, s.logger)
	if err != nil {
		return errors.New(ErrStartFailed, "failed to start game network", err)
	}
	s.network = network
	return nil
}

func (s *Server) run(ctx context.Context) {
	ticker := time.NewTicker(s.config.GetTickInterval())
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now.Sub(last).Seconds(), now)
			last = now
		}
	}
}

// Tick runs one simulation step: drain the socket, advance the world and
// send. Every tick sends queued RPC calls; full replication happens once
// per network interval.
func (s *Server) Tick(delta float64, now time.Time) {
	start := time.Now()

	s.network.Receive()
	s.world.Update(delta)

	networkTick := now.Sub(s.lastFull) >= s.config.GetNetworkInterval()
	s.network.Send(networkTick)
	if networkTick {
		s.lastFull = now
		s.publish()
	}

	s.ticks.Inc()
	s.tickDuration.Observe(time.Since(start).Seconds())
}

// Addr is the bound game address, empty before Start
func (s *Server) Addr() string {
	if s.network == nil {
		return ""
	}
	return s.network.LocalAddr().String()
}

// Store exposes the ban and session store
func (s *Server) Store() *store.Store {
	return s.store
}

// Registry is the Prometheus registry served on /metrics
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Shutdown stops the tick loop, drains HTTP, closes every open session and
// releases the socket and store
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Shutting down server...")
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout, forcing close")
	}

	if s.network != nil {
		if err := s.network.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing game network")
		}
	}
	if n, err := s.store.CloseOpenSessions(ctx, "server shutdown"); err != nil {
		s.logger.Error().Err(err).Msg("Error closing open sessions")
	} else if n > 0 {
		s.logger.Info().Int("sessions", n).Msg("Closed open sessions")
	}
	if err := s.store.Close(); err != nil {
		return err
	}

	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}

// GetUptime returns the server uptime
func (s *Server) GetUptime() time.Duration {
	return time.Since(s.startTime)
}

// PeerStatus describes one connected peer
type PeerStatus struct {
	Addr    string  `json:"addr"`
	Session string  `json:"session"`
	Status  string  `json:"status"`
	RTT     float64 `json:"rtt_ms"`
}

// Status is the snapshot served on /status
type Status struct {
	StartTime time.Time       `json:"start_time"`
	Uptime    string          `json:"uptime"`
	Netmode   string          `json:"netmode"`
	Address   string          `json:"address"`
	Elapsed   float64         `json:"elapsed"`
	Players   int             `json:"players"`
	Peers     []PeerStatus    `json:"peers"`
	Network   transport.Stats `json:"network"`
}

// GetStatus returns the latest published snapshot. Safe from any goroutine.
func (s *Server) GetStatus() Status {
	s.mu.RLock()
	status := s.snapshot
	s.mu.RUnlock()

	status.Peers = append([]PeerStatus(nil), status.Peers...)
	status.Uptime = s.GetUptime().Round(time.Second).String()
	return status
}

// publish copies what /status shows out of the tick goroutine's state
func (s *Server) publish() {
	status := Status{
		StartTime: s.startTime,
		Netmode:   s.world.Netmode().String(),
		Elapsed:   s.world.Elapsed(),
		Players:   s.rules.Count(),
		Peers:     []PeerStatus{},
	}
	if s.network != nil {
		status.Address = s.network.LocalAddr().String()
		status.Network = s.network.Stats()
		for _, ci := range s.network.Interfaces() {
			status.Peers = append(status.Peers, PeerStatus{
				Addr:    ci.Addr(),
				Session: ci.Session(),
				Status:  ci.Status().String(),
				RTT:     float64(ci.RTT().Microseconds()) / 1000,
			})
		}
	}
	sort.Slice(status.Peers, func(i, j int) bool { return status.Peers[i].Addr < status.Peers[j].Addr })
	s.players.Set(float64(status.Players))

	s.mu.Lock()
	s.snapshot = status
	s.mu.Unlock()
}
