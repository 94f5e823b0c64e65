package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/gear6io/replicant/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the server and client configuration
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Network NetworkConfig `yaml:"network"`
	Metrics MetricsConfig `yaml:"metrics"`
	Store   StoreConfig   `yaml:"store"`
	Game    GameConfig    `yaml:"game"`
	Client  ClientConfig  `yaml:"client"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`      // "json" or "console"
	FilePath   string `yaml:"file_path"`   // Path to log file
	Console    bool   `yaml:"console"`     // Whether to log to console
	MaxSize    int    `yaml:"max_size"`    // Max file size in MB
	MaxBackups int    `yaml:"max_backups"` // Max number of backup files
	MaxAge     int    `yaml:"max_age"`     // Max age in days
	Cleanup    bool   `yaml:"cleanup"`     // Whether to cleanup log file on startup
}

// NetworkConfig represents the UDP game server configuration
type NetworkConfig struct {
	Address      string        `yaml:"address"`
	Port         int           `yaml:"port"`
	Netmode      string        `yaml:"netmode"`       // "server" or "listen"
	TickRate     int           `yaml:"tick_rate"`     // Simulation ticks per second
	NetworkRate  int           `yaml:"network_rate"`  // Full replication passes per second
	SendInterval time.Duration `yaml:"send_interval"` // Minimum gap between client datagrams; servers send every tick
	Timeout      time.Duration `yaml:"timeout"`       // Silence before a peer is dropped
}

// MetricsConfig represents the Prometheus / status HTTP endpoint
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	Namespace string `yaml:"namespace"`
}

// StoreConfig represents the SQLite store holding bans and session history
type StoreConfig struct {
	Path  string `yaml:"path"`
	Debug bool   `yaml:"debug"` // Log every SQL query
}

// GameConfig represents the demo game rules
type GameConfig struct {
	MaxPlayers      int     `yaml:"max_players"`
	RelevanceRadius float64 `yaml:"relevance_radius"`
	SpawnHealth     int     `yaml:"spawn_health"`
}

// ClientConfig represents the client side of a session
type ClientConfig struct {
	Server   string `yaml:"server"` // host:port of the game server
	TickRate int    `yaml:"tick_rate"`
	Name     string `yaml:"name"`
}

// LoadDefaultConfig returns a default configuration
func LoadDefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			FilePath:   "logs/replicant.log",
			Console:    true,
			MaxSize:    100, // 100MB
			MaxBackups: 3,
			MaxAge:     7,    // 7 days
			Cleanup:    true, // Cleanup log file on startup by default
		},
		Network: NetworkConfig{
			Address:      DEFAULT_SERVER_ADDRESS,
			Port:         GAME_SERVER_PORT,
			Netmode:      "server",
			TickRate:     DEFAULT_TICK_RATE,
			NetworkRate:  DEFAULT_NETWORK_RATE,
			SendInterval: time.Second / 20,
			Timeout:      2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Address:   LOCALHOST_ADDRESS,
			Port:      METRICS_SERVER_PORT,
			Namespace: "replicant",
		},
		Store: StoreConfig{
			Path: "./data/replicant.db",
		},
		Game: GameConfig{
			MaxPlayers:      DEFAULT_MAX_PLAYERS,
			RelevanceRadius: DEFAULT_RELEVANCE_RADIUS,
			SpawnHealth:     100,
		},
		Client: ClientConfig{
			Server:   net.JoinHostPort(LOCALHOST_ADDRESS, strconv.Itoa(GAME_SERVER_PORT)),
			TickRate: DEFAULT_TICK_RATE,
			Name:     "player",
		},
	}
}

// LoadConfig loads configuration from a file. Missing keys keep their
// defaults.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.New(ErrConfigFileReadFailed, "failed to read config file", err).AddContext("file", filename)
	}

	config := LoadDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.New(ErrConfigFileParseFailed, "failed to parse config file", err).AddContext("file", filename)
	}

	if err := config.Validate(); err != nil {
		return nil, errors.New(ErrConfigValidationFailed, "configuration validation failed", err)
	}

	return config, nil
}

// SaveConfig saves configuration to a file
func SaveConfig(config *Config, filename string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.New(ErrConfigFileMarshalFailed, "failed to marshal config", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.New(ErrConfigFileWriteFailed, "failed to write config file", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if c.Store.Path == "" {
		return errors.New(ErrStorePathRequired, "store path is required", nil)
	}
	if err := c.Game.Validate(); err != nil {
		return err
	}
	return c.Client.Validate()
}

// Validate validates the game server configuration
func (n *NetworkConfig) Validate() error {
	if !IsValidPort(n.Port) {
		return errors.Newf(ErrInvalidPort, "network port %d out of range", n.Port)
	}
	if n.Netmode != "server" && n.Netmode != "listen" {
		return errors.Newf(ErrInvalidNetmode, "netmode must be server or listen, got %q", n.Netmode)
	}
	if n.TickRate <= 0 || n.TickRate > 1000 {
		return errors.Newf(ErrInvalidRate, "tick_rate %d must be within 1..1000", n.TickRate)
	}
	if n.NetworkRate <= 0 || n.NetworkRate > n.TickRate {
		return errors.Newf(ErrInvalidRate, "network_rate %d must be within 1..tick_rate", n.NetworkRate)
	}
	if n.SendInterval < 0 || n.Timeout <= 0 {
		return errors.New(ErrInvalidRate, "send_interval must not be negative and timeout must be positive", nil)
	}
	return nil
}

// Validate validates the metrics endpoint
func (m *MetricsConfig) Validate() error {
	if m.Enabled && !IsValidPort(m.Port) {
		return errors.Newf(ErrInvalidPort, "metrics port %d out of range", m.Port)
	}
	return nil
}

// Validate validates the game settings
func (g *GameConfig) Validate() error {
	if g.MaxPlayers <= 0 || g.MaxPlayers > 254 {
		return errors.Newf(ErrInvalidGameSettings, "max_players %d must be within 1..254", g.MaxPlayers)
	}
	if g.RelevanceRadius <= 0 {
		return errors.New(ErrInvalidGameSettings, "relevance_radius must be positive", nil)
	}
	if g.SpawnHealth <= 0 || g.SpawnHealth > 255 {
		return errors.Newf(ErrInvalidGameSettings, "spawn_health %d must be within 1..255", g.SpawnHealth)
	}
	return nil
}

// Validate validates the client settings
func (c *ClientConfig) Validate() error {
	if c.Server == "" {
		return errors.New(ErrServerAddressRequired, "client server address is required", nil)
	}
	if c.TickRate <= 0 || c.TickRate > 1000 {
		return errors.Newf(ErrInvalidRate, "client tick_rate %d must be within 1..1000", c.TickRate)
	}
	return nil
}

// GetGameAddress returns the UDP bind address of the game server
func (c *Config) GetGameAddress() string {
	return net.JoinHostPort(c.Network.Address, strconv.Itoa(c.Network.Port))
}

// GetMetricsAddress returns the HTTP bind address of the metrics server
func (c *Config) GetMetricsAddress() string {
	return net.JoinHostPort(c.Metrics.Address, strconv.Itoa(c.Metrics.Port))
}

// GetTickInterval returns the duration of one simulation tick
func (c *Config) GetTickInterval() time.Duration {
	return time.Second / time.Duration(c.Network.TickRate)
}

// GetNetworkInterval returns the gap between full replication passes
func (c *Config) GetNetworkInterval() time.Duration {
	return time.Second / time.Duration(c.Network.NetworkRate)
}

// String summarises the configuration for startup logs
func (c *Config) String() string {
	return fmt.Sprintf("game=%s netmode=%s tick_rate=%d network_rate=%d store=%s",
		c.GetGameAddress(), c.Network.Netmode, c.Network.TickRate, c.Network.NetworkRate, c.Store.Path)
}
