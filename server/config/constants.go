package config

// Network port constants
const (
	// Game Server Port - UDP replication traffic
	GAME_SERVER_PORT = 1200

	// Metrics Port - Prometheus scrape and status endpoint
	// Selected to avoid common monitoring ports like 8080, 9090, 9100
	METRICS_SERVER_PORT = 2851
)

// Network address constants
const (
	// Default bind address for the game and metrics servers
	DEFAULT_SERVER_ADDRESS = "0.0.0.0"

	// Localhost address for development
	LOCALHOST_ADDRESS = "127.0.0.1"
)

// Simulation constants
const (
	// Ticks per second of the simulation loop
	DEFAULT_TICK_RATE = 60

	// Full replication passes per second
	DEFAULT_NETWORK_RATE = 25

	// Radius inside which a pawn is relevant to a player
	DEFAULT_RELEVANCE_RADIUS = 80.0

	DEFAULT_MAX_PLAYERS = 16
)

// Port validation constants
const (
	MIN_PORT = 1
	MAX_PORT = 65535
)

// IsValidPort checks if a port number is within valid range
func IsValidPort(port int) bool {
	return port >= MIN_PORT && port <= MAX_PORT
}

// GetDefaultPorts returns a map of all default server ports
func GetDefaultPorts() map[string]int {
	return map[string]int{
		"game":    GAME_SERVER_PORT,
		"metrics": METRICS_SERVER_PORT,
	}
}
