package paths

import (
	"os"
	"path/filepath"

	"github.com/gear6io/replicant/pkg/errors"
)

const (
	// ConfigFileName is the config file looked up in the working directory
	ConfigFileName = "replicant.yml"
	StoreFileName  = "replicant.db"
	LogFileName    = "replicant.log"
)

// Manager resolves the on-disk layout of a replicant installation:
//
//	<base>/replicant.yml
//	<base>/data/replicant.db
//	<base>/logs/replicant.log
type Manager struct {
	basePath string
}

// NewManager creates a new path manager
func NewManager(basePath string) *Manager {
	return &Manager{
		basePath: basePath,
	}
}

// GetBasePath returns the base path
func (pm *Manager) GetBasePath() string {
	return pm.basePath
}

// GetConfigPath returns the config file path
func (pm *Manager) GetConfigPath() string {
	return filepath.Join(pm.basePath, ConfigFileName)
}

// GetDataPath returns the directory holding the store
func (pm *Manager) GetDataPath() string {
	return filepath.Join(pm.basePath, "data")
}

// GetStorePath returns the SQLite store path
func (pm *Manager) GetStorePath() string {
	return filepath.Join(pm.GetDataPath(), StoreFileName)
}

// GetLogsPath returns the log directory
func (pm *Manager) GetLogsPath() string {
	return filepath.Join(pm.basePath, "logs")
}

// GetLogFilePath returns the log file path
func (pm *Manager) GetLogFilePath() string {
	return filepath.Join(pm.GetLogsPath(), LogFileName)
}

// EnsureDirectoryStructure creates all necessary directories
func (pm *Manager) EnsureDirectoryStructure() error {
	dirs := []string{
		pm.basePath,
		pm.GetDataPath(),
		pm.GetLogsPath(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.New(ErrDirectoryCreationFailed, "failed to create directory", err).AddContext("directory", dir)
		}
	}

	return nil
}
