package config

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gear6io/replicant/pkg/errors"
	"github.com/rs/zerolog"
)

const backupTimeFormat = "2006-01-02-15-04-05.000"

// RotatingFile is a log file that is renamed aside once it grows past
// MaxSize megabytes. Backups beyond MaxBackups or older than MaxAge days
// are removed after each rotation.
type RotatingFile struct {
	cfg      LogConfig
	maxBytes int64

	mu   sync.Mutex
	file *os.File
	size int64
	now  func() time.Time
}

// OpenRotatingFile opens cfg.FilePath for appending, truncating it first
// when cfg.Cleanup is set
func OpenRotatingFile(cfg LogConfig) (*RotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, errors.New(ErrLogDirectoryCreationFailed, "failed to create log directory", err).
			AddContext("path", cfg.FilePath)
	}

	rf := &RotatingFile{cfg: cfg, maxBytes: int64(cfg.MaxSize) << 20, now: time.Now}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if cfg.Cleanup {
		flags |= os.O_TRUNC
	}
	if err := rf.open(flags); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) open(flags int) error {
	file, err := os.OpenFile(rf.cfg.FilePath, flags, 0644)
	if err != nil {
		return errors.New(ErrLogFileOpenFailed, "failed to open log file", err).AddContext("path", rf.cfg.FilePath)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return errors.New(ErrLogFileOpenFailed, "failed to stat log file", err).AddContext("path", rf.cfg.FilePath)
	}
	rf.file, rf.size = file, info.Size()
	return nil
}

// Write appends p, rotating first if p would push the file past its limit
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.maxBytes > 0 && rf.size > 0 && rf.size+int64(len(p)) > rf.maxBytes {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// Close closes the current file
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.file.Close()
}

func (rf *RotatingFile) rotate() error {
	rf.file.Close()

	backup := rf.cfg.FilePath + "." + rf.now().Format(backupTimeFormat)
	if err := os.Rename(rf.cfg.FilePath, backup); err != nil {
		return errors.New(ErrLogRotationFailed, "failed to rotate log file", err).AddContext("backup", backup)
	}
	if err := rf.open(os.O_CREATE | os.O_WRONLY | os.O_APPEND); err != nil {
		return err
	}

	if err := rf.prune(); err != nil {
		// The fresh file is usable; report the prune failure inside it
		rf.file.WriteString(`{"level":"warn","component":"logging","message":"` + err.Error() + `"}` + "\n")
	}
	return nil
}

// prune removes backups over MaxBackups (oldest first) and older than MaxAge
func (rf *RotatingFile) prune() error {
	if rf.cfg.MaxBackups <= 0 && rf.cfg.MaxAge <= 0 {
		return nil
	}

	dir, base := filepath.Dir(rf.cfg.FilePath), filepath.Base(rf.cfg.FilePath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.New(ErrLogBackupReadFailed, "failed to read log directory", err)
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	var backups []backup
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), base+".") {
			continue
		}
		if info, err := entry.Info(); err == nil {
			backups = append(backups, backup{filepath.Join(dir, entry.Name()), info.ModTime()})
		}
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].modTime.Before(backups[j].modTime) })

	cutoff := rf.now().AddDate(0, 0, -rf.cfg.MaxAge)
	for i, b := range backups {
		excess := rf.cfg.MaxBackups > 0 && i < len(backups)-rf.cfg.MaxBackups
		expired := rf.cfg.MaxAge > 0 && b.modTime.Before(cutoff)
		if !excess && !expired {
			continue
		}
		if err := os.Remove(b.path); err != nil {
			return errors.New(ErrLogBackupRemoveFailed, "failed to remove old backup", err).AddContext("backup_path", b.path)
		}
	}
	return nil
}

// SetupLogger creates a configured zerolog logger based on the configuration.
// component names the process in every entry, e.g. "replicant-server".
// Console output is human readable unless Format is "json"; file entries
// are always JSON.
func SetupLogger(cfg *Config, component string) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if cfg.Log.Console {
		if cfg.Log.Format == "json" {
			writers = append(writers, os.Stdout)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		}
	}

	if cfg.Log.FilePath != "" {
		file, err := OpenRotatingFile(cfg.Log)
		if err != nil {
			return zerolog.Logger{}, errors.New(ErrLogFileWriterSetupFailed, "failed to setup file writer", err)
		}
		writers = append(writers, file)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(out).With().
		Timestamp().
		Str("component", component).
		Logger(), nil
}
