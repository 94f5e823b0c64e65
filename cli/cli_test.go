package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gear6io/replicant/pkg/errors"
	"github.com/gear6io/replicant/server/config"
	"github.com/gear6io/replicant/server/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// project writes a config into a temp dir and returns its path
func project(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := execute(t, "init", dir)
	require.NoError(t, err)
	return filepath.Join(dir, DefaultConfigFile)
}

func TestInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "game")

	out, err := execute(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, DefaultConfigFile)

	cfg, err := config.LoadConfig(filepath.Join(dir, DefaultConfigFile))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "replicant.db"), cfg.Store.Path)
	assert.DirExists(t, filepath.Join(dir, "logs"))
	assert.Equal(t, config.GAME_SERVER_PORT, cfg.Network.Port)

	t.Run("refuses to overwrite", func(t *testing.T) {
		_, err := execute(t, "init", dir)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, ErrAlreadyInitialised))
	})

	t.Run("force overwrites", func(t *testing.T) {
		_, err := execute(t, "init", "--force", dir)
		assert.NoError(t, err)
	})
}

func TestBanCommands(t *testing.T) {
	cfgPath := project(t)

	out, err := execute(t, "--config", cfgPath, "ban", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No active bans")

	out, err = execute(t, "--config", cfgPath, "ban", "add", "10.0.0.9", "--reason", "griefing")
	require.NoError(t, err)
	assert.Contains(t, out, "Banned 10.0.0.9")

	out, err = execute(t, "--config", cfgPath, "ban", "add", "10.0.0.10", "--for", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "until")

	out, err = execute(t, "--config", cfgPath, "ban", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "10.0.0.9")
	assert.Contains(t, out, "griefing")
	assert.Contains(t, out, "10.0.0.10")

	out, err = execute(t, "--config", cfgPath, "ban", "rm", "10.0.0.9")
	require.NoError(t, err)
	assert.Contains(t, out, "Unbanned 10.0.0.9")

	out, err = execute(t, "--config", cfgPath, "ban", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "10.0.0.9")
	assert.Contains(t, out, "10.0.0.10")

	t.Run("host is required", func(t *testing.T) {
		_, err := execute(t, "--config", cfgPath, "ban", "add")
		assert.Error(t, err)
	})
}

func TestSessionsCommand(t *testing.T) {
	cfgPath := project(t)

	out, err := execute(t, "--config", cfgPath, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded")
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yml"), "ban", "list")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, config.ErrConfigFileReadFailed))
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantCmd  bool
		wantDone bool
		wantErr  bool
	}{
		{name: "blank", line: "   "},
		{name: "quit", line: "quit", wantDone: true},
		{name: "exit", line: "exit", wantDone: true},
		{name: "move", line: "move 1 -2.5", wantCmd: true},
		{name: "move missing y", line: "move 1", wantErr: true},
		{name: "move not a number", line: "move a 1", wantErr: true},
		{name: "name", line: "name  ada lovelace ", wantCmd: true},
		{name: "empty name", line: "name", wantErr: true},
		{name: "where", line: "where", wantCmd: true},
		{name: "unknown", line: "dance", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, done, err := parseCommand(tt.line, os.Stdout)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDone, done)
			assert.Equal(t, tt.wantCmd, cmd != nil)
		})
	}
}

func TestMoveCommandRunsOnController(t *testing.T) {
	cmd, _, err := parseCommand("move 3 4", os.Stdout)
	require.NoError(t, err)

	// Unregistered controllers refuse RPC calls
	controller := game.NewPlayerController()
	assert.Error(t, cmd(controller))

	out := new(bytes.Buffer)
	where, _, err := parseCommand("where", out)
	require.NoError(t, err)
	require.NoError(t, where(controller))
	assert.Equal(t, "no pawn yet\n", out.String())
}
