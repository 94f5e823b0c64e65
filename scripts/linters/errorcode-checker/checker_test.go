package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const declarations = `package game

import "github.com/gear6io/replicant/pkg/errors"

var (
	ErrBanned     = errors.MustNewCode("game.banned")
	ErrServerFull = errors.MustNewCode("game.server_full")
	ErrUnused     = errors.MustNewCode("game.unused")
)
`

const usage = `package game

import (
	"fmt"

	"github.com/gear6io/replicant/pkg/errors"
)

func admit(full bool) error {
	if full {
		return errors.New(ErrServerFull, "full", nil)
	}
	return fmt.Errorf("plain")
}
`

func TestChecker(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "game/errors.go", declarations)
	writeFile(t, dir, "game/rules.go", usage)
	writeFile(t, dir, "rules/errors.go", `package rules

import "github.com/gear6io/replicant/pkg/errors"

var ErrBanned = errors.MustNewCode("game.banned")
`)
	writeFile(t, dir, "_examples/skip.go", `package skip

import "github.com/gear6io/replicant/pkg/errors"

var ErrSkip = errors.MustNewCode("skip.code")
`)

	checker := NewChecker(false)
	require.NoError(t, checker.CheckDirectory(dir, []string{"_examples/"}))

	t.Run("collects declarations", func(t *testing.T) {
		codes := checker.Codes()
		require.Len(t, codes, 4)
		values := make([]string, 0, len(codes))
		for _, c := range codes {
			values = append(values, c.Value)
		}
		assert.NotContains(t, values, "skip.code")
		assert.Contains(t, values, "game.server_full")
	})

	t.Run("unused codes", func(t *testing.T) {
		unused := checker.Unused()
		names := make([]string, 0, len(unused))
		for _, c := range unused {
			names = append(names, c.Name)
		}
		assert.Contains(t, names, "ErrUnused")
		assert.NotContains(t, names, "ErrServerFull")
	})

	t.Run("duplicates", func(t *testing.T) {
		dups := checker.Duplicates()
		require.Contains(t, dups, "game.banned")
		assert.Len(t, dups["game.banned"], 2)
		assert.Len(t, dups, 1)
	})

	t.Run("forbidden patterns", func(t *testing.T) {
		violations, err := checker.Forbidden([]string{`fmt\.Errorf`})
		require.NoError(t, err)
		require.Len(t, violations, 1)
		assert.Equal(t, 13, violations[0].Line)
		assert.Contains(t, violations[0].File, "rules.go")
	})
}

func TestInvalidCodes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.go", `package bad

import "github.com/gear6io/replicant/pkg/errors"

var (
	ErrUpper = errors.MustNewCode("Bad.Code")
	ErrNoDot = errors.MustNewCode("nodot")
	ErrFine  = errors.MustNewCode("bad.fine")
)
`)

	checker := NewChecker(false)
	require.NoError(t, checker.CheckDirectory(dir, nil))

	invalid := checker.Invalid()
	names := make([]string, 0, len(invalid))
	for info := range invalid {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{"ErrUpper", "ErrNoDot"}, names)
}

func TestParseFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.go", "package broken\nfunc {")

	checker := NewChecker(false)
	err := checker.CheckDirectory(dir, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse Go file")
}

func TestRepositoryIsClean(t *testing.T) {
	root := filepath.Join("..", "..", "..")
	config, err := loadConfig("")
	require.NoError(t, err)

	checker := NewChecker(false)
	require.NoError(t, checker.CheckDirectory(root, config.ExcludePaths))
	require.NotEmpty(t, checker.Codes())

	violations, err := checker.Forbidden(config.ForbiddenPatterns)
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Empty(t, checker.Invalid())
	assert.Empty(t, checker.Duplicates())
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		config, err := loadConfig("")
		require.NoError(t, err)
		assert.True(t, config.CheckForbidden)
		assert.Contains(t, config.ExcludePaths, "_examples/")
	})

	t.Run("from file", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "checker.yml", "exclude_paths: [gen/]\nexit_on_unused: true\n")
		config, err := loadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"gen/"}, config.ExcludePaths)
		assert.True(t, config.ExitOnUnused)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yml"))
		require.Error(t, err)
	})
}
