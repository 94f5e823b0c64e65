package main

import (
	"os"

	"github.com/gear6io/replicant/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	ErrConfigRead  = errors.MustNewCode("codecheck.config_read")
	ErrConfigParse = errors.MustNewCode("codecheck.config_parse")
	ErrParseSource = errors.MustNewCode("codecheck.parse_source")
)

// Config represents the ErrorCode checker configuration
type Config struct {
	ExcludePaths      []string `yaml:"exclude_paths"`
	ForbiddenPatterns []string `yaml:"forbidden_patterns"`
	CheckForbidden    bool     `yaml:"check_forbidden"`
	ExitOnUnused      bool     `yaml:"exit_on_unused"`
	ExitOnForbidden   bool     `yaml:"exit_on_forbidden"`
	Verbose           bool     `yaml:"verbose"`
}

// loadConfig loads configuration from file or uses defaults
func loadConfig(configPath string) (*Config, error) {
	config := &Config{
		ExcludePaths:      []string{"_examples/", "pkg/errors/", "testdata/", "scripts/", "data/", "logs/", "vendor/", ".git/"},
		ForbiddenPatterns: []string{`fmt\.Errorf`, `stderrors\.New\(`},
		CheckForbidden:    true,
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, errors.New(ErrConfigRead, "failed to read config file", err).AddContext("file", configPath)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.New(ErrConfigParse, "failed to parse config file", err).AddContext("file", configPath)
		}
	}

	return config, nil
}
