// Package config loads and validates the optional .procman YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deixis/procman/internal/platform"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up by Load.
const FileName = ".procman"

// Default values.
const (
	DefaultMaxOutput = 1 << 20 // 1 MB
	DefaultCacheSize = 32
	DefaultDriver    = "disk"
)

// Config holds the parsed .procman configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version      int           `yaml:"version"`
	Platform     string        `yaml:"platform"`      // auto, windows or posix
	RawMaxOutput int           `yaml:"max_output"`    // bytes per execution
	HistoryLimit int           `yaml:"history_limit"` // 0 keeps every completed execution
	Mappings     []MappingRule `yaml:"mappings"`
	Store        StoreConfig   `yaml:"store"`
	Batch        BatchConfig   `yaml:"batch"`
}

// MappingRule adds a command translation consulted before the built-in table.
type MappingRule struct {
	Match string `yaml:"match"` // exact or command
	From  string `yaml:"from"`
	To    string `yaml:"to"`
}

// StoreConfig selects where completed executions are persisted.
type StoreConfig struct {
	Driver    string `yaml:"driver"`     // disk, sqlite or postgres
	Path      string `yaml:"path"`       // directory (disk) or database file (sqlite)
	DSN       string `yaml:"dsn"`        // postgres connection string
	CacheSize int    `yaml:"cache_size"` // in-memory LRU entries
}

// BatchConfig lists the command lines run by `procman batch`.
type BatchConfig struct {
	Steps     []string `yaml:"steps"`
	KeepGoing bool     `yaml:"keep_going"` // continue after a failing step
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// PlatformKind returns the configured platform, defaulting to auto.
func (c *Config) PlatformKind() (platform.Kind, error) {
	return platform.ParseKind(c.Platform)
}

// Rules converts the configured mappings into platform rules.
func (c *Config) Rules() ([]platform.Rule, error) {
	rules := make([]platform.Rule, 0, len(c.Mappings))
	for i, m := range c.Mappings {
		match := platform.Match(m.Match)
		if match == "" {
			match = platform.Command
		}
		if match != platform.Exact && match != platform.Command {
			return nil, fmt.Errorf("mappings[%d]: unknown match %q (want exact or command)", i, m.Match)
		}
		// Command lines are compared after whitespace splitting.
		from := strings.Join(strings.Fields(m.From), " ")
		if from == "" || m.To == "" {
			return nil, fmt.Errorf("mappings[%d]: from and to are required", i)
		}
		if match == platform.Command && strings.Contains(from, " ") {
			return nil, fmt.Errorf("mappings[%d]: command rule %q must be a single word", i, m.From)
		}
		rules = append(rules, platform.Rule{Match: match, From: from, To: m.To})
	}
	return rules, nil
}

// Mapper builds the command mapper described by the configuration.
func (c *Config) Mapper() (*platform.Mapper, error) {
	kind, err := c.PlatformKind()
	if err != nil {
		return nil, err
	}
	rules, err := c.Rules()
	if err != nil {
		return nil, err
	}
	return platform.NewMapper(kind, rules...), nil
}

// StoreDriver returns the configured store driver or the default.
func (c *Config) StoreDriver() string {
	if c.Store.Driver != "" {
		return c.Store.Driver
	}
	return DefaultDriver
}

// CacheSize returns the configured LRU size or the default.
func (c *Config) CacheSize() int {
	if c.Store.CacheSize > 0 {
		return c.Store.CacheSize
	}
	return DefaultCacheSize
}

// LoadResult holds the parsed config and the directory it was found in.
type LoadResult struct {
	Config *Config
	Root   string // directory containing .procman; falls back to workspace
	Path   string // empty when no file was found
}

// Load reads the .procman file from workspace or the nearest parent that
// has one. If none exists, a default Config is returned. Relative store
// paths are resolved against the directory of the file.
func Load(workspace string) (*LoadResult, error) {
	root, err := findConfigRoot(workspace)
	if err != nil {
		return &LoadResult{Config: &Config{}, Root: workspace}, nil
	}

	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if _, err := cfg.PlatformKind(); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if _, err := cfg.Rules(); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(root, cfg.Store.Path)
	}
	return &LoadResult{Config: cfg, Root: root, Path: path}, nil
}

// findConfigRoot walks upward from dir looking for a directory containing
// the configuration file.
func findConfigRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
