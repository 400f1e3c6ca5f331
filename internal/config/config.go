package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/benaskins/credence/internal/service"
)

// Store drivers.
const (
	DriverFile     = "file"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverKeychain = "keychain"
)

const (
	defaultAPIAddr        = "127.0.0.1:9191"
	defaultWriteRateLimit = 5
	defaultWriteBurst     = 10
)

// Config holds credence configuration loaded from ~/.credence/config.yaml.
type Config struct {
	APIAddr string      `yaml:"api_addr"`
	Store   StoreConfig `yaml:"store"`

	// StrictCallerMatch turns off prefix-based matching of caller hints.
	StrictCallerMatch bool `yaml:"strict_caller_match"`
	// PersistCallerKeys defaults to true when unset.
	PersistCallerKeys *bool `yaml:"persist_caller_keys"`
	DisableFallback   bool  `yaml:"disable_fallback"`

	// WriteRateLimit is requests per second for API write routes.
	WriteRateLimit float64 `yaml:"write_rate_limit"`
	WriteBurst     int     `yaml:"write_burst"`

	// Services override built-in definitions by id and may add new ones.
	Services []service.Service `yaml:"services"`
}

// StoreConfig selects the key store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Dir returns the credence home directory (~/.credence).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".credence"
	}
	return filepath.Join(home, ".credence")
}

// DefaultPath returns the default config file path: ~/.credence/config.yaml.
// CREDENCE_CONFIG overrides it.
func DefaultPath() string {
	if p := os.Getenv("CREDENCE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns the defaults and no error. An empty or all-comment file
// also yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CREDENCE_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("CREDENCE_STORE_DRIVER"); ok && v != "" {
		c.Store.Driver = v
	}
	if v, ok := lookup("CREDENCE_STORE_PATH"); ok && v != "" {
		c.Store.Path = v
	}
	if v, ok := lookup("CREDENCE_API_ADDR"); ok && v != "" {
		c.APIAddr = v
	}
	if v, ok := lookup("CREDENCE_STRICT_CALLER_MATCH"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CREDENCE_STRICT_CALLER_MATCH has invalid value %q: %w", v, err)
		}
		c.StrictCallerMatch = b
	}
	c.applyDefaults()
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if c.APIAddr == "" {
		c.APIAddr = defaultAPIAddr
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverFile
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case DriverSQLite:
			c.Store.Path = filepath.Join(Dir(), "keys.db")
		default:
			c.Store.Path = filepath.Join(Dir(), "keys.json")
		}
	}
	if c.WriteRateLimit <= 0 {
		c.WriteRateLimit = defaultWriteRateLimit
	}
	if c.WriteBurst <= 0 {
		c.WriteBurst = defaultWriteBurst
	}
}

// Validate checks option values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverFile, DriverMemory, DriverSQLite, DriverKeychain:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	_, err := service.NewRegistry(c.Catalog())
	return err
}

// ShouldPersistCallerKeys reports whether keys found in caller hints are
// remembered.
func (c *Config) ShouldPersistCallerKeys() bool {
	return c.PersistCallerKeys == nil || *c.PersistCallerKeys
}

// Catalog returns the built-in services with configured definitions
// merged in by id. A configured entry for a built-in id only replaces the
// fields it sets.
func (c *Config) Catalog() []service.Service {
	services := service.Defaults()
	index := make(map[service.ID]int, len(services))
	for i, s := range services {
		index[s.ID] = i
	}
	for _, s := range c.Services {
		if i, ok := index[s.ID]; ok {
			services[i] = overlay(services[i], s)
			continue
		}
		index[s.ID] = len(services)
		services = append(services, s)
	}
	return services
}

func overlay(base, o service.Service) service.Service {
	if o.Name != "" {
		base.Name = o.Name
	}
	if o.Category != "" {
		base.Category = o.Category
	}
	if o.KeyFormat != "" {
		base.KeyFormat = o.KeyFormat
	}
	if o.Website != "" {
		base.Website = o.Website
	}
	if o.Prefix != "" {
		base.Prefix = o.Prefix
	}
	if o.MinLength != 0 {
		base.MinLength = o.MinLength
	}
	if o.EnvVar != "" {
		base.EnvVar = o.EnvVar
	}
	if o.Fallback != "" {
		base.Fallback = o.Fallback
	}
	return base
}
