// Package config loads the YAML configuration of the lightbridge command.
package config

import (
	"bytes"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	lightbridge "github.com/wippyai/lightbridge"
	"github.com/wippyai/lightbridge/alloc"
	"github.com/wippyai/lightbridge/engine"
	"github.com/wippyai/lightbridge/errors"
)

// Memory backends.
const (
	BackendHeap   = "heap"
	BackendWazero = "wazero"
)

// Config is the top-level configuration file.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Memory MemoryConfig `yaml:"memory"`
	Engine EngineConfig `yaml:"engine"`
	Host   HostConfig   `yaml:"host"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string         `yaml:"level"`
	Format      string         `yaml:"format"` // "console" | "json"
	Outputs     []string       `yaml:"outputs"`
	Rotation    RotationConfig `yaml:"rotation"`
	Development bool           `yaml:"development"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Enable     bool   `yaml:"enable"`
	Compress   bool   `yaml:"compress"`
}

// MemoryConfig sizes the linear memory behind the allocator.
type MemoryConfig struct {
	Backend      string `yaml:"backend"`
	InitialPages uint32 `yaml:"initial_pages"`
	MaxPages     uint32 `yaml:"max_pages"`
	LimitBytes   int64  `yaml:"limit_bytes"`
}

// EngineConfig configures the light client.
type EngineConfig struct {
	Genesis        *engine.Header `yaml:"genesis"`
	ChainName      string         `yaml:"chain_name"`
	Peers          []string       `yaml:"peers"`
	RequestTimeout time.Duration  `yaml:"request_timeout"`
	PollInterval   time.Duration  `yaml:"poll_interval"`
	FinalityLag    uint64         `yaml:"finality_lag"`
}

// HostConfig configures the embedding host.
type HostConfig struct {
	// Storage maps 0x-hex keys to 0x-hex values served to storage lookups.
	Storage      map[string]string `yaml:"storage"`
	DialTimeout  time.Duration     `yaml:"dial_timeout"`
	MaxLineBytes int               `yaml:"max_line_bytes"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	eng := engine.DefaultConfig()
	return Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
		},
		Memory: MemoryConfig{
			Backend:      BackendHeap,
			InitialPages: 16,
			MaxPages:     16384,
		},
		Engine: EngineConfig{
			ChainName:      eng.ChainName,
			RequestTimeout: eng.RequestTimeout,
			PollInterval:   eng.PollInterval,
			FinalityLag:    eng.FinalityLag,
		},
		Host: HostConfig{
			DialTimeout:  5 * time.Second,
			MaxLineBytes: 1 << 20,
		},
	}
}

// Load reads and validates a configuration file. Values missing from the
// file keep their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "reading config file")
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parsing config YAML")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c Config) Validate() error {
	invalid := func(path, detail string) error {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(strings.Split(path, ".")...).
			Detail("%s", detail).
			Build()
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level", "unknown level "+c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return invalid("log.format", "must be console or json")
	}

	switch c.Memory.Backend {
	case BackendHeap, BackendWazero:
	default:
		return invalid("memory.backend", "must be heap or wazero")
	}
	if c.Memory.MaxPages != 0 && c.Memory.InitialPages > c.Memory.MaxPages {
		return invalid("memory.initial_pages", "exceeds max_pages")
	}
	if c.Memory.MaxPages > lightbridge.MaxPages {
		return invalid("memory.max_pages", "exceeds 65535 pages")
	}

	if c.Engine.RequestTimeout <= 0 {
		return invalid("engine.request_timeout", "must be positive")
	}
	if c.Engine.PollInterval <= 0 {
		return invalid("engine.poll_interval", "must be positive")
	}
	for _, p := range c.Engine.Peers {
		if !strings.Contains(p, ":") {
			return invalid("engine.peers", "peer "+p+" is not host:port")
		}
	}

	if c.Host.DialTimeout <= 0 {
		return invalid("host.dial_timeout", "must be positive")
	}
	if _, err := c.Host.StorageBytes(); err != nil {
		return err
	}
	return nil
}

// Alloc returns the allocator configuration.
func (m MemoryConfig) Alloc() alloc.Config {
	return alloc.Config{
		InitialPages: m.InitialPages,
		MaxPages:     m.MaxPages,
		LimitBytes:   m.LimitBytes,
	}
}

// Client returns the light client configuration.
func (e EngineConfig) Client() engine.Config {
	return engine.Config{
		Genesis:        e.Genesis,
		ChainName:      e.ChainName,
		Peers:          e.Peers,
		RequestTimeout: e.RequestTimeout,
		PollInterval:   e.PollInterval,
		FinalityLag:    e.FinalityLag,
	}
}

// StorageBytes decodes the storage map keyed by raw key bytes.
func (h HostConfig) StorageBytes() (map[string][]byte, error) {
	out := make(map[string][]byte, len(h.Storage))
	for k, v := range h.Storage {
		key, err := decodeHex(k)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "host.storage key "+k)
		}
		val, err := decodeHex(v)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "host.storage value for "+k)
		}
		out[string(key)] = val
	}
	return out, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
