// Package config loads and validates the server's runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	Environment string            `yaml:"environment" json:"environment"`
	Server      *ServerConfig      `yaml:"server" json:"server"`
	Federation  *FederationConfig  `yaml:"federation" json:"federation"`
	SASL        *SASLConfig        `yaml:"sasl" json:"sasl"`
	Archive     *ArchiveConfig     `yaml:"archive" json:"archive"`
	Logging     *LoggingConfig     `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig      `yaml:"health" json:"health"`
}

// ServerConfig controls the client-facing IRC listener.
type ServerConfig struct {
	Name        string        `yaml:"name" json:"name"`
	ListenAddr  string        `yaml:"listen_addr" json:"listen_addr"`
	MaxClients  int           `yaml:"max_clients" json:"max_clients"`
	PingTimeout time.Duration `yaml:"ping_timeout" json:"ping_timeout"`
}

// FederationConfig controls the S2S peer mesh.
type FederationConfig struct {
	ServerID          string        `yaml:"server_id" json:"server_id"`
	ListenAddr        string        `yaml:"listen_addr" json:"listen_addr"`
	Peers             []PeerConfig  `yaml:"peers" json:"peers"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	HeartbeatGrace    time.Duration `yaml:"heartbeat_grace" json:"heartbeat_grace"`
	ReconnectMinDelay time.Duration `yaml:"reconnect_min_delay" json:"reconnect_min_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay" json:"reconnect_max_delay"`
}

// PeerConfig names an allowlisted federation neighbor to dial.
// PublicKey is the peer's hex-encoded Ed25519 identity key, verified
// against the signature on its Hello handshake frame.
type PeerConfig struct {
	PeerID    string `yaml:"peer_id" json:"peer_id"`
	Addr      string `yaml:"addr" json:"addr"`
	PublicKey string `yaml:"public_key" json:"public_key"`
}

// SASLConfig controls the ATPROTO-CHALLENGE SASL engine.
type SASLConfig struct {
	ChallengeTTL    time.Duration `yaml:"challenge_ttl" json:"challenge_ttl"`
	ResolverTimeout time.Duration `yaml:"resolver_timeout" json:"resolver_timeout"`
	RequireDID      bool          `yaml:"require_did" json:"require_did"`
	PLCDirectoryURL string        `yaml:"plc_directory_url" json:"plc_directory_url"`
}

// ArchiveConfig selects the CHATHISTORY backing store.
type ArchiveConfig struct {
	Driver           string `yaml:"driver" json:"driver"` // "memory" or "postgres"
	DSN              string `yaml:"dsn" json:"dsn"`
	RingBufferLength int    `yaml:"ring_buffer_length" json:"ring_buffer_length"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, then fall back to JSON.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	SubstituteEnvVarsInConfig(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing the format by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults fills unset fields with operational defaults.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = "icd"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":6667"
	}
	if cfg.Server.MaxClients == 0 {
		cfg.Server.MaxClients = 5000
	}
	if cfg.Server.PingTimeout == 0 {
		cfg.Server.PingTimeout = 4 * time.Minute
	}

	if cfg.Federation == nil {
		cfg.Federation = &FederationConfig{}
	}
	if cfg.Federation.HeartbeatInterval == 0 {
		cfg.Federation.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Federation.HeartbeatGrace == 0 {
		cfg.Federation.HeartbeatGrace = 3 * cfg.Federation.HeartbeatInterval
	}
	if cfg.Federation.ReconnectMinDelay == 0 {
		cfg.Federation.ReconnectMinDelay = 1 * time.Second
	}
	if cfg.Federation.ReconnectMaxDelay == 0 {
		cfg.Federation.ReconnectMaxDelay = 60 * time.Second
	}

	if cfg.SASL == nil {
		cfg.SASL = &SASLConfig{}
	}
	if cfg.SASL.ChallengeTTL == 0 {
		cfg.SASL.ChallengeTTL = 60 * time.Second
	}
	if cfg.SASL.ResolverTimeout == 0 {
		cfg.SASL.ResolverTimeout = 5 * time.Second
	}
	if cfg.SASL.PLCDirectoryURL == "" {
		cfg.SASL.PLCDirectoryURL = "https://plc.directory"
	}

	if cfg.Archive == nil {
		cfg.Archive = &ArchiveConfig{}
	}
	if cfg.Archive.Driver == "" {
		cfg.Archive.Driver = "memory"
	}
	if cfg.Archive.RingBufferLength == 0 {
		cfg.Archive.RingBufferLength = 500
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Health == nil {
		cfg.Health = &HealthConfig{}
	}
	if cfg.Health.Addr == "" {
		cfg.Health.Addr = ":9091"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
}
