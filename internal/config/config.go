// Package config loads the daemon configuration: defaults, overlaid by an
// optional YAML file, overlaid by command-line flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type RPCConfig struct {
	Addr               string `yaml:"addr"`
	MaxRequestBodySize int64  `yaml:"max_request_body_size"`
}

type NIP46Config struct {
	// SessionTTLSecs bounds session lifetime; 0 means sessions never expire.
	SessionTTLSecs uint64 `yaml:"session_ttl_secs"`
	// Perms is the operator allow-list. Empty means deny-all.
	Perms []string `yaml:"perms"`
	// TimeoutSecs bounds every correlated wait for a remote reply.
	TimeoutSecs uint64 `yaml:"timeout_secs"`
}

func (c NIP46Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSecs) * time.Second
}

func (c NIP46Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

type RedisConfig struct {
	// Addr enables the redis-backed used-secrets registry when non-empty.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

type Config struct {
	RPC          RPCConfig   `yaml:"rpc"`
	Relays       []string    `yaml:"relays"`
	IdentityFile string      `yaml:"identity_file"`
	NIP46        NIP46Config `yaml:"nip46"`
	Redis        RedisConfig `yaml:"redis"`
	LogLevel     string      `yaml:"log_level"`
}

func Default() Config {
	return Config{
		RPC: RPCConfig{
			Addr:               "127.0.0.1:7070",
			MaxRequestBodySize: 10 * 1024 * 1024,
		},
		IdentityFile: "bunkerd.key",
		NIP46: NIP46Config{
			SessionTTLSecs: 900,
			TimeoutSecs:    10,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
