package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Discord.ShardCount == 0 {
		cfg.Discord.ShardCount = 1
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token must be set"))
	}
	if cfg.Discord.ShardCount < 1 {
		errs = append(errs, fmt.Errorf("discord.shard_count must be at least 1, got %d", cfg.Discord.ShardCount))
	}

	seen := make(map[string]bool, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		if n.Name == "" {
			errs = append(errs, fmt.Errorf("nodes[%d].name must be set", i))
		} else if seen[n.Name] {
			errs = append(errs, fmt.Errorf("nodes[%d].name %q is duplicated", i, n.Name))
		}
		seen[n.Name] = true

		if n.Host == "" {
			errs = append(errs, fmt.Errorf("nodes[%d].host must be set", i))
		}
		if n.Port <= 0 || n.Port > 65535 {
			errs = append(errs, fmt.Errorf("nodes[%d].port %d is out of range", i, n.Port))
		}
		if n.Password == "" {
			errs = append(errs, fmt.Errorf("nodes[%d].password must be set", i))
		}
	}

	return errors.Join(errs...)
}
