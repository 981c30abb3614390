// Package config loads the engine and daemon configuration from TOML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/xec/internal/engine"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Daemon    DaemonConfig `toml:"daemon"`
	Pool      PoolConfig   `toml:"pool"`
	Retry     RetryConfig  `toml:"retry"`
	Inventory string       `toml:"inventory"`
}

type DaemonConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

// PoolConfig carries SSH pool tuning; durations are strings in
// time.ParseDuration form.
type PoolConfig struct {
	MaxConnections int    `toml:"max_connections"`
	IdleTimeout    string `toml:"idle_timeout"`
	KeepAlive      bool   `toml:"keep_alive"`
}

type RetryConfig struct {
	MaxRetries   int     `toml:"max_retries"`
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

func DefaultConfig() Config {
	return Config{
		Daemon: DaemonConfig{
			Addr: ":9400",
		},
		Pool: PoolConfig{
			MaxConnections: 10,
			IdleTimeout:    "60s",
			KeepAlive:      true,
		},
		Retry: RetryConfig{
			MaxRetries:   0,
			InitialDelay: "250ms",
			Multiplier:   2.0,
			MaxDelay:     "5s",
			Jitter:       true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if cfg.Daemon.Addr == "" {
		cfg.Daemon.Addr = DefaultConfig().Daemon.Addr
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Daemon.Addr) == "" {
		return fmt.Errorf("config missing daemon addr")
	}
	if cfg.Pool.MaxConnections < 0 {
		return fmt.Errorf("config pool max_connections negative")
	}
	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("config retry max_retries negative")
	}
	for field, raw := range map[string]string{
		"pool.idle_timeout":   cfg.Pool.IdleTimeout,
		"retry.initial_delay": cfg.Retry.InitialDelay,
		"retry.max_delay":     cfg.Retry.MaxDelay,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("config %s invalid: %w", field, err)
		}
	}
	return nil
}

// IdleTimeout returns the parsed pool idle timeout, defaulting when unset.
func (p PoolConfig) IdleTimeoutDuration() time.Duration {
	return parseOr(p.IdleTimeout, 60*time.Second)
}

// Policy converts the retry section into the engine policy bound at
// startup. Nil when retries are disabled, so commands run single-attempt
// unless they carry their own policy.
func (r RetryConfig) Policy() *engine.RetryPolicy {
	if r.MaxRetries <= 0 {
		return nil
	}
	return &engine.RetryPolicy{
		MaxRetries:   r.MaxRetries,
		InitialDelay: r.InitialDelayDuration(),
		Multiplier:   r.Multiplier,
		MaxDelay:     r.MaxDelayDuration(),
		Jitter:       r.Jitter,
	}
}

func (r RetryConfig) InitialDelayDuration() time.Duration {
	return parseOr(r.InitialDelay, 250*time.Millisecond)
}

func (r RetryConfig) MaxDelayDuration() time.Duration {
	return parseOr(r.MaxDelay, 5*time.Second)
}

func parseOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
