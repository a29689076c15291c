// Package config loads the server and client's runtime configuration from
// environment variables, with defaults and validation.
//
// Grounded in haukened-rr-dns/internal/dns/infra/config/config.go: the same
// koanf structs-provider-for-defaults, env-provider-for-overrides,
// validator-for-constraints pipeline, generalized from that package's
// four fields to this module's resolver/cache/zone/server fields.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from every environment variable this package reads,
// e.g. RDNS_PORT, RDNS_CACHE_SIZE.
const EnvPrefix = "RDNS_"

// AppConfig holds every configuration value the server and client share.
// Some fields have a matching CLI flag (port, cache enable, override TTL,
// zone directory, cache path); where cmd/ wires one, the flag, when set,
// overrides the environment-derived value. The others are set only through
// the environment.
type AppConfig struct {
	// Port is the UDP port the server binds to.
	Port int `koanf:"port" validate:"required,gte=1,lt=65536"`

	// Env is the runtime environment, either "dev" or "prod"; it selects
	// the zap encoder (console vs. JSON).
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity.
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// CacheEnabled toggles the Resolver's TTL cache.
	CacheEnabled bool `koanf:"cache_enabled"`

	// CacheSize is the LRU cache's maximum entry count.
	CacheSize uint `koanf:"cache_size" validate:"required,gte=1"`

	// CacheOverrideTTL, when non-zero, replaces every cached record's TTL
	// at insert time (spec §4.1's override-TTL cache policy knob).
	CacheOverrideTTL time.Duration `koanf:"cache_override_ttl"`

	// CachePath is where the cache is persisted on shutdown and loaded
	// from on startup. Empty disables persistence.
	CachePath string `koanf:"cache_path"`

	// ZoneDir is the directory of "*.zone" master files the server loads
	// into its Catalog at startup.
	ZoneDir string `koanf:"zone_dir"`

	// UpstreamTimeout is the Resolver's per-try timeout for outbound
	// queries to remote nameservers.
	UpstreamTimeout time.Duration `koanf:"upstream_timeout" validate:"required,gt=0"`
}

// defaults mirror the original's hardcoded constants (port 53, no caching,
// ttl 0) generalized with the additions spec.md's resolver and zone loader
// need.
func defaults() AppConfig {
	return AppConfig{
		Port:            53,
		Env:             "prod",
		LogLevel:        "info",
		CacheEnabled:    false,
		CacheSize:       10_000,
		UpstreamTimeout: time.Second,
	}
}

var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}), nil)
}

// Load parses environment variables into an AppConfig, applying defaults
// first and validating the result.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load config env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
