package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	configPathEnv = "RELAY_CONFIG"
	envPrefix     = "RELAY_"

	modeDevelopment = "development"
	modeProduction  = "production"
)

var defaultConfigPaths = []string{"relay.yaml", "relay.yml", "/etc/maprelay/relay.yaml"}

type Config struct {
	Mode    string `koanf:"mode"`
	Addr    string `koanf:"addr"`
	TLSCert string `koanf:"tls_cert"`
	TLSKey  string `koanf:"tls_key"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	MaxMessageSize    int64         `koanf:"max_message_size"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	Retention         time.Duration `koanf:"retention"`

	// CatchUpPolicy is "every" (replay on each announce) or "once"
	// (replay on the first announce of a route per connection).
	CatchUpPolicy string `koanf:"catch_up_policy"`
	// MissingDateDelivers replays cached events that carry no parseable date.
	MissingDateDelivers bool `koanf:"missing_date_delivers"`

	RateLimitPerIP  float64 `koanf:"rate_limit_per_ip"`
	FramesPerSecond float64 `koanf:"frames_per_second"`
	AllowedIPs      string  `koanf:"allowed_ips"`

	PostgresDSN   string `koanf:"postgres_dsn"`
	NotifyChannel string `koanf:"notify_channel"`
	NATSURL       string `koanf:"nats_url"`
	NATSSubject   string `koanf:"nats_subject"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Mode:              modeProduction,
		Addr:              ":8443",
		LogLevel:          "info",
		LogFormat:         "json",
		MaxMessageSize:    1 << 20,
		HeartbeatInterval: 30 * time.Second,
		Retention:         time.Hour,
		CatchUpPolicy:     catchUpEvery,
		RateLimitPerIP:    20,
		FramesPerSecond:   50,
		NotifyChannel:     "map_red_update",
		NATSSubject:       "map.red.update",
		ShutdownTimeout:   10 * time.Second,
	}
}

// LoadConfig layers defaults, an optional YAML file and RELAY_* environment
// variables, in that order.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps RELAY_HEARTBEAT_INTERVAL to heartbeat_interval.
func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, envPrefix))
}

func findConfigFile() string {
	if p := os.Getenv(configPathEnv); p != "" {
		return p
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (c *Config) Validate() error {
	var errs []error
	if c.Mode != modeDevelopment && c.Mode != modeProduction {
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", modeDevelopment, modeProduction, c.Mode))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("tls_cert and tls_key must be set together"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat_interval must be positive"))
	}
	if c.Retention <= 0 {
		errs = append(errs, errors.New("retention must be positive"))
	}
	if c.CatchUpPolicy != catchUpEvery && c.CatchUpPolicy != catchUpOnce {
		errs = append(errs, fmt.Errorf("catch_up_policy must be %q or %q", catchUpEvery, catchUpOnce))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max_message_size must be positive"))
	}
	if c.RateLimitPerIP <= 0 || c.FramesPerSecond <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.PostgresDSN != "" && c.NotifyChannel == "" {
		errs = append(errs, errors.New("notify_channel is required with postgres_dsn"))
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		errs = append(errs, errors.New("nats_subject is required with nats_url"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsDev() bool {
	return c.Mode == modeDevelopment
}

// allowedIPList splits the comma-separated allowlist, dropping blanks.
func (c *Config) allowedIPList() []string {
	var out []string
	for _, p := range strings.Split(c.AllowedIPs, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
