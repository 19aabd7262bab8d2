// Package config loads service configuration from YAML and MGW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/policy"
	"github.com/yourorg/multigateway/internal/router/circuitbreaker"
)

// EnvPrefix prefixes environment overrides, e.g. MGW_DATABASE_DSN.
const EnvPrefix = "MGW"

const (
	minCallTimeout = 3 * time.Second
	maxCallTimeout = 5 * time.Second
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Gateways  GatewaysConfig  `mapstructure:"gateways"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Refund    RefundConfig    `mapstructure:"refund"`
	Events    EventsConfig    `mapstructure:"events"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release or test
	// PurchaseSchema replaces the built-in purchase body schema when set.
	PurchaseSchema string `mapstructure:"purchase_schema"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // memory or postgres
	DSN    string `mapstructure:"dsn"`
}

type CacheConfig struct {
	Backend  string        `mapstructure:"backend"` // none, memory or redis
	TTL      time.Duration `mapstructure:"ttl"`
	RedisURL string        `mapstructure:"redis_url"`
	Key      string        `mapstructure:"key"`
}

// GatewaySeed is a gateway created at startup by the memory driver.
type GatewaySeed struct {
	ID          int64             `mapstructure:"id"`
	Type        string            `mapstructure:"type"`
	Name        string            `mapstructure:"name"`
	Active      bool              `mapstructure:"active"`
	Priority    int               `mapstructure:"priority"`
	Credentials map[string]string `mapstructure:"credentials"`
}

// GatewayConfig converts the seed into a registry configuration.
func (s GatewaySeed) GatewayConfig() context.GatewayConfig {
	return context.GatewayConfig{
		ID:          s.ID,
		Type:        context.GatewayType(s.Type),
		Name:        s.Name,
		IsActive:    s.Active,
		Priority:    s.Priority,
		Credentials: context.Credentials(s.Credentials).Clone(),
	}
}

type GatewaysConfig struct {
	CallTimeout time.Duration     `mapstructure:"call_timeout"`
	BaseURLs    map[string]string `mapstructure:"base_urls"` // per gateway type
	Seed        []GatewaySeed     `mapstructure:"seed"`
}

type CircuitBreakerConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	circuitbreaker.Settings `mapstructure:",squash"`
}

type RoutingConfig struct {
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type RefundConfig struct {
	Rules []policy.RefundRule `mapstructure:"rules"`
}

type KafkaConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	QueueSize int      `mapstructure:"queue_size"`
}

type EventsConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TelemetryConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// DefaultConfig returns a configuration that runs fully in memory.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			Mode:            "release",
		},
		Database: DatabaseConfig{Driver: "memory"},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     time.Hour,
			Key:     "multigateway:active_gateway_ids",
		},
		Gateways: GatewaysConfig{
			CallTimeout: 5 * time.Second,
			BaseURLs: map[string]string{
				string(context.GatewayTypeOne): "http://localhost:3001",
				string(context.GatewayTypeTwo): "http://localhost:3002",
			},
		},
		Routing: RoutingConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Settings: circuitbreaker.Settings{
					FailureThreshold:         5,
					OpenTimeout:              30 * time.Second,
					HalfOpenSuccessThreshold: 2,
				},
			},
		},
		Events: EventsConfig{
			Kafka: KafkaConfig{Topic: "multigateway.audit", QueueSize: 1024},
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (optional) over DefaultConfig and applies MGW_* overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every scalar key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.mode", cfg.Server.Mode)
	v.SetDefault("server.purchase_schema", cfg.Server.PurchaseSchema)
	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.dsn", cfg.Database.DSN)
	v.SetDefault("cache.backend", cfg.Cache.Backend)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.redis_url", cfg.Cache.RedisURL)
	v.SetDefault("cache.key", cfg.Cache.Key)
	v.SetDefault("gateways.call_timeout", cfg.Gateways.CallTimeout)
	v.SetDefault("gateways.base_urls", cfg.Gateways.BaseURLs)
	v.SetDefault("routing.circuit_breaker.enabled", cfg.Routing.CircuitBreaker.Enabled)
	v.SetDefault("routing.circuit_breaker.failure_threshold", cfg.Routing.CircuitBreaker.FailureThreshold)
	v.SetDefault("routing.circuit_breaker.open_timeout", cfg.Routing.CircuitBreaker.OpenTimeout)
	v.SetDefault("routing.circuit_breaker.half_open_successes", cfg.Routing.CircuitBreaker.HalfOpenSuccessThreshold)
	v.SetDefault("events.kafka.enabled", cfg.Events.Kafka.Enabled)
	v.SetDefault("events.kafka.brokers", cfg.Events.Kafka.Brokers)
	v.SetDefault("events.kafka.topic", cfg.Events.Kafka.Topic)
	v.SetDefault("events.kafka.queue_size", cfg.Events.Kafka.QueueSize)
	v.SetDefault("telemetry.tracing.enabled", cfg.Telemetry.Tracing.Enabled)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

func (c *Config) normalize() {
	if c.Gateways.CallTimeout < minCallTimeout {
		c.Gateways.CallTimeout = minCallTimeout
	}
	if c.Gateways.CallTimeout > maxCallTimeout {
		c.Gateways.CallTimeout = maxCallTimeout
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	// Comma-separated broker lists arrive as one element from the environment.
	if len(c.Events.Kafka.Brokers) == 1 && strings.Contains(c.Events.Kafka.Brokers[0], ",") {
		c.Events.Kafka.Brokers = strings.Split(c.Events.Kafka.Brokers[0], ",")
	}
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	switch c.Cache.Backend {
	case "none", "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}
	if c.Events.Kafka.Enabled && len(c.Events.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("events.kafka.brokers is required when kafka is enabled"))
	}
	for _, s := range c.Gateways.Seed {
		if s.Type == "" || s.Name == "" {
			errs = append(errs, fmt.Errorf("gateway seed %d needs a type and a name", s.ID))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
