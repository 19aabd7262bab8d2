package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Gateways.CallTimeout)
	assert.False(t, cfg.Routing.CircuitBreaker.Enabled)
	assert.Equal(t, 5, cfg.Routing.CircuitBreaker.FailureThreshold)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
cache:
  backend: none
gateways:
  call_timeout: 4s
  seed:
    - id: 1
      type: gateway1
      name: Gateway 1
      active: true
      priority: 1
      credentials:
        email: dev@betalent.tech
        token: secret
routing:
  circuit_breaker:
    enabled: true
    failure_threshold: 3
    open_timeout: 10s
refund:
  rules:
    - id: window
      expression: "age_hours > 720"
      reason: refund window expired
`)
	t.Setenv("MGW_LOG_LEVEL", "debug")
	t.Setenv("MGW_SERVER_ADDR", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr, "environment wins over the file")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "none", cfg.Cache.Backend)
	assert.Equal(t, 4*time.Second, cfg.Gateways.CallTimeout)

	require.Len(t, cfg.Gateways.Seed, 1)
	seed := cfg.Gateways.Seed[0].GatewayConfig()
	assert.Equal(t, int64(1), seed.ID)
	assert.Equal(t, "secret", seed.Credentials.Get("token"))

	cb := cfg.Routing.CircuitBreaker
	assert.True(t, cb.Enabled)
	assert.Equal(t, 3, cb.FailureThreshold)
	assert.Equal(t, 10*time.Second, cb.OpenTimeout)
	assert.Equal(t, 2, cb.HalfOpenSuccessThreshold)

	require.Len(t, cfg.Refund.Rules, 1)
	assert.Equal(t, "age_hours > 720", cfg.Refund.Rules[0].Expression)
}

func TestLoad_ClampsCallTimeout(t *testing.T) {
	cfg, err := Load(writeConfig(t, "gateways:\n  call_timeout: 30s\n"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Gateways.CallTimeout)

	cfg, err = Load(writeConfig(t, "gateways:\n  call_timeout: 100ms\n"))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Gateways.CallTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "database:\n  driver: postgres\n"))
	assert.ErrorContains(t, err, "database.dsn is required")

	_, err = Load(writeConfig(t, "cache:\n  backend: memcached\n"))
	assert.ErrorContains(t, err, "unknown cache.backend")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_KafkaBrokersFromEnv(t *testing.T) {
	t.Setenv("MGW_EVENTS_KAFKA_ENABLED", "true")
	t.Setenv("MGW_EVENTS_KAFKA_BROKERS", "k1:9092,k2:9092")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Events.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Kafka.Brokers)
}
