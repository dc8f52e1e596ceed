package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8088\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Persistence.Backend)
	assert.Equal(t, 1024, cfg.Engine.QueueSize)
	assert.Equal(t, []string{"home", "on"}, cfg.Presence.HomeStates)
	assert.False(t, cfg.Scenes.SingleFlight)
}

func TestLoadFile_ShippedConfig(t *testing.T) {
	cfg, err := LoadFile(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, "pma", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 5, cfg.MQTT.BreakerFailures)
	assert.Equal(t, "/metrics", cfg.Monitoring.Path)
	assert.Equal(t, []string{"person.owner"}, cfg.Presence.Entities)
}

func TestLoadFile_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0644))

	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:      ServerConfig{Port: 3001, Host: "0.0.0.0", ShutdownTimeout: "10s"},
			Database:    DatabaseConfig{Path: "./data/test.db"},
			Persistence: PersistenceConfig{Backend: "sqlite"},
			Engine:      EngineConfig{QueueSize: 10, MaxConcurrentRuns: 2, DispatchTimeout: "5s"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown backend", func(c *Config) { c.Persistence.Backend = "redis" }, "persistence.backend"},
		{"bolt without path", func(c *Config) { c.Persistence.Backend = "bolt" }, "persistence.bolt_path"},
		{"mqtt without broker", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.PublishTimeout = "1s"
		}, "mqtt.broker"},
		{"bad breaker reset", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Broker = "tcp://localhost:1883"
			c.MQTT.PublishTimeout = "1s"
			c.MQTT.BreakerReset = "soon"
		}, "mqtt.breaker_reset"},
		{"bad override", func(c *Config) { c.Presence.Override = "maybe" }, "presence.override"},
		{"bad timezone", func(c *Config) { c.Engine.Timezone = "Mars/Olympus" }, "engine.timezone"},
		{"bad latitude", func(c *Config) {
			c.Solar.Enabled = true
			c.Solar.Latitude = 120
		}, "solar.latitude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
