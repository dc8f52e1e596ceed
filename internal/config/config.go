package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Rules       RulesConfig       `mapstructure:"rules"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Scenes      ScenesConfig      `mapstructure:"scenes"`
	Solar       SolarConfig       `mapstructure:"solar"`
	Presence    PresenceConfig    `mapstructure:"presence"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Security    SecurityConfig    `mapstructure:"security"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	Host            string `mapstructure:"host"`
	Mode            string `mapstructure:"mode"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// PersistenceConfig selects where the rule set blob lives
type PersistenceConfig struct {
	// Backend is one of sqlite, bolt or memory
	Backend  string `mapstructure:"backend"`
	BoltPath string `mapstructure:"bolt_path"`
}

// RulesConfig controls the initial rule set
type RulesConfig struct {
	// SeedFile is a YAML rule set used instead of the built-in defaults
	SeedFile string `mapstructure:"seed_file"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MQTTConfig configures the device command transport
type MQTTConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Broker         string `mapstructure:"broker"`
	ClientID       string `mapstructure:"client_id"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	TopicPrefix    string `mapstructure:"topic_prefix"`
	QoS            int    `mapstructure:"qos"`
	PublishTimeout string `mapstructure:"publish_timeout"`
	SubscribeState bool   `mapstructure:"subscribe_state"`
	// BreakerFailures consecutive publish failures pause dispatch for BreakerReset
	BreakerFailures int    `mapstructure:"breaker_failures"`
	BreakerReset    string `mapstructure:"breaker_reset"`
}

// EngineConfig contains automation engine configuration
type EngineConfig struct {
	QueueSize         int    `mapstructure:"queue_size"`
	MaxConcurrentRuns int    `mapstructure:"max_concurrent_runs"`
	DispatchTimeout   string `mapstructure:"dispatch_timeout"`
	Timezone          string `mapstructure:"timezone"`
	SchedulerEnabled  bool   `mapstructure:"scheduler_enabled"`
}

// ScenesConfig contains scene activation configuration
type ScenesConfig struct {
	SingleFlight bool `mapstructure:"single_flight"`
}

// SolarConfig holds the coordinates used for sunrise and sunset
type SolarConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

// PresenceConfig lists the entities whose state decides anyone_home
type PresenceConfig struct {
	Entities   []string `mapstructure:"entities"`
	HomeStates []string `mapstructure:"home_states"`
	// Override forces presence: "home", "away" or empty to follow entities
	Override string `mapstructure:"override"`
}

type WebSocketConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PingInterval int  `mapstructure:"ping_interval"`
	PongTimeout  int  `mapstructure:"pong_timeout"`
	WriteTimeout int  `mapstructure:"write_timeout"`
}

type SecurityConfig struct {
	EnableCORS     bool     `mapstructure:"enable_cors"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MonitoringConfig controls the Prometheus endpoint
type MonitoringConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
	Path    string `mapstructure:"path"`
}

// Load reads config.yaml from ./configs or the working directory, applies
// environment overrides and validates the result
func Load() (*Config, error) {
	return load("")
}

// LoadFile reads configuration from an explicit file
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Set defaults
	setDefaults(v)

	// Read environment variables
	v.SetEnvPrefix("PMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Override specific values from env
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.path", "DATABASE_PATH")
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("mqtt.broker", "MQTT_BROKER")
	v.BindEnv("mqtt.username", "MQTT_USERNAME")
	v.BindEnv("mqtt.password", "MQTT_PASSWORD")
	v.BindEnv("solar.latitude", "PMA_LATITUDE")
	v.BindEnv("solar.longitude", "PMA_LONGITUDE")
	v.BindEnv("engine.timezone", "PMA_TIMEZONE")
	v.BindEnv("security.allowed_origins", "PMA_ALLOWED_ORIGINS")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errors []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errors = append(errors, "server.port must be between 1 and 65535")
	}
	if c.Server.Host == "" {
		errors = append(errors, "server.host is required")
	}
	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		errors = append(errors, "server.shutdown_timeout must be a duration")
	}

	switch strings.ToLower(c.Persistence.Backend) {
	case "", "sqlite":
		if c.Database.Path == "" {
			errors = append(errors, "database.path is required for the sqlite backend")
		}
	case "bolt":
		if c.Persistence.BoltPath == "" {
			errors = append(errors, "persistence.bolt_path is required for the bolt backend")
		}
	case "memory":
	default:
		errors = append(errors, fmt.Sprintf("persistence.backend %q is not one of sqlite, bolt, memory", c.Persistence.Backend))
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errors = append(errors, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errors = append(errors, "mqtt.qos must be 0, 1 or 2")
		}
		if _, err := time.ParseDuration(c.MQTT.PublishTimeout); err != nil {
			errors = append(errors, "mqtt.publish_timeout must be a duration")
		}
		if c.MQTT.BreakerReset != "" {
			if _, err := time.ParseDuration(c.MQTT.BreakerReset); err != nil {
				errors = append(errors, "mqtt.breaker_reset must be a duration")
			}
		}
	}

	if c.Engine.QueueSize <= 0 {
		errors = append(errors, "engine.queue_size must be greater than 0")
	}
	if c.Engine.MaxConcurrentRuns <= 0 {
		errors = append(errors, "engine.max_concurrent_runs must be greater than 0")
	}
	if _, err := time.ParseDuration(c.Engine.DispatchTimeout); err != nil {
		errors = append(errors, "engine.dispatch_timeout must be a duration")
	}
	if c.Engine.Timezone != "" {
		if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
			errors = append(errors, fmt.Sprintf("engine.timezone %q is not a known location", c.Engine.Timezone))
		}
	}

	switch c.Presence.Override {
	case "", "home", "away":
	default:
		errors = append(errors, "presence.override must be home, away or empty")
	}

	if c.Solar.Enabled {
		if c.Solar.Latitude < -90 || c.Solar.Latitude > 90 {
			errors = append(errors, "solar.latitude must be between -90 and 90")
		}
		if c.Solar.Longitude < -180 || c.Solar.Longitude > 180 {
			errors = append(errors, "solar.longitude must be between -180 and 180")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// Location returns the configured engine time zone, local time when unset
func (c *Config) Location() *time.Location {
	if c.Engine.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Duration parses a duration setting, returning fallback when invalid
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.path", "./data/pma-rules.db")
	v.SetDefault("database.migrations_path", "")
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("persistence.backend", "sqlite")
	v.SetDefault("persistence.bolt_path", "./data/rules.bolt")

	v.SetDefault("rules.seed_file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "pma-rules")
	v.SetDefault("mqtt.topic_prefix", "pma")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.publish_timeout", "5s")
	v.SetDefault("mqtt.subscribe_state", true)
	v.SetDefault("mqtt.breaker_failures", 5)
	v.SetDefault("mqtt.breaker_reset", "30s")

	v.SetDefault("engine.queue_size", 1024)
	v.SetDefault("engine.max_concurrent_runs", 32)
	v.SetDefault("engine.dispatch_timeout", "10s")
	v.SetDefault("engine.timezone", "")
	v.SetDefault("engine.scheduler_enabled", true)

	v.SetDefault("scenes.single_flight", false)

	v.SetDefault("solar.enabled", false)
	v.SetDefault("solar.latitude", 0.0)
	v.SetDefault("solar.longitude", 0.0)

	v.SetDefault("presence.entities", []string{})
	v.SetDefault("presence.home_states", []string{"home", "on"})
	v.SetDefault("presence.override", "")

	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.ping_interval", 30)
	v.SetDefault("websocket.pong_timeout", 60)
	v.SetDefault("websocket.write_timeout", 10)

	v.SetDefault("security.enable_cors", true)
	v.SetDefault("security.allowed_origins", []string{"*"})

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.prefix", "pma_rules")
	v.SetDefault("monitoring.path", "/metrics")
}
