// Package config loads hub settings from defaults, an optional YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. FLOWBOARD_DB_DSN.
const EnvPrefix = "FLOWBOARD"

// LegacyRelayKeyEnv is also accepted for hub.relay_key.
const LegacyRelayKeyEnv = "BACKENDKEY"

// minSendBuffer fits a chatroom joiner's welcome and joined envelopes.
const minSendBuffer = 2

// Config holds every hub setting, grouped by the YAML section it is read from.
type Config struct {
	Server struct {
		Listen         string   `mapstructure:"listen"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"server"`

	Hub struct {
		RelayKey       string        `mapstructure:"relay_key"`
		SendBuffer     int           `mapstructure:"send_buffer"`
		WriteWait      time.Duration `mapstructure:"write_wait"`
		PongWait       time.Duration `mapstructure:"pong_wait"`
		MaxMessageSize int64         `mapstructure:"max_message_size"`
	} `mapstructure:"hub"`

	DB struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"db"`

	Session struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"session"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Relay struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"relay"`

	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
}

// LoadEnvFiles loads .env.local and then .env into the process environment.
// Variables that are already set win, and missing files are ignored.
func LoadEnvFiles() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("hub.relay_key", "")
	v.SetDefault("hub.send_buffer", 256)
	v.SetDefault("hub.write_wait", 10*time.Second)
	v.SetDefault("hub.pong_wait", 60*time.Second)
	v.SetDefault("hub.max_message_size", 0)
	v.SetDefault("db.driver", "sqlite3")
	v.SetDefault("db.dsn", "flowboard.db")
	v.SetDefault("session.ttl", 30*24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("relay.url", "ws://127.0.0.1:8080/ws")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "flowboard.notifications")

	// Env overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("hub.relay_key", EnvPrefix+"_HUB_RELAY_KEY", LegacyRelayKeyEnv)

	return v
}

// Load reads the config file at path (optional) and applies environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	var errs []error

	switch c.DB.Driver {
	case "sqlite3", "pgx":
	default:
		errs = append(errs, fmt.Errorf("db.driver must be sqlite3 or pgx, got %q", c.DB.Driver))
	}
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is required"))
	}
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Hub.SendBuffer < minSendBuffer {
		errs = append(errs, fmt.Errorf("hub.send_buffer must be at least %d, got %d", minSendBuffer, c.Hub.SendBuffer))
	}
	if c.Hub.WriteWait <= 0 {
		errs = append(errs, fmt.Errorf("hub.write_wait must be positive, got %s", c.Hub.WriteWait))
	}
	if c.Hub.PongWait < 0 {
		errs = append(errs, fmt.Errorf("hub.pong_wait must not be negative, got %s", c.Hub.PongWait))
	}
	if c.Hub.MaxMessageSize < 0 {
		errs = append(errs, fmt.Errorf("hub.max_message_size must not be negative, got %d", c.Hub.MaxMessageSize))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, fmt.Errorf("session.ttl must be positive, got %s", c.Session.TTL))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required when kafka.enabled is set"))
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.topic is required when kafka.enabled is set"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
