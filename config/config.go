package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WebSocket pump settings.
const (
	// Time allowed to write a frame to the peer.
	WriteWait = 10 * time.Second
	// Time allowed to read the next pong from the peer.
	PongWait = 60 * time.Second
	// Pings are sent with this period. Must be less than PongWait.
	PingPeriod = (PongWait * 9) / 10
	// Largest inbound frame accepted from a client.
	MaxMessageSize = 8192
)

const envPrefix = "CHAT"

// Encryption modes.
const (
	ModeRandomIV = "random-iv"
	ModeFixedIV  = "fixed-iv"
)

// Store drivers.
const (
	DriverSQLite    = "sqlite"
	DriverJetStream = "jetstream"
)

type Config struct {
	Server struct {
		Addr   string `mapstructure:"addr"`
		WSPath string `mapstructure:"ws_path"`
	} `mapstructure:"server"`

	Auth struct {
		JWTSecret string        `mapstructure:"jwt_secret"`
		TokenTTL  time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"auth"`

	Encryption struct {
		Secret string `mapstructure:"secret"`
		Mode   string `mapstructure:"mode"`
	} `mapstructure:"encryption"`

	Store struct {
		Driver         string        `mapstructure:"driver"`
		SQLitePath     string        `mapstructure:"sqlite_path"`
		PersistTimeout time.Duration `mapstructure:"persist_timeout"`
	} `mapstructure:"store"`

	NATS struct {
		URL           string        `mapstructure:"url"`
		Stream        string        `mapstructure:"stream"`
		SubjectPrefix string        `mapstructure:"subject_prefix"`
		MaxAge        time.Duration `mapstructure:"max_age"`
	} `mapstructure:"nats"`

	Gateway struct {
		SendBuffer         int     `mapstructure:"send_buffer"`
		IncludeWorkspaceID bool    `mapstructure:"include_workspace_id"`
		Authorize          bool    `mapstructure:"authorize"`
		RateLimit          float64 `mapstructure:"rate_limit"`
		RateBurst          int     `mapstructure:"rate_burst"`
	} `mapstructure:"gateway"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)
	v.SetDefault("encryption.secret", "")
	v.SetDefault("encryption.mode", ModeRandomIV)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "chat.db")
	v.SetDefault("store.persist_timeout", 5*time.Second)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.stream", "CHAT_MESSAGES")
	v.SetDefault("nats.subject_prefix", "chat.messages")
	v.SetDefault("nats.max_age", 30*24*time.Hour)
	v.SetDefault("gateway.send_buffer", 256)
	v.SetDefault("gateway.include_workspace_id", false)
	v.SetDefault("gateway.authorize", true)
	v.SetDefault("gateway.rate_limit", 10.0)
	v.SetDefault("gateway.rate_burst", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from the optional YAML file at path and from
// CHAT_-prefixed environment variables, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports settings the gateway cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if strings.TrimSpace(c.Encryption.Secret) == "" {
		errs = append(errs, errors.New("encryption.secret is required"))
	}
	switch c.Encryption.Mode {
	case ModeRandomIV, ModeFixedIV:
	default:
		errs = append(errs, fmt.Errorf("encryption.mode %q is not one of %s, %s", c.Encryption.Mode, ModeRandomIV, ModeFixedIV))
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverJetStream:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of %s, %s", c.Store.Driver, DriverSQLite, DriverJetStream))
	}
	if c.Gateway.SendBuffer <= 0 {
		errs = append(errs, errors.New("gateway.send_buffer must be positive"))
	}
	return errors.Join(errs...)
}
