package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	MarkerBackendSQLite = "sqlite"
	MarkerBackendRedis  = "redis"
)

type Config struct {
	Port      string          `mapstructure:"port"`
	DBPath    string          `mapstructure:"db_path"`
	LogLevel  string          `mapstructure:"log_level"`
	App       AppConfig       `mapstructure:"app"`
	VAPID     VAPIDConfig     `mapstructure:"vapid"`
	Reminder  ReminderConfig  `mapstructure:"reminder"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type AppConfig struct {
	Origin string `mapstructure:"origin"`
}

type VAPIDConfig struct {
	PublicKey  string `mapstructure:"public_key"`
	PrivateKey string `mapstructure:"private_key"`
	Subject    string `mapstructure:"subject"`
}

type ReminderConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	MarkerBackend   string        `mapstructure:"marker_backend"`
	MarkerRetention time.Duration `mapstructure:"marker_retention"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Environment  string `mapstructure:"environment"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// SetDefaults registers every key so environment variables bind to it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_path", "lingo.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("app.origin", "http://localhost:8080")
	v.SetDefault("vapid.public_key", "")
	v.SetDefault("vapid.private_key", "")
	v.SetDefault("vapid.subject", "mailto:noreply@lingo.app")
	v.SetDefault("reminder.interval", "60m")
	v.SetDefault("reminder.marker_backend", MarkerBackendSQLite)
	v.SetDefault("reminder.marker_retention", "336h")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.environment", "development")
}

// Load reads configuration from defaults, an optional YAML file and
// LINGO_* environment variables, in increasing precedence.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("LINGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings the server needs to start.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Reminder.Interval <= 0 {
		errs = append(errs, errors.New("reminder.interval must be positive"))
	}
	switch c.Reminder.MarkerBackend {
	case MarkerBackendSQLite, MarkerBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("reminder.marker_backend %q must be %q or %q",
			c.Reminder.MarkerBackend, MarkerBackendSQLite, MarkerBackendRedis))
	}
	return errors.Join(errs...)
}
