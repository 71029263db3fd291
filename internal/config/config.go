// Package config loads server configuration from an optional YAML file,
// a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Auth     AuthConfig     `mapstructure:"auth"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type AppConfig struct {
	Name            string        `mapstructure:"name"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	// Driver is "mongo" or "memory".
	Driver   string `mapstructure:"driver"`
	MongoURI string `mapstructure:"mongo_uri"`
	Database string `mapstructure:"database"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// JWTKeys lists rotation keys as "kid:secret,kid2:secret2".
	JWTKeys      string        `mapstructure:"jwt_keys"`
	JWTActiveKid string        `mapstructure:"jwt_active_kid"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	// RateLimitRPM limits Register/Login calls per email or peer.
	RateLimitRPM int `mapstructure:"rate_limit_rpm"`
}

type GRPCConfig struct {
	Port       string `mapstructure:"port"`
	TLSCert    string `mapstructure:"tls_cert"`
	TLSKey     string `mapstructure:"tls_key"`
	RequireTLS bool   `mapstructure:"require_tls"`
}

type GatewayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	// AllowedOrigins is a comma separated CORS list; empty allows any origin.
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

type RealtimeConfig struct {
	// EventsPerMinute and EventBurst bound inbound events per connection.
	EventsPerMinute  int           `mapstructure:"events_per_minute"`
	EventBurst       int           `mapstructure:"event_burst"`
	MaxContentLength int           `mapstructure:"max_content_length"`
	StorageTimeout   time.Duration `mapstructure:"storage_timeout"`
	// OutboundQueue bounds the events buffered for one slow connection.
	OutboundQueue int `mapstructure:"outbound_queue"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`
}

// legacyEnv maps the original flat environment variables onto config keys.
var legacyEnv = map[string]string{
	"storage.mongo_uri":   "MONGODB_URI",
	"auth.jwt_secret":     "JWT_SECRET",
	"auth.jwt_keys":       "JWT_KEYS",
	"auth.jwt_active_kid": "JWT_ACTIVE_KID",
	"auth.rate_limit_rpm": "RATE_LIMIT_RPM",
	"grpc.port":           "PORT",
	"grpc.tls_cert":       "TLS_CERT",
	"grpc.tls_key":        "TLS_KEY",
	"grpc.require_tls":    "REQUIRE_TLS",
	"redis.addr":          "REDIS_ADDR",
	"app.log_level":       "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "roomchat")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "text")
	v.SetDefault("app.shutdown_timeout", 30*time.Second)
	v.SetDefault("storage.driver", "mongo")
	v.SetDefault("storage.database", "chat_db")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.rate_limit_rpm", 10)
	v.SetDefault("grpc.port", "50051")
	v.SetDefault("gateway.enabled", true)
	v.SetDefault("gateway.addr", ":3000")
	v.SetDefault("realtime.events_per_minute", 600)
	v.SetDefault("realtime.event_burst", 20)
	v.SetDefault("realtime.max_content_length", 4096)
	v.SetDefault("realtime.storage_timeout", 10*time.Second)
	v.SetDefault("realtime.outbound_queue", 256)
	v.SetDefault("redis.presence_ttl", 2*time.Minute)
}

// Load reads configuration. A .env file in the working directory is loaded
// first if present; configPath may be empty. Environment variables override
// the file, as CHAT_<SECTION>_<KEY> or the legacy names in legacyEnv.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "CHAT_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "mongo":
		if c.Storage.MongoURI == "" {
			return errors.New("MONGODB_URI must be set")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Auth.JWTKeys == "" && c.Auth.JWTSecret == "" {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if c.GRPC.RequireTLS && (c.GRPC.TLSCert == "" || c.GRPC.TLSKey == "") {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	if _, err := ParseKeys(c.Auth.JWTKeys); err != nil {
		return err
	}
	return nil
}

// ParseKeys parses "kid:secret" pairs separated by commas. An empty string
// yields an empty map.
func ParseKeys(s string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kid, secret, ok := strings.Cut(p, ":")
		if !ok || kid == "" || secret == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[kid] = secret
	}
	return keys, nil
}
