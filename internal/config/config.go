package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "tggateway"
	DefaultPGSSLMode       = "disable"
	DefaultRedisAddr       = "127.0.0.1:6379"
	DefaultCacheTTL        = "24h"
	DefaultStagingTTL      = "10m"
	DefaultSessionTTL      = "24h"
	DefaultOutboundTimeout = "10s"
	DefaultTelegramAPI     = "https://api.telegram.org/bot%s/%s"
	DefaultLocale          = "ru"
	DefaultTimeZone        = "+03:00"
	DefaultJobsPath        = "/app/shared/jobs.json"
	DefaultSchemaPath      = "config/scheme.json"
	DefaultInviteRetention = "720h"
	DefaultInviteSweep     = "@daily"
)

type Config struct {
	Log         LogConfig         `toml:"log"`
	Server      ServerConfig      `toml:"server"`
	Auth        AuthConfig        `toml:"auth"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	Cache       CacheConfig       `toml:"cache"`
	Telegram    TelegramConfig    `toml:"telegram"`
	Integration IntegrationConfig `toml:"integration"`
	Secrets     SecretsConfig     `toml:"secrets"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Schema      SchemaConfig      `toml:"schema"`
	Invites     InvitesConfig     `toml:"invites"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// PublicURL is the externally reachable base URL used when registering webhooks.
	PublicURL string `toml:"public_url"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

type PostgresConfig struct {
	DSN      string `toml:"dsn"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// ConnString returns the DSN, building it from the discrete fields when unset.
func (c PostgresConfig) ConnString() string {
	if strings.TrimSpace(c.DSN) != "" {
		return strings.TrimSpace(c.DSN)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	URL      string `toml:"url"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type CacheConfig struct {
	TTL        string `toml:"ttl"`
	StagingTTL string `toml:"staging_ttl"`
	SessionTTL string `toml:"session_ttl"`
}

type TelegramConfig struct {
	APIEndpoint   string `toml:"api_endpoint"`
	Timeout       string `toml:"timeout"`
	WebhookSecret string `toml:"webhook_secret"`
}

type IntegrationConfig struct {
	BaseURL     string `toml:"base_url"`
	AccountsURL string `toml:"accounts_url"`
	Code        string `toml:"code"`
	Token       string `toml:"token"`
	Timeout     string `toml:"timeout"`
	Locale      string `toml:"locale"`
	TimeZone    string `toml:"time_zone"`
	AdminURL    string `toml:"admin_url"`
}

type SecretsConfig struct {
	Key string `toml:"key"`
}

type MetricsConfig struct {
	JobsPath string `toml:"jobs_path"`
}

type SchemaConfig struct {
	Path string `toml:"path"`
}

type InvitesConfig struct {
	Retention string `toml:"retention"`
	Sweep     string `toml:"sweep"`
}

// Duration parses value, falling back to def when empty or invalid.
func Duration(value, def string) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(def)
	return d
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			Addr: DefaultRedisAddr,
		},
		Cache: CacheConfig{
			TTL:        DefaultCacheTTL,
			StagingTTL: DefaultStagingTTL,
			SessionTTL: DefaultSessionTTL,
		},
		Telegram: TelegramConfig{
			APIEndpoint: DefaultTelegramAPI,
			Timeout:     DefaultOutboundTimeout,
		},
		Integration: IntegrationConfig{
			Timeout:  DefaultOutboundTimeout,
			Locale:   DefaultLocale,
			TimeZone: DefaultTimeZone,
		},
		Metrics: MetricsConfig{
			JobsPath: DefaultJobsPath,
		},
		Schema: SchemaConfig{
			Path: DefaultSchemaPath,
		},
		Invites: InvitesConfig{
			Retention: DefaultInviteRetention,
			Sweep:     DefaultInviteSweep,
		},
	}
}

// Load reads the TOML file at path (if present), then applies environment
// overrides. A .env file in the working directory is loaded first.
func Load(path string) (Config, error) {
	cfg := defaults()
	_ = godotenv.Load()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Postgres.DSN, "POSTGRES_DSN")
	set(&cfg.Redis.URL, "REDIS_URL")
	set(&cfg.Redis.Password, "REDIS_PASSWORD")
	set(&cfg.Integration.BaseURL, "INTEGRATION_URL")
	set(&cfg.Integration.Code, "INTEGRATION_CODE")
	set(&cfg.Integration.Token, "INTEGRATION_TOKEN")
	set(&cfg.Server.PublicURL, "WEBHOOK_URL")
	set(&cfg.Secrets.Key, "SECRET_KEY")
	set(&cfg.Auth.JWTSecret, "JWT_SECRET")
	set(&cfg.Metrics.JobsPath, "PROMETHEUS_JOBS_PATH")
	if cfg.Redis.URL != "" {
		cfg.Redis.Enabled = true
	}
}
