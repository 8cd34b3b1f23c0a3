package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	AppName string `envconfig:"APP_NAME" default:"chat backend"`
	Env     string `envconfig:"APP_ENV" default:"development"`
	Host    string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	Port    int    `envconfig:"HTTP_PORT" default:"8000"`

	DBDriver   string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"chat.db"`
	PGHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PGPort     string `envconfig:"POSTGRES_PORT" default:"5432"`
	PGUser     string `envconfig:"POSTGRES_USER" default:"postgres"`
	PGPassword string `envconfig:"POSTGRES_PASSWORD" default:"postgres"`
	PGDatabase string `envconfig:"POSTGRES_DB" default:"chat"`

	JWTSecret        string        `envconfig:"JWT_SECRET"`
	AccessTokenTTL   time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"168h"`
	EncryptKey       string        `envconfig:"ENCRYPTION_KEY"`
	LegacyFernetKeys []string      `envconfig:"LEGACY_FERNET_KEYS"`

	UploadDir   string   `envconfig:"UPLOAD_DIR" default:"uploads"`
	MaxUploadMB int64    `envconfig:"MAX_UPLOAD_MB" default:"25"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`

	PresenceGrace     time.Duration `envconfig:"PRESENCE_GRACE" default:"3s"`
	WSEventsPerSecond float64       `envconfig:"WS_EVENTS_PER_SECOND" default:"20"`
	WSEventBurst      int           `envconfig:"WS_EVENT_BURST" default:"40"`
	WSSendBuffer      int           `envconfig:"WS_SEND_BUFFER" default:"128"`

	RedisURL string `envconfig:"REDIS_URL"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.EncryptKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if cfg.DBDriver != DriverSQLite && cfg.DBDriver != DriverPostgres {
		return nil, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.DBDriver)
	}
	if cfg.PresenceGrace < 0 {
		return nil, fmt.Errorf("PRESENCE_GRACE must not be negative")
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PostgresURL composes the connection URL from the POSTGRES_* parts.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PGUser, c.PGPassword),
		Host:     fmt.Sprintf("%s:%s", c.PGHost, c.PGPort),
		Path:     c.PGDatabase,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// SlogLevel maps LOG_LEVEL onto slog levels; unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
