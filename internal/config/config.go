package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Store drivers understood by the database package.
const (
	StoreMemory  = "memory"
	StoreBadger  = "badger"
	StoreSurreal = "surreal"
)

// Config holds all configuration for the application.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR,default=:8080"`
	LogFormat string `env:"LOG_FORMAT,default=text"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`

	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER"`

	StoreDriver  string `env:"STORE_DRIVER,default=memory"`
	BadgerPath   string `env:"BADGER_PATH,default=data/badger"`
	ProfilesFile string `env:"PROFILES_FILE"`

	DBUrl  string `env:"SURREAL_URL"`
	DBNs   string `env:"SURREAL_NS"`
	DBDb   string `env:"SURREAL_DB"`
	DBUser string `env:"SURREAL_USER"`
	DBPass string `env:"SURREAL_PASS"`

	SendBufferSize int           `env:"SEND_BUFFER_SIZE,default=256"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	ReadLimit      int           `env:"READ_LIMIT,default=65536"`
	FrameRate      float64       `env:"FRAME_RATE,default=20"`
	FrameBurst     int           `env:"FRAME_BURST,default=40"`
	RegistryShards int           `env:"REGISTRY_SHARDS,default=32"`

	PresenceOfflineDebounce time.Duration `env:"PRESENCE_OFFLINE_DEBOUNCE,default=5s"`
	UpgradeRateLimit        float64       `env:"UPGRADE_RATE_LIMIT,default=10"`
	AllowedOrigins          string        `env:"ALLOWED_ORIGINS"`
}

// New loads configuration from an optional .env file and the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// slog is not configured yet; the default handler is fine here.
		slog.Debug("No .env file found, relying on environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StoreBadger:
		if c.BadgerPath == "" {
			errs = append(errs, errors.New("BADGER_PATH is required for the badger store"))
		}
	case StoreSurreal:
		if c.DBUrl == "" || c.DBNs == "" || c.DBDb == "" {
			errs = append(errs, errors.New("SURREAL_URL, SURREAL_NS and SURREAL_DB are required for the surreal store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.SendBufferSize <= 0 {
		errs = append(errs, errors.New("SEND_BUFFER_SIZE must be positive"))
	}
	if c.RegistryShards <= 0 {
		errs = append(errs, errors.New("REGISTRY_SHARDS must be positive"))
	}
	if c.FrameRate <= 0 || c.FrameBurst <= 0 {
		errs = append(errs, errors.New("FRAME_RATE and FRAME_BURST must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Origins splits ALLOWED_ORIGINS into patterns for the websocket acceptor.
func (c *Config) Origins() []string {
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
