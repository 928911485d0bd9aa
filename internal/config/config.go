package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "BAZAAR_"

var (
	ErrUnknownDriver  = errors.New("unknown database driver")
	ErrInvalidCron    = errors.New("invalid enforcement sweep cron expression")
	ErrMissingSecret  = errors.New("auth.jwt_secret must be set")
	ErrInvalidLadder  = errors.New("enforcement.timed_limit must not be below enforcement.warning_limit")
	defaultJWTSecret  = "dev-secret-change-me"
	defaultConfigPath = "config.toml"
)

type Config struct {
	Env         string      `koanf:"env"`
	Server      Server      `koanf:"server"`
	Database    Database    `koanf:"database"`
	Redis       Redis       `koanf:"redis"`
	Auth        Auth        `koanf:"auth"`
	Log         Log         `koanf:"log"`
	DebugLog    DebugLog    `koanf:"debuglog"`
	Enforcement Enforcement `koanf:"enforcement"`
	Moderation  Moderation  `koanf:"moderation"`
	AutoReply   AutoReply   `koanf:"autoreply"`
	WS          WS          `koanf:"ws"`
}

type Server struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

type Database struct {
	// Driver is "postgres" or "memory".
	Driver   string `koanf:"driver"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	MaxConns int32  `koanf:"max_conns"`
}

func (d Database) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Name)
}

type Redis struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type Auth struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type DebugLog struct {
	Path       string `koanf:"path"`
	BufferSize int    `koanf:"buffer_size"`
}

type Enforcement struct {
	// Violations up to WarningLimit produce a warning.
	WarningLimit int `koanf:"warning_limit"`
	// Violations above WarningLimit and up to TimedLimit produce a timed restriction.
	TimedLimit          int           `koanf:"timed_limit"`
	RestrictionDuration time.Duration `koanf:"restriction_duration"`
	SweepCron           string        `koanf:"sweep_cron"`
}

type Moderation struct {
	BannedTerms []string `koanf:"banned_terms"`
	// WordlistFile is an optional TOML file with a top-level `terms` array.
	WordlistFile string `koanf:"wordlist_file"`
}

type AutoReply struct {
	// Triggers maps a keyword trigger key to the phrases that select it.
	Triggers map[string][]string `koanf:"triggers"`
}

type WS struct {
	SendRate    float64 `koanf:"send_rate"`
	SendBurst   int     `koanf:"send_burst"`
	ReadLimit   int64   `koanf:"read_limit"`
	SendBufSize int     `koanf:"send_buf_size"`
}

// Default returns the built-in configuration used before file and env layers.
func Default() Config {
	return Config{
		Env: "development",
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: Database{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			User:     "bazaar",
			Password: "bazaar_dev_password",
			Name:     "bazaar",
			MaxConns: 20,
		},
		Redis: Redis{
			Addr: "localhost:6379",
		},
		Auth: Auth{
			JWTSecret: defaultJWTSecret,
			TokenTTL:  24 * time.Hour,
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
		DebugLog: DebugLog{
			Path:       "data/debuglog",
			BufferSize: 1024,
		},
		Enforcement: Enforcement{
			WarningLimit:        2,
			TimedLimit:          4,
			RestrictionDuration: 24 * time.Hour,
			SweepCron:           "*/5 * * * *",
		},
		AutoReply: AutoReply{
			Triggers: map[string][]string{
				"price":        {"price", "how much", "cost", "discount", "cheaper"},
				"availability": {"available", "in stock", "still have", "sold out"},
				"shipping":     {"shipping", "delivery", "deliver", "ship to", "courier"},
			},
		},
		WS: WS{
			SendRate:    5,
			SendBurst:   10,
			ReadLimit:   64 * 1024,
			SendBufSize: 256,
		},
	}
}

// Load layers defaults, an optional TOML file and BAZAAR_* environment
// variables, in that order. A missing file at the default path is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	// BAZAAR_DATABASE__HOST -> database.host
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("error loading env config: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Database.Driver)
	}
	if c.Enforcement.SweepCron != "" && !gronx.IsValid(c.Enforcement.SweepCron) {
		return fmt.Errorf("%w: %q", ErrInvalidCron, c.Enforcement.SweepCron)
	}
	if c.Enforcement.TimedLimit < c.Enforcement.WarningLimit {
		return ErrInvalidLadder
	}
	if c.Auth.JWTSecret == "" || (c.Env == "production" && c.Auth.JWTSecret == defaultJWTSecret) {
		return ErrMissingSecret
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}
