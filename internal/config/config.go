package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks every validation failure returned by Validate.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	AgentID       string          `yaml:"agent_id"`
	Secret        string          `yaml:"secret"`
	LiabilityLink string          `yaml:"liability_link"`
	ListenAddr    string          `yaml:"listen_addr"`
	APIToken      string          `yaml:"api_token"`
	DB            DBConfig        `yaml:"db"`
	Log           LogConfig       `yaml:"log"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	ManifestPath  string          `yaml:"manifest_path"`

	// AllowUnauthenticated lets the gateway serve without api_token.
	AllowUnauthenticated bool `yaml:"allow_unauthenticated"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(raw)
}

// Parse expands ${VAR} references against the environment before decoding,
// so secrets can stay out of the file.
func Parse(raw []byte) (Config, error) {
	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.AgentID) == "" {
		return invalid("agent_id is required")
	}
	if c.Secret == "" {
		return invalid("secret is required")
	}

	switch c.DB.Driver {
	case "", DriverMemory:
	case DriverSQLite, DriverPostgres, DriverRedis:
		if c.DB.DSN == "" {
			return invalid("db.dsn is required when db.driver=%s", c.DB.Driver)
		}
	default:
		return invalid("unsupported db.driver: %s", c.DB.Driver)
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return invalid("unsupported log.format: %s", c.Log.Format)
	}

	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		return invalid("rate_limit values must be non-negative")
	}
	return nil
}

// ValidateGateway applies Validate and additionally requires api_token
// unless allow_unauthenticated is set.
func (c Config) ValidateGateway() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIToken == "" && !c.AllowUnauthenticated {
		return invalid("api_token is required (set allow_unauthenticated to serve without one)")
	}
	return nil
}

// DriverOrDefault returns the configured ledger driver, defaulting to memory.
func (d DBConfig) DriverOrDefault() string {
	if d.Driver == "" {
		return DriverMemory
	}
	return d.Driver
}

// NewLogger builds a slog logger writing to w per the configured level and
// format. Unknown values fall back to info/text; Validate rejects them first.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, invalid("unsupported log.level: %s", raw)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
