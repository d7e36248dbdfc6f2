package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/davidahmann/canon/internal/api"
	"github.com/davidahmann/canon/internal/auth"
	"github.com/davidahmann/canon/internal/config"
	"github.com/davidahmann/canon/internal/governor"
	"github.com/davidahmann/canon/internal/ledger/backend"
	"github.com/davidahmann/canon/internal/manifest"
)

func main() {
	if err := runFn(os.Args[1:], os.Getenv, listenAndServe, newServer); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

func newServer(cfg config.Config, logger *slog.Logger) (*http.Server, io.Closer, error) {
	authenticator, err := auth.FromToken(cfg.APIToken, cfg.AllowUnauthenticated)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: %w", err)
	}
	if cfg.APIToken == "" {
		logger.Warn("allow_unauthenticated set; API accepts any caller")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := backend.Open(ctx, cfg.DB)
	if err != nil {
		return nil, nil, err
	}

	gov, err := governor.New(governor.Options{
		AgentID:       cfg.AgentID,
		Secret:        []byte(cfg.Secret),
		LiabilityLink: cfg.LiabilityLink,
		Store:         store,
		Logger:        logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	var m *manifest.Manifest
	if cfg.ManifestPath != "" {
		m, err = manifest.Load(cfg.ManifestPath)
		if err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("manifest: %w", err)
		}
	}

	h := &api.Handler{
		Governor: gov,
		Auth:     authenticator,
		Manifest: m,
		Limiter:  api.NewLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		Idem:     api.NewInMemoryIdemStore(),
		Logger:   logger,
	}
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}, store, nil
}

type envFn func(string) string
type listenFn func(*http.Server) error
type serverFactory func(cfg config.Config, logger *slog.Logger) (*http.Server, io.Closer, error)

func run(args []string, getenv envFn, listen listenFn, factory serverFactory) error {
	fs := flag.NewFlagSet("canon-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to canon config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(firstNonEmpty(*configPath, getenv("CANON_CONFIG_PATH")), getenv)
	if err != nil {
		return err
	}
	if err := cfg.ValidateGateway(); err != nil {
		return err
	}
	cfg.ListenAddr = firstNonEmpty(getenv("CANON_LISTEN_ADDR"), cfg.ListenAddr, ":8080")

	logger := cfg.Log.NewLogger(os.Stderr)
	server, closer, err := factory(cfg, logger)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	logger.Info("canon-gateway listening",
		"addr", cfg.ListenAddr,
		"agent_id", cfg.AgentID,
		"db_driver", cfg.DB.DriverOrDefault(),
	)
	if err := listen(server); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// loadConfig reads the config file when one is named and otherwise builds
// the config from CANON_* variables. Either way the result is validated.
func loadConfig(path string, getenv envFn) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	allowOpen, err := envBool(getenv, "CANON_ALLOW_UNAUTHENTICATED")
	if err != nil {
		return config.Config{}, err
	}
	perSecond, err := envFloat(getenv, "CANON_RATE_LIMIT_PER_SECOND")
	if err != nil {
		return config.Config{}, err
	}
	burst, err := envInt(getenv, "CANON_RATE_LIMIT_BURST")
	if err != nil {
		return config.Config{}, err
	}
	cfg := config.Config{
		AgentID:       getenv("CANON_AGENT_ID"),
		Secret:        getenv("CANON_SECRET"),
		LiabilityLink: getenv("CANON_LIABILITY_LINK"),
		APIToken:      getenv("CANON_API_TOKEN"),
		ManifestPath:  getenv("CANON_MANIFEST_PATH"),
		DB: config.DBConfig{
			Driver: getenv("CANON_DB_DRIVER"),
			DSN:    getenv("CANON_DB_DSN"),
		},
		Log: config.LogConfig{
			Level:  getenv("CANON_LOG_LEVEL"),
			Format: getenv("CANON_LOG_FORMAT"),
		},
		RateLimit: config.RateLimitConfig{
			PerSecond: perSecond,
			Burst:     burst,
		},
		AllowUnauthenticated: allowOpen,
	}
	return cfg, cfg.Validate()
}

func envBool(getenv envFn, key string) (bool, error) {
	raw := getenv(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", config.ErrInvalid, key, err)
	}
	return v, nil
}

func envFloat(getenv envFn, key string) (float64, error) {
	raw := getenv(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", config.ErrInvalid, key, err)
	}
	return v, nil
}

func envInt(getenv envFn, key string) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", config.ErrInvalid, key, err)
	}
	return v, nil
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
