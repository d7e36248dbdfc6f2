package main

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/davidahmann/canon/internal/auth"
	"github.com/davidahmann/canon/internal/config"
)

func envMap(values map[string]string) envFn {
	return func(key string) string { return values[key] }
}

type closeRecorder struct{ closed bool }

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestNewServer(t *testing.T) {
	cfg := config.Config{AgentID: "agent", Secret: "k1", ListenAddr: "127.0.0.1:9999", APIToken: "tok"}
	srv, closer, err := newServer(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer closer.Close()
	if srv.Addr != cfg.ListenAddr {
		t.Fatalf("expected addr %s, got %s", cfg.ListenAddr, srv.Addr)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer tok")
	res := httptest.NewRecorder()
	srv.Handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
}

func TestNewServerLoadsManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte(`{"actions":{"A":{"intent":1,"trace":1,"liability":1}}}`), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	cfg := config.Config{AgentID: "agent", Secret: "k1", ManifestPath: path, AllowUnauthenticated: true}
	srv, closer, err := newServer(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer closer.Close()

	req := httptest.NewRequest(http.MethodGet, "/v1/manifest/A", nil)
	res := httptest.NewRecorder()
	srv.Handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	cfg.ManifestPath = filepath.Join(t.TempDir(), "missing.json")
	if _, _, err := newServer(cfg, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatalf("expected manifest error")
	}
}

func TestNewServerBadBackend(t *testing.T) {
	cfg := config.Config{AgentID: "agent", Secret: "k1", APIToken: "tok", DB: config.DBConfig{Driver: "redis", DSN: "redis://127.0.0.1:1"}}
	if _, _, err := newServer(cfg, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatalf("expected backend error")
	}
}

func TestRunDefaults(t *testing.T) {
	closer := &closeRecorder{}
	factory := func(cfg config.Config, _ *slog.Logger) (*http.Server, io.Closer, error) {
		if cfg.ListenAddr != ":8080" {
			t.Fatalf("expected default addr, got %s", cfg.ListenAddr)
		}
		if cfg.AgentID != "agent" || cfg.Secret != "k1" {
			t.Fatalf("expected config from env, got %+v", cfg)
		}
		return &http.Server{Addr: cfg.ListenAddr}, closer, nil
	}

	listen := func(_ *http.Server) error {
		return http.ErrServerClosed
	}

	getenv := envMap(map[string]string{"CANON_AGENT_ID": "agent", "CANON_SECRET": "k1", "CANON_API_TOKEN": "tok"})
	if err := run(nil, getenv, listen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closer.closed {
		t.Fatalf("expected store to be closed on exit")
	}
}

func TestRunRequiresSecret(t *testing.T) {
	factory := func(config.Config, *slog.Logger) (*http.Server, io.Closer, error) {
		t.Fatalf("factory must not run without a secret")
		return nil, nil, nil
	}
	listen := func(*http.Server) error { return nil }

	err := run(nil, envMap(map[string]string{"CANON_AGENT_ID": "agent"}), listen, factory)
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestRunError(t *testing.T) {
	listenErr := errors.New("listen failed")
	listen := func(_ *http.Server) error {
		return listenErr
	}

	factory := func(cfg config.Config, _ *slog.Logger) (*http.Server, io.Closer, error) {
		if cfg.ListenAddr != "127.0.0.1:1234" {
			t.Fatalf("expected env addr, got %s", cfg.ListenAddr)
		}
		return &http.Server{Addr: cfg.ListenAddr}, nil, nil
	}

	getenv := envMap(map[string]string{
		"CANON_AGENT_ID":    "agent",
		"CANON_SECRET":      "k1",
		"CANON_API_TOKEN":   "tok",
		"CANON_LISTEN_ADDR": "127.0.0.1:1234",
	})
	if err := run(nil, getenv, listen, factory); !errors.Is(err, listenErr) {
		t.Fatalf("expected listen error, got %v", err)
	}

	factoryErr := errors.New("factory failed")
	failing := func(config.Config, *slog.Logger) (*http.Server, io.Closer, error) { return nil, nil, factoryErr }
	if err := run(nil, getenv, listen, failing); !errors.Is(err, factoryErr) {
		t.Fatalf("expected factory error, got %v", err)
	}
}

func TestRunLoadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "canon.yaml")
	if err := os.WriteFile(path, []byte("agent_id: TRINDADE-HQ\nsecret: k1\napi_token: tok\nlisten_addr: \":9999\"\nliability_link: L1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	factory := func(cfg config.Config, _ *slog.Logger) (*http.Server, io.Closer, error) {
		if cfg.ListenAddr != ":9999" {
			t.Fatalf("expected addr from config, got %s", cfg.ListenAddr)
		}
		if cfg.LiabilityLink != "L1" {
			t.Fatalf("expected liability link from config, got %s", cfg.LiabilityLink)
		}
		return &http.Server{Addr: cfg.ListenAddr}, nil, nil
	}

	listen := func(_ *http.Server) error { return http.ErrServerClosed }
	getenv := envMap(map[string]string{"CANON_CONFIG_PATH": path})

	if err := run(nil, getenv, listen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := run([]string{"--config", filepath.Join(dir, "missing.yaml")}, getenv, listen, factory); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestNewServerRequiresToken(t *testing.T) {
	cfg := config.Config{AgentID: "agent", Secret: "k1"}
	if _, _, err := newServer(cfg, slog.New(slog.DiscardHandler)); !errors.Is(err, auth.ErrNoToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}

	cfg.AllowUnauthenticated = true
	srv, closer, err := newServer(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer closer.Close()

	res := httptest.NewRecorder()
	srv.Handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected open API when explicitly allowed, got %d", res.Code)
	}
}

func TestRunRefusesMissingToken(t *testing.T) {
	factory := func(config.Config, *slog.Logger) (*http.Server, io.Closer, error) {
		t.Fatalf("factory must not run without an api token")
		return nil, nil, nil
	}
	listen := func(*http.Server) error { return nil }

	getenv := envMap(map[string]string{"CANON_AGENT_ID": "agent", "CANON_SECRET": "k1"})
	if err := run(nil, getenv, listen, factory); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected invalid config, got %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "canon.yaml")
	if err := os.WriteFile(path, []byte("agent_id: a\nsecret: k1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := run([]string{"--config", path}, envMap(nil), listen, factory); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected invalid config from file, got %v", err)
	}
}

func TestRunAllowUnauthenticatedFromEnv(t *testing.T) {
	factory := func(cfg config.Config, _ *slog.Logger) (*http.Server, io.Closer, error) {
		if !cfg.AllowUnauthenticated {
			t.Fatalf("expected allow_unauthenticated from env")
		}
		return &http.Server{Addr: cfg.ListenAddr}, nil, nil
	}
	listen := func(*http.Server) error { return http.ErrServerClosed }

	getenv := envMap(map[string]string{
		"CANON_AGENT_ID":              "agent",
		"CANON_SECRET":                "k1",
		"CANON_ALLOW_UNAUTHENTICATED": "true",
	})
	if err := run(nil, getenv, listen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfigRateLimitFromEnv(t *testing.T) {
	cfg, err := loadConfig("", envMap(map[string]string{
		"CANON_AGENT_ID":              "agent",
		"CANON_SECRET":                "k1",
		"CANON_RATE_LIMIT_PER_SECOND": "2.5",
		"CANON_RATE_LIMIT_BURST":      "4",
	}))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RateLimit.PerSecond != 2.5 || cfg.RateLimit.Burst != 4 {
		t.Fatalf("unexpected rate limit: %+v", cfg.RateLimit)
	}

	for key, value := range map[string]string{
		"CANON_RATE_LIMIT_PER_SECOND": "fast",
		"CANON_RATE_LIMIT_BURST":      "1.5",
		"CANON_ALLOW_UNAUTHENTICATED": "maybe",
	} {
		_, err := loadConfig("", envMap(map[string]string{"CANON_AGENT_ID": "agent", "CANON_SECRET": "k1", key: value}))
		if !errors.Is(err, config.ErrInvalid) {
			t.Fatalf("%s=%s: expected invalid config, got %v", key, value, err)
		}
	}

	_, err = loadConfig("", envMap(map[string]string{"CANON_AGENT_ID": "agent", "CANON_SECRET": "k1", "CANON_RATE_LIMIT_BURST": "-1"}))
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected negative burst to be invalid, got %v", err)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "a", "b"); got != "a" {
		t.Fatalf("expected a, got %s", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("expected empty, got %s", got)
	}
}

func TestListenAndServeInvalidAddr(t *testing.T) {
	err := listenAndServe(&http.Server{Addr: "127.0.0.1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestMainNoError(t *testing.T) {
	oldRun := runFn
	oldFatal := fatalf
	defer func() {
		runFn = oldRun
		fatalf = oldFatal
	}()

	runFn = func(args []string, envFn envFn, listenFn listenFn, serverFactory serverFactory) error {
		return nil
	}

	called := false
	fatalf = func(string, ...any) {
		called = true
	}

	main()
	if called {
		t.Fatalf("unexpected fatal call")
	}
}

func TestMainError(t *testing.T) {
	oldRun := runFn
	oldFatal := fatalf
	defer func() {
		runFn = oldRun
		fatalf = oldFatal
	}()

	runFn = func(args []string, envFn envFn, listenFn listenFn, serverFactory serverFactory) error {
		return errors.New("boom")
	}

	called := false
	fatalf = func(string, ...any) {
		called = true
	}

	main()
	if !called {
		t.Fatalf("expected fatal call")
	}
}
