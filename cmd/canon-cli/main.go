package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/davidahmann/canon/internal/config"
	"github.com/davidahmann/canon/internal/governor"
	"github.com/davidahmann/canon/internal/ledger/backend"
	"github.com/davidahmann/canon/internal/manifest"
)

const (
	defaultAddr = "http://localhost:8080"
	demoKey     = "SECURE_KEY_3344"
)

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "demo":
		return handleDemo(args[2:], stdout, stderr)
	case "verify":
		return handleVerify(args[2:], stdout, stderr)
	case "status":
		return handleStatus(args[2:], stdout, stderr)
	case "manifest":
		return handleManifest(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func handleDemo(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "audit_ledger.db", "sqlite ledger path")
	agentID := fs.String("agent", "TRINDADE-HQ", "agent id")
	liability := fs.String("liability", "LIABILITY-AA-2026", "liability link (empty for none)")
	fresh := fs.Bool("fresh", false, "remove the ledger file before starting")
	insecureKey := fs.Bool("insecure-demo-key", false, "use the built-in demo key when CANON_SECRET is unset")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}

	secret := os.Getenv("CANON_SECRET")
	if secret == "" {
		if !*insecureKey {
			fmt.Fprintln(stderr, "CANON_SECRET is not set (use --insecure-demo-key for the built-in demo key)")
			return 2
		}
		secret = demoKey
	}

	if *fresh {
		if err := os.Remove(*dbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(stderr, "remove ledger:", err)
			return 1
		}
	}

	ctx := context.Background()
	store, err := backend.Open(ctx, config.DBConfig{Driver: config.DriverSQLite, DSN: "file:" + *dbPath})
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer store.Close()

	gov, err := governor.New(governor.Options{
		AgentID:       *agentID,
		Secret:        []byte(secret),
		LiabilityLink: *liability,
		Store:         store,
		Logger:        config.LogConfig{Level: "warn"}.NewLogger(stderr),
	})
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	fmt.Fprintln(stdout, "--- CANON SESSION START ---")
	objective := "Standardizing AI Governance for global compliance."
	gov.DeclareIntent(objective)
	fmt.Fprintf(stdout, "[CANON] Intent sealed: %s\n", objective)

	for _, step := range []struct{ action, payload string }{
		{"INIT_PROTOCOL", "v1.2"},
		{"DEBIT_GAS", "0.005_ETH"},
	} {
		exec, err := gov.Execute(ctx, step.action, step.payload)
		if err != nil {
			fmt.Fprintf(stderr, "[CRITICAL] %s: %v\n", step.action, err)
			return 1
		}
		fmt.Fprintf(stdout, "[GOVERNOR] Executed: %s | Risk: %s | Sequence: %d\n", step.action, exec.RiskAfter, exec.Handle.Sequence)
	}

	report, err := gov.VerifyAuditIntegrity(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	level, err := gov.AssignRisk(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if !report.OK() {
		fmt.Fprintf(stdout, "[CRITICAL] Integrity compromised! failed sequences: %s\n", joinSequences(report.FailedSequences()))
		return 1
	}
	fmt.Fprintf(stdout, "[AUDIT] Integrity: 100%% | Entries: %d | State: %s\n", report.Total, level)
	return 0
}

func handleVerify(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", envOrDefault("CANON_CONFIG_PATH", ""), "path to canon config file")
	jsonOut := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if *configPath == "" {
		fmt.Fprintln(stderr, "verify requires --config")
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	ctx := context.Background()
	store, err := backend.Open(ctx, cfg.DB)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer store.Close()

	gov, err := governor.New(governor.Options{
		AgentID:       cfg.AgentID,
		Secret:        []byte(cfg.Secret),
		LiabilityLink: cfg.LiabilityLink,
		Store:         store,
		Logger:        cfg.Log.NewLogger(stderr),
	})
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	report, err := gov.VerifyAuditIntegrity(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetEscapeHTML(false)
		_ = enc.Encode(map[string]any{"valid": report.OK(), "total": report.Total, "failures": report.Failures})
	} else if report.OK() {
		fmt.Fprintf(stdout, "valid=true entries=%d\n", report.Total)
	} else {
		fmt.Fprintf(stdout, "valid=false entries=%d failed=%s\n", report.Total, joinSequences(report.FailedSequences()))
	}
	if !report.OK() {
		return 1
	}
	return 0
}

func handleStatus(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("CANON_ADDR", defaultAddr), "canon gateway address")
	jsonOut := fs.Bool("json", false, "print raw JSON response")
	token := fs.String("token", os.Getenv("CANON_API_TOKEN"), "bearer token")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}

	respBody, status, err := httpGet(http.DefaultClient, strings.TrimRight(*addr, "/")+"/v1/status", *token)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(stderr, "status failed: %s\n", strings.TrimSpace(string(respBody)))
		return 1
	}

	if *jsonOut {
		_, _ = stdout.Write(respBody)
		return 0
	}

	var payload struct {
		AgentID        string `json:"agent_id"`
		SessionID      string `json:"session_id"`
		IntentDeclared bool   `json:"intent_declared"`
		Risk           string `json:"risk"`
		Entries        int64  `json:"entries"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	fmt.Fprintf(stdout, "agent_id=%s session_id=%s intent_declared=%t risk=%s entries=%d\n",
		payload.AgentID, payload.SessionID, payload.IntentDeclared, payload.Risk, payload.Entries)
	return 0
}

func handleManifest(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	switch args[0] {
	case "check":
		fs := flag.NewFlagSet("manifest check", flag.ContinueOnError)
		fs.SetOutput(stderr)
		if err := fs.Parse(args[1:]); err != nil {
			fs.Usage()
			return 2
		}
		if fs.NArg() != 2 {
			fmt.Fprintln(stderr, "manifest check requires <manifest_path> <action>")
			fs.Usage()
			return 2
		}
		m, err := manifest.Load(fs.Arg(0))
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 1
		}
		status := m.Check(fs.Arg(1))
		fmt.Fprintln(stdout, status)
		if status != manifest.StatusConfirmed {
			return 1
		}
		return 0
	default:
		usage(stderr)
		return 2
	}
}

func joinSequences(seqs []int64) string {
	parts := make([]string, 0, len(seqs))
	for _, s := range seqs {
		parts = append(parts, fmt.Sprint(s))
	}
	return strings.Join(parts, ",")
}

func httpGet(client *http.Client, url string, token string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Canon CLI

Usage:
  canon demo [--db PATH] [--agent ID] [--liability LINK] [--fresh] [--insecure-demo-key]
  canon verify --config PATH [--json]
  canon status [--addr URL] [--token TOKEN] [--json]
  canon manifest check <manifest_path> <action>
`)
}
