// Package governor gates agent actions behind a derived risk level and
// records every executed action as a signed ledger entry.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"github.com/davidahmann/canon/internal/crypto"
	"github.com/davidahmann/canon/internal/ledger"
	"github.com/davidahmann/canon/internal/risk"
	"github.com/davidahmann/canon/internal/trace"
)

// ActionFunc performs the actual work of an action once it has been allowed.
type ActionFunc func(ctx context.Context, action, payload string) (string, error)

// DefaultAction answers "OK_<action>" for every action.
func DefaultAction(_ context.Context, action, _ string) (string, error) {
	return "OK_" + action, nil
}

type Options struct {
	AgentID       string
	Secret        []byte
	LiabilityLink string
	Store         ledger.Store
	Action        ActionFunc

	Logger         *slog.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider oteltrace.TracerProvider

	// Now and Nonce override the clock and nonce source of recorded traces.
	Now   func() time.Time
	Nonce func() (string, error)
}

// Governor is one governed session. Intent is session state; the ledger is
// the only source of history.
type Governor struct {
	agentID       string
	liabilityLink string
	sessionID     string

	signer *crypto.HMACSigner
	store  ledger.Store
	gen    *trace.Generator
	action ActionFunc
	logger *slog.Logger
	inst   instruments

	mu       sync.RWMutex
	intent   string
	declared bool
}

type Execution struct {
	Result     string
	Handle     trace.Handle
	RiskBefore risk.Level
	RiskAfter  risk.Level
}

func New(opts Options) (*Governor, error) {
	agentID := norm.NFC.String(strings.TrimSpace(opts.AgentID))
	if agentID == "" {
		return nil, &ConfigurationError{Field: "agent_id", Reason: "is required"}
	}
	if len(opts.Secret) == 0 {
		return nil, &ConfigurationError{Field: "secret", Reason: "must not be empty"}
	}
	if opts.Store == nil {
		return nil, &ConfigurationError{Field: "store", Reason: "is required"}
	}
	signer, err := crypto.NewHMACSigner(opts.Secret)
	if err != nil {
		return nil, &ConfigurationError{Field: "secret", Reason: err.Error()}
	}
	inst, err := newInstruments(opts.MeterProvider, opts.TracerProvider)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	action := opts.Action
	if action == nil {
		action = DefaultAction
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sessionID := uuid.NewString()

	return &Governor{
		agentID:       agentID,
		liabilityLink: opts.LiabilityLink,
		sessionID:     sessionID,
		signer:        signer,
		store:         opts.Store,
		gen: &trace.Generator{
			Signer: signer,
			Store:  opts.Store,
			Now:    opts.Now,
			Nonce:  opts.Nonce,
		},
		action: action,
		logger: logger.With("agent_id", agentID, "session_id", sessionID),
		inst:   inst,
	}, nil
}

func (g *Governor) AgentID() string       { return g.agentID }
func (g *Governor) LiabilityLink() string { return g.liabilityLink }
func (g *Governor) SessionID() string     { return g.sessionID }

// DeclareIntent seals the session objective. Re-declaring replaces it. A
// blank objective leaves the session undeclared, so execution stays blocked.
func (g *Governor) DeclareIntent(objective string) {
	declared := strings.TrimSpace(objective) != ""

	g.mu.Lock()
	g.intent = objective
	g.declared = declared
	g.mu.Unlock()

	if !declared {
		g.logger.Warn("intent cleared", "reason", "blank objective")
		return
	}
	g.logger.Info("intent sealed", "objective", objective)
}

func (g *Governor) Intent() (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.intent, g.declared
}

// AssignRisk derives the current level from the declared intent, the ledger
// history and the liability link.
func (g *Governor) AssignRisk(ctx context.Context) (risk.Level, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.assignLocked(ctx)
}

func (g *Governor) assignLocked(ctx context.Context) (risk.Level, error) {
	in := risk.Input{IntentDeclared: g.declared, LiabilityLink: g.liabilityLink}
	// The history is only consulted once intent exists.
	if g.declared {
		n, err := g.store.Count(ctx)
		if err != nil {
			return risk.Wild, ledger.Wrap("count", err)
		}
		in.EntryCount = n
	}
	return risk.Assign(in), nil
}

// Status is a point-in-time view of the session for operators.
type Status struct {
	AgentID        string     `json:"agent_id"`
	SessionID      string     `json:"session_id"`
	Intent         string     `json:"intent"`
	IntentDeclared bool       `json:"intent_declared"`
	LiabilityLink  string     `json:"liability_link,omitempty"`
	Risk           risk.Level `json:"risk"`
	Entries        int64      `json:"entries"`
}

func (g *Governor) Status(ctx context.Context) (Status, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, err := g.store.Count(ctx)
	if err != nil {
		return Status{}, ledger.Wrap("count", err)
	}
	return Status{
		AgentID:        g.agentID,
		SessionID:      g.sessionID,
		Intent:         g.intent,
		IntentDeclared: g.declared,
		LiabilityLink:  g.liabilityLink,
		Risk:           risk.Assign(risk.Input{IntentDeclared: g.declared, EntryCount: n, LiabilityLink: g.liabilityLink}),
		Entries:        n,
	}, nil
}

// ExecuteAction runs action and returns only its result.
func (g *Governor) ExecuteAction(ctx context.Context, action, payload string) (string, error) {
	exec, err := g.Execute(ctx, action, payload)
	if err != nil {
		return "", err
	}
	return exec.Result, nil
}

// Execute checks risk, runs the action and records its signed trace as one
// atomic unit. A blocked action runs nothing and records nothing. When the
// trace cannot be persisted the result is withheld. RiskAfter is recounted
// from the store; if that count fails the persisted handle is still returned
// alongside the error.
func (g *Governor) Execute(ctx context.Context, action, payload string) (Execution, error) {
	ctx, span := g.inst.tracer.Start(ctx, "governor.execute",
		oteltrace.WithAttributes(attribute.String("canon.action", action)))
	defer span.End()

	g.mu.Lock()
	defer g.mu.Unlock()

	before, err := g.assignLocked(ctx)
	if err != nil {
		return Execution{}, g.fail(ctx, span, "risk assessment failed", action, err)
	}
	span.SetAttributes(attribute.String("canon.risk", before.String()))

	if !before.Gated() {
		g.inst.blocked.Add(ctx, 1, metric.WithAttributes(attribute.String("canon.risk", before.String())))
		g.logger.WarnContext(ctx, "action blocked", "action", action, "risk", before.String())
		err := &BlockedError{Action: action, Risk: before}
		span.SetStatus(codes.Error, err.Error())
		return Execution{}, err
	}

	result, err := g.action(ctx, action, payload)
	if err != nil {
		return Execution{}, g.fail(ctx, span, "action failed", action, fmt.Errorf("action %s: %w", action, err))
	}

	handle, err := g.gen.BuildAndPersist(ctx, trace.Input{
		AgentID:       g.agentID,
		LiabilityLink: g.liabilityLink,
		Action:        action,
		Payload:       payload,
		Result:        result,
	})
	if err != nil {
		return Execution{}, g.fail(ctx, span, "trace not persisted", action, err)
	}

	g.inst.executed.Add(ctx, 1, metric.WithAttributes(attribute.String("canon.risk", before.String())))
	span.SetAttributes(attribute.Int64("canon.sequence", handle.Sequence))

	// The entry is already persisted, so a failed recount still returns it.
	after, err := g.assignLocked(ctx)
	if err != nil {
		return Execution{Result: result, Handle: handle, RiskBefore: before, RiskAfter: before},
			g.fail(ctx, span, "risk assessment failed", action, err)
	}
	g.logger.InfoContext(ctx, "action executed",
		"action", action,
		"sequence", handle.Sequence,
		"risk_before", before.String(),
		"risk_after", after.String(),
	)

	return Execution{Result: result, Handle: handle, RiskBefore: before, RiskAfter: after}, nil
}

// VerifyAuditIntegrity re-checks every stored entry against the session key.
// It holds the read lock so no append is in flight during the scan.
func (g *Governor) VerifyAuditIntegrity(ctx context.Context) (ledger.Report, error) {
	ctx, span := g.inst.tracer.Start(ctx, "governor.verify")
	defer span.End()

	g.mu.RLock()
	defer g.mu.RUnlock()

	report, err := ledger.Verify(ctx, g.store, g.signer.Verify)
	if err != nil {
		return ledger.Report{}, g.fail(ctx, span, "audit scan failed", "", err)
	}
	span.SetAttributes(attribute.Int("canon.entries", report.Total))

	if !report.OK() {
		g.inst.verifyFailures.Add(ctx, int64(len(report.Failures)))
		span.SetStatus(codes.Error, "ledger compromised")
		g.logger.ErrorContext(ctx, "audit compromised",
			"entries", report.Total,
			"failed_sequences", report.FailedSequences(),
		)
		return report, nil
	}
	g.logger.InfoContext(ctx, "audit verified", "entries", report.Total)
	return report, nil
}

func (g *Governor) fail(ctx context.Context, span oteltrace.Span, msg, action string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	attrs := []any{"error", err}
	if action != "" {
		attrs = append(attrs, "action", action)
	}
	g.logger.ErrorContext(ctx, msg, attrs...)
	return err
}
