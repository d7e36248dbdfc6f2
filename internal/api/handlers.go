package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/davidahmann/canon/internal/auth"
	"github.com/davidahmann/canon/internal/governor"
	"github.com/davidahmann/canon/internal/ledger"
	"github.com/davidahmann/canon/internal/manifest"
	"github.com/davidahmann/canon/internal/risk"
)

type Handler struct {
	Governor *governor.Governor
	Auth     auth.Authenticator
	Manifest *manifest.Manifest
	Limiter  *rate.Limiter
	Idem     IdemStore
	Logger   *slog.Logger

	// idemMu serializes keyed requests so a key executes at most once.
	idemMu sync.Mutex
}

type IntentRequest struct {
	Objective string `json:"objective"`
}

type IntentResponse struct {
	Intent string     `json:"intent"`
	Risk   risk.Level `json:"risk"`
}

type ActionRequest struct {
	Action  string `json:"action"`
	Payload string `json:"payload"`
}

type ActionResponse struct {
	Result     string     `json:"result"`
	Risk       risk.Level `json:"risk"`
	RiskBefore risk.Level `json:"risk_before"`
	Sequence   int64      `json:"sequence"`
	Trace      string     `json:"trace"`
}

type VerifyResponse struct {
	Valid    bool             `json:"valid"`
	Total    int              `json:"total"`
	Failures []ledger.Failure `json:"failures"`
}

type ManifestResponse struct {
	Action string          `json:"action"`
	Status manifest.Status `json:"status"`
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.Governor.Status(r.Context())
	if err != nil {
		h.writeGovernorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) DeclareIntent(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if strings.TrimSpace(req.Objective) == "" {
		writeError(w, http.StatusBadRequest, "missing objective")
		return
	}

	h.Governor.DeclareIntent(req.Objective)
	level, err := h.Governor.AssignRisk(r.Context())
	if err != nil {
		h.writeGovernorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IntentResponse{Intent: req.Objective, Risk: level})
}

func (h *Handler) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "missing action")
		return
	}

	idemKey := r.Header.Get(idempotencyKeyHeader)
	if idemKey == "" || h.Idem == nil {
		h.execute(w, r, req)
		return
	}

	h.idemMu.Lock()
	defer h.idemMu.Unlock()

	if rec, ok := h.Idem.Get(idemKey); ok {
		if !rec.matches(req) {
			writeError(w, http.StatusConflict, "idempotency key reused with a different request")
			return
		}
		w.Header().Set(replayHeader, "true")
		writeJSON(w, http.StatusOK, rec.Response)
		return
	}
	if resp, ok := h.execute(w, r, req); ok {
		h.Idem.Put(IdemRecord{IdemKey: idemKey, Action: req.Action, Payload: req.Payload, Response: resp})
	}
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, req ActionRequest) (ActionResponse, bool) {
	exec, err := h.Governor.Execute(r.Context(), req.Action, req.Payload)
	if err != nil {
		h.writeGovernorError(w, r, err)
		return ActionResponse{}, false
	}
	resp := ActionResponse{
		Result:     exec.Result,
		Risk:       exec.RiskAfter,
		RiskBefore: exec.RiskBefore,
		Sequence:   exec.Handle.Sequence,
		Trace:      exec.Handle.String(),
	}
	writeJSON(w, http.StatusOK, resp)
	return resp, true
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	report, err := h.Governor.VerifyAuditIntegrity(r.Context())
	if err != nil {
		h.writeGovernorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: report.OK(), Total: report.Total, Failures: report.Failures})
}

func (h *Handler) CheckManifest(w http.ResponseWriter, r *http.Request) {
	if h.Manifest == nil {
		writeError(w, http.StatusNotImplemented, "manifest not configured")
		return
	}
	action := chi.URLParam(r, "action")
	writeJSON(w, http.StatusOK, ManifestResponse{Action: action, Status: h.Manifest.Check(action)})
}

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Auth == nil {
			writeError(w, http.StatusUnauthorized, "authenticator not configured")
			return
		}
		if _, err := h.Auth.Authenticate(r); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeGovernorError(w http.ResponseWriter, r *http.Request, err error) {
	var blocked *governor.BlockedError
	switch {
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": err.Error(),
			"risk":  blocked.Risk.String(),
		})
	case errors.Is(err, ledger.ErrStorage):
		h.logger().ErrorContext(r.Context(), "ledger unavailable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "ledger unavailable")
	default:
		h.logger().ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return h.Logger
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
