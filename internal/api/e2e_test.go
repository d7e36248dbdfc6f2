package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/davidahmann/canon/internal/auth"
	"github.com/davidahmann/canon/internal/governor"
	"github.com/davidahmann/canon/internal/ledger/sqlstore"
	"github.com/davidahmann/canon/internal/trace"
)

func TestE2EIntentActionsVerify(t *testing.T) {
	store, err := sqlstore.OpenSQLite(t.Context(), fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	gov, err := governor.New(governor.Options{
		AgentID:       "TRINDADE-HQ",
		Secret:        []byte("k1"),
		LiabilityLink: "LIABILITY-AA-2026",
		Store:         store,
	})
	if err != nil {
		t.Fatalf("governor: %v", err)
	}

	srv := httptest.NewServer(NewRouter(&Handler{
		Governor: gov,
		Auth:     auth.StaticToken{Token: "test-token"},
		Idem:     NewInMemoryIdemStore(),
	}))
	defer srv.Close()

	var blocked map[string]string
	if status := post(t, srv.URL+"/v1/actions", "", `{"action":"INIT_PROTOCOL","payload":"v1.2"}`, &blocked); status != http.StatusForbidden {
		t.Fatalf("expected blocked before intent, got %d", status)
	}
	if blocked["risk"] != "WILD" {
		t.Fatalf("unexpected blocked risk: %v", blocked)
	}

	var intent IntentResponse
	if status := post(t, srv.URL+"/v1/intent", "", `{"objective":"Standardizing AI Governance"}`, &intent); status != http.StatusOK {
		t.Fatalf("intent status: %d", status)
	}

	var first ActionResponse
	if status := post(t, srv.URL+"/v1/actions", "req-1", `{"action":"INIT_PROTOCOL","payload":"v1.2"}`, &first); status != http.StatusOK {
		t.Fatalf("action status: %d", status)
	}
	var replay ActionResponse
	post(t, srv.URL+"/v1/actions", "req-1", `{"action":"INIT_PROTOCOL","payload":"v1.2"}`, &replay)
	if replay.Trace != first.Trace {
		t.Fatalf("expected idempotent trace, got %s vs %s", replay.Trace, first.Trace)
	}

	var second ActionResponse
	post(t, srv.URL+"/v1/actions", "", `{"action":"DEBIT_GAS","payload":"0.005_ETH"}`, &second)
	if second.Sequence != 2 || second.Risk.String() != "LIABLE" {
		t.Fatalf("unexpected second action: %+v", second)
	}

	dot := strings.LastIndexByte(second.Trace, '.')
	rec, err := trace.Decode([]byte(second.Trace[:dot]))
	if err != nil {
		t.Fatalf("decode trace: %v", err)
	}
	if rec.Action != "DEBIT_GAS" || rec.AgentID != "TRINDADE-HQ" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	var report VerifyResponse
	get(t, srv.URL+"/v1/verify", &report)
	if !report.Valid || report.Total != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}

	var st governor.Status
	get(t, srv.URL+"/v1/status", &st)
	if st.Entries != 2 || st.Risk.String() != "LIABLE" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func post(t *testing.T, url, idemKey, body string, out any) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(idempotencyKeyHeader, idemKey)
	}
	return send(t, req, out)
}

func get(t *testing.T, url string, out any) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Authorization", "Bearer test-token")
	if status := send(t, req, out); status != http.StatusOK {
		t.Fatalf("%s status: %d", url, status)
	}
}

func send(t *testing.T, req *http.Request, out any) int {
	t.Helper()

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return res.StatusCode
}
