package trustgate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeGate is a minimal trustgate server for SDK tests. The decide
// function produces the response for /v1/gate/check.
func fakeGate(t *testing.T, decide func(tenant string, action Action) Decision) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/gate/check", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TenantID string `json:"tenant_id"`
			AgentID  string `json:"agent_id"`
			Action   Action `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d := decide(req.TenantID, req.Action)
		d.TenantID = req.TenantID
		d.AgentID = req.AgentID
		d.Action = req.Action
		json.NewEncoder(w).Encode(d)
	})
	mux.HandleFunc("POST /v1/outcomes", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Outcomes map[string]float64 `json:"outcomes"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if _, bad := req.Outcomes["vibes"]; bad {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "unknown metric \"vibes\""})
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"accepted": true})
	})
	mux.HandleFunc("GET /v1/tenants/{tenant}/trust", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TrustState{TenantID: r.PathValue("tenant"), Level: 3, Version: 7})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func allowAll(string, Action) Decision {
	return Decision{DecisionID: "d-1", Verdict: Allow, ReasonCode: ReasonOK}
}

func TestCheckReturnsDecision(t *testing.T) {
	srv := fakeGate(t, allowAll)
	c := New(WithBaseURL(srv.URL), WithAgentID("agent-7"))

	d, err := c.Check(context.Background(), "acme", Action{Type: "issue_refund"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Verdict != Allow || !d.Allowed() {
		t.Fatalf("verdict = %s", d.Verdict)
	}
	if d.AgentID != "agent-7" || d.TenantID != "acme" {
		t.Fatalf("identity = %s/%s", d.TenantID, d.AgentID)
	}
}

func TestCheckSurfacesTransportError(t *testing.T) {
	srv := fakeGate(t, allowAll)
	base := srv.URL
	srv.Close()

	c := New(WithBaseURL(base))
	if _, err := c.Check(context.Background(), "acme", Action{Type: "issue_refund"}); err == nil {
		t.Fatal("expected error from closed server")
	}
}

func TestReportOutcome(t *testing.T) {
	srv := fakeGate(t, allowAll)
	c := New(WithBaseURL(srv.URL))

	if err := c.ReportOutcome(context.Background(), "acme", "a-1", map[string]float64{"accuracy": 1.0}); err != nil {
		t.Fatalf("report: %v", err)
	}

	err := c.ReportOutcome(context.Background(), "acme", "a-2", map[string]float64{"vibes": 1.0})
	if err == nil {
		t.Fatal("expected error for rejected outcome")
	}
	if !strings.Contains(err.Error(), "unknown metric") {
		t.Fatalf("error = %v, want server message surfaced", err)
	}
}

func TestTrustState(t *testing.T) {
	srv := fakeGate(t, allowAll)
	c := New(WithBaseURL(srv.URL))

	st, err := c.TrustState(context.Background(), "acme")
	if err != nil {
		t.Fatalf("trust state: %v", err)
	}
	if st.Level != 3 || st.Version != 7 {
		t.Fatalf("state = %+v", st)
	}
}

func TestDecisionMaxAmount(t *testing.T) {
	d := Decision{Obligations: map[string]any{"max_amount": 25.0}}
	if v, ok := d.MaxAmount(); !ok || v != 25 {
		t.Fatalf("max amount = %v/%v", v, ok)
	}
	if _, ok := (Decision{}).MaxAmount(); ok {
		t.Fatal("expected no cap on empty decision")
	}
}
