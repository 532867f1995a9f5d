package trustgate

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func middlewareServer(t *testing.T, decide func(string, Action) Decision) *httptest.Server {
	t.Helper()
	gate := fakeGate(t, decide)
	c := New(WithBaseURL(gate.URL))

	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("handled"))
	}))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestMiddlewarePassesAllowed(t *testing.T) {
	srv := middlewareServer(t, allowAll)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/tools/refund", nil)
	req.Header.Set(HeaderTenant, "acme")
	req.Header.Set(HeaderAction, "issue_refund")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMiddlewareBlocksDenied(t *testing.T) {
	srv := middlewareServer(t, func(string, Action) Decision {
		return Decision{Verdict: Deny, ReasonCode: ReasonLimitExceeded}
	})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/tools/refund", nil)
	req.Header.Set(HeaderTenant, "acme")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestMiddlewareRequiresTenantHeader(t *testing.T) {
	srv := middlewareServer(t, allowAll)

	resp, err := http.Get(srv.URL + "/tools/refund")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
