package trustgate

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Header names the middleware reads to build the gate check.
const (
	HeaderTenant = "X-Trustgate-Tenant"
	HeaderAction = "X-Trustgate-Action"
)

// Middleware returns an http.Handler that checks the gate before passing
// the request to next. The tenant and action type come from request
// headers; requests without them are rejected. Blocked requests receive
// a 403 with a JSON body carrying the reason code.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(HeaderTenant)
		actionType := r.Header.Get(HeaderAction)
		if actionType == "" {
			actionType = strings.ToLower(r.Method) + "_request"
		}
		if tenantID == "" {
			writeBlocked(w, http.StatusBadRequest, Action{Type: actionType}, ReasonTenantNotFound)
			return
		}

		action := Action{
			Type:   actionType,
			Params: map[string]any{"path": r.URL.Path, "method": r.Method},
		}
		decision, err := c.Check(r.Context(), tenantID, action)
		if err != nil {
			writeBlocked(w, http.StatusForbidden, action, ReasonGateUnreachable)
			return
		}
		if !decision.Allowed() {
			writeBlocked(w, http.StatusForbidden, action, decision.ReasonCode)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeBlocked(w http.ResponseWriter, status int, action Action, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"blocked":     true,
		"action":      action.Type,
		"reason_code": reason,
	})
}
