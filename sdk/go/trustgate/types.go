package trustgate

import "fmt"

// Verdict is the gate decision outcome.
type Verdict string

const (
	Allow          Verdict = "allow"
	Deny           Verdict = "deny"
	AllowWithLimit Verdict = "allow_with_limit"
)

// Stable machine-readable reason codes returned by the gate.
const (
	ReasonOK                     = "OK"
	ReasonCappedByRule           = "CAPPED_BY_RULE"
	ReasonCappedByLimit          = "CAPPED_BY_LIMIT"
	ReasonNoMatchingRule         = "NO_MATCHING_RULE"
	ReasonTrustLevelInsufficient = "TRUST_LEVEL_INSUFFICIENT"
	ReasonLimitExceeded          = "LIMIT_EXCEEDED"
	ReasonAuditUnavailable       = "AUDIT_UNAVAILABLE"
	ReasonTenantNotFound         = "TENANT_NOT_FOUND"
	ReasonGateUnreachable        = "GATE_UNREACHABLE"
)

// Action describes what an agent intends to do on behalf of a tenant.
// Params carries the contextual fields tenant policy predicates match
// against (amount, issue_type, days_delayed, ...).
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Decision is one gate check result.
type Decision struct {
	DecisionID  string         `json:"decision_id"`
	TenantID    string         `json:"tenant_id"`
	AgentID     string         `json:"agent_id"`
	Action      Action         `json:"action"`
	TrustLevel  int            `json:"trust_level"`
	Verdict     Verdict        `json:"verdict"`
	ReasonCode  string         `json:"reason_code"`
	MatchedRule string         `json:"matched_rule,omitempty"`
	Obligations map[string]any `json:"obligations,omitempty"`
}

// Allowed reports whether the decision permits the action.
func (d Decision) Allowed() bool {
	return d.Verdict == Allow || d.Verdict == AllowWithLimit
}

// MaxAmount returns the monetary cap attached to the decision, if any.
func (d Decision) MaxAmount() (float64, bool) {
	v, ok := d.Obligations["max_amount"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// BlockedError is returned by guarded tool functions when the gate
// denies the action, or when the gate cannot be reached (fail closed).
type BlockedError struct {
	Action     Action
	Verdict    Verdict
	ReasonCode string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("trustgate blocked %s (%s)", e.Action.Type, e.ReasonCode)
}

// TrustState is a tenant's current trust grant.
type TrustState struct {
	TenantID       string `json:"tenant_id"`
	Level          int    `json:"level"`
	LevelEnteredAt string `json:"level_entered_at"`
	Version        int64  `json:"version"`
}
