package model

import "time"

// Trust level bounds. Levels are an integer grant of autonomy per tenant.
const (
	MinTrustLevel = 0
	MaxTrustLevel = 5
)

// ClampLevel bounds a level to [MinTrustLevel, MaxTrustLevel].
func ClampLevel(level int) int {
	if level < MinTrustLevel {
		return MinTrustLevel
	}
	if level > MaxTrustLevel {
		return MaxTrustLevel
	}
	return level
}

// MetricName identifies one of the tracked outcome metrics.
type MetricName string

const (
	MetricAccuracy        MetricName = "accuracy"
	MetricEscalationRate  MetricName = "escalation_rate"
	MetricSatisfaction    MetricName = "satisfaction"
	MetricPolicyAdherence MetricName = "policy_adherence"
)

// KnownMetrics lists every metric the collector accepts, in stable order.
var KnownMetrics = []MetricName{
	MetricAccuracy,
	MetricEscalationRate,
	MetricSatisfaction,
	MetricPolicyAdherence,
}

// IsKnownMetric reports whether name is a recognized metric.
func IsKnownMetric(name MetricName) bool {
	for _, m := range KnownMetrics {
		if m == name {
			return true
		}
	}
	return false
}

// Verdict is the gate decision outcome.
type Verdict string

const (
	Allow          Verdict = "allow"
	Deny           Verdict = "deny"
	AllowWithLimit Verdict = "allow_with_limit"
)

// Stable machine-readable reason codes. Callers branch on these, so the
// set is closed and values never change.
const (
	ReasonOK                     = "OK"
	ReasonCappedByRule           = "CAPPED_BY_RULE"
	ReasonCappedByLimit          = "CAPPED_BY_LIMIT"
	ReasonNoMatchingRule         = "NO_MATCHING_RULE"
	ReasonTrustLevelInsufficient = "TRUST_LEVEL_INSUFFICIENT"
	ReasonLimitExceeded          = "LIMIT_EXCEEDED"
	ReasonAuditUnavailable       = "AUDIT_UNAVAILABLE"
	ReasonTenantNotFound         = "TENANT_NOT_FOUND"
	ReasonEvaluationError        = "EVALUATION_ERROR"
)

// ProposedAction is what an external agent wants to do on behalf of a
// tenant. Params carries the contextual fields rule predicates match
// against (amount, issue_type, days_delayed, ...).
type ProposedAction struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Amount extracts the monetary amount param, if present.
func (a ProposedAction) Amount() (float64, bool) {
	return ToFloat(a.Params["amount"])
}

// ToFloat coerces JSON-decoded numeric values to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// GateDecision is the result of one gate check. Ephemeral: the only
// durable copy is the audit ledger record written by the gate service.
type GateDecision struct {
	DecisionID  string         `json:"decision_id"`
	TenantID    string         `json:"tenant_id"`
	AgentID     string         `json:"agent_id"`
	Action      ProposedAction `json:"action"`
	TrustLevel  int            `json:"trust_level"`
	Verdict     Verdict        `json:"verdict"`
	ReasonCode  string         `json:"reason_code"`
	MatchedRule string         `json:"matched_rule,omitempty"`
	Obligations map[string]any `json:"obligations,omitempty"`
}

// TrustScoreSnapshot is one point in a tenant's score history.
type TrustScoreSnapshot struct {
	Timestamp time.Time `json:"ts"`
	Score     float64   `json:"score"`
	Level     int       `json:"level"`
}

// TenantTrustState is the per-tenant trust grant. Exclusively owned and
// mutated by the trust evaluator; everything else reads it.
type TenantTrustState struct {
	TenantID       string               `json:"tenant_id"`
	Level          int                  `json:"level"`
	LevelEnteredAt time.Time            `json:"level_entered_at"`
	History        []TrustScoreSnapshot `json:"history,omitempty"`
	Version        int64                `json:"version"`
}

// TrustMetricSample is one immutable outcome measurement.
type TrustMetricSample struct {
	TenantID  string     `json:"tenant_id"`
	Metric    MetricName `json:"metric"`
	Value     float64    `json:"value"`
	Timestamp time.Time  `json:"ts"`
	ActionID  string     `json:"action_id"`
}

// EvalOutcome classifies one evaluator run for one tenant.
type EvalOutcome string

const (
	OutcomePromoted             EvalOutcome = "promoted"
	OutcomeDemoted              EvalOutcome = "demoted"
	OutcomeHold                 EvalOutcome = "hold"
	OutcomeHoldInsufficientData EvalOutcome = "hold_insufficient_data"
	OutcomeHoldVersionConflict  EvalOutcome = "hold_version_conflict"
)

// TrustTransition records the result of one evaluator cycle for one
// tenant, including the metric snapshot that produced it.
type TrustTransition struct {
	TenantID  string                 `json:"tenant_id"`
	Outcome   EvalOutcome            `json:"outcome"`
	FromLevel int                    `json:"from_level"`
	ToLevel   int                    `json:"to_level"`
	Score     float64                `json:"score"`
	Metrics   map[MetricName]float64 `json:"metrics,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
}
