package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustgate/internal/model"
)

// weightEpsilon is the tolerance when checking that metric weights sum to 1.0.
const weightEpsilon = 0.01

// Predicate operators. A closed set keeps rule evaluation deterministic
// and auditable (no embedded scripting).
const (
	OpEq  = "eq"
	OpNeq = "neq"
	OpGt  = "gt"
	OpGte = "gte"
	OpLt  = "lt"
	OpLte = "lte"
	OpIn  = "in"
)

var knownOps = map[string]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true, OpIn: true,
}

// Predicate is one typed condition term over an action's context fields.
type Predicate struct {
	Field  string `yaml:"field" json:"field"`
	Op     string `yaml:"op" json:"op"`
	Value  any    `yaml:"value,omitempty" json:"value,omitempty"`
	Values []any  `yaml:"values,omitempty" json:"values,omitempty"`
}

// RuleAction is the permitted action for an inclusive trust level range.
// Ranges are written sparsely ("0-1", "2-3"); lookups fall back to the
// highest configured range at or below the tenant's current level.
type RuleAction struct {
	FromLevel         int     `yaml:"from_level" json:"from_level"`
	ToLevel           int     `yaml:"to_level" json:"to_level"`
	Action            string  `yaml:"action" json:"action"`
	MaxAmount         float64 `yaml:"max_amount,omitempty" json:"max_amount,omitempty"`
	RequireEscalation bool    `yaml:"require_escalation,omitempty" json:"require_escalation,omitempty"`
}

// Covers reports whether the range includes the given trust level.
func (ra RuleAction) Covers(level int) bool {
	return level >= ra.FromLevel && level <= ra.ToLevel
}

// ActionRule conditions allowed actions on action type, context predicates,
// and trust level. Many rules per tenant; ties between matching rules are
// broken by priority descending, then specificity descending.
type ActionRule struct {
	ID         string       `yaml:"id" json:"id"`
	ActionType string       `yaml:"action_type" json:"action_type"`
	When       []Predicate  `yaml:"when,omitempty" json:"when,omitempty"`
	Levels     []RuleAction `yaml:"levels" json:"levels"`
	Priority   int          `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Limit kinds and scopes.
const (
	LimitFinancial = "financial"
	LimitCount     = "count"

	ScopePerAction = "per_action"
	ScopePerDay    = "per_day"
	ScopePerWeek   = "per_week"
)

// ActionLimit caps what rules permit. A rule may allow an action type and
// a limit can still clamp or deny it.
type ActionLimit struct {
	Kind       string  `yaml:"kind" json:"kind"`
	Scope      string  `yaml:"scope" json:"scope"`
	ActionType string  `yaml:"action_type,omitempty" json:"action_type,omitempty"`
	Bound      float64 `yaml:"bound" json:"bound"`
}

// AppliesTo reports whether the limit covers the given action type.
// An empty or "*" action type covers everything.
func (al ActionLimit) AppliesTo(actionType string) bool {
	return al.ActionType == "" || al.ActionType == "*" || al.ActionType == actionType
}

// MetricSetting configures one metric's contribution to trust evaluation.
type MetricSetting struct {
	Weight             float64 `yaml:"weight" json:"weight"`
	PromotionThreshold float64 `yaml:"promotion_threshold" json:"promotion_threshold"`
	DemotionThreshold  float64 `yaml:"demotion_threshold" json:"demotion_threshold"`
	DemotionFloor      float64 `yaml:"demotion_floor,omitempty" json:"demotion_floor,omitempty"`
	MinWindowDays      int     `yaml:"min_window_days" json:"min_window_days"`
}

// Floor returns the hard demotion floor, defaulting to the demotion
// threshold when no explicit floor is configured.
func (ms MetricSetting) Floor() float64 {
	if ms.DemotionFloor > 0 {
		return ms.DemotionFloor
	}
	return ms.DemotionThreshold
}

// WeightedMetricConfig maps metric names to their evaluation settings.
// Weights must sum to 1.0 ± weightEpsilon.
type WeightedMetricConfig map[model.MetricName]MetricSetting

// TenantPolicy is the full configuration document for one tenant.
type TenantPolicy struct {
	TenantID string               `yaml:"tenant_id" json:"tenant_id"`
	Rules    []ActionRule         `yaml:"rules,omitempty" json:"rules,omitempty"`
	Limits   []ActionLimit        `yaml:"limits,omitempty" json:"limits,omitempty"`
	Metrics  WeightedMetricConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// DefaultMetricConfig is the global fallback used for tenants with no
// metric config of their own.
func DefaultMetricConfig() WeightedMetricConfig {
	return WeightedMetricConfig{
		model.MetricAccuracy:        {Weight: 0.35, PromotionThreshold: 0.90, DemotionThreshold: 0.70, MinWindowDays: 7},
		model.MetricEscalationRate:  {Weight: 0.15, PromotionThreshold: 0.80, DemotionThreshold: 0.50, MinWindowDays: 7},
		model.MetricSatisfaction:    {Weight: 0.20, PromotionThreshold: 0.85, DemotionThreshold: 0.60, MinWindowDays: 7},
		model.MetricPolicyAdherence: {Weight: 0.30, PromotionThreshold: 0.95, DemotionThreshold: 0.80, MinWindowDays: 7},
	}
}

// Validate checks the policy document structurally. Writes that fail
// validation are rejected whole; nothing partially applies.
func (p *TenantPolicy) Validate() error {
	seen := make(map[string]bool, len(p.Rules))
	for i, rule := range p.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: missing id", i)
		}
		if seen[rule.ID] {
			return fmt.Errorf("rule %q: duplicate id", rule.ID)
		}
		seen[rule.ID] = true
		if rule.ActionType == "" {
			return fmt.Errorf("rule %q: missing action_type", rule.ID)
		}
		for j, pred := range rule.When {
			if pred.Field == "" {
				return fmt.Errorf("rule %q: predicate %d: missing field", rule.ID, j)
			}
			if !knownOps[pred.Op] {
				return fmt.Errorf("rule %q: predicate %d: unknown op %q", rule.ID, j, pred.Op)
			}
			if pred.Op == OpIn && len(pred.Values) == 0 {
				return fmt.Errorf("rule %q: predicate %d: op %q requires values", rule.ID, j, OpIn)
			}
		}
		if len(rule.Levels) == 0 {
			return fmt.Errorf("rule %q: no level entries", rule.ID)
		}
		for j, la := range rule.Levels {
			if la.Action == "" {
				return fmt.Errorf("rule %q: level entry %d: missing action", rule.ID, j)
			}
			if la.FromLevel < model.MinTrustLevel || la.ToLevel > model.MaxTrustLevel || la.FromLevel > la.ToLevel {
				return fmt.Errorf("rule %q: level entry %d: invalid range %d-%d", rule.ID, j, la.FromLevel, la.ToLevel)
			}
			if la.MaxAmount < 0 {
				return fmt.Errorf("rule %q: level entry %d: negative max_amount", rule.ID, j)
			}
		}
	}

	for i, limit := range p.Limits {
		if limit.Kind != LimitFinancial && limit.Kind != LimitCount {
			return fmt.Errorf("limit %d: unknown kind %q", i, limit.Kind)
		}
		if limit.Scope != ScopePerAction && limit.Scope != ScopePerDay && limit.Scope != ScopePerWeek {
			return fmt.Errorf("limit %d: unknown scope %q", i, limit.Scope)
		}
		// A per-action occurrence count has nothing to count; counts only
		// make sense over a window.
		if limit.Kind == LimitCount && limit.Scope == ScopePerAction {
			return fmt.Errorf("limit %d: count limits require a windowed scope (per_day or per_week)", i)
		}
		if limit.Bound < 0 {
			return fmt.Errorf("limit %d: negative bound %v", i, limit.Bound)
		}
	}

	if len(p.Metrics) > 0 {
		var sum float64
		for name, ms := range p.Metrics {
			if !model.IsKnownMetric(name) {
				return fmt.Errorf("metric %q: unknown metric name", name)
			}
			if ms.Weight < 0 {
				return fmt.Errorf("metric %q: negative weight", name)
			}
			if ms.MinWindowDays <= 0 {
				return fmt.Errorf("metric %q: min_window_days must be positive", name)
			}
			sum += ms.Weight
		}
		if math.Abs(sum-1.0) > weightEpsilon {
			return fmt.Errorf("weights sum to %.2f, expected 1.0 ± %.2f", sum, weightEpsilon)
		}
	}

	return nil
}

// ParsePolicy unmarshals and validates a tenant policy document, returning
// the policy and the sha256 content hash of the raw bytes.
func ParsePolicy(data []byte) (*TenantPolicy, string, error) {
	var p TenantPolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, "", fmt.Errorf("store: parse tenant policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, "", fmt.Errorf("store: invalid tenant policy: %w", err)
	}
	h := sha256.Sum256(data)
	return &p, "sha256:" + hex.EncodeToString(h[:]), nil
}

// LoadPolicyFile reads, parses, and validates one tenant policy file.
func LoadPolicyFile(path string) (*TenantPolicy, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("store: read tenant policy: %w", err)
	}
	return ParsePolicy(data)
}

// StarterPolicyYAML returns a commented tenant policy document for
// `trustgate config init`.
func StarterPolicyYAML(tenantID string) string {
	return `# trustgate tenant policy
# Generated by: trustgate config init
tenant_id: ` + tenantID + `

# Rules condition allowed actions on action type, context predicates, and
# trust level. Ties between matching rules: priority desc, then number of
# predicate terms desc. Level entries are inclusive ranges; a lookup falls
# back to the highest configured range at or below the current level.
rules:
  - id: shipping-delay-credit
    action_type: shipping_delay
    priority: 10
    when:
      - field: days_delayed
        op: gte
        value: 3
    levels:
      - from_level: 2
        to_level: 3
        action: offer_shipping_credit
        max_amount: 10
      - from_level: 4
        to_level: 5
        action: offer_shipping_credit
        max_amount: 25

# Limits clamp whatever rules permit.
# kind: financial | count; scope: per_action | per_day | per_week
limits:
  - kind: financial
    scope: per_action
    action_type: "*"
    bound: 100

# Metric weights must sum to 1.0 (± 0.01). Promotion requires EVERY metric
# to clear its own promotion_threshold for min_window_days; any metric
# under its demotion floor demotes by one level immediately.
metrics:
  accuracy:
    weight: 0.35
    promotion_threshold: 0.90
    demotion_threshold: 0.70
    min_window_days: 7
  escalation_rate:
    weight: 0.15
    promotion_threshold: 0.80
    demotion_threshold: 0.50
    min_window_days: 7
  satisfaction:
    weight: 0.20
    promotion_threshold: 0.85
    demotion_threshold: 0.60
    min_window_days: 7
  policy_adherence:
    weight: 0.30
    promotion_threshold: 0.95
    demotion_threshold: 0.80
    min_window_days: 7
`
}
