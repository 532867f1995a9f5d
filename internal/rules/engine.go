package rules

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/store"
)

// defaultMutatingMinLevel splits the system-wide default for mutating
// actions no rule covers: at or below it the deny is a trust problem,
// above it the deny is a configuration gap.
const defaultMutatingMinLevel = 2

// Engine evaluates proposed actions against tenant rules, trust-level
// defaults, and action limits. It is pure: it reads the policy store and
// the collector's usage counters and never writes trust state.
type Engine struct {
	store   *store.Store
	metrics usageReader
}

// usageReader is the slice of the metrics collector the engine needs for
// cumulative limit windows.
type usageReader interface {
	ActionUsage(tenantID, actionType string, since time.Time) (int, float64)
}

// New creates an Engine over the given policy store and usage counters.
func New(s *store.Store, usage usageReader) *Engine {
	return &Engine{store: s, metrics: usage}
}

// Evaluate produces a decision for one proposed action. It never panics
// past this boundary: any internal failure becomes a deny with a stable
// reason code.
func (e *Engine) Evaluate(tenantID string, trustLevel int, action model.ProposedAction) (decision model.GateDecision) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("rules: evaluation panic", "tenant", tenantID, "action", action.Type, "panic", r)
			decision = model.GateDecision{
				TenantID:   tenantID,
				Action:     action,
				TrustLevel: trustLevel,
				Verdict:    model.Deny,
				ReasonCode: model.ReasonEvaluationError,
			}
		}
	}()

	decision = model.GateDecision{
		TenantID:   tenantID,
		Action:     action,
		TrustLevel: trustLevel,
	}

	rule, entry, found := e.selectRule(tenantID, trustLevel, action)
	if !found {
		return e.applyDefault(decision, trustLevel, action)
	}
	decision.MatchedRule = rule.ID

	if entry == nil {
		// A rule covers this action but configures nothing at or below
		// the tenant's current level.
		decision.Verdict = model.Deny
		decision.ReasonCode = model.ReasonTrustLevelInsufficient
		return decision
	}

	return e.applyLimits(decision, *entry, action)
}

// selectRule picks the winning rule for the action and resolves its level
// entry. Ordering is deterministic: priority descending, specificity
// (matched predicate terms) descending, rule id ascending as the final
// tiebreak. Two non-conflicting rules matching the same action is a
// configuration smell, but it must still resolve predictably.
func (e *Engine) selectRule(tenantID string, trustLevel int, action model.ProposedAction) (store.ActionRule, *store.RuleAction, bool) {
	type match struct {
		rule        store.ActionRule
		specificity int
	}

	var matches []match
	for _, rule := range e.store.GetRules(tenantID) {
		if ok, spec := ruleMatches(rule, action); ok {
			matches = append(matches, match{rule: rule, specificity: spec})
		}
	}
	if len(matches) == 0 {
		return store.ActionRule{}, nil, false
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].rule.Priority != matches[j].rule.Priority {
			return matches[i].rule.Priority > matches[j].rule.Priority
		}
		if matches[i].specificity != matches[j].specificity {
			return matches[i].specificity > matches[j].specificity
		}
		return matches[i].rule.ID < matches[j].rule.ID
	})

	winner := matches[0].rule
	return winner, resolveLevelEntry(winner.Levels, trustLevel), true
}

// resolveLevelEntry finds the level entry covering trustLevel, falling
// back to the configured range with the highest upper bound still at or
// below it. Rules are written sparsely ("0-1", "2-3"), so range fallback
// is required, not exact match.
func resolveLevelEntry(entries []store.RuleAction, trustLevel int) *store.RuleAction {
	var best *store.RuleAction
	bestTop := -1
	for i := range entries {
		la := &entries[i]
		if la.Covers(trustLevel) {
			return la
		}
		if la.ToLevel <= trustLevel && la.ToLevel > bestTop {
			best = la
			bestTop = la.ToLevel
		}
	}
	return best
}

// applyDefault is the system-wide policy for actions no rule covers:
// informational/read-only actions are allowed at any level, everything
// else is denied.
func (e *Engine) applyDefault(decision model.GateDecision, trustLevel int, action model.ProposedAction) model.GateDecision {
	if IsInformational(action.Type) {
		decision.Verdict = model.Allow
		decision.ReasonCode = model.ReasonOK
		return decision
	}
	decision.Verdict = model.Deny
	if trustLevel <= defaultMutatingMinLevel {
		decision.ReasonCode = model.ReasonTrustLevelInsufficient
	} else {
		decision.ReasonCode = model.ReasonNoMatchingRule
	}
	return decision
}

// informationalPrefixes marks action types that only read state.
var informationalPrefixes = []string{
	"answer_", "lookup_", "check_", "get_", "read_", "list_", "explain_",
}

// informationalActions are read-only action types without a marker prefix.
var informationalActions = map[string]bool{
	"answer_question": true,
	"order_status":    true,
	"faq":             true,
}

// IsInformational reports whether an action type is read-only and safe to
// allow at any trust level when no rule covers it.
func IsInformational(actionType string) bool {
	if informationalActions[actionType] {
		return true
	}
	for _, prefix := range informationalPrefixes {
		if strings.HasPrefix(actionType, prefix) {
			return true
		}
	}
	return false
}
