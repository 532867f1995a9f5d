package rules

import (
	"time"

	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/store"
)

// limitWindow returns the start of the rolling window for a limit scope.
// Per-action limits have no window; they cap each action individually.
func limitWindow(scope string, now time.Time) (time.Time, bool) {
	switch scope {
	case store.ScopePerDay:
		return now.Add(-24 * time.Hour), true
	case store.ScopePerWeek:
		return now.Add(-7 * 24 * time.Hour), true
	default:
		return time.Time{}, false
	}
}

// applyLimits layers action limits on top of what the selected rule entry
// permits. The rule's max_amount is clamped to the smaller of itself and
// any active limit; count limits and exhausted cumulative budgets deny
// outright. Limits are checked in configuration order; any one of them
// can terminate with a deny.
func (e *Engine) applyLimits(decision model.GateDecision, entry store.RuleAction, action model.ProposedAction) model.GateDecision {
	now := time.Now().UTC()

	// A rule entry with no max_amount carries no cap of its own; limits
	// below may still introduce one. The bool travels with the amount so
	// a legitimate 0 cap is never confused with "uncapped".
	capAmount := entry.MaxAmount
	hasCap := entry.MaxAmount > 0
	capReason := model.ReasonCappedByRule

	for _, limit := range e.store.GetLimits(decision.TenantID) {
		if !limit.AppliesTo(action.Type) {
			continue
		}

		switch limit.Kind {
		case store.LimitCount:
			since, ok := limitWindow(limit.Scope, now)
			if !ok {
				continue
			}
			count, _ := e.metrics.ActionUsage(decision.TenantID, limit.ActionType, since)
			if float64(count) >= limit.Bound {
				decision.Verdict = model.Deny
				decision.ReasonCode = model.ReasonLimitExceeded
				return decision
			}

		case store.LimitFinancial:
			if since, ok := limitWindow(limit.Scope, now); ok {
				_, spent := e.metrics.ActionUsage(decision.TenantID, limit.ActionType, since)
				remaining := limit.Bound - spent
				if remaining <= 0 {
					decision.Verdict = model.Deny
					decision.ReasonCode = model.ReasonLimitExceeded
					return decision
				}
				if !hasCap || remaining < capAmount {
					capAmount = remaining
					hasCap = true
					capReason = model.ReasonCappedByLimit
				}
				continue
			}
			// Per-action financial cap. A zero bound permits no spend at
			// all, matching an exhausted cumulative budget.
			if limit.Bound == 0 {
				decision.Verdict = model.Deny
				decision.ReasonCode = model.ReasonLimitExceeded
				return decision
			}
			if !hasCap || limit.Bound < capAmount {
				capAmount = limit.Bound
				hasCap = true
				capReason = model.ReasonCappedByLimit
			}
		}
	}

	obligations := make(map[string]any)
	if entry.RequireEscalation {
		obligations["require_escalation"] = true
	}
	if entry.Action != "" && entry.Action != action.Type {
		obligations["action"] = entry.Action
	}

	decision.Verdict = model.Allow
	decision.ReasonCode = model.ReasonOK

	if hasCap {
		obligations["max_amount"] = capAmount
		amount, hasAmount := action.Amount()
		if !hasAmount || amount > capAmount {
			decision.Verdict = model.AllowWithLimit
			decision.ReasonCode = capReason
		}
	}

	if len(obligations) > 0 {
		decision.Obligations = obligations
	}
	return decision
}
