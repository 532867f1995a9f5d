package rules

import (
	"testing"

	"github.com/ppiankov/trustgate/internal/model"
)

const refundPolicy = `
tenant_id: acme
rules:
  - id: refunds
    action_type: issue_refund
    levels:
      - {from_level: 2, to_level: 5, action: issue_refund, max_amount: 50}
limits:
  - {kind: financial, scope: per_action, action_type: issue_refund, bound: 30}
  - {kind: financial, scope: per_day, action_type: issue_refund, bound: 100}
  - {kind: count, scope: per_day, action_type: issue_refund, bound: 3}
`

func TestPerActionLimitClampsBelowRuleCap(t *testing.T) {
	e, _, _ := newTestEngine(t, refundPolicy)

	d := e.Evaluate("acme", 3, action("issue_refund", map[string]any{"amount": 40.0}))
	if d.Verdict != model.AllowWithLimit {
		t.Fatalf("expected allow_with_limit, got %s (%s)", d.Verdict, d.ReasonCode)
	}
	if d.ReasonCode != model.ReasonCappedByLimit {
		t.Fatalf("expected CAPPED_BY_LIMIT, got %s", d.ReasonCode)
	}
	if d.Obligations["max_amount"] != 30.0 {
		t.Fatalf("expected cap 30 (limit under rule's 50), got %v", d.Obligations)
	}
}

func TestDailyFinancialBudgetShrinksCap(t *testing.T) {
	e, _, c := newTestEngine(t, refundPolicy)

	// 80 of the 100 daily budget already spent: remaining 20 beats both
	// the rule cap (50) and the per-action limit (30).
	c.RecordUsage("acme", "issue_refund", 80)

	d := e.Evaluate("acme", 3, action("issue_refund", map[string]any{"amount": 25.0}))
	if d.Verdict != model.AllowWithLimit || d.ReasonCode != model.ReasonCappedByLimit {
		t.Fatalf("expected allow_with_limit/CAPPED_BY_LIMIT, got %s/%s", d.Verdict, d.ReasonCode)
	}
	if d.Obligations["max_amount"] != 20.0 {
		t.Fatalf("expected remaining budget 20, got %v", d.Obligations)
	}
}

func TestExhaustedDailyBudgetDenies(t *testing.T) {
	e, _, c := newTestEngine(t, refundPolicy)
	c.RecordUsage("acme", "issue_refund", 100)

	d := e.Evaluate("acme", 3, action("issue_refund", map[string]any{"amount": 1.0}))
	if d.Verdict != model.Deny || d.ReasonCode != model.ReasonLimitExceeded {
		t.Fatalf("expected deny/LIMIT_EXCEEDED, got %s/%s", d.Verdict, d.ReasonCode)
	}
}

func TestCountLimitDenies(t *testing.T) {
	e, _, c := newTestEngine(t, refundPolicy)
	for i := 0; i < 3; i++ {
		c.RecordUsage("acme", "issue_refund", 10)
	}

	d := e.Evaluate("acme", 3, action("issue_refund", map[string]any{"amount": 5.0}))
	if d.Verdict != model.Deny || d.ReasonCode != model.ReasonLimitExceeded {
		t.Fatalf("expected deny/LIMIT_EXCEEDED after 3 refunds, got %s/%s", d.Verdict, d.ReasonCode)
	}
}

func TestZeroFinancialBoundPermitsNoSpend(t *testing.T) {
	// A configured 0 is a freeze, not the absence of a limit: it must
	// never erase the rule's own cap and let the action through uncapped.
	policy := `
tenant_id: acme
rules:
  - id: refunds
    action_type: issue_refund
    levels:
      - {from_level: 2, to_level: 5, action: issue_refund, max_amount: 50}
limits:
  - {kind: financial, scope: per_action, action_type: issue_refund, bound: 0}
`
	e, _, _ := newTestEngine(t, policy)
	d := e.Evaluate("acme", 3, action("issue_refund", map[string]any{"amount": 40.0}))
	if d.Verdict != model.Deny || d.ReasonCode != model.ReasonLimitExceeded {
		t.Fatalf("expected deny/LIMIT_EXCEEDED for zero bound, got %s/%s obligations=%v",
			d.Verdict, d.ReasonCode, d.Obligations)
	}
}

func TestZeroDailyBudgetDenies(t *testing.T) {
	policy := `
tenant_id: acme
rules:
  - id: refunds
    action_type: issue_refund
    levels:
      - {from_level: 2, to_level: 5, action: issue_refund, max_amount: 50}
limits:
  - {kind: financial, scope: per_day, action_type: issue_refund, bound: 0}
`
	e, _, _ := newTestEngine(t, policy)
	d := e.Evaluate("acme", 3, action("issue_refund", map[string]any{"amount": 1.0}))
	if d.Verdict != model.Deny || d.ReasonCode != model.ReasonLimitExceeded {
		t.Fatalf("expected deny/LIMIT_EXCEEDED for zero budget, got %s/%s", d.Verdict, d.ReasonCode)
	}
}

func TestLimitScopedToOtherActionTypeDoesNotApply(t *testing.T) {
	policy := `
tenant_id: acme
rules:
  - id: credits
    action_type: offer_credit
    levels:
      - {from_level: 1, to_level: 5, action: offer_credit, max_amount: 15}
limits:
  - {kind: financial, scope: per_action, action_type: issue_refund, bound: 1}
`
	e, _, _ := newTestEngine(t, policy)
	d := e.Evaluate("acme", 2, action("offer_credit", map[string]any{"amount": 12.0}))
	if d.Verdict != model.Allow {
		t.Fatalf("expected allow (refund limit must not apply), got %s (%s)", d.Verdict, d.ReasonCode)
	}
}

func TestWildcardLimitAppliesToAllActions(t *testing.T) {
	policy := `
tenant_id: acme
rules:
  - id: credits
    action_type: offer_credit
    levels:
      - {from_level: 1, to_level: 5, action: offer_credit}
limits:
  - {kind: financial, scope: per_action, action_type: "*", bound: 8}
`
	e, _, _ := newTestEngine(t, policy)
	d := e.Evaluate("acme", 2, action("offer_credit", map[string]any{"amount": 20.0}))
	if d.Verdict != model.AllowWithLimit || d.Obligations["max_amount"] != 8.0 {
		t.Fatalf("expected wildcard cap 8, got %s %v", d.Verdict, d.Obligations)
	}
}
