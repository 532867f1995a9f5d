package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/evaluator"
	"github.com/ppiankov/trustgate/internal/metrics"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/rules"
	"github.com/ppiankov/trustgate/internal/store"
)

const gatePolicy = `
tenant_id: acme
rules:
  - id: refund-small
    action_type: issue_refund
    levels:
      - from_level: 2
        to_level: 5
        action: issue_refund
        max_amount: 25
limits:
  - kind: financial
    scope: per_day
    action_type: issue_refund
    bound: 100
metrics:
  accuracy: {weight: 1.0, promotion_threshold: 0.9, demotion_threshold: 0.7, min_window_days: 3}
`

func newTestGate(t *testing.T) (*Service, *store.Store, *metrics.Collector, *audit.Ledger) {
	t.Helper()
	s := store.NewMemory()
	if _, err := s.PutPolicy("acme", []byte(gatePolicy)); err != nil {
		t.Fatalf("put policy: %v", err)
	}
	if _, err := s.PutTrustState("acme", model.TenantTrustState{TenantID: "acme", Level: 3}, 0); err != nil {
		t.Fatalf("put state: %v", err)
	}
	c := metrics.NewMemory()
	l, err := audit.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return New(s, rules.New(s, c), l, c), s, c, l
}

func refund(amount float64) model.ProposedAction {
	return model.ProposedAction{Type: "issue_refund", Params: map[string]any{"amount": amount}}
}

func TestDecisionIsAuditedBeforeReturn(t *testing.T) {
	g, s, _, l := newTestGate(t)

	d := g.CheckAndLog(context.Background(), "acme", "agent-1", refund(10))
	if d.Verdict != model.Allow || d.ReasonCode != model.ReasonOK {
		t.Fatalf("verdict = %s/%s, want allow/OK", d.Verdict, d.ReasonCode)
	}
	if d.DecisionID == "" || d.AgentID != "agent-1" {
		t.Fatalf("decision identity not filled: %+v", d)
	}

	recs, err := l.Query("acme", 0, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("audit records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Kind != audit.KindGateDecision || rec.Decision == nil {
		t.Fatalf("record kind = %s, decision = %v", rec.Kind, rec.Decision)
	}
	if rec.Decision.DecisionID != d.DecisionID {
		t.Fatalf("audited decision id %q != returned %q", rec.Decision.DecisionID, d.DecisionID)
	}
	if rec.PolicyHash != s.PolicyHash("acme") {
		t.Fatalf("policy hash = %q, want %q", rec.PolicyHash, s.PolicyHash("acme"))
	}
}

type failingLedger struct{}

func (failingLedger) Append(string, audit.Record) (int64, error) {
	return 0, errors.New("disk full")
}

func TestFailsClosedWhenAuditUnavailable(t *testing.T) {
	g, s, c, _ := newTestGate(t)
	g = New(s, rules.New(s, c), failingLedger{}, c)

	d := g.CheckAndLog(context.Background(), "acme", "agent-1", refund(10))
	if d.Verdict != model.Deny {
		t.Fatalf("verdict = %s, want deny", d.Verdict)
	}
	if d.ReasonCode != model.ReasonAuditUnavailable {
		t.Fatalf("reason = %s, want %s", d.ReasonCode, model.ReasonAuditUnavailable)
	}
	if len(d.Obligations) != 0 {
		t.Fatalf("denied decision carries obligations: %v", d.Obligations)
	}

	// An unaudited allow must not charge usage either.
	count, total := c.ActionUsage("acme", "issue_refund", time.Now().Add(-time.Hour))
	if count != 0 || total != 0 {
		t.Fatalf("usage recorded despite fail-closed deny: count=%d total=%v", count, total)
	}
}

func TestUnknownTenantDefaultsToLevelZero(t *testing.T) {
	g, _, _, _ := newTestGate(t)

	d := g.CheckAndLog(context.Background(), "ghost", "agent-1", refund(5))
	if d.Verdict != model.Deny {
		t.Fatalf("verdict = %s, want deny", d.Verdict)
	}
	if d.ReasonCode != model.ReasonTenantNotFound {
		t.Fatalf("reason = %s, want %s", d.ReasonCode, model.ReasonTenantNotFound)
	}
	if d.TrustLevel != model.MinTrustLevel {
		t.Fatalf("trust level = %d, want %d", d.TrustLevel, model.MinTrustLevel)
	}

	info := g.CheckAndLog(context.Background(), "ghost", "agent-1",
		model.ProposedAction{Type: "answer_question"})
	if info.Verdict != model.Allow || info.ReasonCode != model.ReasonOK {
		t.Fatalf("informational verdict = %s/%s, want allow/OK", info.Verdict, info.ReasonCode)
	}
}

func TestGrantedUsageIsClampedToCap(t *testing.T) {
	g, _, c, _ := newTestGate(t)

	// Requested 80 is capped at the rule's 25; only the grant counts
	// against the daily budget.
	d := g.CheckAndLog(context.Background(), "acme", "agent-1", refund(80))
	if d.Verdict != model.AllowWithLimit {
		t.Fatalf("verdict = %s, want allow_with_limit", d.Verdict)
	}
	count, total := c.ActionUsage("acme", "issue_refund", time.Now().Add(-time.Hour))
	if count != 1 || total != 25 {
		t.Fatalf("usage count=%d total=%v, want 1/25", count, total)
	}
}

func TestDailyBudgetDrainsAcrossCalls(t *testing.T) {
	g, _, _, _ := newTestGate(t)

	for i := 0; i < 4; i++ {
		d := g.CheckAndLog(context.Background(), "acme", "agent-1", refund(25))
		if d.Verdict == model.Deny {
			t.Fatalf("call %d: verdict = %s/%s, want an allow", i, d.Verdict, d.ReasonCode)
		}
	}
	d := g.CheckAndLog(context.Background(), "acme", "agent-1", refund(25))
	if d.Verdict != model.Deny || d.ReasonCode != model.ReasonLimitExceeded {
		t.Fatalf("fifth call verdict = %s/%s, want deny/%s", d.Verdict, d.ReasonCode, model.ReasonLimitExceeded)
	}
}

func TestCancelledContextFailsClosed(t *testing.T) {
	g, _, _, l := newTestGate(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := g.CheckAndLog(ctx, "acme", "agent-1", refund(5))
	if d.Verdict != model.Deny || d.ReasonCode != model.ReasonEvaluationError {
		t.Fatalf("verdict = %s/%s, want deny/%s", d.Verdict, d.ReasonCode, model.ReasonEvaluationError)
	}
	recs, err := l.Query("acme", 0, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("cancelled call still audited %d records", len(recs))
	}
}

// Full loop: poor verified outcomes demote the tenant, and the next gate
// check reflects the tightened grant.
func TestDemotionTightensGate(t *testing.T) {
	g, s, c, l := newTestGate(t)

	if _, err := s.PutTrustState("acme", model.TenantTrustState{TenantID: "acme", Level: 2}, 1); err != nil {
		t.Fatalf("set level: %v", err)
	}

	before := g.CheckAndLog(context.Background(), "acme", "agent-1", refund(10))
	if before.Verdict != model.Allow {
		t.Fatalf("verdict before demotion = %s/%s, want allow", before.Verdict, before.ReasonCode)
	}

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		sample := model.TrustMetricSample{
			TenantID:  "acme",
			Metric:    model.MetricAccuracy,
			Value:     0.4,
			Timestamp: now.Add(-time.Duration(i) * 24 * time.Hour),
			ActionID:  "bad-" + string(rune('0'+i)),
		}
		if err := c.RecordOutcome("acme", sample.ActionID, []model.TrustMetricSample{sample}); err != nil {
			t.Fatalf("record outcome: %v", err)
		}
	}

	ev := evaluator.New(s, c, l)
	tr, err := ev.EvaluateTenant("acme")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if tr.Outcome != model.OutcomeDemoted || tr.ToLevel != 1 {
		t.Fatalf("transition = %s to %d, want demoted to 1", tr.Outcome, tr.ToLevel)
	}

	after := g.CheckAndLog(context.Background(), "acme", "agent-1", refund(10))
	if after.Verdict != model.Deny || after.ReasonCode != model.ReasonTrustLevelInsufficient {
		t.Fatalf("verdict after demotion = %s/%s, want deny/%s",
			after.Verdict, after.ReasonCode, model.ReasonTrustLevelInsufficient)
	}
}

func TestDecisionIDsAreUnique(t *testing.T) {
	g, _, _, _ := newTestGate(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		d := g.CheckAndLog(context.Background(), "acme", "agent-1", refund(1))
		if seen[d.DecisionID] {
			t.Fatalf("duplicate decision id %q", d.DecisionID)
		}
		seen[d.DecisionID] = true
	}
}
