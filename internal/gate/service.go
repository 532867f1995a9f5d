package gate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/metrics"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/rules"
	"github.com/ppiankov/trustgate/internal/store"
)

// ledgerAppender is the slice of the audit ledger the gate needs.
type ledgerAppender interface {
	Append(tenantID string, rec audit.Record) (int64, error)
}

// Service is the synchronous decision point external agents call before
// executing a sensitive action. Every decision is appended to the audit
// ledger before it is returned; an unauditable allow is a compliance
// violation, so a failed append downgrades the decision to a deny.
type Service struct {
	store     *store.Store
	engine    *rules.Engine
	ledger    ledgerAppender
	collector *metrics.Collector
}

// New creates a gate service over the given stores.
func New(s *store.Store, e *rules.Engine, l ledgerAppender, c *metrics.Collector) *Service {
	return &Service{store: s, engine: e, ledger: l, collector: c}
}

// CheckAndLog decides whether the agent may perform the proposed action
// for the tenant right now. The call fails closed: a cancelled context or
// an audit ledger failure yields a deny, never an error.
func (g *Service) CheckAndLog(ctx context.Context, tenantID, agentID string, action model.ProposedAction) model.GateDecision {
	decisionID := "d-" + uuid.NewString()

	if err := ctx.Err(); err != nil {
		return model.GateDecision{
			DecisionID: decisionID,
			TenantID:   tenantID,
			AgentID:    agentID,
			Action:     action,
			Verdict:    model.Deny,
			ReasonCode: model.ReasonEvaluationError,
		}
	}

	// Unknown tenants get a deterministic answer at the most restrictive
	// level rather than an error.
	level := model.MinTrustLevel
	known := g.store.HasTenant(tenantID)
	if st, err := g.store.GetTrustState(tenantID); err == nil {
		level = st.Level
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Error("gate: trust state read failed", "tenant", tenantID, "err", err)
	}

	decision := g.engine.Evaluate(tenantID, level, action)
	decision.DecisionID = decisionID
	decision.AgentID = agentID

	if !known && decision.Verdict == model.Deny && decision.ReasonCode == model.ReasonTrustLevelInsufficient {
		decision.ReasonCode = model.ReasonTenantNotFound
	}

	if err := g.append(decision); err != nil {
		slog.Error("gate: audit append failed, failing closed",
			"tenant", tenantID, "decision", decisionID, "err", err)
		decision.Verdict = model.Deny
		decision.ReasonCode = model.ReasonAuditUnavailable
		decision.Obligations = nil
		return decision
	}

	if decision.Verdict != model.Deny && g.collector != nil {
		if err := g.collector.RecordUsage(tenantID, action.Type, grantedAmount(decision)); err != nil {
			slog.Warn("gate: usage record failed", "tenant", tenantID, "err", err)
		}
	}
	return decision
}

func (g *Service) append(decision model.GateDecision) error {
	d := decision
	_, err := g.ledger.Append(decision.TenantID, audit.Record{
		Kind:       audit.KindGateDecision,
		Decision:   &d,
		PolicyHash: g.store.PolicyHash(decision.TenantID),
	})
	return err
}

// grantedAmount is what the caller may actually spend: the requested
// amount clamped to any max_amount obligation. This is what cumulative
// financial limits charge against.
func grantedAmount(decision model.GateDecision) float64 {
	amount, ok := decision.Action.Amount()
	if capAmount, hasCap := model.ToFloat(decision.Obligations["max_amount"]); hasCap {
		if !ok || amount > capAmount {
			return capAmount
		}
	}
	if !ok {
		return 0
	}
	return amount
}
