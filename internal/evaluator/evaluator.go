package evaluator

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/metrics"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/store"
)

// maxHistory bounds the score history kept on a trust state.
const maxHistory = 50

// Evaluator periodically recomputes each tenant's trust level from
// windowed metrics. It is the only writer of trust state.
type Evaluator struct {
	store     *store.Store
	collector *metrics.Collector
	ledger    *audit.Ledger
}

// New creates an Evaluator over the given stores.
func New(s *store.Store, c *metrics.Collector, l *audit.Ledger) *Evaluator {
	return &Evaluator{store: s, collector: c, ledger: l}
}

// metricReading is one metric's windowed aggregate plus its config.
type metricReading struct {
	name    model.MetricName
	setting store.MetricSetting
	agg     metrics.Aggregate
}

// EvaluateTenant runs one evaluation cycle for one tenant and records the
// outcome in the audit ledger. Every return path is a valid outcome;
// errors are reserved for infrastructure failures (store writes, ledger
// appends), which abort this tenant only.
func (e *Evaluator) EvaluateTenant(tenantID string) (model.TrustTransition, error) {
	cfg := e.store.GetMetricConfig(tenantID)
	state, err := e.store.GetTrustState(tenantID)
	if errors.Is(err, store.ErrNotFound) {
		// First evaluation for this tenant: starts at the most
		// restrictive level with version 0 for the create CAS.
		state = model.TenantTrustState{TenantID: tenantID, Level: model.MinTrustLevel}
	} else if err != nil {
		return model.TrustTransition{}, err
	}

	readings := make([]metricReading, 0, len(cfg))
	snapshot := make(map[model.MetricName]float64, len(cfg))
	for _, name := range model.KnownMetrics {
		setting, ok := cfg[name]
		if !ok {
			continue
		}
		agg := e.collector.GetWindowedMetrics(tenantID, name, setting.MinWindowDays)
		readings = append(readings, metricReading{name: name, setting: setting, agg: agg})
		snapshot[name] = agg.Mean
	}

	transition := model.TrustTransition{
		TenantID:  tenantID,
		FromLevel: state.Level,
		ToLevel:   state.Level,
		Metrics:   snapshot,
	}

	// Insufficient data for any metric holds the whole tenant: a partial
	// picture must not move a trust grant in either direction. The span
	// requirement is min_window_days-1: a window of N days can hold at
	// most N-1 days between its oldest and newest sample.
	for _, r := range readings {
		if r.agg.Count == 0 || r.agg.SpanDays < float64(r.setting.MinWindowDays-1) {
			transition.Outcome = model.OutcomeHoldInsufficientData
			transition.Reason = fmt.Sprintf("metric %s: %d samples spanning %.1f of %d required days",
				r.name, r.agg.Count, r.agg.SpanDays, r.setting.MinWindowDays)
			return transition, e.recordTransition(transition)
		}
	}

	var score float64
	for _, r := range readings {
		score += r.setting.Weight * r.agg.Mean
	}
	transition.Score = score

	// Demotion has strict priority: a critical floor breach always wins,
	// even when the weighted aggregate or a simultaneous promotion
	// eligibility looks healthy.
	for _, r := range readings {
		if r.agg.Mean < r.setting.Floor() {
			return e.demote(state, transition, r)
		}
	}

	if promotable(readings) && state.Level < model.MaxTrustLevel {
		return e.promote(state, transition)
	}

	transition.Outcome = model.OutcomeHold
	return transition, e.recordTransition(transition)
}

// promotable requires EVERY configured metric to clear its own promotion
// threshold, sustained across the full window: the worst sample in the
// window must still meet the bar. Strong performance on one metric never
// masks a failing one.
func promotable(readings []metricReading) bool {
	for _, r := range readings {
		if r.agg.Min < r.setting.PromotionThreshold {
			return false
		}
	}
	return len(readings) > 0
}

func (e *Evaluator) promote(state model.TenantTrustState, transition model.TrustTransition) (model.TrustTransition, error) {
	transition.Outcome = model.OutcomePromoted
	transition.ToLevel = model.ClampLevel(state.Level + 1)
	transition.Reason = "all metrics sustained above promotion thresholds"
	return e.writeTransition(state, transition)
}

func (e *Evaluator) demote(state model.TenantTrustState, transition model.TrustTransition, breached metricReading) (model.TrustTransition, error) {
	transition.Reason = fmt.Sprintf("metric %s at %.3f breached demotion floor %.3f",
		breached.name, breached.agg.Mean, breached.setting.Floor())

	if state.Level == model.MinTrustLevel {
		// Already at the floor of the level range; record the breach
		// without a level change.
		transition.Outcome = model.OutcomeHold
		return transition, e.recordTransition(transition)
	}

	transition.Outcome = model.OutcomeDemoted
	transition.ToLevel = model.ClampLevel(state.Level - 1)
	return e.writeTransition(state, transition)
}

// writeTransition commits a level change with the optimistic-concurrency
// check, retrying once on a version conflict before giving up with a
// conflict audit entry. The retry only proceeds when the refetched level
// still matches the one the decision was computed from; a concurrent
// level change invalidates the decision and the cycle holds instead of
// jumping the level more than one step.
func (e *Evaluator) writeTransition(state model.TenantTrustState, transition model.TrustTransition) (model.TrustTransition, error) {
	now := time.Now().UTC()
	for attempt := 0; attempt < 2; attempt++ {
		next := state
		next.Level = transition.ToLevel
		next.LevelEnteredAt = now
		next.History = appendHistory(state.History, model.TrustScoreSnapshot{
			Timestamp: now,
			Score:     transition.Score,
			Level:     transition.ToLevel,
		})

		_, err := e.store.PutTrustState(state.TenantID, next, state.Version)
		if err == nil {
			return transition, e.recordTransition(transition)
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return model.TrustTransition{}, err
		}

		fresh, ferr := e.store.GetTrustState(state.TenantID)
		if ferr != nil {
			return model.TrustTransition{}, ferr
		}
		if fresh.Level != transition.FromLevel {
			slog.Warn("evaluator: trust level changed under evaluation, holding",
				"tenant", state.TenantID,
				"evaluated_level", transition.FromLevel, "current_level", fresh.Level)
			break
		}
		slog.Warn("evaluator: trust state version conflict, retrying",
			"tenant", state.TenantID, "version", fresh.Version)
		state = fresh
	}

	transition.Outcome = model.OutcomeHoldVersionConflict
	transition.ToLevel = transition.FromLevel
	transition.Reason = "trust state changed concurrently, decision discarded"
	return transition, e.recordTransition(transition)
}

func appendHistory(history []model.TrustScoreSnapshot, snap model.TrustScoreSnapshot) []model.TrustScoreSnapshot {
	out := append(append([]model.TrustScoreSnapshot(nil), history...), snap)
	if len(out) > maxHistory {
		out = out[len(out)-maxHistory:]
	}
	return out
}

// recordTransition appends the cycle outcome, with its full metric
// snapshot, to the tenant's audit chain.
func (e *Evaluator) recordTransition(transition model.TrustTransition) error {
	if e.ledger == nil {
		return nil
	}
	t := transition
	_, err := e.ledger.Append(transition.TenantID, audit.Record{
		Kind:       audit.KindTrustTransition,
		Transition: &t,
		PolicyHash: e.store.PolicyHash(transition.TenantID),
	})
	if err != nil {
		return fmt.Errorf("evaluator: record transition: %w", err)
	}
	return nil
}
