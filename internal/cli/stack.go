package cli

import (
	"fmt"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/evaluator"
	"github.com/ppiankov/trustgate/internal/gate"
	"github.com/ppiankov/trustgate/internal/metrics"
	"github.com/ppiankov/trustgate/internal/rules"
	"github.com/ppiankov/trustgate/internal/store"
)

// stack is the assembled trustgate engine: stores, ledger, gate, and
// evaluator over the configured directories.
type stack struct {
	store     *store.Store
	collector *metrics.Collector
	ledger    *audit.Ledger
	gate      *gate.Service
	evaluator *evaluator.Evaluator
}

func openStack(cfg *ServiceConfig) (*stack, error) {
	s, err := store.Open(cfg.DataDir, cfg.PolicyDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c, err := metrics.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open outcome collector: %w", err)
	}
	l, err := audit.Open(cfg.AuditDir)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("open audit ledger: %w", err)
	}

	return &stack{
		store:     s,
		collector: c,
		ledger:    l,
		gate:      gate.New(s, rules.New(s, c), l, c),
		evaluator: evaluator.New(s, c, l),
	}, nil
}

func (st *stack) Close() {
	st.collector.Close()
	st.ledger.Close()
}
