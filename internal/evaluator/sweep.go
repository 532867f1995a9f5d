package evaluator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultWorkers bounds the sweep's parallelism so one slow tenant never
// delays the fleet while still keeping resource use predictable.
const defaultWorkers = 4

// SweepResult summarizes one full evaluation pass.
type SweepResult struct {
	Tenants   int
	Evaluated int
	Failed    int
}

// RunOnce evaluates every known tenant with a bounded worker pool.
// Tenants are independent failure domains: an error is logged and counted,
// never propagated to the rest of the batch. Cancellation is honored
// between tenants, never mid-evaluation, so no tenant is left with a
// partial write.
func (e *Evaluator) RunOnce(ctx context.Context, workers int) SweepResult {
	if workers <= 0 {
		workers = defaultWorkers
	}

	tenants := e.store.Tenants()
	result := SweepResult{Tenants: len(tenants)}

	work := make(chan string)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tenantID := range work {
				transition, err := e.EvaluateTenant(tenantID)
				mu.Lock()
				if err != nil {
					result.Failed++
				} else {
					result.Evaluated++
				}
				mu.Unlock()

				if err != nil {
					slog.Error("evaluator: tenant evaluation failed",
						"tenant", tenantID, "err", err)
					continue
				}
				slog.Debug("evaluator: tenant evaluated",
					"tenant", tenantID,
					"outcome", transition.Outcome,
					"from", transition.FromLevel,
					"to", transition.ToLevel,
					"score", transition.Score)
			}
		}()
	}

feed:
	for _, tenantID := range tenants {
		select {
		case <-ctx.Done():
			break feed
		case work <- tenantID:
		}
	}
	close(work)
	wg.Wait()

	return result
}

// Run sweeps on the given interval until ctx is cancelled. An initial
// sweep runs immediately.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration, workers int) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	sweep := func() {
		start := time.Now()
		result := e.RunOnce(ctx, workers)
		slog.Info("evaluator: sweep complete",
			"tenants", result.Tenants,
			"evaluated", result.Evaluated,
			"failed", result.Failed,
			"elapsed", time.Since(start))
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
