package metrics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

// journalLine is one append in the collector's JSONL journal. Outcome
// lines rebuild samples and the dedup set on reopen; usage lines rebuild
// the per-action counters the rule engine's cumulative limits read.
type journalLine struct {
	Kind       string                    `json:"kind"` // "outcome" | "usage"
	TenantID   string                    `json:"tenant_id"`
	ActionID   string                    `json:"action_id,omitempty"`
	Samples    []model.TrustMetricSample `json:"samples,omitempty"`
	ActionType string                    `json:"action_type,omitempty"`
	Amount     float64                   `json:"amount,omitempty"`
	Timestamp  time.Time                 `json:"ts"`
}

// usageEntry is one allowed action, kept for cumulative limit windows.
type usageEntry struct {
	actionType string
	amount     float64
	ts         time.Time
}

// Collector ingests per-action outcome events and maintains rolling
// windows per tenant. Writes are idempotent per action id: at-least-once
// reporters can retry freely.
type Collector struct {
	mu      sync.RWMutex
	samples map[string][]model.TrustMetricSample
	seen    map[string]bool // tenantID + "\x00" + actionID
	usage   map[string][]usageEntry

	path string
	file *os.File // nil when journaling is disabled
}

// NewMemory creates a Collector with no journal.
func NewMemory() *Collector {
	return &Collector{
		samples: make(map[string][]model.TrustMetricSample),
		seen:    make(map[string]bool),
		usage:   make(map[string][]usageEntry),
	}
}

// Open creates a Collector journaled to dir/outcomes.jsonl, replaying any
// existing journal to rebuild in-memory state.
func Open(dir string) (*Collector, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("metrics: create directory: %w", err)
	}
	c := NewMemory()

	path := filepath.Join(dir, "outcomes.jsonl")
	if data, err := os.ReadFile(path); err == nil {
		if err := c.replay(data); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("metrics: read journal: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("metrics: open journal: %w", err)
	}
	c.path = path
	c.file = file
	return c, nil
}

func (c *Collector) replay(data []byte) error {
	for len(data) > 0 {
		nl := 0
		for nl < len(data) && data[nl] != '\n' {
			nl++
		}
		line := data[:nl]
		if nl < len(data) {
			data = data[nl+1:]
		} else {
			data = nil
		}
		if len(line) == 0 {
			continue
		}

		var jl journalLine
		if err := json.Unmarshal(line, &jl); err != nil {
			return fmt.Errorf("metrics: parse journal line: %w", err)
		}
		switch jl.Kind {
		case "outcome":
			c.applyOutcome(jl.TenantID, jl.ActionID, jl.Samples)
		case "usage":
			c.usage[jl.TenantID] = append(c.usage[jl.TenantID], usageEntry{
				actionType: jl.ActionType,
				amount:     jl.Amount,
				ts:         jl.Timestamp,
			})
		}
	}
	return nil
}

// Close flushes and closes the journal.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

func dedupKey(tenantID, actionID string) string {
	return tenantID + "\x00" + actionID
}

// RecordOutcome stores the metric samples reported for one action.
// Recording the same action id twice is a no-op, not an error.
func (c *Collector) RecordOutcome(tenantID, actionID string, samples []model.TrustMetricSample) error {
	if tenantID == "" {
		return fmt.Errorf("metrics: missing tenant id")
	}
	if actionID == "" {
		return fmt.Errorf("metrics: missing action id")
	}
	for _, s := range samples {
		if !model.IsKnownMetric(s.Metric) {
			return fmt.Errorf("metrics: unknown metric %q", s.Metric)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seen[dedupKey(tenantID, actionID)] {
		return nil
	}
	c.applyOutcome(tenantID, actionID, samples)

	return c.journal(journalLine{
		Kind:      "outcome",
		TenantID:  tenantID,
		ActionID:  actionID,
		Samples:   c.samples[tenantID][len(c.samples[tenantID])-len(samples):],
		Timestamp: time.Now().UTC(),
	})
}

// applyOutcome mutates in-memory state. Caller holds c.mu (or is the
// single-threaded replay path).
func (c *Collector) applyOutcome(tenantID, actionID string, samples []model.TrustMetricSample) {
	c.seen[dedupKey(tenantID, actionID)] = true
	now := time.Now().UTC()
	for _, s := range samples {
		s.TenantID = tenantID
		s.ActionID = actionID
		if s.Timestamp.IsZero() {
			s.Timestamp = now
		}
		c.samples[tenantID] = append(c.samples[tenantID], s)
	}
}

// RecordUsage notes one allowed action for cumulative limit accounting.
func (c *Collector) RecordUsage(tenantID, actionType string, amount float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := time.Now().UTC()
	c.usage[tenantID] = append(c.usage[tenantID], usageEntry{
		actionType: actionType,
		amount:     amount,
		ts:         ts,
	})
	return c.journal(journalLine{
		Kind:       "usage",
		TenantID:   tenantID,
		ActionType: actionType,
		Amount:     amount,
		Timestamp:  ts,
	})
}

// journal appends a line to the journal file. Caller holds c.mu.
func (c *Collector) journal(jl journalLine) error {
	if c.file == nil {
		return nil
	}
	line, err := json.Marshal(jl)
	if err != nil {
		return fmt.Errorf("metrics: marshal journal line: %w", err)
	}
	if _, err := c.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("metrics: write journal: %w", err)
	}
	return nil
}

// ActionUsage returns the count and summed amount of allowed actions for
// the tenant and action type since the given time.
func (c *Collector) ActionUsage(tenantID, actionType string, since time.Time) (int, float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var count int
	var total float64
	for _, u := range c.usage[tenantID] {
		if u.ts.Before(since) {
			continue
		}
		if actionType != "" && actionType != "*" && u.actionType != actionType {
			continue
		}
		count++
		total += u.amount
	}
	return count, total
}

// Prune drops samples and usage entries older than the retention cutoff,
// then compacts the journal so the dropped lines do not come back on the
// next Open and the file does not grow without bound.
func (c *Collector) Prune(cutoff time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for tenant, samples := range c.samples {
		kept := samples[:0]
		for _, s := range samples {
			if !s.Timestamp.Before(cutoff) {
				kept = append(kept, s)
			}
		}
		c.samples[tenant] = kept
	}
	for tenant, entries := range c.usage {
		kept := entries[:0]
		for _, u := range entries {
			if !u.ts.Before(cutoff) {
				kept = append(kept, u)
			}
		}
		c.usage[tenant] = kept
	}
	return c.compact()
}

// compact rewrites the journal from in-memory state via temp file and
// rename, then swaps the append handle. Caller holds c.mu.
func (c *Collector) compact() error {
	if c.file == nil {
		return nil
	}

	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("metrics: create compacted journal: %w", err)
	}
	enc := json.NewEncoder(f)
	write := func(jl journalLine) error {
		if err := enc.Encode(jl); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("metrics: write compacted journal: %w", err)
		}
		return nil
	}
	for tenant, samples := range c.samples {
		// Samples sharing an action id are contiguous, one run per
		// recorded outcome. Emit one line per run so replay rebuilds
		// the dedup set.
		for i := 0; i < len(samples); {
			j := i
			for j < len(samples) && samples[j].ActionID == samples[i].ActionID {
				j++
			}
			err := write(journalLine{
				Kind:      "outcome",
				TenantID:  tenant,
				ActionID:  samples[i].ActionID,
				Samples:   samples[i:j],
				Timestamp: samples[i].Timestamp,
			})
			if err != nil {
				return err
			}
			i = j
		}
	}
	for tenant, entries := range c.usage {
		for _, u := range entries {
			err := write(journalLine{
				Kind:       "usage",
				TenantID:   tenant,
				ActionType: u.actionType,
				Amount:     u.amount,
				Timestamp:  u.ts,
			})
			if err != nil {
				return err
			}
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("metrics: sync compacted journal: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("metrics: close compacted journal: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("metrics: swap compacted journal: %w", err)
	}

	file, err := os.OpenFile(c.path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("metrics: reopen journal: %w", err)
	}
	c.file.Close()
	c.file = file
	return nil
}

// RunRetention prunes on a timer until done is closed.
func (c *Collector) RunRetention(done <-chan struct{}, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.Prune(time.Now().UTC().Add(-retention)); err != nil {
				slog.Warn("metrics retention prune failed", "error", err)
			}
		}
	}
}
