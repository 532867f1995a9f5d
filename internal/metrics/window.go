package metrics

import (
	"math"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

// Aggregate summarizes one metric over a rolling window. A zero Count is
// a valid answer meaning "insufficient data", never an error.
type Aggregate struct {
	Mean   float64 `json:"mean"`
	Count  int     `json:"count"`
	StdDev float64 `json:"stddev"`

	// SpanDays is the elapsed days between the oldest and newest sample
	// in the window. Promotion sustain checks compare it against each
	// metric's min_window_days.
	SpanDays float64 `json:"span_days"`

	// Min is the smallest sample value in the window. Demotion floors
	// compare against the windowed mean, promotion against Min-informed
	// sustained behavior; both need the extremes visible.
	Min float64 `json:"min"`
}

// GetWindowedMetrics computes the aggregate of one metric over the last
// windowDays of samples for a tenant.
func (c *Collector) GetWindowedMetrics(tenantID string, metric model.MetricName, windowDays int) Aggregate {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		values []float64
		oldest time.Time
		newest time.Time
	)
	for _, s := range c.samples[tenantID] {
		if s.Metric != metric || s.Timestamp.Before(cutoff) {
			continue
		}
		values = append(values, s.Value)
		if oldest.IsZero() || s.Timestamp.Before(oldest) {
			oldest = s.Timestamp
		}
		if s.Timestamp.After(newest) {
			newest = s.Timestamp
		}
	}

	if len(values) == 0 {
		return Aggregate{}
	}

	var sum float64
	min := values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	return Aggregate{
		Mean:     mean,
		Count:    len(values),
		StdDev:   math.Sqrt(variance),
		SpanDays: newest.Sub(oldest).Hours() / 24,
		Min:      min,
	}
}
