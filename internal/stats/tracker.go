// Package stats keeps the operational counters shown on the dashboard.
package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/shopspring/decimal"
)

// System statuses.
const (
	StatusOperational = "OPERATIONAL"
	StatusDegraded    = "DEGRADED"
)

// counterWindow outlives a UTC day so the daily key never expires early.
const counterWindow = 48 * time.Hour

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Statistics is the payload of the charge statistics endpoint.
type Statistics struct {
	SystemStatus                string          `json:"systemStatus"`
	TotalCalculationsToday      int64           `json:"totalCalculationsToday"`
	TotalChargesCalculated      decimal.Decimal `json:"totalChargesCalculated"`
	AverageChargePerTransaction decimal.Decimal `json:"averageChargePerTransaction"`
}

// Tracker counts successful calculations. The daily count is kept in the
// shared cache when one is configured, so every node reports the same day
// total; charge totals are per process.
type Tracker struct {
	counters domain.Cache
	health   Pinger
	now      func() time.Time

	mu    sync.Mutex
	day   string
	today int64
	count int64
	total decimal.Decimal
}

// NewTracker creates a tracker. counters may be nil.
func NewTracker(counters domain.Cache, health Pinger) *Tracker {
	return &Tracker{
		counters: counters,
		health:   health,
		now:      time.Now,
		total:    decimal.Zero,
	}
}

// Record counts one successful calculation.
func (t *Tracker) Record(ctx context.Context, result *domain.CalculationResult) {
	if result == nil {
		return
	}
	day := t.now().UTC().Format(time.DateOnly)

	var shared int64
	if t.counters != nil {
		n, err := t.counters.IncrementCounter(ctx, "calculations:"+day, counterWindow)
		if err != nil {
			slog.Debug("daily counter increment failed", "error", err)
		} else {
			shared = n
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if day != t.day {
		t.day = day
		t.today = 0
	}
	if shared > 0 {
		t.today = max(t.today, shared)
	} else {
		t.today++
	}
	t.count++
	t.total = t.total.Add(result.TotalCharges)
}

// RecordBatch counts every successful calculation in a batch.
func (t *Tracker) RecordBatch(ctx context.Context, result *domain.BatchResult) {
	if result == nil {
		return
	}
	for _, r := range result.Results {
		t.Record(ctx, r)
	}
}

// Snapshot returns the current counters and system status.
func (t *Tracker) Snapshot(ctx context.Context) Statistics {
	status := StatusOperational
	if t.health != nil {
		if err := t.health.Ping(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			status = StatusDegraded
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	today := t.today
	if t.day != t.now().UTC().Format(time.DateOnly) {
		today = 0
	}

	avg := decimal.Zero
	if t.count > 0 {
		avg = t.total.DivRound(decimal.NewFromInt(t.count), 2)
	}

	return Statistics{
		SystemStatus:                status,
		TotalCalculationsToday:      today,
		TotalChargesCalculated:      t.total.Round(2),
		AverageChargePerTransaction: avg,
	}
}
