// Package worker keeps this node's engine in step with rule changes made
// on other nodes.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opensource-finance/chargeflow/internal/bus"
	"github.com/opensource-finance/chargeflow/internal/domain"
)

// Refresher reloads the active rule snapshot.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Worker refreshes the engine when another node publishes a rule change,
// and optionally on a cron schedule as a safety net for missed events.
type Worker struct {
	bus    domain.EventBus
	engine Refresher

	mu   sync.Mutex
	subs []domain.Subscription
	cron *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	refreshes atomic.Int64
	skipped   atomic.Int64
	resyncs   atomic.Int64
}

// NewWorker creates a rule sync worker.
func NewWorker(eventBus domain.EventBus, engine Refresher) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    eventBus,
		engine: engine,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ScheduleResync registers a periodic full refresh. spec accepts the
// standard five-field cron syntax and descriptors such as "@every 5m".
// It must be called before Start.
func (w *Worker) ScheduleResync(spec string) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, w.resync); err != nil {
		return fmt.Errorf("resync schedule %q: %w", spec, err)
	}
	w.mu.Lock()
	w.cron = c
	w.mu.Unlock()
	return nil
}

func (w *Worker) resync() {
	if err := w.engine.Refresh(w.ctx); err != nil {
		slog.Error("scheduled rule resync failed", "error", err)
		return
	}
	w.resyncs.Add(1)
	slog.Debug("scheduled rule resync done")
}

// Start subscribes to rule change events and starts the resync schedule.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRuleChanged, w.onRuleChanged)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicRuleChanged, err)
	}

	w.mu.Lock()
	w.subs = append(w.subs, sub)
	if w.cron != nil {
		w.cron.Start()
	}
	w.mu.Unlock()

	slog.Info("rule sync worker started", "topic", domain.TopicRuleChanged, "scheduled_resync", w.cron != nil)
	return nil
}

// onRuleChanged skips events this node published: the lifecycle already
// refreshed the local snapshot before publishing.
func (w *Worker) onRuleChanged(ctx context.Context, msg *domain.Message) error {
	if msg.Source == bus.NodeID() {
		w.skipped.Add(1)
		return nil
	}

	var event domain.RuleEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode rule event %s: %w", msg.ID, err)
	}

	start := time.Now()
	if err := w.engine.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh after rule %s %s: %w", event.RuleID, event.Action, err)
	}
	w.refreshes.Add(1)

	slog.Info("rules refreshed from remote event",
		"rule_id", event.RuleID,
		"rule_code", event.RuleCode,
		"action", event.Action,
		"source", msg.Source,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop cancels in-flight refreshes, waits for a running resync and drops
// the subscriptions.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
	for _, sub := range w.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("unsubscribe failed", "topic", sub.Topic(), "error", err)
		}
	}
	w.subs = nil

	slog.Info("rule sync worker stopped")
	return nil
}

// Stats reports what the worker has done since it started.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Refreshes         int64    `json:"refreshes"`
	SkippedLocal      int64    `json:"skippedLocal"`
	ScheduledResyncs  int64    `json:"scheduledResyncs"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, 0, len(w.subs))
	for _, sub := range w.subs {
		topics = append(topics, sub.Topic())
	}
	return Stats{
		SubscriptionCount: len(w.subs),
		Topics:            topics,
		Refreshes:         w.refreshes.Load(),
		SkippedLocal:      w.skipped.Load(),
		ScheduledResyncs:  w.resyncs.Load(),
	}
}
