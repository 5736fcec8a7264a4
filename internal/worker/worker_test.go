package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/chargeflow/internal/bus"
	"github.com/opensource-finance/chargeflow/internal/domain"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *countingRefresher) Refresh(ctx context.Context) error {
	r.calls.Add(1)
	return r.err
}

func ruleEventPayload(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.RuleEvent{RuleID: "r1", RuleCode: "ATM01", Action: "approve"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return payload
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &countingRefresher{})
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicRuleChanged {
			t.Errorf("unexpected stats after start: %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if w.GetStats().SubscriptionCount != 0 {
			t.Error("expected no subscriptions after stop")
		}
	})

	t.Run("SkipsLocalEvents", func(t *testing.T) {
		engine := &countingRefresher{}
		w := NewWorker(eventBus, engine)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		if err := eventBus.Publish(context.Background(), domain.TopicRuleChanged, ruleEventPayload(t)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		deadline := time.Now().Add(time.Second)
		for w.GetStats().SkippedLocal == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if w.GetStats().SkippedLocal != 1 {
			t.Fatal("expected the local event to be skipped")
		}
		if engine.calls.Load() != 0 {
			t.Errorf("expected no refresh for local event, got %d", engine.calls.Load())
		}
	})

	t.Run("RefreshesOnRemoteEvents", func(t *testing.T) {
		engine := &countingRefresher{}
		w := NewWorker(eventBus, engine)

		msg := &domain.Message{ID: "m1", Topic: domain.TopicRuleChanged, Source: "other-node", Payload: ruleEventPayload(t)}
		if err := w.onRuleChanged(context.Background(), msg); err != nil {
			t.Fatalf("handle failed: %v", err)
		}
		if engine.calls.Load() != 1 || w.GetStats().Refreshes != 1 {
			t.Errorf("expected one refresh, got %d", engine.calls.Load())
		}
	})

	t.Run("BadPayload", func(t *testing.T) {
		engine := &countingRefresher{}
		w := NewWorker(eventBus, engine)

		msg := &domain.Message{ID: "m2", Source: "other-node", Payload: []byte("not json")}
		if err := w.onRuleChanged(context.Background(), msg); err == nil {
			t.Error("expected error for malformed payload")
		}
		if engine.calls.Load() != 0 {
			t.Error("malformed payload must not trigger a refresh")
		}
	})

	t.Run("RefreshError", func(t *testing.T) {
		engine := &countingRefresher{err: errors.New("store unavailable")}
		w := NewWorker(eventBus, engine)

		msg := &domain.Message{ID: "m3", Source: "other-node", Payload: ruleEventPayload(t)}
		if err := w.onRuleChanged(context.Background(), msg); err == nil {
			t.Error("expected refresh error to propagate")
		}
		if w.GetStats().Refreshes != 0 {
			t.Error("failed refresh must not be counted")
		}
	})
}

func TestScheduledResync(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	t.Run("InvalidSpec", func(t *testing.T) {
		w := NewWorker(eventBus, &countingRefresher{})
		if err := w.ScheduleResync("every now and then"); err == nil {
			t.Error("expected error for invalid cron spec")
		}
	})

	t.Run("Runs", func(t *testing.T) {
		engine := &countingRefresher{}
		w := NewWorker(eventBus, engine)
		if err := w.ScheduleResync("@every 1s"); err != nil {
			t.Fatalf("ScheduleResync: %v", err)
		}
		if err := w.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}

		deadline := time.Now().Add(3 * time.Second)
		for w.GetStats().ScheduledResyncs == 0 && time.Now().Before(deadline) {
			time.Sleep(20 * time.Millisecond)
		}
		if err := w.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if w.GetStats().ScheduledResyncs == 0 || engine.calls.Load() == 0 {
			t.Error("expected at least one scheduled resync")
		}
	})
}
