// Package bus carries rule and settlement change events between components.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/opensource-finance/chargeflow/internal/metrics"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus: closed")

// ChannelBus is the in-process EventBus used by the community tier. Each
// subscription owns a buffered queue drained by one goroutine, so a slow
// handler only delays its own topic.
type ChannelBus struct {
	mu      sync.RWMutex
	depth   int
	topics  map[string][]*queue
	closed  bool
	running sync.WaitGroup
}

// queue is one subscription's inbox.
type queue struct {
	id      string
	topic   string
	inbox   chan *domain.Message
	handler domain.MessageHandler
	stop    context.CancelFunc
	owner   *ChannelBus
}

// NewChannelBus creates a bus whose subscriptions buffer up to depth
// messages each.
func NewChannelBus(depth int) *ChannelBus {
	if depth <= 0 {
		depth = 1000
	}
	return &ChannelBus{
		depth:  depth,
		topics: make(map[string][]*queue),
	}
}

// Publish fans payload out to the topic's subscribers. It never blocks:
// a subscriber with a full inbox misses the message.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := newMessage(topic, payload)
	for _, q := range b.topics[topic] {
		select {
		case q.inbox <- msg:
		default:
			metrics.BusDropped.WithLabelValues(topic).Inc()
			slog.Warn("subscriber inbox full, message dropped",
				"topic", topic,
				"subscription_id", q.id,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

// Subscribe starts delivering topic messages to handler until ctx ends,
// the subscription is cancelled or the bus closes.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	qctx, stop := context.WithCancel(ctx)
	q := &queue{
		id:      uuid.New().String(),
		topic:   topic,
		inbox:   make(chan *domain.Message, b.depth),
		handler: handler,
		stop:    stop,
		owner:   b,
	}
	b.topics[topic] = append(b.topics[topic], q)

	b.running.Add(1)
	go func() {
		defer b.running.Done()
		q.drain(qctx)
	}()

	return q, nil
}

func (q *queue) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q.inbox:
			if err := q.handler(ctx, msg); err != nil {
				slog.Error("event handler failed",
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription and waits for running handlers to
// return. Closing twice is a no-op.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, qs := range b.topics {
		for _, q := range qs {
			q.stop()
		}
	}
	b.topics = make(map[string][]*queue)
	b.mu.Unlock()

	b.running.Wait()
	return nil
}

// Unsubscribe stops delivery. Messages still queued are discarded.
func (q *queue) Unsubscribe() error {
	q.stop()

	b := q.owner
	b.mu.Lock()
	b.topics[q.topic] = slices.DeleteFunc(b.topics[q.topic], func(other *queue) bool {
		return other.id == q.id
	})
	b.mu.Unlock()
	return nil
}

// Topic returns the subscribed topic.
func (q *queue) Topic() string {
	return q.topic
}

func newMessage(topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Source:    nodeID,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
