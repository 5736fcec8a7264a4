package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/chargeflow/internal/domain"
)

// Header keys carrying the message envelope. The NATS payload is the raw
// event body.
const (
	headerMessageID = "Chargeflow-Message-Id"
	headerSource    = "Chargeflow-Source"
	headerTimestamp = "Chargeflow-Timestamp"
)

// natsHandlerTimeout bounds a single handler invocation.
const natsHandlerTimeout = 30 * time.Second

// NATSBus implements EventBus on NATS core subjects. Every node subscribes
// without a queue group so rule changes reach all engine snapshots.
type NATSBus struct {
	mu            sync.Mutex
	conn          *nats.Conn
	subscriptions map[string]*natsSubscription
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

func natsOptions(cfg domain.EventBusConfig) []nats.Option {
	opts := []nats.Option{
		nats.Name("chargeflow-" + nodeID),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.NATSReconnectWait) * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("nats async error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	return opts
}

// NewNATSBus connects to NATS. The initial connection is retried up to
// NATSMaxReconnects times with a linearly growing wait.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects <= 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait <= 0 {
		cfg.NATSReconnectWait = 5
	}

	opts := natsOptions(cfg)
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	var conn *nats.Conn
	var err error
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		if conn, err = nats.Connect(cfg.NATSUrl, opts...); err == nil {
			break
		}
		slog.Warn("nats connect failed", "attempt", attempt, "url", cfg.NATSUrl, "error", err)
		if attempt < cfg.NATSMaxReconnects {
			time.Sleep(wait * time.Duration(attempt))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, err)
	}

	slog.Info("nats connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())

	return &NATSBus{
		conn:          conn,
		subscriptions: make(map[string]*natsSubscription),
	}, nil
}

// toNATS builds the wire message for m.
func toNATS(m *domain.Message) *nats.Msg {
	out := nats.NewMsg(m.Topic)
	out.Data = m.Payload
	out.Header.Set(headerMessageID, m.ID)
	out.Header.Set(headerSource, m.Source)
	out.Header.Set(headerTimestamp, strconv.FormatInt(m.Timestamp, 10))
	for k, v := range m.Metadata {
		out.Header.Set(k, v)
	}
	return out
}

// fromNATS rebuilds the envelope. Messages published without our headers
// get a fresh id and an empty source.
func fromNATS(m *nats.Msg) *domain.Message {
	msg := &domain.Message{
		Topic:    m.Subject,
		Payload:  m.Data,
		Metadata: make(map[string]string),
	}
	for k := range m.Header {
		switch k {
		case headerMessageID:
			msg.ID = m.Header.Get(k)
		case headerSource:
			msg.Source = m.Header.Get(k)
		case headerTimestamp:
			msg.Timestamp, _ = strconv.ParseInt(m.Header.Get(k), 10, 64)
		default:
			msg.Metadata[k] = m.Header.Get(k)
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixNano()
	}
	return msg
}

// Publish sends payload on the subject named by topic.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.conn.PublishMsg(toNATS(newMessage(topic, payload))); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler for a subject. Each delivery gets its own
// timeout derived from ctx.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	natsSub, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
		msg := fromNATS(m)

		hctx, cancel := context.WithTimeout(ctx, natsHandlerTimeout)
		defer cancel()

		if err := handler(hctx, msg); err != nil {
			slog.Error("handler error",
				"topic", msg.Topic,
				"message_id", msg.ID,
				"source", msg.Source,
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &natsSubscription{
		id:    uuid.New().String(),
		topic: topic,
		sub:   natsSub,
		bus:   b,
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Ping reports whether the connection is up and round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if status := b.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats status %s", status)
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions so in-flight handlers finish, then closes the
// connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.subscriptions = make(map[string]*natsSubscription)
	b.mu.Unlock()

	if b.conn.IsClosed() {
		return nil
	}
	return b.conn.Drain()
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
