package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Source    string            `json:"source,omitempty"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `env:"CHARGEFLOW_BUS_TYPE"`

	// Channel settings (Community tier)
	ChannelBufferSize int `env:"CHARGEFLOW_BUS_BUFFER_SIZE"`

	// NATS settings (Pro tier)
	NATSUrl           string `env:"CHARGEFLOW_NATS_URL"`
	NATSToken         string `env:"CHARGEFLOW_NATS_TOKEN"`
	NATSMaxReconnects int    `env:"CHARGEFLOW_NATS_MAX_RECONNECTS"`
	NATSReconnectWait int    `env:"CHARGEFLOW_NATS_RECONNECT_WAIT"` // seconds
}

// Event topics.
const (
	TopicRuleChanged       = "chargeflow.rule.changed"
	TopicSettlementChanged = "chargeflow.settlement.changed"
	TopicBatchCompleted    = "chargeflow.batch.completed"
)

// RuleEvent is published after every successful rule mutation.
type RuleEvent struct {
	RuleID     string     `json:"ruleId"`
	RuleCode   string     `json:"ruleCode"`
	Action     string     `json:"action"`
	FromStatus RuleStatus `json:"fromStatus,omitempty"`
	ToStatus   RuleStatus `json:"toStatus,omitempty"`
	At         time.Time  `json:"at"`
}

// SettlementEvent is published after every settlement state change.
type SettlementEvent struct {
	SettlementID string           `json:"settlementId"`
	CustomerCode string           `json:"customerCode"`
	FromStatus   SettlementStatus `json:"fromStatus,omitempty"`
	ToStatus     SettlementStatus `json:"toStatus"`
	At           time.Time        `json:"at"`
}

// BatchEvent summarizes a finished batch.
type BatchEvent struct {
	BatchID     string `json:"batchId"`
	Total       int    `json:"total"`
	Successful  int    `json:"successful"`
	Failed      int    `json:"failed"`
	Incomplete  bool   `json:"incomplete"`
	ProcessedMs int64  `json:"processedMs"`
}
