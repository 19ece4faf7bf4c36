// Package mqtt wraps a callback-based broker connection into cancellable,
// multi-consumer subscriptions with retained-message semantics.
package mqtt

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConnected is returned by operations attempted while offline.
	ErrNotConnected = errors.New("mqtt: not connected")
	// ErrTimeout is returned when the broker does not acknowledge in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
	// ErrMaxRetriesExceeded is returned when Connect gives up.
	ErrMaxRetriesExceeded = errors.New("mqtt: max connect retries exceeded")
	// ErrClosed is returned when using a closed client or subscription.
	ErrClosed = errors.New("mqtt: closed")
)

// QoS levels.
const (
	AtMostOnce  byte = 0
	AtLeastOnce byte = 1
	ExactlyOnce byte = 2
)

// Message is a publish received from the broker.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Handler receives messages for one transport-level subscription.
type Handler func(Message)

// Conn is a raw broker connection. It knows nothing about fan-out: each
// topic is subscribed at most once by Client.
type Conn interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Subscribe(ctx context.Context, topic string, qos byte, handler Handler) error
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// BackoffConfig bounds connection retries.
type BackoffConfig struct {
	MinBackoff time.Duration // first wait after a failure
	MaxBackoff time.Duration // cap on the wait
	Multiplier float64       // growth factor per failure
	MaxRetries int           // attempts before giving up, 0 = unlimited
}

// DefaultBackoffConfig returns the defaults used when none are configured.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MinBackoff: 1 * time.Second,
		MaxBackoff: 30 * time.Second,
		Multiplier: 2.0,
		MaxRetries: 10,
	}
}

// next returns the backoff following current, capped at MaxBackoff.
func (b BackoffConfig) next(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * b.Multiplier)
	if next > b.MaxBackoff {
		next = b.MaxBackoff
	}
	return next
}
