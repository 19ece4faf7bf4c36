package mqtt

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultMemoryQueueSize bounds the in-memory delivery queue.
const DefaultMemoryQueueSize = 256

// DefaultHistoryLimit is the number of published messages the broker
// remembers for History.
const DefaultHistoryLimit = 1024

type delivery struct {
	msg     Message
	handler Handler
}

// MemoryBroker is an in-process broker implementing Conn. It keeps retained
// messages, supports + and # filters, and delivers from a single worker so
// messages arrive in publish order. Used for dev mode and tests.
type MemoryBroker struct {
	mu        sync.RWMutex
	connected bool
	handlers  map[string]Handler
	retained  map[string][]byte
	// history keeps between historyLimit and twice that many messages.
	history      []Message
	historyLimit int

	queue     chan delivery
	wg        sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once
}

// NewMemoryBroker starts the delivery worker.
func NewMemoryBroker() *MemoryBroker {
	return NewMemoryBrokerWithQueue(DefaultMemoryQueueSize)
}

func NewMemoryBrokerWithQueue(queueSize int) *MemoryBroker {
	b := &MemoryBroker{
		handlers:     make(map[string]Handler),
		retained:     make(map[string][]byte),
		historyLimit: DefaultHistoryLimit,
		queue:        make(chan delivery, queueSize),
		closing:      make(chan struct{}),
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

func (b *MemoryBroker) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.closing:
			return
		case d := <-b.queue:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Str("topic", d.msg.Topic).Msg("Message handler panicked")
					}
				}()
				d.handler(d.msg)
			}()
		}
	}
}

func (b *MemoryBroker) enqueue(ctx context.Context, d delivery) error {
	select {
	case <-b.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case b.queue <- d:
		return nil
	}
}

func (b *MemoryBroker) Connect(context.Context) error {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroker) Disconnect() {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

func (b *MemoryBroker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Subscribe registers handler and queues any matching retained messages.
func (b *MemoryBroker) Subscribe(ctx context.Context, filter string, _ byte, handler Handler) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	b.handlers[filter] = handler
	var replay []Message
	for topic, payload := range b.retained {
		if topicMatches(filter, topic) {
			replay = append(replay, Message{Topic: topic, Payload: payload, Retained: true})
		}
	}
	b.mu.Unlock()

	for _, msg := range replay {
		if err := b.enqueue(ctx, delivery{msg: msg, handler: handler}); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBroker) Unsubscribe(_ context.Context, filter string) error {
	b.mu.Lock()
	delete(b.handlers, filter)
	b.mu.Unlock()
	return nil
}

// Publish stores retained payloads (an empty retained payload clears the
// topic) and queues delivery to every matching subscriber.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, _ byte, retained bool, payload []byte) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	body := append([]byte(nil), payload...)
	if retained {
		if len(body) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = body
		}
	}
	b.history = append(b.history, Message{Topic: topic, Payload: body, Retained: retained})
	if len(b.history) > 2*b.historyLimit {
		b.history = append([]Message(nil), b.history[len(b.history)-b.historyLimit:]...)
	}

	var targets []Handler
	for filter, h := range b.handlers {
		if topicMatches(filter, topic) {
			targets = append(targets, h)
		}
	}
	b.mu.Unlock()

	for _, h := range targets {
		if err := b.enqueue(ctx, delivery{msg: Message{Topic: topic, Payload: body}, handler: h}); err != nil {
			return err
		}
	}
	return nil
}

// Retained returns the retained payload of a topic.
func (b *MemoryBroker) Retained(topic string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.retained[topic]
	return p, ok
}

// History returns the recent messages published to topic, oldest first.
func (b *MemoryBroker) History(topic string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Message
	for _, m := range b.history {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Close stops the delivery worker. Queued messages are dropped.
func (b *MemoryBroker) Close() {
	b.closeOnce.Do(func() {
		close(b.closing)
	})
	b.wg.Wait()
}

// topicMatches reports whether topic matches an MQTT subscription filter.
func topicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, part := range f {
		switch {
		case part == "#":
			return true
		case i >= len(t):
			return false
		case part == "+":
		case part != t[i]:
			return false
		}
	}
	return len(f) == len(t)
}
