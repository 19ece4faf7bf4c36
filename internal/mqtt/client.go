package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSubscriptionBuffer is the per-subscriber queue length.
const DefaultSubscriptionBuffer = 64

// unsubscribeTimeout bounds the transport unsubscribe issued when the last
// local subscriber of a topic goes away.
const unsubscribeTimeout = 5 * time.Second

// backlogWarnEvery is how often a growing topic backlog is logged.
const backlogWarnEvery = 1024

// Client multiplexes local subscribers onto a single Conn. Every topic is
// subscribed on the transport at most once, no matter how many local
// subscribers it has; the transport subscription is dropped when the last
// one leaves.
//
// Each topic delivers from its own goroutine, so a subscriber that stops
// reading only holds up its own topic, never the transport.
type Client struct {
	conn   Conn
	qos    byte
	buffer int

	mu     sync.Mutex
	topics map[string]*topic
	// releasing holds topics whose transport unsubscribe is in flight. A
	// new subscribe to such a topic waits for it to finish.
	releasing map[string]chan struct{}
}

// Option customizes a Client.
type Option func(*Client)

// WithQoS sets the QoS used for subscriptions and default publishes.
func WithQoS(qos byte) Option {
	return func(c *Client) { c.qos = qos }
}

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// New wraps conn.
func New(conn Conn, opts ...Option) *Client {
	c := &Client{
		conn:      conn,
		qos:       AtLeastOnce,
		buffer:    DefaultSubscriptionBuffer,
		topics:    make(map[string]*topic),
		releasing: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect connects the underlying transport. Idempotent.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Disconnect closes every local subscription and the transport. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	topics := c.topics
	c.topics = make(map[string]*topic)
	c.mu.Unlock()

	for _, t := range topics {
		t.closeAll()
	}
	c.conn.Disconnect()
}

func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// QoS returns the default QoS of the client.
func (c *Client) QoS() byte {
	return c.qos
}

// Publish sends payload to topic with an explicit QoS.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if err := c.conn.Publish(ctx, topic, qos, retained, payload); err != nil {
		return err
	}
	log.Trace().Str("topic", topic).Bool("retained", retained).Bytes("payload", payload).Msg("Published")
	return nil
}

// Subscribe returns a new local subscription to topic. The first subscriber
// of a topic triggers the transport subscribe; later ones join it and are
// handed the last retained message, if any.
func (c *Client) Subscribe(ctx context.Context, name string) (*Subscription, error) {
	for {
		c.mu.Lock()
		if pending, ok := c.releasing[name]; ok {
			c.mu.Unlock()
			select {
			case <-pending:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		t, ok := c.topics[name]
		if !ok {
			t = newTopic(name)
			sub := t.add(c, c.buffer)
			c.topics[name] = t
			c.mu.Unlock()

			err := c.conn.Subscribe(ctx, name, c.qos, t.dispatch)
			t.finish(err)
			if err != nil {
				c.mu.Lock()
				if c.topics[name] == t {
					delete(c.topics, name)
				}
				c.mu.Unlock()
				t.closeAll()
				return nil, fmt.Errorf("failed to subscribe to %s: %w", name, err)
			}
			return sub, nil
		}
		c.mu.Unlock()

		select {
		case <-t.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if t.err != nil {
			return nil, fmt.Errorf("failed to subscribe to %s: %w", name, t.err)
		}

		c.mu.Lock()
		if c.topics[name] != t {
			// Released while we waited; start over.
			c.mu.Unlock()
			continue
		}
		sub := t.add(c, c.buffer)
		c.mu.Unlock()
		return sub, nil
	}
}

// SubscribeLatest returns a view holding only the most recent payload of
// topic.
func (c *Client) SubscribeLatest(ctx context.Context, name string) (*Latest, error) {
	sub, err := c.Subscribe(ctx, name)
	if err != nil {
		return nil, err
	}
	return newLatest(sub), nil
}

// Unsubscribe closes every local subscriber of topic and drops the transport
// subscription.
func (c *Client) Unsubscribe(ctx context.Context, name string) error {
	c.mu.Lock()
	t, ok := c.topics[name]
	var done chan struct{}
	if ok {
		done = c.detach(t)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	t.closeAll()
	defer c.released(name, done)
	return c.conn.Unsubscribe(ctx, name)
}

// Subscribed reports whether topic currently has a transport subscription.
func (c *Client) Subscribed(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[name]
	return ok
}

// release is called by a subscription on Close.
func (c *Client) release(t *topic, sub *Subscription) {
	c.mu.Lock()
	empty := t.remove(sub)
	if !empty || c.topics[t.name] != t {
		c.mu.Unlock()
		return
	}
	done := c.detach(t)
	c.mu.Unlock()
	t.shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if err := c.conn.Unsubscribe(ctx, t.name); err != nil {
		log.Warn().Err(err).Str("topic", t.name).Msg("Failed to unsubscribe")
	}
	c.released(t.name, done)
}

// detach removes t from the topic table and marks its unsubscribe as in
// flight. Must be called with c.mu held.
func (c *Client) detach(t *topic) chan struct{} {
	delete(c.topics, t.name)
	done := make(chan struct{})
	c.releasing[t.name] = done
	return done
}

// released ends an in-flight unsubscribe started by detach.
func (c *Client) released(name string, done chan struct{}) {
	c.mu.Lock()
	if c.releasing[name] == done {
		delete(c.releasing, name)
	}
	c.mu.Unlock()
	close(done)
}

// topic is the fan-out point for one transport subscription. The transport
// handler only queues messages; run delivers them in order.
type topic struct {
	name  string
	ready chan struct{}
	err   error

	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	retained *Message
	backlog  []Message

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newTopic(name string) *topic {
	t := &topic{
		name:  name,
		ready: make(chan struct{}),
		subs:  make(map[*Subscription]struct{}),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *topic) finish(err error) {
	t.err = err
	close(t.ready)
}

func (t *topic) add(c *Client, buffer int) *Subscription {
	sub := &Subscription{
		topic:  t,
		client: c,
		ch:     make(chan Message, buffer),
		done:   make(chan struct{}),
	}

	// The replay is queued under the lock so that nothing newer can reach
	// the subscriber ahead of it. The fresh queue always has room.
	t.mu.Lock()
	t.subs[sub] = struct{}{}
	if t.retained != nil {
		sub.ch <- *t.retained
	}
	t.mu.Unlock()
	return sub
}

// remove detaches sub and reports whether the topic has no subscribers left.
func (t *topic) remove(sub *Subscription) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, sub)
	return len(t.subs) == 0
}

// dispatch is the transport handler. It never blocks on subscribers.
func (t *topic) dispatch(msg Message) {
	t.mu.Lock()
	t.backlog = append(t.backlog, msg)
	n := len(t.backlog)
	t.mu.Unlock()

	if n%backlogWarnEvery == 0 {
		log.Warn().Str("topic", t.name).Int("backlog", n).Msg("Topic subscribers are falling behind")
	}
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *topic) run() {
	for {
		select {
		case <-t.stop:
			return
		case <-t.wake:
		}

		for {
			t.mu.Lock()
			if len(t.backlog) == 0 {
				t.backlog = nil
				t.mu.Unlock()
				break
			}
			msg := t.backlog[0]
			t.backlog[0] = Message{}
			t.backlog = t.backlog[1:]

			// Once a topic is known to carry retained messages, live
			// updates replace the copy replayed to late joiners. The copy
			// is flagged retained: it is history, not a fresh event.
			if msg.Retained || t.retained != nil {
				m := msg
				m.Retained = true
				t.retained = &m
			}
			subs := make([]*Subscription, 0, len(t.subs))
			for s := range t.subs {
				subs = append(subs, s)
			}
			t.mu.Unlock()

			for _, s := range subs {
				s.deliver(msg, t.stop)
			}
		}
	}
}

// shutdown stops the delivery goroutine. Queued messages are dropped.
func (t *topic) shutdown() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *topic) closeAll() {
	t.shutdown()
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[*Subscription]struct{})
	t.mu.Unlock()

	for s := range subs {
		s.markClosed()
	}
}

// Subscription is one local consumer of a topic. Messages are queued up to
// the client's buffer size; a full queue holds up delivery on its topic
// rather than dropping.
type Subscription struct {
	topic  *topic
	client *Client
	ch     chan Message

	done      chan struct{}
	closeOnce sync.Once
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic.name }

// Messages returns the delivery channel. It is never closed; select on Done.
func (s *Subscription) Messages() <-chan Message { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Next waits for the next message.
func (s *Subscription) Next(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close detaches the subscriber, dropping the transport subscription when it
// was the last one.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.client.release(s.topic, s)
	})
}

func (s *Subscription) markClosed() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Subscription) deliver(msg Message, stop <-chan struct{}) {
	select {
	case s.ch <- msg:
		return
	case <-s.done:
		return
	default:
	}

	log.Warn().Str("topic", s.topic.name).Int("buffer", cap(s.ch)).Msg("Subscriber queue full, waiting")
	select {
	case s.ch <- msg:
	case <-s.done:
	case <-stop:
	}
}
