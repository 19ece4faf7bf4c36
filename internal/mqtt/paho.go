package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// PahoConfig configures a PahoConn.
type PahoConfig struct {
	Broker           string
	ClientID         string
	Username         string
	Password         string
	KeepAlive        time.Duration
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	Backoff          BackoffConfig
}

type pahoSubscription struct {
	qos     byte
	handler Handler
}

// PahoConn is a Conn backed by the Eclipse Paho client. After the initial
// Connect the client reconnects on its own and restores subscriptions.
type PahoConn struct {
	cfg    PahoConfig
	client paho.Client

	connectMu sync.Mutex

	subsMu sync.Mutex
	subs   map[string]pahoSubscription
}

// NewPahoConn prepares a connection; nothing is dialed until Connect.
func NewPahoConn(cfg PahoConfig) *PahoConn {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.Backoff.MinBackoff == 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}

	c := &PahoConn{
		cfg:  cfg,
		subs: make(map[string]pahoSubscription),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(cfg.Backoff.MaxBackoff)

	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info().Str("broker", cfg.Broker).Str("client_id", cfg.ClientID).Msg("Connected to MQTT broker")
		c.resubscribe()
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		log.Info().Str("broker", cfg.Broker).Msg("Reconnecting to MQTT broker")
	})

	c.client = paho.NewClient(opts)
	return c
}

// Connect dials the broker, retrying with exponential backoff. Calling it
// while connected is a no-op.
func (c *PahoConn) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.client.IsConnected() {
		return nil
	}

	backoff := c.cfg.Backoff.MinBackoff
	for attempt := 1; ; attempt++ {
		err := wait(ctx, c.client.Connect(), c.cfg.ConnectTimeout)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if limit := c.cfg.Backoff.MaxRetries; limit > 0 && attempt >= limit {
			log.Error().Err(err).Int("attempts", attempt).Str("broker", c.cfg.Broker).Msg("Giving up connecting to MQTT broker")
			return fmt.Errorf("%w after %d attempts: %v", ErrMaxRetriesExceeded, attempt, err)
		}

		log.Warn().
			Err(err).
			Dur("backoff", backoff).
			Int("attempt", attempt).
			Int("max_retries", c.cfg.Backoff.MaxRetries).
			Str("broker", c.cfg.Broker).
			Msg("MQTT connect failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = c.cfg.Backoff.next(backoff)
	}
}

// Disconnect closes the connection. Safe to call repeatedly.
func (c *PahoConn) Disconnect() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if !c.client.IsConnectionOpen() {
		return
	}
	c.client.Disconnect(250)
	log.Info().Str("broker", c.cfg.Broker).Msg("Disconnected from MQTT broker")
}

func (c *PahoConn) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

func (c *PahoConn) Subscribe(ctx context.Context, topic string, qos byte, handler Handler) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := wait(ctx, c.client.Subscribe(topic, qos, pahoHandler(handler)), c.cfg.OperationTimeout); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	c.subsMu.Lock()
	c.subs[topic] = pahoSubscription{qos: qos, handler: handler}
	c.subsMu.Unlock()

	log.Debug().Str("topic", topic).Msg("Subscribed")
	return nil
}

func (c *PahoConn) Unsubscribe(ctx context.Context, topic string) error {
	c.subsMu.Lock()
	delete(c.subs, topic)
	c.subsMu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	if err := wait(ctx, c.client.Unsubscribe(topic), c.cfg.OperationTimeout); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", topic, err)
	}

	log.Debug().Str("topic", topic).Msg("Unsubscribed")
	return nil
}

func (c *PahoConn) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := wait(ctx, c.client.Publish(topic, qos, retained, payload), c.cfg.OperationTimeout); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// resubscribe restores subscriptions after the client reconnected with a
// clean session.
func (c *PahoConn) resubscribe() {
	c.subsMu.Lock()
	subs := make(map[string]pahoSubscription, len(c.subs))
	for topic, s := range c.subs {
		subs[topic] = s
	}
	c.subsMu.Unlock()

	for topic, s := range subs {
		token := c.client.Subscribe(topic, s.qos, pahoHandler(s.handler))
		if !token.WaitTimeout(c.cfg.OperationTimeout) {
			log.Warn().Str("topic", topic).Msg("Resubscribe timed out")
			continue
		}
		if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Resubscribe failed")
		}
	}
	if len(subs) > 0 {
		log.Info().Int("topics", len(subs)).Msg("Restored MQTT subscriptions")
	}
}

func pahoHandler(handler Handler) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		handler(Message{Topic: m.Topic(), Payload: m.Payload(), Retained: m.Retained()})
	}
}

// wait blocks until the token completes, the timeout passes or ctx is done.
func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
