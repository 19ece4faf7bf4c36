package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/daylightd/internal/config"
	"github.com/dokzlo13/daylightd/internal/mqtt"
)

// connectionCheckInterval is how often the connection watchdog looks at the
// transport.
const connectionCheckInterval = 10 * time.Second

// MQTTService owns the shared MQTT client.
type MQTTService struct {
	cfg      *config.Config
	Client   *mqtt.Client
	ClientID string
	broker   *mqtt.MemoryBroker
}

// NewMQTTService builds the client. Nothing is dialed until Start.
func NewMQTTService(cfg *config.Config) *MQTTService {
	s := &MQTTService{cfg: cfg}

	var conn mqtt.Conn
	if cfg.MQTT.InMemory {
		s.broker = mqtt.NewMemoryBroker()
		s.ClientID = "memory"
		conn = s.broker
		log.Warn().Msg("Using in-memory MQTT broker, devices will not be reachable")
	} else {
		// Each instance gets its own session so two daemons never take
		// over each other's connection.
		s.ClientID = fmt.Sprintf("%s-%s", cfg.MQTT.ClientIDPrefix, uuid.NewString())
		conn = mqtt.NewPahoConn(mqtt.PahoConfig{
			Broker:           cfg.MQTT.Broker,
			ClientID:         s.ClientID,
			Username:         cfg.MQTT.Username,
			Password:         cfg.MQTT.Password,
			KeepAlive:        cfg.MQTT.KeepAlive.Duration(),
			ConnectTimeout:   cfg.MQTT.ConnectTimeout.Duration(),
			OperationTimeout: cfg.MQTT.OperationTimeout.Duration(),
			Backoff: mqtt.BackoffConfig{
				MinBackoff: cfg.MQTT.MinRetryBackoff.Duration(),
				MaxBackoff: cfg.MQTT.MaxRetryBackoff.Duration(),
				Multiplier: cfg.MQTT.RetryMultiplier,
				MaxRetries: cfg.MQTT.MaxRetries,
			},
		})
	}

	s.Client = mqtt.New(conn, mqtt.WithQoS(cfg.MQTT.GetQoS()))
	return s
}

// Start connects to the broker. Exhausting the connect retries is a startup
// error.
func (s *MQTTService) Start(ctx context.Context) error {
	if err := s.Client.Connect(ctx); err != nil {
		return err
	}
	log.Info().Str("broker", s.cfg.MQTT.Broker).Str("client_id", s.ClientID).Msg("Connected to MQTT broker")
	return nil
}

// StartBackground watches the connection. The client reconnects on its
// own; staying disconnected for longer than the whole retry budget is fatal.
func (s *MQTTService) StartBackground(ctx context.Context, onFatalError func(error)) {
	budget := s.retryBudget()

	go func() {
		ticker := time.NewTicker(connectionCheckInterval)
		defer ticker.Stop()

		var downSince time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if s.Client.IsConnected() {
				if !downSince.IsZero() {
					log.Info().Dur("downtime", time.Since(downSince)).Msg("MQTT connection restored")
				}
				downSince = time.Time{}
				continue
			}
			if downSince.IsZero() {
				downSince = time.Now()
				log.Warn().Msg("MQTT connection lost, waiting for reconnect")
				continue
			}
			if budget > 0 && time.Since(downSince) > budget {
				log.Error().Dur("budget", budget).Msg("MQTT reconnect budget exhausted, triggering shutdown")
				if onFatalError != nil {
					onFatalError(mqtt.ErrMaxRetriesExceeded)
				}
				return
			}
		}
	}()
}

// retryBudget is the longest a bounded connect loop would keep trying.
func (s *MQTTService) retryBudget() time.Duration {
	if s.cfg.MQTT.MaxRetries <= 0 {
		return 0
	}
	var total time.Duration
	wait := s.cfg.MQTT.MinRetryBackoff.Duration()
	for i := 0; i < s.cfg.MQTT.MaxRetries; i++ {
		total += wait + s.cfg.MQTT.ConnectTimeout.Duration()
		wait = min(time.Duration(float64(wait)*s.cfg.MQTT.RetryMultiplier), s.cfg.MQTT.MaxRetryBackoff.Duration())
	}
	return total
}

// Close disconnects the client.
func (s *MQTTService) Close() {
	s.Client.Disconnect()
	if s.broker != nil {
		s.broker.Close()
	}
}
