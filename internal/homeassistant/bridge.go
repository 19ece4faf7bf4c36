// Package homeassistant exposes light groups as Home Assistant MQTT lights
// using the JSON schema.
package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/daylightd/internal/group"
	"github.com/dokzlo13/daylightd/internal/light"
	"github.com/dokzlo13/daylightd/internal/mqtt"
)

// DefaultDiscoveryPrefix is Home Assistant's default discovery prefix.
const DefaultDiscoveryPrefix = "homeassistant"

// Transport is the part of the MQTT client the bridge uses.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(ctx context.Context, topic string) (*mqtt.Subscription, error)
	QoS() byte
}

// Target is the group a bridge drives.
type Target interface {
	Name() string
	ApplyExternal(ctx context.Context, ext group.ExternalState) error
}

// Config of one bridge.
type Config struct {
	TopicPrefix     string
	DiscoveryPrefix string
}

// Discovery is the retained config document announcing a light.
type Discovery struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	Schema              string   `json:"schema"`
	CommandTopic        string   `json:"command_topic"`
	StateTopic          string   `json:"state_topic"`
	Brightness          bool     `json:"brightness"`
	BrightnessScale     int      `json:"brightness_scale"`
	ColorMode           bool     `json:"color_mode"`
	SupportedColorModes []string `json:"supported_color_modes"`
	MinMireds           int      `json:"min_mireds"`
	MaxMireds           int      `json:"max_mireds"`
}

// State is the document exchanged on the state and command topics.
type State struct {
	State      string `json:"state"`
	Brightness *int   `json:"brightness,omitempty"`
	ColorTemp  *int   `json:"color_temp,omitempty"`
	ColorMode  string `json:"color_mode,omitempty"`
}

// Bridge announces one group and relays commands into it.
type Bridge struct {
	cfg       Config
	target    Target
	transport Transport
}

// New creates a bridge for target.
func New(transport Transport, target Target, cfg Config) *Bridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = group.DefaultTopicPrefix
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	return &Bridge{cfg: cfg, target: target, transport: transport}
}

func (b *Bridge) base() string {
	return b.cfg.TopicPrefix + "/lightgroup/" + b.target.Name()
}

func (b *Bridge) CommandTopic() string { return b.base() + "/set" }
func (b *Bridge) StateTopic() string   { return b.base() + "/state" }

func (b *Bridge) DiscoveryTopic() string {
	return b.cfg.DiscoveryPrefix + "/light/" + b.cfg.TopicPrefix + "/" + b.target.Name() + "/config"
}

// Discovery builds the config document.
func (b *Bridge) Discovery() Discovery {
	return Discovery{
		Name:                b.target.Name(),
		UniqueID:            b.cfg.TopicPrefix + "_light_" + b.target.Name(),
		Schema:              "json",
		CommandTopic:        b.CommandTopic(),
		StateTopic:          b.StateTopic(),
		Brightness:          true,
		BrightnessScale:     254,
		ColorMode:           true,
		SupportedColorModes: []string{"color_temp"},
		MinMireds:           light.ColorTemperatureCool.Mired(),
		MaxMireds:           light.ColorTemperatureWarm.Mired(),
	}
}

// Start announces the group and listens for commands until ctx is done.
func (b *Bridge) Start(ctx context.Context) error {
	doc, err := json.Marshal(b.Discovery())
	if err != nil {
		return err
	}
	if err := b.transport.Publish(ctx, b.DiscoveryTopic(), doc, b.transport.QoS(), true); err != nil {
		return fmt.Errorf("failed to announce %s: %w", b.target.Name(), err)
	}

	sub, err := b.transport.Subscribe(ctx, b.CommandTopic())
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.CommandTopic(), err)
	}

	log.Info().
		Str("group", b.target.Name()).
		Str("discovery", b.DiscoveryTopic()).
		Str("command", b.CommandTopic()).
		Msg("Home Assistant light announced")

	go b.listen(ctx, sub)
	return nil
}

func (b *Bridge) listen(ctx context.Context, sub *mqtt.Subscription) {
	defer sub.Close()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		ext, err := ParseCommand(msg.Payload)
		if err != nil {
			log.Warn().
				Err(err).
				Str("group", b.target.Name()).
				Str("topic", msg.Topic).
				Str("payload", string(msg.Payload)).
				Msg("Ignoring malformed Home Assistant command")
			continue
		}
		log.Info().Str("group", b.target.Name()).RawJSON("command", msg.Payload).Msg("Home Assistant command")
		if err := b.target.ApplyExternal(ctx, ext); err != nil {
			log.Warn().Err(err).Str("group", b.target.Name()).Msg("Failed to apply Home Assistant command")
		}
	}
}

// ParseCommand decodes a command document.
func ParseCommand(payload []byte) (group.ExternalState, error) {
	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return group.ExternalState{}, err
	}

	var ext group.ExternalState
	switch strings.ToUpper(s.State) {
	case "ON", "":
		ext.On = true
	case "OFF":
	default:
		return group.ExternalState{}, fmt.Errorf("unknown state %q", s.State)
	}
	if s.Brightness != nil {
		b := light.BrightnessFromDevice(*s.Brightness)
		ext.Brightness = &b
	}
	if s.ColorTemp != nil {
		if *s.ColorTemp <= 0 {
			return group.ExternalState{}, fmt.Errorf("invalid color_temp %d", *s.ColorTemp)
		}
		ct := light.FromMired(*s.ColorTemp)
		ext.ColorTemperature = &ct
	}
	return ext, nil
}

// StateDocument encodes a rendered group.
func StateDocument(r group.Rendered) State {
	s := State{State: "OFF", ColorMode: "color_temp"}
	ct := r.ColorTemperature.Mired()
	s.ColorTemp = &ct
	if r.Brightness > light.BrightnessOff {
		s.State = "ON"
		bri := max(r.Brightness.ToDevice(), 1)
		s.Brightness = &bri
	}
	return s
}

// Rendered publishes the group's state after a render.
func (b *Bridge) Rendered(ctx context.Context, r group.Rendered) {
	payload, err := json.Marshal(StateDocument(r))
	if err != nil {
		return
	}
	if err := b.transport.Publish(ctx, b.StateTopic(), payload, b.transport.QoS(), true); err != nil {
		log.Warn().Err(err).Str("group", r.Group).Str("topic", b.StateTopic()).Msg("Failed to publish Home Assistant state")
	}
}

var _ group.Observer = (*Bridge)(nil)
