package zigbee

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/daylightd/internal/device"
)

// BulbConfig describes one zigbee2mqtt light.
type BulbConfig struct {
	Name      string
	BaseTopic string
	// IEEE, when set, renames the device from its IEEE address to Name at
	// startup.
	IEEE string
	// Init is published once to the set topic at startup.
	Init map[string]any
}

// Bulb is a light controlled through <base>/<name>/set.
type Bulb struct {
	cfg       BulbConfig
	transport Transport
}

// NewBulb creates a bulb adapter.
func NewBulb(transport Transport, cfg BulbConfig) *Bulb {
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = DefaultBaseTopic
	}
	return &Bulb{cfg: cfg, transport: transport}
}

func (b *Bulb) Name() string { return b.cfg.Name }

// SetTopic is where commands are published.
func (b *Bulb) SetTopic() string {
	return b.cfg.BaseTopic + "/" + b.cfg.Name + "/set"
}

type setPayload struct {
	State      string   `json:"state"`
	Brightness *int     `json:"brightness,omitempty"`
	ColorTemp  *int     `json:"color_temp,omitempty"`
	Transition *float64 `json:"transition,omitempty"`
}

// Payload encodes a command the way zigbee2mqtt expects it.
func Payload(cmd device.Command) ([]byte, error) {
	p := setPayload{State: "OFF"}
	if cmd.On() {
		p.State = "ON"
		// The lowest ladder levels round to 0 on the device scale.
		bri := max(cmd.Brightness.ToDevice(), 1)
		p.Brightness = &bri
		if m := cmd.ColorTemperature.Mired(); m > 0 {
			p.ColorTemp = &m
		}
	}
	if cmd.Transition > 0 {
		secs := math.Round(cmd.Transition.Seconds()*10) / 10
		p.Transition = &secs
	}
	return json.Marshal(p)
}

func (b *Bulb) Set(ctx context.Context, cmd device.Command) error {
	payload, err := Payload(cmd)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", device.ErrActuation, b.cfg.Name, err)
	}
	if err := b.transport.Publish(ctx, b.SetTopic(), payload, b.transport.QoS(), false); err != nil {
		return fmt.Errorf("%w: %s: %w", device.ErrActuation, b.cfg.Name, err)
	}
	log.Debug().
		Str("device", b.cfg.Name).
		RawJSON("payload", payload).
		Msg("Light command sent")
	return nil
}

// Init renames the device and applies its init values.
func (b *Bulb) Init(ctx context.Context) error {
	if b.cfg.IEEE != "" && b.cfg.IEEE != b.cfg.Name {
		payload, err := json.Marshal(map[string]string{"from": b.cfg.IEEE, "to": b.cfg.Name})
		if err != nil {
			return err
		}
		topic := b.cfg.BaseTopic + "/bridge/request/device/rename"
		if err := b.transport.Publish(ctx, topic, payload, b.transport.QoS(), false); err != nil {
			return fmt.Errorf("failed to rename %s: %w", b.cfg.IEEE, err)
		}
		log.Info().Str("device", b.cfg.Name).Str("ieee", b.cfg.IEEE).Msg("Requested device rename")
	}

	if len(b.cfg.Init) > 0 {
		payload, err := json.Marshal(b.cfg.Init)
		if err != nil {
			return fmt.Errorf("invalid init values for %s: %w", b.cfg.Name, err)
		}
		if err := b.transport.Publish(ctx, b.SetTopic(), payload, b.transport.QoS(), false); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", b.cfg.Name, err)
		}
		log.Info().Str("device", b.cfg.Name).RawJSON("init", payload).Msg("Device initialized")
	}
	return nil
}
