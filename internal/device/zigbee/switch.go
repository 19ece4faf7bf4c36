package zigbee

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/dokzlo13/daylightd/internal/light"
	"github.com/dokzlo13/daylightd/internal/mqtt"
)

// Presets maps known remotes' action strings to inputs.
var Presets = map[string]map[string]light.Input{
	"inovelli": {
		"up_single":     light.TurnOn,
		"down_held":     light.TurnOff,
		"up_held":       light.IncreaseBrightness,
		"down_single":   light.DecreaseBrightness,
		"up_down":       light.Toggle,
		"config_single": light.Reset,
	},
	"hue_dimmer": {
		"on_press":   light.TurnOn,
		"off_press":  light.TurnOff,
		"up_press":   light.IncreaseBrightness,
		"down_press": light.DecreaseBrightness,
	},
}

// PresetNames lists the known presets, sorted.
func PresetNames() []string {
	names := lo.Keys(Presets)
	sort.Strings(names)
	return names
}

// ActionMap builds the action table for a preset with custom entries on
// top. Custom values are input names as accepted by light.ParseInput.
func ActionMap(preset string, custom map[string]string) (map[string]light.Input, error) {
	actions := make(map[string]light.Input)
	if preset != "" {
		base, ok := Presets[preset]
		if !ok {
			return nil, fmt.Errorf("unknown switch preset %q (known: %s)", preset, strings.Join(PresetNames(), ", "))
		}
		for k, v := range base {
			actions[k] = v
		}
	}
	for action, name := range custom {
		in, err := light.ParseInput(name)
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", action, err)
		}
		actions[action] = in
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("switch has no actions")
	}
	return actions, nil
}

// ActionSwitch listens on <base>/<name>/action.
type ActionSwitch struct {
	name      string
	topic     string
	transport Transport
	actions   map[string]light.Input
	buffer    int
}

// NewActionSwitch creates a switch adapter.
func NewActionSwitch(transport Transport, name, baseTopic string, actions map[string]light.Input) *ActionSwitch {
	if baseTopic == "" {
		baseTopic = DefaultBaseTopic
	}
	return &ActionSwitch{
		name:      name,
		topic:     baseTopic + "/" + name + "/action",
		transport: transport,
		actions:   actions,
		buffer:    16,
	}
}

func (s *ActionSwitch) Name() string { return s.name }

// Topic is the action topic.
func (s *ActionSwitch) Topic() string { return s.topic }

func (s *ActionSwitch) Inputs(ctx context.Context) (<-chan light.Input, error) {
	sub, err := s.transport.Subscribe(ctx, s.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.topic, err)
	}

	out := make(chan light.Input, s.buffer)
	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case msg := <-sub.Messages():
				in, ok := s.decode(msg)
				if !ok {
					continue
				}
				select {
				case out <- in:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *ActionSwitch) decode(msg mqtt.Message) (light.Input, bool) {
	// A retained action is a replay of an old press.
	if msg.Retained {
		log.Debug().Str("switch", s.name).Str("topic", msg.Topic).Msg("Ignoring retained action")
		return light.Input{}, false
	}

	action := ParseAction(msg.Payload)
	if action == "" {
		return light.Input{}, false
	}
	in, ok := s.actions[action]
	if !ok {
		log.Debug().Str("switch", s.name).Str("action", action).Msg("Unmapped switch action")
		return light.Input{}, false
	}
	log.Debug().Str("switch", s.name).Str("action", action).Stringer("input", in).Msg("Switch action")
	return in, true
}

// ParseAction accepts a bare action string or a {"action": "..."} object.
func ParseAction(payload []byte) string {
	raw := strings.TrimSpace(string(payload))
	if strings.HasPrefix(raw, "{") {
		var obj struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(payload, &obj); err != nil {
			log.Debug().Err(err).Str("payload", raw).Msg("Malformed action payload")
			return ""
		}
		return obj.Action
	}
	return strings.Trim(raw, `"`)
}
