package zigbee

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/daylightd/internal/device"
	"github.com/dokzlo13/daylightd/internal/light"
	"github.com/dokzlo13/daylightd/internal/mqtt"
)

func newClient(t *testing.T) (*mqtt.Client, *mqtt.MemoryBroker) {
	t.Helper()
	broker := mqtt.NewMemoryBroker()
	client := mqtt.New(broker)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() {
		client.Disconnect()
		broker.Close()
	})
	return client, broker
}

func TestPayload(t *testing.T) {
	tests := []struct {
		name string
		cmd  device.Command
		want string
	}{
		{
			name: "on",
			cmd:  device.Command{Brightness: 0.5, ColorTemperature: 2700, Transition: 500 * time.Millisecond},
			want: `{"state":"ON","brightness":127,"color_temp":370,"transition":0.5}`,
		},
		{
			name: "off",
			cmd:  device.Command{Brightness: 0, ColorTemperature: 2700, Transition: time.Second},
			want: `{"state":"OFF","transition":1}`,
		},
		{
			name: "no transition",
			cmd:  device.Command{Brightness: 1, ColorTemperature: 6500},
			want: `{"state":"ON","brightness":254,"color_temp":154}`,
		},
		{
			name: "lowest level stays on",
			cmd:  device.Command{Brightness: 0.001, ColorTemperature: 2200},
			want: `{"state":"ON","brightness":1,"color_temp":455}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Payload(tt.cmd)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestBulbSet(t *testing.T) {
	client, broker := newClient(t)
	bulb := NewBulb(client, BulbConfig{Name: "kitchen"})

	require.NoError(t, bulb.Set(context.Background(), device.Command{Brightness: 1, ColorTemperature: 4000}))

	history := broker.History("zigbee2mqtt/kitchen/set")
	require.Len(t, history, 1)
	assert.False(t, history[0].Retained)
	assert.JSONEq(t, `{"state":"ON","brightness":254,"color_temp":250}`, string(history[0].Payload))
}

func TestBulbSetDisconnected(t *testing.T) {
	client, _ := newClient(t)
	client.Disconnect()
	bulb := NewBulb(client, BulbConfig{Name: "kitchen"})

	err := bulb.Set(context.Background(), device.Command{Brightness: 1})
	assert.ErrorIs(t, err, device.ErrActuation)
	assert.ErrorIs(t, err, mqtt.ErrNotConnected)
}

func TestBulbInit(t *testing.T) {
	client, broker := newClient(t)
	bulb := NewBulb(client, BulbConfig{
		Name:      "hall",
		BaseTopic: "z2m",
		IEEE:      "0x0017880104e45517",
		Init:      map[string]any{"smartBulbMode": "Enabled"},
	})
	require.NoError(t, bulb.Init(context.Background()))

	rename := broker.History("z2m/bridge/request/device/rename")
	require.Len(t, rename, 1)
	assert.JSONEq(t, `{"from":"0x0017880104e45517","to":"hall"}`, string(rename[0].Payload))

	init := broker.History("z2m/hall/set")
	require.Len(t, init, 1)
	assert.JSONEq(t, `{"smartBulbMode":"Enabled"}`, string(init[0].Payload))
}

func TestActionMap(t *testing.T) {
	actions, err := ActionMap("inovelli", map[string]string{"down_double": "reset", "up_single": "toggle"})
	require.NoError(t, err)
	assert.Equal(t, light.Toggle, actions["up_single"])
	assert.Equal(t, light.Reset, actions["down_double"])
	assert.Equal(t, light.TurnOff, actions["down_held"])

	_, err = ActionMap("nope", nil)
	assert.ErrorContains(t, err, "unknown switch preset")

	_, err = ActionMap("", map[string]string{"x": "explode"})
	assert.Error(t, err)

	_, err = ActionMap("", nil)
	assert.Error(t, err)
}

func TestParseAction(t *testing.T) {
	assert.Equal(t, "up_single", ParseAction([]byte("up_single")))
	assert.Equal(t, "up_single", ParseAction([]byte(`"up_single"`)))
	assert.Equal(t, "down_held", ParseAction([]byte(`{"action":"down_held","battery":90}`)))
	assert.Equal(t, "", ParseAction([]byte(`{"action":`)))
	assert.Equal(t, "", ParseAction([]byte("  ")))
}

func TestActionSwitchInputs(t *testing.T) {
	client, _ := newClient(t)
	actions, err := ActionMap("hue_dimmer", nil)
	require.NoError(t, err)
	sw := NewActionSwitch(client, "remote", "", actions)

	ctx, cancel := context.WithCancel(context.Background())
	inputs, err := sw.Inputs(ctx)
	require.NoError(t, err)

	for _, a := range []string{"on_press", "bogus", "up_press", "off_press"} {
		require.NoError(t, client.Publish(ctx, sw.Topic(), []byte(a), mqtt.AtMostOnce, false))
	}

	want := []light.Input{light.TurnOn, light.IncreaseBrightness, light.TurnOff}
	for _, w := range want {
		select {
		case got := <-inputs:
			assert.Equal(t, w, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}

	cancel()
	select {
	case _, ok := <-inputs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("inputs not closed after cancel")
	}
}

func TestActionSwitchIgnoresRetained(t *testing.T) {
	client, _ := newClient(t)
	sw := NewActionSwitch(client, "remote", "", Presets["inovelli"])
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.Publish(ctx, sw.Topic(), []byte("up_single"), mqtt.AtMostOnce, true))

	inputs, err := sw.Inputs(ctx)
	require.NoError(t, err)
	require.NoError(t, client.Publish(ctx, sw.Topic(), []byte("down_single"), mqtt.AtMostOnce, false))

	select {
	case got := <-inputs:
		assert.Equal(t, light.DecreaseBrightness, got)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	// A second switch on the same topic joins after the live press and
	// must not see it again.
	late := NewActionSwitch(client, "remote", "", Presets["inovelli"])
	lateInputs, err := late.Inputs(ctx)
	require.NoError(t, err)
	select {
	case got := <-lateInputs:
		t.Fatalf("late switch replayed %s", got)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, client.Publish(ctx, sw.Topic(), []byte("up_single"), mqtt.AtMostOnce, false))
	select {
	case got := <-lateInputs:
		assert.Equal(t, light.TurnOn, got)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}
