package group

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/daylightd/internal/device"
	"github.com/dokzlo13/daylightd/internal/device/virtual"
	"github.com/dokzlo13/daylightd/internal/light"
	"github.com/dokzlo13/daylightd/internal/mqtt"
	"github.com/dokzlo13/daylightd/internal/schedule"
)

type constant[T any] struct{ v T }

func (c constant[T]) ValueAt(time.Time) T { return c.v }

type fakeMirror struct {
	mu     sync.Mutex
	states map[string]light.State
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{states: make(map[string]light.State)}
}

func (m *fakeMirror) Get(_ context.Context, id string) (light.State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	return st, ok, nil
}

func (m *fakeMirror) Set(_ context.Context, id string, st light.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = st
	return nil
}

type recorder struct {
	mu  sync.Mutex
	out []Rendered
}

func (r *recorder) Rendered(_ context.Context, rd Rendered) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, rd)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.out)
}

type fixture struct {
	broker *mqtt.MemoryBroker
	client *mqtt.Client
	clock  *schedule.ManualClock
	lights []*virtual.Light
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	broker := mqtt.NewMemoryBroker()
	client := mqtt.New(broker)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() {
		client.Disconnect()
		broker.Close()
	})
	return &fixture{
		broker: broker,
		client: client,
		clock:  schedule.NewManualClock(time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)),
		lights: []*virtual.Light{virtual.NewLight("a"), virtual.NewLight("b")},
	}
}

func (f *fixture) controller(name string, switches []device.Switch, opts ...Option) *Controller {
	lights := make([]device.Light, len(f.lights))
	for i, l := range f.lights {
		lights[i] = l
	}
	cfg := Config{
		Name:             name,
		Lights:           lights,
		Switches:         switches,
		Brightness:       constant[light.Brightness]{0.5},
		ColorTemperature: constant[light.ColorTemperature]{3000},
		RenderInterval:   time.Hour,
	}
	opts = append([]Option{WithClock(f.clock)}, opts...)
	return NewController(cfg, f.client, NewRenderer(RendererConfig{}, nil), opts...)
}

func (f *fixture) persisted(name string) []light.State {
	var out []light.State
	for _, m := range f.broker.History(DefaultTopicPrefix + "/lightgroup/" + name + "/internalstate") {
		st, err := light.Decode(m.Payload)
		if err == nil {
			out = append(out, st)
		}
	}
	return out
}

func start(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() {
		cancel()
		c.Wait()
	})
}

func waitListening(t *testing.T, switches ...*virtual.Switch) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, sw := range switches {
			if sw.Listeners() == 0 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}

func lastBrightness(l *virtual.Light) light.Brightness {
	cmd, ok := l.Last()
	if !ok {
		return -1
	}
	return cmd.Brightness
}

func TestRestoreFromRetainedState(t *testing.T) {
	f := newFixture(t)
	payload, err := light.Encode(light.Dimmed(3))
	require.NoError(t, err)
	require.NoError(t, f.client.Publish(context.Background(), "daylight/lightgroup/office/internalstate", payload, mqtt.AtLeastOnce, true))

	c := f.controller("office", nil)
	start(t, c)

	assert.True(t, light.Dimmed(3).Equal(c.State()))
	// The first periodic render goes out immediately, at the dimmed level.
	require.Eventually(t, func() bool {
		return lastBrightness(f.lights[0]) == light.Renard10[3]
	}, time.Second, 5*time.Millisecond)

	cmd, _ := f.lights[1].Last()
	assert.Equal(t, light.ColorTemperature(3000), cmd.ColorTemperature)
	assert.Zero(t, cmd.Transition)
	assert.False(t, f.client.Subscribed(c.StateTopic()))
}

func TestRestoreFallsBackToMirror(t *testing.T) {
	f := newFixture(t)
	mirror := newFakeMirror()
	mirror.states["office"] = light.Brightened(10)

	c := f.controller("office", nil, WithMirror(mirror))
	start(t, c)
	assert.True(t, light.Brightened(10).Equal(c.State()))
}

func TestRestoreMalformedRetainedState(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Publish(context.Background(), "daylight/lightgroup/office/internalstate", []byte(`{"type":"dimmed"}`), mqtt.AtLeastOnce, true))

	// A present but undecodable retained state wins over the mirror.
	mirror := newFakeMirror()
	mirror.states["office"] = light.Brightened(10)

	c := f.controller("office", nil, WithMirror(mirror))
	start(t, c)
	assert.True(t, light.Off().Equal(c.State()))
}

func TestConfigDefaults(t *testing.T) {
	tests := []struct {
		name       string
		transition time.Duration
		want       time.Duration
	}{
		{"unset uses default", 0, DefaultTransition},
		{"explicit", 2 * time.Second, 2 * time.Second},
		{"negative disables", -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Name: "office", Transition: tt.transition}
			cfg.applyDefaults()
			assert.Equal(t, tt.want, cfg.Transition)
			assert.Equal(t, DefaultRenderInterval, cfg.RenderInterval)
			assert.Equal(t, DefaultRestoreTimeout, cfg.RestoreTimeout)
			assert.Equal(t, light.Renard10, cfg.Ladder)
		})
	}
}

func TestApplyPersistsThenRenders(t *testing.T) {
	f := newFixture(t)
	mirror := newFakeMirror()
	rec := &recorder{}
	c := f.controller("office", nil, WithMirror(mirror), WithObserver(rec))

	assert.ErrorIs(t, c.Apply(context.Background(), light.TurnOn), ErrNotStarted)
	start(t, c)
	// Let the startup render go out first.
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Apply(context.Background(), light.TurnOn))
	require.Eventually(t, func() bool { return len(f.persisted("office")) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, light.Default().Equal(f.persisted("office")[0]))

	retained, ok := f.broker.Retained(c.StateTopic())
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"default"}`, string(retained))

	require.Eventually(t, func() bool {
		cmd, ok := f.lights[0].Last()
		return ok && cmd.Brightness == 0.5 && cmd.Transition == DefaultTransition
	}, time.Second, 5*time.Millisecond)

	st, ok, _ := mirror.Get(context.Background(), "office")
	require.True(t, ok)
	assert.True(t, light.Default().Equal(st))
	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSwitchFanInKeepsEveryInput(t *testing.T) {
	f := newFixture(t)
	sw1, sw2 := virtual.NewSwitch("s1"), virtual.NewSwitch("s2")
	c := f.controller("hall", []device.Switch{sw1, sw2})
	start(t, c)

	waitListening(t, sw1, sw2)

	const presses = 20
	var wg sync.WaitGroup
	for _, sw := range []*virtual.Switch{sw1, sw2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < presses; i++ {
				in := light.IncreaseBrightness
				if i%2 == 1 {
					in = light.DecreaseBrightness
				}
				assert.NoError(t, sw.Press(context.Background(), in))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(f.persisted("hall")) == 2*presses }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.persisted("hall"), 2*presses)
}

func TestSwitchFanInAppliesArrivalOrder(t *testing.T) {
	f := newFixture(t)
	sw1, sw2 := virtual.NewSwitch("s1"), virtual.NewSwitch("s2")
	c := f.controller("hall", []device.Switch{sw1, sw2})
	start(t, c)
	waitListening(t, sw1, sw2)

	presses := []struct {
		sw *virtual.Switch
		in light.Input
	}{
		{sw1, light.TurnOn},
		{sw2, light.IncreaseBrightness},
		{sw1, light.DecreaseBrightness},
		{sw2, light.DecreaseBrightness},
		{sw1, light.TurnOff},
		{sw2, light.Toggle},
	}

	env := light.Env{Baseline: 0.5, Now: f.clock.Now(), Ladder: light.Renard10, DimmedLifetime: light.DefaultDimmedLifetime}
	want := []light.State{}
	st := light.Off()
	for i, p := range presses {
		require.NoError(t, p.sw.Press(context.Background(), p.in))
		require.Eventually(t, func() bool { return len(f.persisted("hall")) == i+1 }, time.Second, 5*time.Millisecond)
		st = light.Transition(st, p.in, env)
		want = append(want, st)
	}

	got := f.persisted("hall")
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "step %d: want %s, got %s", i, want[i], got[i])
	}
	assert.True(t, light.Dimmed(8).Equal(c.State()))
}

func TestApplyExternal(t *testing.T) {
	f := newFixture(t)
	c := f.controller("office", nil)
	start(t, c)

	b := light.Brightness(0.9)
	require.NoError(t, c.ApplyExternal(context.Background(), ExternalState{On: true, Brightness: &b}))
	require.Eventually(t, func() bool { return c.State().Kind == light.KindBrightened }, time.Second, 5*time.Millisecond)
	assert.True(t, light.Brightened(10).Equal(c.State()))

	require.NoError(t, c.ApplyExternal(context.Background(), ExternalState{On: false}))
	require.Eventually(t, func() bool { return c.State().Kind == light.KindOff }, time.Second, 5*time.Millisecond)
}

func TestMapExternal(t *testing.T) {
	bp := func(v light.Brightness) *light.Brightness { return &v }
	ct := light.ColorTemperature(4000)

	tests := []struct {
		name string
		ext  ExternalState
		want light.State
	}{
		{"off", ExternalState{On: false, Brightness: bp(0.8)}, light.Off()},
		{"on without brightness", ExternalState{On: true}, light.Default()},
		{"within tolerance", ExternalState{On: true, Brightness: bp(0.51)}, light.Default()},
		{"just below tolerance", ExternalState{On: true, Brightness: bp(0.47)}, light.Dimmed(8)},
		{"well below", ExternalState{On: true, Brightness: bp(0.2)}, light.Dimmed(6)},
		{"above", ExternalState{On: true, Brightness: bp(0.9)}, light.Brightened(10)},
		{"just above", ExternalState{On: true, Brightness: bp(0.53)}, light.Brightened(9)},
		{"color temperature pins", ExternalState{On: true, Brightness: bp(0.3), ColorTemperature: &ct}, light.Custom(4000, 0.3)},
		{"color temperature only", ExternalState{On: true, ColorTemperature: &ct}, light.Custom(4000, 0.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapExternal(tt.ext, 0.5, light.Renard10)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestRendererIsolatesFailures(t *testing.T) {
	good, bad := virtual.NewLight("good"), virtual.NewLight("bad")
	boom := errors.New("no route")
	bad.FailWith(boom)

	r := NewRenderer(RendererConfig{Rate: 1000, Burst: 10}, nil)
	err := r.Render(context.Background(), "g", []device.Light{bad, good}, device.Command{Brightness: 0.3, ColorTemperature: 2700})

	assert.ErrorIs(t, err, boom)
	cmd, ok := good.Last()
	require.True(t, ok)
	assert.Equal(t, light.Brightness(0.3), cmd.Brightness)
}

func TestRegistry(t *testing.T) {
	f := newFixture(t)
	r := NewRegistry()
	require.NoError(t, r.Add(f.controller("kitchen", nil)))
	require.NoError(t, r.Add(f.controller("bedroom", nil)))
	assert.Error(t, r.Add(f.controller("kitchen", nil)))

	assert.Equal(t, []string{"bedroom", "kitchen"}, r.Names())
	assert.Equal(t, 2, r.Len())
	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "bedroom", all[0].Name())

	_, ok := r.Get("attic")
	assert.False(t, ok)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	payload, _ := light.Encode(light.Custom(2200, 0.25))
	require.NoError(t, f.client.Publish(context.Background(), "daylight/lightgroup/den/internalstate", payload, mqtt.AtLeastOnce, true))
	c := f.controller("den", nil)
	start(t, c)

	s := c.Snapshot(f.clock.Now())
	assert.Equal(t, "den", s.Name)
	assert.Equal(t, light.Brightness(0.25), s.Brightness)
	assert.Equal(t, light.ColorTemperature(2200), s.ColorTemperature)
	assert.Equal(t, 455, s.Mired)
	assert.Equal(t, light.Brightness(0.5), s.BaselineBrightness)
}
