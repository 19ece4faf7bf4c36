// Package group runs light groups: it merges switch inputs into one ordered
// stream per group, moves the group's state machine, persists every change
// and renders the result to the group's lights.
package group

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/daylightd/internal/device"
	"github.com/dokzlo13/daylightd/internal/light"
	"github.com/dokzlo13/daylightd/internal/metrics"
	"github.com/dokzlo13/daylightd/internal/mqtt"
	"github.com/dokzlo13/daylightd/internal/schedule"
)

const (
	DefaultTopicPrefix    = "daylight"
	DefaultTransition     = 500 * time.Millisecond
	DefaultRenderInterval = time.Minute
	DefaultRestoreTimeout = 250 * time.Millisecond
	DefaultQueueSize      = 32

	switchRetryInterval = 5 * time.Second
)

// ErrNotStarted is returned when a mutation is queued before Start.
var ErrNotStarted = errors.New("light group not started")

// Config describes one light group.
type Config struct {
	Name             string
	Lights           []device.Light
	Switches         []device.Switch
	Brightness       schedule.Schedule[light.Brightness]
	ColorTemperature schedule.Schedule[light.ColorTemperature]
	Ladder           light.Ladder
	DimmedLifetime   time.Duration

	TopicPrefix    string
	Transition     time.Duration // zero means DefaultTransition, negative means none
	RenderInterval time.Duration
	RestoreTimeout time.Duration
	QueueSize      int
}

func (c *Config) applyDefaults() {
	if c.Ladder == nil {
		c.Ladder = light.Renard10
	}
	if c.DimmedLifetime <= 0 {
		c.DimmedLifetime = light.DefaultDimmedLifetime
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	if c.Transition == 0 {
		c.Transition = DefaultTransition
	}
	if c.Transition < 0 {
		c.Transition = 0
	}
	if c.RenderInterval <= 0 {
		c.RenderInterval = DefaultRenderInterval
	}
	if c.RestoreTimeout <= 0 {
		c.RestoreTimeout = DefaultRestoreTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
}

// Transport is the part of the MQTT client a controller uses.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	SubscribeLatest(ctx context.Context, topic string) (*mqtt.Latest, error)
	QoS() byte
}

// Mirror is a local copy of committed states, consulted when the broker
// holds no retained state for the group.
type Mirror interface {
	Get(ctx context.Context, id string) (light.State, bool, error)
	Set(ctx context.Context, id string, st light.State) error
}

// Rendered describes a render that just went out.
type Rendered struct {
	Group            string
	State            light.State
	Brightness       light.Brightness
	ColorTemperature light.ColorTemperature
	Trigger          string
}

// Observer is told about every render, e.g. to publish the group's state
// to a home-automation integration.
type Observer interface {
	Rendered(ctx context.Context, r Rendered)
}

// Option customizes a Controller.
type Option func(*Controller)

func WithClock(clock schedule.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithMirror(m Mirror) Option {
	return func(c *Controller) { c.mirror = m }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

type mutation struct {
	input    *light.Input
	external *ExternalState
}

// Controller owns one light group. Its state is only ever changed by the
// mutation loop; the periodic render reads the committed state.
type Controller struct {
	cfg       Config
	transport Transport
	renderer  *Renderer
	clock     schedule.Clock
	mirror    Mirror
	metrics   *metrics.Metrics
	observers []Observer

	queue   chan mutation
	started chan struct{}
	once    sync.Once

	mu    sync.RWMutex
	state light.State

	// renderMu orders renders so a periodic tick never sends a state older
	// than one already rendered by the mutation loop.
	renderMu sync.Mutex

	wg sync.WaitGroup
}

// NewController creates a controller. Nothing runs until Start.
func NewController(cfg Config, transport Transport, renderer *Renderer, opts ...Option) *Controller {
	cfg.applyDefaults()
	c := &Controller{
		cfg:       cfg,
		transport: transport,
		renderer:  renderer,
		clock:     schedule.SystemClock{},
		queue:     make(chan mutation, cfg.QueueSize),
		started:   make(chan struct{}),
		state:     light.Off(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Name() string { return c.cfg.Name }

// Observe adds an observer. It must be called before Start.
func (c *Controller) Observe(o Observer) {
	c.observers = append(c.observers, o)
}

// StateTopic is where the committed state is kept as a retained message.
func (c *Controller) StateTopic() string {
	return c.cfg.TopicPrefix + "/lightgroup/" + c.cfg.Name + "/internalstate"
}

// Start restores the persisted state, then runs the switch listeners, the
// mutation loop and the periodic render until ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	if c.cfg.Brightness == nil || c.cfg.ColorTemperature == nil {
		return fmt.Errorf("light group %s: brightness and color temperature schedules are required", c.cfg.Name)
	}
	if err := c.cfg.Ladder.Validate(); err != nil {
		return fmt.Errorf("light group %s: %w", c.cfg.Name, err)
	}

	c.once.Do(func() {
		st, source := c.restore(ctx)
		c.mu.Lock()
		c.state = st
		c.mu.Unlock()

		log.Info().
			Str("group", c.cfg.Name).
			Stringer("state", st).
			Str("source", source).
			Int("lights", len(c.cfg.Lights)).
			Int("switches", len(c.cfg.Switches)).
			Msg("Light group started")

		for _, sw := range c.cfg.Switches {
			c.wg.Add(1)
			go c.listen(ctx, sw)
		}

		c.wg.Add(2)
		go c.loop(ctx)
		go func() {
			defer c.wg.Done()
			schedule.Every(ctx, c.clock, c.cfg.RenderInterval, "render "+c.cfg.Name, c.tick)
		}()

		close(c.started)
	})
	return nil
}

// Wait blocks until every task of the group has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Apply queues an input. It blocks while the queue is full.
func (c *Controller) Apply(ctx context.Context, in light.Input) error {
	return c.enqueue(ctx, mutation{input: &in})
}

// ApplyExternal queues a state pushed by a home-automation integration.
func (c *Controller) ApplyExternal(ctx context.Context, ext ExternalState) error {
	return c.enqueue(ctx, mutation{external: &ext})
}

func (c *Controller) enqueue(ctx context.Context, m mutation) error {
	select {
	case <-c.started:
	default:
		return ErrNotStarted
	}
	select {
	case c.queue <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the committed state.
func (c *Controller) State() light.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Baseline evaluates the group's schedules.
func (c *Controller) Baseline(t time.Time) (light.Brightness, light.ColorTemperature) {
	return c.cfg.Brightness.ValueAt(t), c.cfg.ColorTemperature.ValueAt(t)
}

// Resolved returns the brightness and color temperature of the committed
// state at t.
func (c *Controller) Resolved(t time.Time) (light.Brightness, light.ColorTemperature) {
	bb, cb := c.Baseline(t)
	return c.State().Resolve(bb, cb, c.cfg.Ladder)
}

// Snapshot is a read-only view of a group for status output.
type Snapshot struct {
	Name                     string                 `json:"name"`
	State                    light.State            `json:"state"`
	Brightness               light.Brightness       `json:"brightness"`
	ColorTemperature         light.ColorTemperature `json:"color_temperature"`
	Mired                    int                    `json:"mired"`
	BaselineBrightness       light.Brightness       `json:"baseline_brightness"`
	BaselineColorTemperature light.ColorTemperature `json:"baseline_color_temperature"`
}

func (c *Controller) Snapshot(t time.Time) Snapshot {
	st := c.State()
	bb, cb := c.Baseline(t)
	b, ct := st.Resolve(bb, cb, c.cfg.Ladder)
	return Snapshot{
		Name:                     c.cfg.Name,
		State:                    st,
		Brightness:               b,
		ColorTemperature:         ct,
		Mired:                    ct.Mired(),
		BaselineBrightness:       bb,
		BaselineColorTemperature: cb,
	}
}

func (c *Controller) restore(ctx context.Context) (light.State, string) {
	latest, err := c.transport.SubscribeLatest(ctx, c.StateTopic())
	if err != nil {
		log.Warn().Err(err).Str("group", c.cfg.Name).Str("topic", c.StateTopic()).Msg("Failed to read retained state")
	} else {
		payload, ok := latest.Wait(ctx, c.cfg.RestoreTimeout)
		latest.Close()
		if ok {
			st, err := light.Decode(payload)
			if err != nil {
				log.Warn().
					Err(err).
					Str("group", c.cfg.Name).
					Str("topic", c.StateTopic()).
					Str("payload", string(payload)).
					Msg("Discarding malformed retained state")
				return light.Off(), "malformed"
			}
			return st, "retained"
		}
	}

	if c.mirror != nil {
		st, ok, err := c.mirror.Get(ctx, c.cfg.Name)
		if err != nil {
			log.Warn().Err(err).Str("group", c.cfg.Name).Msg("Failed to read mirrored state")
		} else if ok {
			return st, "mirror"
		}
	}

	return light.Off(), "default"
}

// listen forwards one switch's inputs into the queue, resubscribing when
// the switch stream ends before ctx does.
func (c *Controller) listen(ctx context.Context, sw device.Switch) {
	defer c.wg.Done()

	for {
		inputs, err := sw.Inputs(ctx)
		if err != nil {
			log.Warn().
				Err(err).
				Str("group", c.cfg.Name).
				Str("switch", sw.Name()).
				Dur("retry_in", switchRetryInterval).
				Msg("Failed to listen to switch")
		} else {
			for in := range inputs {
				select {
				case c.queue <- mutation{input: &in}:
				case <-ctx.Done():
					return
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(switchRetryInterval):
		}
	}
}

func (c *Controller) loop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.queue:
			c.mutate(ctx, m)
		}
	}
}

// mutate applies one queued change: transition, persist, render.
func (c *Controller) mutate(ctx context.Context, m mutation) {
	now := c.clock.Now()
	baseline, _ := c.Baseline(now)

	c.mu.RLock()
	current := c.state
	c.mu.RUnlock()

	var (
		next   light.State
		reason string
	)
	switch {
	case m.input != nil:
		c.metrics.Input(c.cfg.Name, m.input.Kind.String())
		next = light.Transition(current, *m.input, light.Env{
			Baseline:       baseline,
			Now:            now,
			Ladder:         c.cfg.Ladder,
			DimmedLifetime: c.cfg.DimmedLifetime,
		})
		reason = m.input.String()
	case m.external != nil:
		c.metrics.Input(c.cfg.Name, "external")
		next = MapExternal(*m.external, baseline, c.cfg.Ladder)
		reason = "external"
	default:
		return
	}

	c.mu.Lock()
	c.state = next
	c.mu.Unlock()

	if !next.Equal(current) {
		c.metrics.Transition(c.cfg.Name, next.Kind.String())
		log.Info().
			Str("group", c.cfg.Name).
			Str("input", reason).
			Stringer("from", current).
			Stringer("to", next).
			Msg("Light group state changed")
	}

	c.persist(ctx, next)
	c.render(ctx, c.cfg.Transition, "input")
}

func (c *Controller) persist(ctx context.Context, st light.State) {
	payload, err := light.Encode(st)
	if err != nil {
		log.Error().Err(err).Str("group", c.cfg.Name).Msg("Failed to encode state")
		return
	}

	if err := c.transport.Publish(ctx, c.StateTopic(), payload, c.transport.QoS(), true); err != nil {
		c.metrics.PersistError(c.cfg.Name, "mqtt")
		log.Warn().
			Err(err).
			Str("group", c.cfg.Name).
			Str("topic", c.StateTopic()).
			Msg("Failed to persist state")
	}

	if c.mirror != nil {
		if err := c.mirror.Set(ctx, c.cfg.Name, st); err != nil {
			c.metrics.PersistError(c.cfg.Name, "sqlite")
			log.Warn().Err(err).Str("group", c.cfg.Name).Msg("Failed to mirror state")
		}
	}
}

func (c *Controller) tick(time.Time) error {
	// Background context: an in-flight render is never cancelled, only
	// the loop that schedules the next one.
	c.render(context.Background(), 0, "tick")
	return nil
}

// render sends the committed state, resolved against the schedules now.
func (c *Controller) render(ctx context.Context, transition time.Duration, trigger string) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	st := c.State()
	bb, cb := c.Baseline(c.clock.Now())
	b, ct := st.Resolve(bb, cb, c.cfg.Ladder)
	cmd := device.Command{Brightness: b, ColorTemperature: ct, Transition: transition}

	if err := c.renderer.Render(ctx, c.cfg.Name, c.cfg.Lights, cmd); err != nil {
		log.Debug().Err(err).Str("group", c.cfg.Name).Msg("Render incomplete")
	}
	c.metrics.Render(c.cfg.Name, trigger, b.Float64())

	log.Trace().
		Str("group", c.cfg.Name).
		Stringer("state", st).
		Float64("brightness", b.Float64()).
		Int("kelvin", ct.Kelvin()).
		Str("trigger", trigger).
		Msg("Rendered light group")

	for _, o := range c.observers {
		o.Rendered(ctx, Rendered{
			Group:            c.cfg.Name,
			State:            st,
			Brightness:       b,
			ColorTemperature: ct,
			Trigger:          trigger,
		})
	}
}

func (c *Controller) String() string {
	return fmt.Sprintf("lightgroup(%s)", c.cfg.Name)
}
