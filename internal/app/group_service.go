package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/dokzlo13/daylightd/internal/config"
	"github.com/dokzlo13/daylightd/internal/curve"
	"github.com/dokzlo13/daylightd/internal/device"
	"github.com/dokzlo13/daylightd/internal/device/virtual"
	"github.com/dokzlo13/daylightd/internal/device/zigbee"
	"github.com/dokzlo13/daylightd/internal/group"
	"github.com/dokzlo13/daylightd/internal/light"
	"github.com/dokzlo13/daylightd/internal/metrics"
	"github.com/dokzlo13/daylightd/internal/mqtt"
	"github.com/dokzlo13/daylightd/internal/schedule"
	"github.com/dokzlo13/daylightd/internal/status"
	"github.com/dokzlo13/daylightd/internal/storage"
)

// mirrorKind is the storage kind of the committed group states.
const mirrorKind = "lightgroup"

// GroupService owns the devices, schedules and controllers of every light
// group.
type GroupService struct {
	cfg     *config.Config
	clock   schedule.Clock
	metrics *metrics.Metrics

	Registry *group.Registry
	Reseeder *schedule.Reseeder
	Pressers map[string]status.Presser

	lights       map[string]device.Light
	switches     map[string]device.Switch
	initializers []device.Initializer
	scripts      []*curve.Script
}

// NewGroupService builds devices and controllers. Nothing touches the broker
// until Start.
func NewGroupService(cfg *config.Config, client *mqtt.Client, weatherSvc *WeatherService, mirror *storage.TypedStore[light.State], m *metrics.Metrics) (*GroupService, error) {
	s := &GroupService{
		cfg:      cfg,
		clock:    schedule.SystemClock{},
		metrics:  m,
		Registry: group.NewRegistry(),
		Reseeder: schedule.NewReseeder(schedule.SystemClock{}, weatherSvc.Loc, schedule.DefaultReseedAt, cfg.Weather.Refresh.Duration()),
		Pressers: make(map[string]status.Presser),
		lights:   make(map[string]device.Light),
		switches: make(map[string]device.Switch),
	}

	if err := s.buildDevices(client); err != nil {
		s.Close()
		return nil, err
	}

	renderer := group.NewRenderer(group.RendererConfig{
		Rate:        cfg.Render.RateLimit,
		Burst:       cfg.Render.Burst,
		Concurrency: cfg.Render.Concurrency,
	}, m)

	for _, gc := range cfg.Groups {
		ctrl, err := s.buildGroup(gc, client, renderer, weatherSvc, mirror)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("light group %s: %w", gc.Name, err)
		}
		if err := s.Registry.Add(ctrl); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *GroupService) buildDevices(client *mqtt.Client) error {
	base := s.cfg.Topics.Zigbee2MQTT

	for _, lc := range s.cfg.Lights {
		var l device.Light
		switch lc.Type {
		case config.DeviceVirtual:
			l = virtual.NewLight(lc.Name)
		default:
			l = zigbee.NewBulb(client, zigbee.BulbConfig{
				Name:      lc.Name,
				BaseTopic: base,
				IEEE:      lc.IEEE,
				Init:      lc.Init,
			})
		}
		s.lights[lc.Name] = l
		if dev, ok := l.(device.Initializer); ok {
			s.initializers = append(s.initializers, dev)
		}
	}

	for _, sc := range s.cfg.Switches {
		switch sc.Type {
		case config.DeviceVirtual:
			sw := virtual.NewSwitch(sc.Name)
			s.switches[sc.Name] = sw
			s.Pressers[sc.Name] = sw
		default:
			actions, err := zigbee.ActionMap(sc.Preset, sc.Actions)
			if err != nil {
				return fmt.Errorf("switch %s: %w", sc.Name, err)
			}
			s.switches[sc.Name] = zigbee.NewActionSwitch(client, sc.Name, base, actions)
		}
	}

	log.Debug().Int("lights", len(s.lights)).Int("switches", len(s.switches)).Msg("Devices configured")
	return nil
}

func (s *GroupService) buildGroup(gc config.GroupConfig, client *mqtt.Client, renderer *group.Renderer, weatherSvc *WeatherService, mirror *storage.TypedStore[light.State]) (*group.Controller, error) {
	brightness, err := buildSchedule(s, gc.Name+"/brightness", gc.Brightness, curve.StandardBrightness, toBrightness, weatherSvc)
	if err != nil {
		return nil, fmt.Errorf("brightness: %w", err)
	}
	colorTemperature, err := buildSchedule(s, gc.Name+"/color_temperature", gc.ColorTemperature, curve.StandardColorTemperature, toColorTemperature, weatherSvc)
	if err != nil {
		return nil, fmt.Errorf("color temperature: %w", err)
	}

	brightnessSched := schedule.NewOverridable[light.Brightness](brightness)
	colorSched := schedule.NewOverridable[light.ColorTemperature](colorTemperature)
	for i, oc := range gc.Overrides {
		name := fmt.Sprintf("%s/override-%d", gc.Name, i)
		if oc.Brightness != nil {
			sched, err := buildSchedule(s, name+"/brightness", *oc.Brightness, curve.StandardBrightness, toBrightness, weatherSvc)
			if err != nil {
				return nil, fmt.Errorf("override %d brightness: %w", i, err)
			}
			brightnessSched.Override(sched, oc.Start, oc.End)
		}
		if oc.ColorTemperature != nil {
			sched, err := buildSchedule(s, name+"/color_temperature", *oc.ColorTemperature, curve.StandardColorTemperature, toColorTemperature, weatherSvc)
			if err != nil {
				return nil, fmt.Errorf("override %d color temperature: %w", i, err)
			}
			colorSched.Override(sched, oc.Start, oc.End)
		}
	}

	lights := make([]device.Light, 0, len(gc.Lights))
	for _, name := range gc.Lights {
		l, ok := s.lights[name]
		if !ok {
			return nil, fmt.Errorf("unknown light %q", name)
		}
		lights = append(lights, l)
	}
	switches := make([]device.Switch, 0, len(gc.Switches))
	for _, name := range gc.Switches {
		sw, ok := s.switches[name]
		if !ok {
			return nil, fmt.Errorf("unknown switch %q", name)
		}
		switches = append(switches, sw)
	}

	var ladder light.Ladder
	if len(gc.Ladder) > 0 {
		ladder = lo.Map(gc.Ladder, func(v float64, _ int) light.Brightness { return light.Brightness(v) })
	}

	return group.NewController(group.Config{
		Name:             gc.Name,
		Lights:           lights,
		Switches:         switches,
		Brightness:       brightnessSched,
		ColorTemperature: colorSched,
		Ladder:           ladder,
		DimmedLifetime:   gc.DimmedLifetime.Duration(),
		TopicPrefix:      s.cfg.Topics.Prefix,
		Transition:       s.cfg.Render.Transition.Duration(),
		RenderInterval:   s.cfg.Render.Interval.Duration(),
		RestoreTimeout:   s.cfg.Render.RestoreTimeout.Duration(),
		QueueSize:        s.cfg.Render.QueueSize,
	}, client, renderer,
		group.WithClock(s.clock),
		group.WithMirror(mirror),
		group.WithMetrics(s.metrics),
	), nil
}

// buildSchedule turns a curve config into a schedule. Solar curves are
// backed by an absolute schedule that the reseeder refills every day.
func buildSchedule[T schedule.Value[T]](s *GroupService, name string, cc config.CurveConfig, standard map[string]float64, convert func(float64) T, weatherSvc *WeatherService) (schedule.Schedule[T], error) {
	loc := weatherSvc.Loc

	var gen curve.Generator
	switch cc.Type {
	case config.CurveDaily:
		points := make([]schedule.DailyPoint[T], 0, len(cc.Points))
		for at, v := range cc.Points {
			offset, err := schedule.ParseTimeOfDay(at)
			if err != nil {
				return nil, err
			}
			points = append(points, schedule.DailyPoint[T]{Offset: offset, Value: convert(v)})
		}
		daily, err := schedule.NewDaily(loc, points...)
		if err != nil {
			return nil, err
		}
		return daily, nil
	case config.CurvePattern:
		pattern, err := curve.NewPattern(loc, cc.Points)
		if err != nil {
			return nil, err
		}
		gen = pattern
	case config.CurveScript:
		script, err := curve.LoadScript(cc.Script, loc)
		if err != nil {
			return nil, err
		}
		s.scripts = append(s.scripts, script)
		gen = script
	default:
		pattern, err := curve.NewPattern(loc, standard)
		if err != nil {
			return nil, err
		}
		gen = pattern
	}

	target := schedule.NewAbsolute[T](s.clock)
	s.Reseeder.Add(name, &curve.Seeded[T]{
		Name:      name,
		Generator: gen,
		Target:    target,
		Weather:   weatherSvc.Poller,
		Fallback:  weatherSvc.Fallback,
		Convert:   convert,
		Loc:       loc,
	})
	return target, nil
}

func toBrightness(v float64) light.Brightness {
	return light.Brightness(v).Clamp()
}

func toColorTemperature(v float64) light.ColorTemperature {
	return light.ColorTemperature(int(math.Round(v)))
}

// Start initializes the devices, seeds the schedules and starts every
// controller. Schedules are seeded before the first render so that no
// group renders from an empty schedule.
func (s *GroupService) Start(ctx context.Context) error {
	for _, dev := range s.initializers {
		if err := dev.Init(ctx); err != nil {
			// A device that is offline at startup is not fatal; it picks up
			// the next render.
			log.Warn().Err(err).Msg("Device initialization failed")
		}
	}

	if err := s.Reseeder.SeedNow(s.clock.Now()); err != nil {
		log.Warn().Err(err).Msg("Initial schedule seeding incomplete, will retry")
	}

	for _, ctrl := range s.Registry.All() {
		if err := ctrl.Start(ctx); err != nil {
			return fmt.Errorf("light group %s: %w", ctrl.Name(), err)
		}
	}

	go s.Reseeder.Run(ctx)
	return nil
}

// StartSamplers exports each group's baseline as metrics, once per render
// interval.
func (s *GroupService) StartSamplers(ctx context.Context) {
	type baseline struct {
		brightness light.Brightness
		kelvin     int
	}

	for _, ctrl := range s.Registry.All() {
		samples := schedule.RunEvery(ctx, s.clock, s.cfg.Render.Interval.Duration(), "baseline "+ctrl.Name(),
			func(now time.Time) (baseline, error) {
				b, ct := ctrl.Baseline(now)
				return baseline{brightness: b, kelvin: ct.Kelvin()}, nil
			})

		go func(name string) {
			for b := range samples {
				s.metrics.Baseline(name, b.brightness.Float64(), b.kelvin)
			}
		}(ctrl.Name())
	}
}

// Wait blocks until every controller has stopped.
func (s *GroupService) Wait() {
	for _, ctrl := range s.Registry.All() {
		ctrl.Wait()
	}
}

// Close releases the script curves.
func (s *GroupService) Close() {
	for _, script := range s.scripts {
		script.Close()
	}
	s.scripts = nil
}
