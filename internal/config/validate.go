package config

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/dokzlo13/daylightd/internal/curve"
	"github.com/dokzlo13/daylightd/internal/device/zigbee"
	"github.com/dokzlo13/daylightd/internal/light"
	"github.com/dokzlo13/daylightd/internal/schedule"
)

// Validate checks the configuration for mistakes that would only show up
// at runtime. Every problem found is reported.
func (cfg *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.MQTT.QoS != nil && (*cfg.MQTT.QoS < 0 || *cfg.MQTT.QoS > 2) {
		add("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.MQTT.MinRetryBackoff > cfg.MQTT.MaxRetryBackoff {
		add("mqtt.min_retry_backoff exceeds max_retry_backoff")
	}

	switch cfg.Weather.Source {
	case WeatherOpenWeather:
		if !cfg.Weather.HasCoordinates() && cfg.Weather.Name == "" {
			add("weather: lat/lon or name is required for %s", WeatherOpenWeather)
		}
	case WeatherAstro:
		if !cfg.Weather.HasCoordinates() && cfg.Weather.Name == "" {
			add("weather: lat/lon or name is required for %s", WeatherAstro)
		}
	case WeatherStatic:
	default:
		add("weather.source %q is not one of openweather, astro, static", cfg.Weather.Source)
	}
	if _, err := cfg.Weather.Location(); err != nil {
		add("weather.timezone: %v", err)
	}
	for key, v := range map[string]string{"sunrise": cfg.Weather.Sunrise, "sunset": cfg.Weather.Sunset} {
		if _, err := schedule.ParseTimeOfDay(v); err != nil {
			add("weather.%s: %v", key, err)
		}
	}

	switch cfg.Log.Format {
	case "console", "json":
	default:
		add("log.format %q is not one of console, json", cfg.Log.Format)
	}

	lightNames := lo.Map(cfg.Lights, func(l LightConfig, _ int) string { return l.Name })
	switchNames := lo.Map(cfg.Switches, func(s SwitchConfig, _ int) string { return s.Name })
	groupNames := lo.Map(cfg.Groups, func(g GroupConfig, _ int) string { return g.Name })

	for kind, names := range map[string][]string{"light": lightNames, "switch": switchNames, "group": groupNames} {
		if lo.Contains(names, "") {
			add("a %s has no name", kind)
		}
		for _, dup := range lo.FindDuplicates(names) {
			add("duplicate %s name %q", kind, dup)
		}
	}

	for _, l := range cfg.Lights {
		if l.Type != DeviceZigbee && l.Type != DeviceVirtual {
			add("light %s: unknown type %q", l.Name, l.Type)
		}
	}
	for _, s := range cfg.Switches {
		switch s.Type {
		case DeviceZigbee:
			if _, err := zigbee.ActionMap(s.Preset, s.Actions); err != nil {
				add("switch %s: %v", s.Name, err)
			}
		case DeviceVirtual:
		default:
			add("switch %s: unknown type %q", s.Name, s.Type)
		}
	}

	if len(cfg.Groups) == 0 {
		add("no light groups configured")
	}
	for _, g := range cfg.Groups {
		for _, name := range g.Lights {
			if !lo.Contains(lightNames, name) {
				add("group %s: unknown light %q", g.Name, name)
			}
		}
		for _, name := range g.Switches {
			if !lo.Contains(switchNames, name) {
				add("group %s: unknown switch %q", g.Name, name)
			}
		}
		if len(g.Ladder) > 0 {
			ladder := lo.Map(g.Ladder, func(v float64, _ int) light.Brightness { return light.Brightness(v) })
			if err := light.Ladder(ladder).Validate(); err != nil {
				add("group %s: ladder: %v", g.Name, err)
			}
		}
		if err := g.Brightness.validate(); err != nil {
			add("group %s: brightness: %v", g.Name, err)
		}
		if err := g.ColorTemperature.validate(); err != nil {
			add("group %s: color_temperature: %v", g.Name, err)
		}
		for i, o := range g.Overrides {
			if !o.End.After(o.Start) {
				add("group %s: override %d ends before it starts", g.Name, i)
			}
			if o.Brightness == nil && o.ColorTemperature == nil {
				add("group %s: override %d replaces nothing", g.Name, i)
			}
			for _, c := range []*CurveConfig{o.Brightness, o.ColorTemperature} {
				if c == nil {
					continue
				}
				if err := c.validate(); err != nil {
					add("group %s: override %d: %v", g.Name, i, err)
				}
			}
		}
	}

	return errors.Join(errs...)
}

func (c *CurveConfig) validate() error {
	switch c.Type {
	case CurveStandard:
		return nil
	case CurvePattern:
		if len(c.Points) == 0 {
			return schedule.ErrNoPoints
		}
		for expr := range c.Points {
			if _, err := curve.ParseExpr(expr); err != nil {
				return err
			}
		}
		return nil
	case CurveDaily:
		if len(c.Points) == 0 {
			return schedule.ErrNoPoints
		}
		for tod := range c.Points {
			if _, err := schedule.ParseTimeOfDay(tod); err != nil {
				return err
			}
		}
		return nil
	case CurveScript:
		if c.Script == "" {
			return errors.New("script curve needs a script path")
		}
		return nil
	default:
		return fmt.Errorf("unknown curve type %q", c.Type)
	}
}
