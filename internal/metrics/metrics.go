// Package metrics holds the Prometheus collectors of the daemon. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "daylightd"

type Metrics struct {
	inputs         *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	renders        *prometheus.CounterVec
	deviceErrors   *prometheus.CounterVec
	persistErrors  *prometheus.CounterVec
	baseBrightness *prometheus.GaugeVec
	baseKelvin     *prometheus.GaugeVec
	resolved       *prometheus.GaugeVec
	weatherSunrise prometheus.Gauge
	weatherSunset  prometheus.Gauge
	weatherErrors  prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inputs_total",
			Help:      "Inputs applied to a light group",
		}, []string{"group", "input"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "State changes of a light group, by target state",
		}, []string{"group", "state"}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Renders of a light group, by trigger",
		}, []string{"group", "trigger"}),
		deviceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_errors_total",
			Help:      "Failed device commands",
		}, []string{"group", "device"}),
		persistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed state persist attempts, by target",
		}, []string{"group", "target"}),
		baseBrightness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "baseline_brightness",
			Help:      "Scheduled brightness of a light group (0-1)",
		}, []string{"group"}),
		baseKelvin: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "baseline_color_temperature_kelvin",
			Help:      "Scheduled color temperature of a light group",
		}, []string{"group"}),
		resolved: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resolved_brightness",
			Help:      "Brightness last rendered to a light group (0-1)",
		}, []string{"group"}),
		weatherSunrise: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "weather_sunrise_timestamp_seconds",
			Help:      "Sunrise of the latest weather value",
		}),
		weatherSunset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "weather_sunset_timestamp_seconds",
			Help:      "Sunset of the latest weather value",
		}),
		weatherErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_errors_total",
			Help:      "Failed weather refreshes",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.inputs, m.transitions, m.renders, m.deviceErrors, m.persistErrors,
			m.baseBrightness, m.baseKelvin, m.resolved,
			m.weatherSunrise, m.weatherSunset, m.weatherErrors,
		)
	}
	return m
}

func (m *Metrics) Input(group, input string) {
	if m == nil {
		return
	}
	m.inputs.WithLabelValues(group, input).Inc()
}

func (m *Metrics) Transition(group, state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(group, state).Inc()
}

func (m *Metrics) Render(group, trigger string, brightness float64) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(group, trigger).Inc()
	m.resolved.WithLabelValues(group).Set(brightness)
}

func (m *Metrics) DeviceError(group, device string) {
	if m == nil {
		return
	}
	m.deviceErrors.WithLabelValues(group, device).Inc()
}

func (m *Metrics) PersistError(group, target string) {
	if m == nil {
		return
	}
	m.persistErrors.WithLabelValues(group, target).Inc()
}

// Baseline records the scheduled values of a group.
func (m *Metrics) Baseline(group string, brightness float64, kelvin int) {
	if m == nil {
		return
	}
	m.baseBrightness.WithLabelValues(group).Set(brightness)
	m.baseKelvin.WithLabelValues(group).Set(float64(kelvin))
}

// Weather records the sun times of a fresh weather value.
func (m *Metrics) Weather(sunrise, sunset int64) {
	if m == nil {
		return
	}
	m.weatherSunrise.Set(float64(sunrise))
	m.weatherSunset.Set(float64(sunset))
}

func (m *Metrics) WeatherError() {
	if m == nil {
		return
	}
	m.weatherErrors.Inc()
}
