package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	MQTT            MQTTConfig          `yaml:"mqtt"`
	Topics          TopicsConfig        `yaml:"topics"`
	Weather         WeatherConfig       `yaml:"weather"`
	Database        DatabaseConfig      `yaml:"database"`
	Log             LogConfig           `yaml:"log"`
	Status          StatusConfig        `yaml:"status"`
	HomeAssistant   HomeAssistantConfig `yaml:"homeassistant"`
	Render          RenderConfig        `yaml:"render"`
	Lights          []LightConfig       `yaml:"lights"`
	Switches        []SwitchConfig      `yaml:"switches"`
	Groups          []GroupConfig       `yaml:"groups"`
	ShutdownTimeout Duration            `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// MQTTConfig contains broker connection settings
type MQTTConfig struct {
	Broker           string   `yaml:"broker"`
	ClientIDPrefix   string   `yaml:"client_id_prefix"` // A random suffix is always appended
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	QoS              *int     `yaml:"qos"` // Default: 1
	KeepAlive        Duration `yaml:"keep_alive"`
	ConnectTimeout   Duration `yaml:"connect_timeout"`
	OperationTimeout Duration `yaml:"operation_timeout"` // Subscribe/publish acknowledgement timeout

	// Connect retry settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between attempts (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between attempts (default: 30s)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxRetries      int      `yaml:"max_retries"`       // Attempts before giving up (default: 10)

	// InMemory replaces the broker with an in-process one (dev mode)
	InMemory bool `yaml:"in_memory"`
}

// GetQoS returns the QoS with default
func (c *MQTTConfig) GetQoS() byte {
	if c.QoS == nil {
		return 1
	}
	return byte(*c.QoS)
}

// TopicsConfig contains topic layout settings
type TopicsConfig struct {
	Prefix      string `yaml:"prefix"`      // Own topics live under <prefix>/lightgroup/<name>
	Zigbee2MQTT string `yaml:"zigbee2mqtt"` // zigbee2mqtt base topic
}

// Weather sources
const (
	WeatherOpenWeather = "openweather"
	WeatherAstro       = "astro"
	WeatherStatic      = "static"
)

// WeatherConfig contains the sunrise/sunset source settings
type WeatherConfig struct {
	Source      string   `yaml:"source"`
	APIKey      string   `yaml:"api_key"`
	Refresh     Duration `yaml:"refresh"`
	HTTPTimeout Duration `yaml:"http_timeout"`
	Name        string   `yaml:"name"` // Place name, geocoded when lat/lon are unset
	Timezone    string   `yaml:"timezone"`
	Lat         float64  `yaml:"lat,omitempty"`
	Lon         float64  `yaml:"lon,omitempty"`

	// Static source times, also used as fallback before the first fetch
	Sunrise string `yaml:"sunrise"`
	Sunset  string `yaml:"sunset"`
}

// HasCoordinates reports whether lat/lon were given.
func (c *WeatherConfig) HasCoordinates() bool {
	return c.Lat != 0 || c.Lon != 0
}

// Location loads the configured timezone.
func (c *WeatherConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"` // console or json
	Colors bool          `yaml:"colors"`
	File   LogFileConfig `yaml:"file"`
}

// UseJSON reports whether console output is JSON.
func (c *LogConfig) UseJSON() bool {
	return c.Format == "json"
}

// LogFileConfig enables an additional rotating JSON log file
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// StatusConfig contains status server settings
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// HomeAssistantConfig contains MQTT discovery settings
type HomeAssistantConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// RenderConfig contains device update settings
type RenderConfig struct {
	Interval       Duration `yaml:"interval"`        // Periodic re-render (default: 1m)
	Transition     Duration `yaml:"transition"`      // Transition for input-driven renders (default: 500ms)
	RestoreTimeout Duration `yaml:"restore_timeout"` // Wait for retained state at startup (default: 250ms)
	RateLimit      float64  `yaml:"rate_limit"`      // Device commands per second, 0 = unlimited
	Burst          int      `yaml:"burst"`
	Concurrency    int      `yaml:"concurrency"` // Max in-flight commands per render, 0 = unlimited
	QueueSize      int      `yaml:"queue_size"`  // Per-group input queue (default: 32)
}

// Device types
const (
	DeviceZigbee  = "zigbee"
	DeviceVirtual = "virtual"
)

// LightConfig declares one light
type LightConfig struct {
	Name string         `yaml:"name"`
	Type string         `yaml:"type"`
	IEEE string         `yaml:"ieee"` // Renamed to name at startup when set
	Init map[string]any `yaml:"init"` // Published to the set topic at startup
}

// SwitchConfig declares one switch
type SwitchConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	Preset  string            `yaml:"preset"`
	Actions map[string]string `yaml:"actions"` // action -> input, on top of the preset
}

// Curve kinds
const (
	CurveStandard = "standard"
	CurvePattern  = "pattern"
	CurveScript   = "script"
	CurveDaily    = "daily"
)

// CurveConfig describes where a schedule's control points come from
type CurveConfig struct {
	Type   string             `yaml:"type"`
	Points map[string]float64 `yaml:"points"` // pattern and daily
	Script string             `yaml:"script"` // Lua file for script curves
}

// Solar reports whether the curve is reseeded from the weather.
func (c *CurveConfig) Solar() bool {
	return c.Type != CurveDaily
}

// GroupConfig declares one light group
type GroupConfig struct {
	Name             string           `yaml:"name"`
	Lights           []string         `yaml:"lights"`
	Switches         []string         `yaml:"switches"`
	Brightness       CurveConfig      `yaml:"brightness"`
	ColorTemperature CurveConfig      `yaml:"color_temperature"`
	Ladder           []float64        `yaml:"ladder"`
	DimmedLifetime   Duration         `yaml:"dimmed_lifetime"`
	Overrides        []OverrideConfig `yaml:"overrides"`
}

// OverrideConfig replaces a group's schedules during [start, end)
type OverrideConfig struct {
	Start            time.Time    `yaml:"start"`
	End              time.Time    `yaml:"end"`
	Brightness       *CurveConfig `yaml:"brightness"`
	ColorTemperature *CurveConfig `yaml:"color_temperature"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML, applying defaults and validation
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.File.MaxSizeMB == 0 {
		cfg.Log.File.MaxSizeMB = 50
	}
	if cfg.Log.File.MaxBackups == 0 {
		cfg.Log.File.MaxBackups = 3
	}
	if cfg.Log.File.MaxAgeDays == 0 {
		cfg.Log.File.MaxAgeDays = 28
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./daylightd.sqlite"
	}

	// MQTT defaults
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.ClientIDPrefix == "" {
		cfg.MQTT.ClientIDPrefix = "daylightd"
	}
	if cfg.MQTT.KeepAlive == 0 {
		cfg.MQTT.KeepAlive = Duration(30 * time.Second)
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.MQTT.OperationTimeout == 0 {
		cfg.MQTT.OperationTimeout = Duration(10 * time.Second)
	}
	if cfg.MQTT.MinRetryBackoff == 0 {
		cfg.MQTT.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.MQTT.MaxRetryBackoff == 0 {
		cfg.MQTT.MaxRetryBackoff = Duration(30 * time.Second)
	}
	if cfg.MQTT.RetryMultiplier == 0 {
		cfg.MQTT.RetryMultiplier = 2.0
	}
	if cfg.MQTT.MaxRetries == 0 {
		cfg.MQTT.MaxRetries = 10
	}

	if cfg.Topics.Prefix == "" {
		cfg.Topics.Prefix = "daylight"
	}
	if cfg.Topics.Zigbee2MQTT == "" {
		cfg.Topics.Zigbee2MQTT = "zigbee2mqtt"
	}

	// Weather defaults
	if cfg.Weather.Source == "" {
		cfg.Weather.Source = WeatherOpenWeather
	}
	if cfg.Weather.Refresh == 0 {
		cfg.Weather.Refresh = Duration(5 * time.Minute)
	}
	if cfg.Weather.HTTPTimeout == 0 {
		cfg.Weather.HTTPTimeout = Duration(10 * time.Second)
	}
	if cfg.Weather.Timezone == "" {
		cfg.Weather.Timezone = "UTC"
	}
	if cfg.Weather.Sunrise == "" {
		cfg.Weather.Sunrise = "07:00"
	}
	if cfg.Weather.Sunset == "" {
		cfg.Weather.Sunset = "19:00"
	}

	// Status defaults
	if cfg.Status.Port == 0 {
		cfg.Status.Port = 9090
	}
	if cfg.Status.Host == "" {
		cfg.Status.Host = "0.0.0.0"
	}

	if cfg.HomeAssistant.DiscoveryPrefix == "" {
		cfg.HomeAssistant.DiscoveryPrefix = "homeassistant"
	}

	// Render defaults
	if cfg.Render.Interval == 0 {
		cfg.Render.Interval = Duration(time.Minute)
	}
	if cfg.Render.Transition == 0 {
		cfg.Render.Transition = Duration(500 * time.Millisecond)
	}
	if cfg.Render.RestoreTimeout == 0 {
		cfg.Render.RestoreTimeout = Duration(250 * time.Millisecond)
	}
	if cfg.Render.Burst == 0 {
		cfg.Render.Burst = 5
	}
	if cfg.Render.QueueSize == 0 {
		cfg.Render.QueueSize = 32
	}

	for i := range cfg.Lights {
		if cfg.Lights[i].Type == "" {
			cfg.Lights[i].Type = DeviceZigbee
		}
	}
	for i := range cfg.Switches {
		if cfg.Switches[i].Type == "" {
			cfg.Switches[i].Type = DeviceZigbee
		}
	}
	for i := range cfg.Groups {
		g := &cfg.Groups[i]
		if g.Brightness.Type == "" {
			g.Brightness.Type = CurveStandard
		}
		if g.ColorTemperature.Type == "" {
			g.ColorTemperature.Type = CurveStandard
		}
		if g.DimmedLifetime == 0 {
			g.DimmedLifetime = Duration(4 * time.Hour)
		}
		for j := range g.Overrides {
			for _, c := range []*CurveConfig{g.Overrides[j].Brightness, g.Overrides[j].ColorTemperature} {
				if c != nil && c.Type == "" {
					c.Type = CurveDaily
				}
			}
		}
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
