package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultOpenWeatherURL is the One Call API endpoint.
const DefaultOpenWeatherURL = "https://api.openweathermap.org/data/3.0/onecall"

// OpenWeatherConfig configures the OpenWeather fetcher.
type OpenWeatherConfig struct {
	APIKey  string
	Lat     float64
	Lon     float64
	BaseURL string
	Timeout time.Duration
}

// OpenWeather fetches current conditions from the One Call API.
type OpenWeather struct {
	cfg  OpenWeatherConfig
	http *http.Client
}

// NewOpenWeather fails with ErrMissingAPIKey when no key is configured.
func NewOpenWeather(cfg OpenWeatherConfig) (*OpenWeather, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenWeatherURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &OpenWeather{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (o *OpenWeather) Name() string { return "openweather" }

type oneCallResponse struct {
	Timezone string `json:"timezone"`
	Current  struct {
		Dt      int64   `json:"dt"`
		Sunrise int64   `json:"sunrise"`
		Sunset  int64   `json:"sunset"`
		Temp    float64 `json:"temp"`
		Clouds  int     `json:"clouds"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
	} `json:"current"`
}

func (o *OpenWeather) Fetch(ctx context.Context) (Weather, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(o.cfg.Lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(o.cfg.Lon, 'f', 4, 64))
	q.Set("exclude", "minutely,hourly,daily,alerts")
	q.Set("units", "metric")
	q.Set("appid", o.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Weather{}, err
	}

	resp, err := o.http.Do(req)
	if err != nil {
		return Weather{}, fmt.Errorf("openweather request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Weather{}, fmt.Errorf("openweather returned status %d", resp.StatusCode)
	}

	var body oneCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Weather{}, fmt.Errorf("failed to decode openweather response: %w", err)
	}

	w := Weather{
		Sunrise:   time.Unix(body.Current.Sunrise, 0),
		Sunset:    time.Unix(body.Current.Sunset, 0),
		TempC:     body.Current.Temp,
		Clouds:    body.Current.Clouds,
		Source:    o.Name(),
		FetchedAt: time.Now(),
	}
	if len(body.Current.Weather) > 0 {
		w.Description = body.Current.Weather[0].Description
	}
	return w, nil
}
