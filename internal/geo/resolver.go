package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Location is a point on the globe.
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// DefaultNominatimURL is the public Nominatim search endpoint.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"

// Resolver turns place names into coordinates. Lookups go memory, then the
// persistent cache, then Nominatim.
type Resolver struct {
	baseURL string
	http    *http.Client
	cache   *Cache

	mu     sync.RWMutex
	memory map[string]Location
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(timeout time.Duration, cache *Cache) *Resolver {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{
		baseURL: DefaultNominatimURL,
		http:    &http.Client{Timeout: timeout},
		cache:   cache,
		memory:  make(map[string]Location),
	}
}

// WithBaseURL points the resolver at another Nominatim-compatible endpoint.
func (r *Resolver) WithBaseURL(u string) *Resolver {
	r.baseURL = u
	return r
}

// Resolve returns the coordinates of query.
func (r *Resolver) Resolve(ctx context.Context, query string) (Location, error) {
	r.mu.RLock()
	loc, ok := r.memory[query]
	r.mu.RUnlock()
	if ok {
		return loc, nil
	}

	if r.cache != nil {
		if loc, ok := r.cache.Get(ctx, query); ok {
			r.remember(query, loc)
			return loc, nil
		}
	}

	loc, err := r.geocode(ctx, query)
	if err != nil {
		return Location{}, err
	}
	r.remember(query, loc)
	if r.cache != nil {
		if err := r.cache.Put(ctx, query, loc); err != nil {
			log.Warn().Err(err).Str("query", query).Msg("Failed to cache geocoded location")
		}
	}
	return loc, nil
}

func (r *Resolver) remember(query string, loc Location) {
	r.mu.Lock()
	r.memory[query] = loc
	r.mu.Unlock()
}

func (r *Resolver) geocode(ctx context.Context, query string) (Location, error) {
	u := fmt.Sprintf("%s?q=%s&format=json&limit=1", r.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Location{}, err
	}
	req.Header.Set("User-Agent", "daylightd/1.0")

	resp, err := r.http.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geocoding failed with status %d", resp.StatusCode)
	}

	var results []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Location{}, fmt.Errorf("failed to decode geocoding response: %w", err)
	}
	if len(results) == 0 {
		return Location{}, fmt.Errorf("location not found: %s", query)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Location{}, fmt.Errorf("invalid latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Location{}, fmt.Errorf("invalid longitude %q: %w", results[0].Lon, err)
	}

	loc := Location{Name: results[0].DisplayName, Latitude: lat, Longitude: lon}
	log.Info().
		Str("query", query).
		Str("resolved", loc.Name).
		Float64("lat", lat).
		Float64("lon", lon).
		Msg("Location geocoded via Nominatim")
	return loc, nil
}
