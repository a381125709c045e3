package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/polychat-dev/polychat/internal/cache"
)

const (
	weatherCacheNamespace = "weather"
	weatherCacheTTL       = 30 * time.Minute
	openWeatherMapURL     = "https://api.openweathermap.org/data/2.5/weather"
)

type weatherResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

// Weather implements get_weather (spec §4.9 step 6, §6's
// openweathermap.api-key row): current conditions for a city, cached per
// spec §4.3's "one fixed namespace per external domain" under the plain
// city name so repeated tool calls within weatherCacheTTL skip the
// upstream round trip.
func (s *Service) Weather(ctx context.Context, city, countryCode string) (string, error) {
	if s.cfg.OpenWeatherMapAPIKey == "" {
		return "", fmt.Errorf("tools: weather: openweathermap api key not configured")
	}
	if city == "" {
		return "", fmt.Errorf("tools: weather: city is required")
	}

	cacheKey := city
	if countryCode != "" {
		cacheKey = city + "," + countryCode
	}
	if s.cache != nil {
		if raw, ok := s.cache.Get(weatherCacheNamespace, cacheKey); ok {
			var wr weatherResponse
			if err := json.Unmarshal(raw, &wr); err == nil {
				return formatWeather(wr), nil
			}
		}
	}

	q := cacheKey
	reqURL := fmt.Sprintf("%s?q=%s&appid=%s&units=metric", openWeatherMapURL, url.QueryEscape(q), s.cfg.OpenWeatherMapAPIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("tools: weather: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tools: weather: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("tools: weather: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tools: weather: upstream returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var wr weatherResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return "", fmt.Errorf("tools: weather: parse response: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, weatherCacheNamespace, cacheKey, json.RawMessage(body), weatherCacheTTL, cache.PersistOnChange)
	}
	return formatWeather(wr), nil
}

func formatWeather(wr weatherResponse) string {
	desc := "unknown conditions"
	if len(wr.Weather) > 0 {
		desc = wr.Weather[0].Description
	}
	return fmt.Sprintf("Weather in %s: %s, %.1f°C (feels like %.1f°C), humidity %d%%, wind %.1f m/s",
		wr.Name, desc, wr.Main.Temp, wr.Main.FeelsLike, wr.Main.Humidity, wr.Wind.Speed)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
