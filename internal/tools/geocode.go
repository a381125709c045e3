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
	geocodeCacheNamespace = "geocoding"
	geocodeCacheTTL       = 7 * 24 * time.Hour // coordinates don't drift; cache generously
	opencageURL           = "https://api.opencagedata.com/geocode/v1/json"
)

type geocodeResponse struct {
	Results []struct {
		Formatted string `json:"formatted"`
		Geometry  struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode implements the geocode tool (spec §4.9 step 6, §6's
// geocode.api-key row): resolves a free-text place name to its
// formatted address and coordinates, cached under the raw query string
// per spec §4.3's typed per-domain cache.
func (s *Service) Geocode(ctx context.Context, query string) (string, error) {
	if s.cfg.GeocodeAPIKey == "" {
		return "", fmt.Errorf("tools: geocode: api key not configured")
	}
	if query == "" {
		return "", fmt.Errorf("tools: geocode: query is required")
	}

	if s.cache != nil {
		if raw, ok := s.cache.Get(geocodeCacheNamespace, query); ok {
			var gr geocodeResponse
			if err := json.Unmarshal(raw, &gr); err == nil {
				if formatted, ok := formatGeocode(gr); ok {
					return formatted, nil
				}
			}
		}
	}

	reqURL := fmt.Sprintf("%s?q=%s&key=%s&limit=1", opencageURL, url.QueryEscape(query), s.cfg.GeocodeAPIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("tools: geocode: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tools: geocode: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("tools: geocode: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tools: geocode: upstream returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var gr geocodeResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("tools: geocode: parse response: %w", err)
	}

	formatted, ok := formatGeocode(gr)
	if !ok {
		return "", fmt.Errorf("tools: geocode: no results for %q", query)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, geocodeCacheNamespace, query, json.RawMessage(body), geocodeCacheTTL, cache.PersistOnChange)
	}
	return formatted, nil
}

func formatGeocode(gr geocodeResponse) (string, bool) {
	if len(gr.Results) == 0 {
		return "", false
	}
	r := gr.Results[0]
	return fmt.Sprintf("%s (%.5f, %.5f)", r.Formatted, r.Geometry.Lat, r.Geometry.Lng), true
}
