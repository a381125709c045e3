package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Namespaces for the typed API-response caches spec §4.3 calls out by name.
const (
	nsWeather   = "weather"
	nsSearch    = "search"
	nsGeocode   = "geocode"
	nsSummarize = "summarize"
)

// WeatherCache memoizes weather-provider responses keyed by location + unit,
// on-change persistence (small volume, worth surviving a restart), default
// TTL short enough that forecasts don't go stale.
type WeatherCache struct {
	c   *Cache
	ttl time.Duration
}

func NewWeatherCache(c *Cache, ttl time.Duration) *WeatherCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &WeatherCache{c: c, ttl: ttl}
}

func (w *WeatherCache) Get(location, unit string) (json.RawMessage, bool) {
	return w.c.Get(nsWeather, weatherKey(location, unit))
}

func (w *WeatherCache) Set(ctx context.Context, location, unit string, payload interface{}) error {
	return w.c.Set(ctx, nsWeather, weatherKey(location, unit), payload, w.ttl, PersistOnChange)
}

func weatherKey(location, unit string) string {
	return fmt.Sprintf("%s|%s", location, unit)
}

// SearchCache memoizes web-search results keyed by the literal query string.
// Periodic persistence: search volume is higher, and a missed flush before a
// crash just costs one re-query rather than stale data risk.
type SearchCache struct {
	c   *Cache
	ttl time.Duration
}

func NewSearchCache(c *Cache, ttl time.Duration) *SearchCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SearchCache{c: c, ttl: ttl}
}

func (s *SearchCache) Get(query string) (json.RawMessage, bool) {
	return s.c.Get(nsSearch, query)
}

func (s *SearchCache) Set(ctx context.Context, query string, payload interface{}) error {
	return s.c.Set(ctx, nsSearch, query, payload, s.ttl, PersistPeriodic)
}

// GeocodeCache memoizes geocoding lookups keyed by the free-text address.
// Long TTL: coordinates for a named place essentially never change.
type GeocodeCache struct {
	c   *Cache
	ttl time.Duration
}

func NewGeocodeCache(c *Cache, ttl time.Duration) *GeocodeCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &GeocodeCache{c: c, ttl: ttl}
}

func (g *GeocodeCache) Get(address string) (json.RawMessage, bool) {
	return g.c.Get(nsGeocode, address)
}

func (g *GeocodeCache) Set(ctx context.Context, address string, payload interface{}) error {
	return g.c.Set(ctx, nsGeocode, address, payload, g.ttl, PersistOnChange)
}

// SummaryKey builds the content-addressed memoization key for a topic
// summarization (spec §4.3: csid = hash(chat_id, topic_id, first_msg_id,
// last_msg_id, prompt)) — identical inputs always re-use the prior summary,
// so re-running /summary over an unchanged range is a cache hit rather
// than a second LLM call.
func SummaryKey(chatID, topicID int64, firstMsgID, lastMsgID, prompt string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%s|%s|%s", chatID, topicID, firstMsgID, lastMsgID, prompt)
	return hex.EncodeToString(h.Sum(nil))
}

// SummaryCache memoizes rendered summary text by csid. On-shutdown
// persistence: summaries are cheap to regenerate but expensive (one more LLM
// call) to lose on a clean restart, so they're flushed at shutdown rather
// than written through on every save.
type SummaryCache struct {
	c *Cache
}

func NewSummaryCache(c *Cache) *SummaryCache {
	return &SummaryCache{c: c}
}

func (s *SummaryCache) Get(csid string) (string, bool) {
	raw, ok := s.c.Get(nsSummarize, csid)
	if !ok {
		return "", false
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", false
	}
	return text, true
}

func (s *SummaryCache) Set(ctx context.Context, csid, text string) error {
	return s.c.Set(ctx, nsSummarize, csid, text, 0, PersistOnShutdown)
}
