package channels

import (
	"sync"
	"time"
)

const (
	maxTrackedWebhookKeys = 4096
	webhookWindow         = 60 * time.Second
	webhookMaxHits        = 120
)

type webhookEntry struct {
	windowStart time.Time
	count       int
}

// WebhookRateLimiter bounds the number of distinct remote-address keys
// tracked for webhook ingress, so a rotating-source flood can't grow the map
// unbounded. Grounded on vanducng-goclaw's internal/channels/ratelimit.go.
type WebhookRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*webhookEntry
}

func NewWebhookRateLimiter() *WebhookRateLimiter {
	return &WebhookRateLimiter{entries: make(map[string]*webhookEntry)}
}

// Allow reports whether key is within its rolling window budget, pruning
// stale entries and evicting at random once the tracked-key cap is hit.
func (r *WebhookRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if len(r.entries) >= maxTrackedWebhookKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= webhookWindow {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedWebhookKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= webhookWindow {
		r.entries[key] = &webhookEntry{windowStart: now, count: 1}
		return true
	}
	e.count++
	return e.count <= webhookMaxHits
}
