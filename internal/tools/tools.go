// Package tools implements the external-service and LLM-assisted tools
// conditionally exposed to the model per spec §4.9 step 6: get_weather,
// web_search, geocode, draw_image, and summarize (set_user_data and
// set_reminder are wired directly against internal/pipeline's Store and
// internal/scheduler, since they need no external service — see
// internal/pipeline/tools.go). Service implements both
// internal/handlers.Tools and internal/pipeline.Tools from one concrete
// type, so cmd/gateway wires a single instance into both consumers.
//
// Grounded on vanducng-goclaw's internal/tools package: one file per tool,
// an HTTP client per external provider, and a narrow Execute/Search-style
// method per tool rather than a generic dispatch table. The teacher's
// cache-backed upstream response reuse (spec §4.3's "one fixed namespace
// per external domain") is carried over; its provider-priority fallback
// chain (web_search_brave.go / web_search_ddg.go) is not, and Search
// queries DuckDuckGo only. The teacher's
// regex-based HTML scraping is replaced with golang.org/x/net/html token
// parsing, since that dependency was retrieved for exactly this purpose
// (see DESIGN.md).
package tools

import (
	"net/http"
	"time"

	"github.com/polychat-dev/polychat/internal/cache"
	"github.com/polychat-dev/polychat/internal/llm"
)

// Config tunes the external services Service talks to. Each APIKey field
// being empty disables the corresponding tool at the handler-registration
// layer (pipeline.ToolFlags / handlers command routing), not here — Service
// itself always attempts a call when invoked and reports a clear error if
// unconfigured, so a stray registration never panics.
type Config struct {
	OpenWeatherMapAPIKey string
	GeocodeAPIKey        string
	ImageGenAPIKey       string
	ImageGenEndpoint     string // OpenAI-compatible chat/completions base URL
	ImageGenModel        string

	// SummarizeModelID and VisionModelID name llm.Dispatcher bindings used
	// by Summarize and Analyze respectively; empty disables the tool.
	SummarizeModelID string
	VisionModelID    string

	HTTPTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.ImageGenModel == "" {
		c.ImageGenModel = "dall-e-3"
	}
	return c
}

// Service implements every external-service/LLM-assisted tool behind one
// shared HTTP client and typed cache.
type Service struct {
	cfg    Config
	client *http.Client
	cache  *cache.Cache
	llm    *llm.Dispatcher
}

// New constructs a Service. cache and llmDispatcher may be nil in tests
// that only exercise tools not requiring them (e.g. Weather with a nil
// cache still works — it simply never hits the fast path).
func New(cfg Config, c *cache.Cache, dispatcher *llm.Dispatcher) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		cache:  c,
		llm:    dispatcher,
	}
}
