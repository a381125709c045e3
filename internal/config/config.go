// Package config implements the Configuration external interface (spec
// §6): a TOML document merged from directories in override order, then
// overlaid with environment variables for secrets, following
// vanducng-goclaw's internal/config two-phase Load + applyEnvOverrides
// pattern (config_load.go), adapted from JSON5 to TOML.
package config

// Config is the root of the TOML document described in spec §6.
type Config struct {
	Bot       BotConfig              `toml:"bot"`
	Telegram  TelegramConfig         `toml:"telegram"`
	Max       MaxConfig              `toml:"max"`
	Database  DatabaseConfig         `toml:"database"`
	Providers map[string]ProviderConfig `toml:"providers"`
	RateLimiter RateLimiterConfig    `toml:"rate_limiter"`
	Cache     CacheConfig            `toml:"cache"`
	Resender  ResenderConfig         `toml:"resender"`
	Scheduler SchedulerConfig        `toml:"scheduler"`
	Media     MediaConfig            `toml:"media"`
	Tools     ToolsConfig            `toml:"tools"`
	Telemetry TelemetryConfig        `toml:"telemetry"`
	Gateway   GatewayConfig          `toml:"gateway"`
}

// BotConfig holds bot.* options: owner list, built-in chat-setting
// defaults, and the conversational model binding the Message Pipeline
// dispatches free-form turns to.
type BotConfig struct {
	BotOwners []string          `toml:"bot_owners"`
	Defaults  map[string]string `toml:"defaults"`
	ModelID   string            `toml:"model_id"`
}

// TelegramConfig holds telegram.* options.
type TelegramConfig struct {
	Enabled       bool     `toml:"enabled"`
	BotToken      string   `toml:"bot_token"`
	Proxy         string   `toml:"proxy"`
	AllowFrom     []string `toml:"allow_from"`
	Mode          string   `toml:"mode"` // "poll" (default) or "webhook"
	WebhookURL    string   `toml:"webhook_url"`
	WebhookSecret string   `toml:"webhook_secret"`
	WebhookListen string   `toml:"webhook_listen"`
}

// MaxConfig holds max.* options for the second (maxmsg) adapter.
type MaxConfig struct {
	Enabled       bool     `toml:"enabled"`
	BotToken      string   `toml:"bot_token"`
	BaseURL       string   `toml:"base_url"`
	AllowFrom     []string `toml:"allow_from"`
	Mode          string   `toml:"mode"`
	WebhookURL    string   `toml:"webhook_url"`
	WebhookSecret string   `toml:"webhook_secret"`
	WebhookListen string   `toml:"webhook_listen"`
	PollTimeoutSecs int    `toml:"poll_timeout_secs"`
}

// DatabaseConfig holds database.* options: the default source, every named
// source's connection settings, and chat-id -> source-name routing
// overrides.
type DatabaseConfig struct {
	Default     string                  `toml:"default"`
	Sources     map[string]SourceConfig `toml:"sources"`
	ChatMapping map[string]string       `toml:"chatMapping"` // chat_id (string-keyed in TOML) -> source name
}

// SourceConfig mirrors database.sources.<name>.{path,readonly,pool-size,timeout}.
// Timeout is a Go duration string (e.g. "5s"), parsed by StorageSources rather than
// left to the TOML library, which has no native time.Duration support.
type SourceConfig struct {
	Type     string `toml:"type"` // "sqlite" or "postgres"
	Path     string `toml:"path"` // file path (sqlite) or DSN (postgres, usually env-overridden)
	ReadOnly bool   `toml:"readonly"`
	PoolSize int    `toml:"pool-size"`
	Timeout  string `toml:"timeout"`
}

// ProviderConfig mirrors providers.<id>.{type,model_id,endpoint,api_key,...}.
type ProviderConfig struct {
	Type           string  `toml:"type"` // "openai-compatible", "anthropic", ...
	ModelID        string  `toml:"model_id"`
	Endpoint       string  `toml:"endpoint"`
	APIKey         string  `toml:"api_key"`
	Temperature    float64 `toml:"temperature"`
	ContextSize    int     `toml:"context_size"`
	SupportsTools  bool    `toml:"supports_tools"`
	SupportsVision bool    `toml:"supports_vision"`
	Fallback       string  `toml:"fallback"` // another key in Providers, tried on transient failure
}

// RateLimiterConfig holds rate_limiter.queues.<name>.{capacity,window_secs}.
type RateLimiterConfig struct {
	Queues map[string]QueueConfig `toml:"queues"`
}

// QueueConfig is one named queue's sliding-window parameters.
type QueueConfig struct {
	Capacity   int     `toml:"capacity"`
	WindowSecs float64 `toml:"window_secs"`
	BurstGuard float64 `toml:"burst_guard"`
}

// CacheConfig holds cache.* options.
type CacheConfig struct {
	PersistencePeriodSecs int `toml:"persistence_period_secs"`
}

// ResenderConfig holds resender.jobs[].
type ResenderConfig struct {
	Jobs []ResenderJobConfig `toml:"jobs"`
}

// ResenderJobConfig is one resender.jobs[] entry.
type ResenderJobConfig struct {
	ID                 string `toml:"id"`
	Channel            string `toml:"channel"`
	SourceChatID       int64  `toml:"source_chat_id"`
	TargetChatID       int64  `toml:"target_chat_id"`
	MediaGroupDelaySecs int   `toml:"media_group_delay_secs"`
}

// SchedulerConfig holds scheduler.* options.
type SchedulerConfig struct {
	TickSecs int `toml:"tick_secs"`
}

// MediaConfig holds media.* options: the album-completion pipeline's own
// tunables beyond what a resender job can override.
type MediaConfig struct {
	DefaultGroupDelaySecs int    `toml:"default_group_delay_secs"`
	MaxDimension          int    `toml:"max_dimension"`
	VisionModelID         string `toml:"vision_model_id"`
}

// ToolsConfig holds per-tool external-service credentials
// (openweathermap.api-key, yandex-search.api-key, ...).
type ToolsConfig struct {
	OpenWeatherMap   ExternalServiceConfig `toml:"openweathermap"`
	YandexSearch     ExternalServiceConfig `toml:"yandex-search"`
	Geocode          ExternalServiceConfig `toml:"geocode"`
	ImageGen         ImageGenConfig        `toml:"image-gen"`
	SummarizeModelID string                `toml:"summarize_model_id"`
}

// ExternalServiceConfig is the common shape for a keyed third-party tool backend.
type ExternalServiceConfig struct {
	APIKey  string `toml:"api-key"`
	Enabled bool   `toml:"enabled"`
}

// ImageGenConfig holds tools.image-gen.*: a keyed backend plus the
// OpenAI-compatible endpoint/model the draw_image tool posts to.
type ImageGenConfig struct {
	APIKey   string `toml:"api-key"`
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	Model    string `toml:"model"`
}

// TelemetryConfig configures OTLP trace export for the pipeline's
// span-per-LLM-call / span-per-tool-call instrumentation.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint"`
	Protocol    string `toml:"protocol"` // "grpc" (default) or "http"
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
}

// GatewayConfig holds process-level settings not named by a spec §6 row
// but needed to run the CLI (webhook listen defaults, shutdown grace).
type GatewayConfig struct {
	ShutdownGraceSecs int `toml:"shutdown_grace_secs"`
}
