package config

import (
	"fmt"
	"time"

	"github.com/polychat-dev/polychat/internal/channels"
	"github.com/polychat-dev/polychat/internal/channels/maxmsg"
	"github.com/polychat-dev/polychat/internal/channels/telegram"
	"github.com/polychat-dev/polychat/internal/errs"
	"github.com/polychat-dev/polychat/internal/handlers"
	"github.com/polychat-dev/polychat/internal/llm"
	"github.com/polychat-dev/polychat/internal/media"
	"github.com/polychat-dev/polychat/internal/ratelimit"
	"github.com/polychat-dev/polychat/internal/storage"
	"github.com/polychat-dev/polychat/internal/tools"
)

// This file adapts the decoded TOML document into the concrete config
// types each subsystem constructor expects — cmd/gateway's only config
// dependency should be *Config plus these conversions, never the raw TOML
// field shapes above.

// StorageSources builds a storage.SourceConfig per configured database
// source, parsing each one's string timeout with time.ParseDuration since
// BurntSushi/toml has no native time.Duration support.
func (c *Config) StorageSources() ([]storage.SourceConfig, error) {
	out := make([]storage.SourceConfig, 0, len(c.Database.Sources))
	for name, src := range c.Database.Sources {
		timeout := 10 * time.Second
		if src.Timeout != "" {
			d, err := time.ParseDuration(src.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%w: database.sources.%s.timeout: %v", errs.ErrConfiguration, name, err)
			}
			timeout = d
		}
		dialect := storage.DialectSQLite
		if src.Type == "postgres" {
			dialect = storage.DialectPostgres
		}
		out = append(out, storage.SourceConfig{
			Name:     name,
			Dialect:  dialect,
			DSN:      src.Path,
			ReadOnly: src.ReadOnly,
			PoolSize: src.PoolSize,
			Timeout:  timeout,
		})
	}
	return out, nil
}

// RouterConfig builds the storage.RouterConfig consumed by storage.NewRouter.
func (c *Config) RouterConfig() (storage.RouterConfig, error) {
	mapping, err := c.ChatMappingByID()
	if err != nil {
		return storage.RouterConfig{}, err
	}
	return storage.RouterConfig{DefaultSource: c.Database.Default, ChatMapping: mapping}, nil
}

// RateLimiterQueues builds the map ratelimit.NewManager expects, one queue
// per rate_limiter.queues.<name> entry.
func (c *Config) RateLimiterQueues() map[string]ratelimit.QueueConfig {
	out := make(map[string]ratelimit.QueueConfig, len(c.RateLimiter.Queues))
	for name, q := range c.RateLimiter.Queues {
		out[name] = ratelimit.QueueConfig{
			Capacity:   q.Capacity,
			Window:     time.Duration(q.WindowSecs * float64(time.Second)),
			BurstGuard: q.BurstGuard,
		}
	}
	return out
}

// DispatcherConfig builds the llm.DispatcherConfig; the spec's tool-loop
// depth bound has no config row, so the package default always applies.
func (c *Config) DispatcherConfig() llm.DispatcherConfig {
	return llm.DispatcherConfig{}
}

// LLMBindingSpec describes the llm.Binding each provider resolves to, minus
// the Provider field itself (a concrete Provider implementation is built
// by the caller and attached before registering the binding — this
// package only knows about provider configuration, not provider wiring).
type LLMBindingSpec struct {
	Name     string
	Provider ProviderConfig
	Retry    llm.RetryConfig
	Fallback string // another key in Providers, or ""
}

// LLMBindingSpecs returns one LLMBindingSpec per configured provider, in
// no particular order; the caller resolves Fallback names and attaches a
// concrete llm.Provider before calling Dispatcher.Bind.
func (c *Config) LLMBindingSpecs() []LLMBindingSpec {
	out := make([]LLMBindingSpec, 0, len(c.Providers))
	for name, p := range c.Providers {
		out = append(out, LLMBindingSpec{
			Name:     name,
			Provider: p,
			Retry:    llm.DefaultRetryConfig(),
			Fallback: p.Fallback,
		})
	}
	return out
}

// HandlerDefaults builds the handlers.Defaults used by handlers.Resolver,
// seeding BuiltIn from bot.defaults (falling back to the package's own
// baseline for any key the config document omits).
func (c *Config) HandlerDefaults() handlers.Defaults {
	d := handlers.DefaultSettings()
	for k, v := range c.Bot.Defaults {
		d.BuiltIn[handlers.SettingKey(k)] = v
	}
	return d
}

// NewAuthorizer builds a handlers.Authorizer from bot.bot_owners.
func (c *Config) NewAuthorizer(admins handlers.ChatAdminChecker) *handlers.Authorizer {
	return handlers.NewAuthorizer(c.Bot.BotOwners, admins)
}

// MediaConfig builds the media.Config consumed by the album-completion service.
func (c *Config) MediaConfig() media.Config {
	return media.Config{
		DefaultGroupDelay: time.Duration(c.Media.DefaultGroupDelaySecs) * time.Second,
		MaxDimension:      c.Media.MaxDimension,
		VisionModelID:     c.Media.VisionModelID,
	}
}

// ResenderJobs builds the []media.ResenderJob consumed by the media
// service from resender.jobs[].
func (c *Config) ResenderJobs() []media.ResenderJob {
	out := make([]media.ResenderJob, 0, len(c.Resender.Jobs))
	for _, j := range c.Resender.Jobs {
		delay := time.Duration(j.MediaGroupDelaySecs) * time.Second
		out = append(out, media.ResenderJob{
			ID:           j.ID,
			Channel:      j.Channel,
			SourceChatID: j.SourceChatID,
			TargetChatID: j.TargetChatID,
			GroupDelay:   delay,
		})
	}
	return out
}

// ToolsConfig builds the tools.Config consumed by tools.New. vision_model_id
// is shared with the media album-completion pipeline's own binding
// (media.vision_model_id): both describe "the vision-capable model", just
// for different call sites.
func (c *Config) ToolsConfig() tools.Config {
	return tools.Config{
		OpenWeatherMapAPIKey: c.Tools.OpenWeatherMap.APIKey,
		GeocodeAPIKey:        c.Tools.Geocode.APIKey,
		ImageGenAPIKey:       c.Tools.ImageGen.APIKey,
		ImageGenEndpoint:     c.Tools.ImageGen.Endpoint,
		ImageGenModel:        c.Tools.ImageGen.Model,
		SummarizeModelID:     c.Tools.SummarizeModelID,
		VisionModelID:        c.Media.VisionModelID,
	}
}

func policy(allow []string) channels.Policy {
	if len(allow) == 0 {
		return channels.PolicyOpen
	}
	return channels.PolicyAllowlist
}

// TelegramConfig builds the telegram.Config consumed by telegram.New.
func (c *Config) TelegramConfig() telegram.Config {
	mode := telegram.ModeLongPolling
	if c.Telegram.Mode == "webhook" {
		mode = telegram.ModeWebhook
	}
	return telegram.Config{
		Token:         c.Telegram.BotToken,
		Proxy:         c.Telegram.Proxy,
		AllowFrom:     c.Telegram.AllowFrom,
		DMPolicy:      policy(c.Telegram.AllowFrom),
		GroupPolicy:   policy(c.Telegram.AllowFrom),
		Mode:          mode,
		WebhookURL:    c.Telegram.WebhookURL,
		WebhookSecret: c.Telegram.WebhookSecret,
		WebhookListen: c.Telegram.WebhookListen,
	}
}

// MaxConfig builds the maxmsg.Config consumed by maxmsg.New.
func (c *Config) MaxConfig() maxmsg.Config {
	mode := maxmsg.ModeLongPolling
	if c.Max.Mode == "webhook" {
		mode = maxmsg.ModeWebhook
	}
	cfg := maxmsg.Config{
		BotToken:      c.Max.BotToken,
		BaseURL:       c.Max.BaseURL,
		AllowFrom:     c.Max.AllowFrom,
		DMPolicy:      policy(c.Max.AllowFrom),
		GroupPolicy:   policy(c.Max.AllowFrom),
		Mode:          mode,
		WebhookURL:    c.Max.WebhookURL,
		WebhookSecret: c.Max.WebhookSecret,
		WebhookListen: c.Max.WebhookListen,
	}
	if c.Max.PollTimeoutSecs > 0 {
		cfg.PollTimeout = time.Duration(c.Max.PollTimeoutSecs) * time.Second
	}
	return cfg
}
