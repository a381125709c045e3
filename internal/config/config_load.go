package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/polychat-dev/polychat/internal/errs"
)

// Default returns a Config with every built-in baseline spec §9 calls for
// where the spec itself is silent (the values chosen are the literals below).
func Default() *Config {
	return &Config{
		Bot: BotConfig{
			Defaults: map[string]string{
				"detect-spam":               "false",
				"spam-score-threshold":      "0.8",
				"spam-action":               "delete",
				"random-answer-probability": "0",
				"require-mention":           "true",
				"unknown-command-action":    "ignore",
				"context-token-budget":      "4000",
				"language":                  "en",
			},
		},
		Database: DatabaseConfig{
			Default: "default",
			Sources: map[string]SourceConfig{
				"default": {Type: "sqlite", Path: "./polychat.db"},
			},
		},
		RateLimiter: RateLimiterConfig{
			Queues: map[string]QueueConfig{
				"telegram": {Capacity: 20, WindowSecs: 1},
				"max":      {Capacity: 20, WindowSecs: 1},
			},
		},
		Cache: CacheConfig{PersistencePeriodSecs: 60},
		Scheduler: SchedulerConfig{TickSecs: 1},
		Media: MediaConfig{
			DefaultGroupDelaySecs: 5,
			MaxDimension:          1600,
		},
		Gateway: GatewayConfig{ShutdownGraceSecs: 15},
	}
}

// Load reads base.toml, then merges every *.toml file in overrideDir (sorted
// by name, later files winning per key), then overlays environment
// variables for secrets — the teacher's config.Load + applyEnvOverrides
// two-phase pattern (internal/config/config_load.go), adapted from JSON5 to
// TOML. overrideDir may be empty to skip the merge step. Load does not call
// Validate; callers run it on the returned Config.
func Load(basePath, overrideDir string) (*Config, error) {
	cfg := Default()

	if err := mergeFile(cfg, basePath); err != nil {
		return nil, err
	}

	if overrideDir != "" {
		entries, err := os.ReadDir(overrideDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read override dir %q: %w", overrideDir, err)
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".toml") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			if err := mergeFile(cfg, filepath.Join(overrideDir, name)); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// mergeFile decodes path's TOML document directly onto cfg, so later keys
// overwrite earlier ones field-by-field (toml.Decode only sets keys present
// in the document, leaving the rest of cfg untouched).
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %q: %w", path, err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}
	return nil
}

// applyEnvOverrides overlays secrets (bot tokens, API keys, DSNs) from
// environment variables, so they never need to be written to a config file
// on disk — mirrors the teacher's GOCLAW_* secret-only env vars, under a
// POLYCHAT_ prefix.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("POLYCHAT_TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken)
	if c.Telegram.BotToken != "" {
		c.Telegram.Enabled = true
	}
	envStr("POLYCHAT_MAX_BOT_TOKEN", &c.Max.BotToken)
	if c.Max.BotToken != "" {
		c.Max.Enabled = true
	}

	for id, p := range c.Providers {
		key := "POLYCHAT_PROVIDER_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_")) + "_API_KEY"
		if v := os.Getenv(key); v != "" {
			p.APIKey = v
			c.Providers[id] = p
		}
	}

	for name, src := range c.Database.Sources {
		key := "POLYCHAT_DATABASE_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_DSN"
		if v := os.Getenv(key); v != "" {
			src.Path = v
			c.Database.Sources[name] = src
		}
	}

	envStr("POLYCHAT_OPENWEATHERMAP_API_KEY", &c.Tools.OpenWeatherMap.APIKey)
	envStr("POLYCHAT_YANDEX_SEARCH_API_KEY", &c.Tools.YandexSearch.APIKey)
	envStr("POLYCHAT_GEOCODE_API_KEY", &c.Tools.Geocode.APIKey)
	envStr("POLYCHAT_IMAGE_GEN_API_KEY", &c.Tools.ImageGen.APIKey)

	envStr("POLYCHAT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("POLYCHAT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}

	if v := os.Getenv("POLYCHAT_BOT_OWNERS"); v != "" {
		c.Bot.BotOwners = strings.Split(v, ",")
	}
}

// Validate rejects configurations that would fail at startup rather than
// mid-run (spec §6: "nonzero exit on configuration parse failure").
func (c *Config) Validate() error {
	if len(c.Database.Sources) == 0 {
		return fmt.Errorf("%w: database.sources must name at least one source", errs.ErrConfiguration)
	}
	if _, ok := c.Database.Sources[c.Database.Default]; !ok {
		return fmt.Errorf("%w: database.default %q is not a configured source", errs.ErrConfiguration, c.Database.Default)
	}
	for name, src := range c.Database.Sources {
		if src.Type != "sqlite" && src.Type != "postgres" {
			return fmt.Errorf("%w: database.sources.%s.type must be sqlite or postgres, got %q", errs.ErrConfiguration, name, src.Type)
		}
	}
	if !c.Telegram.Enabled && !c.Max.Enabled {
		return fmt.Errorf("%w: at least one of telegram or max must be enabled", errs.ErrConfiguration)
	}
	for id, p := range c.Providers {
		if p.ModelID == "" {
			return fmt.Errorf("%w: providers.%s.model_id is required", errs.ErrConfiguration, id)
		}
	}
	return nil
}

// ChatMappingByID parses database.chatMapping's string-keyed TOML table
// into the int64-keyed form internal/storage.RouterConfig expects.
func (c *Config) ChatMappingByID() (map[int64]string, error) {
	out := make(map[int64]string, len(c.Database.ChatMapping))
	for raw, source := range c.Database.ChatMapping {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: database.chatMapping key %q is not a chat id: %v", errs.ErrConfiguration, raw, err)
		}
		out[id] = source
	}
	return out, nil
}
