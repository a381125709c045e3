package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/channels/maxmsg"
	"github.com/polychat-dev/polychat/internal/channels/telegram"
	"github.com/polychat-dev/polychat/internal/storage"
)

func TestStorageSources_ParsesTimeoutAndDialect(t *testing.T) {
	cfg := Default()
	cfg.Database.Sources = map[string]SourceConfig{
		"default": {Type: "sqlite", Path: "./data.db", Timeout: "5s"},
		"archive": {Type: "postgres", Path: "postgres://x", PoolSize: 10},
	}
	sources, err := cfg.StorageSources()
	require.NoError(t, err)
	require.Len(t, sources, 2)

	byName := map[string]storage.SourceConfig{}
	for _, s := range sources {
		byName[s.Name] = s
	}
	assert.Equal(t, storage.DialectSQLite, byName["default"].Dialect)
	assert.Equal(t, 5_000_000_000, int(byName["default"].Timeout))
	assert.Equal(t, storage.DialectPostgres, byName["archive"].Dialect)
	assert.Equal(t, 10, byName["archive"].PoolSize)
}

func TestStorageSources_RejectsUnparsableTimeout(t *testing.T) {
	cfg := Default()
	cfg.Database.Sources = map[string]SourceConfig{
		"default": {Type: "sqlite", Path: "./data.db", Timeout: "not-a-duration"},
	}
	_, err := cfg.StorageSources()
	require.Error(t, err)
}

func TestRouterConfig_ResolvesChatMapping(t *testing.T) {
	cfg := Default()
	cfg.Database.ChatMapping = map[string]string{"42": "archive"}
	rc, err := cfg.RouterConfig()
	require.NoError(t, err)
	assert.Equal(t, "default", rc.DefaultSource)
	assert.Equal(t, "archive", rc.ChatMapping[42])
}

func TestRateLimiterQueues_ConvertsSecondsToDuration(t *testing.T) {
	cfg := Default()
	queues := cfg.RateLimiterQueues()
	require.Contains(t, queues, "telegram")
	assert.Equal(t, int64(1_000_000_000), queues["telegram"].Window.Nanoseconds())
	assert.Equal(t, 20, queues["telegram"].Capacity)
}

func TestHandlerDefaults_OverlaysConfiguredValuesOntoBaseline(t *testing.T) {
	cfg := Default()
	cfg.Bot.Defaults["spam-score-threshold"] = "0.95"
	defaults := cfg.HandlerDefaults()
	assert.Equal(t, "0.95", defaults.BuiltIn["spam-score-threshold"])
	// A key absent from Default()'s bot.defaults override still has the
	// package baseline, since HandlerDefaults starts from DefaultSettings().
	assert.NotEmpty(t, defaults.BuiltIn["language"])
}

func TestMediaConfig_ConvertsSecondsFields(t *testing.T) {
	cfg := Default()
	cfg.Media.DefaultGroupDelaySecs = 9
	mc := cfg.MediaConfig()
	assert.Equal(t, int64(9_000_000_000), mc.DefaultGroupDelay.Nanoseconds())
	assert.Equal(t, 1600, mc.MaxDimension)
}

func TestResenderJobs_ConvertsEachConfiguredJob(t *testing.T) {
	cfg := Default()
	cfg.Resender.Jobs = []ResenderJobConfig{
		{ID: "j1", Channel: "telegram", SourceChatID: 1, TargetChatID: 2, MediaGroupDelaySecs: 3},
	}
	jobs := cfg.ResenderJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "j1", jobs[0].ID)
	assert.Equal(t, int64(3_000_000_000), jobs[0].GroupDelay.Nanoseconds())
}

func TestTelegramConfig_DefaultsToLongPollingAndOpenPolicy(t *testing.T) {
	cfg := Default()
	cfg.Telegram.BotToken = "t"
	tc := cfg.TelegramConfig()
	assert.Equal(t, telegram.ModeLongPolling, tc.Mode)
	assert.Equal(t, "t", tc.Token)
}

func TestTelegramConfig_WebhookModeAndAllowlist(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Mode = "webhook"
	cfg.Telegram.AllowFrom = []string{"123"}
	tc := cfg.TelegramConfig()
	assert.Equal(t, telegram.ModeWebhook, tc.Mode)
	assert.NotEmpty(t, tc.DMPolicy)
}

func TestMaxConfig_AppliesPollTimeoutOverride(t *testing.T) {
	cfg := Default()
	cfg.Max.PollTimeoutSecs = 30
	mc := cfg.MaxConfig()
	assert.Equal(t, int64(30_000_000_000), mc.PollTimeout.Nanoseconds())
	assert.Equal(t, maxmsg.ModeLongPolling, mc.Mode)
}
