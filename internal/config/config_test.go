package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_MergesBaseAndOverrideDirInSortOrder(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.toml", `
[telegram]
enabled = true
bot_token = "base-token"

[bot]
bot_owners = ["1"]
`)
	overrideDir := filepath.Join(dir, "conf.d")
	require.NoError(t, os.Mkdir(overrideDir, 0755))
	writeFile(t, overrideDir, "01-owners.toml", `
[bot]
bot_owners = ["1", "2"]
`)
	writeFile(t, overrideDir, "02-token.toml", `
[telegram]
bot_token = "overridden-token"
`)

	cfg, err := Load(base, overrideDir)
	require.NoError(t, err)
	assert.Equal(t, "overridden-token", cfg.Telegram.BotToken)
	assert.Equal(t, []string{"1", "2"}, cfg.Bot.BotOwners)
	assert.True(t, cfg.Telegram.Enabled)
}

func TestLoad_MissingBaseFileStillAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nonexistent.toml"), "")
	require.NoError(t, err)
	assert.Equal(t, "false", cfg.Bot.Defaults["detect-spam"])
	// Default() alone fails Validate (no channel enabled), so set one here.
	cfg.Telegram.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvOverrides_SecretsOverrideFileValues(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.toml", `
[telegram]
enabled = true
bot_token = "file-token"
`)

	t.Setenv("POLYCHAT_TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("POLYCHAT_BOT_OWNERS", "10,20")

	cfg, err := Load(base, "")
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.BotToken)
	assert.Equal(t, []string{"10", "20"}, cfg.Bot.BotOwners)
}

func TestApplyEnvOverrides_EnablesChannelFromTokenAlone(t *testing.T) {
	t.Setenv("POLYCHAT_MAX_BOT_TOKEN", "secret")
	cfg := Default()
	cfg.Telegram.Enabled = true // keep Validate happy regardless of max
	cfg.applyEnvOverrides()
	assert.True(t, cfg.Max.Enabled)
	assert.Equal(t, "secret", cfg.Max.BotToken)
}

func TestValidate_RejectsUnknownDefaultSource(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Enabled = true
	cfg.Database.Default = "missing"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestValidate_RejectsNoChannelEnabled(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsProviderWithoutModelID(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Enabled = true
	cfg.Providers = map[string]ProviderConfig{"p1": {Type: "openai-compatible"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model_id")
}

func TestChatMappingByID_ParsesStringKeysToInt64(t *testing.T) {
	cfg := Default()
	cfg.Database.ChatMapping = map[string]string{"123": "archive", "-45": "default"}
	mapping, err := cfg.ChatMappingByID()
	require.NoError(t, err)
	assert.Equal(t, "archive", mapping[123])
	assert.Equal(t, "default", mapping[-45])
}

func TestChatMappingByID_RejectsNonNumericKey(t *testing.T) {
	cfg := Default()
	cfg.Database.ChatMapping = map[string]string{"not-a-number": "default"}
	_, err := cfg.ChatMappingByID()
	require.Error(t, err)
}
