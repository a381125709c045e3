package handlers

// This file holds the closed chat-settings enumeration and its layered,
// cache-memoized resolver — the design note in §9 replacing a free-form
// settings map with typed keys bound to coercion functions.

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/cache"
)

// SettingKey enumerates every recognized chat setting (spec §9: "represent
// as a closed enumeration of setting keys each bound to a typed coercion
// function"). Unlisted keys are rejected by /set.
type SettingKey string

const (
	SettingDetectSpam             SettingKey = "detect-spam"
	SettingSpamScoreThreshold     SettingKey = "spam-score-threshold"
	SettingSpamAction             SettingKey = "spam-action" // "delete" | "ban" | "notify"
	SettingRandomAnswerProbability SettingKey = "random-answer-probability"
	SettingRequireMention         SettingKey = "require-mention"
	SettingUnknownCommandAction   SettingKey = "unknown-command-action" // "delete" | "ignore"
	SettingContextTokenBudget     SettingKey = "context-token-budget"
	SettingLanguage               SettingKey = "language"
)

// settingKinds lists every recognized key so IsRecognizedSetting (and
// through it /set and /unset) can reject typos instead of storing them.
var settingKinds = map[SettingKey]bool{
	SettingDetectSpam: true, SettingSpamScoreThreshold: true, SettingSpamAction: true,
	SettingRandomAnswerProbability: true, SettingRequireMention: true,
	SettingUnknownCommandAction: true, SettingContextTokenBudget: true, SettingLanguage: true,
}

// IsRecognizedSetting reports whether key is part of the closed enumeration.
func IsRecognizedSetting(key string) bool {
	return settingKinds[SettingKey(key)]
}

// Defaults holds built-in and global-override default values, keyed by
// ChatKind for per-kind defaults (spec §4.8's layered lookup, second tier).
type Defaults struct {
	BuiltIn      map[SettingKey]string
	Global       map[SettingKey]string
	ByChatKind   map[bus.ChatKind]map[SettingKey]string
}

// DefaultSettings returns the built-in baseline (spec §9's design note
// values where the spec is silent, including the defaults chosen below
// for spam-score-threshold and random-answer-probability).
func DefaultSettings() Defaults {
	return Defaults{
		BuiltIn: map[SettingKey]string{
			SettingDetectSpam:              "false",
			SettingSpamScoreThreshold:      "0.8",
			SettingSpamAction:              "delete",
			SettingRandomAnswerProbability: "0",
			SettingRequireMention:          "true",
			SettingUnknownCommandAction:    "ignore",
			SettingContextTokenBudget:      "4000",
			SettingLanguage:                "en",
		},
	}
}

// SettingsStore is the persistence surface the resolver needs;
// internal/storage.Router satisfies it directly.
type SettingsStore interface {
	GetChatSetting(ctx context.Context, dataSource string, chatID int64, key string) (string, bool, error)
}

// Resolver implements the layered chat-settings lookup: stored → chat-kind
// default → global default → built-in default, memoized in cache under
// namespace "chat_settings" with on-change persistence (spec §4.8).
type Resolver struct {
	store      SettingsStore
	cache      *cache.Cache
	defaults   Defaults
	dataSource string
}

func NewResolver(store SettingsStore, c *cache.Cache, defaults Defaults, dataSource string) *Resolver {
	return &Resolver{store: store, cache: c, defaults: defaults, dataSource: dataSource}
}

func cacheKey(chatID int64, key SettingKey) string {
	return fmt.Sprintf("%d:%s", chatID, key)
}

// Resolve returns the effective value for key in chatID's settings,
// consulting the cache first and filling it on a miss.
func (r *Resolver) Resolve(ctx context.Context, chatID int64, chatKind bus.ChatKind, key SettingKey) (string, error) {
	if raw, ok := r.cache.Get("chat_settings", cacheKey(chatID, key)); ok {
		var v string
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
	}

	value, err := r.resolveUncached(ctx, chatID, chatKind, key)
	if err != nil {
		return "", err
	}
	_ = r.cache.Set(ctx, "chat_settings", cacheKey(chatID, key), value, 0, cache.PersistOnChange)
	return value, nil
}

func (r *Resolver) resolveUncached(ctx context.Context, chatID int64, chatKind bus.ChatKind, key SettingKey) (string, error) {
	if v, ok, err := r.store.GetChatSetting(ctx, r.dataSource, chatID, string(key)); err != nil {
		return "", fmt.Errorf("handlers: resolve setting %q: %w", key, err)
	} else if ok {
		return v, nil
	}
	if byKind, ok := r.defaults.ByChatKind[chatKind]; ok {
		if v, ok := byKind[key]; ok {
			return v, nil
		}
	}
	if v, ok := r.defaults.Global[key]; ok {
		return v, nil
	}
	return r.defaults.BuiltIn[key], nil
}

// Invalidate drops the memoized value for key so the next Resolve re-reads
// storage — called after /set and /unset.
func (r *Resolver) Invalidate(ctx context.Context, chatID int64, key SettingKey) {
	r.cache.Delete(ctx, "chat_settings", cacheKey(chatID, key))
}

// ResolveBool and ResolveFloat apply the typed coercion spec §9 calls for.
func (r *Resolver) ResolveBool(ctx context.Context, chatID int64, kind bus.ChatKind, key SettingKey) (bool, error) {
	v, err := r.Resolve(ctx, chatID, kind, key)
	if err != nil {
		return false, err
	}
	return v == "true" || v == "1", nil
}

func (r *Resolver) ResolveFloat(ctx context.Context, chatID int64, kind bus.ChatKind, key SettingKey) (float64, error) {
	v, err := r.Resolve(ctx, chatID, kind, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("handlers: setting %q is not a float: %w", key, err)
	}
	return f, nil
}

func (r *Resolver) ResolveInt(ctx context.Context, chatID int64, kind bus.ChatKind, key SettingKey) (int, error) {
	v, err := r.Resolve(ctx, chatID, kind, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("handlers: setting %q is not an int: %w", key, err)
	}
	return n, nil
}
