package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/cache"
)

// fakeCacheStore is an in-memory cache.Store so Resolver tests don't need a
// real database behind the cache.
type fakeCacheStore struct {
	data map[string][]byte
}

func newFakeCacheStore() *fakeCacheStore {
	return &fakeCacheStore{data: make(map[string][]byte)}
}

func (s *fakeCacheStore) SaveCacheEntry(_ context.Context, ns, key string, value []byte) error {
	s.data[ns+"/"+key] = value
	return nil
}

func (s *fakeCacheStore) LoadCacheEntry(_ context.Context, ns, key string) ([]byte, bool, error) {
	v, ok := s.data[ns+"/"+key]
	return v, ok, nil
}

func (s *fakeCacheStore) DeleteCacheEntry(_ context.Context, ns, key string) error {
	delete(s.data, ns+"/"+key)
	return nil
}

func (s *fakeCacheStore) ClearCacheNamespace(_ context.Context, ns string) error {
	for k := range s.data {
		delete(s.data, k)
	}
	return nil
}

// fakeSettingsStore is an in-memory SettingsStore recording every lookup so
// tests can assert on cache memoization.
type fakeSettingsStore struct {
	values map[string]string
	calls  int
}

func newFakeSettingsStore() *fakeSettingsStore {
	return &fakeSettingsStore{values: make(map[string]string)}
}

func (s *fakeSettingsStore) GetChatSetting(_ context.Context, dataSource string, chatID int64, key string) (string, bool, error) {
	s.calls++
	v, ok := s.values[key]
	return v, ok, nil
}

func TestIsRecognizedSetting(t *testing.T) {
	assert.True(t, IsRecognizedSetting("detect-spam"))
	assert.True(t, IsRecognizedSetting("language"))
	assert.False(t, IsRecognizedSetting("not-a-real-setting"))
}

func newTestResolver(store SettingsStore) *Resolver {
	c := cache.New(newFakeCacheStore(), 0)
	return NewResolver(store, c, DefaultSettings(), "primary")
}

func TestResolver_Resolve_UsesStoredValueWhenPresent(t *testing.T) {
	store := newFakeSettingsStore()
	store.values[string(SettingLanguage)] = "fr"
	r := newTestResolver(store)

	v, err := r.Resolve(context.Background(), 1, bus.ChatPrivate, SettingLanguage)
	require.NoError(t, err)
	assert.Equal(t, "fr", v)
}

func TestResolver_Resolve_FallsBackToChatKindDefault(t *testing.T) {
	store := newFakeSettingsStore()
	defaults := DefaultSettings()
	defaults.ByChatKind = map[bus.ChatKind]map[SettingKey]string{
		bus.ChatGroup: {SettingRequireMention: "false"},
	}
	c := cache.New(newFakeCacheStore(), 0)
	r := NewResolver(store, c, defaults, "primary")

	v, err := r.Resolve(context.Background(), 1, bus.ChatGroup, SettingRequireMention)
	require.NoError(t, err)
	assert.Equal(t, "false", v)
}

func TestResolver_Resolve_FallsBackToGlobalDefault(t *testing.T) {
	store := newFakeSettingsStore()
	defaults := DefaultSettings()
	defaults.Global = map[SettingKey]string{SettingSpamAction: "ban"}
	c := cache.New(newFakeCacheStore(), 0)
	r := NewResolver(store, c, defaults, "primary")

	v, err := r.Resolve(context.Background(), 1, bus.ChatPrivate, SettingSpamAction)
	require.NoError(t, err)
	assert.Equal(t, "ban", v)
}

func TestResolver_Resolve_FallsBackToBuiltInDefault(t *testing.T) {
	store := newFakeSettingsStore()
	r := newTestResolver(store)

	v, err := r.Resolve(context.Background(), 1, bus.ChatPrivate, SettingSpamScoreThreshold)
	require.NoError(t, err)
	assert.Equal(t, "0.8", v)
}

func TestResolver_Resolve_MemoizesInCache(t *testing.T) {
	store := newFakeSettingsStore()
	store.values[string(SettingLanguage)] = "es"
	r := newTestResolver(store)

	_, err := r.Resolve(context.Background(), 7, bus.ChatPrivate, SettingLanguage)
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)

	_, err = r.Resolve(context.Background(), 7, bus.ChatPrivate, SettingLanguage)
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls, "second resolve should hit the cache, not the store")
}

func TestResolver_Invalidate_ForcesFreshLookup(t *testing.T) {
	store := newFakeSettingsStore()
	store.values[string(SettingLanguage)] = "es"
	r := newTestResolver(store)

	_, err := r.Resolve(context.Background(), 7, bus.ChatPrivate, SettingLanguage)
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)

	r.Invalidate(context.Background(), 7, SettingLanguage)
	store.values[string(SettingLanguage)] = "de"

	v, err := r.Resolve(context.Background(), 7, bus.ChatPrivate, SettingLanguage)
	require.NoError(t, err)
	assert.Equal(t, "de", v)
	assert.Equal(t, 2, store.calls)
}

func TestResolver_ResolveBool(t *testing.T) {
	store := newFakeSettingsStore()
	store.values[string(SettingDetectSpam)] = "true"
	r := newTestResolver(store)

	v, err := r.ResolveBool(context.Background(), 1, bus.ChatPrivate, SettingDetectSpam)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestResolver_ResolveFloat(t *testing.T) {
	store := newFakeSettingsStore()
	store.values[string(SettingSpamScoreThreshold)] = "0.65"
	r := newTestResolver(store)

	v, err := r.ResolveFloat(context.Background(), 1, bus.ChatPrivate, SettingSpamScoreThreshold)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, v, 0.0001)
}

func TestResolver_ResolveFloat_MalformedValueErrors(t *testing.T) {
	store := newFakeSettingsStore()
	store.values[string(SettingSpamScoreThreshold)] = "not-a-number"
	r := newTestResolver(store)

	_, err := r.ResolveFloat(context.Background(), 1, bus.ChatPrivate, SettingSpamScoreThreshold)
	assert.Error(t, err)
}

func TestResolver_ResolveInt(t *testing.T) {
	store := newFakeSettingsStore()
	store.values[string(SettingContextTokenBudget)] = "8000"
	r := newTestResolver(store)

	v, err := r.ResolveInt(context.Background(), 1, bus.ChatPrivate, SettingContextTokenBudget)
	require.NoError(t, err)
	assert.Equal(t, 8000, v)
}

func TestResolver_ResolveInt_MalformedValueErrors(t *testing.T) {
	store := newFakeSettingsStore()
	store.values[string(SettingContextTokenBudget)] = "lots"
	r := newTestResolver(store)

	_, err := r.ResolveInt(context.Background(), 1, bus.ChatPrivate, SettingContextTokenBudget)
	assert.Error(t, err)
}
