package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory stand-in for the storage-backed Store, letting
// these tests assert persistence behavior without a real database.
type fakeStore struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]map[string][]byte)}
}

func (f *fakeStore) SaveCacheEntry(_ context.Context, ns, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[ns] == nil {
		f.data[ns] = make(map[string][]byte)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	f.data[ns][key] = cp
	return nil
}

func (f *fakeStore) LoadCacheEntry(_ context.Context, ns, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.data[ns]
	if !ok {
		return nil, false, nil
	}
	v, ok := m[key]
	return v, ok, nil
}

func (f *fakeStore) DeleteCacheEntry(_ context.Context, ns, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.data[ns]; ok {
		delete(m, key)
	}
	return nil
}

func (f *fakeStore) ClearCacheNamespace(_ context.Context, ns string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, ns)
	return nil
}

func TestSet_OnChangePersistsSynchronously(t *testing.T) {
	store := newFakeStore()
	c := New(store, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ns", "k1", map[string]string{"a": "b"}, 0, PersistOnChange))

	raw, ok, err := store.LoadCacheEntry(ctx, "ns", "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":"b"}`, string(raw))
}

func TestGetOrLoad_ColdCacheReadsThroughToStore(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SaveCacheEntry(context.Background(), "ns", "k1", []byte(`"hello"`)))

	c := New(store, time.Hour)
	ctx := context.Background()

	// Nothing in memory yet.
	_, hit := c.Get("ns", "k1")
	require.False(t, hit)

	raw, ok := c.GetOrLoad(ctx, "ns", "k1")
	require.True(t, ok)
	assert.Equal(t, `"hello"`, string(raw))

	// Now served from memory without touching the store again.
	raw2, hit2 := c.Get("ns", "k1")
	require.True(t, hit2)
	assert.Equal(t, raw, raw2)
}

func TestGet_ExpiredEntryIsMissAndDeletedLazily(t *testing.T) {
	store := newFakeStore()
	c := New(store, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ns", "k1", "v", 10*time.Millisecond, PersistMemoryOnly))

	_, hit := c.Get("ns", "k1")
	require.True(t, hit)

	time.Sleep(20 * time.Millisecond)

	_, hit = c.Get("ns", "k1")
	assert.False(t, hit)

	c.mu.RLock()
	_, stillPresent := c.namespaces["ns"]["k1"]
	c.mu.RUnlock()
	assert.False(t, stillPresent, "expired entry should be evicted from memory on lookup")
}

func TestStop_FlushesOnShutdownEntries(t *testing.T) {
	store := newFakeStore()
	c := New(store, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ns", "k1", "v", 0, PersistOnShutdown))

	// Not yet written through.
	_, ok, _ := store.LoadCacheEntry(ctx, "ns", "k1")
	require.False(t, ok)

	c.Stop(ctx)

	raw, ok, err := store.LoadCacheEntry(ctx, "ns", "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"v"`, string(raw))
}

func TestSummaryCache_RoundTrip(t *testing.T) {
	store := newFakeStore()
	c := New(store, time.Hour)
	sc := NewSummaryCache(c)
	ctx := context.Background()

	csid := SummaryKey(42, 0, "m1", "m9", "summarize this thread")
	_, ok := sc.Get(csid)
	require.False(t, ok)

	require.NoError(t, sc.Set(ctx, csid, "a tidy summary"))
	text, ok := sc.Get(csid)
	require.True(t, ok)
	assert.Equal(t, "a tidy summary", text)
}

func TestSummaryKey_StableForIdenticalInputs(t *testing.T) {
	a := SummaryKey(1, 2, "m1", "m2", "prompt")
	b := SummaryKey(1, 2, "m1", "m2", "prompt")
	assert.Equal(t, a, b)

	c := SummaryKey(1, 2, "m1", "m3", "prompt")
	assert.NotEqual(t, a, c)
}
