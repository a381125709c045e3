package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/errs"
)

func TestAdmit_WithinCapacity(t *testing.T) {
	m := NewManager(map[string]QueueConfig{
		"q": {Capacity: 3, Window: time.Minute},
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Admit(ctx, "q"))
	}
}

func TestAdmit_BlocksThenAllows(t *testing.T) {
	m := NewManager(map[string]QueueConfig{
		"q": {Capacity: 1, Window: 50 * time.Millisecond},
	})
	ctx := context.Background()
	require.NoError(t, m.Admit(ctx, "q"))

	start := time.Now()
	require.NoError(t, m.Admit(ctx, "q"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestAdmit_NeverExceedsCapacityPerWindow(t *testing.T) {
	m := NewManager(map[string]QueueConfig{
		"q": {Capacity: 5, Window: 100 * time.Millisecond},
	})
	ctx := context.Background()

	var mu sync.Mutex
	var admissions []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, m.Admit(ctx, "q"))
			mu.Lock()
			admissions = append(admissions, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, admissions, 20)
	// P7: no sliding window of 100ms contains more than 5 admissions.
	for i := range admissions {
		count := 0
		for j := range admissions {
			if admissions[j].After(admissions[i].Add(-100*time.Millisecond)) && !admissions[j].After(admissions[i]) {
				count++
			}
		}
		assert.LessOrEqual(t, count, 5)
	}
}

func TestAdmit_ContextCancellation(t *testing.T) {
	m := NewManager(map[string]QueueConfig{
		"q": {Capacity: 1, Window: time.Hour},
	})
	ctx := context.Background()
	require.NoError(t, m.Admit(ctx, "q"))

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Admit(cctx, "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrCanceled)
}

func TestAdmit_ShutdownReleasesWaiters(t *testing.T) {
	m := NewManager(map[string]QueueConfig{
		"q": {Capacity: 1, Window: time.Hour},
	})
	ctx := context.Background()
	require.NoError(t, m.Admit(ctx, "q"))

	errCh := make(chan error, 1)
	go func() { errCh <- m.Admit(ctx, "q") }()

	time.Sleep(10 * time.Millisecond)
	m.Shutdown()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errs.ErrShuttingDown)
	case <-time.After(time.Second):
		t.Fatal("Admit did not return after Shutdown")
	}
}
