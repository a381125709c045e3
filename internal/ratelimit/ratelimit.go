// Package ratelimit implements the named-queue sliding-window admission
// control described in spec §4.2: for queue q with capacity N over window W,
// admit(q, now) returns immediately if fewer than N admissions occurred in
// (now-W, now], else blocks until the earliest admission ages out.
//
// The precise sliding-window-log algorithm is hand-rolled because it has to
// satisfy the strict "never more than N admissions in ANY window of length W"
// invariant (spec P7); golang.org/x/time/rate's token-bucket model only
// bounds the long-run average rate, not every window, so it can't carry that
// invariant on its own. x/time/rate is still put to work here as a coarse,
// cheap burst guard layered in front of the precise queue — the same
// defense-in-depth shape as vanducng-goclaw's outbound dispatch, which
// listed golang.org/x/time in its dependency set without using it directly.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/polychat-dev/polychat/internal/errs"
)

// QueueConfig configures one named queue (rate_limiter.queues.<name> in config).
type QueueConfig struct {
	Capacity int
	Window   time.Duration
	// BurstGuard, if > 0, caps the coarse pre-check rate (requests/sec).
	// Zero disables the pre-check and only the precise sliding window applies.
	BurstGuard float64
}

// Manager owns a set of independent named queues. Safe for concurrent use;
// the contention point is a per-queue mutex, matching spec §4.2's
// "queues are independent" thread model.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*queue
	configs map[string]QueueConfig
	shutCh  chan struct{}
	once    sync.Once
}

// NewManager creates a rate limiter manager. Queues are created lazily on
// first Admit call using the matching entry in configs (falling back to a
// permissive default if a queue name has no explicit configuration).
func NewManager(configs map[string]QueueConfig) *Manager {
	return &Manager{
		queues:  make(map[string]*queue),
		configs: configs,
		shutCh:  make(chan struct{}),
	}
}

// Shutdown closes the manager; any admit() call already waiting, or any
// future call, returns ErrShuttingDown.
func (m *Manager) Shutdown() {
	m.once.Do(func() { close(m.shutCh) })
}

func (m *Manager) getOrCreate(name string) *queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		return q
	}
	cfg, ok := m.configs[name]
	if !ok {
		cfg = QueueConfig{Capacity: 10, Window: time.Second}
	}
	q := newQueue(cfg, m.shutCh)
	m.queues[name] = q
	return q
}

// Admit blocks until the queue has room for another admission, ctx is
// cancelled, or the manager is shut down.
func (m *Manager) Admit(ctx context.Context, queueName string) error {
	return m.getOrCreate(queueName).admit(ctx)
}

// queue tracks admission timestamps for one named rate-limited queue as a
// monotone, time-ordered slice acting as the sliding-window deque.
type queue struct {
	mu         sync.Mutex
	capacity   int
	window     time.Duration
	admissions []time.Time
	burst      *rate.Limiter
	shutCh     chan struct{}
}

func newQueue(cfg QueueConfig, shutCh chan struct{}) *queue {
	q := &queue{
		capacity: cfg.Capacity,
		window:   cfg.Window,
		shutCh:   shutCh,
	}
	if cfg.BurstGuard > 0 {
		q.burst = rate.NewLimiter(rate.Limit(cfg.BurstGuard), max(1, int(cfg.BurstGuard)))
	}
	return q
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (q *queue) admit(ctx context.Context) error {
	if q.burst != nil {
		if err := q.burst.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrCanceled, err)
		}
	}

	for {
		select {
		case <-q.shutCh:
			return errs.ErrShuttingDown
		default:
		}

		q.mu.Lock()
		now := time.Now()
		q.evictExpired(now)

		if len(q.admissions) < q.capacity {
			q.admissions = append(q.admissions, now)
			q.mu.Unlock()
			return nil
		}

		wait := q.admissions[0].Add(q.window).Sub(now)
		q.mu.Unlock()

		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", errs.ErrCanceled, ctx.Err())
		case <-q.shutCh:
			timer.Stop()
			return errs.ErrShuttingDown
		case <-timer.C:
			// Recheck from the top — another admission may have slipped in.
		}
	}
}

// evictExpired drops admission timestamps older than the window. Must be
// called with q.mu held.
func (q *queue) evictExpired(now time.Time) {
	cutoff := now.Add(-q.window)
	i := 0
	for i < len(q.admissions) && !q.admissions[i].After(cutoff) {
		i++
	}
	if i > 0 {
		q.admissions = q.admissions[i:]
	}
}
