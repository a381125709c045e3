// Package scheduler implements the persisted, at-least-once delayed-task
// executor from spec §4.6, plus a recurring-cron lane built on
// github.com/adhocore/gronx (a dependency present in the teacher's go.mod
// but never exercised by its source — spec.md's scheduler.tick_secs config
// key and the DelayedTask/cron split in §3 give it a natural home here).
//
// Grounded on vanducng-goclaw's cmd/gateway_cron.go lane/handler-registry
// shape (a named handler function looked up and invoked per job), adapted
// from its agent-run dispatch into direct named-function dispatch against
// Store.DueDelayedTasks.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Store is the persistence surface the scheduler needs; internal/storage.Router
// satisfies it directly.
type Store interface {
	DueDelayedTasks(ctx context.Context, dataSource string, now time.Time) ([]DelayedTask, error)
	CompleteDelayedTask(ctx context.Context, dataSource, id string) error
	InsertDelayedTask(ctx context.Context, dataSource string, t DelayedTask) error
}

// DelayedTask mirrors storage.DelayedTask; duplicated here to keep the
// scheduler decoupled from the storage package's concrete type.
type DelayedTask struct {
	ID       string
	FireAt   time.Time
	Function string
	Kwargs   []byte
	IsDone   bool
}

// Handler runs a named task's kwargs. A non-nil error is logged by the
// scheduler loop and leaves the task undone (spec §4.6 step 3: "unknown
// names log-warn and leave the task undone" — the same applies to handler
// errors here since a failed run should be retried on the next tick, not
// silently dropped).
type Handler func(ctx context.Context, kwargs []byte) error

// ClaimPolicy controls when a task flips to done relative to handler execution.
type ClaimPolicy string

const (
	// ClaimAfterSuccess is the spec default: is_done flips only once the
	// handler returns nil, so a crash mid-handler retries the task.
	ClaimAfterSuccess ClaimPolicy = "after-success"
	// ClaimBeforeRun flips is_done immediately, relying on handler-name
	// idempotency instead (spec §4.6 step 2, "configurable" alternative).
	ClaimBeforeRun ClaimPolicy = "before-run"
)

// Config tunes the scheduler's tick resolution and claim policy.
type Config struct {
	TickInterval time.Duration // default 1s, per spec §4.6
	ClaimPolicy  ClaimPolicy   // default ClaimAfterSuccess
	DataSource   string        // storage hint; "" uses the router's default
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.ClaimPolicy == "" {
		c.ClaimPolicy = ClaimAfterSuccess
	}
	return c
}

// CronJob is a recurring task evaluated against a cron expression on every
// tick, independent of the one-shot DelayedTask table.
type CronJob struct {
	Name       string
	Expression string
	Handler    func(ctx context.Context) error
}

// Scheduler runs the delayed-task polling loop and the recurring cron lane
// on the same tick.
type Scheduler struct {
	store Store
	cfg   Config

	mu       sync.RWMutex
	handlers map[string]Handler
	cronJobs []CronJob
	lastTick map[string]time.Time // cron job name -> last time it fired, for gronx's since-param

	cron gronx.Gronx

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(store Store, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		store:    store,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		lastTick: make(map[string]time.Time),
		cron:     gronx.New(),
		stopCh:   make(chan struct{}),
	}
}

// RegisterHandler binds a named delayed-task function, looked up when a
// DelayedTask.Function matches (spec §4.6 step 3: "handlers are registered
// by name at startup").
func (s *Scheduler) RegisterHandler(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
}

// RegisterCronJob adds a recurring job evaluated by gronx on every tick.
func (s *Scheduler) RegisterCronJob(job CronJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cronJobs = append(s.cronJobs, job)
}

// Schedule inserts a new idempotent delayed task (duplicate IDs are a no-op).
func (s *Scheduler) Schedule(ctx context.Context, task DelayedTask) error {
	return s.store.InsertDelayedTask(ctx, s.cfg.DataSource, task)
}

// Run drives the tick loop until ctx is done or Stop is called. Background
// workers must never propagate errors out of their loop (spec §7) — Run
// itself returns nil unconditionally; per-tick failures are logged.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// Stop halts Run. Idempotent-safe to call once.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.runDueTasks(ctx, now)
	s.runCronJobs(ctx, now)
}

func (s *Scheduler) runDueTasks(ctx context.Context, now time.Time) {
	tasks, err := s.store.DueDelayedTasks(ctx, s.cfg.DataSource, now)
	if err != nil {
		slog.Warn("scheduler: query due tasks failed", "error", err)
		return
	}

	for _, task := range tasks {
		s.runOneTask(ctx, task)
	}
}

func (s *Scheduler) runOneTask(ctx context.Context, task DelayedTask) {
	s.mu.RLock()
	handler, ok := s.handlers[task.Function]
	s.mu.RUnlock()

	if !ok {
		slog.Warn("scheduler: no handler registered for task function", "task_id", task.ID, "function", task.Function)
		return
	}

	if s.cfg.ClaimPolicy == ClaimBeforeRun {
		if err := s.store.CompleteDelayedTask(ctx, s.cfg.DataSource, task.ID); err != nil {
			slog.Warn("scheduler: claim-before-run failed", "task_id", task.ID, "error", err)
			return
		}
	}

	if err := handler(ctx, task.Kwargs); err != nil {
		slog.Warn("scheduler: task handler failed", "task_id", task.ID, "function", task.Function, "error", err)
		return
	}

	if s.cfg.ClaimPolicy == ClaimAfterSuccess {
		if err := s.store.CompleteDelayedTask(ctx, s.cfg.DataSource, task.ID); err != nil {
			slog.Warn("scheduler: complete-after-success failed", "task_id", task.ID, "error", err)
		}
	}
}

func (s *Scheduler) runCronJobs(ctx context.Context, now time.Time) {
	s.mu.RLock()
	jobs := append([]CronJob(nil), s.cronJobs...)
	s.mu.RUnlock()

	for _, job := range jobs {
		due, err := s.cron.IsDue(job.Expression, now)
		if err != nil {
			slog.Warn("scheduler: invalid cron expression", "job", job.Name, "expression", job.Expression, "error", err)
			continue
		}
		if !due {
			continue
		}
		s.mu.Lock()
		last := s.lastTick[job.Name]
		if last.Equal(now.Truncate(time.Minute)) {
			s.mu.Unlock()
			continue
		}
		s.lastTick[job.Name] = now.Truncate(time.Minute)
		s.mu.Unlock()

		if err := job.Handler(ctx); err != nil {
			slog.Warn("scheduler: cron job failed", "job", job.Name, "error", err)
		}
	}
}
