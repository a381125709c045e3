package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertDelayedTask inserts a new task, idempotent on ID — a duplicate
// insertion of the same caller-chosen ID is a no-op (spec §4.6).
func (r *Router) InsertDelayedTask(ctx context.Context, dataSource string, t DelayedTask) error {
	src, err := r.resolveForWrite(dataSource, 0)
	if err != nil {
		return err
	}
	kwargs := t.Kwargs
	if len(kwargs) == 0 {
		kwargs = []byte("{}")
	}
	query := src.Rebind(`
		INSERT INTO delayed_tasks (id, fire_at, function, kwargs, is_done) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	_, err = src.DB.ExecContext(ctx, query, t.ID, t.FireAt, t.Function, string(kwargs), t.IsDone)
	if err != nil {
		return fmt.Errorf("storage: insert delayed task: %w", err)
	}
	return nil
}

// DueDelayedTasks returns every undone task whose fire_at has passed
// (spec §4.6 step 1).
func (r *Router) DueDelayedTasks(ctx context.Context, dataSource string, now time.Time) ([]DelayedTask, error) {
	src, err := r.resolve(dataSource, 0)
	if err != nil {
		return nil, err
	}
	query := src.Rebind(`SELECT id, fire_at, function, kwargs, is_done FROM delayed_tasks WHERE is_done = ? AND fire_at <= ?`)
	rows, err := src.DB.QueryContext(ctx, query, false, now)
	if err != nil {
		return nil, fmt.Errorf("storage: due delayed tasks: %w", err)
	}
	defer rows.Close()
	var out []DelayedTask
	for rows.Next() {
		var t DelayedTask
		var kwargs string
		if err := rows.Scan(&t.ID, &t.FireAt, &t.Function, &kwargs, &t.IsDone); err != nil {
			return nil, err
		}
		t.Kwargs = []byte(kwargs)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CompleteDelayedTask flips is_done to true; called after the handler
// returns success under the default claim-after-success policy, or
// immediately beforehand when a task's config opts into claim-before-run
// (spec §4.6 step 2).
func (r *Router) CompleteDelayedTask(ctx context.Context, dataSource, id string) error {
	src, err := r.resolveForWrite(dataSource, 0)
	if err != nil {
		return err
	}
	query := src.Rebind(`UPDATE delayed_tasks SET is_done = ? WHERE id = ?`)
	_, err = src.DB.ExecContext(ctx, query, true, id)
	if err != nil {
		return fmt.Errorf("storage: complete delayed task: %w", err)
	}
	return nil
}

// CancelDelayedTask marks a task done without running it.
func (r *Router) CancelDelayedTask(ctx context.Context, dataSource, id string) error {
	return r.CompleteDelayedTask(ctx, dataSource, id)
}

// GetDelayedTask reads one task by id.
func (r *Router) GetDelayedTask(ctx context.Context, dataSource, id string) (*DelayedTask, error) {
	src, err := r.resolve(dataSource, 0)
	if err != nil {
		return nil, err
	}
	query := src.Rebind(`SELECT id, fire_at, function, kwargs, is_done FROM delayed_tasks WHERE id = ?`)
	var t DelayedTask
	var kwargs string
	err = src.DB.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.FireAt, &t.Function, &kwargs, &t.IsDone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get delayed task: %w", err)
	}
	t.Kwargs = []byte(kwargs)
	return &t, nil
}
