package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is an apply/rollback pair executed in a single transaction
// (spec §6: "Each migration is a pair of apply/rollback functions; migration
// executes in a transaction; failure reverts").
type Migration struct {
	Version int
	Name    string
	Up      func(tx *sql.Tx, d Dialect) error
	Down    func(tx *sql.Tx, d Dialect) error
}

// Runner applies an ordered list of migrations to one Source, tracking the
// current version in GlobalSetting["db-migration-version"].
type Runner struct {
	source     *Source
	migrations []Migration
}

func NewRunner(source *Source, migrations []Migration) *Runner {
	return &Runner{source: source, migrations: migrations}
}

const migrationVersionKey = "db-migration-version"

// currentVersion reads the tracked version, treating a missing settings
// table or missing row as version 0 (a brand-new database).
func (r *Runner) currentVersion(ctx context.Context) (int, error) {
	var value string
	query := r.source.Rebind(`SELECT value FROM global_settings WHERE key = ?`)
	err := r.source.DB.QueryRowContext(ctx, query, migrationVersionKey).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		// Most likely the global_settings table doesn't exist yet.
		return 0, nil
	}
	var v int
	_, scanErr := fmt.Sscanf(value, "%d", &v)
	if scanErr != nil {
		return 0, fmt.Errorf("storage: parse migration version %q: %w", value, scanErr)
	}
	return v, nil
}

func (r *Runner) setVersion(ctx context.Context, tx *sql.Tx, version int) error {
	query := r.source.Rebind(`
		INSERT INTO global_settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`)
	_, err := tx.ExecContext(ctx, query, migrationVersionKey, fmt.Sprintf("%d", version))
	return err
}

// Up applies every migration with Version > current, in ascending order, one
// transaction each.
func (r *Runner) Up(ctx context.Context) error {
	current, err := r.currentVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range r.migrations {
		if m.Version <= current {
			continue
		}
		if err := r.applyOne(ctx, m, true); err != nil {
			return fmt.Errorf("storage: migration %d (%s) up: %w", m.Version, m.Name, err)
		}
		current = m.Version
	}
	return nil
}

// Down rolls back every migration with Version > targetVersion, in
// descending order, one transaction each.
func (r *Runner) Down(ctx context.Context, targetVersion int) error {
	current, err := r.currentVersion(ctx)
	if err != nil {
		return err
	}
	for i := len(r.migrations) - 1; i >= 0; i-- {
		m := r.migrations[i]
		if m.Version <= targetVersion || m.Version > current {
			continue
		}
		if err := r.applyOne(ctx, m, false); err != nil {
			return fmt.Errorf("storage: migration %d (%s) down: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (r *Runner) applyOne(ctx context.Context, m Migration, up bool) error {
	tx, err := r.source.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	fn := m.Up
	newVersion := m.Version
	if !up {
		fn = m.Down
		newVersion = m.Version - 1
	}
	if err := fn(tx, r.source.Dialect); err != nil {
		return err
	}
	if err := r.setVersion(ctx, tx, newVersion); err != nil {
		return err
	}
	return tx.Commit()
}

// Version returns the currently applied migration version.
func (r *Runner) Version(ctx context.Context) (int, error) {
	return r.currentVersion(ctx)
}
