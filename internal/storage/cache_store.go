package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// CacheAdapter adapts a Router + data-source hint into internal/cache.Store.
type CacheAdapter struct {
	router     *Router
	dataSource string
}

func NewCacheAdapter(router *Router, dataSource string) *CacheAdapter {
	return &CacheAdapter{router: router, dataSource: dataSource}
}

func (a *CacheAdapter) SaveCacheEntry(ctx context.Context, namespace, key string, value []byte) error {
	src, err := a.router.resolveForWrite(a.dataSource, 0)
	if err != nil {
		return err
	}
	query := src.Rebind(`
		INSERT INTO cache_entries (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`)
	_, err = src.DB.ExecContext(ctx, query, namespace, key, string(value))
	if err != nil {
		return fmt.Errorf("storage: save cache entry: %w", err)
	}
	return nil
}

func (a *CacheAdapter) LoadCacheEntry(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	src, err := a.router.resolve(a.dataSource, 0)
	if err != nil {
		return nil, false, err
	}
	query := src.Rebind(`SELECT value FROM cache_entries WHERE namespace = ? AND key = ?`)
	var value string
	err = src.DB.QueryRowContext(ctx, query, namespace, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: load cache entry: %w", err)
	}
	return []byte(value), true, nil
}

func (a *CacheAdapter) DeleteCacheEntry(ctx context.Context, namespace, key string) error {
	src, err := a.router.resolveForWrite(a.dataSource, 0)
	if err != nil {
		return err
	}
	query := src.Rebind(`DELETE FROM cache_entries WHERE namespace = ? AND key = ?`)
	_, err = src.DB.ExecContext(ctx, query, namespace, key)
	if err != nil {
		return fmt.Errorf("storage: delete cache entry: %w", err)
	}
	return nil
}

func (a *CacheAdapter) ClearCacheNamespace(ctx context.Context, namespace string) error {
	src, err := a.router.resolveForWrite(a.dataSource, 0)
	if err != nil {
		return err
	}
	query := src.Rebind(`DELETE FROM cache_entries WHERE namespace = ?`)
	_, err = src.DB.ExecContext(ctx, query, namespace)
	if err != nil {
		return fmt.Errorf("storage: clear cache namespace: %w", err)
	}
	return nil
}

// DumpCacheEntries aggregates cache rows across every source, deduping by
// (namespace, key) per spec §4.1's dedup table.
func (r *Router) DumpCacheEntries(ctx context.Context, namespace string) ([]CacheRow, error) {
	type key struct{ ns, key string }
	seen := make(map[key]struct{})
	var out []CacheRow
	r.forEachSource(ctx, func(ctx context.Context, s *Source) error {
		query := s.Rebind(`SELECT namespace, key, value FROM cache_entries WHERE namespace = ?`)
		rows, err := s.DB.QueryContext(ctx, query, namespace)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row CacheRow
			var value string
			if err := rows.Scan(&row.Namespace, &row.Key, &value); err != nil {
				return err
			}
			k := key{row.Namespace, row.Key}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			row.Value = []byte(value)
			out = append(out, row)
		}
		return rows.Err()
	})
	return out, nil
}
