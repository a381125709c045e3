package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polychat-dev/polychat/internal/errs"
)

// RouterConfig configures the routing precedence (spec §4.1).
type RouterConfig struct {
	DefaultSource string
	ChatMapping   map[int64]string // chat_id -> source name
}

// Router is the stateless Storage Router: it owns no data itself, only the
// set of Sources and the rules for picking one. Safe for concurrent use —
// Sources themselves own their connection pools.
type Router struct {
	sources map[string]*Source
	cfg     RouterConfig
}

func NewRouter(sources map[string]*Source, cfg RouterConfig) *Router {
	return &Router{sources: sources, cfg: cfg}
}

// resolve picks a Source following the precedence in spec §4.1:
//  1. explicit hint
//  2. chat_id -> source mapping, if chatID != 0
//  3. configured default
func (r *Router) resolve(hint string, chatID int64) (*Source, error) {
	name := hint
	if name == "" && chatID != 0 {
		if mapped, ok := r.cfg.ChatMapping[chatID]; ok {
			name = mapped
		}
	}
	if name == "" {
		name = r.cfg.DefaultSource
	}
	src, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown data source %q", errs.ErrConfiguration, name)
	}
	return src, nil
}

// resolveForWrite is resolve plus the read-only write guard (spec §4.1:
// "every write operation rejects sources flagged read-only").
func (r *Router) resolveForWrite(hint string, chatID int64) (*Source, error) {
	src, err := r.resolve(hint, chatID)
	if err != nil {
		return nil, err
	}
	if src.ReadOnly {
		return nil, fmt.Errorf("%w: source %q is read-only", errs.ErrReadOnlySource, src.Name)
	}
	return src, nil
}

// allSources returns every configured Source, for cross-source aggregation.
func (r *Router) allSources() []*Source {
	out := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	return out
}

// forEachSource runs fn against every Source, logging and continuing past
// per-source errors rather than aborting the whole call (spec §4.1: "On
// per-source error during aggregation, emit a warning and continue").
func (r *Router) forEachSource(ctx context.Context, fn func(ctx context.Context, s *Source) error) {
	for _, s := range r.allSources() {
		if err := fn(ctx, s); err != nil {
			slog.Warn("storage: aggregation query failed on source", "source", s.Name, "error", err)
		}
	}
}

// Close closes every Source's pool.
func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sources {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
