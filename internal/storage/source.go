package storage

import (
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"             // registers the "sqlite" database/sql driver
)

// Dialect distinguishes the two database/sql drivers a Source can bind to.
// Both are registered unconditionally at package init so a config-driven
// per-source choice never needs a build tag.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SourceConfig describes one named data source (database.sources.<name> in config).
type SourceConfig struct {
	Name     string
	Dialect  Dialect
	DSN      string // file path for sqlite, connection string for postgres
	ReadOnly bool
	PoolSize int
	Timeout  time.Duration
}

// Source owns one connection pool and knows how to rewrite portable `?`
// placeholders into its dialect's native bind-parameter syntax.
type Source struct {
	Name     string
	ReadOnly bool
	Dialect  Dialect
	DB       *sql.DB
	Timeout  time.Duration
}

// OpenSource opens the database/sql.DB for cfg and applies pool limits.
func OpenSource(cfg SourceConfig) (*Source, error) {
	driver := "sqlite"
	if cfg.Dialect == DialectPostgres {
		driver = "pgx"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage: open source %q: %w", cfg.Name, err)
	}
	if cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize)
		db.SetMaxIdleConns(cfg.PoolSize)
	}
	return &Source{
		Name:     cfg.Name,
		ReadOnly: cfg.ReadOnly,
		Dialect:  cfg.Dialect,
		DB:       db,
		Timeout:  cfg.Timeout,
	}, nil
}

var placeholderPattern = regexp.MustCompile(`\?`)

// Rebind rewrites a query written with portable `?` placeholders into the
// source's native placeholder syntax ($1, $2, ... for postgres; sqlite
// accepts `?` natively).
func (s *Source) Rebind(query string) string {
	if s.Dialect != DialectPostgres {
		return query
	}
	n := 0
	return placeholderPattern.ReplaceAllStringFunc(query, func(string) string {
		n++
		return "$" + strconv.Itoa(n)
	})
}

// Close closes the underlying pool.
func (s *Source) Close() error {
	return s.DB.Close()
}
