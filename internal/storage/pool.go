// Package storage provides the embedded relational storage layer: typed
// accessors over a WAL-enabled SQLite connection pool plus a separate
// code-index pool, matching §3/§4.A/§5 of the design.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/mirabackend/mira/internal/logging"
)

//go:embed migrations/main/*.sql
var mainMigrations embed.FS

//go:embed migrations/codeindex/*.sql
var codeIndexMigrations embed.FS

// criticalWriteBackoffSchedule matches spec §5: 100ms, 500ms, 2s for lock-contended
// writes that must not silently drop.
var criticalWriteBackoffSchedule = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

// Pool wraps a single SQLite file with the pragmas and busy-timeout the
// design requires: journal_mode=WAL, foreign_keys=ON, busy_timeout=5000,
// synchronous=NORMAL.
type Pool struct {
	db   *sql.DB
	path string
}

// OpenPool opens (creating if needed) a SQLite-backed pool at path, applies
// pragmas, and runs embedded migrations from migFS/migDir.
func OpenPool(path string, migFS embed.FS, migDir string) (*Pool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows only one writer; keep the pool small but nonzero so
	// concurrent readers don't serialize through a single conn.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := os.Chmod(path, 0o600); err != nil && !os.IsNotExist(err) {
		logging.Warn().Err(err).Str("path", path).Msg("failed to chmod storage file")
	}

	p := &Pool{db: db, path: path}
	if err := p.migrate(migFS, migDir); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pool) migrate(migFS embed.FS, migDir string) error {
	src, err := iofs.New(migFS, migDir)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(p.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migration init: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// DB returns the underlying *sql.DB for ad-hoc queries inside this package.
func (p *Pool) DB() *sql.DB { return p.db }

// Close closes the pool.
func (p *Pool) Close() error { return p.db.Close() }

// WithCriticalWrite retries fn using the spec's fixed backoff schedule on
// SQLITE_BUSY-style lock contention. Use only for writes that must not
// silently drop (spec §5, §7): session/message persistence, pattern and
// error-pattern upserts, checkpoints. Non-critical writes (behavior log,
// telemetry) should call fn directly and ignore the error.
func WithCriticalWrite(ctx context.Context, fn func() error) error {
	attempt := 0
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !isBusyErr(err) {
			return backoff.Permanent(err)
		}
		attempt++
		if attempt > len(criticalWriteBackoffSchedule) {
			return backoff.Permanent(err)
		}
		return err
	}
	scheduled := &fixedScheduleBackoff{schedule: criticalWriteBackoffSchedule}
	return backoff.Retry(op, backoff.WithContext(scheduled, ctx))
}

// fixedScheduleBackoff replays the spec's literal 100ms/500ms/2s schedule
// rather than a computed exponential curve.
type fixedScheduleBackoff struct {
	schedule []time.Duration
	idx      int
}

func (f *fixedScheduleBackoff) NextBackOff() time.Duration {
	if f.idx >= len(f.schedule) {
		return backoff.Stop
	}
	d := f.schedule[f.idx]
	f.idx++
	return d
}

func (f *fixedScheduleBackoff) Reset() { f.idx = 0 }

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "database is locked", "SQLITE_BUSY", "database table is locked")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
