package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sl224/casparianflow-sub011/internal/lock"
)

// Mode selects how the control-plane database is opened.
type Mode int

const (
	// ModeReadWrite opens the database for mutation. Exactly one process may
	// hold this mode at a time, enforced by an advisory lock on a sidecar
	// file next to the database.
	ModeReadWrite Mode = iota
	// ModeReadOnly opens the database without a lock. Any number of
	// read-only handles may coexist with the single read-write holder.
	ModeReadOnly
)

// ErrLocked indicates another process holds the read-write lock. The open
// fails immediately; there is no queueing for the lock.
var ErrLocked = errors.New("control-plane database is locked by another process")

// DB wraps the SQLite handle together with the advisory lock (read-write
// mode only). Closing the DB releases the lock; so does process death.
type DB struct {
	*sql.DB
	mode Mode
	flk  *lock.FileLock
}

// Open opens (and for read-write mode, creates and bootstraps) the
// control-plane database at path in the requested mode.
func Open(ctx context.Context, path string, mode Mode) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}

	var flk *lock.FileLock
	if mode == ModeReadWrite {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		var err error
		flk, err = lock.Acquire(path + ".lock")
		if err != nil {
			if errors.Is(err, lock.ErrHeld) {
				return nil, fmt.Errorf("%w: %s", ErrLocked, path)
			}
			return nil, err
		}
	}

	// Pragmas must ride on the DSN so each connection in the database/sql
	// pool gets them, not just the one an ExecContext happens to use.
	const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	// _txlock=immediate takes the write lock at BEGIN, so concurrent write
	// transactions queue on busy_timeout instead of deadlocking on the
	// deferred shared-to-reserved lock upgrade (immediate SQLITE_BUSY).
	dsn := "file:" + path + "?_txlock=immediate&" + pragmas
	if mode == ModeReadOnly {
		dsn = "file:" + path + "?mode=ro&" + pragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		releaseOnErr(flk)
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		releaseOnErr(flk)
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		releaseOnErr(flk)
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if mode == ModeReadWrite {
		if err := Bootstrap(ctx, db); err != nil {
			_ = db.Close()
			releaseOnErr(flk)
			return nil, err
		}
	}

	return &DB{DB: db, mode: mode, flk: flk}, nil
}

// Mode reports the access mode this handle was opened with.
func (d *DB) Mode() Mode { return d.mode }

// Close closes the database and releases the read-write lock if held.
func (d *DB) Close() error {
	err := d.DB.Close()
	if d.flk != nil {
		if lerr := d.flk.Release(); lerr != nil && err == nil {
			err = lerr
		}
		d.flk = nil
	}
	return err
}

func releaseOnErr(flk *lock.FileLock) {
	if flk != nil {
		_ = flk.Release()
	}
}

// Bootstrap creates control-plane tables/indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
  id              TEXT PRIMARY KEY,
  file_version_id TEXT NOT NULL,
  topic           TEXT NOT NULL DEFAULT '',
  plugin          TEXT NOT NULL,
  config          JSON,
  status          TEXT NOT NULL,
  priority        INTEGER NOT NULL DEFAULT 0,
  worker_host     TEXT,
  worker_pid      INTEGER,
  claimed_at      TEXT,
  completed_at    TEXT,
  result          TEXT,
  last_error      TEXT,
  retry_count     INTEGER NOT NULL DEFAULT 0,
  created_at      TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS workers (
  host            TEXT PRIMARY KEY,
  pid             INTEGER NOT NULL,
  addr            TEXT NOT NULL,
  env_signature   TEXT NOT NULL,
  status          TEXT NOT NULL,
  current_job_id  TEXT,
  started_at      TEXT NOT NULL,
  last_heartbeat  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS plugin_manifests (
  plugin          TEXT NOT NULL,
  version         INTEGER NOT NULL,
  source          TEXT NOT NULL,
  source_hash     TEXT NOT NULL UNIQUE,
  env_signature   TEXT NOT NULL,
  artifact_hash   TEXT,
  status          TEXT NOT NULL,
  signature       TEXT,
  publisher       TEXT,
  validate_error  TEXT,
  deployed_at     TEXT NOT NULL,
  PRIMARY KEY (plugin, version)
);`,
		`CREATE TABLE IF NOT EXISTS sink_configs (
  plugin          TEXT NOT NULL,
  output          TEXT NOT NULL,
  uri             TEXT NOT NULL,
  kind            TEXT NOT NULL,
  write_mode      TEXT NOT NULL DEFAULT 'append',
  row_schema      JSON,
  PRIMARY KEY (plugin, output)
);`,
		`CREATE TABLE IF NOT EXISTS content_hashes (
  hash            TEXT PRIMARY KEY,
  size            INTEGER NOT NULL,
  first_seen      TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS file_locations (
  id              TEXT PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  current_version TEXT
);`,
		`CREATE TABLE IF NOT EXISTS file_versions (
  id              TEXT PRIMARY KEY,
  location_id     TEXT NOT NULL REFERENCES file_locations(id),
  content_hash    TEXT NOT NULL REFERENCES content_hashes(hash),
  size            INTEGER NOT NULL,
  modified_at     TEXT NOT NULL,
  observed_at     TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS jobs_status_priority_idx ON jobs(status, priority DESC);`,
		`CREATE INDEX IF NOT EXISTS jobs_plugin_status_idx ON jobs(plugin, status);`,
		`CREATE INDEX IF NOT EXISTS jobs_topic_idx ON jobs(topic);`,
		`CREATE INDEX IF NOT EXISTS file_versions_location_idx ON file_versions(location_id, observed_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
