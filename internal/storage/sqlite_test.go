package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestOpenReadWriteIsExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state.db")

	db, err := Open(ctx, dbPath, ModeReadWrite)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := Open(ctx, dbPath, ModeReadWrite); !errors.Is(err, ErrLocked) {
		t.Fatalf("second read-write open: %v, want ErrLocked", err)
	}
}

func TestReadOnlyCoexistsWithWriter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state.db")

	rw, err := Open(ctx, dbPath, ModeReadWrite)
	if err != nil {
		t.Fatalf("open read-write: %v", err)
	}
	t.Cleanup(func() { _ = rw.Close() })

	ro, err := Open(ctx, dbPath, ModeReadOnly)
	if err != nil {
		t.Fatalf("open read-only alongside writer: %v", err)
	}
	t.Cleanup(func() { _ = ro.Close() })

	if ro.Mode() != ModeReadOnly || rw.Mode() != ModeReadWrite {
		t.Fatalf("modes: rw=%v ro=%v", rw.Mode(), ro.Mode())
	}

	// The read-only handle sees the bootstrapped schema.
	var n int
	err = ro.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs;").Scan(&n)
	if err != nil {
		t.Fatalf("query over read-only handle: %v", err)
	}
	if n != 0 {
		t.Fatalf("fresh jobs table has %d rows", n)
	}

	// And it cannot mutate.
	_, err = ro.ExecContext(ctx, "INSERT INTO workers(host, pid, addr, env_signature, status, started_at, last_heartbeat) VALUES('w', 1, '', 's', 'idle', '', '');")
	if err == nil {
		t.Fatalf("insert over read-only handle succeeded")
	}
}

func TestCloseReleasesLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state.db")

	db, err := Open(ctx, dbPath, ModeReadWrite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := Open(ctx, dbPath, ModeReadWrite)
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	_ = db2.Close()
}

func TestBootstrapIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state.db")

	db, err := Open(ctx, dbPath, ModeReadWrite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Bootstrap(ctx, db.DB); err != nil {
		t.Fatalf("re-bootstrap: %v", err)
	}
}
