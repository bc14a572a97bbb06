package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const workerColumns = `
  host, pid, addr, env_signature, status, current_job_id, started_at, last_heartbeat`

// RegisterWorker records a worker's startup handshake. Re-registration by the
// same hostname replaces the old row (a restarted worker gets a fresh start
// time and idle status).
func (q *Queue) RegisterWorker(ctx context.Context, w Worker) error {
	if w.Host == "" {
		return fmt.Errorf("worker host is empty")
	}
	if w.EnvSignature == "" {
		return fmt.Errorf("worker env_signature is empty")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := q.db.ExecContext(ctx, `
INSERT INTO workers(host, pid, addr, env_signature, status, current_job_id, started_at, last_heartbeat)
VALUES(?, ?, ?, ?, ?, NULL, ?, ?)
ON CONFLICT(host) DO UPDATE SET
  pid = excluded.pid,
  addr = excluded.addr,
  env_signature = excluded.env_signature,
  status = excluded.status,
  current_job_id = NULL,
  started_at = excluded.started_at,
  last_heartbeat = excluded.last_heartbeat;
`, w.Host, w.PID, w.Addr, w.EnvSignature, WorkerIdle, now, now)
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	return nil
}

// Heartbeat bumps a worker's liveness timestamp. A draining worker stays
// draining regardless of the status it reports.
func (q *Queue) Heartbeat(ctx context.Context, host string, status WorkerStatus) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := q.db.ExecContext(ctx, `
UPDATE workers
SET last_heartbeat = ?,
    status = CASE WHEN status = ? THEN status ELSE ? END
WHERE host = ?;
`, now, WorkerDraining, status, host)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("heartbeat rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, host)
	}
	return nil
}

// GetWorker loads one worker row by hostname.
func (q *Queue) GetWorker(ctx context.Context, host string) (*Worker, error) {
	row := q.db.QueryRowContext(ctx, `SELECT`+workerColumns+` FROM workers WHERE host = ?;`, host)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, host)
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	return w, nil
}

// ListWorkers returns all worker rows ordered by hostname.
func (q *Queue) ListWorkers(ctx context.Context) ([]*Worker, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT`+workerColumns+` FROM workers ORDER BY host ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var out []*Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DrainWorker marks a worker ineligible for new claims. Its current job, if
// any, runs to completion.
func (q *Queue) DrainWorker(ctx context.Context, host string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE workers SET status = ? WHERE host = ?;`, WorkerDraining, host)
	if err != nil {
		return fmt.Errorf("drain worker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("drain worker rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, host)
	}
	return nil
}

// RemoveWorker deletes a worker row. Removing a busy worker requires force;
// forced removal requeues its current job through the same path as staleness
// cleanup before the row is deleted.
func (q *Queue) RemoveWorker(ctx context.Context, host string, force bool) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var currentJob sql.NullString
	err = tx.QueryRowContext(ctx, "SELECT status, current_job_id FROM workers WHERE host = ?;", host).Scan(&status, &currentJob)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, host)
	}
	if err != nil {
		return fmt.Errorf("load worker for removal: %w", err)
	}

	if currentJob.Valid {
		if !force {
			return fmt.Errorf("%w: %s is running job %s (use --force to requeue it)", ErrWorkerBusy, host, currentJob.String)
		}
		if err := requeueWorkerJob(ctx, tx, host, currentJob.String); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM workers WHERE host = ?;", host); err != nil {
		return fmt.Errorf("delete worker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SweepStale requeues the running jobs of workers whose last heartbeat is
// older than threshold and removes their rows. The sweep is idempotent: a
// worker cleaned up by a previous pass no longer has a row, so re-running it
// is a no-op. Returns the number of workers removed.
func (q *Queue) SweepStale(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		return 0, fmt.Errorf("staleness threshold must be positive")
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := time.Now().UTC().Add(-threshold).Format(time.RFC3339Nano)
	rows, err := tx.QueryContext(ctx, `
SELECT host, current_job_id FROM workers WHERE last_heartbeat < ?;
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("scan stale workers: %w", err)
	}

	type stale struct {
		host  string
		jobID sql.NullString
	}
	var victims []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.host, &s.jobID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan stale worker: %w", err)
		}
		victims = append(victims, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate stale workers: %w", err)
	}

	for _, v := range victims {
		if v.jobID.Valid {
			if err := requeueWorkerJob(ctx, tx, v.host, v.jobID.String); err != nil {
				return 0, err
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM workers WHERE host = ?;", v.host); err != nil {
			return 0, fmt.Errorf("delete stale worker: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return len(victims), nil
}

// requeueWorkerJob forces a running job back to queued after its worker was
// presumed dead or force-removed. Guarded on (status, worker_host) so a job
// the worker already reported, or that was cancelled, is left alone.
func requeueWorkerJob(ctx context.Context, tx *sql.Tx, host, jobID string) error {
	_, err := tx.ExecContext(ctx, `
UPDATE jobs
SET status = ?, worker_host = NULL, worker_pid = NULL, claimed_at = NULL,
    retry_count = retry_count + 1
WHERE id = ? AND status = ? AND worker_host = ?;
`, StatusQueued, jobID, StatusRunning, host)
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	return nil
}

func scanWorker(r rowScanner) (*Worker, error) {
	var (
		w          Worker
		statusS    string
		currentJob sql.NullString
		startedS   string
		beatS      string
	)
	err := r.Scan(&w.Host, &w.PID, &w.Addr, &w.EnvSignature, &statusS, &currentJob, &startedS, &beatS)
	if err != nil {
		return nil, err
	}
	w.Status = WorkerStatus(statusS)
	if currentJob.Valid {
		w.CurrentJobID = &currentJob.String
	}
	if t, err := time.Parse(time.RFC3339Nano, startedS); err == nil {
		w.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, beatS); err == nil {
		w.LastHeartbeat = t
	}
	return &w, nil
}
