package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `
  id, file_version_id, topic, plugin, config, status, priority, worker_host, worker_pid,
  claimed_at, completed_at, result, last_error, retry_count, created_at`

// Queue owns all mutation of job and worker rows. It must be constructed over
// the single read-write storage handle; nothing else writes this state.
type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue inserts a new queued job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.FileVersionID == "" {
		return "", fmt.Errorf("file_version_id is empty")
	}
	if req.Plugin == "" {
		return "", fmt.Errorf("plugin is empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var config any
	if len(req.Config) > 0 {
		config = string(req.Config)
	}

	_, err := q.db.ExecContext(ctx, `
INSERT INTO jobs(id, file_version_id, topic, plugin, config, status, priority, retry_count, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, 0, ?);
`, id, req.FileVersionID, req.Topic, req.Plugin, config, StatusQueued, req.Priority, now)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// Claim atomically assigns the best queued job to the requesting worker:
// highest priority first, insertion order as tie-break, and the status flip
// happens in the same statement that selects the row, so two workers can
// never claim the same job. Returns (nil, nil) when nothing is claimable or
// the worker is draining.
func (q *Queue) Claim(ctx context.Context, workerHost string, workerPID int) (*Job, error) {
	if workerHost == "" {
		return nil, fmt.Errorf("worker host is empty")
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var workerStatus string
	err = tx.QueryRowContext(ctx, "SELECT status FROM workers WHERE host = ?;", workerHost).Scan(&workerStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s (handshake required before claiming)", ErrWorkerNotFound, workerHost)
	}
	if err != nil {
		return nil, fmt.Errorf("load worker: %w", err)
	}
	if WorkerStatus(workerStatus) == WorkerDraining {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	row := tx.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM jobs
  WHERE status = ?
  ORDER BY priority DESC, rowid ASC
  LIMIT 1
)
UPDATE jobs
SET status = ?, worker_host = ?, worker_pid = ?, claimed_at = ?
WHERE id IN (SELECT id FROM next) AND status = ?
RETURNING`+jobColumns+`;
`, StatusQueued, StatusRunning, workerHost, workerPID, now, StatusQueued)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
UPDATE workers SET status = ?, current_job_id = ? WHERE host = ?;
`, WorkerBusy, j.ID, workerHost)
	if err != nil {
		return nil, fmt.Errorf("mark worker busy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return j, nil
}

// Report records a worker's completion report. Reports against jobs that are
// already terminal, or running under a different worker, are dropped without
// error: a late success must not resurrect a cancelled job, and duplicate
// reports are a no-op.
func (q *Queue) Report(ctx context.Context, jobID, workerHost string, status Status, result, errMsg *string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is empty")
	}
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("invalid report status: %q", status)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var curStatus string
	var curHost sql.NullString
	err = tx.QueryRowContext(ctx, "SELECT status, worker_host FROM jobs WHERE id = ?;", jobID).Scan(&curStatus, &curHost)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("load job for report: %w", err)
	}

	if Status(curStatus) != StatusRunning || !curHost.Valid || curHost.String != workerHost {
		// Cancelled, re-queued by a stale sweep, or already reported. Drop
		// the report, but still release the worker if its row is parked on
		// this job so a cancelled job cannot pin a worker as busy.
		_, err = tx.ExecContext(ctx, `
UPDATE workers SET status = ?, current_job_id = NULL WHERE host = ? AND current_job_id = ?;
`, WorkerIdle, workerHost, jobID)
		if err != nil {
			return fmt.Errorf("release worker: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	}

	completedAt := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, completed_at = ?, result = ?, last_error = ? WHERE id = ?;
`, status, completedAt, result, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("update job report: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
UPDATE workers SET status = ?, current_job_id = NULL WHERE host = ? AND current_job_id = ?;
`, WorkerIdle, workerHost, jobID)
	if err != nil {
		return fmt.Errorf("release worker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Retry resets a failed job to queued, bumping its retry count and clearing
// the prior error. Valid only from failed.
func (q *Queue) Retry(ctx context.Context, jobID string) error {
	res, err := q.db.ExecContext(ctx, `
UPDATE jobs
SET status = ?, last_error = NULL, result = NULL, worker_host = NULL, worker_pid = NULL,
    claimed_at = NULL, completed_at = NULL, retry_count = retry_count + 1
WHERE id = ? AND status = ?;
`, StatusQueued, jobID, StatusFailed)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("retry job rows: %w", err)
	}
	if n == 0 {
		j, err := q.Get(ctx, jobID)
		if err != nil {
			return err
		}
		return &InvalidTransitionError{JobID: jobID, From: j.Status, Action: "retry"}
	}
	return nil
}

// RetryAll retries every failed job and returns how many were reset.
func (q *Queue) RetryAll(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE jobs
SET status = ?, last_error = NULL, result = NULL, worker_host = NULL, worker_pid = NULL,
    claimed_at = NULL, completed_at = NULL, retry_count = retry_count + 1
WHERE status = ?;
`, StatusQueued, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("retry all: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("retry all rows: %w", err)
	}
	return int(n), nil
}

// Cancel marks a queued or running job cancelled. A running job's worker is
// not stopped synchronously; its eventual report is dropped by Report.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := q.db.ExecContext(ctx, `
UPDATE jobs SET status = ?, completed_at = ?
WHERE id = ? AND status IN (?, ?);
`, StatusCancelled, now, jobID, StatusQueued, StatusRunning)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel job rows: %w", err)
	}
	if n == 0 {
		j, err := q.Get(ctx, jobID)
		if err != nil {
			return err
		}
		return &InvalidTransitionError{JobID: jobID, From: j.Status, Action: "cancel"}
	}
	return nil
}

// Get loads a single job by id.
func (q *Queue) Get(ctx context.Context, jobID string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT`+jobColumns+` FROM jobs WHERE id = ?;`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// List returns jobs matching the filter, newest first.
func (q *Queue) List(ctx context.Context, f Filter) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, s)
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Topic != "" {
		clauses = append(clauses, "topic = ?")
		args = append(args, f.Topic)
	}

	query := `SELECT` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Depth returns the number of queued jobs.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE status = ?;", StatusQueued).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var (
		j          Job
		config     sql.NullString
		statusS    string
		workerHost sql.NullString
		workerPID  sql.NullInt64
		claimedAtS sql.NullString
		completedS sql.NullString
		result     sql.NullString
		lastError  sql.NullString
		createdAtS string
	)
	err := r.Scan(
		&j.ID, &j.FileVersionID, &j.Topic, &j.Plugin, &config, &statusS, &j.Priority,
		&workerHost, &workerPID, &claimedAtS, &completedS, &result, &lastError,
		&j.RetryCount, &createdAtS,
	)
	if err != nil {
		return nil, err
	}

	j.Status = Status(statusS)
	if config.Valid {
		j.Config = []byte(config.String)
	}
	if workerHost.Valid {
		j.WorkerHost = workerHost.String
	}
	if workerPID.Valid {
		j.WorkerPID = int(workerPID.Int64)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	if claimedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, claimedAtS.String); err == nil {
			j.ClaimedAt = &t
		}
	}
	if completedS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedS.String); err == nil {
			j.CompletedAt = &t
		}
	}
	if result.Valid {
		j.Result = &result.String
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	return &j, nil
}
