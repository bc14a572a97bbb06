package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is a job's lifecycle state. Transitions are owned exclusively by the
// coordinator: queued -> running -> {completed | failed}; cancelled is
// reachable from queued or running; failed returns to queued only via an
// explicit retry.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status admits no further transitions (failed is
// terminal unless an operator retries).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one (file version, plugin) processing attempt. Rows are never
// deleted, only transitioned, forming an audit trail.
type Job struct {
	ID            string
	FileVersionID string
	Topic         string
	Plugin        string
	Config        json.RawMessage
	Status        Status
	Priority      int
	WorkerHost    string
	WorkerPID     int
	ClaimedAt     *time.Time
	CompletedAt   *time.Time
	Result        *string
	LastError     *string
	RetryCount    int
	CreatedAt     time.Time
}

// EnqueueRequest carries the inputs for a new job record.
type EnqueueRequest struct {
	FileVersionID string
	Topic         string
	Plugin        string
	Config        json.RawMessage
	Priority      int
}

// WorkerStatus is a worker node's advertised state.
type WorkerStatus string

const (
	WorkerIdle     WorkerStatus = "idle"
	WorkerBusy     WorkerStatus = "busy"
	WorkerDraining WorkerStatus = "draining"
)

// Worker is one live worker process, keyed by hostname. A job stores only the
// worker's identity, never a reference to this row.
type Worker struct {
	Host          string
	PID           int
	Addr          string
	EnvSignature  string
	Status        WorkerStatus
	CurrentJobID  *string
	StartedAt     time.Time
	LastHeartbeat time.Time
}

// Filter narrows job listings.
type Filter struct {
	Statuses []Status
	Topic    string
	Limit    int
}

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrWorkerNotFound = errors.New("worker not found")
	ErrWorkerBusy     = errors.New("worker is busy")
)

// InvalidTransitionError reports an operator action applied to a job in the
// wrong state, with enough identity to act on.
type InvalidTransitionError struct {
	JobID  string
	From   Status
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s job %s in status %q", e.Action, e.JobID, e.From)
}
