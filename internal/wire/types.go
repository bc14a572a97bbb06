// Package wire defines the coordinator<->worker request/response messages and
// the worker-side HTTP client. Messages are idempotent at the coordinator: a
// duplicate report for an already-terminal job is a no-op, not an error.
package wire

import (
	"encoding/json"
	"time"

	"github.com/sl224/casparianflow-sub011/internal/queue"
)

// RegisterRequest is the worker startup handshake body.
type RegisterRequest struct {
	Host         string `json:"host"`
	PID          int    `json:"pid"`
	Addr         string `json:"addr"`
	EnvSignature string `json:"env_signature"`
}

// HeartbeatRequest is the periodic liveness report.
type HeartbeatRequest struct {
	Status queue.WorkerStatus `json:"status"`
}

// ClaimRequest asks the coordinator for the next job.
type ClaimRequest struct {
	PID int `json:"pid"`
}

// JobAssignment is the coordinator's answer to a successful claim. "no job"
// is an empty 204 response, not a message.
type JobAssignment struct {
	JobID         string          `json:"job_id"`
	FileVersionID string          `json:"file_version_id"`
	FilePath      string          `json:"file_path"`
	SourceHash    string          `json:"source_hash"`
	Topic         string          `json:"topic,omitempty"`
	Plugin        string          `json:"plugin"`
	Config        json.RawMessage `json:"config,omitempty"`
	RetryCount    int             `json:"retry_count"`
}

// ReportRequest is the worker's completion report for a job.
type ReportRequest struct {
	WorkerHost string  `json:"worker_host"`
	Status     string  `json:"status"` // completed | failed
	Result     *string `json:"result,omitempty"`
	Error      *string `json:"error,omitempty"`
}

// JobView is the operator-facing projection of a job row.
type JobView struct {
	ID            string     `json:"id"`
	FileVersionID string     `json:"file_version_id"`
	Topic         string     `json:"topic,omitempty"`
	Plugin        string     `json:"plugin"`
	Status        string     `json:"status"`
	Priority      int        `json:"priority"`
	WorkerHost    string     `json:"worker_host,omitempty"`
	WorkerPID     int        `json:"worker_pid,omitempty"`
	RetryCount    int        `json:"retry_count"`
	Result        *string    `json:"result,omitempty"`
	Error         *string    `json:"error,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// WorkerView is the operator-facing projection of a worker row.
type WorkerView struct {
	Host          string    `json:"host"`
	PID           int       `json:"pid"`
	Addr          string    `json:"addr"`
	EnvSignature  string    `json:"env_signature"`
	Status        string    `json:"status"`
	CurrentJobID  *string   `json:"current_job_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// ObserveFileRequest records one sighting of content at a path.
type ObserveFileRequest struct {
	Path        string    `json:"path"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// ObserveFileResponse returns the recorded file version.
type ObserveFileResponse struct {
	FileVersionID string `json:"file_version_id"`
	ContentHash   string `json:"content_hash"`
}

// EnqueueJobRequest submits one (file version, plugin) processing attempt.
type EnqueueJobRequest struct {
	FileVersionID string          `json:"file_version_id"`
	Topic         string          `json:"topic,omitempty"`
	Plugin        string          `json:"plugin"`
	Config        json.RawMessage `json:"config,omitempty"`
	Priority      int             `json:"priority,omitempty"`
}

// EnqueueJobResponse returns the new job's id.
type EnqueueJobResponse struct {
	JobID string `json:"job_id"`
}

// PublishRequest registers a new plugin version.
type PublishRequest struct {
	Plugin       string `json:"plugin"`
	Version      int    `json:"version"`
	Source       string `json:"source"`
	EnvSignature string `json:"env_signature,omitempty"`
	Signature    string `json:"signature,omitempty"`
	Publisher    string `json:"publisher,omitempty"`
}

// ValidateResponse reports the outcome of a manifest validation.
type ValidateResponse struct {
	Plugin  string `json:"plugin"`
	Version int    `json:"version"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// SinkPutRequest declares or replaces one (plugin, output) routing rule. The
// plugin comes from the URL path.
type SinkPutRequest struct {
	Output    string          `json:"output"`
	URI       string          `json:"uri"`
	WriteMode string          `json:"write_mode,omitempty"`
	Schema    json.RawMessage `json:"schema,omitempty"`
}

// RetryAllResponse reports how many failed jobs were reset.
type RetryAllResponse struct {
	Retried int `json:"retried"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	Workers       int    `json:"workers"`
}

// ViewJob converts a queue row to its wire projection.
func ViewJob(j *queue.Job) JobView {
	return JobView{
		ID:            j.ID,
		FileVersionID: j.FileVersionID,
		Topic:         j.Topic,
		Plugin:        j.Plugin,
		Status:        string(j.Status),
		Priority:      j.Priority,
		WorkerHost:    j.WorkerHost,
		WorkerPID:     j.WorkerPID,
		RetryCount:    j.RetryCount,
		Result:        j.Result,
		Error:         j.LastError,
		ClaimedAt:     j.ClaimedAt,
		CompletedAt:   j.CompletedAt,
		CreatedAt:     j.CreatedAt,
	}
}

// ViewWorker converts a worker row to its wire projection.
func ViewWorker(w *queue.Worker) WorkerView {
	return WorkerView{
		Host:          w.Host,
		PID:           w.PID,
		Addr:          w.Addr,
		EnvSignature:  w.EnvSignature,
		Status:        string(w.Status),
		CurrentJobID:  w.CurrentJobID,
		StartedAt:     w.StartedAt,
		LastHeartbeat: w.LastHeartbeat,
	}
}
