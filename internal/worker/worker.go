// Package worker implements the worker execution engine: it claims jobs from
// the coordinator, executes the plugin in a subprocess, gates every output
// row through the schema contract, and routes survivors through the sink
// router. Workers are stateless between requests except for the job they
// currently hold.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sl224/casparianflow-sub011/internal/log"
	"github.com/sl224/casparianflow-sub011/internal/protocol"
	"github.com/sl224/casparianflow-sub011/internal/queue"
	"github.com/sl224/casparianflow-sub011/internal/schema"
	"github.com/sl224/casparianflow-sub011/internal/sink"
	"github.com/sl224/casparianflow-sub011/internal/wire"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/sl224/casparianflow-sub011/internal/worker CoordinatorClient

// CoordinatorClient is the worker's view of the coordinator. wire.Client is
// the production implementation; tests use mocks.
type CoordinatorClient interface {
	Register(ctx context.Context, req wire.RegisterRequest) error
	Heartbeat(ctx context.Context, status queue.WorkerStatus) error
	Claim(ctx context.Context, pid int) (*wire.JobAssignment, error)
	Report(ctx context.Context, jobID string, status queue.Status, result, errMsg *string) error
	ResolveActive(ctx context.Context, plugin string) (*wire.ManifestView, error)
	PluginSinks(ctx context.Context, plugin string) ([]wire.SinkView, error)
}

// Config holds worker engine settings.
type Config struct {
	Host              string
	PID               int
	Addr              string
	EnvSignature      string
	Interpreter       []string
	WorkDir           string
	QuarantineDir     string
	HeartbeatInterval time.Duration
	ClaimBackoffMin   time.Duration
	ClaimBackoffMax   time.Duration
	JobTimeout        time.Duration
}

// Engine is one worker process's claim-execute-report loop.
type Engine struct {
	cfg        Config
	client     CoordinatorClient
	runner     Runner
	quarantine *sink.Quarantine
	logger     *slog.Logger

	// status is written by the claim loop and read by the heartbeat
	// goroutine; always go through setStatus/currentStatus.
	status atomic.Value
}

// New creates a worker engine.
func New(cfg Config, client CoordinatorClient, runner Runner) *Engine {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.ClaimBackoffMin <= 0 {
		cfg.ClaimBackoffMin = 500 * time.Millisecond
	}
	if cfg.ClaimBackoffMax <= 0 {
		cfg.ClaimBackoffMax = 10 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	e := &Engine{
		cfg:        cfg,
		client:     client,
		runner:     runner,
		quarantine: sink.NewQuarantine(cfg.QuarantineDir),
		logger:     log.WithComponent("worker").With("worker", cfg.Host),
	}
	e.setStatus(queue.WorkerIdle)
	return e
}

func (e *Engine) setStatus(s queue.WorkerStatus) { e.status.Store(s) }

func (e *Engine) currentStatus() queue.WorkerStatus {
	return e.status.Load().(queue.WorkerStatus)
}

// Run registers with the coordinator and processes jobs until ctx is
// cancelled. The claim loop is an explicit request-wait-process cycle with
// bounded backoff; cancellation is the ctx signal, not process death.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.register(ctx); err != nil {
		return err
	}
	e.logger.Info("worker registered", "env_signature", e.cfg.EnvSignature)

	go e.heartbeatLoop(ctx)

	backoff := e.cfg.ClaimBackoffMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		assignment, err := e.client.Claim(ctx, e.cfg.PID)
		if err != nil {
			e.logger.Error("claim failed", "error", err)
			if !e.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, e.cfg.ClaimBackoffMax)
			continue
		}
		if assignment == nil {
			if !e.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, e.cfg.ClaimBackoffMax)
			continue
		}

		backoff = e.cfg.ClaimBackoffMin
		e.setStatus(queue.WorkerBusy)
		e.executeJob(ctx, assignment)
		e.setStatus(queue.WorkerIdle)
	}
}

func (e *Engine) register(ctx context.Context) error {
	return e.client.Register(ctx, wire.RegisterRequest{
		Host:         e.cfg.Host,
		PID:          e.cfg.PID,
		Addr:         e.cfg.Addr,
		EnvSignature: e.cfg.EnvSignature,
	})
}

func (e *Engine) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := e.client.Heartbeat(ctx, e.currentStatus())
			if err == nil {
				continue
			}
			if wireNotRegistered(err) {
				e.logger.Warn("coordinator lost this worker, re-registering")
				if rerr := e.register(ctx); rerr != nil {
					e.logger.Error("re-registration failed", "error", rerr)
				}
				continue
			}
			e.logger.Error("heartbeat failed", "error", err)
		}
	}
}

// executeJob runs one claimed job end to end and reports the outcome. Every
// failure path reports StatusFailed with a message naming the job, plugin,
// and where it went wrong.
func (e *Engine) executeJob(ctx context.Context, a *wire.JobAssignment) {
	jobLogger := e.logger.With("job_id", a.JobID, "plugin", a.Plugin)
	jobLogger.Info("executing job", "file", a.FilePath, "retry_count", a.RetryCount)

	manifest, err := e.client.ResolveActive(ctx, a.Plugin)
	if err != nil {
		e.failJob(ctx, a.JobID, fmt.Sprintf("resolve plugin %q: %v", a.Plugin, err), jobLogger)
		return
	}

	if manifest.EnvSignature != "" && manifest.EnvSignature != e.cfg.EnvSignature {
		e.failJob(ctx, a.JobID, fmt.Sprintf(
			"environment signature mismatch for plugin %q v%d: manifest requires %s, worker has %s",
			a.Plugin, manifest.Version, manifest.EnvSignature, e.cfg.EnvSignature), jobLogger)
		return
	}

	views, err := e.client.PluginSinks(ctx, a.Plugin)
	if err != nil {
		e.failJob(ctx, a.JobID, fmt.Sprintf("load sink configs for %q: %v", a.Plugin, err), jobLogger)
		return
	}
	configs := make([]sink.Config, 0, len(views))
	for _, v := range views {
		c, err := v.SinkConfig()
		if err != nil {
			e.failJob(ctx, a.JobID, fmt.Sprintf("sink config for %q: %v", a.Plugin, err), jobLogger)
			return
		}
		configs = append(configs, c)
	}
	router := sink.NewRouter(a.Plugin, configs)

	sourcePath, cleanup, err := e.materializeSource(a.Plugin, manifest.Version, manifest.Source)
	if err != nil {
		e.failJob(ctx, a.JobID, fmt.Sprintf("materialize plugin source: %v", err), jobLogger)
		return
	}
	defer cleanup()

	var config map[string]any
	if len(a.Config) > 0 {
		if err := json.Unmarshal(a.Config, &config); err != nil {
			e.failJob(ctx, a.JobID, fmt.Sprintf("decode job config: %v", err), jobLogger)
			return
		}
	}

	req := &protocol.Request{
		Protocol:      protocol.Version,
		JobID:         a.JobID,
		FilePath:      a.FilePath,
		SourceHash:    a.SourceHash,
		PluginVersion: manifest.Version,
		Config:        config,
		DeadlineAt:    time.Now().Add(e.cfg.JobTimeout),
	}

	argv := append(append([]string{}, e.cfg.Interpreter...), sourcePath)
	resp, stderr, err := e.runner.Run(ctx, argv, req, e.cfg.JobTimeout)
	if err != nil {
		msg := fmt.Sprintf("plugin execution failed: %v", err)
		if stderr != "" {
			msg += "; stderr: " + stderr
		}
		e.failJob(ctx, a.JobID, msg, jobLogger)
		return
	}

	for _, entry := range resp.Logs {
		jobLogger.Info("plugin log", "level", entry.Level, "message", entry.Message)
	}

	if resp.Status == protocol.StatusError {
		e.failJob(ctx, a.JobID, resp.Error, jobLogger)
		return
	}

	summary, err := e.routeBatches(ctx, a, manifest.Version, router, resp.Batches)
	if err != nil {
		e.failJob(ctx, a.JobID, err.Error(), jobLogger)
		return
	}

	summaryJSON, merr := json.Marshal(summary)
	if merr != nil {
		e.failJob(ctx, a.JobID, fmt.Sprintf("encode result summary: %v", merr), jobLogger)
		return
	}
	result := string(summaryJSON)
	if err := e.client.Report(ctx, a.JobID, queue.StatusCompleted, &result, nil); err != nil {
		jobLogger.Error("failed to report completion", "error", err)
		return
	}
	jobLogger.Info("job completed", "rows_written", summary.RowsWritten, "rows_quarantined", summary.RowsQuarantined)
}

// ResultSummary is the worker's completion report payload.
type ResultSummary struct {
	Outputs         int `json:"outputs"`
	RowsWritten     int `json:"rows_written"`
	RowsQuarantined int `json:"rows_quarantined"`
}

// routeBatches validates, stamps, and writes every named output batch. All
// outputs are resolved before anything is written, so an unroutable output
// fails the job without a partial misroute.
func (e *Engine) routeBatches(ctx context.Context, a *wire.JobAssignment, pluginVersion int, router *sink.Router, batches []protocol.Batch) (*ResultSummary, error) {
	resolved := make([]sink.Config, len(batches))
	for i, b := range batches {
		c, err := router.Resolve(b.Output)
		if err != nil {
			return nil, err
		}
		resolved[i] = c
	}

	summary := &ResultSummary{Outputs: len(batches)}
	processedAt := time.Now().UTC().Format(time.RFC3339Nano)

	for i, b := range batches {
		cfg := resolved[i]
		writer, err := sink.NewWriter(cfg.URI.Kind)
		if err != nil {
			return nil, err
		}

		kept := make([]map[string]any, 0, len(b.Rows))
		for rowIdx, row := range b.Rows {
			if violation := cfg.Schema.Validate(row); violation != nil {
				if qerr := e.divertRow(ctx, a, b.Output, rowIdx, row, violation); qerr != nil {
					return nil, fmt.Errorf("quarantine row %d of output %q: %w", rowIdx, b.Output, qerr)
				}
				summary.RowsQuarantined++
				continue
			}
			kept = append(kept, e.stampRow(a, pluginVersion, processedAt, row))
		}

		if len(kept) == 0 {
			continue
		}
		err = writer.Write(ctx, cfg.URI.Destination, sink.WriteRequest{
			JobID:   a.JobID,
			Attempt: a.RetryCount,
			Output:  b.Output,
			Rows:    kept,
		})
		if err != nil {
			return nil, fmt.Errorf("write output %q to %s: %w", b.Output, cfg.URI, err)
		}
		summary.RowsWritten += len(kept)
	}
	return summary, nil
}

// stampRow injects the write-time metadata fields. The plugin never sets
// these; a fresh row id is minted only if the plugin did not carry one.
func (e *Engine) stampRow(a *wire.JobAssignment, pluginVersion int, processedAt string, row map[string]any) map[string]any {
	out := make(map[string]any, len(row)+5)
	for k, v := range row {
		out[k] = v
	}
	if id, ok := out[schema.FieldRowID].(string); !ok || id == "" {
		out[schema.FieldRowID] = uuid.NewString()
	}
	out[schema.FieldSourceHash] = a.SourceHash
	out[schema.FieldJobID] = a.JobID
	out[schema.FieldProcessedAt] = processedAt
	out[schema.FieldPluginVersion] = pluginVersion
	return out
}

func (e *Engine) divertRow(ctx context.Context, a *wire.JobAssignment, output string, rowIdx int, row map[string]any, violation *schema.Violation) error {
	sourceIdx := -1
	if v, ok := row[protocol.SourceRowField]; ok {
		switch n := v.(type) {
		case float64:
			sourceIdx = int(n)
		case int:
			sourceIdx = n
		}
	}

	original, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("serialize original row: %w", err)
	}

	return e.quarantine.Divert(ctx, sink.QuarantineRow{
		JobID:          a.JobID,
		Plugin:         a.Plugin,
		Output:         output,
		SourceRowIndex: sourceIdx,
		OutputRowIndex: rowIdx,
		Violation:      violation.Type,
		Message:        violation.Message,
		Row:            original,
	})
}

func (e *Engine) materializeSource(plugin string, version int, source string) (string, func(), error) {
	dir, err := os.MkdirTemp(e.cfg.WorkDir, "casparian-job-")
	if err != nil {
		return "", nil, fmt.Errorf("create job directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-v%d.plugin", plugin, version))
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		os.RemoveAll(dir)
		return "", nil, fmt.Errorf("write plugin source: %w", err)
	}
	return path, func() { os.RemoveAll(dir) }, nil
}

func (e *Engine) failJob(ctx context.Context, jobID, msg string, logger *slog.Logger) {
	logger.Error("job failed", "error", msg)
	if err := e.client.Report(ctx, jobID, queue.StatusFailed, nil, &msg); err != nil {
		logger.Error("failed to report job failure", "error", err)
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func wireNotRegistered(err error) bool {
	return errors.Is(err, wire.ErrNotRegistered)
}
