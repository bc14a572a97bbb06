package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sl224/casparianflow-sub011/internal/queue"
	"github.com/sl224/casparianflow-sub011/internal/registry"
	"github.com/sl224/casparianflow-sub011/internal/schema"
	"github.com/sl224/casparianflow-sub011/internal/sink"
	"github.com/sl224/casparianflow-sub011/internal/wire"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}
	workers, err := s.queue.ListWorkers(r.Context())
	if err != nil {
		s.logger.Error("failed to list workers", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list workers")
		return
	}

	s.writeJSON(w, http.StatusOK, wire.HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    depth,
		Workers:       len(workers),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req wire.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.queue.RegisterWorker(r.Context(), queue.Worker{
		Host:         req.Host,
		PID:          req.PID,
		Addr:         req.Addr,
		EnvSignature: req.EnvSignature,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("worker registered", "worker", req.Host, "pid", req.PID, "env_signature", req.EnvSignature)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")

	var req wire.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.queue.Heartbeat(r.Context(), host, req.Status); err != nil {
		if errors.Is(err, queue.ErrWorkerNotFound) {
			// The worker was swept or never registered; it should handshake again.
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")

	var req wire.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job, err := s.queue.Claim(r.Context(), host, req.PID)
	if err != nil {
		if errors.Is(err, queue.ErrWorkerNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("claim failed", "worker", host, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	version, err := s.catalog.GetVersion(r.Context(), job.FileVersionID)
	if err != nil {
		// The job references a version the catalog no longer resolves; fail it
		// deterministically rather than hand the worker a dangling path.
		msg := fmt.Sprintf("file version %s unresolvable: %v", job.FileVersionID, err)
		s.logger.Error("failing job with unresolvable file version", "job_id", job.ID, "error", err)
		if rerr := s.queue.Report(r.Context(), job.ID, host, queue.StatusFailed, nil, &msg); rerr != nil {
			s.logger.Error("failed to fail job", "job_id", job.ID, "error", rerr)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.logger.Info("job claimed", "job_id", job.ID, "worker", host, "plugin", job.Plugin)
	s.writeJSON(w, http.StatusOK, wire.JobAssignment{
		JobID:         job.ID,
		FileVersionID: job.FileVersionID,
		FilePath:      version.Path,
		SourceHash:    version.ContentHash,
		Topic:         job.Topic,
		Plugin:        job.Plugin,
		Config:        job.Config,
		RetryCount:    job.RetryCount,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var req wire.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	status := queue.Status(req.Status)
	if status != queue.StatusCompleted && status != queue.StatusFailed {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid report status %q", req.Status))
		return
	}

	err := s.queue.Report(r.Context(), jobID, req.WorkerHost, status, req.Result, req.Error)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolveActive(w http.ResponseWriter, r *http.Request) {
	plugin := chi.URLParam(r, "plugin")

	m, err := s.registry.ResolveActive(r.Context(), plugin)
	if err != nil {
		if errors.Is(err, registry.ErrNoActiveVersion) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, wire.ViewManifest(m))
}

func (s *Server) handlePluginSinks(w http.ResponseWriter, r *http.Request) {
	plugin := chi.URLParam(r, "plugin")

	configs, err := s.sinks.ForPlugin(r.Context(), plugin)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]wire.SinkView, 0, len(configs))
	for _, c := range configs {
		views = append(views, wire.ViewSink(c))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleObserveFile(w http.ResponseWriter, r *http.Request) {
	var req wire.ObserveFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	version, err := s.catalog.RecordObservation(r.Context(), req.Path, req.ContentHash, req.Size, req.ModifiedAt)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("file observation recorded", "path", req.Path, "file_version_id", version.ID)
	s.writeJSON(w, http.StatusCreated, wire.ObserveFileResponse{
		FileVersionID: version.ID,
		ContentHash:   version.ContentHash,
	})
}

func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req wire.EnqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	jobID, err := s.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		FileVersionID: req.FileVersionID,
		Topic:         req.Topic,
		Plugin:        req.Plugin,
		Config:        req.Config,
		Priority:      req.Priority,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("job enqueued", "job_id", jobID, "plugin", req.Plugin, "topic", req.Topic)
	s.writeJSON(w, http.StatusCreated, wire.EnqueueJobResponse{JobID: jobID})
}

func (s *Server) handlePublishPlugin(w http.ResponseWriter, r *http.Request) {
	var req wire.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	m, err := s.registry.Publish(r.Context(), req.Plugin, req.Version, req.Source, registry.PublishOptions{
		EnvSignature: req.EnvSignature,
		Signature:    req.Signature,
		Publisher:    req.Publisher,
	})
	if err != nil {
		if errors.Is(err, registry.ErrDuplicateSource) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("plugin published", "plugin", m.Plugin, "version", m.Version, "source_hash", m.SourceHash)
	s.writeJSON(w, http.StatusCreated, wire.ViewManifest(m))
}

func (s *Server) handleValidatePlugin(w http.ResponseWriter, r *http.Request) {
	plugin := chi.URLParam(r, "plugin")
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "version must be an integer")
		return
	}
	if s.checker == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no plugin checker configured")
		return
	}

	resp := wire.ValidateResponse{Plugin: plugin, Version: version}
	if verr := s.registry.Validate(r.Context(), plugin, version, s.checker); verr != nil {
		if errors.Is(verr, registry.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, verr.Error())
			return
		}
		resp.Status = string(registry.StatusRejected)
		resp.Error = verr.Error()
		s.logger.Warn("plugin validation failed", "plugin", plugin, "version", version, "error", verr)
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Status = string(registry.StatusActive)
	s.logger.Info("plugin validated", "plugin", plugin, "version", version)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePutSink(w http.ResponseWriter, r *http.Request) {
	plugin := chi.URLParam(r, "plugin")

	var req wire.SinkPutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	uri, err := sink.ParseURI(req.URI)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := sink.Config{
		Plugin:    plugin,
		Output:    req.Output,
		URI:       uri,
		WriteMode: req.WriteMode,
	}
	if len(req.Schema) > 0 {
		var sc schema.Schema
		if err := json.Unmarshal(req.Schema, &sc); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid schema: %v", err))
			return
		}
		cfg.Schema = &sc
	}

	if err := s.sinks.Put(r.Context(), cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("sink rule set", "plugin", plugin, "output", req.Output, "uri", req.URI)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	f := queue.Filter{Topic: r.URL.Query().Get("topic")}

	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, queue.Status(strings.TrimSpace(part)))
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	jobs, err := s.queue.List(r.Context(), f)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]wire.JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, wire.ViewJob(j))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, wire.ViewJob(job))
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.queue.Retry(r.Context(), jobID); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.logger.Info("job retried", "job_id", jobID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.RetryAll(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("retried all failed jobs", "count", n)
	s.writeJSON(w, http.StatusOK, wire.RetryAllResponse{Retried: n})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.queue.Cancel(r.Context(), jobID); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.logger.Info("job cancelled", "job_id", jobID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.queue.ListWorkers(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]wire.WorkerView, 0, len(workers))
	for _, wk := range workers {
		views = append(views, wire.ViewWorker(wk))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.queue.GetWorker(r.Context(), chi.URLParam(r, "host"))
	if err != nil {
		if errors.Is(err, queue.ErrWorkerNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, wire.ViewWorker(worker))
}

func (s *Server) handleDrainWorker(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	if err := s.queue.DrainWorker(r.Context(), host); err != nil {
		if errors.Is(err, queue.ErrWorkerNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("worker draining", "worker", host)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveWorker(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	force := r.URL.Query().Get("force") == "true"

	if err := s.queue.RemoveWorker(r.Context(), host, force); err != nil {
		switch {
		case errors.Is(err, queue.ErrWorkerNotFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, queue.ErrWorkerBusy):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.logger.Info("worker removed", "worker", host, "force", force)
	w.WriteHeader(http.StatusNoContent)
}

// writeActionError maps operator action failures to HTTP codes.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	var transition *queue.InvalidTransitionError
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &transition):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, wire.ErrorResponse{Error: msg})
}
