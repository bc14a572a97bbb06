// Package e2e exercises the full pipeline with real subprocess plugins: a
// coordinator over HTTP, a worker engine, and shell plugins speaking the
// stdin/stdout protocol.
package e2e

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sl224/casparianflow-sub011/internal/catalog"
	"github.com/sl224/casparianflow-sub011/internal/coordinator"
	"github.com/sl224/casparianflow-sub011/internal/queue"
	"github.com/sl224/casparianflow-sub011/internal/registry"
	"github.com/sl224/casparianflow-sub011/internal/sink"
	"github.com/sl224/casparianflow-sub011/internal/storage"
	"github.com/sl224/casparianflow-sub011/internal/wire"
	"github.com/sl224/casparianflow-sub011/internal/worker"
)

// hl7ParserSource is a shell plugin standing in for a Python HL7 parser. It
// drains the request from stdin and emits two output batches: two clean
// patient rows plus one with the extraction failure marker, and three
// diagnosis rows.
const hl7ParserSource = `#!/bin/sh
cat > /dev/null
cat <<'RESPONSE'
{
  "status": "ok",
  "batches": [
    {
      "output": "patients",
      "rows": [
        {"patient_id": "P001", "name": "DOE^JANE", "_source_row": 0},
        {"patient_id": "P002", "name": "ROE^RICHARD", "_source_row": 1},
        {"_error": "PID segment truncated", "_source_row": 2}
      ]
    },
    {
      "output": "diagnoses",
      "rows": [
        {"patient_id": "P001", "code": "I10", "_source_row": 0},
        {"patient_id": "P001", "code": "E11.9", "_source_row": 0},
        {"patient_id": "P002", "code": "J45.909", "_source_row": 1}
      ]
    }
  ],
  "logs": [{"level": "info", "message": "parsed 3 messages"}]
}
RESPONSE
`

const failingParserSource = `#!/bin/sh
cat > /dev/null
echo '{"status": "error", "error": "unsupported HL7 version 2.9"}'
`

type pipeline struct {
	queue    *queue.Queue
	operator *wire.OperatorClient
	baseURL  string
}

func startPipeline(t *testing.T) *pipeline {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell plugins require a POSIX shell")
	}

	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.Open(context.Background(), dbPath, storage.ModeReadWrite)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	q := queue.New(db.DB)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv := coordinator.New(coordinator.Config{
		Listen:         "127.0.0.1:0",
		StaleThreshold: 30 * time.Second,
		SweepInterval:  10 * time.Second,
	}, q, catalog.New(db.DB), registry.New(db.DB), sink.NewStore(db.DB),
		&worker.CommandChecker{Argv: []string{"/bin/sh", "-n"}}, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &pipeline{
		queue:    q,
		operator: wire.NewOperatorClient(ts.URL),
		baseURL:  ts.URL,
	}
}

// startWorker runs a worker engine against the pipeline until the test ends.
func (p *pipeline) startWorker(t *testing.T, host string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	engine := worker.New(worker.Config{
		Host:              host,
		PID:               os.Getpid(),
		EnvSignature:      "e2e-env",
		Interpreter:       []string{"/bin/sh"},
		WorkDir:           t.TempDir(),
		QuarantineDir:     filepath.Join(t.TempDir(), "quarantine"),
		HeartbeatInterval: 100 * time.Millisecond,
		ClaimBackoffMin:   20 * time.Millisecond,
		ClaimBackoffMax:   100 * time.Millisecond,
		JobTimeout:        10 * time.Second,
	}, wire.NewClient(p.baseURL, host), worker.NewSubprocessRunner(logger))

	go func() { _ = engine.Run(ctx) }()
}

func (p *pipeline) deployPlugin(t *testing.T, name, source string) {
	t.Helper()
	ctx := context.Background()

	if _, err := p.operator.Publish(ctx, wire.PublishRequest{
		Plugin:       name,
		Version:      1,
		Source:       source,
		EnvSignature: "e2e-env",
	}); err != nil {
		t.Fatalf("publish %s: %v", name, err)
	}
	resp, err := p.operator.Validate(ctx, name, 1)
	if err != nil {
		t.Fatalf("validate %s: %v", name, err)
	}
	if resp.Status != "active" {
		t.Fatalf("plugin %s not active after validation: %+v", name, resp)
	}
}

func (p *pipeline) submitFile(t *testing.T, content, pluginName, topic string) string {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "feed.hl7")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write input file: %v", err)
	}
	hash, err := catalog.HashFile(path)
	if err != nil {
		t.Fatalf("hash input file: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat input file: %v", err)
	}

	obs, err := p.operator.ObserveFile(ctx, wire.ObserveFileRequest{
		Path:        path,
		ContentHash: hash,
		Size:        info.Size(),
		ModifiedAt:  info.ModTime().UTC(),
	})
	if err != nil {
		t.Fatalf("observe file: %v", err)
	}

	jobID, err := p.operator.EnqueueJob(ctx, wire.EnqueueJobRequest{
		FileVersionID: obs.FileVersionID,
		Topic:         topic,
		Plugin:        pluginName,
	})
	if err != nil {
		t.Fatalf("enqueue job: %v", err)
	}
	return jobID
}

func waitForStatus(t *testing.T, q *queue.Queue, jobID string, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		j, err := q.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if j.Status == want {
			return j
		}
		if j.Status.Terminal() {
			errText := ""
			if j.LastError != nil {
				errText = *j.LastError
			}
			t.Fatalf("job reached %q instead of %q: %s", j.Status, want, errText)
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach %q in time", jobID, want)
	return nil
}

func TestHL7ParserPipeline(t *testing.T) {
	p := startPipeline(t)
	ctx := context.Background()

	p.deployPlugin(t, "hl7_parser", hl7ParserSource)

	patientsDir := filepath.Join(t.TempDir(), "patients")
	diagnosesDB := filepath.Join(t.TempDir(), "diagnoses.db")

	if err := p.operator.PutSink(ctx, "hl7_parser", wire.SinkPutRequest{
		Output: "patients",
		URI:    "columnar-file://" + patientsDir,
		Schema: []byte(`{"fields":[{"name":"patient_id","type":"string"},{"name":"name","type":"string"}],"strict":true}`),
	}); err != nil {
		t.Fatalf("put patients sink: %v", err)
	}
	if err := p.operator.PutSink(ctx, "hl7_parser", wire.SinkPutRequest{
		Output: "diagnoses",
		URI:    "embedded-database://" + diagnosesDB,
	}); err != nil {
		t.Fatalf("put diagnoses sink: %v", err)
	}

	jobID := p.submitFile(t, "MSH|^~\\&|LAB|HOSP|...\nPID|1||P001\n", "hl7_parser", "adt")
	p.startWorker(t, "e2e-worker")

	job := waitForStatus(t, p.queue, jobID, queue.StatusCompleted)

	// Completion report counts written and quarantined rows.
	if job.Result == nil {
		t.Fatalf("completed job has no result")
	}
	var summary struct {
		Outputs         int `json:"outputs"`
		RowsWritten     int `json:"rows_written"`
		RowsQuarantined int `json:"rows_quarantined"`
	}
	if err := json.Unmarshal([]byte(*job.Result), &summary); err != nil {
		t.Fatalf("decode result summary: %v", err)
	}
	if summary.Outputs != 2 || summary.RowsWritten != 5 || summary.RowsQuarantined != 1 {
		t.Fatalf("result summary: %+v", summary)
	}

	// One columnar file per job run, holding the two clean patient rows.
	entries, err := os.ReadDir(patientsDir)
	if err != nil {
		t.Fatalf("read patients dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d columnar files, want 1", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(patientsDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read columnar file: %v", err)
	}
	var doc struct {
		NumRows int              `json:"num_rows"`
		Columns map[string][]any `json:"columns"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode columnar file: %v", err)
	}
	if doc.NumRows != 2 {
		t.Fatalf("columnar rows %d, want 2 (one row quarantined)", doc.NumRows)
	}
	if got := doc.Columns["patient_id"]; len(got) != 2 || got[0] != "P001" || got[1] != "P002" {
		t.Fatalf("patient_id column: %#v", got)
	}

	// Three diagnosis rows in the embedded database.
	sdb, err := sql.Open("sqlite", diagnosesDB)
	if err != nil {
		t.Fatalf("open diagnoses db: %v", err)
	}
	defer sdb.Close()
	var n int
	if err := sdb.QueryRow(`SELECT COUNT(*) FROM "diagnoses";`).Scan(&n); err != nil {
		t.Fatalf("count diagnoses: %v", err)
	}
	if n != 3 {
		t.Fatalf("got %d diagnosis rows, want 3", n)
	}
	var payload string
	if err := sdb.QueryRow(`SELECT data FROM "diagnoses" WHERE json_extract(data, '$.code') = 'I10';`).Scan(&payload); err != nil {
		t.Fatalf("select I10: %v", err)
	}
	var row map[string]any
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		t.Fatalf("decode diagnosis row: %v", err)
	}
	if row["_job_id"] != jobID || row["_plugin_version"] != float64(1) {
		t.Fatalf("stamped metadata: %#v", row)
	}
}

func TestFailingPluginMarksJobFailed(t *testing.T) {
	p := startPipeline(t)
	ctx := context.Background()

	p.deployPlugin(t, "bad_parser", failingParserSource)
	if err := p.operator.PutSink(ctx, "bad_parser", wire.SinkPutRequest{
		Output: "*",
		URI:    "delimited-text://" + filepath.Join(t.TempDir(), "out.csv"),
	}); err != nil {
		t.Fatalf("put sink: %v", err)
	}

	jobID := p.submitFile(t, "MSH|...\n", "bad_parser", "")
	p.startWorker(t, "e2e-worker-2")

	job := waitForStatus(t, p.queue, jobID, queue.StatusFailed)
	if job.LastError == nil || *job.LastError != "unsupported HL7 version 2.9" {
		t.Fatalf("failed job error: %#v", job.LastError)
	}

	// The operator retries; the same plugin fails again deterministically.
	if err := p.operator.RetryJob(ctx, jobID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	job = waitForStatus(t, p.queue, jobID, queue.StatusFailed)
	if job.RetryCount != 1 {
		t.Fatalf("retry count %d, want 1", job.RetryCount)
	}
}

func TestRejectedPluginNeverRuns(t *testing.T) {
	p := startPipeline(t)
	ctx := context.Background()

	// Broken shell syntax fails the sh -n contract check.
	if _, err := p.operator.Publish(ctx, wire.PublishRequest{
		Plugin:  "broken",
		Version: 1,
		Source:  "#!/bin/sh\nif then fi (\n",
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	resp, err := p.operator.Validate(ctx, "broken", 1)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if resp.Status != "rejected" || resp.Error == "" {
		t.Fatalf("validation of broken source: %+v", resp)
	}

	jobID := p.submitFile(t, "data\n", "broken", "")
	p.startWorker(t, "e2e-worker-3")

	job := waitForStatus(t, p.queue, jobID, queue.StatusFailed)
	if job.LastError == nil {
		t.Fatalf("job failed without error text")
	}
}
