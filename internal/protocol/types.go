package protocol

import "time"

// Version is the protocol revision spoken on the request envelope.
const Version = 1

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ErrorMarkerField is the per-row extraction failure marker. Plugins set it to
// a non-null string when a row could not be extracted cleanly; the schema
// validator quarantines such rows before any structural checks run.
const ErrorMarkerField = "_error"

// SourceRowField, when present on an output row, carries the index of the
// input row the plugin derived it from. It is optional and informational;
// quarantine records preserve it for diagnostics.
const SourceRowField = "_source_row"

// Request is the envelope sent to a plugin process via stdin.
type Request struct {
	Protocol      int            `json:"protocol"`
	JobID         string         `json:"job_id"`
	FilePath      string         `json:"file_path"`
	SourceHash    string         `json:"source_hash"`
	PluginVersion int            `json:"plugin_version"`
	Config        map[string]any `json:"config,omitempty"`
	DeadlineAt    time.Time      `json:"deadline_at"`
}

// Response is the envelope received from a plugin process via stdout.
type Response struct {
	Status  string     `json:"status"` // ok | error
	Error   string     `json:"error,omitempty"`
	Batches []Batch    `json:"batches,omitempty"`
	Logs    []LogEntry `json:"logs,omitempty"`
}

// Batch is one named output stream produced by a plugin run. A single job may
// produce zero or more batches, each under its own output name.
type Batch struct {
	Output string           `json:"output"`
	Rows   []map[string]any `json:"rows"`
}

// LogEntry is a log message relayed from a plugin.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}
