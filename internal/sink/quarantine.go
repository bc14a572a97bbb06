package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sl224/casparianflow-sub011/internal/schema"
)

// QuarantineRow is one diverted row with enough diagnostics to act on without
// consulting internal logs.
type QuarantineRow struct {
	JobID          string               `json:"job_id"`
	Plugin         string               `json:"plugin"`
	Output         string               `json:"output"`
	SourceRowIndex int                  `json:"source_row_index"`
	OutputRowIndex int                  `json:"output_row_index"`
	Violation      schema.ViolationType `json:"violation"`
	Message        string               `json:"message"`
	QuarantinedAt  time.Time            `json:"quarantined_at"`
	Row            json.RawMessage      `json:"row"`
}

// Quarantine appends diverted rows as NDJSON under a base directory, one file
// per (plugin, output). Quarantined rows are retained, never dropped.
type Quarantine struct {
	baseDir string
}

func NewQuarantine(baseDir string) *Quarantine {
	return &Quarantine{baseDir: baseDir}
}

// Divert records one row that failed row-level validation.
func (q *Quarantine) Divert(ctx context.Context, row QuarantineRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if row.QuarantinedAt.IsZero() {
		row.QuarantinedAt = time.Now().UTC()
	}

	dir := filepath.Join(q.baseDir, row.Plugin)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create quarantine directory: %w", err)
	}

	path := filepath.Join(dir, row.Output+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open quarantine file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(row); err != nil {
		return fmt.Errorf("append quarantine row: %w", err)
	}
	return nil
}
