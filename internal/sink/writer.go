package sink

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/sl224/casparianflow-sub011/internal/schema"
)

// WriteRequest carries one validated batch destined for a single sink.
type WriteRequest struct {
	JobID   string
	Attempt int
	Output  string
	Rows    []map[string]any
}

// Writer persists validated rows to a destination. Writes are at-least-once:
// a retried job may write again, and each kind documents its own dedup
// posture (see kind constants).
type Writer interface {
	Write(ctx context.Context, dest string, req WriteRequest) error
}

// NewWriter returns the writer implementation for a sink kind.
func NewWriter(kind Kind) (Writer, error) {
	switch kind {
	case KindColumnarFile:
		return &columnarFileWriter{}, nil
	case KindEmbeddedDatabase:
		return &embeddedDatabaseWriter{}, nil
	case KindDelimitedText:
		return &delimitedTextWriter{}, nil
	}
	return nil, fmt.Errorf("no writer for sink kind %q", kind)
}

// columnarFileWriter writes one column-oriented JSON file per job run into
// the destination directory. The file name carries the job id and attempt, so
// a retry adds a new file and never corrupts a previous one.
type columnarFileWriter struct{}

func (w *columnarFileWriter) Write(ctx context.Context, dest string, req WriteRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create columnar sink directory: %w", err)
	}

	names := columnNames(req.Rows)
	columns := make(map[string][]any, len(names))
	for _, name := range names {
		col := make([]any, len(req.Rows))
		for i, row := range req.Rows {
			col[i] = row[name]
		}
		columns[name] = col
	}

	doc := map[string]any{
		"output":   req.Output,
		"job_id":   req.JobID,
		"attempt":  req.Attempt,
		"num_rows": len(req.Rows),
		"columns":  columns,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode columnar file: %w", err)
	}

	name := fmt.Sprintf("%s-%s-a%d.json", req.Output, req.JobID, req.Attempt)
	path := filepath.Join(dest, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write columnar file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish columnar file: %w", err)
	}
	return nil
}

// embeddedDatabaseWriter upserts rows into a SQLite file, one table per
// output, keyed on the worker-injected row id. Re-running a job replaces the
// same rows instead of duplicating them.
type embeddedDatabaseWriter struct{}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (w *embeddedDatabaseWriter) Write(ctx context.Context, dest string, req WriteRequest) error {
	if !tableNameRe.MatchString(req.Output) {
		return fmt.Errorf("output %q is not a valid table name", req.Output)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create sink database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dest)
	if err != nil {
		return fmt.Errorf("open sink database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %q (
  row_id  TEXT PRIMARY KEY,
  job_id  TEXT NOT NULL,
  data    JSON NOT NULL
);`, req.Output))
	if err != nil {
		return fmt.Errorf("create sink table %q: %w", req.Output, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %q (row_id, job_id, data)
VALUES(?, ?, ?)
ON CONFLICT(row_id) DO UPDATE SET job_id = excluded.job_id, data = excluded.data;
`, req.Output))
	if err != nil {
		return fmt.Errorf("prepare sink insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range req.Rows {
		rowID, _ := row[schema.FieldRowID].(string)
		if rowID == "" {
			return fmt.Errorf("row %d of output %q has no %s", i, req.Output, schema.FieldRowID)
		}
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode row %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, rowID, req.JobID, string(data)); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// delimitedTextWriter appends CSV rows to a single file, writing a header
// when it creates the file. Appends are plain: a retried job may duplicate
// rows, and consumers dedup on the row id column.
type delimitedTextWriter struct{}

func (w *delimitedTextWriter) Write(ctx context.Context, dest string, req WriteRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(req.Rows) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create sink directory: %w", err)
	}

	header, err := existingHeader(dest)
	if err != nil {
		return err
	}
	writeHeader := header == nil
	if header == nil {
		header = columnNames(req.Rows)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open delimited sink: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if writeHeader {
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for i, row := range req.Rows {
		record := make([]string, len(header))
		for j, name := range header {
			record[j] = formatCell(row[name])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush delimited sink: %w", err)
	}
	return nil
}

// existingHeader returns the first CSV record of dest, or nil if the file
// does not exist yet or is empty.
func existingHeader(dest string) ([]string, error) {
	f, err := os.Open(dest)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open delimited sink: %w", err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read delimited sink header: %w", err)
	}
	return header, nil
}

// columnNames returns the union of row keys in deterministic order.
func columnNames(rows []map[string]any) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for name := range row {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		s := fmt.Sprintf("%v", x)
		return s
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return strings.ReplaceAll(fmt.Sprintf("%v", x), "\n", " ")
		}
		return string(data)
	}
}
