package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sl224/casparianflow-sub011/internal/schema"
)

func TestQuarantineDivertAppendsNDJSON(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := t.TempDir()
	q := NewQuarantine(base)

	rows := []QuarantineRow{
		{
			JobID:          "job-1",
			Plugin:         "hl7_parser",
			Output:         "patients",
			SourceRowIndex: 3,
			OutputRowIndex: 0,
			Violation:      schema.ViolationNullField,
			Message:        `non-nullable field "patient_id" is missing or null`,
			Row:            json.RawMessage(`{"age":40}`),
		},
		{
			JobID:          "job-1",
			Plugin:         "hl7_parser",
			Output:         "patients",
			SourceRowIndex: 7,
			OutputRowIndex: 4,
			Violation:      schema.ViolationExtractionError,
			Message:        "plugin reported extraction failure",
			Row:            json.RawMessage(`{"_error":"bad segment"}`),
		},
	}
	for _, r := range rows {
		if err := q.Divert(ctx, r); err != nil {
			t.Fatalf("divert: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(base, "hl7_parser", "patients.ndjson"))
	if err != nil {
		t.Fatalf("open quarantine file: %v", err)
	}
	defer f.Close()

	var got []QuarantineRow
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r QuarantineRow
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		got = append(got, r)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d quarantined rows, want 2", len(got))
	}
	if got[0].SourceRowIndex != 3 || got[0].Violation != schema.ViolationNullField {
		t.Fatalf("first row: %#v", got[0])
	}
	if got[1].Violation != schema.ViolationExtractionError {
		t.Fatalf("second row: %#v", got[1])
	}
	for i, r := range got {
		if r.QuarantinedAt.IsZero() {
			t.Fatalf("row %d has no quarantine timestamp", i)
		}
		if len(r.Row) == 0 {
			t.Fatalf("row %d lost its payload", i)
		}
	}
}

func TestQuarantineSeparatesPluginAndOutput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := t.TempDir()
	q := NewQuarantine(base)

	for _, pair := range [][2]string{{"p1", "a"}, {"p1", "b"}, {"p2", "a"}} {
		err := q.Divert(ctx, QuarantineRow{
			JobID:     "j",
			Plugin:    pair[0],
			Output:    pair[1],
			Violation: schema.ViolationTypeMismatch,
			Row:       json.RawMessage(`{}`),
		})
		if err != nil {
			t.Fatalf("divert %v: %v", pair, err)
		}
	}

	for _, want := range []string{"p1/a.ndjson", "p1/b.ndjson", "p2/a.ndjson"} {
		if _, err := os.Stat(filepath.Join(base, want)); err != nil {
			t.Fatalf("missing quarantine file %s: %v", want, err)
		}
	}
}
