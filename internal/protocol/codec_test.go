package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestEncodeRequestRoundTrip(t *testing.T) {
	t.Parallel()

	req := &Request{
		Protocol:      1,
		JobID:         "job-1",
		FilePath:      "/data/feed.hl7",
		SourceHash:    "abc123",
		PluginVersion: 2,
		Config:        map[string]any{"delimiter": "|"},
		DeadlineAt:    time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	if err := EncodeRequest(&buf, req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := buf.String()
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("encoded request is not newline-terminated")
	}
	for _, want := range []string{`"protocol":1`, `"job_id":"job-1"`, `"plugin_version":2`} {
		if !strings.Contains(out, want) {
			t.Fatalf("encoded request missing %s: %s", want, out)
		}
	}
}

func TestEncodeRequestRejectsUnknownProtocol(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := EncodeRequest(&buf, &Request{Protocol: 2, JobID: "j"})
	if err == nil {
		t.Fatalf("protocol 2 accepted")
	}
}

func TestDecodeResponse(t *testing.T) {
	t.Parallel()

	in := `{"status":"ok","batches":[{"output":"patients","rows":[{"patient_id":"P1"}]}],"logs":[{"level":"info","message":"parsed 1"}]}`
	resp, err := DecodeResponse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || len(resp.Batches) != 1 || len(resp.Logs) != 1 {
		t.Fatalf("decoded: %#v", resp)
	}
	if resp.Batches[0].Output != "patients" || resp.Batches[0].Rows[0]["patient_id"] != "P1" {
		t.Fatalf("batch: %#v", resp.Batches[0])
	}
}

func TestDecodeResponseRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown field":   `{"status":"ok","extra":1}`,
		"missing status":  `{"batches":[]}`,
		"bad status":      `{"status":"done"}`,
		"error no detail": `{"status":"error"}`,
		"unnamed batch":   `{"status":"ok","batches":[{"output":"","rows":[]}]}`,
		"not json":        `MSH|^~\&|`,
	}
	for name, in := range cases {
		if _, err := DecodeResponse(strings.NewReader(in)); err == nil {
			t.Fatalf("%s: decode succeeded for %s", name, in)
		}
	}
}

func TestDecodeResponseLenient(t *testing.T) {
	t.Parallel()

	// Lenient decode tolerates unknown fields and returns them with the raw
	// bytes for diagnostics.
	in := `{"status":"ok","debug":"extra"}`
	resp, raw, err := DecodeResponseLenient(strings.NewReader(in))
	if err != nil {
		t.Fatalf("lenient decode: %v", err)
	}
	if resp.Status != "ok" || string(raw) != in {
		t.Fatalf("lenient result: %#v %q", resp, raw)
	}

	_, raw, err = DecodeResponseLenient(strings.NewReader("not json at all"))
	if err == nil {
		t.Fatalf("garbage accepted")
	}
	if len(raw) == 0 {
		t.Fatalf("raw bytes not returned for diagnostics")
	}

	_, _, err = DecodeResponseLenient(strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "no output") {
		t.Fatalf("empty stdout: %v", err)
	}
}
