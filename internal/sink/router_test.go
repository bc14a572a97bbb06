package sink

import (
	"errors"
	"strings"
	"testing"
)

func mustURI(t *testing.T, raw string) URI {
	t.Helper()
	u, err := ParseURI(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestRouterExactMatchWins(t *testing.T) {
	t.Parallel()

	r := NewRouter("hl7_parser", []Config{
		{Plugin: "hl7_parser", Output: "patients", URI: mustURI(t, "columnar-file:///out/patients")},
		{Plugin: "hl7_parser", Output: "*", URI: mustURI(t, "delimited-text:///out/rest.csv")},
	})

	c, err := r.Resolve("patients")
	if err != nil {
		t.Fatalf("resolve patients: %v", err)
	}
	if c.URI.Kind != KindColumnarFile {
		t.Fatalf("patients routed to %s", c.URI)
	}

	c, err = r.Resolve("diagnoses")
	if err != nil {
		t.Fatalf("resolve diagnoses: %v", err)
	}
	if c.URI.Kind != KindDelimitedText {
		t.Fatalf("diagnoses missed the default: %s", c.URI)
	}
}

func TestRouterLoneWildcardCoversEverything(t *testing.T) {
	t.Parallel()

	r := NewRouter("csv_extract", []Config{
		{Plugin: "csv_extract", Output: "*", URI: mustURI(t, "embedded-database:///out/all.db")},
	})

	for _, out := range []string{"rows", "anything"} {
		c, err := r.Resolve(out)
		if err != nil {
			t.Fatalf("resolve %q against lone wildcard: %v", out, err)
		}
		if c.URI.Kind != KindEmbeddedDatabase {
			t.Fatalf("output %q routed to %s", out, c.URI)
		}
	}
}

func TestRouterUnroutedOutputNamesTheOutput(t *testing.T) {
	t.Parallel()

	r := NewRouter("hl7_parser", []Config{
		{Plugin: "hl7_parser", Output: "a", URI: mustURI(t, "columnar-file:///out/a")},
		{Plugin: "hl7_parser", Output: "b", URI: mustURI(t, "columnar-file:///out/b")},
	})

	if _, err := r.Resolve("a"); err != nil {
		t.Fatalf("resolve a: %v", err)
	}
	_, err := r.Resolve("c")
	var unrouted *UnroutedOutputError
	if !errors.As(err, &unrouted) {
		t.Fatalf("resolve c: %v", err)
	}
	if unrouted.Output != "c" || unrouted.Plugin != "hl7_parser" {
		t.Fatalf("unrouted error fields: %#v", unrouted)
	}
	if !strings.Contains(err.Error(), `"c"`) {
		t.Fatalf("error message does not name the output: %v", err)
	}
}

func TestRouterNoRulesAtAll(t *testing.T) {
	t.Parallel()

	r := NewRouter("p", nil)
	_, err := r.Resolve("x")
	var unrouted *UnroutedOutputError
	if !errors.As(err, &unrouted) {
		t.Fatalf("resolve with no rules: %v", err)
	}
}

func TestParseURI(t *testing.T) {
	t.Parallel()

	u, err := ParseURI("embedded-database:///var/lib/sink.db")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Kind != KindEmbeddedDatabase || u.Destination != "/var/lib/sink.db" {
		t.Fatalf("parsed: %#v", u)
	}
	if u.String() != "embedded-database:///var/lib/sink.db" {
		t.Fatalf("round-trip: %s", u.String())
	}

	for _, bad := range []string{"", "no-scheme", "s3://bucket/key", "columnar-file://"} {
		if _, err := ParseURI(bad); err == nil {
			t.Fatalf("parse %q succeeded", bad)
		}
	}
}
