package sink

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sl224/casparianflow-sub011/internal/schema"
	"github.com/sl224/casparianflow-sub011/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.Open(context.Background(), dbPath, storage.ModeReadWrite)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db.DB)
}

func TestStorePutAndLoadRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Put(ctx, Config{
		Plugin: "hl7_parser",
		Output: "patients",
		URI:    mustURI(t, "columnar-file:///out/patients"),
		Schema: &schema.Schema{
			Fields: []schema.Field{{Name: "patient_id", Type: schema.TypeString}},
			Strict: true,
		},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, Config{
		Plugin: "hl7_parser",
		Output: "*",
		URI:    mustURI(t, "delimited-text:///out/rest.csv"),
	}); err != nil {
		t.Fatalf("put wildcard: %v", err)
	}

	configs, err := s.ForPlugin(ctx, "hl7_parser")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("got %d configs, want 2", len(configs))
	}

	// Ordered by output name, so "*" sorts first.
	if configs[0].Output != "*" || configs[0].Schema != nil {
		t.Fatalf("wildcard config: %#v", configs[0])
	}
	patients := configs[1]
	if patients.URI.Kind != KindColumnarFile || patients.WriteMode != "append" {
		t.Fatalf("patients config: %#v", patients)
	}
	if patients.Schema == nil || !patients.Schema.Strict || len(patients.Schema.Fields) != 1 {
		t.Fatalf("patients schema: %#v", patients.Schema)
	}
}

func TestStorePutReplacesExistingRule(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, Config{Plugin: "p", Output: "a", URI: mustURI(t, "delimited-text:///v1.csv")}); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	if err := s.Put(ctx, Config{Plugin: "p", Output: "a", URI: mustURI(t, "embedded-database:///v2.db")}); err != nil {
		t.Fatalf("put v2: %v", err)
	}

	configs, err := s.ForPlugin(ctx, "p")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(configs) != 1 || configs[0].URI.Kind != KindEmbeddedDatabase {
		t.Fatalf("replaced config: %#v", configs)
	}
}

func TestStoreForPluginIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, Config{Plugin: "p1", Output: "a", URI: mustURI(t, "delimited-text:///a.csv")}); err != nil {
		t.Fatalf("put: %v", err)
	}

	configs, err := s.ForPlugin(ctx, "p2")
	if err != nil {
		t.Fatalf("load other plugin: %v", err)
	}
	if len(configs) != 0 {
		t.Fatalf("p2 sees p1 rules: %#v", configs)
	}
}
