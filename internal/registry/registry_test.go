package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sl224/casparianflow-sub011/internal/storage"
)

// fakeChecker approves or rejects every source it sees.
type fakeChecker struct {
	err error
}

func (c *fakeChecker) Check(ctx context.Context, plugin, source string) error {
	return c.err
}

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.Open(context.Background(), dbPath, storage.ModeReadWrite)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db.DB)
}

func TestPublishStartsPending(t *testing.T) {
	t.Parallel()
	r := openTestRegistry(t)
	ctx := context.Background()

	m, err := r.Publish(ctx, "hl7_parser", 1, "def run(): pass", PublishOptions{
		EnvSignature: "envsig-1",
		Publisher:    "alice",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if m.Status != StatusPending {
		t.Fatalf("published status %q, want pending", m.Status)
	}
	if m.SourceHash != HashSource("def run(): pass") {
		t.Fatalf("source hash mismatch: %s", m.SourceHash)
	}

	got, err := r.GetVersion(ctx, "hl7_parser", 1)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if got.Publisher != "alice" || got.EnvSignature != "envsig-1" {
		t.Fatalf("stored manifest: %#v", got)
	}
}

func TestPublishRejectsDuplicateSource(t *testing.T) {
	t.Parallel()
	r := openTestRegistry(t)
	ctx := context.Background()

	src := "def run(): return 1"
	if _, err := r.Publish(ctx, "hl7_parser", 1, src, PublishOptions{}); err != nil {
		t.Fatalf("publish v1: %v", err)
	}

	// Same source under a new version number.
	_, err := r.Publish(ctx, "hl7_parser", 2, src, PublishOptions{})
	if !errors.Is(err, ErrDuplicateSource) {
		t.Fatalf("republish same source: %v, want ErrDuplicateSource", err)
	}
	if !strings.Contains(err.Error(), "hl7_parser v1") {
		t.Fatalf("duplicate error does not name the prior deployment: %v", err)
	}

	// Same source under a different plugin name.
	_, err = r.Publish(ctx, "other_parser", 1, src, PublishOptions{})
	if !errors.Is(err, ErrDuplicateSource) {
		t.Fatalf("republish under new name: %v, want ErrDuplicateSource", err)
	}

	// A real source change is fine.
	if _, err := r.Publish(ctx, "hl7_parser", 2, src+" # v2", PublishOptions{}); err != nil {
		t.Fatalf("publish changed source: %v", err)
	}
}

func TestValidateActivates(t *testing.T) {
	t.Parallel()
	r := openTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Publish(ctx, "p", 1, "src", PublishOptions{EnvSignature: "e"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if err := r.Validate(ctx, "p", 1, &fakeChecker{}); err != nil {
		t.Fatalf("validate: %v", err)
	}

	m, err := r.GetVersion(ctx, "p", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Status != StatusActive {
		t.Fatalf("status %q after validation, want active", m.Status)
	}
	if m.ArtifactHash == "" {
		t.Fatalf("active manifest has no artifact hash")
	}

	// A manifest validates at most once.
	if err := r.Validate(ctx, "p", 1, &fakeChecker{}); err == nil {
		t.Fatalf("re-validation of active manifest succeeded")
	}
}

func TestValidateRejectsAndKeepsError(t *testing.T) {
	t.Parallel()
	r := openTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Publish(ctx, "p", 1, "src", PublishOptions{}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	checkErr := fmt.Errorf("SyntaxError: line 3")
	err := r.Validate(ctx, "p", 1, &fakeChecker{err: checkErr})
	if err == nil || !strings.Contains(err.Error(), "SyntaxError") {
		t.Fatalf("validate with failing checker: %v", err)
	}

	m, _ := r.GetVersion(ctx, "p", 1)
	if m.Status != StatusRejected {
		t.Fatalf("status %q after failed validation, want rejected", m.Status)
	}
	if m.ValidateError != "SyntaxError: line 3" {
		t.Fatalf("validate error not retained: %q", m.ValidateError)
	}

	// Rejected versions never execute.
	if _, err := r.ResolveActive(ctx, "p"); !errors.Is(err, ErrNoActiveVersion) {
		t.Fatalf("resolve with only rejected version: %v", err)
	}
}

func TestResolveActivePicksNewest(t *testing.T) {
	t.Parallel()
	r := openTestRegistry(t)
	ctx := context.Background()

	for v := 1; v <= 3; v++ {
		src := fmt.Sprintf("src v%d", v)
		if _, err := r.Publish(ctx, "p", v, src, PublishOptions{}); err != nil {
			t.Fatalf("publish v%d: %v", v, err)
		}
	}
	// v1 and v2 pass validation; v3 stays pending.
	if err := r.Validate(ctx, "p", 1, &fakeChecker{}); err != nil {
		t.Fatalf("validate v1: %v", err)
	}
	if err := r.Validate(ctx, "p", 2, &fakeChecker{}); err != nil {
		t.Fatalf("validate v2: %v", err)
	}

	m, err := r.ResolveActive(ctx, "p")
	if err != nil {
		t.Fatalf("resolve active: %v", err)
	}
	if m.Version != 2 {
		t.Fatalf("resolved v%d, want v2 (newest active, not newest published)", m.Version)
	}
}

func TestResolveActiveUnknownPlugin(t *testing.T) {
	t.Parallel()
	r := openTestRegistry(t)

	_, err := r.ResolveActive(context.Background(), "nope")
	if !errors.Is(err, ErrNoActiveVersion) {
		t.Fatalf("resolve unknown plugin: %v", err)
	}
}

func TestListVersionsNewestFirst(t *testing.T) {
	t.Parallel()
	r := openTestRegistry(t)
	ctx := context.Background()

	for v := 1; v <= 3; v++ {
		if _, err := r.Publish(ctx, "p", v, fmt.Sprintf("s%d", v), PublishOptions{}); err != nil {
			t.Fatalf("publish v%d: %v", v, err)
		}
	}
	if _, err := r.Publish(ctx, "a_first", 1, "other", PublishOptions{}); err != nil {
		t.Fatalf("publish other: %v", err)
	}

	versions, err := r.ListVersions(ctx, "p")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 3 || versions[0].Version != 3 || versions[2].Version != 1 {
		t.Fatalf("versions order: %#v", versions)
	}

	all, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 4 || all[0].Plugin != "a_first" {
		t.Fatalf("all manifests: %#v", all)
	}
}

func TestEnvSignatureNormalization(t *testing.T) {
	t.Parallel()

	a := EnvSignature("requests==2.31.0\nblake3==0.4.1\n")
	b := EnvSignature("# pinned deps\nblake3==0.4.1\n\n  requests==2.31.0  \n")
	if a != b {
		t.Fatalf("cosmetic edits changed signature: %s vs %s", a, b)
	}

	c := EnvSignature("requests==2.32.0\nblake3==0.4.1\n")
	if a == c {
		t.Fatalf("pin change did not change signature")
	}
}
