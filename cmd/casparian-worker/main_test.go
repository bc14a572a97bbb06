package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sl224/casparianflow-sub011/internal/config"
	"github.com/sl224/casparianflow-sub011/internal/registry"
)

func TestResolveEnvSignatureFromFile(t *testing.T) {
	t.Parallel()

	lock := filepath.Join(t.TempDir(), "requirements.lock")
	if err := os.WriteFile(lock, []byte("hl7apy==1.3.4\nblake3==0.4.1\n"), 0o644); err != nil {
		t.Fatalf("write lock file: %v", err)
	}

	sig, err := resolveEnvSignature(config.WorkerConfig{
		Interpreter:      []string{"python3"},
		EnvSignatureFile: lock,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := registry.EnvSignature("hl7apy==1.3.4\nblake3==0.4.1")
	if sig != want {
		t.Fatalf("signature %q, want file-derived %q", sig, want)
	}
}

func TestResolveEnvSignatureWithoutFileSignsInterpreter(t *testing.T) {
	t.Parallel()

	w := config.WorkerConfig{Interpreter: []string{"python3", "-B"}}
	sig, err := resolveEnvSignature(w)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sig == "" {
		t.Fatal("default worker has no signature to register with")
	}

	again, err := resolveEnvSignature(w)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if again != sig {
		t.Fatalf("signature not stable: %q vs %q", sig, again)
	}

	other, err := resolveEnvSignature(config.WorkerConfig{Interpreter: []string{"python2"}})
	if err != nil {
		t.Fatalf("resolve other: %v", err)
	}
	if other == sig {
		t.Fatal("different interpreters share a signature")
	}
}

func TestResolveEnvSignatureMissingFile(t *testing.T) {
	t.Parallel()

	_, err := resolveEnvSignature(config.WorkerConfig{
		Interpreter:      []string{"python3"},
		EnvSignatureFile: filepath.Join(t.TempDir(), "nope.lock"),
	})
	if err == nil {
		t.Fatal("missing pinned dependency file accepted")
	}
}
