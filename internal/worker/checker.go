package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CommandChecker validates plugin source by materializing it to a temp file
// and running a check command against it (e.g. an interpreter's compile-only
// mode). It satisfies registry.Checker.
type CommandChecker struct {
	// Argv is the check command; the source file path is appended.
	Argv    []string
	Timeout time.Duration
}

func (c *CommandChecker) Check(ctx context.Context, plugin string, source string) error {
	if len(c.Argv) == 0 {
		return fmt.Errorf("check command is empty")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dir, err := os.MkdirTemp("", "casparian-check-")
	if err != nil {
		return fmt.Errorf("create check directory: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, plugin+".plugin")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return fmt.Errorf("materialize source: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := append(append([]string{}, c.Argv...), path)
	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("contract check failed: %s", msg)
	}
	return nil
}
