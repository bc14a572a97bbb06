package worker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/sl224/casparianflow-sub011/internal/protocol"
)

const (
	// maxStderrBytes caps the amount of stderr captured from plugin execution.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// Runner executes plugin source in an isolated process. The worker never
// loads plugin code in-process; the subprocess boundary is the sandbox.
type Runner interface {
	Run(ctx context.Context, argv []string, req *protocol.Request, timeout time.Duration) (*protocol.Response, string, error)
}

// subprocessRunner spawns the plugin process, writes the request to stdin,
// and reads the response from stdout.
type subprocessRunner struct {
	logger *slog.Logger
}

// NewSubprocessRunner builds the standard Runner.
func NewSubprocessRunner(logger *slog.Logger) Runner {
	return &subprocessRunner{logger: logger}
}

func (r *subprocessRunner) Run(ctx context.Context, argv []string, req *protocol.Request, timeout time.Duration) (*protocol.Response, string, error) {
	if len(argv) == 0 {
		return nil, "", fmt.Errorf("empty plugin command")
	}

	// Manage termination ourselves instead of using CommandContext so the
	// plugin gets a SIGTERM grace window before SIGKILL.
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	cmd := exec.Command(argv[0], argv[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("spawning plugin", "argv", argv, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		r.logger.Warn("plugin execution timed out, sending SIGTERM")
		if cmd.Process != nil {
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				r.logger.Error("failed to send SIGTERM", "error", err)
			}
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()

		select {
		case <-waitErr:
			r.logger.Info("plugin exited after SIGTERM")
		case <-grace.C:
			r.logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
			if cmd.Process != nil {
				if err := cmd.Process.Kill(); err != nil {
					r.logger.Error("failed to send SIGKILL", "error", err)
				}
			}
			<-waitErr
		}

		return nil, truncateStderr(stderr.String()), context.DeadlineExceeded

	case err := <-waitErr:
		if werr := <-writeErr; werr != nil {
			return nil, truncateStderr(stderr.String()), werr
		}

		stderrStr := truncateStderr(stderr.String())

		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				r.logger.Warn("plugin exited with non-zero status", "exit_code", exitErr.ExitCode())
			} else {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
		}

		resp, rawBytes, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			r.logger.Error("failed to decode plugin response", "error", err, "stdout", string(rawBytes))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}

		return resp, stderrStr, nil
	}
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
