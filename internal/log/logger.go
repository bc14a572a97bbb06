// Package log owns the process-wide structured logger. Both daemons emit
// JSON records on stderr so stdout stays free for CLI output.
package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.Mutex
	root   *slog.Logger
	levelv slog.LevelVar
)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup configures the global logger at the given level. Unknown levels
// fall back to info. Calling Setup again only adjusts the level.
func Setup(level string) {
	mu.Lock()
	defer mu.Unlock()
	levelv.Set(parseLevel(level))
	if root == nil {
		root = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: &levelv}))
		slog.SetDefault(root)
	}
}

// Get returns the global logger, initializing it at info if Setup was
// never called.
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: &levelv}))
		slog.SetDefault(root)
	}
	return root
}

// WithComponent tags a logger with the subsystem that owns it.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithJob tags a logger with a job id.
func WithJob(id string) *slog.Logger {
	return Get().With(slog.String("job_id", id))
}

// WithWorker tags a logger with a worker host.
func WithWorker(host string) *slog.Logger {
	return Get().With(slog.String("worker", host))
}
