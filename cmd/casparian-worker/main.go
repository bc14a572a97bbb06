package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sl224/casparianflow-sub011/internal/config"
	"github.com/sl224/casparianflow-sub011/internal/log"
	"github.com/sl224/casparianflow-sub011/internal/registry"
	"github.com/sl224/casparianflow-sub011/internal/wire"
	"github.com/sl224/casparianflow-sub011/internal/worker"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("casparian-worker", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	coordURL := fs.String("coordinator", "", "Coordinator API URL (overrides config)")
	host := fs.String("host", "", "Worker identity (defaults to hostname)")
	interpreter := fs.String("interpreter", "", "Plugin interpreter command (overrides config, space separated)")
	envFile := fs.String("env-file", "", "Pinned dependency file for the environment signature (overrides config)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if *showVersion {
		fmt.Printf("casparian-worker %s (commit %s, built %s)\n", version, gitCommit, buildDate)
		return 0
	}

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if *coordURL != "" {
		cfg.Worker.Coordinator = *coordURL
	}
	if *interpreter != "" {
		cfg.Worker.Interpreter = strings.Fields(*interpreter)
	}
	if *envFile != "" {
		cfg.Worker.EnvSignatureFile = *envFile
	}
	if v := os.Getenv("CASPARIAN_COORDINATOR"); v != "" && *coordURL == "" {
		cfg.Worker.Coordinator = v
	}

	identity := cfg.Worker.Host
	if *host != "" {
		identity = *host
	}
	if identity == "" {
		hn, err := os.Hostname()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to determine hostname: %v\n", err)
			return 1
		}
		identity = hn
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("casparian worker starting",
		"version", version, "worker", identity, "coordinator", cfg.Worker.Coordinator)

	envSig, err := resolveEnvSignature(cfg.Worker)
	if err != nil {
		logger.Error("failed to derive environment signature", "path", cfg.Worker.EnvSignatureFile, "error", err)
		return 1
	}
	if cfg.Worker.EnvSignatureFile == "" {
		logger.Warn("no env_signature_file configured, signing the interpreter command instead",
			"env_signature", envSig)
	}

	engine := worker.New(worker.Config{
		Host:              identity,
		PID:               os.Getpid(),
		EnvSignature:      envSig,
		Interpreter:       cfg.Worker.Interpreter,
		WorkDir:           cfg.Worker.WorkDir,
		QuarantineDir:     cfg.Worker.QuarantineDir,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		ClaimBackoffMin:   cfg.Worker.ClaimBackoffMin,
		ClaimBackoffMax:   cfg.Worker.ClaimBackoffMax,
		JobTimeout:        cfg.Worker.JobTimeout,
	},
		wire.NewClient(cfg.Worker.Coordinator, identity),
		worker.NewSubprocessRunner(log.WithComponent("runner")),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker failed", "error", err)
		return 1
	}
	logger.Info("casparian worker stopped")
	return 0
}

// resolveEnvSignature returns the worker's environment signature. With a
// pinned dependency file configured that file is authoritative; without one
// the interpreter command is signed so an out-of-box worker can still
// register. Plugins published under a file-derived signature will not run on
// such a worker until the file is configured.
func resolveEnvSignature(w config.WorkerConfig) (string, error) {
	if w.EnvSignatureFile != "" {
		return registry.EnvSignatureFromFile(w.EnvSignatureFile)
	}
	return registry.EnvSignature(strings.Join(w.Interpreter, " ")), nil
}
