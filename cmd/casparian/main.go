package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sl224/casparianflow-sub011/internal/catalog"
	"github.com/sl224/casparianflow-sub011/internal/config"
	"github.com/sl224/casparianflow-sub011/internal/coordinator"
	"github.com/sl224/casparianflow-sub011/internal/log"
	"github.com/sl224/casparianflow-sub011/internal/queue"
	"github.com/sl224/casparianflow-sub011/internal/registry"
	"github.com/sl224/casparianflow-sub011/internal/sink"
	"github.com/sl224/casparianflow-sub011/internal/storage"
	"github.com/sl224/casparianflow-sub011/internal/tui/watch"
	"github.com/sl224/casparianflow-sub011/internal/wire"
	"github.com/sl224/casparianflow-sub011/internal/worker"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const (
	defaultCoordinator = "http://127.0.0.1:8311"
	defaultDBPath      = "./data/casparian.db"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve":
		return runServe(args)
	case "watch":
		return runWatch(args)
	case "submit":
		return runSubmit(args)
	case "jobs":
		return runJobs(args)
	case "job":
		return runJobNoun(args)
	case "worker":
		return runWorkerNoun(args)
	case "plugin":
		return runPluginNoun(args)
	case "sink":
		return runSinkNoun(args)
	case "version", "--version":
		fmt.Printf("casparian %s (commit %s, built %s)\n", version, gitCommit, buildDate)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Println("Usage: casparian <command> [args]")
	fmt.Println()
	fmt.Println("Daemon:")
	fmt.Println("  serve [--config PATH]                  Run the coordinator")
	fmt.Println("  watch [--api-url URL]                  Live jobs/workers TUI")
	fmt.Println()
	fmt.Println("Jobs:")
	fmt.Println("  submit <file> --plugin NAME [flags]    Observe a file and enqueue a job")
	fmt.Println("  jobs [--pending|--running|--done|--failed] [--topic T] [--limit N]")
	fmt.Println("  job show <id> [--json]")
	fmt.Println("  job retry <id> | job retry-all | job cancel <id>")
	fmt.Println()
	fmt.Println("Workers:")
	fmt.Println("  worker status | worker list [--json] | worker show <host> [--json]")
	fmt.Println("  worker drain <host> | worker remove <host> [--force]")
	fmt.Println()
	fmt.Println("Plugins:")
	fmt.Println("  plugin publish <name> <version> <source-file> [flags]")
	fmt.Println("  plugin validate <name> <version>")
	fmt.Println("  plugin list [name] [--json]")
	fmt.Println()
	fmt.Println("Sinks:")
	fmt.Println("  sink set <plugin> <output> <uri> [--write-mode M] [--schema-file F]")
	fmt.Println("  sink list <plugin>")
	fmt.Println()
	fmt.Println("  version                                Print version information")
}

// --- serve ---

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
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

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("casparian coordinator starting", "version", version, "db", cfg.State.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(ctx, cfg.State.Path, storage.ModeReadWrite)
	if err != nil {
		if errors.Is(err, storage.ErrLocked) {
			logger.Error("another coordinator holds the database", "path", cfg.State.Path)
		} else {
			logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		}
		return 1
	}
	defer db.Close()
	logger.Info("database opened read-write", "path", cfg.State.Path)

	var checker registry.Checker
	if len(cfg.Coordinator.CheckCommand) > 0 {
		checker = &worker.CommandChecker{Argv: cfg.Coordinator.CheckCommand}
	}

	server := coordinator.New(coordinator.Config{
		Listen:         cfg.Coordinator.Listen,
		StaleThreshold: cfg.Coordinator.StaleThreshold,
		SweepInterval:  cfg.Coordinator.SweepInterval,
	},
		queue.New(db.DB),
		catalog.New(db.DB),
		registry.New(db.DB),
		sink.NewStore(db.DB),
		checker,
		log.WithComponent("coordinator"),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("coordinator failed", "error", err)
		return 1
	}
	logger.Info("casparian coordinator stopped")
	return 0
}

// --- watch ---

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", coordinatorURL(), "Coordinator API URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*apiURL)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// --- submit ---

func runSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	plugin := fs.String("plugin", "", "Plugin to process the file with (required)")
	topic := fs.String("topic", "", "Topic tag for the job")
	priority := fs.Int("priority", 0, "Job priority (higher claims first)")
	configJSON := fs.String("config", "", "Per-job configuration overrides (JSON object)")
	apiURL := fs.String("coordinator", coordinatorURL(), "Coordinator API URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian submit <file> --plugin NAME [--topic T] [--priority N] [--config JSON]")
		return 1
	}
	if *plugin == "" {
		fmt.Fprintln(os.Stderr, "Error: --plugin is required")
		return 1
	}
	if *configJSON != "" && !json.Valid([]byte(*configJSON)) {
		fmt.Fprintln(os.Stderr, "Error: --config must be valid JSON")
		return 1
	}

	path := fs.Arg(0)
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot stat %s: %v\n", path, err)
		return 1
	}
	hash, err := catalog.HashFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	client := wire.NewOperatorClient(*apiURL)

	observed, err := client.ObserveFile(ctx, wire.ObserveFileRequest{
		Path:        path,
		ContentHash: hash,
		Size:        info.Size(),
		ModifiedAt:  info.ModTime().UTC(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: record observation: %v\n", err)
		return 1
	}

	jobID, err := client.EnqueueJob(ctx, wire.EnqueueJobRequest{
		FileVersionID: observed.FileVersionID,
		Topic:         *topic,
		Plugin:        *plugin,
		Config:        json.RawMessage(*configJSON),
		Priority:      *priority,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: enqueue job: %v\n", err)
		return 1
	}

	fmt.Printf("Enqueued job %s (file version %s, plugin %s)\n", jobID, observed.FileVersionID, *plugin)
	return 0
}

// --- jobs ---

func runJobs(args []string) int {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	pending := fs.Bool("pending", false, "Only queued jobs")
	running := fs.Bool("running", false, "Only running jobs")
	done := fs.Bool("done", false, "Only completed jobs")
	failed := fs.Bool("failed", false, "Only failed jobs")
	topic := fs.String("topic", "", "Filter by topic")
	limit := fs.Int("limit", 50, "Maximum rows")
	jsonOut := fs.Bool("json", false, "JSON output")
	dbPath := fs.String("db", dbPathDefault(), "Control-plane database path")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	f := queue.Filter{Topic: *topic, Limit: *limit}
	if *pending {
		f.Statuses = append(f.Statuses, queue.StatusQueued)
	}
	if *running {
		f.Statuses = append(f.Statuses, queue.StatusRunning)
	}
	if *done {
		f.Statuses = append(f.Statuses, queue.StatusCompleted)
	}
	if *failed {
		f.Statuses = append(f.Statuses, queue.StatusFailed)
	}

	ctx := context.Background()
	db, err := openReadOnly(ctx, *dbPath)
	if err != nil {
		return 1
	}
	defer db.Close()

	jobs, err := queue.New(db.DB).List(ctx, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		views := make([]wire.JobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, wire.ViewJob(j))
		}
		return printJSON(views)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPLUGIN\tTOPIC\tWORKER\tRETRIES\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			j.ID, j.Status, j.Plugin, j.Topic, j.WorkerHost, j.RetryCount,
			j.CreatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
	return 0
}

// --- job <verb> ---

func runJobNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian job <show|retry|retry-all|cancel> ...")
		return 1
	}
	verb := args[0]
	rest := args[1:]

	switch verb {
	case "show":
		return runJobShow(rest)
	case "retry":
		return runJobAction(rest, "retry", func(ctx context.Context, c *wire.OperatorClient, id string) error {
			return c.RetryJob(ctx, id)
		})
	case "retry-all":
		fs := flag.NewFlagSet("job retry-all", flag.ExitOnError)
		apiURL := fs.String("coordinator", coordinatorURL(), "Coordinator API URL")
		if err := fs.Parse(rest); err != nil {
			return 1
		}
		n, err := wire.NewOperatorClient(*apiURL).RetryAll(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Retried %d failed jobs\n", n)
		return 0
	case "cancel":
		return runJobAction(rest, "cancel", func(ctx context.Context, c *wire.OperatorClient, id string) error {
			return c.CancelJob(ctx, id)
		})
	default:
		fmt.Fprintf(os.Stderr, "Unknown job verb: %s\n", verb)
		return 1
	}
}

func runJobShow(args []string) int {
	fs := flag.NewFlagSet("job show", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "JSON output")
	dbPath := fs.String("db", dbPathDefault(), "Control-plane database path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian job show <id> [--json]")
		return 1
	}

	ctx := context.Background()
	db, err := openReadOnly(ctx, *dbPath)
	if err != nil {
		return 1
	}
	defer db.Close()

	j, err := queue.New(db.DB).Get(ctx, fs.Arg(0))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			fmt.Fprintf(os.Stderr, "Error: %v\nHint: run 'casparian jobs' to list known jobs.\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(wire.ViewJob(j))
	}

	fmt.Printf("Job:         %s\n", j.ID)
	fmt.Printf("Status:      %s\n", j.Status)
	fmt.Printf("Plugin:      %s\n", j.Plugin)
	if j.Topic != "" {
		fmt.Printf("Topic:       %s\n", j.Topic)
	}
	fmt.Printf("File:        %s\n", j.FileVersionID)
	fmt.Printf("Priority:    %d\n", j.Priority)
	fmt.Printf("Retries:     %d\n", j.RetryCount)
	if j.WorkerHost != "" {
		fmt.Printf("Worker:      %s (pid %d)\n", j.WorkerHost, j.WorkerPID)
	}
	fmt.Printf("Created:     %s\n", j.CreatedAt.Local().Format(time.DateTime))
	if j.ClaimedAt != nil {
		fmt.Printf("Claimed:     %s\n", j.ClaimedAt.Local().Format(time.DateTime))
	}
	if j.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", j.CompletedAt.Local().Format(time.DateTime))
	}
	if j.Result != nil {
		fmt.Printf("Result:      %s\n", *j.Result)
	}
	if j.LastError != nil {
		fmt.Printf("Error:       %s\n", *j.LastError)
	}
	return 0
}

func runJobAction(args []string, verb string, action func(context.Context, *wire.OperatorClient, string) error) int {
	fs := flag.NewFlagSet("job "+verb, flag.ExitOnError)
	apiURL := fs.String("coordinator", coordinatorURL(), "Coordinator API URL")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: casparian job %s <id>\n", verb)
		return 1
	}
	id := fs.Arg(0)

	err := action(context.Background(), wire.NewOperatorClient(*apiURL), id)
	if err != nil {
		if wire.IsNotFound(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\nHint: run 'casparian jobs' to list known jobs.\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Job %s: %s requested\n", id, verb)
	return 0
}

// --- worker <verb> ---

func runWorkerNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian worker <status|list|show|drain|remove> ...")
		return 1
	}
	verb := args[0]
	rest := args[1:]

	switch verb {
	case "status", "list":
		return runWorkerList(rest, verb == "status")
	case "show":
		return runWorkerShow(rest)
	case "drain":
		return runWorkerDrain(rest)
	case "remove":
		return runWorkerRemove(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown worker verb: %s\n", verb)
		return 1
	}
}

func runWorkerList(args []string, summary bool) int {
	fs := flag.NewFlagSet("worker list", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "JSON output")
	dbPath := fs.String("db", dbPathDefault(), "Control-plane database path")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx := context.Background()
	db, err := openReadOnly(ctx, *dbPath)
	if err != nil {
		return 1
	}
	defer db.Close()

	workers, err := queue.New(db.DB).ListWorkers(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if summary {
		counts := map[queue.WorkerStatus]int{}
		for _, wk := range workers {
			counts[wk.Status]++
		}
		fmt.Printf("Workers: %d total (%d idle, %d busy, %d draining)\n",
			len(workers), counts[queue.WorkerIdle], counts[queue.WorkerBusy], counts[queue.WorkerDraining])
		return 0
	}

	if *jsonOut {
		views := make([]wire.WorkerView, 0, len(workers))
		for _, wk := range workers {
			views = append(views, wire.ViewWorker(wk))
		}
		return printJSON(views)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tPID\tSTATUS\tJOB\tLAST HEARTBEAT")
	for _, wk := range workers {
		job := "-"
		if wk.CurrentJobID != nil {
			job = *wk.CurrentJobID
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			wk.Host, wk.PID, wk.Status, job, wk.LastHeartbeat.Local().Format(time.DateTime))
	}
	w.Flush()
	return 0
}

func runWorkerShow(args []string) int {
	fs := flag.NewFlagSet("worker show", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "JSON output")
	dbPath := fs.String("db", dbPathDefault(), "Control-plane database path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian worker show <host> [--json]")
		return 1
	}

	ctx := context.Background()
	db, err := openReadOnly(ctx, *dbPath)
	if err != nil {
		return 1
	}
	defer db.Close()

	wk, err := queue.New(db.DB).GetWorker(ctx, fs.Arg(0))
	if err != nil {
		if errors.Is(err, queue.ErrWorkerNotFound) {
			fmt.Fprintf(os.Stderr, "Error: %v\nHint: run 'casparian worker list' to see registered workers.\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(wire.ViewWorker(wk))
	}

	fmt.Printf("Worker:         %s\n", wk.Host)
	fmt.Printf("PID:            %d\n", wk.PID)
	fmt.Printf("Addr:           %s\n", wk.Addr)
	fmt.Printf("Status:         %s\n", wk.Status)
	fmt.Printf("Env signature:  %s\n", wk.EnvSignature)
	if wk.CurrentJobID != nil {
		fmt.Printf("Current job:    %s\n", *wk.CurrentJobID)
	}
	fmt.Printf("Started:        %s\n", wk.StartedAt.Local().Format(time.DateTime))
	fmt.Printf("Last heartbeat: %s\n", wk.LastHeartbeat.Local().Format(time.DateTime))
	return 0
}

func runWorkerDrain(args []string) int {
	fs := flag.NewFlagSet("worker drain", flag.ExitOnError)
	apiURL := fs.String("coordinator", coordinatorURL(), "Coordinator API URL")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian worker drain <host>")
		return 1
	}
	host := fs.Arg(0)

	if err := wire.NewOperatorClient(*apiURL).DrainWorker(context.Background(), host); err != nil {
		if wire.IsNotFound(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\nHint: run 'casparian worker list' to see registered workers.\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Worker %s draining: it will finish its current job and claim no more\n", host)
	return 0
}

func runWorkerRemove(args []string) int {
	fs := flag.NewFlagSet("worker remove", flag.ExitOnError)
	force := fs.Bool("force", false, "Remove even if busy, requeueing its job")
	apiURL := fs.String("coordinator", coordinatorURL(), "Coordinator API URL")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian worker remove <host> [--force]")
		return 1
	}
	host := fs.Arg(0)

	err := wire.NewOperatorClient(*apiURL).RemoveWorker(context.Background(), host, *force)
	if err != nil {
		switch {
		case wire.IsNotFound(err):
			fmt.Fprintf(os.Stderr, "Error: %v\nHint: run 'casparian worker list' to see registered workers.\n", err)
		case wire.IsConflict(err):
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		default:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	fmt.Printf("Worker %s removed\n", host)
	return 0
}

// --- plugin <verb> ---

func runPluginNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian plugin <publish|validate|list> ...")
		return 1
	}
	verb := args[0]
	rest := args[1:]

	switch verb {
	case "publish":
		return runPluginPublish(rest)
	case "validate":
		return runPluginValidate(rest)
	case "list":
		return runPluginList(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown plugin verb: %s\n", verb)
		return 1
	}
}

func runPluginPublish(args []string) int {
	fs := flag.NewFlagSet("plugin publish", flag.ExitOnError)
	envFile := fs.String("env-file", "", "Pinned dependency file to derive the environment signature from")
	publisher := fs.String("publisher", "", "Publisher identity recorded with the manifest")
	signature := fs.String("signature", "", "Detached cryptographic signature of the source")
	apiURL := fs.String("coordinator", coordinatorURL(), "Coordinator API URL")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 3 {
		fmt.Fprintln(os.Stderr, "Usage: casparian plugin publish <name> <version> <source-file> [--env-file F] [--publisher P]")
		return 1
	}

	name := fs.Arg(0)
	ver, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: version must be an integer, got %q\n", fs.Arg(1))
		return 1
	}
	source, err := os.ReadFile(fs.Arg(2))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: read source: %v\n", err)
		return 1
	}

	var envSig string
	if *envFile != "" {
		envSig, err = registry.EnvSignatureFromFile(*envFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	m, err := wire.NewOperatorClient(*apiURL).Publish(context.Background(), wire.PublishRequest{
		Plugin:       name,
		Version:      ver,
		Source:       string(source),
		EnvSignature: envSig,
		Signature:    *signature,
		Publisher:    *publisher,
	})
	if err != nil {
		if wire.IsConflict(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\nHint: identical source is already registered; bump the source, not just the version.\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("Published %s v%d (source %s, pending validation)\n", m.Plugin, m.Version, m.SourceHash[:12])
	fmt.Printf("Next: casparian plugin validate %s %d\n", m.Plugin, m.Version)
	return 0
}

func runPluginValidate(args []string) int {
	fs := flag.NewFlagSet("plugin validate", flag.ExitOnError)
	apiURL := fs.String("coordinator", coordinatorURL(), "Coordinator API URL")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: casparian plugin validate <name> <version>")
		return 1
	}

	name := fs.Arg(0)
	ver, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: version must be an integer, got %q\n", fs.Arg(1))
		return 1
	}

	resp, err := wire.NewOperatorClient(*apiURL).Validate(context.Background(), name, ver)
	if err != nil {
		if wire.IsNotFound(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\nHint: publish the version first with 'casparian plugin publish'.\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if resp.Status == string(registry.StatusActive) {
		fmt.Printf("Plugin %s v%d validated: active\n", name, ver)
		return 0
	}
	fmt.Fprintf(os.Stderr, "Plugin %s v%d rejected: %s\n", name, ver, resp.Error)
	return 1
}

func runPluginList(args []string) int {
	fs := flag.NewFlagSet("plugin list", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "JSON output")
	dbPath := fs.String("db", dbPathDefault(), "Control-plane database path")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx := context.Background()
	db, err := openReadOnly(ctx, *dbPath)
	if err != nil {
		return 1
	}
	defer db.Close()

	reg := registry.New(db.DB)
	var manifests []*registry.Manifest
	if fs.NArg() == 1 {
		manifests, err = reg.ListVersions(ctx, fs.Arg(0))
	} else {
		manifests, err = reg.List(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		views := make([]wire.ManifestView, 0, len(manifests))
		for _, m := range manifests {
			views = append(views, wire.ViewManifest(m))
		}
		return printJSON(views)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLUGIN\tVERSION\tSTATUS\tSOURCE\tPUBLISHER\tDEPLOYED")
	for _, m := range manifests {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			m.Plugin, m.Version, m.Status, m.SourceHash[:12], m.Publisher,
			m.DeployedAt.Local().Format(time.DateTime))
	}
	w.Flush()
	return 0
}

// --- sink <verb> ---

func runSinkNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian sink <set|list> ...")
		return 1
	}
	verb := args[0]
	rest := args[1:]

	switch verb {
	case "set":
		return runSinkSet(rest)
	case "list":
		return runSinkList(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown sink verb: %s\n", verb)
		return 1
	}
}

func runSinkSet(args []string) int {
	fs := flag.NewFlagSet("sink set", flag.ExitOnError)
	writeMode := fs.String("write-mode", "append", "Write mode recorded with the rule")
	schemaFile := fs.String("schema-file", "", "JSON schema declaration for the output's rows")
	apiURL := fs.String("coordinator", coordinatorURL(), "Coordinator API URL")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 3 {
		fmt.Fprintln(os.Stderr, "Usage: casparian sink set <plugin> <output> <uri> [--write-mode M] [--schema-file F]")
		fmt.Fprintln(os.Stderr, "       output may be '*' to declare the plugin's default sink")
		return 1
	}

	var schemaJSON json.RawMessage
	if *schemaFile != "" {
		data, err := os.ReadFile(*schemaFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: read schema: %v\n", err)
			return 1
		}
		schemaJSON = data
	}

	plugin, output, uri := fs.Arg(0), fs.Arg(1), fs.Arg(2)
	err := wire.NewOperatorClient(*apiURL).PutSink(context.Background(), plugin, wire.SinkPutRequest{
		Output:    output,
		URI:       uri,
		WriteMode: *writeMode,
		Schema:    schemaJSON,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Sink rule set: %s/%s -> %s\n", plugin, output, uri)
	return 0
}

func runSinkList(args []string) int {
	fs := flag.NewFlagSet("sink list", flag.ExitOnError)
	dbPath := fs.String("db", dbPathDefault(), "Control-plane database path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian sink list <plugin>")
		return 1
	}

	ctx := context.Background()
	db, err := openReadOnly(ctx, *dbPath)
	if err != nil {
		return 1
	}
	defer db.Close()

	configs, err := sink.NewStore(db.DB).ForPlugin(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OUTPUT\tURI\tWRITE MODE\tSCHEMA")
	for _, c := range configs {
		schemaCol := "-"
		if c.Schema != nil {
			schemaCol = fmt.Sprintf("%d fields", len(c.Schema.Fields))
			if c.Schema.Strict {
				schemaCol += " (strict)"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Output, c.URI, c.WriteMode, schemaCol)
	}
	w.Flush()
	return 0
}

// --- helpers ---

func coordinatorURL() string {
	if v := os.Getenv("CASPARIAN_COORDINATOR"); v != "" {
		return v
	}
	return defaultCoordinator
}

func dbPathDefault() string {
	if v := os.Getenv("CASPARIAN_DB"); v != "" {
		return v
	}
	return defaultDBPath
}

func openReadOnly(ctx context.Context, path string) (*storage.DB, error) {
	db, err := storage.Open(ctx, path, storage.ModeReadOnly)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open database %s: %v\nHint: pass --db or set CASPARIAN_DB to the coordinator's database path.\n", path, err)
		return nil, err
	}
	return db, nil
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
