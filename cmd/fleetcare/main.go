package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
	"fleetcare/internal/infra/logger"
	"fleetcare/internal/infra/tracer"
	"fleetcare/internal/usecase/eventbus"
	"fleetcare/internal/usecase/multiagent"
	"fleetcare/internal/usecase/pipeline"
	"fleetcare/internal/usecase/scheduling"
)

func main() {
	// Handle help flag first
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := runPipeline(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "run":
		if err := runPipeline(); err != nil {
			fmt.Fprintf(os.Stderr, "run: %v\n", err)
			os.Exit(1)
		}
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "serve: %v\n", err)
			os.Exit(1)
		}
	case "status":
		if err := runStatus(); err != nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(os.Args[2:], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'fleetcare --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`fleetcare - predictive vehicle maintenance agent fleet

USAGE:
    fleetcare [COMMAND] [FLAGS]

COMMANDS:
    run         Run the maintenance pipeline once for one vehicle
    serve       Keep the fleet running with schedules and the activity feed
    status      Start the fleet and print every agent's status as JSON
    doctor      Run health checks on your setup
    encrypt     Encrypt a secret for the config file (reads VALUE or stdin)

    (no command) - Same as run

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)
    --vehicle PATH     Vehicle YAML file for run (default: built-in demo vehicle)

CONFIGURATION:
    Config file: ./config.yaml (optional, defaults apply when missing)
    Environment: FLEETCARE_* variables override config
    Secrets:     FLEETCARE_CONFIG_KEY decrypts "enc:" values

EXAMPLES:
    fleetcare run --vehicle ./vehicle.yaml
    fleetcare serve --config /etc/fleetcare/config.yaml
    fleetcare status
    FLEETCARE_CONFIG_KEY=... fleetcare encrypt sk-...`)
}

// app is the shared runtime of every fleet command. close undoes setup in
// reverse order.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	bus     *eventbus.Bus
	fleet   *Fleet
	closers []func()
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newApp loads config and wires logging, tracing, the event bus and the
// fleet. Agents are not started.
func newApp(ctx context.Context) (*app, error) {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.onClose(func() { _ = logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.onClose(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	})

	// 3. Event bus
	a.bus = eventbus.New(log)
	a.onClose(a.bus.Close)

	// 4. Fleet
	a.fleet, err = initFleet(cfg, log, a.bus)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("fleet: %w", err)
	}
	return a, nil
}

// start starts every agent. Partial failures are logged; the failed agents
// answer ErrNotRunning until the fleet is stopped.
func (a *app) start(ctx context.Context) {
	orch := a.fleet.Orchestrator
	startCtx, cancel := context.WithTimeout(ctx, a.cfg.Orchestrator.StartTimeout)
	defer cancel()
	if err := orch.StartAll(startCtx); err != nil {
		a.log.Warn("fleet started with failures", "error", err, "code", domain.ErrorCodeOf(err))
	}
	a.onClose(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Orchestrator.StopTimeout)
		defer cancel()
		if err := orch.StopAll(stopCtx); err != nil {
			a.log.Warn("fleet stopped with failures", "error", err)
		}
	})
}

// attachFeed forwards task outcomes to the monitor agent when enabled.
func (a *app) attachFeed() {
	if !a.cfg.ActivityFeed.Enabled {
		return
	}
	feed := multiagent.NewActivityFeed(a.fleet.Orchestrator, a.cfg.ActivityFeed.Monitor, a.log)
	feed.Attach(a.bus)
	a.onClose(feed.Detach)
}

func runPipeline() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vehicle := pipeline.DemoVehicle()
	if path := flagValue("--vehicle"); path != "" {
		v, err := pipeline.LoadVehicle(path)
		if err != nil {
			return err
		}
		vehicle = v
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.attachFeed()
	a.start(ctx)

	p := pipeline.New(a.fleet.Orchestrator, a.log, pipeline.WithAgents(a.fleet.Agents))
	report, err := p.Run(ctx, *vehicle)
	if report != nil {
		if perr := printJSON(os.Stdout, report); perr != nil {
			return perr
		}
	}
	return err
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.attachFeed()
	a.start(ctx)

	var sched *scheduling.Scheduler
	if a.cfg.Scheduler.Enabled {
		sched = scheduling.NewScheduler(a.fleet.Orchestrator, a.log,
			scheduling.WithRunTimeout(a.cfg.Scheduler.RunTimeout),
			scheduling.WithEventBus(a.bus),
		)
		for _, task := range scheduledTasks(a.cfg.Scheduler) {
			if err := sched.AddTask(task); err != nil {
				return fmt.Errorf("scheduler: %w", err)
			}
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		a.onClose(func() { _ = sched.Stop() })
	}

	a.log.Info("fleetcare serving",
		"agents", len(a.fleet.Orchestrator.Names()),
		"scheduled_tasks", len(a.cfg.Scheduler.Tasks),
		"activity_feed", a.cfg.ActivityFeed.Enabled,
		"voice", a.cfg.Voice.Provider,
		"llm", a.cfg.LLM.Enabled,
	)

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return nil
}

func runStatus() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.start(ctx)
	return printJSON(os.Stdout, a.fleet.Orchestrator.List())
}

// runEncrypt encrypts the value given after the command, or the first line
// of stdin, and prints it in the form the config loader decrypts.
func runEncrypt(args []string, stdin io.Reader, stdout io.Writer) error {
	passphrase := os.Getenv("FLEETCARE_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("FLEETCARE_CONFIG_KEY is not set: %w", domain.ErrInvalidInput)
	}

	var value string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		value = args[0]
	} else {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read value: %w", err)
		}
		value = strings.TrimRight(line, "\r\n")
	}
	if value == "" {
		return fmt.Errorf("empty value: %w", domain.ErrInvalidInput)
	}

	encrypted, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "enc:%s\n", encrypted)
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func configPath() string {
	if p := flagValue("--config"); p != "" {
		return p
	}
	if p := os.Getenv("FLEETCARE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// flagValue returns the value of a "--name VALUE" or "--name=VALUE" argument.
func flagValue(name string) string {
	for i, arg := range os.Args {
		if arg == name && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, name+"=") {
			return strings.TrimPrefix(arg, name+"=")
		}
	}
	return ""
}
