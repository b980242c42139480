// Orchd is the orchestration worker and run gateway daemon.
//
// The binary hosts the agent-run workflow and its activities on a
// Temporal task queue and, unless disabled, serves the HTTP run API in
// the same process. Configuration is loaded from a YAML file with
// ORCHD_-prefixed environment overrides; see internal/config.
//
// Usage:
//
//	# Start worker + gateway with defaults
//	orchd
//
//	# Explicit config file
//	orchd -config /etc/orchd/orchd.yaml
//
//	# Serve the MCP stdio interface instead of the worker
//	orchd mcp
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/activities"
	"github.com/fyrsmithlabs/orchd/internal/bus"
	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/gateway"
	"github.com/fyrsmithlabs/orchd/internal/guard"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/planner"
	"github.com/fyrsmithlabs/orchd/internal/semcache"
	"github.com/fyrsmithlabs/orchd/internal/telemetry"
	"github.com/fyrsmithlabs/orchd/internal/tools"
	"github.com/fyrsmithlabs/orchd/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to orchd.yaml (default: ORCHD_CONFIG or built-in defaults)")
	flag.Parse()

	mode := "serve"
	if args := flag.Args(); len(args) > 0 {
		mode = args[0]
	}

	switch mode {
	case "serve":
	case "mcp":
	case "version":
		printVersion()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", mode)
		fmt.Fprintf(os.Stderr, "\nUsage:\n")
		fmt.Fprintf(os.Stderr, "  orchd            Start the worker and run gateway\n")
		fmt.Fprintf(os.Stderr, "  orchd mcp        Serve the MCP interface on stdio\n")
		fmt.Fprintf(os.Stderr, "  orchd version    Show version information\n")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, mode); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("orchd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the daemon and blocks until the context is cancelled:
//
//  1. Loads and validates configuration
//  2. Initializes telemetry and logging
//  3. Connects infrastructure (NATS, plan cache, planner LLM)
//  4. Builds the tool registry and plan guard
//  5. Registers the workflow and activities on the task queue
//  6. Starts the worker and (serve mode) the HTTP gateway
//  7. Performs graceful shutdown on SIGINT/SIGTERM
func run(ctx context.Context, configPath, mode string) error {
	if configPath == "" {
		configPath = os.Getenv("ORCHD_CONFIG")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	zlog := logger.Underlying()
	logger.Info(ctx, "orchd starting",
		zap.String("version", version),
		zap.String("mode", mode),
		zap.String("temporal_host", cfg.Temporal.HostPort),
		zap.String("task_queue", cfg.Temporal.TaskQueue))

	deps, err := initDependencies(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "dependencies initialized",
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.Bool("plan_cache_ready", deps.cache != nil),
		zap.Int("tools_registered", len(deps.registry.List())))

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logging.NewTemporalLogger(zlog),
	})
	if err != nil {
		return fmt.Errorf("dialing temporal: %w", err)
	}
	defer c.Close()

	logger.Info(ctx, "temporal client connected", zap.String("host", cfg.Temporal.HostPort))

	runs, err := gateway.NewTemporalRuns(c, cfg.Temporal.TaskQueue, workflows.RunOptions{
		MaxConcurrentSteps:  cfg.Runs.MaxConcurrentSteps,
		CheckpointMaxEvents: cfg.Runs.CheckpointMaxEvents,
		DisableEventPublish: deps.natsConn == nil,
		DisableGuard:        cfg.Guard.Disabled,
	}, zlog)
	if err != nil {
		return fmt.Errorf("building run service: %w", err)
	}

	if mode == "mcp" {
		return runMCP(ctx, deps.registry, runs, zlog)
	}

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.AgentRunWorkflow)
	w.RegisterActivity(deps.activities)

	workerErrors := make(chan error, 1)
	go func() {
		logger.Info(ctx, "worker starting", zap.String("task_queue", cfg.Temporal.TaskQueue))
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	srv, err := gateway.NewServer(runs, deps.natsConn, zlog, &gateway.Config{
		Host:           cfg.Gateway.Host,
		Port:           cfg.Gateway.Port,
		RateLimitRPS:   cfg.Gateway.RateLimitRPS,
		RateLimitBurst: cfg.Gateway.RateLimitBurst,
	})
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(ctx, "gateway listening",
			zap.String("host", cfg.Gateway.Host),
			zap.Int("port", cfg.Gateway.Port))
		serverErrors <- srv.Start()
	}()

	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("gateway error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "gateway shutdown incomplete", zap.Error(err))
	}

	logger.Info(ctx, "orchd stopped gracefully")
	return nil
}

func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Telemetry.Enabled
	telCfg.ServiceVersion = version
	if cfg.Telemetry.Endpoint != "" {
		telCfg.Endpoint = cfg.Telemetry.Endpoint
	}
	if cfg.Telemetry.SampleRate > 0 {
		telCfg.Sampling.Rate = cfg.Telemetry.SampleRate
	}
	return telemetry.New(ctx, telCfg)
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	if cfg.Logging.Level != "" {
		if err := logCfg.Level.Set(cfg.Logging.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
		}
	}
	if cfg.Logging.Format != "" {
		logCfg.Format = cfg.Logging.Format
	}
	if tel.IsEnabled() {
		logCfg.Output.OTEL = true
		return logging.NewLogger(logCfg, tel.LoggerProvider())
	}
	return logging.NewLogger(logCfg, nil)
}

// dependencies holds the collaborators behind the activity boundary
// plus the infrastructure they ride on.
type dependencies struct {
	natsConn   *nats.Conn
	cache      semcache.Cache
	registry   *tools.Registry
	watcher    *tools.Watcher
	proxies    []*tools.MCPProxy
	activities *activities.Activities
}

func (d *dependencies) Close() {
	for _, p := range d.proxies {
		_ = p.Close()
	}
	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	if d.cache != nil {
		_ = d.cache.Close()
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (*dependencies, error) {
	deps := &dependencies{}

	// NATS is optional: without it runs proceed, only live event
	// streaming is lost.
	if !cfg.NATS.Disabled {
		nc, err := bus.Connect(cfg.NATS.URL, zlog)
		if err != nil {
			zlog.Warn("NATS unavailable, event streaming disabled",
				zap.String("url", cfg.NATS.URL),
				zap.Error(err))
		} else {
			deps.natsConn = nc
		}
	}

	// Plan cache is optional: without it every lookup is a miss.
	if !cfg.SemCache.Disabled {
		embedder, err := semcache.NewEmbedder(semcache.EmbedderConfig{
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
			APIKey:  cfg.Embeddings.APIKey.Value(),
		})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("building embedder: %w", err)
		}
		cache, err := semcache.New(semcache.Config{
			Provider: cfg.SemCache.Provider,
			MinScore: cfg.SemCache.MinScore,
			Chromem: semcache.ChromemConfig{
				Path:       cfg.SemCache.Chromem.Path,
				Compress:   cfg.SemCache.Chromem.Compress,
				Collection: cfg.SemCache.Chromem.Collection,
			},
			Qdrant: semcache.QdrantConfig{
				Host:       cfg.SemCache.Qdrant.Host,
				Port:       cfg.SemCache.Qdrant.Port,
				APIKey:     cfg.SemCache.Qdrant.APIKey.Value(),
				UseTLS:     cfg.SemCache.Qdrant.UseTLS,
				Collection: cfg.SemCache.Qdrant.Collection,
				VectorSize: cfg.SemCache.Qdrant.VectorSize,
			},
		}, embedder, zlog)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("building plan cache: %w", err)
		}
		deps.cache = cache
	}

	registry, err := buildRegistry(ctx, cfg, zlog, deps)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.registry = registry

	gen, err := planner.New(planner.Config{
		BaseURL:     cfg.Planner.BaseURL,
		Model:       cfg.Planner.Model,
		APIKey:      cfg.Planner.APIKey.Value(),
		Temperature: cfg.Planner.Temperature,
	}, registry, zlog)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("building planner: %w", err)
	}

	engine, err := guard.NewEngine(guard.Config{
		DeniedTools:    cfg.Guard.DeniedTools,
		DeniedPatterns: cfg.Guard.DeniedPatterns,
		MaxPlanSteps:   cfg.Guard.MaxPlanSteps,
		SecretScan:     !cfg.Guard.DisableSecretScan,
	}, zlog)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("building plan guard: %w", err)
	}

	actDeps := activities.Deps{
		Planner: gen,
		Tools:   registry,
		Guard:   engine,
	}
	if deps.cache != nil {
		actDeps.Cache = deps.cache
	}
	if deps.natsConn != nil {
		actDeps.Publisher = bus.NewPublisher(deps.natsConn, zlog)
	}
	acts, err := activities.New(actDeps)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("building activities: %w", err)
	}
	deps.activities = acts

	return deps, nil
}

func buildRegistry(ctx context.Context, cfg *config.Config, zlog *zap.Logger, deps *dependencies) (*tools.Registry, error) {
	registry := tools.NewRegistry(zlog)
	if err := tools.RegisterBuiltins(registry); err != nil {
		return nil, fmt.Errorf("registering builtin tools: %w", err)
	}

	if cfg.Tools.CatalogPath == "" {
		return registry, nil
	}

	catalog, err := tools.LoadCatalog(cfg.Tools.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading tool catalog: %w", err)
	}
	if err := catalog.Apply(registry); err != nil {
		return nil, fmt.Errorf("applying tool catalog: %w", err)
	}

	for _, def := range catalog.Servers {
		proxy, err := tools.ConnectMCP(ctx, def, zlog)
		if err != nil {
			zlog.Warn("MCP server unavailable, its tools are skipped",
				zap.String("server", def.Name),
				zap.Error(err))
			continue
		}
		deps.proxies = append(deps.proxies, proxy)
		n, err := proxy.RegisterTools(ctx, registry)
		if err != nil {
			return nil, fmt.Errorf("registering tools from MCP server %s: %w", def.Name, err)
		}
		zlog.Info("MCP tools registered",
			zap.String("server", def.Name),
			zap.Int("tools", n))
	}

	if !cfg.Tools.DisableWatch {
		watcher, err := tools.WatchCatalog(cfg.Tools.CatalogPath, registry, zlog)
		if err != nil {
			zlog.Warn("catalog watch unavailable, edits need a restart", zap.Error(err))
		} else {
			deps.watcher = watcher
		}
	}

	return registry, nil
}
