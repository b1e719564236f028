// Package main implements the watchpost entry point: it loads the
// configuration, builds the engine from the built-in plugins and runs it
// alongside the metrics, health and status endpoint until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/componentregistry"
	"github.com/c360/watchpost/config"
	"github.com/c360/watchpost/engine"
	"github.com/c360/watchpost/metric"
	"github.com/c360/watchpost/natsclient"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "watchpost"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(fs)
		return nil
	}

	registry := component.NewRegistry()
	if err := componentregistry.Register(registry); err != nil {
		return fmt.Errorf("register components: %w", err)
	}
	if cliCfg.ListPlugins {
		printPlugins(registry)
		return nil
	}

	cfg, err := loadConfig(cliCfg.ConfigPaths)
	if err != nil {
		return err
	}

	logger := setupLogger(firstNonEmpty(cliCfg.LogLevel, cfg.Log.Level), firstNonEmpty(cliCfg.LogFormat, cfg.Log.Format))
	slog.SetDefault(logger)
	slog.Info("Starting watchpost",
		"version", Version,
		"build_time", BuildTime,
		"config_paths", cliCfg.ConfigPaths)

	if cliCfg.SaveConfig != "" {
		if err := cfg.SaveToFile(cliCfg.SaveConfig); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		slog.Info("Merged configuration written", "path", cliCfg.SaveConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsRegistry := metric.NewMetricsRegistry()
	deps := component.Dependencies{
		Logger:          logger,
		MetricsRegistry: metricsRegistry,
	}

	if len(cfg.NATS.URLs) > 0 {
		client, err := connectNATS(ctx, cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
			defer cancel()
			if err := client.Close(closeCtx); err != nil {
				slog.Warn("NATS close failed", "error", err)
			}
		}()
		deps.Messenger = client
	}

	eng, err := engine.New(cfg, registry, deps)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if cliCfg.Validate {
		v := eng.Validation()
		slog.Info("Configuration is valid",
			"status", v.Status, "errors", len(v.Errors), "warnings", len(v.Warnings))
		return nil
	}

	return serve(ctx, eng, cfg, metricsRegistry, cliCfg.ShutdownTimeout)
}

// serve runs the engine and, when enabled, the HTTP endpoint. Either one
// failing stops the other.
func serve(ctx context.Context, eng *engine.Engine, cfg *config.Config,
	metricsRegistry *metric.MetricsRegistry, shutdownTimeout time.Duration,
) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(gctx)
	})

	if cfg.Metrics.Enabled {
		zones := eng.ZonesHandler()
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry,
			metric.WithHealthHandler(eng.Health().Handler(engine.SystemName)),
			metric.WithStatusHandler(eng.StatusHandler()),
			metric.WithHandler("/zones", zones),
			metric.WithHandler("/zones/", zones),
		)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Stop(stopCtx)
		})
		slog.Info("HTTP endpoint listening", "metrics", server.Address())
	}

	slog.Info("watchpost started", "run_id", eng.RunID())
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("watchpost shutdown complete")
	return nil
}

func connectNATS(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
	}
	if wait := cfg.ReconnectWait.Std(); wait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(wait))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Connect(connCtx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return client, nil
}

func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, p := range paths {
		loader.AddLayer(p)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func printPlugins(registry *component.Registry) {
	for _, kind := range []component.Kind{component.KindSource, component.KindStage, component.KindAction} {
		fmt.Printf("%ss:\n", kind)
		for _, info := range registry.List(kind) {
			fmt.Printf("  %-12s %s\n", info.Type, info.Description)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
