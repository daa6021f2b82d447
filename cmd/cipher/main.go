// cmd/cipher is the host process: loads configuration, brings up the
// connection fleet, starts the management HTTP surface, and waits for a
// shutdown signal.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/xdien/cipher/internal/config"
	"github.com/xdien/cipher/internal/env"
	"github.com/xdien/cipher/internal/events"
	"github.com/xdien/cipher/internal/fleet"
	"github.com/xdien/cipher/internal/format"
	"github.com/xdien/cipher/internal/httpapi"
	"github.com/xdien/cipher/internal/logger"
	"github.com/xdien/cipher/internal/nerdstats"
	toolsinternal "github.com/xdien/cipher/internal/tools/internal"
	"github.com/xdien/cipher/internal/tools/unified"
	"github.com/xdien/cipher/internal/version"
)

// Exit codes per the management contract: 0 clean shutdown, 1 unhandled
// error, 2 configuration error.
const (
	exitOK          = 0
	exitUnhandled   = 1
	exitConfigError = 2
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(exitOK)
	}
	version.PrintVersionInfo(false, vlog)

	lcfg := buildLoggerConfig()
	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(exitUnhandled)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("initialising", "version", version.Version, "pid", os.Getpid())

	cfg, err := config.Load(nil)
	if err != nil {
		styledLogger.Error("configuration error", "error", err)
		os.Exit(exitConfigError)
	}
	for _, d := range cfg.Descriptors() {
		if !d.Enabled {
			continue
		}
		if verr := d.Validate(); verr != nil {
			styledLogger.Error("configuration error", "server", d.Name, "error", verr)
			os.Exit(exitConfigError)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	sink := events.NewChannelSink(256)
	go logEvents(ctx, styledLogger, sink)

	fleetCfg := fleet.DefaultConfig()
	fleetCfg.MaxConcurrentConnections = cfg.Fleet.MaxConcurrentConnections
	fleetCfg.ShutdownTimeout = cfg.Fleet.ShutdownTimeout
	fleetCfg.MaxRecoveryAttempts = cfg.Fleet.MaxRecoveryAttempts
	fleetCfg.RecoveryDelay = cfg.Fleet.RecoveryDelay
	fleetCfg.RecoveryBackoffMultiplier = cfg.Fleet.RecoveryBackoffMultiplier
	fleetCfg.CircuitBreaker = cfg.Fleet.CircuitBreaker
	fleetCfg.Retry = cfg.Fleet.Retry
	fleetCfg.Health = cfg.Fleet.Health
	fleetCfg.ClientInfo = cfg.Fleet.ClientInfo()

	fm := fleet.New(fleetCfg, sink)

	for _, d := range cfg.Descriptors() {
		if !d.Enabled {
			continue
		}
		descriptor := d
		if _, err := fm.StartConnection(ctx, &descriptor); err != nil {
			styledLogger.Warn("failed to start connection", "server", d.Name, "error", err)
		}
	}

	registry := toolsinternal.New(cfg.Tools.Prefix, cfg.Tools.ExecutionTimeout, toolsinternal.Services{}, sink)
	caps := unified.Capabilities{
		EmbeddingsEnabled: cfg.Tools.EmbeddingsEnabled,
		CLIToolGlobs:      cfg.Tools.CLIToolGlobs,
	}
	um := unified.New(cfg.Tools.Mode, cfg.Tools.ConflictResolution, &fleetSource{fleet: fm}, registry, caps, sink)

	mgmt := httpapi.New(httpapi.DefaultConfig(), fm, um, styledLogger)
	if err := mgmt.Start(); err != nil {
		styledLogger.Error("failed to start management surface", "error", err)
		os.Exit(exitUnhandled)
	}

	styledLogger.Info("cipher is running, waiting for requests...")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Fleet.ShutdownTimeout)
	defer shutdownCancel()

	if err := mgmt.Stop(shutdownCtx); err != nil {
		styledLogger.Error("error stopping management surface", "error", err)
	}
	if err := fm.Shutdown(shutdownCtx); err != nil {
		styledLogger.Error("error during fleet shutdown", "error", err)
	}

	reportProcessStats(styledLogger, startTime)
	styledLogger.Info("cipher has shutdown")
}

func logEvents(ctx context.Context, log *logger.StyledLogger, sink *events.ChannelSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sink.Events():
			log.Info(string(ev.Kind), "server", ev.Server, "detail", ev.Detail)
		}
	}
}

func buildLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      env.GetEnvOrDefault("CIPHER_LOG_LEVEL", "info"),
		FileOutput: env.GetEnvBoolOrDefault("CIPHER_FILE_OUTPUT", true),
		LogDir:     env.GetEnvOrDefault("CIPHER_LOG_DIR", "./logs"),
		MaxSize:    env.GetEnvIntOrDefault("CIPHER_MAX_SIZE", 100),
		MaxBackups: env.GetEnvIntOrDefault("CIPHER_MAX_BACKUPS", 5),
		MaxAge:     env.GetEnvIntOrDefault("CIPHER_MAX_AGE", 30),
		Theme:      env.GetEnvOrDefault("CIPHER_THEME", "default"),
	}
}

func reportProcessStats(log *logger.StyledLogger, startTime time.Time) {
	runtime.GC()
	stats := nerdstats.Snapshot(startTime)

	log.Info("process memory stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)
	log.Info("goroutine stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
	)
	log.Info("runtime stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
	)
}
