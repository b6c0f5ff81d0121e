package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paceline-project/paceline/internal/anchor"
	"github.com/paceline-project/paceline/internal/api"
	"github.com/paceline-project/paceline/internal/cli"
	"github.com/paceline-project/paceline/internal/config"
	"github.com/paceline-project/paceline/internal/events"
	"github.com/paceline-project/paceline/internal/journal"
	"github.com/paceline-project/paceline/internal/relay"
	"github.com/paceline-project/paceline/internal/scheduler"
	"github.com/paceline-project/paceline/internal/telemetry"
	"github.com/paceline-project/paceline/internal/util"
)

// runApp is the root command body: load configuration, wire the
// components together, run every task until the relay session ends or the
// operator asks to stop, then shut everything down in order.
func runApp(configDir string, overrides []string) error {
	// Print banner
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Paceline")

	// Load configuration
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Apply KEY=VALUE overrides for this run (not persisted)
	if len(overrides) > 0 {
		if err := cfg.ApplyOverrides(overrides); err != nil {
			return err
		}
	}

	// Re-initialize logger with config-based settings
	logging := cfg.GetApplicationData().Logging
	logCfg := util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    logging.Console,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	// Validate configuration
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}

		if cfg.IsFirstRun() {
			log.Info().Msg("first run detected, launching setup wizard")
			if err := config.RunSetupWizard(cfg); err != nil {
				return fmt.Errorf("setup wizard failed: %w", err)
			}
		} else {
			return fmt.Errorf("configuration validation failed")
		}
	}

	// Log system info
	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize core components
	eventBus := events.NewEventBus()
	engine := anchor.NewEngine(cfg.GetRelayData().Seed, eventBus)
	relayClient := relay.NewClient(cfg, engine, eventBus)

	// Race journal
	appData := cfg.GetApplicationData()
	var jnl *journal.Journal
	if appData.Journal.Enabled {
		jnl, err = journal.NewJournal(filepath.Join(appData.Journal.Directory, "journal.db"), eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open race journal, journaling disabled")
			jnl = nil
		}
	}

	// Local REST API
	var apiServer *api.Server
	if appData.API.Enabled {
		if !config.IsPortAvailable(appData.API.Port) {
			log.Warn().Int("port", appData.API.Port).Msg("API port is already in use, startup will retry")
		}
		apiServer = api.NewServer(cfg, eventBus, relayClient, engine, jnl)
	}

	// MQTT telemetry
	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// Interactive CLI
	cliHandler := cli.NewCLI(cfg, eventBus, relayClient, engine, jnl)

	// Operator shutdown requests arrive as bus events (CLI quit command)
	var shutdownOnce sync.Once
	shutdownCh := make(chan struct{})
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, e events.Event) error {
		shutdownOnce.Do(func() { close(shutdownCh) })
		return nil
	})

	if jnl != nil {
		rd := cfg.GetRelayData()
		if err := jnl.BeginSession(rd.Room, rd.Seed, rd.Mode); err != nil {
			log.Warn().Err(err).Msg("failed to begin journal session")
		}
	}

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	relayDone := make(chan struct{})

	// Task 1: relay session. There is no reconnect; when the session ends,
	// the process winds down.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("relay", cfg.GetRelayData().Addr()).Msg("starting relay session")
		if err := relayClient.Run(ctx); err != nil {
			errCh <- fmt.Errorf("relay session: %w", err)
			return
		}
		close(relayDone)
	}()

	// Task 2: REST API server (with retry for port binding)
	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", appData.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	// Task 3: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 4: background scheduler (journal pruning, status snapshots)
	sched := scheduler.NewScheduler(cfg, relayClient, engine, jnl)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	// Task 5: Interactive CLI. Runs untracked: the read loop blocks on
	// stdin and cannot be interrupted portably, so shutdown does not
	// wait for it.
	go func() {
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	case <-relayDone:
		log.Info().Msg("relay session ended")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Cancel the root context to signal all goroutines
	cancel()
	relayClient.Close()
	if apiServer != nil {
		apiServer.Stop()
	}

	// Wait for all tracked goroutines with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	// Stop the event bus, then close the journal once no handler can
	// still be writing to it.
	eventBus.Stop()
	if jnl != nil {
		jnl.EndSession()
		jnl.Close()
	}

	log.Info().Msg("Paceline stopped")
	return nil
}

// startWithRetry attempts to start a listener/server with retry on bind
// errors. Uses a fixed 3-second interval between retries, giving the OS
// time to release sockets after a previous process was force-killed.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			time.Sleep(3 * time.Second)
		}
	}
	return lastErr
}
