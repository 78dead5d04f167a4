package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Taylor-Ding/ech/internal/app"
	"github.com/Taylor-Ding/ech/internal/config"
	"github.com/Taylor-Ding/ech/internal/logging"
	"github.com/Taylor-Ding/ech/internal/process"
	"github.com/Taylor-Ding/ech/internal/profile"
	"github.com/Taylor-Ding/ech/internal/state"
	"github.com/Taylor-Ding/ech/internal/sysproxy"
	"github.com/Taylor-Ding/ech/internal/ui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dir := config.Dir()
	if err := config.EnsureDir(dir); err != nil {
		return err
	}
	settingsPath := flag.String("settings", config.SettingsPath(dir), "path to settings.yaml")
	flag.Parse()

	cfg, err := config.LoadSettings(*settingsPath, dir)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogFile, logging.ParseLevel(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Close()

	baseCtx := logging.WithContext(context.Background(), logger)
	ctx, stop := signal.NotifyContext(baseCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Infof("ECH Workers client %s starting (config dir: %s)", app.Version, cfg.Dir)
	if cfg.WorkerPath != "" {
		logger.Debugf("worker path override: %s", cfg.WorkerPath)
	}

	return startApp(ctx, cfg)
}

func startApp(ctx context.Context, cfg *config.Settings) error {
	logger, ok := logging.FromContext(ctx)
	if !ok {
		return fmt.Errorf("logger not found in context")
	}
	store := profile.OpenDefault(cfg.Dir, logger)
	bus := state.NewBus()

	var application *app.Application
	supervisor := process.NewSupervisor(process.Options{
		Finder:   process.NewResolver(cfg.WorkerPath),
		Emitter:  bus,
		Logger:   logger,
		Encoding: cfg.WorkerEncoding,
		OnExit: func(payload state.ExitPayload) {
			if application != nil {
				application.HandleWorkerExit(payload)
			}
		},
	})
	platform := sysproxy.Detect()
	logger.Debugf("system proxy platform: %s", platform)

	application, err := app.New(app.Options{
		Store:      store,
		Supervisor: supervisor,
		Proxy:      sysproxy.New(platform, logger),
		Emitter:    bus,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	uiManager := ui.NewManager(ui.Options{
		AppID:   "com.echworkers.client",
		AppName: "ECH Workers",
		Logger:  logger,
		Backend: application,
		Events:  bus,
	})

	loopDone := make(chan struct{})
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logger.Infof("shutdown requested")
			application.Shutdown()
			uiManager.Shutdown()
		case <-loopDone:
		}
		close(done)
	}()
	logger.Infof("entering UI loop")
	uiManager.RunMainLoop()
	close(loopDone)
	logger.Infof("UI loop exited, stopping application")
	application.Shutdown()
	uiManager.Shutdown()
	<-done
	return nil
}
