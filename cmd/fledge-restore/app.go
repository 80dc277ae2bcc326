package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/charithmadhuranga/fledge/internal/audit"
	auditfactory "github.com/charithmadhuranga/fledge/internal/audit/factory"
	"github.com/charithmadhuranga/fledge/internal/catalog"
	catalogfactory "github.com/charithmadhuranga/fledge/internal/catalog/factory"
	"github.com/charithmadhuranga/fledge/internal/config"
	"github.com/charithmadhuranga/fledge/internal/joblock"
	"github.com/charithmadhuranga/fledge/internal/logger"
	"github.com/charithmadhuranga/fledge/internal/restore"
	"github.com/charithmadhuranga/fledge/internal/runner"
	"github.com/charithmadhuranga/fledge/internal/service"
)

// App wires one process run: configuration, catalog, lock, controller.
// Collaborators are passed explicitly; nothing lives in package globals.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Catalog catalog.Catalog
	Lock    *joblock.Guard
	Runner  runner.Runner
	Service *service.Controller
	Audit   audit.Sink
}

func newApp(gf GlobalFlags) (*App, error) {
	log := logger.New(logger.Config{Level: gf.LogLevel, File: gf.LogFile})

	var provider config.Provider
	if gf.ManagerURL != "" {
		provider = config.ManagerProvider{BaseURL: gf.ManagerURL}
	}
	cacheDir := gf.CacheDir
	if cacheDir == "" {
		cacheDir = config.Defaults().LockDir
	}
	cfg, err := config.Loader{Provider: provider, CacheDir: cacheDir, Logger: log}.Load()
	if err != nil {
		return nil, err
	}

	cat, err := catalogfactory.NewFromDSN(cfg.CatalogDSN)
	if err != nil {
		return nil, fmt.Errorf("open backup catalog: %w", err)
	}

	var sink audit.Sink
	if cfg.AuditDSN != "" {
		sink, err = auditfactory.NewSinkFromDSN(cfg.AuditDSN)
		if err != nil {
			// The audit trail is best-effort; a broken sink must not block
			// a restore.
			log.Warn("audit sink unavailable", "dsn", cfg.AuditDSN, "error", err)
			sink = nil
		}
	}

	run := runner.New(log)
	ctrl := &service.Controller{
		ServiceName:       cfg.ServiceName,
		ServiceRoot:       cfg.ServiceRoot,
		MaxRetry:          cfg.MaxRetry,
		Timeout:           cfg.Timeout,
		RestartMaxRetries: cfg.RestartMaxRetries,
		RestartSleep:      cfg.RestartSleep,
		Runner:            run,
		Logger:            log,
	}

	return &App{
		Config:  cfg,
		Logger:  log,
		Catalog: cat,
		Lock:    joblock.New(cfg.LockDir, log),
		Runner:  run,
		Service: ctrl,
		Audit:   sink,
	}, nil
}

// Orchestrator builds a fresh orchestrator for one run.
func (a *App) Orchestrator() *restore.Orchestrator {
	return &restore.Orchestrator{
		Catalog:  a.Catalog,
		Lock:     a.Lock,
		Service:  a.Service,
		Runner:   a.Runner,
		Audit:    a.Audit,
		Logger:   a.Logger,
		Database: a.Config.Database,
		Timeout:  a.Config.Timeout,
		OwnPID:   os.Getpid(),
	}
}

func (a *App) Close() {
	if a.Catalog != nil {
		_ = a.Catalog.Close()
	}
	if a.Audit != nil {
		_ = a.Audit.Close()
	}
}
