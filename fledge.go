package fledge

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/charithmadhuranga/fledge/internal/audit"
	auditfactory "github.com/charithmadhuranga/fledge/internal/audit/factory"
	"github.com/charithmadhuranga/fledge/internal/catalog"
	catalogfactory "github.com/charithmadhuranga/fledge/internal/catalog/factory"
	cfg "github.com/charithmadhuranga/fledge/internal/config"
	"github.com/charithmadhuranga/fledge/internal/joblock"
	"github.com/charithmadhuranga/fledge/internal/logger"
	"github.com/charithmadhuranga/fledge/internal/metrics"
	"github.com/charithmadhuranga/fledge/internal/restore"
	"github.com/charithmadhuranga/fledge/internal/runner"
	iapi "github.com/charithmadhuranga/fledge/internal/server"
	"github.com/charithmadhuranga/fledge/internal/service"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Backup = catalog.Backup

type BackupStatus = catalog.Status

type Request = restore.Request

type AuditSink = audit.Sink

// Restorer is a thin facade over the internal orchestrator, for embedding
// the cold-restore engine in another process.
type Restorer struct {
	inner *restore.Orchestrator
	cat   catalog.Catalog
	sink  audit.Sink
}

// NewRestorer builds a restorer from a resolved configuration.
func NewRestorer(c Config, log *slog.Logger) (*Restorer, error) {
	if log == nil {
		log = logger.New(logger.Config{})
	}
	cat, err := catalogfactory.NewFromDSN(c.CatalogDSN)
	if err != nil {
		return nil, err
	}
	var sink audit.Sink
	if c.AuditDSN != "" {
		if sink, err = auditfactory.NewSinkFromDSN(c.AuditDSN); err != nil {
			_ = cat.Close()
			return nil, err
		}
	}
	run := runner.New(log)
	return &Restorer{
		cat:  cat,
		sink: sink,
		inner: &restore.Orchestrator{
			Catalog: cat,
			Lock:    joblock.New(c.LockDir, log),
			Service: &service.Controller{
				ServiceName:       c.ServiceName,
				ServiceRoot:       c.ServiceRoot,
				MaxRetry:          c.MaxRetry,
				Timeout:           c.Timeout,
				RestartMaxRetries: c.RestartMaxRetries,
				RestartSleep:      c.RestartSleep,
				Runner:            run,
				Logger:            log,
			},
			Runner:   run,
			Audit:    sink,
			Logger:   log,
			Database: c.Database,
			Timeout:  c.Timeout,
		},
	}, nil
}

// Run executes one full restore run for the request.
func (r *Restorer) Run(ctx context.Context, req Request) error { return r.inner.Run(ctx, req) }

// LatestBackup returns the record a plain restore would pick.
func (r *Restorer) LatestBackup(ctx context.Context) (Backup, error) {
	return r.cat.IdentifyLastBackup(ctx)
}

func (r *Restorer) Close() error {
	if r.sink != nil {
		_ = r.sink.Close()
	}
	return r.cat.Close()
}

// LoadConfig resolves configuration from the manager at managerURL with the
// cache directory as fallback; empty managerURL reads the cache only.
func LoadConfig(managerURL, cacheDir string, log *slog.Logger) (Config, error) {
	var provider cfg.Provider
	if managerURL != "" {
		provider = cfg.ManagerProvider{BaseURL: managerURL}
	}
	return cfg.Loader{Provider: provider, CacheDir: cacheDir, Logger: log}.Load()
}

// NewHTTPServer exposes the on-demand trigger API for an embedded restorer.
func NewHTTPServer(addr, basePath string, c Config, r *Restorer, log *slog.Logger) *http.Server {
	api := &iapi.API{
		Catalog: r.cat,
		Lock:    joblock.New(c.LockDir, log),
		Service: r.inner.Service,
		Logger:  log,
		Run: func(ctx context.Context, req restore.Request) error {
			return r.Run(ctx, req)
		},
	}
	return iapi.NewServer(addr, basePath, api)
}

// RegisterMetrics registers the restore collectors (public facade).
func RegisterMetrics(reg prometheus.Registerer) error { return metrics.Register(reg) }

// DefaultTimeout is a sane per-command timeout for embedded use.
const DefaultTimeout = 30 * time.Second
