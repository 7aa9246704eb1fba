package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/isotope-submissions-api/internal/handler"
	"github.com/noah-isme/isotope-submissions-api/internal/notify"
	"github.com/noah-isme/isotope-submissions-api/internal/repository"
	"github.com/noah-isme/isotope-submissions-api/internal/service"
	"github.com/noah-isme/isotope-submissions-api/pkg/cache"
	"github.com/noah-isme/isotope-submissions-api/pkg/config"
	"github.com/noah-isme/isotope-submissions-api/pkg/database"
	"github.com/noah-isme/isotope-submissions-api/pkg/jobs"
	"github.com/noah-isme/isotope-submissions-api/pkg/storage"
)

const (
	cacheNamespace = "isotope"
	staleExportTTL = time.Hour
)

// App is the wired object graph for one process. It owns the single store
// handle every request shares.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Store   repository.Store
	Metrics *service.MetricsService

	Catalog     *service.CatalogService
	Submissions *service.SubmissionService
	Exports     *service.ExportService
	Reconciler  *service.ReconcileService
	Notifier    *notify.EmailNotifier

	redis       *redis.Client
	cacheRepo   *repository.CacheRepository
	notifyQueue *jobs.Queue
}

// New builds the application from configuration. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{Config: cfg, Logger: logger, Metrics: service.NewMetricsService()}

	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.Store = store

	var cacheSvc *service.CacheService
	client, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable; projection cache disabled", zap.Error(err))
	} else if client != nil {
		app.redis = client
		app.cacheRepo = repository.NewCacheRepository(client, cacheNamespace)
		cacheSvc = service.NewCacheService(app.cacheRepo, app.Metrics, cfg.Redis.CacheTTL, logger.Named("cache"), true)
	}

	app.Catalog = service.NewCatalogService(store, cacheSvc, logger.Named("catalog"))

	opts := []service.SubmissionServiceOption{
		service.WithAutoApprove(cfg.Review.AutoApprove),
		service.WithLifecycleMetrics(app.Metrics),
		service.WithProjectionInvalidator(app.Catalog),
	}
	if cfg.Email.Enabled {
		worker := notify.NewEmailWorker(cfg.Email, nil, app.Metrics, logger.Named("email"))
		app.notifyQueue = jobs.NewQueue("email", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Notify.Workers,
			MaxRetries: cfg.Notify.Retries,
			RetryDelay: cfg.Notify.RetryDelay,
			Logger:     logger.Named("queue"),
		})
		notifier, err := notify.NewEmailNotifier(cfg.Email, app.notifyQueue, app.Metrics, logger.Named("email"))
		if err != nil {
			_ = app.Close(ctx)
			return nil, err
		}
		app.Notifier = notifier
		opts = append(opts, service.WithObservers(notifier))
	}
	app.Submissions = service.NewSubmissionService(store, validator.New(), logger.Named("submissions"), opts...)

	publisher, err := OpenPublisher(ctx, cfg.Export, logger)
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	app.Exports = service.NewExportService(app.Catalog, publisher, service.ExportConfig{
		Title:       cfg.Export.PublishTitle,
		CSVFilename: cfg.Export.CSVFilename,
		PDFFilename: cfg.Export.PDFFilename,
	}, app.Metrics, logger.Named("export"))
	app.Reconciler = service.NewReconcileService(store, app.Metrics, logger.Named("reconcile"))
	return app, nil
}

// OpenStore opens the configured record store.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendCSV:
		store, err := repository.NewCSVStore(cfg.Storage.DataDir, cfg.Storage.LockTimeout)
		if err != nil {
			return nil, err
		}
		logger.Info("record store ready", zap.String("backend", store.Backend()), zap.String("dir", store.Dir()))
		return store, nil
	case config.BackendSQLite, config.BackendPostgres:
		db, err := openDB(cfg)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Storage.Backend, err)
		}
		store := repository.NewSQLStore(db, cfg.Storage.LockTimeout)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		logger.Info("record store ready", zap.String("backend", store.Backend()))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func openDB(cfg *config.Config) (*sqlx.DB, error) {
	if cfg.Storage.Backend == config.BackendSQLite {
		return database.NewSQLite(cfg.Storage.DataDir, cfg.Storage.LockTimeout)
	}
	return database.NewPostgres(cfg.Database)
}

// OpenPublisher builds the destination for published exports.
func OpenPublisher(ctx context.Context, cfg config.ExportConfig, logger *zap.Logger) (storage.Publisher, error) {
	switch cfg.Target {
	case config.ExportTargetS3:
		return storage.NewS3Publisher(ctx, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    cfg.S3Prefix,
			PathStyle: cfg.S3PathStyle,
		})
	default:
		local, err := storage.NewLocalStorage(cfg.Dir)
		if err != nil {
			return nil, err
		}
		if removed, err := local.CleanupTemps(staleExportTTL); err != nil {
			logger.Warn("failed to clean export dir", zap.String("dir", local.Dir()), zap.Error(err))
		} else if len(removed) > 0 {
			logger.Info("removed stale export temp files", zap.Int("count", len(removed)))
		}
		return local, nil
	}
}

// Start launches background workers and, when configured, the startup
// reconciliation sweep.
func (a *App) Start(ctx context.Context) {
	if a.notifyQueue != nil {
		a.notifyQueue.Start(context.WithoutCancel(ctx))
	}
	if a.Config.Reconcile.OnStartup {
		if _, err := a.Reconciler.Run(ctx); err != nil {
			a.Logger.Error("startup reconciliation failed", zap.Error(err))
		}
	}
}

// ReadinessChecks lists the dependencies /ready probes.
func (a *App) ReadinessChecks() map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{"store": a.Store.Ping}
	if a.cacheRepo != nil {
		checks["redis"] = a.cacheRepo.Ping
	}
	return checks
}

// Handlers builds the HTTP handlers.
func (a *App) Handlers() handler.Handlers {
	return handler.Handlers{
		Submissions: handler.NewSubmissionHandler(a.Submissions, a.Catalog),
		Exports:     handler.NewExportHandler(a.Exports),
		Admin: handler.NewAdminHandler(a.Reconciler, handler.StatusInfo{
			Backend:      a.Store.Backend(),
			EmailEnabled: a.Notifier.Enabled(),
			AutoApprove:  a.Submissions.AutoApprove(),
		}),
		Metrics: handler.NewMetricsHandler(a.Metrics, a.ReadinessChecks()),
	}
}

// Close drains pending notifications until ctx expires, then releases the
// store and cache connections.
func (a *App) Close(ctx context.Context) error {
	if a.notifyQueue != nil {
		a.notifyQueue.Stop(ctx)
	}
	var errs []error
	if a.cacheRepo != nil {
		errs = append(errs, a.cacheRepo.Close())
	} else if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
