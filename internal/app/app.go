// -----------------------------------------------------------------------
// Package app wires the storage, service, and handler layers together
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/handlers"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/services/admission"
	"github.com/ternarybob/webpscan/internal/services/analyzer"
	"github.com/ternarybob/webpscan/internal/services/broadcast"
	"github.com/ternarybob/webpscan/internal/services/crawler"
	"github.com/ternarybob/webpscan/internal/services/email"
	"github.com/ternarybob/webpscan/internal/services/report"
	"github.com/ternarybob/webpscan/internal/services/retention"
	"github.com/ternarybob/webpscan/internal/services/scheduler"
	"github.com/ternarybob/webpscan/internal/services/stats"
	"github.com/ternarybob/webpscan/internal/services/validation"
	"github.com/ternarybob/webpscan/internal/services/webpzip"
	"github.com/ternarybob/webpscan/internal/services/worker"
	"github.com/ternarybob/webpscan/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Submission pipeline
	Validator        *validation.SubmissionValidator
	AdmissionService *admission.Service
	SchedulerService *scheduler.Service

	// Realtime progress
	Hub             *broadcast.Hub
	ProgressService *broadcast.ProgressService

	// Scan execution
	StatsService    *stats.Service
	AnalyzerService *analyzer.Service
	CrawlEngine     *crawler.Engine
	WorkerPool      *worker.Pool

	// Completion artifacts
	ReportService *report.Service
	ZipService    *webpzip.Service
	EmailService  *email.Service

	// Housekeeping
	RetentionService *retention.Service

	// HTTP handlers
	ScanHandler *handlers.ScanHandler
	APIHandler  *handlers.APIHandler
	WSHandler   *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.initHandlers()

	logger.Info().
		Bool("webp_conversion", app.ZipService != nil).
		Bool("email", cfg.Email.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	manager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}

	a.StorageManager = manager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

// initServices initializes all business services in dependency order
func (a *App) initServices() error {
	scans := a.StorageManager.ScanStorage()
	images := a.StorageManager.ImageStorage()
	checkpoints := a.StorageManager.CheckpointStorage()
	zips := a.StorageManager.ZipStorage()

	a.Validator = validation.NewSubmissionValidator(a.Logger)
	a.AdmissionService = admission.NewService(a.Config, scans, a.Logger)
	a.SchedulerService = scheduler.NewService(scans, a.Logger)

	a.Hub = broadcast.NewHub(a.Logger)
	a.ProgressService = broadcast.NewProgressService(a.Hub, a.SchedulerService, scans, checkpoints, a.Config, a.Logger)

	a.StatsService = stats.NewService(a.StorageManager.StatsStorage(), a.Logger)

	a.AnalyzerService = analyzer.NewService(
		a.Config.Crawler.PageFetchTimeout(),
		a.Config.Crawler.UserAgent,
		a.Logger,
	)

	fetcher := a.newPageFetcher()
	limiter := crawler.NewHostRateLimiter(a.Config.Crawler.PerRequestDelay())
	a.CrawlEngine = crawler.NewEngine(a.Config, fetcher, a.AnalyzerService, scans, images, checkpoints, limiter, a.ProgressService, a.Logger)

	a.ReportService = report.NewService(a.Logger)
	a.EmailService = email.NewService(a.Config, a.Logger)

	// The zip builder only comes up when conversion is enabled and the
	// encoder binary is on PATH; otherwise conversion requests are
	// recorded on the job and silently skipped.
	var zipBuilder worker.ZipBuilder
	if a.Config.WebPConversion.Enabled {
		transcoder := webpzip.NewCwebpTranscoder("", a.Logger)
		if transcoder.Available() {
			a.ZipService = webpzip.NewService(a.Config, zips, transcoder, a.Logger)
			zipBuilder = a.ZipService
		} else {
			a.Logger.Warn().Msg("cwebp binary not found; WebP conversion disabled")
		}
	}

	a.WorkerPool = worker.NewPool(
		a.Config,
		a.SchedulerService,
		a.CrawlEngine,
		scans, images, checkpoints,
		a.StatsService,
		a.ProgressService,
		zipBuilder,
		a.EmailService,
		a.Logger,
	)

	a.RetentionService = retention.NewService(
		a.Config,
		scans, images, checkpoints, zips,
		a.StatsService,
		a.ProgressService,
		a.Logger,
	)

	return nil
}

// newPageFetcher selects the crawl fetcher. Headless rendering costs an
// order of magnitude more per page, so the plain HTTP fetcher is the
// default.
func (a *App) newPageFetcher() interfaces.PageFetcher {
	if a.Config.Crawler.EnableJavaScript {
		a.Logger.Info().Msg("JavaScript rendering enabled; using headless browser fetcher")
		return crawler.NewChromeDPFetcher(
			a.Config.Crawler.PageFetchTimeout(),
			a.Config.Crawler.JavaScriptWait(),
			a.Config.Crawler.UserAgent,
			a.Logger,
		)
	}
	return crawler.NewHTTPFetcher(
		a.Config.Crawler.PageFetchTimeout(),
		a.Config.Crawler.UserAgent,
		a.Logger,
	)
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.ScanHandler = handlers.NewScanHandler(
		a.Config,
		a.Validator,
		a.AdmissionService,
		a.SchedulerService,
		a.StorageManager.ScanStorage(),
		a.StorageManager.ImageStorage(),
		a.StorageManager.ZipStorage(),
		a.StatsService,
		a.ProgressService,
		a.ReportService,
		a.WorkerPool,
		a.Logger,
	)
	a.APIHandler = handlers.NewAPIHandler(a.Config, a.StorageManager.ScanStorage(), a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Hub, a.ProgressService, a.Logger)
}

// Start launches the background services: interrupted-scan recovery, the
// worker pool, and the retention schedule.
func (a *App) Start(ctx context.Context) error {
	if err := a.WorkerPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := a.RetentionService.Start(); err != nil {
		return fmt.Errorf("failed to start retention service: %w", err)
	}
	return nil
}

// Close stops background services and closes all application resources.
// Workers are stopped first so their final checkpoint writes land before
// the database closes.
func (a *App) Close() error {
	if a.WorkerPool != nil {
		a.WorkerPool.Stop()
	}
	if a.RetentionService != nil {
		a.RetentionService.Stop()
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}
	return nil
}
