// -----------------------------------------------------------------------
// Package worker drives queued scans through the crawl engine with a
// bounded goroutine pool
// -----------------------------------------------------------------------

package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/ternarybob/webpscan/internal/services/broadcast"
	"github.com/ternarybob/webpscan/internal/services/crawler"
	"github.com/ternarybob/webpscan/internal/services/savings"
	"github.com/ternarybob/webpscan/internal/services/scheduler"
	"github.com/ternarybob/webpscan/internal/services/stats"
)

// pollInterval bounds how long a worker sleeps between queue checks when
// no wake signal arrives.
const pollInterval = 2 * time.Second

// ZipBuilder packages a completed scan's images as WebP conversions
type ZipBuilder interface {
	BuildForScan(ctx context.Context, job *models.ScanJob, images []*models.DiscoveredImage) (*models.ConvertedImageZip, error)
}

// CompletionNotifier sends the completion email when the submitter asked
// for one. Implementations are fire-and-forget and log their own errors.
type CompletionNotifier interface {
	NotifyScanComplete(job *models.ScanJob, summary savings.Summary)
}

// Pool claims queued scans in fair-share order and runs them through the
// crawl engine, at most maxConcurrentScans at a time.
type Pool struct {
	config      *common.Config
	scheduler   *scheduler.Service
	engine      *crawler.Engine
	scans       interfaces.ScanStorage
	images      interfaces.ImageStorage
	checkpoints interfaces.CheckpointStorage
	stats       *stats.Service
	progress    *broadcast.ProgressService
	zips        ZipBuilder
	notifier    CompletionNotifier
	logger      arbor.ILogger

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewPool creates the worker pool. zips and notifier may be nil when
// conversion or email are disabled.
func NewPool(config *common.Config, sched *scheduler.Service, engine *crawler.Engine, scans interfaces.ScanStorage, images interfaces.ImageStorage, checkpoints interfaces.CheckpointStorage, statsService *stats.Service, progress *broadcast.ProgressService, zips ZipBuilder, notifier CompletionNotifier, logger arbor.ILogger) *Pool {
	return &Pool{
		config:      config,
		scheduler:   sched,
		engine:      engine,
		scans:       scans,
		images:      images,
		checkpoints: checkpoints,
		stats:       statsService,
		progress:    progress,
		zips:        zips,
		notifier:    notifier,
		logger:      logger,
		wake:        make(chan struct{}, 1),
		now:         time.Now,
	}
}

// Start recovers interrupted scans and launches the worker goroutines
func (p *Pool) Start(ctx context.Context) error {
	if err := p.recover(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	workers := p.config.Crawler.MaxConcurrentScans
	p.logger.Info().Int("max_workers", workers).Msg("Starting scan worker pool")

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx, i)
	}
	return nil
}

// Stop cancels all running scans cooperatively and waits for them to
// persist their checkpoints.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("Scan worker pool stopped")
}

// Wake nudges an idle worker after an enqueue; never blocks
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// recover handles jobs left processing by a previous run: with a
// checkpoint they resume where they stopped, without one they restart
// from scratch. Either way the original StartedAt survives.
func (p *Pool) recover(ctx context.Context) error {
	jobs, err := p.scans.GetScansByStatus(ctx, models.ScanStatusProcessing)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		_, cperr := p.checkpoints.GetCheckpoint(ctx, job.ID)
		resumable := cperr == nil

		if !resumable {
			// No checkpoint: the scan restarts from its initial URL
			job.PagesScanned = 0
			job.PagesDiscovered = 0
			job.NonWebPImagesFound = 0
		}

		job.Status = models.ScanStatusQueued
		if err := p.scans.SaveScan(ctx, job); err != nil {
			p.logger.Error().Str("scan_id", job.ID).Err(err).Msg("Failed to requeue interrupted scan")
			continue
		}
		p.logger.Info().
			Str("scan_id", job.ID).
			Bool("resumable", resumable).
			Msg("Requeued interrupted scan")
	}
	return nil
}

// worker is one scan slot: it waits for work, claims the next job in
// fair-share order, and runs it to a terminal state.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().Int("worker_id", id).Msg("Worker stopping")
			return
		case <-p.wake:
		case <-ticker.C:
		}

		for {
			if ctx.Err() != nil {
				return
			}
			job, err := p.claimNext(ctx)
			if err != nil {
				p.logger.Error().Int("worker_id", id).Err(err).Msg("Failed to claim next scan")
				break
			}
			if job == nil {
				break
			}
			p.runScan(ctx, job)
		}
	}
}

// claimNext picks the highest-priority queued job and claims it. A lost
// claim race retries with the next candidate.
func (p *Pool) claimNext(ctx context.Context) (*models.ScanJob, error) {
	for {
		job, err := p.scheduler.NextJob(ctx)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, nil
		}

		claimed, err := p.scans.ClaimScan(ctx, job.ID, p.now())
		if err != nil {
			if errors.Is(err, interfaces.ErrScanNotFound) {
				continue
			}
			return nil, err
		}
		if !claimed {
			continue
		}
		return p.scans.GetScan(ctx, job.ID)
	}
}

// runScan executes one claimed job through the engine and finalizes it
func (p *Pool) runScan(ctx context.Context, job *models.ScanJob) {
	p.logger.Info().
		Str("scan_id", job.ID).
		Str("url", job.URL).
		Msg("Scan started")
	p.progress.ScanStarted(ctx, job)

	err := p.engine.Run(ctx, job)

	switch {
	case errors.Is(err, crawler.ErrScanInterrupted):
		// Leave the job processing; recovery resumes it on next start
		if serr := p.scans.SaveScan(context.Background(), job); serr != nil {
			p.logger.Error().Str("scan_id", job.ID).Err(serr).Msg("Failed to persist interrupted scan")
		}
		p.logger.Info().Str("scan_id", job.ID).Msg("Scan interrupted, checkpoint persisted")
	case err != nil:
		p.failScan(job, err.Error())
	default:
		p.completeScan(ctx, job)
	}
}

func (p *Pool) failScan(job *models.ScanJob, message string) {
	ctx := context.Background()

	now := p.now()
	job.Status = models.ScanStatusFailed
	job.CompletedAt = &now
	job.ErrorMessage = message

	if err := p.scans.SaveScan(ctx, job); err != nil {
		p.logger.Error().Str("scan_id", job.ID).Err(err).Msg("Failed to persist failed scan")
	}

	p.logger.Warn().
		Str("scan_id", job.ID).
		Str("reason", message).
		Msg("Scan failed")

	p.progress.ScanFinished(ctx, job, models.EventScanFailed, models.ScanFailed{
		ScanID:       job.ID,
		ErrorMessage: message,
	})
}

// completeScan finalizes a successful crawl: terminal status, aggregate
// stats contribution, optional zip and email, completion event.
func (p *Pool) completeScan(ctx context.Context, job *models.ScanJob) {
	// Finalization uses a fresh context so a shutdown mid-completion
	// does not leave a half-finalized scan.
	finCtx := context.Background()

	now := p.now()
	job.Status = models.ScanStatusCompleted
	job.CompletedAt = &now

	if err := p.scans.SaveScan(finCtx, job); err != nil {
		p.failScan(job, "failed to persist scan results")
		return
	}

	images, err := p.images.GetImagesByScan(finCtx, job.ID)
	if err != nil {
		p.logger.Error().Str("scan_id", job.ID).Err(err).Msg("Failed to load images for completion")
		images = nil
	}
	summary := savings.Summarize(images)

	contribution := models.ContributionFromImages(job, images)
	if err := p.stats.ApplyScanContribution(finCtx, contribution); err != nil {
		p.logger.Error().Str("scan_id", job.ID).Err(err).Msg("Failed to apply stats contribution")
	}

	var zipDownloadID string
	if p.zips != nil && job.ConvertToWebP {
		if zip, zerr := p.zips.BuildForScan(finCtx, job, images); zerr != nil {
			p.logger.Warn().Str("scan_id", job.ID).Err(zerr).Msg("WebP zip build failed")
		} else if zip != nil {
			zipDownloadID = zip.DownloadID
		}
	}

	if p.notifier != nil && job.Email != "" {
		p.notifier.NotifyScanComplete(job, summary)
	}

	duration := 0.0
	if job.StartedAt != nil {
		duration = now.Sub(*job.StartedAt).Seconds()
	}

	p.logger.Info().
		Str("scan_id", job.ID).
		Int("pages", job.PagesScanned).
		Int("images", job.NonWebPImagesFound).
		Int64("savings_bytes", summary.TotalSavingsBytes).
		Msg("Scan completed")

	p.progress.ScanFinished(finCtx, job, models.EventScanComplete, models.ScanComplete{
		ScanID:             job.ID,
		PagesScanned:       job.PagesScanned,
		PagesDiscovered:    job.PagesDiscovered,
		NonWebPImagesFound: job.NonWebPImagesFound,
		TotalSavingsBytes:  summary.TotalSavingsBytes,
		AverageSavingsPct:  summary.AverageSavingsPercent,
		ReachedPageLimit:   job.ReachedPageLimit,
		ReportAvailable:    true,
		ZipDownloadID:      zipDownloadID,
		DurationSeconds:    duration,
	})
}
