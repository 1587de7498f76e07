// -----------------------------------------------------------------------
// Package crawler walks a submitted site and feeds discovered images
// through analysis
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/ternarybob/webpscan/internal/services/analyzer"
	"github.com/ternarybob/webpscan/internal/services/savings"
)

// ErrScanInterrupted reports a cooperative shutdown: the checkpoint is
// persisted and the job stays processing for the next startup recovery.
var ErrScanInterrupted = errors.New("scan interrupted by shutdown")

// ProgressNotifier receives page and image progress from the engine
type ProgressNotifier interface {
	PageScanned(ctx context.Context, job *models.ScanJob, currentURL string, pageDuration time.Duration)
	ImageFound(job *models.ScanJob, image *models.DiscoveredImage)
}

// ImageProber analyzes one image URL within a scan
type ImageProber interface {
	Analyze(ctx context.Context, scanID, imageURL string) (analyzer.Result, error)
	ForgetScan(scanID string)
}

// Engine runs one scan at a time per call. Instances are shared across
// workers; all per-scan state lives on the stack of Run.
type Engine struct {
	config      *common.Config
	fetcher     interfaces.PageFetcher
	prober      ImageProber
	scans       interfaces.ScanStorage
	images      interfaces.ImageStorage
	checkpoints interfaces.CheckpointStorage
	limiter     *HostRateLimiter
	progress    ProgressNotifier
	logger      arbor.ILogger
	now         func() time.Time
	// fetchRobots is swappable for tests
	fetchRobots func(ctx context.Context, siteURL, userAgent string, timeout time.Duration) *RobotsRules
}

// NewEngine creates a crawl engine
func NewEngine(config *common.Config, fetcher interfaces.PageFetcher, prober ImageProber, scans interfaces.ScanStorage, images interfaces.ImageStorage, checkpoints interfaces.CheckpointStorage, limiter *HostRateLimiter, progress ProgressNotifier, logger arbor.ILogger) *Engine {
	return &Engine{
		config:      config,
		fetcher:     fetcher,
		prober:      prober,
		scans:       scans,
		images:      images,
		checkpoints: checkpoints,
		limiter:     limiter,
		progress:    progress,
		logger:      logger,
		now:         time.Now,
		fetchRobots: FetchRobots,
	}
}

// frontier is the in-memory crawl state mirrored by checkpoints
type frontier struct {
	pending []string
	visited map[string]bool
}

func (f *frontier) push(u string) {
	if !f.visited[u] && !f.contains(u) {
		f.pending = append(f.pending, u)
	}
}

func (f *frontier) contains(u string) bool {
	for _, p := range f.pending {
		if p == u {
			return true
		}
	}
	return false
}

func (f *frontier) pop() (string, bool) {
	for len(f.pending) > 0 {
		u := f.pending[0]
		f.pending = f.pending[1:]
		if !f.visited[u] {
			return u, true
		}
	}
	return "", false
}

// Run crawls the job's site until the frontier drains or a limit trips.
// A nil return means the scan completed; ErrScanInterrupted means a
// cooperative shutdown left the job resumable; any other error is a
// scan-level failure with the job counters already up to date.
func (e *Engine) Run(ctx context.Context, job *models.ScanJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("scan_id", job.ID).
				Msgf("Crawl panicked: %v", r)
			err = fmt.Errorf("internal error during crawl: %v", r)
		}
		e.prober.ForgetScan(job.ID)
	}()

	start := common.NormalizeURL(job.URL)

	f, resumed, err := e.initFrontier(ctx, job, start)
	if err != nil {
		return err
	}

	robots := e.fetchRobots(ctx, start, e.config.Crawler.UserAgent, e.config.Crawler.PageFetchTimeout())

	deadline := e.now().Add(e.config.Crawler.MaxScanDuration())
	if job.StartedAt != nil {
		deadline = job.StartedAt.Add(e.config.Crawler.MaxScanDuration())
	}

	e.logger.Info().
		Str("scan_id", job.ID).
		Str("url", start).
		Bool("resumed", resumed).
		Int("pending", len(f.pending)).
		Msg("Crawl starting")

	pagesSinceCheckpoint := 0
	anySuccess := job.PagesScanned > 0

	for {
		if ctx.Err() != nil {
			e.persistCheckpoint(job, f, "")
			return ErrScanInterrupted
		}
		if e.now().After(deadline) {
			e.logger.Info().Str("scan_id", job.ID).Msg("Scan duration limit reached")
			break
		}
		if job.PagesScanned >= e.config.Crawler.MaxPagesPerScan {
			e.logger.Info().Str("scan_id", job.ID).Msg("Page limit reached")
			break
		}

		pageURL, ok := f.pop()
		if !ok {
			break
		}
		if !robots.Allowed(pageURL) {
			f.visited[pageURL] = true
			continue
		}

		if err := e.limiter.Wait(ctx, pageURL); err != nil {
			e.persistCheckpoint(job, f, pageURL)
			return ErrScanInterrupted
		}

		pageStart := e.now()
		result := e.fetcher.FetchPage(ctx, pageURL)
		f.visited[pageURL] = true

		if !result.OK {
			if result.ErrorKind == interfaces.PageErrorCancelled {
				e.persistCheckpoint(job, f, pageURL)
				return ErrScanInterrupted
			}
			e.logger.Debug().
				Str("scan_id", job.ID).
				Str("url", pageURL).
				Str("kind", string(result.ErrorKind)).
				Str("detail", result.ErrorDetail).
				Msg("Page skipped")

			// The scan only fails when the very first page is unreachable
			if !anySuccess && job.PagesScanned == 0 && len(f.visited) == 1 {
				return fmt.Errorf("initial URL unreachable: %s", result.ErrorDetail)
			}
			job.PagesScanned++
			job.PagesDiscovered = len(f.visited) + len(f.pending)
			continue
		}
		anySuccess = true

		doc, derr := goquery.NewDocumentFromReader(strings.NewReader(result.HTML))
		if derr != nil {
			e.logger.Debug().
				Str("scan_id", job.ID).
				Str("url", pageURL).
				Err(derr).
				Msg("Page parse failed, skipped")
			job.PagesScanned++
			continue
		}

		for _, link := range ExtractLinks(doc, pageURL) {
			f.push(link)
		}
		e.processImages(ctx, job, doc, pageURL)

		job.PagesScanned++
		job.PagesDiscovered = len(f.visited) + len(f.pending)

		e.progress.PageScanned(ctx, job, pageURL, e.now().Sub(pageStart))

		pagesSinceCheckpoint++
		if pagesSinceCheckpoint >= e.config.Crawler.CheckpointEveryPages {
			e.persistCheckpoint(job, f, pageURL)
			if serr := e.scans.SaveScan(ctx, job); serr != nil {
				return fmt.Errorf("failed to persist scan progress: %w", serr)
			}
			pagesSinceCheckpoint = 0
		}
	}

	job.PagesDiscovered = len(f.visited) + len(f.pending)
	job.ReachedPageLimit = job.PagesDiscovered > job.PagesScanned

	// Final safe-point checkpoint; retention removes it with the scan
	e.persistCheckpoint(job, f, "")

	e.logger.Info().
		Str("scan_id", job.ID).
		Int("pages_scanned", job.PagesScanned).
		Int("pages_discovered", job.PagesDiscovered).
		Int("images", job.NonWebPImagesFound).
		Bool("reached_page_limit", job.ReachedPageLimit).
		Msg("Crawl finished")
	return nil
}

// initFrontier restores a persisted checkpoint or seeds a fresh frontier
func (e *Engine) initFrontier(ctx context.Context, job *models.ScanJob, start string) (*frontier, bool, error) {
	f := &frontier{visited: make(map[string]bool)}

	cp, err := e.checkpoints.GetCheckpoint(ctx, job.ID)
	if err == nil {
		for _, u := range cp.VisitedURLs {
			f.visited[u] = true
		}
		f.pending = append(f.pending, cp.PendingURLs...)
		job.PagesScanned = cp.PagesVisited
		job.PagesDiscovered = cp.PagesDiscovered
		job.NonWebPImagesFound = cp.NonWebPImagesFound
		return f, true, nil
	}
	if !errors.Is(err, interfaces.ErrCheckpointNotFound) {
		return nil, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	f.pending = []string{start}
	job.PagesScanned = 0
	job.PagesDiscovered = 1
	e.persistCheckpoint(job, f, "")
	return f, false, nil
}

// processImages analyzes every unseen image reference on the page
func (e *Engine) processImages(ctx context.Context, job *models.ScanJob, doc *goquery.Document, pageURL string) {
	for _, ref := range ExtractImages(doc, pageURL) {
		if ctx.Err() != nil {
			return
		}

		probe, err := e.prober.Analyze(ctx, job.ID, ref.URL)
		if err != nil {
			e.logger.Debug().
				Str("scan_id", job.ID).
				Str("image_url", ref.URL).
				Err(err).
				Msg("Image probe failed, skipped")
			continue
		}
		if probe.IsWebP {
			continue
		}

		estimate := savings.EstimateFor(probe.MimeType, probe.SizeBytes)
		image := &models.DiscoveredImage{
			ID:                      common.NewImageID(),
			ScanID:                  job.ID,
			ImageURL:                ref.URL,
			PageURLs:                []string{pageURL},
			MimeType:                probe.MimeType,
			SizeBytes:               probe.SizeBytes,
			PotentialSavingsPercent: estimate.SavingsPercent,
			PotentialSavingsBytes:   estimate.SavingsBytes,
			Category:                savings.Categorize(ref.URL, ref.Alt),
			DiscoveredAt:            e.now(),
		}

		inserted, err := e.images.UpsertImage(ctx, image)
		if err != nil {
			e.logger.Warn().
				Str("scan_id", job.ID).
				Str("image_url", ref.URL).
				Err(err).
				Msg("Failed to persist image")
			continue
		}
		if inserted {
			job.NonWebPImagesFound++
			e.progress.ImageFound(job, image)
		}
	}
}

// persistCheckpoint writes the frontier snapshot; failures are logged
// and the crawl continues, trading resume fidelity for availability.
func (e *Engine) persistCheckpoint(job *models.ScanJob, f *frontier, currentURL string) {
	visited := make([]string, 0, len(f.visited))
	for u := range f.visited {
		visited = append(visited, u)
	}

	pending := make([]string, 0, len(f.pending))
	for _, u := range f.pending {
		if !f.visited[u] {
			pending = append(pending, u)
		}
	}

	cp := &models.CrawlCheckpoint{
		ScanID:             job.ID,
		VisitedURLs:        visited,
		PendingURLs:        pending,
		NonWebPImagesFound: job.NonWebPImagesFound,
		CurrentURL:         currentURL,
	}
	if err := e.checkpoints.SaveCheckpoint(context.Background(), cp); err != nil {
		e.logger.Warn().
			Str("scan_id", job.ID).
			Err(err).
			Msg("Failed to persist checkpoint")
	}
}
