package broadcast

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/ternarybob/webpscan/internal/services/scheduler"
)

const (
	// queuePositionMinInterval throttles per-scan position rebroadcasts
	queuePositionMinInterval = 5 * time.Second
	// remainingPagesDelta forces a rebroadcast regardless of the interval
	// when the total remaining work shifted this much.
	remainingPagesDelta = 5
)

// WaitUnknown marks an estimate the service cannot compute yet
const WaitUnknown = -1

// ProgressService owns the realtime view of the queue: it broadcasts
// scan lifecycle events, keeps waiting clients' queue positions fresh,
// and answers reconnect snapshots.
type ProgressService struct {
	hub         *Hub
	scheduler   *scheduler.Service
	scanStorage interfaces.ScanStorage
	checkpoints interfaces.CheckpointStorage
	config      *common.Config
	logger      arbor.ILogger
	now         func() time.Time

	mu sync.Mutex
	// lastPositionBroadcast tracks per-scan throttle state
	lastPositionBroadcast map[string]time.Time
	// lastRemainingPages is the remaining-work total at the last broadcast
	lastRemainingPages int
	// activeRemaining tracks pages left per processing scan
	activeRemaining map[string]int
	// pageDurations feeds the historical seconds-per-page average
	avgSecondsPerPage float64
	pagesTimed        int64
}

// NewProgressService creates the progress broadcaster
func NewProgressService(hub *Hub, sched *scheduler.Service, scanStorage interfaces.ScanStorage, checkpoints interfaces.CheckpointStorage, config *common.Config, logger arbor.ILogger) *ProgressService {
	return &ProgressService{
		hub:                   hub,
		scheduler:             sched,
		scanStorage:           scanStorage,
		checkpoints:           checkpoints,
		config:                config,
		logger:                logger,
		now:                   time.Now,
		lastPositionBroadcast: make(map[string]time.Time),
		activeRemaining:       make(map[string]int),
	}
}

// Hub exposes the underlying hub for subscription management
func (p *ProgressService) Hub() *Hub {
	return p.hub
}

// ScanEnqueued broadcasts the initial queue position and refreshes every
// other waiting scan, since a new arrival may shift their estimates.
func (p *ProgressService) ScanEnqueued(ctx context.Context, scanID string) {
	p.broadcastQueuePositions(ctx, scanID)
}

// ScanStarted announces the queued -> processing transition and seeds
// the remaining-pages tracker for wait estimation.
func (p *ProgressService) ScanStarted(ctx context.Context, job *models.ScanJob) {
	p.mu.Lock()
	p.activeRemaining[job.ID] = p.config.Queue.DefaultEstimatedPagesPerSite
	delete(p.lastPositionBroadcast, job.ID)
	p.mu.Unlock()

	startedAt := p.now()
	if job.StartedAt != nil {
		startedAt = *job.StartedAt
	}
	p.hub.Broadcast(models.ScanGroup(job.ID), models.EventScanStarted, models.ScanStarted{
		ScanID:    job.ID,
		URL:       job.URL,
		StartedAt: startedAt,
	})

	// Positions shift for everyone still waiting
	p.broadcastQueuePositions(ctx, "")
}

// PageScanned records one scanned page, emits PageProgress, and
// rebroadcasts queue positions when the throttle allows.
func (p *ProgressService) PageScanned(ctx context.Context, job *models.ScanJob, currentURL string, pageDuration time.Duration) {
	remaining := job.PagesDiscovered - job.PagesScanned
	if remaining < 0 {
		remaining = 0
	}
	if budget := p.config.Crawler.MaxPagesPerScan - job.PagesScanned; budget >= 0 && budget < remaining {
		remaining = budget
	}

	p.mu.Lock()
	p.activeRemaining[job.ID] = remaining
	if pageDuration > 0 {
		// Running average across all scans, used for wait estimates
		total := p.avgSecondsPerPage*float64(p.pagesTimed) + pageDuration.Seconds()
		p.pagesTimed++
		p.avgSecondsPerPage = total / float64(p.pagesTimed)
	}
	p.mu.Unlock()

	p.hub.Broadcast(models.ScanGroup(job.ID), models.EventPageProgress, models.PageProgress{
		ScanID:             job.ID,
		PagesScanned:       job.PagesScanned,
		PagesDiscovered:    job.PagesDiscovered,
		NonWebPImagesFound: job.NonWebPImagesFound,
		CurrentURL:         currentURL,
		ProgressPercent:    job.ProgressPercent(),
	})

	p.maybeBroadcastQueuePositions(ctx)
}

// ImageFound emits the per-image discovery event
func (p *ProgressService) ImageFound(job *models.ScanJob, image *models.DiscoveredImage) {
	p.hub.Broadcast(models.ScanGroup(job.ID), models.EventImageFound, models.ImageFound{
		ScanID:                  job.ID,
		ImageURL:                image.ImageURL,
		MimeType:                image.MimeType,
		SizeBytes:               image.SizeBytes,
		PotentialSavingsPercent: image.PotentialSavingsPercent,
		PotentialSavingsBytes:   image.PotentialSavingsBytes,
		Category:                image.Category,
	})
}

// ScanFinished emits the terminal event and clears the scan's trackers
func (p *ProgressService) ScanFinished(ctx context.Context, job *models.ScanJob, event models.EventType, payload interface{}) {
	p.mu.Lock()
	delete(p.activeRemaining, job.ID)
	delete(p.lastPositionBroadcast, job.ID)
	p.mu.Unlock()

	p.hub.Broadcast(models.ScanGroup(job.ID), event, payload)

	// A worker slot opened; waiting scans move up
	p.broadcastQueuePositions(ctx, "")
}

// BroadcastStats pushes an aggregate snapshot to the stats group
func (p *ProgressService) BroadcastStats(update *models.StatsUpdate) {
	p.hub.Broadcast(models.StatsGroup, models.EventStatsUpdate, update)
}

// maybeBroadcastQueuePositions applies the throttle: at most one refresh
// per scan per interval, unless total remaining work moved by the delta.
func (p *ProgressService) maybeBroadcastQueuePositions(ctx context.Context) {
	p.mu.Lock()
	totalRemaining := 0
	for _, r := range p.activeRemaining {
		totalRemaining += r
	}
	delta := totalRemaining - p.lastRemainingPages
	if delta < 0 {
		delta = -delta
	}
	force := delta >= remainingPagesDelta
	p.mu.Unlock()

	if force {
		p.broadcastQueuePositions(ctx, "")
		return
	}
	p.broadcastThrottled(ctx)
}

// broadcastThrottled refreshes only scans whose last update is older
// than the minimum interval.
func (p *ProgressService) broadcastThrottled(ctx context.Context) {
	jobs, err := p.scheduler.QueuedJobs(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to load queue for position broadcast")
		return
	}

	now := p.now()
	estimator := p.newWaitEstimator()
	for i, job := range jobs {
		p.mu.Lock()
		last, seen := p.lastPositionBroadcast[job.ID]
		due := !seen || now.Sub(last) >= queuePositionMinInterval
		if due {
			p.lastPositionBroadcast[job.ID] = now
		}
		p.mu.Unlock()
		if !due {
			continue
		}
		p.emitPosition(job.ID, i+1, estimator)
	}
	p.rememberRemaining()
}

// broadcastQueuePositions refreshes every queued scan immediately.
// forScanID, when set, is broadcast even if it is not yet visible in the
// queue listing (freshly enqueued).
func (p *ProgressService) broadcastQueuePositions(ctx context.Context, forScanID string) {
	jobs, err := p.scheduler.QueuedJobs(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to load queue for position broadcast")
		return
	}

	now := p.now()
	estimator := p.newWaitEstimator()
	seen := false
	for i, job := range jobs {
		if job.ID == forScanID {
			seen = true
		}
		p.mu.Lock()
		p.lastPositionBroadcast[job.ID] = now
		p.mu.Unlock()
		p.emitPosition(job.ID, i+1, estimator)
	}
	if forScanID != "" && !seen {
		p.emitPosition(forScanID, len(jobs)+1, estimator)
	}
	p.rememberRemaining()
}

func (p *ProgressService) rememberRemaining() {
	p.mu.Lock()
	total := 0
	for _, r := range p.activeRemaining {
		total += r
	}
	p.lastRemainingPages = total
	p.mu.Unlock()
}

func (p *ProgressService) emitPosition(scanID string, position int, estimator *waitEstimator) {
	p.hub.Broadcast(models.ScanGroup(scanID), models.EventQueuePositionUpdate, models.QueuePositionUpdate{
		ScanID:               scanID,
		QueuePosition:        position,
		EstimatedWaitSeconds: estimator.waitForPosition(position),
	})
}

// waitEstimator simulates queue drainage over a sorted multiset of the
// active scans' remaining pages. Each simulated tick retires the
// smallest remaining scan, decrements the others by the same amount, and
// admits the next queued scan at the default page estimate.
type waitEstimator struct {
	remaining      []int
	defaultPages   int
	secondsPerPage float64
	workers        int
	known          bool
}

func (p *ProgressService) newWaitEstimator() *waitEstimator {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := &waitEstimator{
		defaultPages:   p.config.Queue.DefaultEstimatedPagesPerSite,
		secondsPerPage: p.avgSecondsPerPage,
		workers:        p.config.Crawler.MaxConcurrentScans,
	}
	for _, r := range p.activeRemaining {
		e.remaining = append(e.remaining, r)
	}
	sort.Ints(e.remaining)
	// No active work and no history means there is nothing to base an
	// estimate on.
	e.known = len(e.remaining) > 0 || p.avgSecondsPerPage > 0
	if e.secondsPerPage <= 0 {
		perDelay := p.config.Crawler.PerRequestDelay().Seconds()
		if perDelay > 0 {
			e.secondsPerPage = perDelay
		} else {
			e.known = len(e.remaining) > 0
			e.secondsPerPage = 1
		}
	}
	return e
}

// waitForPosition returns the estimated seconds before the scan at the
// given 1-based queue position starts, or WaitUnknown.
func (e *waitEstimator) waitForPosition(position int) int {
	if !e.known {
		return WaitUnknown
	}
	if position <= 0 {
		return 0
	}

	// Free worker slots start queued scans immediately
	if len(e.remaining) < e.workers {
		free := e.workers - len(e.remaining)
		if position <= free {
			return 0
		}
		position -= free
	}

	remaining := make([]int, len(e.remaining))
	copy(remaining, e.remaining)

	totalPages := 0
	for step := 0; step < position; step++ {
		if len(remaining) == 0 {
			break
		}
		min := remaining[0]
		totalPages += min
		next := remaining[1:]
		for i := range next {
			next[i] -= min
		}
		// The freed slot is taken by the next queued scan
		next = append(next, e.defaultPages)
		sort.Ints(next)
		remaining = next
	}

	return int(float64(totalPages) * e.secondsPerPage)
}

// GetCurrentProgress builds a reconnect snapshot for a scan. Prefers the
// persisted checkpoint for in-flight scans; falls back to the job row.
// Returns nil for unknown scan IDs.
func (p *ProgressService) GetCurrentProgress(ctx context.Context, scanID string) (*models.ScanProgressSnapshot, error) {
	job, err := p.scanStorage.GetScan(ctx, scanID)
	if err != nil {
		if interfaces.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	snapshot := &models.ScanProgressSnapshot{
		ScanID:             job.ID,
		Status:             job.Status,
		PagesScanned:       job.PagesScanned,
		PagesDiscovered:    job.PagesDiscovered,
		NonWebPImagesCount: job.NonWebPImagesFound,
		ProgressPercent:    job.ProgressPercent(),
		ErrorMessage:       job.ErrorMessage,
	}

	if job.Status == models.ScanStatusProcessing {
		if cp, cerr := p.checkpoints.GetCheckpoint(ctx, scanID); cerr == nil {
			snapshot.PagesScanned = cp.PagesVisited
			snapshot.PagesDiscovered = cp.PagesDiscovered
			snapshot.NonWebPImagesCount = cp.NonWebPImagesFound
			snapshot.CurrentURL = cp.CurrentURL
			if cp.PagesDiscovered > 0 {
				snapshot.ProgressPercent = float64(cp.PagesVisited) / float64(cp.PagesDiscovered) * 100
			}
		}
	}

	if job.Status == models.ScanStatusQueued {
		pos, perr := p.scheduler.QueuePosition(ctx, scanID)
		if perr == nil {
			snapshot.QueuePosition = pos
		}
	}

	return snapshot, nil
}
