package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/ternarybob/webpscan/internal/services/analyzer"
)

// memScans records saved jobs
type memScans struct {
	mu   sync.Mutex
	jobs map[string]*models.ScanJob
}

func newMemScans() *memScans { return &memScans{jobs: map[string]*models.ScanJob{}} }

func (m *memScans) SaveScan(ctx context.Context, job *models.ScanJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *job
	m.jobs[job.ID] = &copy
	return nil
}
func (m *memScans) GetScan(ctx context.Context, scanID string) (*models.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[scanID]; ok {
		copy := *j
		return &copy, nil
	}
	return nil, interfaces.ErrScanNotFound
}
func (m *memScans) ClaimScan(ctx context.Context, scanID string, startedAt time.Time) (bool, error) {
	return false, nil
}
func (m *memScans) GetScansByStatus(ctx context.Context, status models.ScanStatus) ([]*models.ScanJob, error) {
	return nil, nil
}
func (m *memScans) CountScansByStatus(ctx context.Context, status models.ScanStatus) (int, error) {
	return 0, nil
}
func (m *memScans) CountQueuedByIP(ctx context.Context, ip string) (int, error) { return 0, nil }
func (m *memScans) LatestSubmissionAt(ctx context.Context, ip string) (time.Time, error) {
	return time.Time{}, nil
}
func (m *memScans) NextSubmissionCount(ctx context.Context, ip string) (int, error) { return 1, nil }
func (m *memScans) GetScansOlderThan(ctx context.Context, cutoff time.Time) ([]*models.ScanJob, error) {
	return nil, nil
}
func (m *memScans) DeleteScan(ctx context.Context, scanID string) error { return nil }

// memImages mirrors the real upsert-or-merge semantics
type memImages struct {
	mu     sync.Mutex
	images map[string]*models.DiscoveredImage // key scanID+imageURL
}

func newMemImages() *memImages { return &memImages{images: map[string]*models.DiscoveredImage{}} }

func (m *memImages) UpsertImage(ctx context.Context, image *models.DiscoveredImage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := image.ScanID + "|" + image.ImageURL
	if existing, ok := m.images[key]; ok {
		for _, p := range image.PageURLs {
			existing.AddPageURL(p)
		}
		return false, nil
	}
	copy := *image
	m.images[key] = &copy
	return true, nil
}
func (m *memImages) GetImage(ctx context.Context, scanID, imageURL string) (*models.DiscoveredImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if img, ok := m.images[scanID+"|"+imageURL]; ok {
		return img, nil
	}
	return nil, interfaces.ErrImageNotFound
}
func (m *memImages) GetImagesByScan(ctx context.Context, scanID string) ([]*models.DiscoveredImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DiscoveredImage
	for _, img := range m.images {
		if img.ScanID == scanID {
			out = append(out, img)
		}
	}
	return out, nil
}
func (m *memImages) CountImagesByScan(ctx context.Context, scanID string) (int, error) {
	imgs, _ := m.GetImagesByScan(ctx, scanID)
	return len(imgs), nil
}
func (m *memImages) DeleteImagesByScan(ctx context.Context, scanID string) error { return nil }

// memCheckpoints stores canonicalized checkpoints
type memCheckpoints struct {
	mu          sync.Mutex
	checkpoints map[string]*models.CrawlCheckpoint
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{checkpoints: map[string]*models.CrawlCheckpoint{}}
}

func (m *memCheckpoints) SaveCheckpoint(ctx context.Context, cp *models.CrawlCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *cp
	copy.Canonicalize()
	m.checkpoints[cp.ScanID] = &copy
	return nil
}
func (m *memCheckpoints) GetCheckpoint(ctx context.Context, scanID string) (*models.CrawlCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp, ok := m.checkpoints[scanID]; ok {
		copy := *cp
		return &copy, nil
	}
	return nil, interfaces.ErrCheckpointNotFound
}
func (m *memCheckpoints) DeleteCheckpoint(ctx context.Context, scanID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, scanID)
	return nil
}

// scriptedFetcher serves static HTML and can cancel the scan context
// after a fixed number of fetches to simulate a shutdown.
type scriptedFetcher struct {
	mu          sync.Mutex
	pages       map[string]string
	fetchCounts map[string]int
	cancelAfter int
	cancel      context.CancelFunc
}

func (s *scriptedFetcher) FetchPage(ctx context.Context, pageURL string) *interfaces.PageResult {
	s.mu.Lock()
	s.fetchCounts[pageURL]++
	total := 0
	for _, c := range s.fetchCounts {
		total += c
	}
	if s.cancelAfter > 0 && total >= s.cancelAfter && s.cancel != nil {
		s.cancel()
	}
	html, ok := s.pages[pageURL]
	s.mu.Unlock()

	if !ok {
		return &interfaces.PageResult{
			URL:         pageURL,
			StatusCode:  404,
			ErrorKind:   interfaces.PageErrorHTTP,
			ErrorDetail: "status 404",
		}
	}
	return &interfaces.PageResult{
		URL:        pageURL,
		FinalURL:   pageURL,
		StatusCode: 200,
		HTML:       html,
		OK:         true,
	}
}

func (s *scriptedFetcher) Close() error { return nil }

// scriptedProber classifies images by extension without any network
type scriptedProber struct{}

func (scriptedProber) Analyze(ctx context.Context, scanID, imageURL string) (analyzer.Result, error) {
	if strings.HasSuffix(imageURL, ".webp") {
		return analyzer.Result{MimeType: "image/webp", SizeBytes: 10_000, IsWebP: true}, nil
	}
	return analyzer.Result{MimeType: "image/png", SizeBytes: 100_000}, nil
}

func (scriptedProber) ForgetScan(scanID string) {}

// recordingProgress captures engine notifications
type recordingProgress struct {
	mu          sync.Mutex
	pageEvents  []int
	imagesFound int
}

func (r *recordingProgress) PageScanned(ctx context.Context, job *models.ScanJob, currentURL string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pageEvents = append(r.pageEvents, job.PagesScanned)
}

func (r *recordingProgress) ImageFound(job *models.ScanJob, image *models.DiscoveredImage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imagesFound++
}

// thirtyPageSite builds an index page linking to 29 children, each with
// one unique PNG image.
func thirtyPageSite() map[string]string {
	pages := map[string]string{}
	var links strings.Builder
	for i := 1; i < 30; i++ {
		links.WriteString(fmt.Sprintf(`<a href="/p%d">page %d</a>`, i, i))
	}
	pages["https://site.test/"] = fmt.Sprintf(`<html><body>%s<img src="/img/home.png" alt="hero home"></body></html>`, links.String())
	for i := 1; i < 30; i++ {
		pages[fmt.Sprintf("https://site.test/p%d", i)] = fmt.Sprintf(
			`<html><body><a href="/">home</a><img src="/img/p%d.png"></body></html>`, i)
	}
	return pages
}

func newTestEngine(fetcher *scriptedFetcher, scans *memScans, images *memImages, checkpoints *memCheckpoints, progress *recordingProgress) *Engine {
	cfg := common.NewDefaultConfig()
	cfg.Crawler.PerRequestDelayMs = 0
	engine := NewEngine(cfg, fetcher, scriptedProber{}, scans, images, checkpoints,
		NewHostRateLimiter(0), progress, arbor.NewLogger())
	engine.fetchRobots = func(ctx context.Context, siteURL, userAgent string, timeout time.Duration) *RobotsRules {
		return &RobotsRules{}
	}
	return engine
}

func TestEngineCrawlsWholeSite(t *testing.T) {
	fetcher := &scriptedFetcher{pages: thirtyPageSite(), fetchCounts: map[string]int{}}
	scans, images, checkpoints := newMemScans(), newMemImages(), newMemCheckpoints()
	progress := &recordingProgress{}
	engine := newTestEngine(fetcher, scans, images, checkpoints, progress)

	job := &models.ScanJob{ID: "scan-1", URL: "https://site.test/", Status: models.ScanStatusProcessing}
	err := engine.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 30, job.PagesScanned)
	assert.Equal(t, 30, job.PagesDiscovered)
	assert.False(t, job.ReachedPageLimit)
	assert.Equal(t, 30, job.NonWebPImagesFound)

	// PageProgress pagesScanned values are monotone
	for i := 1; i < len(progress.pageEvents); i++ {
		assert.GreaterOrEqual(t, progress.pageEvents[i], progress.pageEvents[i-1])
	}
}

func TestEngineResumesFromCheckpoint(t *testing.T) {
	scans, images, checkpoints := newMemScans(), newMemImages(), newMemCheckpoints()
	progress := &recordingProgress{}

	// First run is cancelled after 10 fetches
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &scriptedFetcher{pages: thirtyPageSite(), fetchCounts: map[string]int{}, cancelAfter: 10, cancel: cancel}
	engine := newTestEngine(fetcher, scans, images, checkpoints, progress)

	job := &models.ScanJob{ID: "scan-1", URL: "https://site.test/", Status: models.ScanStatusProcessing}
	err := engine.Run(ctx, job)
	require.ErrorIs(t, err, ErrScanInterrupted)
	assert.Equal(t, 10, job.PagesScanned)

	cp, err := checkpoints.GetCheckpoint(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, 10, cp.PagesVisited)
	assert.True(t, cp.Valid())

	// Second run resumes and finishes the remaining 20 pages
	fetcher.cancelAfter = 0
	resumedJob := &models.ScanJob{ID: "scan-1", URL: "https://site.test/", Status: models.ScanStatusProcessing}
	err = engine.Run(context.Background(), resumedJob)
	require.NoError(t, err)

	assert.Equal(t, 30, resumedJob.PagesScanned)
	assert.Equal(t, 30, resumedJob.PagesDiscovered)

	// No page was fetched twice across the two runs
	for url, count := range fetcher.fetchCounts {
		assert.Equal(t, 1, count, "page %s fetched %d times", url, count)
	}
}

func TestEngineStopsAtPageLimit(t *testing.T) {
	fetcher := &scriptedFetcher{pages: thirtyPageSite(), fetchCounts: map[string]int{}}
	scans, images, checkpoints := newMemScans(), newMemImages(), newMemCheckpoints()
	engine := newTestEngine(fetcher, scans, images, checkpoints, &recordingProgress{})
	engine.config.Crawler.MaxPagesPerScan = 12

	job := &models.ScanJob{ID: "scan-1", URL: "https://site.test/", Status: models.ScanStatusProcessing}
	err := engine.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 12, job.PagesScanned)
	assert.True(t, job.ReachedPageLimit)
	assert.Greater(t, job.PagesDiscovered, job.PagesScanned)
}

func TestEngineFailsWhenInitialURLUnreachable(t *testing.T) {
	fetcher := &scriptedFetcher{pages: map[string]string{}, fetchCounts: map[string]int{}}
	scans, images, checkpoints := newMemScans(), newMemImages(), newMemCheckpoints()
	engine := newTestEngine(fetcher, scans, images, checkpoints, &recordingProgress{})

	job := &models.ScanJob{ID: "scan-1", URL: "https://down.test/", Status: models.ScanStatusProcessing}
	err := engine.Run(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial URL unreachable")
}

func TestEngineSkipsPageErrorsAfterFirstSuccess(t *testing.T) {
	pages := map[string]string{
		"https://site.test/":   `<html><body><a href="/broken">b</a><a href="/ok">ok</a></body></html>`,
		"https://site.test/ok": `<html><body><img src="/img/ok.png"></body></html>`,
	}
	fetcher := &scriptedFetcher{pages: pages, fetchCounts: map[string]int{}}
	scans, images, checkpoints := newMemScans(), newMemImages(), newMemCheckpoints()
	engine := newTestEngine(fetcher, scans, images, checkpoints, &recordingProgress{})

	job := &models.ScanJob{ID: "scan-1", URL: "https://site.test/", Status: models.ScanStatusProcessing}
	err := engine.Run(context.Background(), job)
	require.NoError(t, err)

	// The broken page counts as scanned but does not fail the scan
	assert.Equal(t, 3, job.PagesScanned)
	assert.Equal(t, 1, job.NonWebPImagesFound)
}

func TestEngineSkipsWebPImages(t *testing.T) {
	pages := map[string]string{
		"https://site.test/": `<html><body><img src="/a.png"><img src="/b.webp"></body></html>`,
	}
	fetcher := &scriptedFetcher{pages: pages, fetchCounts: map[string]int{}}
	scans, images, checkpoints := newMemScans(), newMemImages(), newMemCheckpoints()
	progress := &recordingProgress{}
	engine := newTestEngine(fetcher, scans, images, checkpoints, progress)

	job := &models.ScanJob{ID: "scan-1", URL: "https://site.test/", Status: models.ScanStatusProcessing}
	require.NoError(t, engine.Run(context.Background(), job))

	assert.Equal(t, 1, job.NonWebPImagesFound)
	assert.Equal(t, 1, progress.imagesFound)
}

func TestEngineHonorsRobots(t *testing.T) {
	fetcher := &scriptedFetcher{pages: thirtyPageSite(), fetchCounts: map[string]int{}}
	scans, images, checkpoints := newMemScans(), newMemImages(), newMemCheckpoints()
	engine := newTestEngine(fetcher, scans, images, checkpoints, &recordingProgress{})
	engine.fetchRobots = func(ctx context.Context, siteURL, userAgent string, timeout time.Duration) *RobotsRules {
		return &RobotsRules{disallow: []string{"/p1"}}
	}

	job := &models.ScanJob{ID: "scan-1", URL: "https://site.test/", Status: models.ScanStatusProcessing}
	require.NoError(t, engine.Run(context.Background(), job))

	// /p1 and /p10../p19 all share the /p1 prefix and stay unfetched
	assert.Zero(t, fetcher.fetchCounts["https://site.test/p1"])
	assert.Zero(t, fetcher.fetchCounts["https://site.test/p19"])
	assert.Equal(t, 1, fetcher.fetchCounts["https://site.test/p2"])
}
