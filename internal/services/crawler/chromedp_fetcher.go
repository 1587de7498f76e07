package crawler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/interfaces"
)

// ChromeDPFetcher renders pages in a headless browser so images and
// links injected by JavaScript are visible to extraction. One browser
// context is shared and navigations are serialized through it; the
// worker pool bounds concurrency above this layer.
type ChromeDPFetcher struct {
	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc

	userAgent string
	timeout   time.Duration
	jsWait    time.Duration
	logger    arbor.ILogger
	started   bool
}

// NewChromeDPFetcher creates a lazy headless-browser fetcher. The
// browser launches on first use so HTTP-only deployments never pay for
// Chrome.
func NewChromeDPFetcher(timeout, jsWait time.Duration, userAgent string, logger arbor.ILogger) *ChromeDPFetcher {
	return &ChromeDPFetcher{
		userAgent: userAgent,
		timeout:   timeout,
		jsWait:    jsWait,
		logger:    logger,
	}
}

func (f *ChromeDPFetcher) ensureStarted() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(f.userAgent),
	)

	f.allocCtx, f.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	f.browserCtx, f.browserStop = chromedp.NewContext(f.allocCtx)

	// Launch eagerly so a missing Chrome binary surfaces here, not on
	// the first page of a scan.
	if err := chromedp.Run(f.browserCtx); err != nil {
		f.browserStop()
		f.allocCancel()
		return err
	}

	f.logger.Info().
		Str("user_agent", f.userAgent).
		Dur("js_wait", f.jsWait).
		Msg("Headless browser started")
	f.started = true
	return nil
}

// FetchPage navigates to pageURL, waits for JavaScript to settle, and
// returns the rendered DOM.
func (f *ChromeDPFetcher) FetchPage(ctx context.Context, pageURL string) *interfaces.PageResult {
	result := &interfaces.PageResult{URL: pageURL}

	if err := f.ensureStarted(); err != nil {
		result.ErrorKind = interfaces.PageErrorConnection
		result.ErrorDetail = "browser launch failed: " + err.Error()
		return result
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()
	runCtx, cancelRun := context.WithTimeout(tabCtx, f.timeout)
	defer cancelRun()

	// Propagate scan cancellation into the navigation
	stop := context.AfterFunc(ctx, cancelRun)
	defer stop()

	var html, finalURL string
	err := chromedp.Run(runCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en"}),
		chromedp.Navigate(pageURL),
		chromedp.Sleep(f.jsWait),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		classifyChromedpError(ctx, err, result)
		return result
	}

	result.FinalURL = finalURL
	result.StatusCode = 200

	if !common.SameHost(pageURL, finalURL) {
		result.ErrorKind = interfaces.PageErrorRedirectOffHost
		result.ErrorDetail = "rendered page navigated to " + finalURL
		return result
	}
	if isAuthURL(finalURL) && !isAuthURL(pageURL) {
		result.ErrorKind = interfaces.PageErrorAuthRedirect
		result.ErrorDetail = "redirected to login page " + finalURL
		return result
	}

	result.HTML = html
	result.OK = true
	return result
}

func classifyChromedpError(ctx context.Context, err error, result *interfaces.PageResult) {
	result.ErrorDetail = err.Error()
	switch {
	case ctx.Err() != nil:
		result.ErrorKind = interfaces.PageErrorCancelled
	case errors.Is(err, context.DeadlineExceeded):
		result.ErrorKind = interfaces.PageErrorTimeout
	case strings.Contains(err.Error(), "net::ERR_NAME_NOT_RESOLVED"):
		result.ErrorKind = interfaces.PageErrorDNS
	default:
		result.ErrorKind = interfaces.PageErrorConnection
	}
}

// Close shuts the shared browser down
func (f *ChromeDPFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.started {
		return nil
	}
	f.browserStop()
	f.allocCancel()
	f.started = false
	f.logger.Debug().Msg("Headless browser stopped")
	return nil
}
