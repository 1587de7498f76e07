package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/interfaces"
)

// maxPageBodyBytes caps how much HTML one page fetch will read
const maxPageBodyBytes = 5 << 20

// HTTPFetcher fetches pages with a plain HTTP client. Redirects are
// followed while they stay on the scan's host; the first off-host hop
// aborts the chain and the page is reported as redirected away.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	logger    arbor.ILogger
}

// errOffHostRedirect aborts a redirect chain leaving the scan host
var errOffHostRedirect = errors.New("redirect leaves scan host")

// NewHTTPFetcher creates a page fetcher for static sites
func NewHTTPFetcher(timeout time.Duration, userAgent string, logger arbor.ILogger) *HTTPFetcher {
	f := &HTTPFetcher{
		userAgent: userAgent,
		timeout:   timeout,
		logger:    logger,
	}
	f.client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("too many redirects")
			}
			if !common.SameHost(via[0].URL.String(), req.URL.String()) {
				return errOffHostRedirect
			}
			return nil
		},
	}
	return f
}

// FetchPage retrieves pageURL and classifies any failure
func (f *HTTPFetcher) FetchPage(ctx context.Context, pageURL string) *interfaces.PageResult {
	result := &interfaces.PageResult{URL: pageURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		result.ErrorKind = interfaces.PageErrorConnection
		result.ErrorDetail = err.Error()
		return result
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		classifyFetchError(err, result)
		return result
	}
	defer resp.Body.Close()

	result.FinalURL = resp.Request.URL.String()
	result.StatusCode = resp.StatusCode

	if isAuthURL(result.FinalURL) && !isAuthURL(pageURL) {
		result.ErrorKind = interfaces.PageErrorAuthRedirect
		result.ErrorDetail = fmt.Sprintf("redirected to login page %s", result.FinalURL)
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBodyBytes))
		return result
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.ErrorKind = interfaces.PageErrorHTTP
		result.ErrorDetail = fmt.Sprintf("status %d", resp.StatusCode)
		return result
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "xml") {
		result.ErrorKind = interfaces.PageErrorHTTP
		result.ErrorDetail = fmt.Sprintf("non-HTML content type %s", ct)
		return result
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBodyBytes))
	if err != nil {
		classifyFetchError(err, result)
		return result
	}

	result.HTML = string(body)
	result.OK = true
	return result
}

// Close is a no-op; the HTTP client holds no pooled browser resources
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// classifyFetchError maps transport errors onto the page error kinds
func classifyFetchError(err error, result *interfaces.PageResult) {
	result.ErrorDetail = err.Error()

	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, errOffHostRedirect):
		result.ErrorKind = interfaces.PageErrorRedirectOffHost
	case errors.Is(err, context.Canceled):
		result.ErrorKind = interfaces.PageErrorCancelled
	case errors.Is(err, context.DeadlineExceeded):
		result.ErrorKind = interfaces.PageErrorTimeout
	case errors.As(err, &dnsErr):
		result.ErrorKind = interfaces.PageErrorDNS
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			result.ErrorKind = interfaces.PageErrorTimeout
		} else {
			result.ErrorKind = interfaces.PageErrorConnection
		}
	}
}

// authPathSegments flag URLs that look like authentication gates
var authPathSegments = []string{"/login", "/signin", "/sign-in", "/auth", "/sso", "/account/login"}

// isAuthURL reports whether the URL path looks like a login or auth page
func isAuthURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, seg := range authPathSegments {
		if strings.Contains(lower, seg) {
			return true
		}
	}
	return false
}
