package interfaces

import (
	"context"
)

// PageFetchErrorKind classifies a failed or skipped page fetch. Page
// errors are counted and skipped; they never fail the scan.
type PageFetchErrorKind string

const (
	PageErrorTimeout         PageFetchErrorKind = "timeout"
	PageErrorDNS             PageFetchErrorKind = "dns"
	PageErrorHTTP            PageFetchErrorKind = "http"
	PageErrorRedirectOffHost PageFetchErrorKind = "redirect_offhost"
	PageErrorAuthRedirect    PageFetchErrorKind = "auth_redirect"
	PageErrorCancelled       PageFetchErrorKind = "cancelled"
	PageErrorConnection      PageFetchErrorKind = "connection"
)

// PageResult is the explicit outcome of one page fetch
type PageResult struct {
	URL        string
	FinalURL   string // After redirects, when followed
	StatusCode int
	HTML       string
	OK         bool
	ErrorKind   PageFetchErrorKind
	ErrorDetail string
}

// PageFetcher is the page-fetcher capability: plain HTTP for static
// sites, headless rendering for JavaScript-heavy pages. Implementations
// honour ctx for cancellation and the configured per-page timeout.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) *PageResult
	Close() error
}
