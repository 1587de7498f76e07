// -----------------------------------------------------------------------
// Package analyzer probes image URLs for MIME type, size and WebP-ness
// -----------------------------------------------------------------------

package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// Result is the outcome of probing one image URL
type Result struct {
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
	IsWebP    bool   `json:"isWebP"`
}

// Service probes image URLs with HEAD, falling back to a ranged GET when
// the server omits type or length. Redirects are never followed; an
// image behind a redirect is treated as unknown rather than probed
// off-host.
type Service struct {
	client    *http.Client
	userAgent string
	logger    arbor.ILogger

	cacheMu sync.Mutex
	// cache is per scan: scanID -> imageURL -> result
	cache map[string]map[string]Result
}

// NewService creates an analyzer service
func NewService(timeout time.Duration, userAgent string, logger arbor.ILogger) *Service {
	return &Service{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
		logger:    logger,
		cache:     make(map[string]map[string]Result),
	}
}

// Analyze probes imageURL, serving repeats within the same scan from
// cache so each URL costs at most one round trip per scan.
func (s *Service) Analyze(ctx context.Context, scanID, imageURL string) (Result, error) {
	s.cacheMu.Lock()
	if scanCache, ok := s.cache[scanID]; ok {
		if result, ok := scanCache[imageURL]; ok {
			s.cacheMu.Unlock()
			return result, nil
		}
	}
	s.cacheMu.Unlock()

	result, err := s.probe(ctx, imageURL)
	if err != nil {
		return Result{}, err
	}

	s.cacheMu.Lock()
	if _, ok := s.cache[scanID]; !ok {
		s.cache[scanID] = make(map[string]Result)
	}
	s.cache[scanID][imageURL] = result
	s.cacheMu.Unlock()

	return result, nil
}

// ForgetScan drops a scan's cache once the scan finishes
func (s *Service) ForgetScan(scanID string) {
	s.cacheMu.Lock()
	delete(s.cache, scanID)
	s.cacheMu.Unlock()
}

func (s *Service) probe(ctx context.Context, imageURL string) (Result, error) {
	result, complete, err := s.probeHead(ctx, imageURL)
	if err == nil && complete {
		return result, nil
	}
	return s.probeRangedGet(ctx, imageURL, result)
}

// probeHead returns complete=true when the HEAD response carried both a
// usable content type and a length.
func (s *Service) probeHead(ctx context.Context, imageURL string) (Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return Result{}, false, fmt.Errorf("failed to build HEAD request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, false, fmt.Errorf("HEAD request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, false, fmt.Errorf("HEAD returned status %d", resp.StatusCode)
	}

	var result Result
	result.MimeType = normalizeContentType(resp.Header.Get("Content-Type"))
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if size, perr := strconv.ParseInt(cl, 10, 64); perr == nil && size >= 0 {
			result.SizeBytes = size
		}
	}
	result.IsWebP = result.MimeType == "image/webp"

	complete := result.MimeType != "" && result.MimeType != "application/octet-stream" && result.SizeBytes > 0
	return result, complete, nil
}

// probeRangedGet fetches the first KiB to sniff magic bytes and read the
// full length from Content-Range when the server honors the range.
func (s *Service) probeRangedGet(ctx context.Context, imageURL string, fromHead Result) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build GET request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Range", "bytes=0-1023")

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("GET returned status %d", resp.StatusCode)
	}

	head := make([]byte, 1024)
	n, _ := io.ReadFull(resp.Body, head)
	head = head[:n]
	io.Copy(io.Discard, resp.Body)

	result := fromHead
	if result.MimeType == "" || result.MimeType == "application/octet-stream" {
		result.MimeType = normalizeContentType(resp.Header.Get("Content-Type"))
	}
	if sniffed := sniffImageType(head); sniffed != "" {
		result.MimeType = sniffed
	}

	if result.SizeBytes == 0 {
		if size := totalFromContentRange(resp.Header.Get("Content-Range")); size > 0 {
			result.SizeBytes = size
		} else if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
			result.SizeBytes = resp.ContentLength
		}
	}

	result.IsWebP = result.MimeType == "image/webp" || isWebPMagic(head)
	return result, nil
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}

// totalFromContentRange parses "bytes 0-1023/52871" to 52871
func totalFromContentRange(header string) int64 {
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return 0
	}
	total := strings.TrimSpace(header[idx+1:])
	if total == "*" {
		return 0
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0
	}
	return size
}

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	gif87a    = []byte("GIF87a")
	gif89a    = []byte("GIF89a")
	bmpMagic  = []byte("BM")
	riffMagic = []byte("RIFF")
	webpTag   = []byte("WEBP")
)

// sniffImageType identifies a format from the first bytes of the body
func sniffImageType(head []byte) string {
	switch {
	case isWebPMagic(head):
		return "image/webp"
	case bytes.HasPrefix(head, pngMagic):
		return "image/png"
	case bytes.HasPrefix(head, jpegMagic):
		return "image/jpeg"
	case bytes.HasPrefix(head, gif87a), bytes.HasPrefix(head, gif89a):
		return "image/gif"
	case bytes.HasPrefix(head, bmpMagic):
		return "image/bmp"
	case bytes.HasPrefix(head, []byte("II*\x00")), bytes.HasPrefix(head, []byte("MM\x00*")):
		return "image/tiff"
	case len(head) >= 12 && bytes.Equal(head[4:12], []byte("ftypavif")):
		return "image/avif"
	case looksLikeSVG(head):
		return "image/svg+xml"
	}
	return ""
}

// isWebPMagic checks the RIFF container with a WEBP fourcc at offset 8
func isWebPMagic(head []byte) bool {
	return len(head) >= 12 &&
		bytes.HasPrefix(head, riffMagic) &&
		bytes.Equal(head[8:12], webpTag)
}

func looksLikeSVG(head []byte) bool {
	trimmed := bytes.TrimLeft(head, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte("<svg")) ||
		(bytes.HasPrefix(trimmed, []byte("<?xml")) && bytes.Contains(head, []byte("<svg")))
}
