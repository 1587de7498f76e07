// -----------------------------------------------------------------------
// Package admission enforces queue capacity, per-IP fairness, cooldown
// and request rate limits before a scan is enqueued
// -----------------------------------------------------------------------

package admission

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
)

// RejectionReason identifies which admission policy turned the request away
type RejectionReason string

const (
	ReasonQueueFull   RejectionReason = "queue_full"
	ReasonPerIPCap    RejectionReason = "per_ip_cap"
	ReasonCooldown    RejectionReason = "cooldown"
	ReasonRateLimited RejectionReason = "rate_limited"
)

// RejectionError is the typed admission failure. RetryAfterSeconds is
// set for cooldown and rate-limit rejections so the HTTP layer can emit
// a Retry-After header.
type RejectionError struct {
	Reason            RejectionReason
	Message           string
	RetryAfterSeconds int
}

func (e *RejectionError) Error() string {
	return e.Message
}

// Service applies the admission policies in a fixed order: capacity,
// per-IP cap, cooldown, rate limit.
type Service struct {
	config      *common.Config
	scanStorage interfaces.ScanStorage
	logger      arbor.ILogger
	rateLimiter *slidingWindowLimiter
	now         func() time.Time
}

// NewService creates an admission service
func NewService(config *common.Config, scanStorage interfaces.ScanStorage, logger arbor.ILogger) *Service {
	return &Service{
		config:      config,
		scanStorage: scanStorage,
		logger:      logger,
		rateLimiter: newSlidingWindowLimiter(config.Security.MaxRequestsPerMinute),
		now:         time.Now,
	}
}

// Admit checks every policy for a submission from ip. A nil return
// means the scan may be enqueued; the caller must do so promptly since
// admission does not reserve capacity.
func (s *Service) Admit(ctx context.Context, ip string) error {
	queued, err := s.scanStorage.CountScansByStatus(ctx, models.ScanStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to check queue capacity: %w", err)
	}
	if queued >= s.config.Queue.MaxSize {
		return &RejectionError{
			Reason:  ReasonQueueFull,
			Message: "The scan queue is full. Please try again later.",
		}
	}

	perIP, err := s.scanStorage.CountQueuedByIP(ctx, ip)
	if err != nil {
		return fmt.Errorf("failed to check per-ip queue count: %w", err)
	}
	if perIP >= s.config.Queue.MaxPerIP {
		return &RejectionError{
			Reason: ReasonPerIPCap,
			Message: fmt.Sprintf(
				"You have reached the maximum number of queued scans (%d).",
				s.config.Queue.MaxPerIP),
		}
	}

	last, err := s.scanStorage.LatestSubmissionAt(ctx, ip)
	if err != nil {
		return fmt.Errorf("failed to check submission cooldown: %w", err)
	}
	if !last.IsZero() {
		cooldown := time.Duration(s.config.Queue.CooldownSeconds) * time.Second
		elapsed := s.now().Sub(last)
		if elapsed < cooldown {
			remaining := int((cooldown - elapsed).Seconds()) + 1
			return &RejectionError{
				Reason: ReasonCooldown,
				Message: fmt.Sprintf(
					"Please wait %d seconds between scan submissions.",
					s.config.Queue.CooldownSeconds),
				RetryAfterSeconds: remaining,
			}
		}
	}

	if s.isRateLimitExempt(ip) {
		return nil
	}
	if retryAfter, ok := s.rateLimiter.Allow(ip, s.now()); !ok {
		return &RejectionError{
			Reason:            ReasonRateLimited,
			Message:           "Too many requests. Please slow down.",
			RetryAfterSeconds: retryAfter,
		}
	}
	return nil
}

func (s *Service) isRateLimitExempt(ip string) bool {
	for _, exempt := range s.config.Security.RateLimitExemptIPs {
		if exempt == ip {
			return true
		}
	}
	return false
}

// EffectiveIP determines the client address for policy decisions. With
// forwarded headers enabled it walks X-Forwarded-For right to left,
// skipping hops inside the trusted proxy CIDRs, and returns the
// rightmost untrusted hop. Otherwise the socket peer address is used.
func (s *Service) EffectiveIP(r *http.Request) string {
	peer := remoteIP(r)
	if !s.config.Security.ForwardedHeadersEnabled {
		return peer
	}

	header := r.Header.Get("X-Forwarded-For")
	if header == "" {
		return peer
	}

	hops := strings.Split(header, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !s.isTrustedProxy(hop) {
			return hop
		}
	}
	// Every hop was a trusted proxy; fall back to the leftmost entry
	return strings.TrimSpace(hops[0])
}

func (s *Service) isTrustedProxy(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, cidr := range s.config.Security.TrustedProxies {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			// Allow bare addresses in the trusted list
			if single, serr := netip.ParseAddr(cidr); serr == nil && single == addr {
				return true
			}
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
