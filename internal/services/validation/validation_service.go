// -----------------------------------------------------------------------
// Package validation checks scan submissions before they reach admission
// -----------------------------------------------------------------------

package validation

import (
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
)

const (
	maxURLLength   = 2048
	maxEmailLength = 254
)

// Result contains the outcome of submission validation. Errors holds
// every failed check, not just the first.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// SubmissionValidator validates scan submissions. Stateless apart from
// the shared validator instance.
type SubmissionValidator struct {
	logger   arbor.ILogger
	validate *validator.Validate
	// lookupIP is swappable for tests; defaults to net.LookupIP
	lookupIP func(host string) ([]net.IP, error)
}

// NewSubmissionValidator creates a new submission validator
func NewSubmissionValidator(logger arbor.ILogger) *SubmissionValidator {
	return &SubmissionValidator{
		logger:   logger,
		validate: validator.New(),
		lookupIP: net.LookupIP,
	}
}

// ValidateSubmission checks the target URL and optional notification
// email. The URL must be HTTP or HTTPS with a public, resolvable host.
func (v *SubmissionValidator) ValidateSubmission(rawURL, email string) Result {
	var errs []string

	if urlErr := v.validateURL(rawURL); urlErr != "" {
		errs = append(errs, urlErr)
	}
	if email != "" {
		if emailErr := v.validateEmail(email); emailErr != "" {
			errs = append(errs, emailErr)
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

func (v *SubmissionValidator) validateURL(rawURL string) string {
	if strings.TrimSpace(rawURL) == "" {
		return "URL is required."
	}
	if len(rawURL) > maxURLLength {
		return "URL exceeds the maximum length of 2048 characters."
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "URL is not valid."
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "Only HTTP and HTTPS URLs are allowed."
	}
	if parsed.Hostname() == "" {
		return "URL must include a host."
	}

	if reason := v.checkHostReachableRange(parsed.Hostname()); reason != "" {
		return reason
	}
	return ""
}

// checkHostReachableRange rejects hosts that point at non-public
// addresses, whether given as IP literals or resolved from DNS.
func (v *SubmissionValidator) checkHostReachableRange(host string) string {
	if addr, err := netip.ParseAddr(host); err == nil {
		if isDisallowedAddr(addr) {
			return "URL host resolves to a private or reserved address."
		}
		return ""
	}

	ips, err := v.lookupIP(host)
	if err != nil {
		return "URL host could not be resolved."
	}
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		if isDisallowedAddr(addr.Unmap()) {
			return "URL host resolves to a private or reserved address."
		}
	}
	return ""
}

func isDisallowedAddr(addr netip.Addr) bool {
	return addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsPrivate() ||
		addr.IsUnspecified() ||
		addr.IsMulticast()
}

func (v *SubmissionValidator) validateEmail(email string) string {
	if len(email) > maxEmailLength {
		return "Email exceeds the maximum length of 254 characters."
	}
	if err := v.validate.Var(email, "email"); err != nil {
		return "Email address is not valid."
	}
	return ""
}
