package validation

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
)

func newTestValidator() *SubmissionValidator {
	v := NewSubmissionValidator(arbor.NewLogger())
	// Resolve every name to a public address so tests do not touch DNS
	v.lookupIP = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	return v
}

func TestValidateSubmissionURLs(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name    string
		url     string
		valid   bool
		wantErr string
	}{
		{"https accepted", "https://example.com", true, ""},
		{"http accepted", "http://example.com/products", true, ""},
		{"ftp rejected", "ftp://example.com", false, "Only HTTP and HTTPS URLs are allowed."},
		{"file rejected", "file:///etc/passwd", false, "Only HTTP and HTTPS URLs are allowed."},
		{"javascript rejected", "javascript:alert(1)", false, "Only HTTP and HTTPS URLs are allowed."},
		{"empty rejected", "", false, "URL is required."},
		{"missing host", "https://", false, "URL must include a host."},
		{"loopback literal", "http://127.0.0.1/admin", false, "URL host resolves to a private or reserved address."},
		{"private literal", "http://192.168.1.10", false, "URL host resolves to a private or reserved address."},
		{"link local literal", "http://169.254.169.254/latest/meta-data", false, "URL host resolves to a private or reserved address."},
		{"unspecified literal", "http://0.0.0.0", false, "URL host resolves to a private or reserved address."},
		{"ipv6 loopback", "http://[::1]:8080", false, "URL host resolves to a private or reserved address."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateSubmission(tt.url, "")
			assert.Equal(t, tt.valid, result.Valid)
			if tt.wantErr != "" {
				assert.Contains(t, result.Errors, tt.wantErr)
			}
		})
	}
}

func TestValidateSubmissionResolvedPrivateHost(t *testing.T) {
	v := NewSubmissionValidator(arbor.NewLogger())
	v.lookupIP = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("10.0.0.5")}, nil
	}

	result := v.ValidateSubmission("https://internal.corp.example", "")
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "URL host resolves to a private or reserved address.")
}

func TestValidateSubmissionURLLength(t *testing.T) {
	v := newTestValidator()

	long := "https://example.com/"
	for len(long) <= maxURLLength {
		long += "a"
	}

	result := v.ValidateSubmission(long, "")
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "URL exceeds the maximum length of 2048 characters.")
}

func TestValidateSubmissionEmail(t *testing.T) {
	v := newTestValidator()

	result := v.ValidateSubmission("https://example.com", "user@example.com")
	assert.True(t, result.Valid)

	result = v.ValidateSubmission("https://example.com", "not-an-email")
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "Email address is not valid.")

	// Empty email is fine; notification is optional
	result = v.ValidateSubmission("https://example.com", "")
	assert.True(t, result.Valid)
}

func TestValidateSubmissionCollectsAllErrors(t *testing.T) {
	v := newTestValidator()

	result := v.ValidateSubmission("ftp://example.com", "bad-email")
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 2)
}
