package common

import (
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a URL for frontier deduplication: lowercases
// scheme and host, strips fragments and default ports, and removes a
// trailing slash from non-root paths. Returns the input unchanged when it
// does not parse.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}

	return u.String()
}

// SameHost reports whether two URLs share a host, ignoring case and a
// leading "www." prefix.
func SameHost(a, b string) bool {
	return HostOf(a) != "" && HostOf(a) == HostOf(b)
}

// HostOf extracts the comparable host of a URL (lowercase, no www prefix,
// no default port). Empty string when the URL does not parse.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
