package models

import (
	"net/url"
	"strings"
)

// hostOf extracts the lowercase host of a URL without a www prefix
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
