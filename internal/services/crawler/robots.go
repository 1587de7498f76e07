package crawler

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RobotsRules holds the Disallow prefixes that apply to our user agent.
// A fetch failure yields permissive rules; robots.txt absence never
// blocks a scan.
type RobotsRules struct {
	disallow []string
}

// FetchRobots retrieves and parses robots.txt for the host of siteURL.
// Groups for the exact user-agent token win over the wildcard group.
func FetchRobots(ctx context.Context, siteURL, userAgent string, timeout time.Duration) *RobotsRules {
	u, err := url.Parse(siteURL)
	if err != nil {
		return &RobotsRules{}
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return &RobotsRules{}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return &RobotsRules{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &RobotsRules{}
	}
	return ParseRobots(io.LimitReader(resp.Body, 512<<10), userAgent)
}

// ParseRobots reads robots.txt content and keeps the Disallow rules of
// the best-matching user-agent group.
func ParseRobots(r io.Reader, userAgent string) *RobotsRules {
	agentToken := strings.ToLower(productToken(userAgent))

	var wildcard, specific []string
	var currentAgents []string
	inGroup := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if inGroup {
				// A new group starts after rules were collected
				currentAgents = nil
				inGroup = false
			}
			currentAgents = append(currentAgents, strings.ToLower(value))
		case "disallow":
			inGroup = true
			if value == "" {
				continue
			}
			for _, agent := range currentAgents {
				if agent == "*" {
					wildcard = append(wildcard, value)
				} else if agentToken != "" && strings.Contains(agentToken, agent) {
					specific = append(specific, value)
				}
			}
		case "allow", "crawl-delay", "sitemap":
			inGroup = true
		}
	}

	if len(specific) > 0 {
		return &RobotsRules{disallow: specific}
	}
	return &RobotsRules{disallow: wildcard}
}

// Allowed reports whether the URL path may be visited
func (r *RobotsRules) Allowed(rawURL string) bool {
	if len(r.disallow) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, prefix := range r.disallow {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// productToken extracts the product name from a user-agent string,
// "webpscan/1.0 (+https://...)" -> "webpscan".
func productToken(userAgent string) string {
	token := userAgent
	if idx := strings.IndexAny(token, "/ "); idx >= 0 {
		token = token[:idx]
	}
	return token
}
