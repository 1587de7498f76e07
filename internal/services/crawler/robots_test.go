package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRobotsWildcardGroup(t *testing.T) {
	rules := ParseRobots(strings.NewReader(`
User-agent: *
Disallow: /admin
Disallow: /private/

User-agent: googlebot
Disallow: /nogoogle
`), "webpscan/1.0")

	assert.False(t, rules.Allowed("https://example.com/admin"))
	assert.False(t, rules.Allowed("https://example.com/admin/users"))
	assert.False(t, rules.Allowed("https://example.com/private/x"))
	assert.True(t, rules.Allowed("https://example.com/"))
	assert.True(t, rules.Allowed("https://example.com/nogoogle"))
}

func TestParseRobotsSpecificGroupWins(t *testing.T) {
	rules := ParseRobots(strings.NewReader(`
User-agent: *
Disallow: /everything

User-agent: webpscan
Disallow: /only-this
`), "webpscan/1.0 (+https://webpscan.example)")

	assert.True(t, rules.Allowed("https://example.com/everything"))
	assert.False(t, rules.Allowed("https://example.com/only-this"))
}

func TestParseRobotsEmptyDisallowAllowsAll(t *testing.T) {
	rules := ParseRobots(strings.NewReader(`
User-agent: *
Disallow:
`), "webpscan/1.0")

	assert.True(t, rules.Allowed("https://example.com/anything"))
}

func TestParseRobotsCommentsIgnored(t *testing.T) {
	rules := ParseRobots(strings.NewReader(`
# block the backend
User-agent: *
Disallow: /api # trailing comment
`), "webpscan/1.0")

	assert.False(t, rules.Allowed("https://example.com/api/v1"))
}

func TestFetchRobotsMissingFileIsPermissive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	rules := FetchRobots(context.Background(), server.URL+"/page", "webpscan/1.0", time.Second)
	assert.True(t, rules.Allowed(server.URL+"/anything"))
}

func TestFetchRobots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/robots.txt", r.URL.Path)
		w.Write([]byte("User-agent: *\nDisallow: /hidden\n"))
	}))
	defer server.Close()

	rules := FetchRobots(context.Background(), server.URL+"/start", "webpscan/1.0", time.Second)
	assert.False(t, rules.Allowed(server.URL+"/hidden/page"))
	assert.True(t, rules.Allowed(server.URL+"/visible"))
}
