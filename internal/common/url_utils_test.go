package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://Example.COM/Path/", "https://example.com/Path"},
		{"https://example.com:443/page", "https://example.com/page"},
		{"http://example.com:80/", "http://example.com/"},
		{"https://example.com/page#section", "https://example.com/page"},
		{"  https://example.com/a  ", "https://example.com/a"},
		{"https://example.com/", "https://example.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.input))
		})
	}
}

func TestSameHost(t *testing.T) {
	assert.True(t, SameHost("https://example.com/a", "https://www.example.com/b"))
	assert.True(t, SameHost("https://EXAMPLE.com", "https://example.com:443/x"))
	assert.False(t, SameHost("https://example.com", "https://other.com"))
	assert.False(t, SameHost("://bad", "https://example.com"))
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "example.com", HostOf("https://www.Example.com:443/p"))
	assert.Equal(t, "", HostOf("://bad"))
}
