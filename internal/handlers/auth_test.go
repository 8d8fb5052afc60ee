package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRedirectSafe(t *testing.T) {
	const base = "http://localhost:5001"

	tests := []struct {
		name     string
		redirect string
		base     string
		want     bool
	}{
		{"empty", "", base, true},
		{"relative path", "/connect/authorize", base, true},
		{"relative path with query", "/connect/authorize?client_id=web&state=abc", base, true},
		{"same host absolute", "http://localhost:5001/connect/authorize", base, true},
		{"same host https", "https://id.example.com/connect/authorize", "https://id.example.com", true},
		{"fragment", "/connect/authorize#section", base, true},
		{"encoded query", "/connect/authorize?redirect_uri=%2Fcallback", base, true},

		{"protocol relative", "//evil.com", base, false},
		{"protocol relative with path", "//evil.com/phishing", base, false},
		{"other host", "http://evil.com", base, false},
		{"other host https", "https://evil.com/phishing", base, false},
		{"subdomain trick", "http://localhost.evil.com", base, false},
		{"port mismatch", "http://localhost:9999/connect/authorize", base, false},
		{"javascript scheme", "javascript:alert('XSS')", base, false},
		{"data scheme", "data:text/html,<script>alert('XSS')</script>", base, false},
		{"vbscript scheme", "vbscript:msgbox", base, false},
		{"backslash", "/\\evil.com", base, false},
		{"mixed slashes", "/\\/evil.com", base, false},
		{"newline", "/login\nSet-Cookie: evil=true", base, false},
		{"carriage return", "/login\rSet-Cookie: evil=true", base, false},
		{"crlf", "/login\r\nSet-Cookie: evil=true", base, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRedirectSafe(tt.redirect, tt.base), "isRedirectSafe(%q)", tt.redirect)
		})
	}
}
