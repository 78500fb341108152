package handler

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrustedRealIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	var seen *http.Request
	h := TrustedRealIP(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
	}))

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"untrusted peer keeps socket address", "192.0.2.10:5000", "198.51.100.7", "192.0.2.10:5000"},
		{"untrusted peer forwarding a trusted hop", "203.0.113.1:80", "10.0.0.1", "203.0.113.1:80"},
		{"trusted peer forwards client", "10.0.0.2:443", "198.51.100.7", "198.51.100.7"},
		{"trusted peer without header", "10.0.0.2:443", "", "10.0.0.2:443"},
		{"trusted peer with garbage header", "10.0.0.2:443", "evil", "10.0.0.2:443"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			req.Header.Set("X-Real-Ip", "198.51.100.200")
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, seen.RemoteAddr)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5000"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	req.Header.Set("X-Real-Ip", "198.51.100.8")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Empty(t, seen.Header.Get("X-Forwarded-For"))
	assert.Empty(t, seen.Header.Get("X-Real-Ip"))
}
