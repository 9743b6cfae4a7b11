package api

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRateLimit_IgnoresSpoofedForwardedFor(t *testing.T) {
	logger := zerolog.Nop()
	srv := NewHTTPServer(Config{RateLimitPerSecond: 0.001, RateLimitBurst: 1, VerifyToken: "x"}, nil, nil, nil, nil, &logger)

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=x", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{200, 429, 429, 429, 429}, codes)
	assert.Equal(t, 1, srv.clients.size())
}

func TestClientLimiter_ClientIP(t *testing.T) {
	logger := zerolog.Nop()
	c := newClientLimiter(rate.Inf, 1, parseProxies([]string{"10.0.0.0/8", "127.0.0.1", "bogus"}, &logger))

	tests := []struct {
		name   string
		remote string
		fwd    string
		want   string
	}{
		{"direct peer ignores header", "198.51.100.7:5000", "203.0.113.9", "198.51.100.7"},
		{"trusted proxy uses header", "127.0.0.1:5000", "203.0.113.9", "203.0.113.9"},
		{"right-most untrusted hop", "10.1.1.1:5000", "1.1.1.1, 203.0.113.9, 10.2.2.2", "203.0.113.9"},
		{"trusted proxy without header", "10.1.1.1:5000", "", "10.1.1.1"},
		{"garbage hop falls back to peer", "127.0.0.1:5000", "not-an-ip", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.fwd != "" {
				req.Header.Set("X-Forwarded-For", tt.fwd)
			}
			assert.Equal(t, tt.want, c.clientIP(req))
		})
	}
}

func TestClientLimiter_EvictsIdleClients(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	c := newClientLimiter(rate.Limit(1), 1, nil)
	c.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		require.True(t, c.allow("198.51.100."+strconv.Itoa(i)))
	}
	assert.Equal(t, 100, c.size())

	now = now.Add(clientIdleTTL + time.Second)
	assert.True(t, c.allow("198.51.100.200"))
	assert.Equal(t, 1, c.size())
}

func TestClientLimiter_Bounded(t *testing.T) {
	c := newClientLimiter(rate.Limit(1), 1, nil)
	for i := 0; i < maxClients+50; i++ {
		c.allow("k" + strconv.Itoa(i))
	}
	assert.Equal(t, maxClients, c.size())
}
