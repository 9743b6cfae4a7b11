package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	clientIdleTTL = 10 * time.Minute
	maxClients    = 10000
)

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client address. Buckets idle for
// clientIdleTTL are dropped, and the table never holds more than maxClients.
type clientLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	trusted   []netip.Prefix
	clients   map[string]*clientEntry
	lastSweep time.Time
	now       func() time.Time
}

func newClientLimiter(limit rate.Limit, burst int, trusted []netip.Prefix) *clientLimiter {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		limit:   limit,
		burst:   burst,
		trusted: trusted,
		clients: make(map[string]*clientEntry),
		now:     time.Now,
	}
}

func (c *clientLimiter) allow(key string) bool {
	c.mu.Lock()
	now := c.now()
	if now.Sub(c.lastSweep) >= clientIdleTTL {
		c.sweep(now)
	}
	e, ok := c.clients[key]
	if !ok {
		if len(c.clients) >= maxClients {
			c.evictOldest()
		}
		e = &clientEntry{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[key] = e
	}
	e.lastSeen = now
	c.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

func (c *clientLimiter) sweep(now time.Time) {
	for k, e := range c.clients {
		if now.Sub(e.lastSeen) >= clientIdleTTL {
			delete(c.clients, k)
		}
	}
	c.lastSweep = now
}

func (c *clientLimiter) evictOldest() {
	var oldest string
	var seen time.Time
	for k, e := range c.clients {
		if oldest == "" || e.lastSeen.Before(seen) {
			oldest, seen = k, e.lastSeen
		}
	}
	delete(c.clients, oldest)
}

func (c *clientLimiter) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// clientIP returns the peer address. X-Forwarded-For is only read when the
// peer is a trusted proxy, and then the right-most untrusted hop wins.
func (c *clientLimiter) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !c.isTrusted(host) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			break
		}
		if !c.isTrusted(hop) {
			return hop
		}
	}
	return host
}

func (c *clientLimiter) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseProxies accepts bare IPs and CIDRs; invalid entries are logged and skipped.
func parseProxies(entries []string, logger *zerolog.Logger) []netip.Prefix {
	var out []netip.Prefix
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			if logger != nil {
				logger.Warn().Str("proxy", raw).Msg("Ignoring invalid trusted proxy")
			}
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}
