package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc groups requests into quotas. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Skip exempts matching requests. They neither consume quota nor get
	// rate limit headers.
	Skip func(*http.Request) bool

	now func() time.Time
}

// counter holds hits for the current fixed window and the one before it.
// The sliding estimate weights prev by how much of it still overlaps.
type counter struct {
	start time.Time
	curr  float64
	prev  float64
}

type verdict struct {
	ok        bool
	remaining int
	reset     time.Time
}

type limiter struct {
	max    int
	window time.Duration
	key    func(*http.Request) string
	skip   func(*http.Request) bool
	now    func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

func newLimiter(cfg RateLimitConfig) *limiter {
	l := &limiter{
		max:      cfg.Max,
		window:   cfg.Window,
		key:      cfg.KeyFunc,
		skip:     cfg.Skip,
		now:      cfg.now,
		counters: make(map[string]*counter),
	}
	if l.key == nil {
		l.key = ClientIP
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

func (l *limiter) hit(key string, now time.Time) verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.counters[key]
	if c == nil {
		c = &counter{start: now}
		l.counters[key] = c
	}
	if since := now.Sub(c.start); since >= l.window {
		c.prev = c.curr
		if since >= 2*l.window {
			c.prev = 0
		}
		c.curr = 0
		c.start = now.Truncate(l.window)
	}

	weight := max(0, 1-now.Sub(c.start).Seconds()/l.window.Seconds())
	used := c.prev*weight + c.curr
	v := verdict{reset: c.start.Add(l.window)}
	if used >= float64(l.max) {
		return v
	}
	c.curr++
	v.ok = true
	v.remaining = max(0, int(float64(l.max)-used-1))
	return v
}

// sweep drops counters idle for two windows.
func (l *limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, c := range l.counters {
		if now.Sub(c.start) >= 2*l.window {
			delete(l.counters, key)
		}
	}
}

func (l *limiter) sweepEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.skip != nil && l.skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		now := l.now()
		key := l.key(r)
		v := l.hit(key, now)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(v.remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(v.reset.Unix(), 10))
		if !v.ok {
			wait := max(0, v.reset.Sub(now))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			zctx.From(r.Context()).Debug("Rate limited", zap.String("key", key))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit enforces a per-key sliding window limit, answering 429 with a
// JSON body once exceeded. Stale counters are never evicted; servers should
// use RateLimitWithCleanup.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit plus a goroutine evicting idle counters
// every two windows until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.sweepEvery(ctx, 2*l.window)
	return l.middleware
}

// ClientIP keys requests by the first X-Forwarded-For hop, then X-Real-IP,
// then the connection address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BearerOrIP keys authenticated requests by their bearer token so buyers
// behind one NAT get separate quotas. Anonymous requests fall back to ClientIP.
func BearerOrIP(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token != "" {
		return "bearer:" + token
	}
	return "ip:" + ClientIP(r)
}
