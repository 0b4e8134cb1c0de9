package api

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// rateLimiter throttles credential guessing on /auth/login and scan
// flooding on /verify with a per-key sliding window. Windows for idle
// keys are garbage-collected in the background.
type rateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*rateWindow
	perMinute int
}

type rateWindow struct {
	count int
	start time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	rl := &rateLimiter{windows: make(map[string]*rateWindow), perMinute: perMinute}
	go rl.cleanup()
	return rl
}

func (rl *rateLimiter) allow(key string) bool {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) > time.Minute {
		rl.windows[key] = &rateWindow{count: 1, start: now}
		return true
	}
	w.count++
	if w.count > rl.perMinute {
		slog.Warn("api: rate limit exceeded", "key", key, "count", w.count)
		return false
	}
	return true
}

func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, w := range rl.windows {
			if now.Sub(w.start) > 2*time.Minute {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}

// limit wraps a handler with the per-client-address window.
func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiter.allow(host) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
			return
		}
		next(w, r)
	}
}
