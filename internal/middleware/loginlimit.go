package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/mesophy/signaged/internal/audit"
)

const (
	controlMaxAttempts    = 5
	controlWindowDuration = time.Minute
	controlCleanupPeriod  = 5 * time.Minute
)

type controlAttempt struct {
	count       int
	windowStart time.Time
}

// ControlRateLimiter caps control requests per client address in a fixed
// window, which also bounds password guessing.
type ControlRateLimiter struct {
	mu          sync.Mutex
	attempts    map[string]*controlAttempt
	lastCleanup time.Time
	now         func() time.Time
}

func NewControlRateLimiter() *ControlRateLimiter {
	return &ControlRateLimiter{
		attempts:    make(map[string]*controlAttempt),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *ControlRateLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < controlCleanupPeriod {
		return
	}
	l.lastCleanup = now

	for ip, attempt := range l.attempts {
		if now.Sub(attempt.windowStart) > controlWindowDuration {
			delete(l.attempts, ip)
		}
	}
}

func (l *ControlRateLimiter) isAllowed(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)

	attempt, exists := l.attempts[ip]
	if !exists || now.Sub(attempt.windowStart) > controlWindowDuration {
		l.attempts[ip] = &controlAttempt{count: 1, windowStart: now}
		return true
	}

	if attempt.count >= controlMaxAttempts {
		return false
	}

	attempt.count++
	return true
}

func (l *ControlRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.isAllowed(r.RemoteAddr) {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed})
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Too many control requests. Please try again later.",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
