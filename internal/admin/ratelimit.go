package admin

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	loginAttemptLimit  = 5
	loginAttemptWindow = 15 * time.Minute
	sweepInterval      = 5 * time.Minute
)

// loginLimiter tracks failed login attempts per client IP.
type loginLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	lastSwep time.Time
}

func newLoginLimiter() *loginLimiter {
	return &loginLimiter{
		attempts: make(map[string][]time.Time),
		lastSwep: time.Now(),
	}
}

// allow reports whether the client may attempt a login.
func (l *loginLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweepLocked(now)

	recent := l.recentLocked(ip, now)
	l.attempts[ip] = recent
	return len(recent) < loginAttemptLimit
}

// record notes a failed login attempt.
func (l *loginLimiter) record(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[ip] = append(l.recentLocked(ip, time.Now()), time.Now())
}

// reset clears the attempts for an IP after a successful login.
func (l *loginLimiter) reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, ip)
}

func (l *loginLimiter) recentLocked(ip string, now time.Time) []time.Time {
	cutoff := now.Add(-loginAttemptWindow)
	var recent []time.Time
	for _, t := range l.attempts[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}

// sweepLocked drops stale entries so the map does not grow unbounded.
func (l *loginLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSwep) < sweepInterval {
		return
	}
	l.lastSwep = now
	cutoff := now.Add(-loginAttemptWindow)
	for ip, times := range l.attempts {
		var recent []time.Time
		for _, t := range times {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		if len(recent) == 0 {
			delete(l.attempts, ip)
		} else {
			l.attempts[ip] = recent
		}
	}
}

// clientIP extracts the client address, honoring X-Forwarded-For from a
// fronting proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
