package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// sessionRateLimiter tracks session-creation requests per source IP and
// enforces exponential backoff. Session creation is the one unauthenticated,
// attacker-reachable endpoint, and every request mints server-side state, so
// every request counts toward the limit, not just failures.
type sessionRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord

	maxRequests int
	baseLockout time.Duration
	maxLockout  time.Duration
	expiry      time.Duration
	now         func() time.Time
}

type attemptRecord struct {
	count       int
	lastAttempt time.Time
	lockedUntil time.Time
}

const (
	// sessionMaxRequests is the number of creations per IP before lockout
	// begins. Generous for a shared kiosk NAT, far below scripted volume.
	sessionMaxRequests = 30
	// sessionBaseLockout is the initial lockout once the limit is reached.
	sessionBaseLockout = 1 * time.Minute
	// sessionMaxLockout caps the exponential backoff.
	sessionMaxLockout = 15 * time.Minute
	// sessionAttemptExpiry is how long after the last request before the
	// record is garbage-collected.
	sessionAttemptExpiry = 1 * time.Hour
	// sessionSweepThreshold bounds the attempts map; record sweeps expired
	// entries once it grows past this.
	sessionSweepThreshold = 1024
)

func newSessionRateLimiter() *sessionRateLimiter {
	return &sessionRateLimiter{
		attempts:    make(map[string]*attemptRecord),
		maxRequests: sessionMaxRequests,
		baseLockout: sessionBaseLockout,
		maxLockout:  sessionMaxLockout,
		expiry:      sessionAttemptExpiry,
		now:         time.Now,
	}
}

// check returns true if the IP is currently locked out, along with how long
// the caller should wait. A zero duration means the request may proceed.
func (rl *sessionRateLimiter) check(ip string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ip]
	if !ok {
		return false, 0
	}
	now := rl.now()
	// Expire stale records.
	if now.Sub(rec.lastAttempt) > rl.expiry {
		delete(rl.attempts, ip)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// record counts one session creation and applies exponential backoff once
// maxRequests is exceeded.
func (rl *sessionRateLimiter) record(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ip]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[ip] = rec
	}
	rec.count++
	rec.lastAttempt = rl.now()

	if rec.count >= rl.maxRequests {
		// Exponential backoff: baseLockout * 2^(count - maxRequests)
		shift := rec.count - rl.maxRequests
		lockout := rl.baseLockout
		for i := 0; i < shift; i++ {
			lockout *= 2
			if lockout > rl.maxLockout {
				lockout = rl.maxLockout
				break
			}
		}
		rec.lockedUntil = rl.now().Add(lockout)
	}

	if len(rl.attempts) > sessionSweepThreshold {
		rl.sweepLocked()
	}
}

// sweepLocked removes expired records. Callers hold rl.mu.
func (rl *sessionRateLimiter) sweepLocked() {
	now := rl.now()
	for ip, rec := range rl.attempts {
		if now.Sub(rec.lastAttempt) > rl.expiry {
			delete(rl.attempts, ip)
		}
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, "too many session requests; try again later")
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
