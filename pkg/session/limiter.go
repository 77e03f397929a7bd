package session

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginLockout is how long a (user, adapter) pair stays locked out after
// exceeding the failure budget.
const loginLockout = 15 * time.Minute

// LoginLimiter throttles repeated failed adapter logins. Each (user,
// adapter) pair has a budget of 5 failures per 5 minutes; exceeding it
// locks the pair out for 15 minutes.
type LoginLimiter struct {
	mu      sync.Mutex
	entries map[string]*loginEntry
}

type loginEntry struct {
	failures    *rate.Limiter
	lockedUntil time.Time
}

// NewLoginLimiter creates an empty limiter.
func NewLoginLimiter() *LoginLimiter {
	return &LoginLimiter{entries: make(map[string]*loginEntry)}
}

func loginKey(userID int64, adapterName string) string {
	return adapterName + "/" + strconv.FormatInt(userID, 10)
}

func (l *LoginLimiter) entry(key string) *loginEntry {
	e, ok := l.entries[key]
	if !ok {
		// Burst 5, refilling one failure credit per minute: five quick
		// failures exhaust the budget within any five-minute window.
		e = &loginEntry{failures: rate.NewLimiter(rate.Every(time.Minute), 5)}
		l.entries[key] = e
	}
	return e
}

// Blocked reports whether logins for the pair are currently locked out,
// and how long the lockout has left.
func (l *LoginLimiter) Blocked(userID int64, adapterName string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entry(loginKey(userID, adapterName))
	if remaining := time.Until(e.lockedUntil); remaining > 0 {
		return true, remaining
	}
	return false, 0
}

// RecordFailure counts one failed login. Returns true when the failure
// budget is now exhausted and the pair has been locked out.
func (l *LoginLimiter) RecordFailure(userID int64, adapterName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entry(loginKey(userID, adapterName))
	if !e.failures.Allow() {
		e.lockedUntil = time.Now().Add(loginLockout)
		return true
	}
	return false
}

// RecordSuccess clears any pending lockout for the pair.
func (l *LoginLimiter) RecordSuccess(userID int64, adapterName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, loginKey(userID, adapterName))
}
