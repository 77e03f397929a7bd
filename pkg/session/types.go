// Package session holds per-user runtime state: the TTL-bounded
// authentication cache shared by a user's concurrent tasks, and the
// per-user in-flight task counter.
package session

import (
	"net/http"
	"time"
)

// AuthTTL is how long a cached authentication stays valid. On expiry the
// next operation re-authenticates.
const AuthTTL = time.Hour

// Auth is one cached authentication for a (user, adapter) pair: the token
// plus a long-lived HTTP client whose cookie jar survives across calls.
// The jar is safe for concurrent use, so concurrent tasks of the same
// user share the entry directly.
type Auth struct {
	Token     string
	Client    *http.Client
	CreatedAt time.Time
}

// Expired reports whether the entry is older than the TTL.
func (a *Auth) Expired() bool {
	return a == nil || time.Since(a.CreatedAt) > AuthTTL
}
