package session

import (
	"net/http"
	"net/http/cookiejar"
	"sync"
	"sync/atomic"
	"time"
)

// UserContext is the per-user runtime state. Auth entries are keyed by
// adapter name. Two users never share a UserContext, so credentials and
// cookies cannot leak across tenants.
type UserContext struct {
	UserID int64

	mu   sync.Mutex
	auth map[string]*Auth

	active atomic.Int64
}

// GetAuth returns the cached auth for an adapter if present and not
// expired.
func (u *UserContext) GetAuth(adapterName string) (*Auth, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	a, ok := u.auth[adapterName]
	if !ok || a.Expired() {
		return nil, false
	}
	return a, true
}

// SetAuth caches an authentication for an adapter.
func (u *UserContext) SetAuth(adapterName, token string, client *http.Client) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.auth[adapterName] = &Auth{
		Token:     token,
		Client:    client,
		CreatedAt: time.Now(),
	}
}

// ClearAuth invalidates the cached auth for an adapter, typically after a
// 401-class response.
func (u *UserContext) ClearAuth(adapterName string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.auth, adapterName)
}

// IncActive records a task dispatch. Returns the new count.
func (u *UserContext) IncActive() int64 {
	return u.active.Add(1)
}

// DecActive records a task termination. Returns the new count.
func (u *UserContext) DecActive() int64 {
	return u.active.Add(-1)
}

// ActiveTasks returns the current in-flight task count.
func (u *UserContext) ActiveTasks() int64 {
	return u.active.Load()
}

// Manager owns all user contexts, keyed by user id.
type Manager struct {
	mu    sync.RWMutex
	users map[int64]*UserContext
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{users: make(map[int64]*UserContext)}
}

// Get returns the context for a user, creating it on first use.
func (m *Manager) Get(userID int64) *UserContext {
	m.mu.RLock()
	u, ok := m.users[userID]
	m.mu.RUnlock()
	if ok {
		return u
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u
	}
	u = &UserContext{UserID: userID, auth: make(map[string]*Auth)}
	m.users[userID] = u
	return u
}

// NewHTTPClient builds an HTTP client with a fresh cookie jar for a new
// adapter login session.
func NewHTTPClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(nil)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Jar: jar, Timeout: timeout}
}
