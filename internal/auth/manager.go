package auth

import (
	"context"
	"sync"
	"time"
)

// RefreshFunc exchanges a refresh token for a new pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, refresh string, err error)

// Manager hands out the current access token, refreshing it single-flight
// when it is expired or about to expire.
type Manager struct {
	store   *Store
	refresh RefreshFunc
	leeway  time.Duration
	mu      sync.Mutex

	nowFn func() time.Time
}

func NewManager(store *Store, refresh RefreshFunc) *Manager {
	return &Manager{
		store:   store,
		refresh: refresh,
		leeway:  30 * time.Second,
		nowFn:   time.Now,
	}
}

// Token returns a usable access token. If the stored token expires within the
// leeway it is refreshed first; when the refresh fails the stale token is
// returned so the server can issue the authoritative rejection.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pair, err := m.store.Load()
	if err != nil {
		return "", err
	}

	if m.refresh == nil || pair.RefreshToken == "" {
		return pair.AccessToken, nil
	}

	exp, err := tokenExpiry(pair.AccessToken)
	if err != nil || exp.After(m.nowFn().Add(m.leeway)) {
		return pair.AccessToken, nil
	}

	access, refresh, err := m.refresh(ctx, pair.RefreshToken)
	if err != nil {
		return pair.AccessToken, nil
	}

	pair = TokenPair{AccessToken: access, RefreshToken: refresh}
	if err := m.store.Save(pair); err != nil {
		return access, err
	}
	return access, nil
}

// Logout clears the stored pair.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Clear()
}
