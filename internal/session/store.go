// Package session holds the session credentials a client signs in with:
// a short-lived access token and the refresh token used to replace it.
package session

import "sync"

//go:generate mockgen -source=store.go -destination=mock_store.go -package=session

// Store persists the credentials of the current session. An empty string
// means the token is absent. After Clear both tokens are absent; after a
// Set the written token is present until the next Set or Clear.
type Store interface {
	AccessToken() string
	RefreshToken() string
	SetAccessToken(token string) error
	SetTokens(accessToken, refreshToken string) error
	Clear() error
}

// IsAuthenticated reports whether the store holds an access token.
func IsAuthenticated(s Store) bool {
	return s.AccessToken() != ""
}

// MemoryStore keeps credentials for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access
}

func (m *MemoryStore) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refresh
}

func (m *MemoryStore) SetAccessToken(token string) error {
	m.mu.Lock()
	m.access = token
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SetTokens(accessToken, refreshToken string) error {
	m.mu.Lock()
	m.access = accessToken
	m.refresh = refreshToken
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.access = ""
	m.refresh = ""
	m.mu.Unlock()
	return nil
}
