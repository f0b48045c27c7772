// Package auth implements the authentication side of the development API
// server: password sign-in, refresh tokens, and short-lived JWT access
// tokens. All state is in-memory; tokens are invalidated on restart.
package auth

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// RefreshToken represents an issued refresh token.
type RefreshToken struct {
	Token     string
	Email     string
	ExpiresAt time.Time
}

const (
	// cleanupInterval controls how often expired refresh tokens are reaped.
	cleanupInterval = 5 * time.Minute

	bcryptCost = bcrypt.DefaultCost
)

// dummyHash is compared against when the email is unknown so that both
// paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("\x00invalid"), bcryptCost)

// Store holds users and refresh tokens for the dev server.
type Store struct {
	mu         sync.RWMutex
	users      map[string][]byte        // normalized email -> bcrypt hash
	refresh    map[string]*RefreshToken // token -> RefreshToken
	refreshTTL time.Duration
	stopGC     chan struct{}
	stopOnce   sync.Once
	logger     *slog.Logger

	refreshCalls atomic.Int64
}

// NewStore creates a store for the given users and starts a background
// goroutine that periodically removes expired refresh tokens. Passwords
// may be given in plain text or as bcrypt hashes. Call Stop() to clean up
// the goroutine.
func NewStore(users map[string]string, refreshTTL time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		users:      make(map[string][]byte, len(users)),
		refresh:    make(map[string]*RefreshToken),
		refreshTTL: refreshTTL,
		stopGC:     make(chan struct{}),
		logger:     logger,
	}

	for email, password := range users {
		hash, err := passwordHash(password)
		if err != nil {
			return nil, fmt.Errorf("hashing password for %s: %w", email, err)
		}

		s.users[NormalizeEmail(email)] = hash
	}

	go s.gcLoop()

	return s, nil
}

// passwordHash returns password unchanged when it already is a bcrypt
// hash, otherwise hashes it.
func passwordHash(password string) ([]byte, error) {
	if strings.HasPrefix(password, "$2") {
		if _, err := bcrypt.Cost([]byte(password)); err == nil {
			return []byte(password), nil
		}
	}

	return bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
}

// Stop terminates the background cleanup goroutine. Safe to call more
// than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopGC) })
}

// gcLoop periodically removes expired refresh tokens.
func (s *Store) gcLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.cleanup(); n > 0 {
				s.logger.Debug("expired refresh tokens removed", slog.Int("count", n))
			}
		case <-s.stopGC:
			return
		}
	}
}

// cleanup removes expired refresh tokens and reports how many went.
func (s *Store) cleanup() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0

	for k, rt := range s.refresh {
		if now.After(rt.ExpiresAt) {
			delete(s.refresh, k)
			removed++
		}
	}

	return removed
}

// CheckPassword reports whether password matches the user's. The email is
// normalized first.
func (s *Store) CheckPassword(email, password string) bool {
	s.mu.RLock()
	hash, ok := s.users[NormalizeEmail(email)]
	s.mu.RUnlock()

	if !ok {
		hash = dummyHash
	}

	err := bcrypt.CompareHashAndPassword(hash, []byte(password))

	return ok && err == nil
}

// IssueRefresh creates a refresh token for the user.
func (s *Store) IssueRefresh(email string) *RefreshToken {
	rt := &RefreshToken{
		Token:     uuid.NewString(),
		Email:     NormalizeEmail(email),
		ExpiresAt: time.Now().Add(s.refreshTTL),
	}

	s.mu.Lock()
	s.refresh[rt.Token] = rt
	s.mu.Unlock()

	return rt
}

// ValidateRefresh checks if a refresh token is known and not expired.
// Returns nil if invalid.
func (s *Store) ValidateRefresh(token string) *RefreshToken {
	if token == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.refresh[token]
	if !ok {
		return nil
	}

	if time.Now().After(rt.ExpiresAt) {
		return nil
	}

	return rt
}

// Revoke deletes a refresh token. Reports whether it existed.
func (s *Store) Revoke(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.refresh[token]
	delete(s.refresh, token)

	return ok
}

// RevokeUser deletes every refresh token belonging to email and returns
// how many were removed.
func (s *Store) RevokeUser(email string) int {
	email = NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0

	for k, rt := range s.refresh {
		if rt.Email == email {
			delete(s.refresh, k)
			removed++
		}
	}

	return removed
}

// RefreshCalls returns how many refresh requests the server has handled,
// successful or not.
func (s *Store) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

func (s *Store) countRefresh() {
	s.refreshCalls.Add(1)
}
