package state

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/tokengate/internal/session"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.tokengate/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the session database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	sessionBucket   = []byte("session")
	accessTokenKey  = []byte("fairplay_access_token")
	refreshTokenKey = []byte("fairplay_refresh_token")
	signedInAtKey   = []byte("signed_in_at")
)

var _ session.Store = (*State)(nil)

// State wraps a bbolt database holding the session credentials. It
// implements session.Store so the credentials survive between runs.
type State struct {
	db     *bolt.DB
	logger *slog.Logger
}

// LoadAt opens a session database at the given path, creating it if it
// does not exist. Read failures are reported through logger, since the
// session.Store getters cannot return them.
func LoadAt(path string, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

func (s *State) get(key []byte) string {
	var v string

	err := s.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(sessionBucket).Get(key); raw != nil {
			v = string(raw)
		}

		return nil
	})
	if err != nil {
		s.logger.Error("reading session",
			slog.String("key", string(key)),
			slog.String("error", err.Error()),
		)

		return ""
	}

	return v
}

// AccessToken returns the stored access token, or empty string.
func (s *State) AccessToken() string {
	return s.get(accessTokenKey)
}

// RefreshToken returns the stored refresh token, or empty string.
func (s *State) RefreshToken() string {
	return s.get(refreshTokenKey)
}

// SetAccessToken replaces the access token and keeps the refresh token.
// An empty token removes the key.
func (s *State) SetAccessToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putOrDelete(tx.Bucket(sessionBucket), accessTokenKey, token)
	})
}

// SetTokens stores a fresh pair of tokens and records the sign-in time.
func (s *State) SetTokens(accessToken, refreshToken string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)

		if err := putOrDelete(b, accessTokenKey, accessToken); err != nil {
			return err
		}

		if err := putOrDelete(b, refreshTokenKey, refreshToken); err != nil {
			return err
		}

		now, err := time.Now().UTC().MarshalText()
		if err != nil {
			return err
		}

		return b.Put(signedInAtKey, now)
	})
}

// Clear removes both tokens and the sign-in time. Clearing an empty
// session is a no-op.
func (s *State) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		for _, k := range [][]byte{accessTokenKey, refreshTokenKey, signedInAtKey} {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		return nil
	})
}

// SignedInAt returns when SetTokens last ran, or the zero time.
func (s *State) SignedInAt() time.Time {
	var t time.Time

	raw := s.get(signedInAtKey)
	if raw == "" {
		return t
	}

	if err := t.UnmarshalText([]byte(raw)); err != nil {
		return time.Time{}
	}

	return t
}

func putOrDelete(b *bolt.Bucket, key []byte, value string) error {
	if value == "" {
		return b.Delete(key)
	}

	return b.Put(key, []byte(value))
}
