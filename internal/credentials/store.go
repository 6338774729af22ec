// Package credentials persists the Momentos user ID and bearer token in a
// small TOML file guarded by an advisory lock.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pelletier/go-toml/v2"

	"mdl/internal/fileutil"
	"mdl/internal/momentos"
	"mdl/internal/services"
)

const component = "credentials"

type fileState struct {
	UID   string `toml:"uid,omitempty"`
	Token string `toml:"token,omitempty"`
}

// Store reads and writes the credentials file.
type Store struct {
	path string
	lock *flock.Flock
}

// NewStore builds a Store for the file at path. The lock lives next to it.
func NewStore(path string) *Store {
	return &Store{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the credentials file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the stored credentials. A missing file resolves to empty
// credentials.
func (s *Store) Load() (momentos.Credentials, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return momentos.Credentials{}, nil
	}
	if err := s.lock.RLock(); err != nil {
		return momentos.Credentials{}, fmt.Errorf("lock credentials: %w", err)
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return momentos.Credentials{}, nil
		}
		return momentos.Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var state fileState
	if err := toml.Unmarshal(data, &state); err != nil {
		return momentos.Credentials{}, fmt.Errorf("decode credentials %s: %w", s.path, err)
	}
	return momentos.NewCredentials(state.UID, state.Token), nil
}

// Credentials loads stored credentials and fails with ErrAuth when either
// the user ID or the token is missing.
func (s *Store) Credentials() (momentos.Credentials, error) {
	creds, err := s.Load()
	if err != nil {
		return momentos.Credentials{}, services.Wrap(services.ErrAuth, component, "load", "", err)
	}
	if _, ok := creds.UserID(); !ok {
		return momentos.Credentials{}, services.Wrap(services.ErrAuth, component, "load", "user id not found (run `mdl login <email>`)", nil)
	}
	if _, ok := creds.BearerToken(); !ok {
		return momentos.Credentials{}, services.Wrap(services.ErrAuth, component, "load", "access token not found (run `mdl login <email>`)", nil)
	}
	return creds, nil
}

// Save writes creds with owner-only permissions, replacing the file atomically.
func (s *Store) Save(creds momentos.Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("ensure credentials directory: %w", err)
	}
	uid, _ := creds.UserID()
	token, _ := creds.BearerToken()
	data, err := toml.Marshal(fileState{UID: uid, Token: token})
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock credentials: %w", err)
	}
	defer s.lock.Unlock()

	if err := fileutil.WriteBytesAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Clear removes the stored credentials. It reports whether a file existed.
func (s *Store) Clear() (bool, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := s.lock.Lock(); err != nil {
		return false, fmt.Errorf("lock credentials: %w", err)
	}
	defer s.lock.Unlock()

	if err := os.Remove(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("remove credentials: %w", err)
	}
	return true, nil
}

// TokenExpiry reads the `exp` claim of a JWT without verifying its
// signature. The boolean is false when the token carries no expiry.
func TokenExpiry(token string) (time.Time, bool, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse token: %w", err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read token expiry: %w", err)
	}
	if exp == nil {
		return time.Time{}, false, nil
	}
	return exp.Time, true, nil
}

// CheckExpiry returns ErrAuth when token is a JWT whose expiry is before now.
// Tokens that are not JWTs or carry no expiry pass; the service decides.
func CheckExpiry(token string, now time.Time) error {
	exp, ok, err := TokenExpiry(token)
	if err != nil || !ok {
		return nil
	}
	if !exp.After(now) {
		return services.Wrap(services.ErrAuth, component, "check token",
			fmt.Sprintf("token expired at %s (run `mdl login <email>`)", exp.UTC().Format(time.RFC3339)), nil)
	}
	return nil
}
