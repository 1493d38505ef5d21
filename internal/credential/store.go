// Package credential supplies the edge API token. The token comes from
// an environment variable or from a token file encrypted with age to a
// locally generated X25519 identity.
package credential

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// ErrNotLoggedIn is returned when no token is stored.
var ErrNotLoggedIn = errors.New("not logged in: run 'zd auth login' or set the token environment variable")

// TokenStore keeps the API token encrypted at rest. The identity file
// holds the X25519 private key; the token file holds the token encrypted
// to its recipient.
type TokenStore struct {
	tokenPath    string
	identityPath string
}

// NewTokenStore creates a TokenStore for the given paths.
func NewTokenStore(tokenPath, identityPath string) *TokenStore {
	return &TokenStore{tokenPath: tokenPath, identityPath: identityPath}
}

// Save encrypts token and writes it, generating the identity on first use.
func (s *TokenStore) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is empty")
	}

	identity, err := s.loadOrCreateIdentity()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.tokenPath), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	f, err := os.OpenFile(s.tokenPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating token file: %w", err)
	}
	defer f.Close()

	w, err := age.Encrypt(f, identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, token); err != nil {
		return fmt.Errorf("writing encrypted token: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted token: %w", err)
	}
	return nil
}

// Load decrypts the stored token. It returns ErrNotLoggedIn when no token
// has been saved.
func (s *TokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotLoggedIn
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}

	identity, err := s.loadIdentity()
	if err != nil {
		return "", err
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return "", fmt.Errorf("decrypting token: %w", err)
	}
	token, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted token: %w", err)
	}
	return strings.TrimSpace(string(token)), nil
}

// Delete removes the stored token. The identity is kept.
func (s *TokenStore) Delete() error {
	if err := os.Remove(s.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

// IsConfigured returns true if both the identity and the token exist.
func (s *TokenStore) IsConfigured() bool {
	if _, err := os.Stat(s.identityPath); err != nil {
		return false
	}
	if _, err := os.Stat(s.tokenPath); err != nil {
		return false
	}
	return true
}

func (s *TokenStore) loadOrCreateIdentity() (*age.X25519Identity, error) {
	if _, err := os.Stat(s.identityPath); err == nil {
		return s.loadIdentity()
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.identityPath), 0700); err != nil {
		return nil, fmt.Errorf("creating identity directory: %w", err)
	}
	if err := os.WriteFile(s.identityPath, []byte(identity.String()+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("writing identity: %w", err)
	}
	return identity, nil
}

func (s *TokenStore) loadIdentity() (*age.X25519Identity, error) {
	data, err := os.ReadFile(s.identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in %s", s.identityPath)
	}
	x, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return nil, fmt.Errorf("identity in %s is not an X25519 key", s.identityPath)
	}
	return x, nil
}
