package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "gleitzeit"

// ErrCredentialNotFound is returned by CredentialStore.Get when no
// credential is stored under the given provider id.
var ErrCredentialNotFound = errors.New("auth: credential not found")

// CredentialStore holds provider API keys/credentials in the OS keychain,
// keyed by provider id. It probes availability once at construction so
// callers can fall back (e.g. to environment variables) on headless hosts
// where no keychain backend exists.
type CredentialStore struct {
	available bool
}

// NewCredentialStore probes the OS keychain and returns a store. Available
// reports false (rather than erroring) when no usable backend is found, so
// construction never fails.
func NewCredentialStore() *CredentialStore {
	_, err := keyring.Get(keyringService, "__gleitzeit_availability_probe__")
	available := err == nil || errors.Is(err, keyring.ErrNotFound)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) && !isKeychainUnavailableError(err) {
		available = true
	}
	return &CredentialStore{available: available}
}

// Available reports whether a working OS keychain backend was detected.
func (s *CredentialStore) Available() bool {
	return s.available
}

// Get retrieves the credential stored for providerID.
func (s *CredentialStore) Get(ctx context.Context, providerID string) (string, error) {
	v, err := keyring.Get(keyringService, providerID)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrCredentialNotFound
		}
		return "", err
	}
	return v, nil
}

// Set stores (or overwrites) the credential for providerID.
func (s *CredentialStore) Set(ctx context.Context, providerID, value string) error {
	return keyring.Set(keyringService, providerID, value)
}

// Delete removes the credential for providerID.
func (s *CredentialStore) Delete(ctx context.Context, providerID string) error {
	err := keyring.Delete(keyringService, providerID)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// isKeychainUnavailableError reports whether err looks like a
// backend-unavailable condition (locked session, missing D-Bus secret
// service, no interactive user) rather than a genuine credential error.
// go-keyring's backends don't return a typed sentinel for this, so the
// check is necessarily string-based across platforms.
func isKeychainUnavailableError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"locked", "cannot access", "permission denied", "failed to unlock",
		"user interaction required", "secret service", "dbus", "user canceled",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
