package integration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

const keyringService = "duealert"

// Credentials stores secrets such as the backend token in the system
// keyring.
type Credentials struct {
	open func() (keyring.Keyring, error)
}

// NewCredentials opens the platform keyring lazily on each call. The file
// backend under ~/.config/duealert/credentials is the last resort.
func NewCredentials() *Credentials {
	return &Credentials{open: openKeyring}
}

// NewCredentialsWith uses ring for every call.
func NewCredentialsWith(ring keyring.Keyring) *Credentials {
	return &Credentials{open: func() (keyring.Keyring, error) { return ring, nil }}
}

func openKeyring() (keyring.Keyring, error) {
	dir := "~/.config/duealert/credentials"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config", "duealert", "credentials")
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt("duealert-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key.
func (c *Credentials) Get(key string) (string, error) {
	ring, err := c.open()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (c *Credentials) Set(key, value string) error {
	ring, err := c.open()
	if err != nil {
		return err
	}
	if err := ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func (c *Credentials) Delete(key string) error {
	ring, err := c.open()
	if err != nil {
		return err
	}
	if err := ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Token returns a TokenSource reading key. A missing key yields an empty
// token rather than an error.
func (c *Credentials) Token(key string) TokenSource {
	return func() (string, error) {
		v, err := c.Get(key)
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", nil
		}
		return v, err
	}
}
