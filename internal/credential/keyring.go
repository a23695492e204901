// Package credential stores the secrets used to reach the remote systems.
package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "fieldpartner"

// Keys of the stored secrets.
const (
	KeyRemoteToken     = "remote_token"
	KeySyncPassword    = "sync_password"
	environmentPrefix  = "FIELDPARTNER_"
	fileBackendKeyHint = "fieldpartner-file-key"
)

// ErrNotFound is returned when a secret is neither in the environment nor
// in the keyring.
var ErrNotFound = errors.New("credential not found")

// Keys lists every secret the application knows about.
var Keys = []string{KeyRemoteToken, KeySyncPassword}

// open is replaced in tests.
var open = openKeyring

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/fieldpartner/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt(fileBackendKeyHint),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// EnvVar returns the environment variable that overrides key,
// e.g. FIELDPARTNER_REMOTE_TOKEN.
func EnvVar(key string) string {
	return environmentPrefix + strings.ToUpper(key)
}

// Get retrieves a credential. A non-empty environment variable wins over
// the keyring so headless deployments need no keyring backend.
func Get(key string) (string, error) {
	if v := os.Getenv(EnvVar(key)); v != "" {
		return v, nil
	}

	ring, err := open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Optional returns the credential or "" when it is not configured. Other
// failures are still returned.
func Optional(key string) (string, error) {
	v, err := Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := open()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := open()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
