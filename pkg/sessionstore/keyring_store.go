package sessionstore

import (
	"encoding/json"
	"fmt"

	"github.com/zalando/go-keyring"

	"igcrawl/pkg/session"
)

const (
	keyringService = "igcrawl"
	keyringPrefix  = "session_"
)

// KeyringStore persists session bundles in the system keychain.
type KeyringStore struct{}

// NewKeyringStore verifies keychain availability and returns a store.
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Store saves a bundle to the keychain.
func (k *KeyringStore) Store(bundle *session.Bundle) error {
	if bundle == nil || bundle.Username == "" {
		return ErrInvalidBundle
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := keyring.Set(keyringService, keyringPrefix+bundle.Username, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return nil
}

// Retrieve gets a bundle from the keychain.
func (k *KeyringStore) Retrieve(username string) (*session.Bundle, error) {
	if username == "" {
		return nil, ErrInvalidBundle
	}
	data, err := keyring.Get(keyringService, keyringPrefix+username)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}
	var bundle session.Bundle
	if err := json.Unmarshal([]byte(data), &bundle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &bundle, nil
}

// Delete removes a bundle from the keychain.
func (k *KeyringStore) Delete(username string) error {
	if err := keyring.Delete(keyringService, keyringPrefix+username); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}
