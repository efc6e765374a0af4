//go:build darwin

// Package keysource (darwin) reads the vault encryption key from the
// macOS Keychain when VAULT_ENCRYPTION_KEY is not set in the environment.
// The item is device-local (not synced to iCloud) and readable only while
// the device is unlocked, so the key never has to live in a shell profile
// or process environment on operator machines.
package keysource

import (
	"errors"
	"fmt"

	keychain "github.com/keybase/go-keychain"
)

const (
	keychainService = "telclaude-vault"
	keychainAccount = "encryption-key"
	keychainLabel   = "telclaude vault encryption key"
)

// FromKeychain returns the encryption key stored in the login keychain,
// or ErrNotFound when no item exists.
func FromKeychain() ([]byte, error) {
	query := keychain.NewItem()
	query.SetSecClass(keychain.SecClassGenericPassword)
	query.SetService(keychainService)
	query.SetAccount(keychainAccount)
	query.SetMatchLimit(keychain.MatchLimitOne)
	query.SetReturnData(true)

	results, err := keychain.QueryItem(query)
	if err != nil {
		if errors.Is(err, keychain.ErrorItemNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query keychain: %w", err)
	}
	if len(results) == 0 || len(results[0].Data) == 0 {
		return nil, ErrNotFound
	}
	return results[0].Data, nil
}

// StoreInKeychain writes (or replaces) the encryption key item, used by
// provisioning tooling.
func StoreInKeychain(key []byte) error {
	item := keychain.NewGenericPassword(keychainService, keychainAccount, keychainLabel, key, "")
	item.SetSynchronizable(keychain.SynchronizableNo)
	item.SetAccessible(keychain.AccessibleWhenUnlockedThisDeviceOnly)

	if err := keychain.AddItem(item); err != nil {
		if err == keychain.ErrorDuplicateItem {
			query := keychain.NewGenericPassword(keychainService, keychainAccount, "", nil, "")
			update := keychain.NewItem()
			update.SetData(key)
			if err := keychain.UpdateItem(query, update); err != nil {
				return fmt.Errorf("update keychain item: %w", err)
			}
			return nil
		}
		return fmt.Errorf("add keychain item: %w", err)
	}
	return nil
}
