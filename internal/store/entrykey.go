package store

import "github.com/telclaude/vault/internal/cryptoprim"

// entryKeyInfoPrefix namespaces the HKDF expansion so an entry subkey can
// never collide with a subkey derived for any other purpose from the same
// vault key.
const entryKeyInfoPrefix = "telclaude-vault-entry:"

// deriveEntryKey derives a 32-byte AES-256 subkey for a single vault entry
// from the vault-wide key K and the entry's own identity key. Because the
// identity key is already part of the map address (not secret, not random),
// no extra per-entry salt needs to be persisted: the on-disk record stays
// exactly {iv, data, tag}.
func deriveEntryKey(vaultKey []byte, entryKey string) ([]byte, error) {
	return cryptoprim.HKDFSHA256(vaultKey, nil, []byte(entryKeyInfoPrefix+entryKey), 32)
}
