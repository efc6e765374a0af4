package store

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telclaude/vault/internal/credential"
)

func newTestStore(t *testing.T, strict bool) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.json")
	s, err := Open(path, []byte("correct-horse-battery-staple"), strict)
	require.NoError(t, err)
	return s, path
}

func bearerCred(token string) credential.Credential {
	return credential.Credential{Type: credential.TypeBearer, Token: token}
}

func TestStoreGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, true)

	entry, err := s.Store(credential.ProtocolHTTP, "api.example.com", bearerCred("sekret"), StoreOptions{Label: "prod"})
	require.NoError(t, err)
	assert.Equal(t, "prod", entry.Label)

	got, err := s.Get(credential.ProtocolHTTP, "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "sekret", got.Credential.Token)
	assert.Equal(t, "prod", got.Label)
	assert.WithinDuration(t, entry.CreatedAt, got.CreatedAt, time.Second)
}

func TestStorePreservesCreatedAtAcrossOverwrite(t *testing.T) {
	s, _ := newTestStore(t, true)

	first, err := s.Store(credential.ProtocolHTTP, "api.example.com", bearerCred("v1"), StoreOptions{})
	require.NoError(t, err)

	second, err := s.Store(credential.ProtocolHTTP, "api.example.com", bearerCred("v2"), StoreOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "v2", second.Credential.Token)
}

func TestGetReturnsNotFoundForMissingEntry(t *testing.T) {
	s, _ := newTestStore(t, true)

	_, err := s.Get(credential.ProtocolHTTP, "nope.example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReturnsNotFoundForExpiredEntry(t *testing.T) {
	s, _ := newTestStore(t, true)
	past := time.Now().Add(-time.Hour)

	_, err := s.Store(credential.ProtocolHTTP, "api.example.com", bearerCred("sekret"), StoreOptions{ExpiresAt: &past})
	require.NoError(t, err)

	_, err = s.Get(credential.ProtocolHTTP, "api.example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesEntry(t *testing.T) {
	s, _ := newTestStore(t, true)

	_, err := s.Store(credential.ProtocolHTTP, "api.example.com", bearerCred("sekret"), StoreOptions{})
	require.NoError(t, err)

	ok, err := s.Delete(credential.ProtocolHTTP, "api.example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(credential.ProtocolHTTP, "api.example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.False(t, s.Has(credential.ProtocolHTTP, "api.example.com"))
}

func TestListDoesNotLeakSecretMaterial(t *testing.T) {
	s, _ := newTestStore(t, true)

	_, err := s.Store(credential.ProtocolHTTP, "api.example.com", bearerCred("super-secret-token"), StoreOptions{Label: "prod"})
	require.NoError(t, err)

	items, err := s.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, credential.TypeBearer, items[0].CredentialType)
	assert.Equal(t, "prod", items[0].Label)

	data, err := json.Marshal(items)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret-token")
}

func TestListFiltersByProtocol(t *testing.T) {
	s, _ := newTestStore(t, true)

	_, err := s.Store(credential.ProtocolHTTP, "api.example.com", bearerCred("t1"), StoreOptions{})
	require.NoError(t, err)
	_, err = s.Store(credential.ProtocolSecret, "db-password", credential.Credential{Type: credential.TypeOpaque, Value: "v"}, StoreOptions{})
	require.NoError(t, err)

	items, err := s.List(ListFilter{Protocol: credential.ProtocolSecret})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, credential.ProtocolSecret, items[0].Protocol)
}

func TestTamperedCiphertextFailsToDecrypt(t *testing.T) {
	s, path := newTestStore(t, true)

	_, err := s.Store(credential.ProtocolHTTP, "api.example.com", bearerCred("sekret"), StoreOptions{})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// Reopen against a fresh Store so the tamper is observed on read from
	// disk, not served from the in-memory snapshot.
	tampered := flipOneDataByte(t, raw)
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	reopened, err := Open(path, []byte("correct-horse-battery-staple"), true)
	require.NoError(t, err)

	_, err = reopened.Get(credential.ProtocolHTTP, "api.example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

// flipOneDataByte locates the first base64 "data" field in a freshly
// written vault file and flips one of its bytes, simulating bit-rot or
// deliberate tampering without needing to hand-construct JSON.
func flipOneDataByte(t *testing.T, raw []byte) []byte {
	t.Helper()
	marker := []byte(`"data": "`)
	idx := indexOf(raw, marker)
	require.GreaterOrEqual(t, idx, 0, "expected to find a data field in %s", raw)

	start := idx + len(marker)
	end := start
	for end < len(raw) && raw[end] != '"' {
		end++
	}
	encoded := string(raw[start:end])

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	require.NotEmpty(t, decoded)
	decoded[0] ^= 0xFF

	out := make([]byte, 0, len(raw))
	out = append(out, raw[:start]...)
	out = append(out, []byte(base64.StdEncoding.EncodeToString(decoded))...)
	out = append(out, raw[end:]...)
	return out
}

func indexOf(haystack, needle []byte) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func TestAtomicWriteLeavesNoStrayTempFiles(t *testing.T) {
	s, path := newTestStore(t, true)

	_, err := s.Store(credential.ProtocolHTTP, "api.example.com", bearerCred("sekret"), StoreOptions{})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "vault-", "temp file leaked: %s", e.Name())
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpenQuarantinesCorruptedVaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o600))

	s, err := Open(path, []byte("correct-horse-battery-staple"), true)
	require.NoError(t, err)

	items, err := s.List(ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var foundQuarantine bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" && e.Name() != filepath.Base(path) {
			foundQuarantine = true
		}
	}
	assert.True(t, foundQuarantine, "expected a quarantined copy of the corrupted vault file")
}

func TestListStrictModeSurfacesPartialDecryptFailures(t *testing.T) {
	s, path := newTestStore(t, true)

	_, err := s.Store(credential.ProtocolHTTP, "good.example.com", bearerCred("fine"), StoreOptions{})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var v onDiskVault
	require.NoError(t, json.Unmarshal(raw, &v))
	v.Entries["http:corrupt.example.com"] = onDiskEntry{
		IV:   base64.StdEncoding.EncodeToString(make([]byte, 12)),
		Data: base64.StdEncoding.EncodeToString([]byte("garbage")),
		Tag:  base64.StdEncoding.EncodeToString(make([]byte, 16)),
	}
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	reopened, err := Open(path, []byte("correct-horse-battery-staple"), true)
	require.NoError(t, err)

	_, err = reopened.List(ListFilter{})
	assert.ErrorIs(t, err, ErrDecryptFailedEntries)

	lenient, err := Open(path, []byte("correct-horse-battery-staple"), false)
	require.NoError(t, err)
	items, err := lenient.List(ListFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
