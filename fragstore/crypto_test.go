package fragstore

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
	"github.com/guardiavault/vault-recovery-backend/shamir"
)

func testFragment(t *testing.T) (shamir.Fragment, []byte, interfaces.VaultID) {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	macKey := make([]byte, 32)
	_, err = rand.Read(macKey)
	require.NoError(t, err)

	vaultID := interfaces.NewVaultID()
	fragments, err := shamir.Split(secret, vaultID, 1, macKey, interfaces.Scheme{Threshold: 2, Total: 3})
	require.NoError(t, err)
	return fragments[0], macKey, vaultID
}

func TestGeneratePassphrase(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		passphrase, err := GeneratePassphrase()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(passphrase), 32, "Passphrase should carry 160 bits of entropy")
		assert.Contains(t, passphrase, "-", "Passphrase should be grouped for out-of-band dictation")
		assert.False(t, seen[passphrase], "Passphrases must not repeat")
		seen[passphrase] = true
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	fragment, macKey, _ := testFragment(t)

	passphrase, err := GeneratePassphrase()
	require.NoError(t, err)

	blob, err := EncryptFragment(&fragment, passphrase)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), string(fragment.Payload), "Ciphertext must not embed the plaintext share")

	decrypted, err := DecryptFragment(blob, passphrase)
	require.NoError(t, err)
	assert.Equal(t, fragment.Index, decrypted.Index)
	assert.Equal(t, fragment.Payload, decrypted.Payload)
	assert.True(t, decrypted.Verify(macKey), "Decrypted fragment should still carry a valid MAC")
}

func TestDecryptWrongPassphrase(t *testing.T) {
	fragment, _, _ := testFragment(t)

	blob, err := EncryptFragment(&fragment, "correct-passphrase")
	require.NoError(t, err)

	_, err = DecryptFragment(blob, "wrong-passphrase")
	assert.ErrorIs(t, err, interfaces.ErrDecryptionFailed,
		"Wrong passphrase must be distinguishable from corrupt data")
	assert.NotErrorIs(t, err, interfaces.ErrCorruptFragment)
}

func TestDecryptTruncatedBlob(t *testing.T) {
	_, err := DecryptFragment([]byte("short"), "any")
	assert.ErrorIs(t, err, interfaces.ErrCorruptFragment,
		"Structurally invalid blobs are corrupt, not a passphrase problem")
}
