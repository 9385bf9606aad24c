package fragstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
	"github.com/guardiavault/vault-recovery-backend/shamir"
)

// Argon2id parameters following OWASP recommendations.
const (
	argon2Memory  = 64 * 1024 // KiB
	argon2Time    = 3
	argon2Threads = 4

	keyLength   = 32
	saltLength  = 16
	nonceLength = 12

	passphraseBytes = 20
)

// deriveKey derives the fragment encryption key from a guardian passphrase.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, keyLength)
}

// GeneratePassphrase produces a guardian passphrase of the form
// XXXX-XXXX-...-XXXX from 160 bits of randomness. It is generated once at
// distribution time, shown to the vault owner exactly once, and never stored
// server-side.
func GeneratePassphrase() (string, error) {
	raw := make([]byte, passphraseBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)

	var groups []string
	for len(encoded) > 4 {
		groups = append(groups, encoded[:4])
		encoded = encoded[4:]
	}
	groups = append(groups, encoded)
	return strings.Join(groups, "-"), nil
}

// EncryptFragment seals a fragment under a guardian passphrase. The returned
// blob is salt || nonce || GCM ciphertext. The marshaled plaintext is wiped
// before returning; the caller wipes the fragment itself.
func EncryptFragment(f *shamir.Fragment, passphrase string) ([]byte, error) {
	plaintext, err := f.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode fragment: %w", err)
	}
	defer wipeBytes(plaintext)

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	defer wipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := make([]byte, 0, saltLength+nonceLength+len(plaintext)+gcm.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, plaintext, nil)
	return blob, nil
}

// DecryptFragment opens a blob produced by EncryptFragment.
//
// A structurally invalid blob fails with a CorruptFragmentError; an
// authentication failure under the derived key fails with ErrDecryptionFailed
// so callers can tell a wrong passphrase from tampered fragment data.
func DecryptFragment(blob []byte, passphrase string) (shamir.Fragment, error) {
	if len(blob) < saltLength+nonceLength+16 {
		return shamir.Fragment{}, &interfaces.CorruptFragmentError{Index: 0, Reason: "truncated ciphertext"}
	}

	salt := blob[:saltLength]
	nonce := blob[saltLength : saltLength+nonceLength]
	ciphertext := blob[saltLength+nonceLength:]

	key := deriveKey(passphrase, salt)
	defer wipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return shamir.Fragment{}, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return shamir.Fragment{}, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return shamir.Fragment{}, interfaces.ErrDecryptionFailed
	}
	defer wipeBytes(plaintext)

	return shamir.UnmarshalFragment(plaintext)
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
