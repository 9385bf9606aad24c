// Package fragstore manages encrypted fragment ciphertexts: passphrase
// generation and derivation, fragment encryption for distribution, persistence
// through the store collaborator, and archival to write-once blob backends.
//
// The plaintext master secret and unencrypted fragments never reach the
// persistence collaborator; only post-split, passphrase-encrypted ciphertexts
// leave this package. Decrypted fragments live in memory only for the
// duration of a single reconstruction call.
package fragstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
	"github.com/guardiavault/vault-recovery-backend/shamir"
)

// Manager encrypts, persists and archives fragment ciphertexts.
type Manager struct {
	store    interfaces.Store
	archives []interfaces.ArchiveBackend
	clock    interfaces.Clock
	log      *slog.Logger
}

// NewManager creates a fragment store manager. Archives may be empty; they
// are best-effort ciphertext backups and never block distribution.
func NewManager(store interfaces.Store, archives []interfaces.ArchiveBackend, clock interfaces.Clock, log *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		archives: archives,
		clock:    clock,
		log:      log,
	}
}

// Distribute splits the master secret for the vault's current epoch, assigns
// one fragment to each fragment-holding guardian, encrypts each under a fresh
// passphrase, and persists the full ciphertext set wholesale.
//
// It returns the passphrases keyed by guardian ID for the owner's one-time
// reveal. The secret and all plaintext fragments are wiped before returning;
// passphrases are never persisted.
func (m *Manager) Distribute(ctx context.Context, vault *interfaces.Vault, holders []*interfaces.Guardian, secret []byte) (map[interfaces.GuardianID]string, error) {
	if len(holders) != vault.Scheme.Total {
		return nil, fmt.Errorf("%w: vault scheme is %s but %d fragment holders given",
			interfaces.ErrInvalidParameters, vault.Scheme, len(holders))
	}

	// Stable index assignment across rotations.
	sorted := append([]*interfaces.Guardian(nil), holders...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	fragments, err := shamir.Split(secret, vault.ID, vault.Epoch, vault.MACKey, vault.Scheme)
	if err != nil {
		return nil, err
	}
	defer func() {
		for i := range fragments {
			fragments[i].Wipe()
		}
	}()

	now := m.clock.Now()
	passphrases := make(map[interfaces.GuardianID]string, len(sorted))
	records := make([]*interfaces.FragmentRecord, 0, len(fragments))

	for i := range fragments {
		guardian := sorted[i]
		passphrase, err := GeneratePassphrase()
		if err != nil {
			return nil, err
		}

		ciphertext, err := EncryptFragment(&fragments[i], passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt fragment %d: %w", fragments[i].Index, err)
		}

		record := &interfaces.FragmentRecord{
			VaultID:    vault.ID,
			Epoch:      vault.Epoch,
			Index:      fragments[i].Index,
			GuardianID: guardian.ID,
			Ciphertext: ciphertext,
			Status:     interfaces.FragmentPending,
			CreatedAt:  now,
		}
		record.ArchiveRefs = m.archive(ctx, interfaces.FragmentKey{
			VaultID: vault.ID,
			Epoch:   vault.Epoch,
			Index:   record.Index,
		}, ciphertext)

		passphrases[guardian.ID] = passphrase
		records = append(records, record)
		guardian.FragmentIndex = fragments[i].Index
	}

	if err := m.store.ReplaceFragments(ctx, vault.ID, vault.Epoch, records); err != nil {
		return nil, fmt.Errorf("failed to persist fragments: %w", err)
	}

	for _, guardian := range sorted {
		guardian.UpdatedAt = now
		if err := m.store.UpdateGuardian(ctx, guardian); err != nil {
			return nil, fmt.Errorf("failed to record fragment index for guardian %s: %w", guardian.ID, err)
		}
	}

	m.log.Info("Distributed fragments",
		slog.String("vault_id", vault.ID.String()),
		slog.Int("epoch", vault.Epoch),
		slog.String("scheme", vault.Scheme.String()))

	return passphrases, nil
}

// archive writes the ciphertext to every configured backend, collecting
// backend-name to reference mappings. Failures are logged and skipped.
func (m *Manager) archive(ctx context.Context, key interfaces.FragmentKey, ciphertext []byte) map[string]string {
	if len(m.archives) == 0 {
		return nil
	}
	refs := make(map[string]string)
	for _, backend := range m.archives {
		if !backend.Available(ctx) {
			m.log.Warn("Archive backend unavailable, skipping",
				slog.String("backend", backend.Name()),
				slog.String("fragment", key.String()))
			continue
		}
		ref, err := backend.Put(ctx, key, ciphertext)
		if err != nil {
			m.log.Warn("Failed to archive fragment ciphertext",
				slog.String("backend", backend.Name()),
				slog.String("fragment", key.String()),
				"err", err)
			continue
		}
		refs[backend.Name()] = ref
	}
	return refs
}

// FragmentCredential is one guardian's contribution to a reconstruction:
// the fragment index and the passphrase protecting its ciphertext.
type FragmentCredential struct {
	Index      int
	Passphrase string
}

// Decrypt loads the stored ciphertexts for the given credentials and
// decrypts them. A credential naming an unknown index fails with a
// CorruptFragmentError; a wrong passphrase fails with ErrDecryptionFailed
// wrapped with the failing index. Decrypted fragments are returned for an
// immediate combine; the caller must wipe them.
func (m *Manager) Decrypt(ctx context.Context, vaultID interfaces.VaultID, creds []FragmentCredential) ([]shamir.Fragment, error) {
	records, err := m.store.ListFragments(ctx, vaultID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fragments: %w", err)
	}

	byIndex := make(map[int]*interfaces.FragmentRecord, len(records))
	for _, record := range records {
		if record.Status != interfaces.FragmentRevoked {
			byIndex[record.Index] = record
		}
	}

	fragments := make([]shamir.Fragment, 0, len(creds))
	for _, cred := range creds {
		record, ok := byIndex[cred.Index]
		if !ok {
			return nil, &interfaces.CorruptFragmentError{Index: cred.Index, Reason: "no such fragment for this vault"}
		}
		fragment, err := DecryptFragment(record.Ciphertext, cred.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("fragment %d: %w", cred.Index, err)
		}
		fragments = append(fragments, fragment)
	}
	return fragments, nil
}
