package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameters is returned for bad threshold configuration or
	// malformed identifiers.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrInsufficientFragments is returned when fewer than threshold valid
	// fragments are supplied to a combine operation.
	ErrInsufficientFragments = errors.New("insufficient fragments")

	// ErrCorruptFragment is returned when a fragment fails its integrity
	// check. Use CorruptFragmentError to identify the failing fragment.
	ErrCorruptFragment = errors.New("corrupt fragment")

	// ErrDecryptionFailed is returned when a guardian passphrase does not
	// decrypt a fragment ciphertext. Distinct from ErrCorruptFragment so
	// callers can tell a wrong passphrase from tampered data.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrDuplicateInvite is returned when a pending or active guardian
	// already holds the invited email on the vault.
	ErrDuplicateInvite = errors.New("duplicate invite")

	// ErrInvalidToken is returned for unknown or already-consumed invitation
	// tokens.
	ErrInvalidToken = errors.New("invalid invitation token")

	// ErrExpiredToken is returned when an invitation token is past its
	// expiry window.
	ErrExpiredToken = errors.New("expired invitation token")

	// ErrClaimAlreadyResolved is returned when voting on or resolving a
	// claim that reached a terminal state.
	ErrClaimAlreadyResolved = errors.New("claim already resolved")

	// ErrClaimExists is returned when opening a claim against a vault that
	// already has one open. The liveness sweep relies on this for
	// idempotent auto-filing.
	ErrClaimExists = errors.New("open claim already exists for vault")

	// ErrUnauthorizedVoter is returned when the voter is not an active
	// guardian of the claim's vault.
	ErrUnauthorizedVoter = errors.New("unauthorized voter")

	// ErrVaultClosed is returned for operations on released or cancelled
	// vaults, such as checking in.
	ErrVaultClosed = errors.New("vault is closed")

	// ErrVaultNotReleased is returned when reconstruction is attempted
	// before the time lock has expired.
	ErrVaultNotReleased = errors.New("vault is not released")

	// ErrVaultUnrecoverable is the standing condition raised when the
	// active guardian count drops below the vault threshold. Claims on such
	// vaults can never resolve to approved.
	ErrVaultUnrecoverable = errors.New("vault is unrecoverable: active guardians below threshold")

	// ErrThresholdBreach is returned when removing a guardian would drop
	// the active count below the vault threshold and force was not set.
	ErrThresholdBreach = errors.New("removal would drop active guardians below threshold")

	// ErrPassphrasesRevealed is returned when the reveal-once passphrase
	// endpoint is called a second time for the same fragment epoch.
	ErrPassphrasesRevealed = errors.New("passphrases already revealed for this epoch")

	// ErrNotFound is returned when a vault, guardian or claim does not
	// exist in the store.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when an optimistic concurrent update
	// lost the race. Callers reload and retry or surface the conflict.
	ErrVersionConflict = errors.New("version conflict")
)

// CorruptFragmentError identifies which fragment failed an integrity check
// and why, without echoing any share material.
type CorruptFragmentError struct {
	Index  int
	Reason string
}

func (e *CorruptFragmentError) Error() string {
	return fmt.Sprintf("corrupt fragment %d: %s", e.Index, e.Reason)
}

func (e *CorruptFragmentError) Unwrap() error { return ErrCorruptFragment }
