package interfaces

import (
	"context"
)

// Store is the persistence collaborator for vaults, guardians, fragments,
// claims and votes. Implementations must provide atomic conditional updates:
// UpdateVault and UpdateClaim compare the record's Version against the stored
// one and fail with ErrVersionConflict when stale, which serializes all
// per-vault lifecycle mutations.
type Store interface {
	// CreateVault persists a new vault. The vault's Version starts at 1.
	CreateVault(ctx context.Context, v *Vault) error

	// GetVault returns the vault or ErrNotFound.
	GetVault(ctx context.Context, id VaultID) (*Vault, error)

	// UpdateVault applies a compare-and-swap on the vault's Version,
	// returning ErrVersionConflict if another writer committed first.
	UpdateVault(ctx context.Context, v *Vault) error

	// ListVaultsByStatus returns all vaults in any of the given states.
	ListVaultsByStatus(ctx context.Context, statuses ...VaultStatus) ([]*Vault, error)

	// CreateGuardian persists a new guardian record.
	CreateGuardian(ctx context.Context, g *Guardian) error

	// GetGuardian returns the guardian or ErrNotFound.
	GetGuardian(ctx context.Context, id GuardianID) (*Guardian, error)

	// GetGuardianByToken looks a pending guardian up by invitation token.
	// Returns ErrNotFound for unknown tokens.
	GetGuardianByToken(ctx context.Context, token string) (*Guardian, error)

	// ListGuardians returns all guardian records for a vault.
	ListGuardians(ctx context.Context, vaultID VaultID) ([]*Guardian, error)

	// UpdateGuardian applies a compare-and-swap on the guardian's Version.
	UpdateGuardian(ctx context.Context, g *Guardian) error

	// ReplaceFragments atomically replaces the full fragment set of a
	// vault with the given epoch's fragments. Prior-epoch records are
	// dropped; partial replacement never becomes visible.
	ReplaceFragments(ctx context.Context, vaultID VaultID, epoch int, fragments []*FragmentRecord) error

	// ListFragments returns the current fragment set for a vault.
	ListFragments(ctx context.Context, vaultID VaultID) ([]*FragmentRecord, error)

	// SetFragmentStatus updates the status of the guardian's fragment
	// record in the vault's current set. Revocation is terminal: a revoked
	// record never changes status again. Guardians without a fragment
	// record are a no-op.
	SetFragmentStatus(ctx context.Context, vaultID VaultID, guardianID GuardianID, status FragmentStatus) error

	// CreateClaim persists a new open claim. Fails with ErrClaimExists if
	// the vault already has an open claim.
	CreateClaim(ctx context.Context, c *Claim) error

	// GetClaim returns the claim or ErrNotFound.
	GetClaim(ctx context.Context, id ClaimID) (*Claim, error)

	// GetOpenClaim returns the vault's open claim, or ErrNotFound.
	GetOpenClaim(ctx context.Context, vaultID VaultID) (*Claim, error)

	// ListOpenClaims returns every open claim across all vaults.
	ListOpenClaims(ctx context.Context) ([]*Claim, error)

	// ListClaimsByVault returns all claims ever filed against a vault,
	// newest first.
	ListClaimsByVault(ctx context.Context, vaultID VaultID) ([]*Claim, error)

	// UpdateClaim applies a compare-and-swap on the claim's Version.
	UpdateClaim(ctx context.Context, c *Claim) error

	// UpsertVote inserts or overwrites the (claim, guardian) vote.
	UpsertVote(ctx context.Context, v *Vote) error

	// ListVotes returns all votes cast on a claim.
	ListVotes(ctx context.Context, claimID ClaimID) ([]*Vote, error)
}

// ArchiveBackend stores write-once fragment ciphertext copies, addressed by
// (vault, epoch, index). Put returns a backend-specific reference used for
// later retrieval; content-addressed backends return their content ID.
type ArchiveBackend interface {
	// Put stores a fragment ciphertext and returns its reference.
	Put(ctx context.Context, key FragmentKey, ciphertext []byte) (string, error)

	// Get retrieves a fragment ciphertext by the reference Put returned.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Available checks if the backend is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging and ArchiveRefs keys.
	Name() string

	// LocationURI returns the URI identifying this backend.
	LocationURI() string
}

// ArchiveFactory creates archive backends from location URIs.
// Supported schemes: file://, s3://, vault://, ipfs://.
type ArchiveFactory interface {
	ArchiveFor(locationURI string) (ArchiveBackend, error)
}
