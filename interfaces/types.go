package interfaces

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VaultID uniquely identifies a recovery vault.
type VaultID string

// NewVaultID generates a random vault identifier.
func NewVaultID() VaultID {
	return VaultID(uuid.Must(uuid.NewRandom()).String())
}

// ParseVaultID validates and converts a string into a VaultID.
func ParseVaultID(s string) (VaultID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: invalid vault id %q", ErrInvalidParameters, s)
	}
	return VaultID(s), nil
}

func (id VaultID) String() string { return string(id) }

// GuardianID uniquely identifies a guardian or beneficiary record.
type GuardianID string

// NewGuardianID generates a random guardian identifier.
func NewGuardianID() GuardianID {
	return GuardianID(uuid.Must(uuid.NewRandom()).String())
}

// ParseGuardianID validates and converts a string into a GuardianID.
func ParseGuardianID(s string) (GuardianID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: invalid guardian id %q", ErrInvalidParameters, s)
	}
	return GuardianID(s), nil
}

func (id GuardianID) String() string { return string(id) }

// ClaimID uniquely identifies a recovery claim.
type ClaimID string

// NewClaimID generates a random claim identifier.
func NewClaimID() ClaimID {
	return ClaimID(uuid.Must(uuid.NewRandom()).String())
}

// ParseClaimID validates and converts a string into a ClaimID.
func ParseClaimID(s string) (ClaimID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: invalid claim id %q", ErrInvalidParameters, s)
	}
	return ClaimID(s), nil
}

func (id ClaimID) String() string { return string(id) }

// Scheme describes the K-of-N threshold configuration of a vault.
type Scheme struct {
	Threshold int `json:"threshold"`
	Total     int `json:"total"`
}

// Validate checks the scheme against the 1 <= K <= N <= 255 invariant.
func (s Scheme) Validate() error {
	if s.Threshold < 1 {
		return fmt.Errorf("%w: threshold must be at least 1, got %d", ErrInvalidParameters, s.Threshold)
	}
	if s.Total < s.Threshold {
		return fmt.Errorf("%w: total shares %d below threshold %d", ErrInvalidParameters, s.Total, s.Threshold)
	}
	if s.Total > 255 {
		return fmt.Errorf("%w: total shares %d exceeds 255", ErrInvalidParameters, s.Total)
	}
	return nil
}

// String returns the "K-of-N" form, e.g. "2-of-3".
func (s Scheme) String() string {
	return fmt.Sprintf("%d-of-%d", s.Threshold, s.Total)
}

// VaultStatus is the lifecycle state of a vault.
type VaultStatus string

const (
	// VaultActive means the owner is checking in and the secret is locked.
	VaultActive VaultStatus = "active"

	// VaultTriggered means an open claim exists against the vault.
	VaultTriggered VaultStatus = "triggered"

	// VaultTimeLocked means a claim was approved and the dispute window is running.
	VaultTimeLocked VaultStatus = "timelocked"

	// VaultReleased means the time lock expired and fragments may be combined.
	VaultReleased VaultStatus = "released"

	// VaultCancelled means the owner closed the vault permanently.
	VaultCancelled VaultStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s VaultStatus) Terminal() bool {
	return s == VaultReleased || s == VaultCancelled
}

// Vault is the persisted state of one owner's protected secret.
type Vault struct {
	ID      VaultID     `json:"id"`
	OwnerID string      `json:"owner_id"`
	Name    string      `json:"name"`
	Scheme  Scheme      `json:"scheme"`
	Status  VaultStatus `json:"status"`

	CheckInIntervalDays int       `json:"check_in_interval_days"`
	GracePeriodDays     int       `json:"grace_period_days"`
	VotingWindowDays    int       `json:"voting_window_days"`
	TimeLockDays        int       `json:"time_lock_days"`
	LastCheckIn         time.Time `json:"last_check_in"`

	// Epoch counts fragment generations. Guardian rotation bumps it and
	// replaces MACKey, invalidating every previously issued fragment.
	Epoch  int    `json:"epoch"`
	MACKey []byte `json:"mac_key"`

	// PassphrasesRevealed is set once the owner has retrieved the guardian
	// passphrases for the current epoch. The reveal endpoint is single-use.
	PassphrasesRevealed bool `json:"passphrases_revealed"`

	// ReleaseAt is the time-lock expiry, set while Status is timelocked.
	ReleaseAt time.Time `json:"release_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version implements optimistic concurrency; every successful update
	// increments it and stale writers fail with ErrVersionConflict.
	Version uint64 `json:"version"`
}

// GuardianRole distinguishes fragment holders from payout recipients.
type GuardianRole string

const (
	RoleGuardian    GuardianRole = "guardian"
	RoleBeneficiary GuardianRole = "beneficiary"
)

// GuardianStatus is the invitation lifecycle state of a guardian.
type GuardianStatus string

const (
	GuardianPending  GuardianStatus = "pending"
	GuardianActive   GuardianStatus = "active"
	GuardianDeclined GuardianStatus = "declined"
	GuardianRemoved  GuardianStatus = "removed"
)

// Terminal reports whether the guardian can no longer change state.
func (s GuardianStatus) Terminal() bool {
	return s == GuardianDeclined || s == GuardianRemoved
}

// Guardian is a party holding one fragment and a vote in the attestation
// process. Beneficiaries share the record shape but hold no fragment.
type Guardian struct {
	ID      GuardianID     `json:"id"`
	VaultID VaultID        `json:"vault_id"`
	Role    GuardianRole   `json:"role"`
	Name    string         `json:"name"`
	Email   string         `json:"email"`
	Status  GuardianStatus `json:"status"`

	// FragmentIndex is the 1-based share index assigned to this guardian,
	// zero for beneficiaries.
	FragmentIndex int `json:"fragment_index,omitempty"`

	InviteToken     string    `json:"-"`
	InviteExpiresAt time.Time `json:"invite_expires_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   uint64    `json:"version"`
}

// FragmentStatus is the distribution state of a stored fragment ciphertext.
type FragmentStatus string

const (
	FragmentPending     FragmentStatus = "pending"
	FragmentDistributed FragmentStatus = "distributed"
	FragmentRevoked     FragmentStatus = "revoked"
)

// FragmentRecord is one encrypted threshold-share of a vault's master secret.
// Only ciphertext is ever persisted; the plaintext share exists in memory for
// the duration of a single split or combine call.
type FragmentRecord struct {
	VaultID    VaultID        `json:"vault_id"`
	Epoch      int            `json:"epoch"`
	Index      int            `json:"index"`
	GuardianID GuardianID     `json:"guardian_id"`
	Ciphertext []byte         `json:"ciphertext"`
	Status     FragmentStatus `json:"status"`

	// ArchiveRefs maps archive backend names to backend-specific references
	// for the ciphertext copy held there.
	ArchiveRefs map[string]string `json:"archive_refs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// FragmentKey addresses one fragment ciphertext in an archive backend.
type FragmentKey struct {
	VaultID VaultID
	Epoch   int
	Index   int
}

// String returns the canonical path form vault/epoch/index.
func (k FragmentKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.VaultID, k.Epoch, k.Index)
}

// ClaimStatus is the lifecycle state of a recovery claim.
type ClaimStatus string

const (
	// ClaimOpen means the claim is collecting guardian votes.
	ClaimOpen ClaimStatus = "open"

	// ClaimApproved means approvals reached the vault threshold.
	ClaimApproved ClaimStatus = "approved"

	// ClaimRejected means rejections reached the vault threshold.
	ClaimRejected ClaimStatus = "rejected"

	// ClaimTimeout means the voting deadline passed without resolution and
	// the claim was explicitly expired.
	ClaimTimeout ClaimStatus = "timeout"

	// ClaimCancelled means the owner checked in while the claim was pending.
	ClaimCancelled ClaimStatus = "cancelled"
)

// Resolved reports whether the claim reached a terminal state.
func (s ClaimStatus) Resolved() bool {
	return s != ClaimOpen
}

// ClaimReason records why a claim was filed.
type ClaimReason string

const (
	// ReasonInactivity marks claims auto-filed by the liveness sweep.
	ReasonInactivity ClaimReason = "inactivity"

	// ReasonManual marks beneficiary-initiated death/incapacity assertions.
	ReasonManual ClaimReason = "manual"
)

// Claim is a request to trigger recovery of a vault.
type Claim struct {
	ID       ClaimID     `json:"id"`
	VaultID  VaultID     `json:"vault_id"`
	Claimant string      `json:"claimant"`
	Reason   ClaimReason `json:"reason"`
	Status   ClaimStatus `json:"status"`

	VotingDeadline time.Time `json:"voting_deadline"`
	ApprovalVotes  int       `json:"approval_votes"`
	RejectionVotes int       `json:"rejection_votes"`

	CreatedAt  time.Time `json:"created_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
	Version    uint64    `json:"version"`
}

// VoteDecision is one guardian's stance on a claim.
type VoteDecision string

const (
	VoteApprove VoteDecision = "approve"
	VoteReject  VoteDecision = "reject"
)

// Valid reports whether the decision is one of the accepted values.
func (d VoteDecision) Valid() bool {
	return d == VoteApprove || d == VoteReject
}

// Vote is one guardian's decision on a claim. Re-voting overwrites the
// previous record; there is never more than one per (claim, guardian) pair.
type Vote struct {
	ClaimID    ClaimID      `json:"claim_id"`
	GuardianID GuardianID   `json:"guardian_id"`
	Decision   VoteDecision `json:"decision"`
	CastAt     time.Time    `json:"cast_at"`
}
