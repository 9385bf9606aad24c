// Package orchestrator ties the check-in timer, guardian registry, claim
// state machine and fragment store into the vault lifecycle:
//
//	Active -> Triggered (claim open) -> TimeLocked (claim approved)
//	       -> Released (time lock expired) | Active (rejected/cancelled)
//
// All lifecycle mutations go through the store's optimistic concurrency, so
// concurrent sweeps, votes and check-ins serialize per vault. Guardian
// passphrases are staged in memory only, retrieved exactly once by the owner,
// and wiped on retrieval.
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/guardiavault/vault-recovery-backend/claims"
	"github.com/guardiavault/vault-recovery-backend/fragstore"
	"github.com/guardiavault/vault-recovery-backend/interfaces"
	"github.com/guardiavault/vault-recovery-backend/liveness"
	"github.com/guardiavault/vault-recovery-backend/metrics"
	"github.com/guardiavault/vault-recovery-backend/registry"
	"github.com/guardiavault/vault-recovery-backend/shamir"
)

// Defaults applied when a vault does not configure its own windows.
const (
	DefaultCheckInIntervalDays = 30
	DefaultGracePeriodDays     = 14
	DefaultTimeLockDays        = 7
)

const casRetries = 3

// SystemClaimant marks claims auto-filed by the liveness sweep.
const SystemClaimant = "system:liveness-sweep"

// Orchestrator coordinates the recovery lifecycle across components.
type Orchestrator struct {
	store     interfaces.Store
	clock     interfaces.Clock
	guardians *registry.Registry
	claims    *claims.Service
	fragments *fragstore.Manager
	monitor   *liveness.Monitor
	notifier  interfaces.Notifier
	publisher interfaces.EventPublisher
	log       *slog.Logger

	// Passphrases staged for the owner's one-time reveal, per vault epoch.
	// Memory-only: a restart before reveal requires fragment rotation.
	revealMu       sync.Mutex
	pendingReveals map[interfaces.VaultID]map[interfaces.GuardianID]string
}

// New creates the recovery orchestrator.
func New(store interfaces.Store, clock interfaces.Clock, guardians *registry.Registry, claimSvc *claims.Service, fragments *fragstore.Manager, notifier interfaces.Notifier, publisher interfaces.EventPublisher, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:          store,
		clock:          clock,
		guardians:      guardians,
		claims:         claimSvc,
		fragments:      fragments,
		monitor:        liveness.NewMonitor(store, clock, log),
		notifier:       notifier,
		publisher:      publisher,
		log:            log,
		pendingReveals: make(map[interfaces.VaultID]map[interfaces.GuardianID]string),
	}
}

// GuardianInvite names one party to invite at vault creation.
type GuardianInvite struct {
	Name  string
	Email string
}

// CreateVaultRequest carries the parameters for a new vault.
type CreateVaultRequest struct {
	OwnerID             string
	Name                string
	Scheme              interfaces.Scheme
	CheckInIntervalDays int
	GracePeriodDays     int
	VotingWindowDays    int
	TimeLockDays        int

	// Secret is the master secret to protect. When empty a random 32-byte
	// secret is generated.
	Secret []byte

	// Guardians must name exactly Scheme.Total fragment holders.
	Guardians []GuardianInvite

	// Beneficiaries may file claims but hold no fragments.
	Beneficiaries []GuardianInvite
}

// CreateVaultResult is returned exactly once at creation time.
type CreateVaultResult struct {
	Vault *interfaces.Vault

	// MasterSecret is shown once for the owner's backup and never persisted.
	MasterSecret []byte

	// InviteTokens maps guardian email to the invitation token.
	InviteTokens map[string]string
}

// CreateVault creates a vault, invites its guardians and beneficiaries,
// splits the master secret and distributes encrypted fragments. The guardian
// passphrases are staged for a single reveal via RevealPassphrases.
func (o *Orchestrator) CreateVault(ctx context.Context, req CreateVaultRequest) (*CreateVaultResult, error) {
	if err := req.Scheme.Validate(); err != nil {
		return nil, err
	}
	if len(req.Guardians) != req.Scheme.Total {
		return nil, fmt.Errorf("%w: scheme %s requires %d guardians, got %d",
			interfaces.ErrInvalidParameters, req.Scheme, req.Scheme.Total, len(req.Guardians))
	}
	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner is required", interfaces.ErrInvalidParameters)
	}

	secret := req.Secret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate master secret: %w", err)
		}
	}

	macKey := make([]byte, 32)
	if _, err := rand.Read(macKey); err != nil {
		return nil, fmt.Errorf("failed to generate MAC key: %w", err)
	}

	now := o.clock.Now()
	vault := &interfaces.Vault{
		ID:                  interfaces.NewVaultID(),
		OwnerID:             req.OwnerID,
		Name:                req.Name,
		Scheme:              req.Scheme,
		Status:              interfaces.VaultActive,
		CheckInIntervalDays: orDefault(req.CheckInIntervalDays, DefaultCheckInIntervalDays),
		GracePeriodDays:     orDefault(req.GracePeriodDays, DefaultGracePeriodDays),
		VotingWindowDays:    orDefault(req.VotingWindowDays, claims.DefaultVotingWindowDays),
		TimeLockDays:        orDefault(req.TimeLockDays, DefaultTimeLockDays),
		LastCheckIn:         now,
		Epoch:               1,
		MACKey:              macKey,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := o.store.CreateVault(ctx, vault); err != nil {
		return nil, err
	}

	tokens := make(map[string]string, len(req.Guardians)+len(req.Beneficiaries))
	holders := make([]*interfaces.Guardian, 0, len(req.Guardians))
	for _, invite := range req.Guardians {
		guardian, err := o.guardians.Invite(ctx, vault.ID, invite.Name, invite.Email, interfaces.RoleGuardian)
		if err != nil {
			return nil, o.abortCreation(ctx, vault, err)
		}
		tokens[guardian.Email] = guardian.InviteToken
		holders = append(holders, guardian)
	}
	for _, invite := range req.Beneficiaries {
		beneficiary, err := o.guardians.Invite(ctx, vault.ID, invite.Name, invite.Email, interfaces.RoleBeneficiary)
		if err != nil {
			return nil, o.abortCreation(ctx, vault, err)
		}
		tokens[beneficiary.Email] = beneficiary.InviteToken
	}

	passphrases, err := o.fragments.Distribute(ctx, vault, holders, secret)
	if err != nil {
		return nil, o.abortCreation(ctx, vault, err)
	}
	o.stageReveal(vault.ID, passphrases)

	o.log.Info("Vault created",
		slog.String("vault_id", vault.ID.String()),
		slog.String("scheme", vault.Scheme.String()),
		slog.String("owner", req.OwnerID))

	return &CreateVaultResult{
		Vault:        vault,
		MasterSecret: secret,
		InviteTokens: tokens,
	}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// abortCreation closes a partially created vault, so a failed invitation or
// distribution never leaves a live vault without its full guardian set and
// fragments. The cause is returned for the caller.
func (o *Orchestrator) abortCreation(ctx context.Context, vault *interfaces.Vault, cause error) error {
	vault.Status = interfaces.VaultCancelled
	vault.UpdatedAt = o.clock.Now()
	if err := o.store.UpdateVault(ctx, vault); err != nil {
		o.log.Error("Failed to close partially created vault",
			slog.String("vault_id", vault.ID.String()), "err", err)
	}
	return cause
}

// stageReveal replaces any staged passphrases for the vault.
func (o *Orchestrator) stageReveal(vaultID interfaces.VaultID, passphrases map[interfaces.GuardianID]string) {
	o.revealMu.Lock()
	defer o.revealMu.Unlock()
	o.pendingReveals[vaultID] = passphrases
}

// RevealPassphrases returns the guardian passphrases for the vault's current
// fragment epoch exactly once, for the owner's out-of-band distribution. A
// second call fails with ErrPassphrasesRevealed; the passphrases are wiped
// from memory only after the revealed flag commits, so a lost update race
// against a concurrent check-in never discards them.
func (o *Orchestrator) RevealPassphrases(ctx context.Context, vaultID interfaces.VaultID) (map[interfaces.GuardianID]string, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		vault, err := o.store.GetVault(ctx, vaultID)
		if err != nil {
			return nil, err
		}
		if vault.PassphrasesRevealed {
			return nil, interfaces.ErrPassphrasesRevealed
		}

		o.revealMu.Lock()
		passphrases, ok := o.pendingReveals[vaultID]
		o.revealMu.Unlock()
		if !ok {
			// Staged reveals do not survive restarts; the owner must rotate.
			return nil, fmt.Errorf("%w: passphrases no longer staged, rotate fragments", interfaces.ErrPassphrasesRevealed)
		}

		vault.PassphrasesRevealed = true
		vault.UpdatedAt = o.clock.Now()
		if err := o.store.UpdateVault(ctx, vault); err != nil {
			if errors.Is(err, interfaces.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		o.revealMu.Lock()
		delete(o.pendingReveals, vaultID)
		o.revealMu.Unlock()

		for guardianID := range passphrases {
			if err := o.store.SetFragmentStatus(ctx, vaultID, guardianID, interfaces.FragmentDistributed); err != nil {
				o.log.Warn("Failed to mark fragment distributed",
					slog.String("vault_id", vaultID.String()),
					slog.String("guardian_id", guardianID.String()),
					"err", err)
			}
		}
		return passphrases, nil
	}
	return nil, lastErr
}

// CheckIn resets the vault's liveness countdown. Checking in while a claim
// is open or time-locked cancels the claim and returns the vault to active.
// The claim lookup also covers an approved claim whose vault transition has
// not committed yet, so a check-in landing between the claim resolution and
// the time-lock write still cancels it; the vault's version check serializes
// the final vault state against concurrent votes and sweeps.
//
// Fails with ErrVaultClosed on released or cancelled vaults.
func (o *Orchestrator) CheckIn(ctx context.Context, vaultID interfaces.VaultID) (*interfaces.Vault, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		vault, err := o.store.GetVault(ctx, vaultID)
		if err != nil {
			return nil, err
		}
		if vault.Status.Terminal() {
			return nil, fmt.Errorf("%w: vault %s is %s", interfaces.ErrVaultClosed, vaultID, vault.Status)
		}

		now := o.clock.Now()
		vault.LastCheckIn = now
		vault.UpdatedAt = now

		cancelled := false
		if vault.Status == interfaces.VaultTriggered || vault.Status == interfaces.VaultTimeLocked {
			open, err := o.store.GetOpenClaim(ctx, vaultID)
			if err == nil {
				if _, err := o.claims.Cancel(ctx, open.ID); err != nil && !errors.Is(err, interfaces.ErrClaimAlreadyResolved) {
					return nil, err
				}
				cancelled = true
			} else if !errors.Is(err, interfaces.ErrNotFound) {
				return nil, err
			} else {
				// No open claim: an approved claim is either waiting out the
				// time lock, or its vault transition has not committed yet.
				approved, err := o.latestApprovedClaim(ctx, vaultID)
				if err != nil {
					return nil, err
				}
				if approved != nil {
					if _, err := o.claims.Cancel(ctx, approved.ID); err != nil && !errors.Is(err, interfaces.ErrClaimAlreadyResolved) {
						return nil, err
					}
					cancelled = true
				}
			}
			vault.Status = interfaces.VaultActive
			vault.ReleaseAt = time.Time{}
		}

		if err := o.store.UpdateVault(ctx, vault); err != nil {
			if errors.Is(err, interfaces.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		metrics.IncCheckIns()
		o.publish(vaultID, interfaces.EventCheckIn, map[string]any{
			"checked_in_at":   now,
			"claim_cancelled": cancelled,
		})
		o.log.Info("Owner checked in",
			slog.String("vault_id", vaultID.String()),
			slog.Bool("claim_cancelled", cancelled))
		return vault, nil
	}
	return nil, lastErr
}

// latestApprovedClaim finds the approved claim backing a time lock.
func (o *Orchestrator) latestApprovedClaim(ctx context.Context, vaultID interfaces.VaultID) (*interfaces.Claim, error) {
	all, err := o.store.ListClaimsByVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		if c.Status == interfaces.ClaimApproved {
			return c, nil
		}
	}
	return nil, nil
}

// FileClaim opens a recovery claim and moves the vault to triggered. Active
// guardians are notified that their vote is pending. Fails with
// ErrClaimExists if the vault already has an open claim.
func (o *Orchestrator) FileClaim(ctx context.Context, vaultID interfaces.VaultID, claimant string, reason interfaces.ClaimReason) (*interfaces.Claim, error) {
	claim, err := o.claims.File(ctx, vaultID, claimant, reason)
	if err != nil {
		return nil, err
	}

	if err := o.transitionVault(ctx, vaultID, interfaces.VaultTriggered, time.Time{}); err != nil {
		return nil, err
	}
	metrics.IncClaimsOpened(string(reason))
	o.publish(vaultID, interfaces.EventVaultTriggered, map[string]any{
		"claim_id": claim.ID.String(),
		"reason":   string(reason),
	})

	holders, err := o.guardians.ActiveHolders(ctx, vaultID)
	if err == nil {
		for _, g := range holders {
			o.notify(ctx, g.Email, interfaces.TemplateVotePending, map[string]any{
				"vault_id": vaultID.String(),
				"claim_id": claim.ID.String(),
				"deadline": claim.VotingDeadline,
			})
		}
	}
	return claim, nil
}

// CastVote records a guardian's vote and applies any resulting vault
// transition: an approved claim starts the time lock, a rejected claim
// returns the vault to active.
func (o *Orchestrator) CastVote(ctx context.Context, claimID interfaces.ClaimID, guardianID interfaces.GuardianID, decision interfaces.VoteDecision) (*interfaces.Claim, error) {
	claim, err := o.claims.CastVote(ctx, claimID, guardianID, decision)
	if err != nil {
		return nil, err
	}
	metrics.IncVotesCast(string(decision))
	if claim.Status.Resolved() {
		metrics.IncClaimsResolved(string(claim.Status))
	}

	switch claim.Status {
	case interfaces.ClaimApproved:
		vault, err := o.store.GetVault(ctx, claim.VaultID)
		if err != nil {
			return nil, err
		}
		releaseAt := o.clock.Now().Add(time.Duration(vault.TimeLockDays) * 24 * time.Hour)
		if err := o.transitionVault(ctx, claim.VaultID, interfaces.VaultTimeLocked, releaseAt); err != nil {
			return nil, err
		}
		o.publish(claim.VaultID, interfaces.EventVaultLocked, map[string]any{
			"claim_id":   claim.ID.String(),
			"release_at": releaseAt,
		})
		o.notifyClaimant(ctx, claim)
	case interfaces.ClaimRejected:
		if err := o.transitionVault(ctx, claim.VaultID, interfaces.VaultActive, time.Time{}); err != nil {
			return nil, err
		}
		o.notifyClaimant(ctx, claim)
	}
	return claim, nil
}

// ResolveExpiredClaim explicitly times out a claim past its voting deadline
// and returns the vault to active.
func (o *Orchestrator) ResolveExpiredClaim(ctx context.Context, claimID interfaces.ClaimID) (*interfaces.Claim, error) {
	claim, err := o.claims.ResolveExpired(ctx, claimID)
	if err != nil {
		return nil, err
	}
	metrics.IncClaimsResolved(string(claim.Status))
	if err := o.transitionVault(ctx, claim.VaultID, interfaces.VaultActive, time.Time{}); err != nil {
		return nil, err
	}
	o.notifyClaimant(ctx, claim)
	return claim, nil
}

// transitionVault applies a status change with CAS retry. The ReleaseAt time
// accompanies transitions into the time lock and is cleared otherwise.
func (o *Orchestrator) transitionVault(ctx context.Context, vaultID interfaces.VaultID, status interfaces.VaultStatus, releaseAt time.Time) error {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		vault, err := o.store.GetVault(ctx, vaultID)
		if err != nil {
			return err
		}
		if vault.Status == status {
			return nil
		}
		if vault.Status.Terminal() {
			return fmt.Errorf("%w: vault %s is %s", interfaces.ErrVaultClosed, vaultID, vault.Status)
		}

		vault.Status = status
		vault.ReleaseAt = releaseAt
		vault.UpdatedAt = o.clock.Now()
		if err := o.store.UpdateVault(ctx, vault); err != nil {
			if errors.Is(err, interfaces.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

func (o *Orchestrator) notifyClaimant(ctx context.Context, claim *interfaces.Claim) {
	if claim.Claimant == "" || claim.Claimant == SystemClaimant {
		return
	}
	o.notify(ctx, claim.Claimant, interfaces.TemplateClaimResolved, map[string]any{
		"claim_id": claim.ID.String(),
		"status":   string(claim.Status),
	})
}

func (o *Orchestrator) notify(ctx context.Context, recipient, template string, payload map[string]any) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Send(ctx, recipient, template, payload); err != nil {
		o.log.Warn("Notification delivery failed",
			slog.String("template", template),
			slog.String("recipient", recipient),
			"err", err)
	}
}

func (o *Orchestrator) publish(vaultID interfaces.VaultID, eventType string, payload map[string]any) {
	if o.publisher != nil {
		o.publisher.Publish(vaultID, eventType, payload)
	}
}

// RotateFragments regenerates the full fragment set under a fresh epoch and
// MAC key, invalidating every previously issued fragment. Required after a
// guardian removal or a scheme change; the owner supplies the master secret
// from their backup since it is never persisted.
func (o *Orchestrator) RotateFragments(ctx context.Context, vaultID interfaces.VaultID, secret []byte, newScheme *interfaces.Scheme) (*interfaces.Vault, error) {
	vault, err := o.store.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if vault.Status.Terminal() {
		return nil, fmt.Errorf("%w: vault %s is %s", interfaces.ErrVaultClosed, vaultID, vault.Status)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: master secret is required for rotation", interfaces.ErrInvalidParameters)
	}

	if newScheme != nil {
		if err := newScheme.Validate(); err != nil {
			return nil, err
		}
		vault.Scheme = *newScheme
	}

	holders, err := o.guardians.ActiveHolders(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if len(holders) != vault.Scheme.Total {
		return nil, fmt.Errorf("%w: scheme %s requires %d active guardians, have %d",
			interfaces.ErrInvalidParameters, vault.Scheme, vault.Scheme.Total, len(holders))
	}

	macKey := make([]byte, 32)
	if _, err := rand.Read(macKey); err != nil {
		return nil, fmt.Errorf("failed to generate MAC key: %w", err)
	}

	vault.Epoch++
	vault.MACKey = macKey
	vault.PassphrasesRevealed = false
	vault.UpdatedAt = o.clock.Now()

	passphrases, err := o.fragments.Distribute(ctx, vault, holders, secret)
	if err != nil {
		return nil, err
	}
	if err := o.store.UpdateVault(ctx, vault); err != nil {
		return nil, err
	}
	o.stageReveal(vault.ID, passphrases)
	metrics.IncRotations()

	o.log.Info("Fragments rotated",
		slog.String("vault_id", vault.ID.String()),
		slog.Int("epoch", vault.Epoch),
		slog.String("scheme", vault.Scheme.String()))
	return vault, nil
}

// Reconstruct combines guardian-supplied fragment credentials into the
// master secret. Only released vaults are eligible; decrypted fragments are
// wiped before returning. The secret is handed to the caller and never
// persisted.
func (o *Orchestrator) Reconstruct(ctx context.Context, vaultID interfaces.VaultID, creds []fragstore.FragmentCredential) ([]byte, error) {
	vault, err := o.store.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if vault.Status != interfaces.VaultReleased {
		return nil, fmt.Errorf("%w: vault %s is %s", interfaces.ErrVaultNotReleased, vaultID, vault.Status)
	}

	fragments, err := o.fragments.Decrypt(ctx, vaultID, creds)
	if err != nil {
		return nil, err
	}
	defer func() {
		for i := range fragments {
			fragments[i].Wipe()
		}
	}()

	return shamir.Combine(fragments, vault.ID, vault.Epoch, vault.MACKey)
}

// StatusReport aggregates a vault's liveness and recoverability state for
// the owner dashboard.
type StatusReport struct {
	Vault           *interfaces.Vault `json:"vault"`
	Overdue         bool              `json:"overdue"`
	GraceExpired    bool              `json:"grace_expired"`
	NextDeadline    time.Time         `json:"next_deadline"`
	GraceDeadline   time.Time         `json:"grace_deadline"`
	ActiveGuardians int               `json:"active_guardians"`

	// Unrecoverable is the standing warning raised when active guardians
	// fall below the threshold. Surfaced here, on every sweep, and as a
	// metric, so recovery failure is never a surprise at reconstruction.
	Unrecoverable bool              `json:"unrecoverable"`
	OpenClaim     *interfaces.Claim `json:"open_claim,omitempty"`
}

// Status reports the vault's current liveness and recoverability.
func (o *Orchestrator) Status(ctx context.Context, vaultID interfaces.VaultID) (*StatusReport, error) {
	vault, err := o.store.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}

	active, err := o.guardians.ActiveHolderCount(ctx, vaultID)
	if err != nil {
		return nil, err
	}

	now := o.clock.Now()
	report := &StatusReport{
		Vault:           vault,
		Overdue:         liveness.IsOverdue(vault, now),
		GraceExpired:    liveness.GraceExpired(vault, now),
		NextDeadline:    liveness.NextDeadline(vault),
		GraceDeadline:   liveness.GraceDeadline(vault),
		ActiveGuardians: active,
		Unrecoverable:   active < vault.Scheme.Threshold && !vault.Status.Terminal(),
	}

	if open, err := o.store.GetOpenClaim(ctx, vaultID); err == nil {
		report.OpenClaim = open
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}
	return report, nil
}

// MasterSecretHex formats a master secret for the one-time backup display.
func MasterSecretHex(secret []byte) string {
	return hex.EncodeToString(secret)
}

// ParseMasterSecretHex decodes an owner-supplied master secret backup.
func ParseMasterSecretHex(s string) ([]byte, error) {
	secret, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: master secret must be hex encoded", interfaces.ErrInvalidParameters)
	}
	return secret, nil
}
