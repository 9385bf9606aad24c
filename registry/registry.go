// Package registry manages guardian identities and the invitation lifecycle:
// pending on invite, active on acceptance, declined or removed otherwise.
//
// The registry also owns the recoverability invariant: a vault stays
// recoverable only while its active fragment holders can still meet the
// threshold. Removal below the threshold is blocked unless forced, and the
// standing unrecoverable condition is surfaced through CheckRecoverable.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
)

// DefaultInviteWindow is how long an invitation token stays valid.
const DefaultInviteWindow = 7 * 24 * time.Hour

// Registry manages guardian records for all vaults.
type Registry struct {
	store        interfaces.Store
	clock        interfaces.Clock
	notifier     interfaces.Notifier
	log          *slog.Logger
	inviteWindow time.Duration
}

// New creates a guardian registry. A zero inviteWindow selects the default
// seven days.
func New(store interfaces.Store, clock interfaces.Clock, notifier interfaces.Notifier, log *slog.Logger, inviteWindow time.Duration) *Registry {
	if inviteWindow <= 0 {
		inviteWindow = DefaultInviteWindow
	}
	return &Registry{
		store:        store,
		clock:        clock,
		notifier:     notifier,
		log:          log,
		inviteWindow: inviteWindow,
	}
}

// Invite creates a pending guardian and sends the invitation. The token is
// single-use and expires after the invite window. Fails with
// ErrDuplicateInvite when a pending or active guardian already holds the
// email on this vault.
func (r *Registry) Invite(ctx context.Context, vaultID interfaces.VaultID, name, email string, role interfaces.GuardianRole) (*interfaces.Guardian, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: guardian email is required", interfaces.ErrInvalidParameters)
	}

	vault, err := r.store.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if vault.Status.Terminal() {
		return nil, fmt.Errorf("%w: vault %s", interfaces.ErrVaultClosed, vaultID)
	}

	existing, err := r.store.ListGuardians(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	for _, g := range existing {
		if strings.EqualFold(g.Email, email) && !g.Status.Terminal() {
			return nil, fmt.Errorf("%w: %s already invited to vault %s", interfaces.ErrDuplicateInvite, email, vaultID)
		}
	}

	now := r.clock.Now()
	guardian := &interfaces.Guardian{
		ID:              interfaces.NewGuardianID(),
		VaultID:         vaultID,
		Role:            role,
		Name:            name,
		Email:           email,
		Status:          interfaces.GuardianPending,
		InviteToken:     uuid.Must(uuid.NewRandom()).String(),
		InviteExpiresAt: now.Add(r.inviteWindow),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := r.store.CreateGuardian(ctx, guardian); err != nil {
		return nil, err
	}

	r.notify(ctx, email, interfaces.TemplateGuardianInvite, map[string]any{
		"vault_id":   vaultID.String(),
		"vault_name": vault.Name,
		"token":      guardian.InviteToken,
		"expires_at": guardian.InviteExpiresAt,
	})

	r.log.Info("Guardian invited",
		slog.String("vault_id", vaultID.String()),
		slog.String("guardian_id", guardian.ID.String()),
		slog.String("role", string(role)))
	return guardian, nil
}

// Accept transitions a pending guardian to active by invitation token.
// Fails with ErrInvalidToken for unknown or consumed tokens and
// ErrExpiredToken past the invite window.
func (r *Registry) Accept(ctx context.Context, token string) (*interfaces.Guardian, error) {
	guardian, err := r.lookupPending(ctx, token)
	if err != nil {
		return nil, err
	}

	guardian.Status = interfaces.GuardianActive
	guardian.InviteToken = ""
	guardian.UpdatedAt = r.clock.Now()
	if err := r.store.UpdateGuardian(ctx, guardian); err != nil {
		return nil, err
	}

	r.log.Info("Guardian accepted invitation",
		slog.String("vault_id", guardian.VaultID.String()),
		slog.String("guardian_id", guardian.ID.String()))
	return guardian, nil
}

// Decline transitions a pending guardian to the terminal declined state.
func (r *Registry) Decline(ctx context.Context, token string) (*interfaces.Guardian, error) {
	guardian, err := r.lookupPending(ctx, token)
	if err != nil {
		return nil, err
	}

	guardian.Status = interfaces.GuardianDeclined
	guardian.InviteToken = ""
	guardian.UpdatedAt = r.clock.Now()
	if err := r.store.UpdateGuardian(ctx, guardian); err != nil {
		return nil, err
	}

	r.log.Info("Guardian declined invitation",
		slog.String("vault_id", guardian.VaultID.String()),
		slog.String("guardian_id", guardian.ID.String()))
	return guardian, nil
}

func (r *Registry) lookupPending(ctx context.Context, token string) (*interfaces.Guardian, error) {
	if token == "" {
		return nil, interfaces.ErrInvalidToken
	}
	guardian, err := r.store.GetGuardianByToken(ctx, token)
	if err != nil {
		if err == interfaces.ErrNotFound {
			return nil, interfaces.ErrInvalidToken
		}
		return nil, err
	}
	if guardian.Status != interfaces.GuardianPending {
		return nil, interfaces.ErrInvalidToken
	}
	if r.clock.Now().After(guardian.InviteExpiresAt) {
		return nil, interfaces.ErrExpiredToken
	}
	return guardian, nil
}

// Remove transitions a guardian to the terminal removed state and revokes
// their fragment record, so the removed guardian's passphrase stops counting
// toward reconstruction immediately. Full fragment regeneration still needs
// the owner-held master secret and happens through rotation.
//
// Removing an active fragment holder that would drop the vault below its
// threshold is blocked with ErrThresholdBreach unless force is set; a forced
// removal leaves the vault in the standing unrecoverable condition until the
// owner rotates in a replacement.
func (r *Registry) Remove(ctx context.Context, guardianID interfaces.GuardianID, force bool) (*interfaces.Guardian, error) {
	guardian, err := r.store.GetGuardian(ctx, guardianID)
	if err != nil {
		return nil, err
	}
	if guardian.Status.Terminal() {
		if guardian.Status == interfaces.GuardianRemoved && guardian.Role == interfaces.RoleGuardian {
			// Retried removal: make sure the revocation landed too.
			if err := r.store.SetFragmentStatus(ctx, guardian.VaultID, guardian.ID, interfaces.FragmentRevoked); err != nil {
				return nil, err
			}
		}
		return guardian, nil
	}

	vault, err := r.store.GetVault(ctx, guardian.VaultID)
	if err != nil {
		return nil, err
	}

	if guardian.Role == interfaces.RoleGuardian && guardian.Status == interfaces.GuardianActive {
		active, err := r.ActiveHolderCount(ctx, guardian.VaultID)
		if err != nil {
			return nil, err
		}
		if active-1 < vault.Scheme.Threshold && !force {
			return nil, fmt.Errorf("%w: vault %s needs %d active guardians, would have %d",
				interfaces.ErrThresholdBreach, vault.ID, vault.Scheme.Threshold, active-1)
		}
	}

	guardian.Status = interfaces.GuardianRemoved
	guardian.InviteToken = ""
	guardian.UpdatedAt = r.clock.Now()
	if err := r.store.UpdateGuardian(ctx, guardian); err != nil {
		return nil, err
	}

	if guardian.Role == interfaces.RoleGuardian {
		if err := r.store.SetFragmentStatus(ctx, guardian.VaultID, guardian.ID, interfaces.FragmentRevoked); err != nil {
			return nil, err
		}
	}

	r.log.Info("Guardian removed",
		slog.String("vault_id", guardian.VaultID.String()),
		slog.String("guardian_id", guardian.ID.String()),
		slog.Bool("forced", force))
	return guardian, nil
}

// List returns every guardian and beneficiary record for a vault.
func (r *Registry) List(ctx context.Context, vaultID interfaces.VaultID) ([]*interfaces.Guardian, error) {
	if _, err := r.store.GetVault(ctx, vaultID); err != nil {
		return nil, err
	}
	return r.store.ListGuardians(ctx, vaultID)
}

// ActiveHolderCount returns the number of active fragment-holding guardians
// for a vault. Beneficiaries do not count towards the threshold.
func (r *Registry) ActiveHolderCount(ctx context.Context, vaultID interfaces.VaultID) (int, error) {
	guardians, err := r.store.ListGuardians(ctx, vaultID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, g := range guardians {
		if g.Role == interfaces.RoleGuardian && g.Status == interfaces.GuardianActive {
			count++
		}
	}
	return count, nil
}

// ActiveHolders returns the active fragment-holding guardians for a vault.
func (r *Registry) ActiveHolders(ctx context.Context, vaultID interfaces.VaultID) ([]*interfaces.Guardian, error) {
	guardians, err := r.store.ListGuardians(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	var holders []*interfaces.Guardian
	for _, g := range guardians {
		if g.Role == interfaces.RoleGuardian && g.Status == interfaces.GuardianActive {
			holders = append(holders, g)
		}
	}
	return holders, nil
}

// CheckRecoverable reports the standing unrecoverable condition: it returns
// ErrVaultUnrecoverable when the active fragment holders can no longer meet
// the vault threshold. This is detected actively, not merely prevented at
// write time, so the warning surfaces before reconstruction is attempted.
func (r *Registry) CheckRecoverable(ctx context.Context, vault *interfaces.Vault) error {
	active, err := r.ActiveHolderCount(ctx, vault.ID)
	if err != nil {
		return err
	}
	if active < vault.Scheme.Threshold {
		return fmt.Errorf("%w: vault %s has %d active guardians, threshold is %d",
			interfaces.ErrVaultUnrecoverable, vault.ID, active, vault.Scheme.Threshold)
	}
	return nil
}

// notify sends without blocking state transitions on delivery problems.
func (r *Registry) notify(ctx context.Context, recipient, template string, payload map[string]any) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Send(ctx, recipient, template, payload); err != nil {
		r.log.Warn("Notification delivery failed",
			slog.String("template", template),
			slog.String("recipient", recipient),
			"err", err)
	}
}
