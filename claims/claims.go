// Package claims implements the attestation state machine for recovery
// claims: filing, guardian voting, and resolution.
//
// A claim collects approve/reject votes from active guardians. Votes are
// idempotent upserts, one per (claim, guardian); the tally is recomputed from
// the stored vote set on every cast, so the outcome is independent of arrival
// order. A claim auto-resolves the moment either side reaches the vault
// threshold. Claims past their voting deadline are only ever resolved through
// the explicit expiry path, never silently.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
	"github.com/guardiavault/vault-recovery-backend/registry"
)

// DefaultVotingWindowDays applies when the vault does not configure its own.
const DefaultVotingWindowDays = 30

// casRetries bounds optimistic-concurrency retry loops on vote tallies.
const casRetries = 3

// Service coordinates claim lifecycle and guardian voting.
type Service struct {
	store     interfaces.Store
	clock     interfaces.Clock
	guardians *registry.Registry
	publisher interfaces.EventPublisher
	log       *slog.Logger
}

// NewService creates the claim state machine service.
func NewService(store interfaces.Store, clock interfaces.Clock, guardians *registry.Registry, publisher interfaces.EventPublisher, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		clock:     clock,
		guardians: guardians,
		publisher: publisher,
		log:       log,
	}
}

// File opens a claim against a vault. The voting deadline is the vault's
// voting window from now. Fails with ErrClaimExists when the vault already
// has an open claim, which makes concurrent auto-filing idempotent, and with
// ErrVaultClosed for released or cancelled vaults.
func (s *Service) File(ctx context.Context, vaultID interfaces.VaultID, claimant string, reason interfaces.ClaimReason) (*interfaces.Claim, error) {
	vault, err := s.store.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if vault.Status.Terminal() {
		return nil, fmt.Errorf("%w: vault %s", interfaces.ErrVaultClosed, vaultID)
	}

	windowDays := vault.VotingWindowDays
	if windowDays <= 0 {
		windowDays = DefaultVotingWindowDays
	}

	now := s.clock.Now()
	claim := &interfaces.Claim{
		ID:             interfaces.NewClaimID(),
		VaultID:        vaultID,
		Claimant:       claimant,
		Reason:         reason,
		Status:         interfaces.ClaimOpen,
		VotingDeadline: now.Add(time.Duration(windowDays) * 24 * time.Hour),
		CreatedAt:      now,
	}

	if err := s.store.CreateClaim(ctx, claim); err != nil {
		return nil, err
	}

	s.publish(vaultID, interfaces.EventClaimOpened, map[string]any{
		"claim_id": claim.ID.String(),
		"reason":   string(reason),
		"deadline": claim.VotingDeadline,
	})
	s.log.Info("Claim filed",
		slog.String("vault_id", vaultID.String()),
		slog.String("claim_id", claim.ID.String()),
		slog.String("reason", string(reason)))
	return claim, nil
}

// Get returns a claim by ID.
func (s *Service) Get(ctx context.Context, claimID interfaces.ClaimID) (*interfaces.Claim, error) {
	return s.store.GetClaim(ctx, claimID)
}

// CastVote records one guardian's decision as an idempotent upsert and
// recomputes the tally. Re-voting overwrites the guardian's previous vote.
//
// Fails with ErrClaimAlreadyResolved on resolved claims and with
// ErrUnauthorizedVoter unless the voter is an active fragment-holding
// guardian of the claim's vault.
//
// When approvals reach the threshold the claim resolves approved, unless the
// vault's active guardian count has dropped below the threshold, in which
// case the claim stays open and the unrecoverable condition is published
// instead of approving against an unreachable quorum. Rejections reaching the
// threshold resolve the claim rejected.
func (s *Service) CastVote(ctx context.Context, claimID interfaces.ClaimID, guardianID interfaces.GuardianID, decision interfaces.VoteDecision) (*interfaces.Claim, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("%w: decision must be approve or reject", interfaces.ErrInvalidParameters)
	}

	claim, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status.Resolved() {
		return nil, fmt.Errorf("%w: claim %s is %s", interfaces.ErrClaimAlreadyResolved, claimID, claim.Status)
	}

	guardian, err := s.store.GetGuardian(ctx, guardianID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, interfaces.ErrUnauthorizedVoter
		}
		return nil, err
	}
	if guardian.VaultID != claim.VaultID ||
		guardian.Role != interfaces.RoleGuardian ||
		guardian.Status != interfaces.GuardianActive {
		return nil, fmt.Errorf("%w: guardian %s may not vote on claim %s", interfaces.ErrUnauthorizedVoter, guardianID, claimID)
	}

	if err := s.store.UpsertVote(ctx, &interfaces.Vote{
		ClaimID:    claimID,
		GuardianID: guardianID,
		Decision:   decision,
		CastAt:     s.clock.Now(),
	}); err != nil {
		return nil, err
	}

	return s.retally(ctx, claimID)
}

// retally recomputes counts from the stored vote set and applies any
// threshold resolution, retrying around concurrent writers.
func (s *Service) retally(ctx context.Context, claimID interfaces.ClaimID) (*interfaces.Claim, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		claim, err := s.store.GetClaim(ctx, claimID)
		if err != nil {
			return nil, err
		}
		if claim.Status.Resolved() {
			// A concurrent voter or the owner's check-in got there first.
			return claim, nil
		}

		vault, err := s.store.GetVault(ctx, claim.VaultID)
		if err != nil {
			return nil, err
		}

		votes, err := s.store.ListVotes(ctx, claimID)
		if err != nil {
			return nil, err
		}

		approvals, rejections := 0, 0
		for _, v := range votes {
			switch v.Decision {
			case interfaces.VoteApprove:
				approvals++
			case interfaces.VoteReject:
				rejections++
			}
		}

		claim.ApprovalVotes = approvals
		claim.RejectionVotes = rejections

		threshold := vault.Scheme.Threshold
		switch {
		case rejections >= threshold:
			claim.Status = interfaces.ClaimRejected
			claim.ResolvedAt = s.clock.Now()
		case approvals >= threshold:
			if err := s.guardians.CheckRecoverable(ctx, vault); err != nil {
				if errors.Is(err, interfaces.ErrVaultUnrecoverable) {
					// Never approve against a quorum the vault can no
					// longer assemble; surface the standing warning.
					s.publish(vault.ID, interfaces.EventVaultWarning, map[string]any{
						"claim_id": claim.ID.String(),
						"detail":   err.Error(),
					})
					s.log.Warn("Claim approval blocked: vault unrecoverable",
						slog.String("vault_id", vault.ID.String()),
						slog.String("claim_id", claim.ID.String()))
				} else {
					return nil, err
				}
			} else {
				claim.Status = interfaces.ClaimApproved
				claim.ResolvedAt = s.clock.Now()
			}
		}

		if err := s.store.UpdateClaim(ctx, claim); err != nil {
			if errors.Is(err, interfaces.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		if claim.Status.Resolved() {
			s.publishResolution(claim)
		}
		return claim, nil
	}
	return nil, lastErr
}

// ResolveExpired resolves a claim whose voting deadline has passed without a
// threshold outcome. This path is always explicit: it is called by the
// administrative endpoint and by the periodic sweep, never implied. The claim
// transitions to timeout regardless of partial votes, since neither side
// assembled the quorum in time.
func (s *Service) ResolveExpired(ctx context.Context, claimID interfaces.ClaimID) (*interfaces.Claim, error) {
	claim, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status.Resolved() {
		return nil, fmt.Errorf("%w: claim %s is %s", interfaces.ErrClaimAlreadyResolved, claimID, claim.Status)
	}
	if !s.clock.Now().After(claim.VotingDeadline) {
		return nil, fmt.Errorf("%w: voting deadline %s has not passed", interfaces.ErrInvalidParameters, claim.VotingDeadline)
	}

	claim.Status = interfaces.ClaimTimeout
	claim.ResolvedAt = s.clock.Now()
	if err := s.store.UpdateClaim(ctx, claim); err != nil {
		return nil, err
	}

	s.publishResolution(claim)
	s.log.Info("Claim expired",
		slog.String("vault_id", claim.VaultID.String()),
		slog.String("claim_id", claim.ID.String()))
	return claim, nil
}

// Cancel resolves a claim as cancelled. The orchestrator uses this when the
// owner checks in while a claim is open or time-locked. Fails with
// ErrClaimAlreadyResolved when a concurrent resolution committed first and
// the claim is in any other terminal state.
func (s *Service) Cancel(ctx context.Context, claimID interfaces.ClaimID) (*interfaces.Claim, error) {
	claim, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status.Resolved() && claim.Status != interfaces.ClaimApproved {
		return nil, fmt.Errorf("%w: claim %s is %s", interfaces.ErrClaimAlreadyResolved, claimID, claim.Status)
	}

	claim.Status = interfaces.ClaimCancelled
	claim.ResolvedAt = s.clock.Now()
	if err := s.store.UpdateClaim(ctx, claim); err != nil {
		return nil, err
	}

	s.publish(claim.VaultID, interfaces.EventClaimCancelled, map[string]any{
		"claim_id": claim.ID.String(),
	})
	return claim, nil
}

func (s *Service) publishResolution(claim *interfaces.Claim) {
	s.publish(claim.VaultID, interfaces.EventClaimResolved, map[string]any{
		"claim_id":  claim.ID.String(),
		"status":    string(claim.Status),
		"approvals": claim.ApprovalVotes,
		"rejects":   claim.RejectionVotes,
	})
}

func (s *Service) publish(vaultID interfaces.VaultID, eventType string, payload map[string]any) {
	if s.publisher != nil {
		s.publisher.Publish(vaultID, eventType, payload)
	}
}
