package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
	"github.com/guardiavault/vault-recovery-backend/metrics"
)

// SweepReport summarizes one pass of the periodic sweep.
type SweepReport struct {
	ClaimsFiled      int
	ClaimsExpired    int
	VaultsReconciled int
	VaultsReleased   int
	WarningsRaised   int
}

// Sweep runs one pass of the background reconciliation:
//
//  1. auto-files inactivity claims for active vaults past their grace period,
//  2. expires open claims past their voting deadline,
//  3. reconciles triggered vaults whose claim resolved but whose vault
//     transition never committed (a voter dying mid-transition leaves the
//     claim and vault rows out of step, since they update independently),
//  4. releases time-locked vaults whose dispute window has run out,
//  5. raises the unrecoverable warning for vaults below threshold.
//
// Every step is idempotent, so overlapping sweeps from multiple replicas
// converge on the same state. Individual vault failures are logged and do not
// abort the pass.
func (o *Orchestrator) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}

	expired, err := o.monitor.ScanGraceExpired(ctx)
	if err != nil {
		return nil, err
	}
	for _, vault := range expired {
		_, err := o.FileClaim(ctx, vault.ID, SystemClaimant, interfaces.ReasonInactivity)
		switch {
		case err == nil:
			report.ClaimsFiled++
			metrics.IncSweepClaimsFiled()
			o.log.Info("Inactivity claim auto-filed",
				slog.String("vault_id", vault.ID.String()),
				slog.Time("last_check_in", vault.LastCheckIn))
		case errors.Is(err, interfaces.ErrClaimExists):
			// Another sweep or a manual claimant got there first.
		default:
			o.log.Error("Failed to auto-file inactivity claim",
				slog.String("vault_id", vault.ID.String()), "err", err)
		}
	}

	open, err := o.store.ListOpenClaims(ctx)
	if err != nil {
		return nil, err
	}
	now := o.clock.Now()
	for _, claim := range open {
		if !now.After(claim.VotingDeadline) {
			continue
		}
		if _, err := o.ResolveExpiredClaim(ctx, claim.ID); err != nil {
			if !errors.Is(err, interfaces.ErrClaimAlreadyResolved) {
				o.log.Error("Failed to expire claim",
					slog.String("claim_id", claim.ID.String()), "err", err)
			}
			continue
		}
		report.ClaimsExpired++
		metrics.IncSweepClaimsExpired()
	}

	triggered, err := o.store.ListVaultsByStatus(ctx, interfaces.VaultTriggered)
	if err != nil {
		return nil, err
	}
	for _, vault := range triggered {
		reconciled, err := o.reconcileTriggered(ctx, vault)
		if err != nil {
			o.log.Error("Failed to reconcile triggered vault",
				slog.String("vault_id", vault.ID.String()), "err", err)
			continue
		}
		if reconciled {
			report.VaultsReconciled++
		}
	}

	locked, err := o.store.ListVaultsByStatus(ctx, interfaces.VaultTimeLocked)
	if err != nil {
		return nil, err
	}
	for _, vault := range locked {
		if vault.ReleaseAt.IsZero() || !now.After(vault.ReleaseAt) {
			continue
		}
		if err := o.releaseVault(ctx, vault.ID); err != nil {
			o.log.Error("Failed to release vault",
				slog.String("vault_id", vault.ID.String()), "err", err)
			continue
		}
		report.VaultsReleased++
		metrics.IncVaultsReleased()
	}

	watched, err := o.store.ListVaultsByStatus(ctx, interfaces.VaultActive, interfaces.VaultTriggered, interfaces.VaultTimeLocked)
	if err != nil {
		return nil, err
	}
	unrecoverable := 0
	for _, vault := range watched {
		if err := o.guardians.CheckRecoverable(ctx, vault); err != nil {
			if !errors.Is(err, interfaces.ErrVaultUnrecoverable) {
				return nil, err
			}
			unrecoverable++
			report.WarningsRaised++
			o.publish(vault.ID, interfaces.EventVaultWarning, map[string]any{
				"detail": err.Error(),
			})
			o.log.Warn("Vault unrecoverable",
				slog.String("vault_id", vault.ID.String()),
				slog.String("scheme", vault.Scheme.String()))
		}
	}
	metrics.SetUnrecoverableVaults(unrecoverable)
	metrics.IncSweeps()

	return report, nil
}

// reconcileTriggered finishes a claim resolution whose vault transition was
// interrupted. A triggered vault with no open claim moves to time-locked when
// an approved claim backs it, and back to active otherwise. Reports whether a
// transition was applied.
func (o *Orchestrator) reconcileTriggered(ctx context.Context, vault *interfaces.Vault) (bool, error) {
	if _, err := o.store.GetOpenClaim(ctx, vault.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return false, err
	}

	approved, err := o.latestApprovedClaim(ctx, vault.ID)
	if err != nil {
		return false, err
	}
	if approved == nil {
		if err := o.transitionVault(ctx, vault.ID, interfaces.VaultActive, time.Time{}); err != nil {
			return false, err
		}
		o.log.Info("Reactivated triggered vault with no live claim",
			slog.String("vault_id", vault.ID.String()))
		return true, nil
	}

	resolvedAt := approved.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = o.clock.Now()
	}
	releaseAt := resolvedAt.Add(time.Duration(vault.TimeLockDays) * 24 * time.Hour)
	if err := o.transitionVault(ctx, vault.ID, interfaces.VaultTimeLocked, releaseAt); err != nil {
		return false, err
	}
	o.publish(vault.ID, interfaces.EventVaultLocked, map[string]any{
		"claim_id":   approved.ID.String(),
		"release_at": releaseAt,
	})
	o.log.Info("Resumed interrupted time lock",
		slog.String("vault_id", vault.ID.String()),
		slog.String("claim_id", approved.ID.String()))
	return true, nil
}

// releaseVault finalizes the time lock: the vault transitions to released,
// and guardians and the claimant are told reconstruction may begin.
func (o *Orchestrator) releaseVault(ctx context.Context, vaultID interfaces.VaultID) error {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		vault, err := o.store.GetVault(ctx, vaultID)
		if err != nil {
			return err
		}
		if vault.Status != interfaces.VaultTimeLocked {
			// Owner checked in, or another sweep released it already.
			return nil
		}

		vault.Status = interfaces.VaultReleased
		vault.UpdatedAt = o.clock.Now()
		if err := o.store.UpdateVault(ctx, vault); err != nil {
			if errors.Is(err, interfaces.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}

		o.publish(vaultID, interfaces.EventVaultReleased, map[string]any{
			"released_at": vault.UpdatedAt,
		})
		guardians, err := o.store.ListGuardians(ctx, vaultID)
		if err == nil {
			for _, g := range guardians {
				if g.Status != interfaces.GuardianActive {
					continue
				}
				o.notify(ctx, g.Email, interfaces.TemplateVaultReleased, map[string]any{
					"vault_id":   vaultID.String(),
					"vault_name": vault.Name,
				})
			}
		}
		o.log.Info("Vault released", slog.String("vault_id", vaultID.String()))
		return nil
	}
	return lastErr
}

// RunSweeper runs Sweep on a fixed interval until the context is cancelled.
// Intended to run as a background goroutine next to the HTTP server.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	o.log.Info("Sweeper started", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.log.Info("Sweeper stopped")
			return
		case <-ticker.C:
			if _, err := o.Sweep(ctx); err != nil {
				o.log.Error("Sweep pass failed", "err", err)
			}
		}
	}
}
