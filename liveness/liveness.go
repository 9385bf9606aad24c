// Package liveness implements the check-in timer: pure wall-clock
// computations over persisted vault timestamps deciding whether an owner is
// compliant, overdue, or past the grace period.
//
// Nothing here keeps in-memory countdowns; every answer derives from the
// vault's persisted last check-in, so state survives process restarts.
package liveness

import (
	"context"
	"log/slog"
	"time"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
)

const day = 24 * time.Hour

// IsOverdue reports whether the owner has missed the check-in interval.
func IsOverdue(v *interfaces.Vault, now time.Time) bool {
	return now.Sub(v.LastCheckIn) > time.Duration(v.CheckInIntervalDays)*day
}

// GraceExpired reports whether the owner is past the interval plus grace
// period, the point at which an inactivity claim is auto-filed.
func GraceExpired(v *interfaces.Vault, now time.Time) bool {
	limit := time.Duration(v.CheckInIntervalDays+v.GracePeriodDays) * day
	return now.Sub(v.LastCheckIn) > limit
}

// NextDeadline returns the instant the vault becomes overdue.
func NextDeadline(v *interfaces.Vault) time.Time {
	return v.LastCheckIn.Add(time.Duration(v.CheckInIntervalDays) * day)
}

// GraceDeadline returns the instant the grace period runs out.
func GraceDeadline(v *interfaces.Vault) time.Time {
	return v.LastCheckIn.Add(time.Duration(v.CheckInIntervalDays+v.GracePeriodDays) * day)
}

// Monitor scans active vaults for expired grace periods. It is driven by the
// orchestrator's periodic sweep.
type Monitor struct {
	store interfaces.Store
	clock interfaces.Clock
	log   *slog.Logger
}

// NewMonitor creates a liveness monitor over the given store.
func NewMonitor(store interfaces.Store, clock interfaces.Clock, log *slog.Logger) *Monitor {
	return &Monitor{store: store, clock: clock, log: log}
}

// ScanGraceExpired returns every active vault whose grace period has run
// out. Callers open inactivity claims for them; idempotence is guaranteed
// downstream by the store's single-open-claim constraint, so concurrent
// sweeps are safe.
func (m *Monitor) ScanGraceExpired(ctx context.Context) ([]*interfaces.Vault, error) {
	vaults, err := m.store.ListVaultsByStatus(ctx, interfaces.VaultActive)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	var expired []*interfaces.Vault
	for _, v := range vaults {
		if GraceExpired(v, now) {
			m.log.Debug("Vault grace period expired",
				slog.String("vault_id", v.ID.String()),
				slog.Time("last_check_in", v.LastCheckIn))
			expired = append(expired, v)
		}
	}
	return expired, nil
}
