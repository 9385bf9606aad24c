package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardiavault/vault-recovery-backend/claims"
	"github.com/guardiavault/vault-recovery-backend/common"
	"github.com/guardiavault/vault-recovery-backend/fragstore"
	"github.com/guardiavault/vault-recovery-backend/interfaces"
	"github.com/guardiavault/vault-recovery-backend/registry"
	"github.com/guardiavault/vault-recovery-backend/storage"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type capturePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *capturePublisher) Publish(vaultID interfaces.VaultID, eventType string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *capturePublisher) has(eventType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type fixture struct {
	orc       *Orchestrator
	reg       *registry.Registry
	store     interfaces.Store
	clock     *fakeClock
	publisher *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, storage.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, store interfaces.Store) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	log := common.SetupLogger(&common.LoggingOpts{Service: "orchestrator-test"})
	publisher := &capturePublisher{}

	reg := registry.New(store, clock, nil, log, 0)
	claimSvc := claims.NewService(store, clock, reg, publisher, log)
	fragments := fragstore.NewManager(store, nil, clock, log)

	return &fixture{
		orc:       New(store, clock, reg, claimSvc, fragments, nil, publisher, log),
		reg:       reg,
		store:     store,
		clock:     clock,
		publisher: publisher,
	}
}

// createVault builds a 2-of-3 vault with accepted guardians and returns it
// with the creation result.
func (f *fixture) createVault(t *testing.T) (*interfaces.Vault, *CreateVaultResult) {
	t.Helper()
	ctx := context.Background()

	result, err := f.orc.CreateVault(ctx, CreateVaultRequest{
		OwnerID: "owner-1",
		Name:    "family vault",
		Scheme:  interfaces.Scheme{Threshold: 2, Total: 3},
		Guardians: []GuardianInvite{
			{Name: "G1", Email: "g1@example.com"},
			{Name: "G2", Email: "g2@example.com"},
			{Name: "G3", Email: "g3@example.com"},
		},
		Beneficiaries: []GuardianInvite{
			{Name: "Heir", Email: "heir@example.com"},
		},
	})
	require.NoError(t, err)

	for _, email := range []string{"g1@example.com", "g2@example.com", "g3@example.com", "heir@example.com"} {
		_, err := f.reg.Accept(ctx, result.InviteTokens[email])
		require.NoError(t, err)
	}
	return result.Vault, result
}

func (f *fixture) activeHolders(t *testing.T, vaultID interfaces.VaultID) []*interfaces.Guardian {
	t.Helper()
	holders, err := f.reg.ActiveHolders(context.Background(), vaultID)
	require.NoError(t, err)
	return holders
}

func TestCreateVaultDefaults(t *testing.T) {
	f := newFixture(t)
	vault, result := f.createVault(t)

	assert.Equal(t, interfaces.VaultActive, vault.Status)
	assert.Equal(t, 30, vault.CheckInIntervalDays)
	assert.Equal(t, 14, vault.GracePeriodDays)
	assert.Equal(t, 7, vault.TimeLockDays)
	assert.Equal(t, 1, vault.Epoch)
	assert.Len(t, result.MasterSecret, 32)
	assert.Len(t, result.InviteTokens, 4)

	frags, err := f.store.ListFragments(context.Background(), vault.ID)
	require.NoError(t, err)
	assert.Len(t, frags, 3)
}

func TestCreateVaultGuardianCountMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.orc.CreateVault(context.Background(), CreateVaultRequest{
		OwnerID:   "owner-1",
		Scheme:    interfaces.Scheme{Threshold: 2, Total: 3},
		Guardians: []GuardianInvite{{Name: "G1", Email: "g1@example.com"}},
	})
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)
}

// brokenFragmentStore fails every fragment write.
type brokenFragmentStore struct {
	interfaces.Store
}

func (s *brokenFragmentStore) ReplaceFragments(ctx context.Context, vaultID interfaces.VaultID, epoch int, fragments []*interfaces.FragmentRecord) error {
	return errors.New("fragment volume full")
}

func TestCreateVaultFailureClosesVault(t *testing.T) {
	f := newFixtureWithStore(t, &brokenFragmentStore{Store: storage.NewMemoryStore()})
	ctx := context.Background()

	_, err := f.orc.CreateVault(ctx, CreateVaultRequest{
		OwnerID: "owner-1",
		Name:    "family vault",
		Scheme:  interfaces.Scheme{Threshold: 2, Total: 3},
		Guardians: []GuardianInvite{
			{Name: "G1", Email: "g1@example.com"},
			{Name: "G2", Email: "g2@example.com"},
			{Name: "G3", Email: "g3@example.com"},
		},
	})
	require.Error(t, err)

	// A creation that cannot finish must not leave a live vault behind.
	live, err := f.store.ListVaultsByStatus(ctx, interfaces.VaultActive)
	require.NoError(t, err)
	assert.Empty(t, live)

	cancelled, err := f.store.ListVaultsByStatus(ctx, interfaces.VaultCancelled)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)

	_, err = f.orc.CheckIn(ctx, cancelled[0].ID)
	assert.ErrorIs(t, err, interfaces.ErrVaultClosed)
}

func TestRevealPassphrasesOnce(t *testing.T) {
	f := newFixture(t)
	vault, _ := f.createVault(t)
	ctx := context.Background()

	passphrases, err := f.orc.RevealPassphrases(ctx, vault.ID)
	require.NoError(t, err)
	assert.Len(t, passphrases, 3)

	// The reveal hands the ciphertext keys to the owner, which is what
	// completes distribution for the fragment records.
	frags, err := f.store.ListFragments(ctx, vault.ID)
	require.NoError(t, err)
	require.Len(t, frags, 3)
	for _, frag := range frags {
		assert.Equal(t, interfaces.FragmentDistributed, frag.Status)
	}

	_, err = f.orc.RevealPassphrases(ctx, vault.ID)
	assert.ErrorIs(t, err, interfaces.ErrPassphrasesRevealed)
}

// flakyStore injects version conflicts into vault updates.
type flakyStore struct {
	interfaces.Store
	failVaultUpdates int
}

func (s *flakyStore) UpdateVault(ctx context.Context, v *interfaces.Vault) error {
	if s.failVaultUpdates > 0 {
		s.failVaultUpdates--
		return interfaces.ErrVersionConflict
	}
	return s.Store.UpdateVault(ctx, v)
}

func TestRevealPassphrasesRetainedAcrossConflicts(t *testing.T) {
	flaky := &flakyStore{Store: storage.NewMemoryStore()}
	f := newFixtureWithStore(t, flaky)
	vault, _ := f.createVault(t)
	ctx := context.Background()

	// Concurrent check-ins can make the revealed-flag write lose its race.
	// The error surfaces, but the staged passphrases must survive it.
	flaky.failVaultUpdates = casRetries
	_, err := f.orc.RevealPassphrases(ctx, vault.ID)
	require.ErrorIs(t, err, interfaces.ErrVersionConflict)

	passphrases, err := f.orc.RevealPassphrases(ctx, vault.ID)
	require.NoError(t, err)
	assert.Len(t, passphrases, 3)

	_, err = f.orc.RevealPassphrases(ctx, vault.ID)
	assert.ErrorIs(t, err, interfaces.ErrPassphrasesRevealed)
}

func TestSweepFilesInactivityClaimOnce(t *testing.T) {
	f := newFixture(t)
	vault, _ := f.createVault(t)
	ctx := context.Background()

	// Inside interval plus grace: nothing happens.
	f.clock.Advance(40 * 24 * time.Hour)
	report, err := f.orc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ClaimsFiled)

	// Past day 44 the sweep files the inactivity claim and triggers the
	// vault; a second sweep finds the claim already open.
	f.clock.Advance(5 * 24 * time.Hour)
	report, err = f.orc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ClaimsFiled)

	report, err = f.orc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ClaimsFiled)

	stored, err := f.store.GetVault(ctx, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.VaultTriggered, stored.Status)

	claim, err := f.store.GetOpenClaim(ctx, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ReasonInactivity, claim.Reason)
	assert.Equal(t, SystemClaimant, claim.Claimant)
}

func TestCheckInCancelsOpenClaim(t *testing.T) {
	f := newFixture(t)
	vault, _ := f.createVault(t)
	ctx := context.Background()

	f.clock.Advance(45 * 24 * time.Hour)
	_, err := f.orc.Sweep(ctx)
	require.NoError(t, err)

	// The owner returns from their trek: one check-in dissolves the claim
	// and reactivates the vault.
	after, err := f.orc.CheckIn(ctx, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.VaultActive, after.Status)
	assert.Equal(t, f.clock.now, after.LastCheckIn)

	_, err = f.store.GetOpenClaim(ctx, vault.ID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.True(t, f.publisher.has(interfaces.EventClaimCancelled))

	// The countdown restarted; the next sweep files nothing.
	report, err := f.orc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ClaimsFiled)
}

func TestApprovedClaimRunsTimeLockToRelease(t *testing.T) {
	f := newFixture(t)
	vault, _ := f.createVault(t)
	ctx := context.Background()
	holders := f.activeHolders(t, vault.ID)

	claim, err := f.orc.FileClaim(ctx, vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)

	_, err = f.orc.CastVote(ctx, claim.ID, holders[0].ID, interfaces.VoteApprove)
	require.NoError(t, err)
	resolved, err := f.orc.CastVote(ctx, claim.ID, holders[1].ID, interfaces.VoteApprove)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ClaimApproved, resolved.Status)

	locked, err := f.store.GetVault(ctx, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.VaultTimeLocked, locked.Status)
	assert.Equal(t, f.clock.now.Add(7*24*time.Hour), locked.ReleaseAt)

	// Sweeping inside the dispute window does not release.
	report, err := f.orc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.VaultsReleased)

	f.clock.Advance(7*24*time.Hour + time.Minute)
	report, err = f.orc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.VaultsReleased)

	released, err := f.store.GetVault(ctx, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.VaultReleased, released.Status)
	assert.True(t, f.publisher.has(interfaces.EventVaultReleased))
}

func TestCheckInDuringTimeLockRevertsToActive(t *testing.T) {
	f := newFixture(t)
	vault, _ := f.createVault(t)
	ctx := context.Background()
	holders := f.activeHolders(t, vault.ID)

	claim, err := f.orc.FileClaim(ctx, vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)
	_, err = f.orc.CastVote(ctx, claim.ID, holders[0].ID, interfaces.VoteApprove)
	require.NoError(t, err)
	_, err = f.orc.CastVote(ctx, claim.ID, holders[1].ID, interfaces.VoteApprove)
	require.NoError(t, err)

	// A false-positive trigger: the owner disputes inside the time lock.
	after, err := f.orc.CheckIn(ctx, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.VaultActive, after.Status)
	assert.True(t, after.ReleaseAt.IsZero())

	stored, err := f.store.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ClaimCancelled, stored.Status)
}

// resolveClaimDirectly commits a claim resolution straight to the store,
// standing in for a writer whose process died between resolving the claim and
// committing the vault's status transition.
func (f *fixture) resolveClaimDirectly(t *testing.T, claimID interfaces.ClaimID, status interfaces.ClaimStatus) {
	t.Helper()
	ctx := context.Background()
	stored, err := f.store.GetClaim(ctx, claimID)
	require.NoError(t, err)
	stored.Status = status
	if status == interfaces.ClaimApproved {
		stored.ApprovalVotes = 2
	}
	stored.ResolvedAt = f.clock.now
	require.NoError(t, f.store.UpdateClaim(ctx, stored))
}

func TestCheckInCancelsApprovedClaimBeforeLockCommit(t *testing.T) {
	f := newFixture(t)
	vault, _ := f.createVault(t)
	ctx := context.Background()

	claim, err := f.orc.FileClaim(ctx, vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)

	// Claim approved, vault still triggered: the time-lock write has not
	// landed yet. The owner's check-in must still find and cancel it.
	f.resolveClaimDirectly(t, claim.ID, interfaces.ClaimApproved)

	after, err := f.orc.CheckIn(ctx, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.VaultActive, after.Status)

	final, err := f.store.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ClaimCancelled, final.Status,
		"an approved claim and an active vault must never coexist")
}

func TestSweepResumesInterruptedTimeLock(t *testing.T) {
	f := newFixture(t)
	vault, _ := f.createVault(t)
	ctx := context.Background()

	claim, err := f.orc.FileClaim(ctx, vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)
	f.resolveClaimDirectly(t, claim.ID, interfaces.ClaimApproved)

	report, err := f.orc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.VaultsReconciled)

	locked, err := f.store.GetVault(ctx, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.VaultTimeLocked, locked.Status)
	assert.Equal(t, f.clock.now.Add(7*24*time.Hour), locked.ReleaseAt)
	assert.True(t, f.publisher.has(interfaces.EventVaultLocked))

	report, err = f.orc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.VaultsReconciled)
}

func TestSweepReactivatesTriggeredVaultWithoutClaim(t *testing.T) {
	f := newFixture(t)
	vault, _ := f.createVault(t)
	ctx := context.Background()

	claim, err := f.orc.FileClaim(ctx, vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)

	// A check-in whose claim cancellation committed but whose vault write
	// never landed leaves the vault triggered with nothing backing it.
	f.resolveClaimDirectly(t, claim.ID, interfaces.ClaimCancelled)

	report, err := f.orc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.VaultsReconciled)

	stored, err := f.store.GetVault(ctx, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.VaultActive, stored.Status)
}

func TestCheckInClosedVault(t *testing.T) {
	f := newFixture(t)
	vault, _ := f.createVault(t)
	ctx := context.Background()

	stored, err := f.store.GetVault(ctx, vault.ID)
	require.NoError(t, err)
	stored.Status = interfaces.VaultReleased
	require.NoError(t, f.store.UpdateVault(ctx, stored))

	_, err = f.orc.CheckIn(ctx, vault.ID)
	assert.ErrorIs(t, err, interfaces.ErrVaultClosed)
}

func TestSweepExpiresStaleClaims(t *testing.T) {
	f := newFixture(t)
	vault, _ := f.createVault(t)
	ctx := context.Background()

	_, err := f.orc.FileClaim(ctx, vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	report, err := f.orc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ClaimsExpired)

	stored, err := f.store.GetVault(ctx, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.VaultActive, stored.Status)
}

func TestSweepRaisesUnrecoverableWarning(t *testing.T) {
	f := newFixture(t)
	vault, _ := f.createVault(t)
	ctx := context.Background()
	holders := f.activeHolders(t, vault.ID)

	_, err := f.reg.Remove(ctx, holders[0].ID, false)
	require.NoError(t, err)
	_, err = f.reg.Remove(ctx, holders[1].ID, true)
	require.NoError(t, err)

	report, err := f.orc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.WarningsRaised)
	assert.True(t, f.publisher.has(interfaces.EventVaultWarning))

	// The warning keeps firing until the owner rotates in replacements.
	report, err = f.orc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.WarningsRaised)

	status, err := f.orc.Status(ctx, vault.ID)
	require.NoError(t, err)
	assert.True(t, status.Unrecoverable)
}

func TestReconstructRequiresRelease(t *testing.T) {
	f := newFixture(t)
	vault, _ := f.createVault(t)

	_, err := f.orc.Reconstruct(context.Background(), vault.ID, nil)
	assert.ErrorIs(t, err, interfaces.ErrVaultNotReleased)
}

func (f *fixture) release(t *testing.T, vaultID interfaces.VaultID) {
	t.Helper()
	ctx := context.Background()
	stored, err := f.store.GetVault(ctx, vaultID)
	require.NoError(t, err)
	stored.Status = interfaces.VaultReleased
	require.NoError(t, f.store.UpdateVault(ctx, stored))
}

func (f *fixture) credentials(t *testing.T, vaultID interfaces.VaultID, passphrases map[interfaces.GuardianID]string, n int) []fragstore.FragmentCredential {
	t.Helper()
	guardians, err := f.store.ListGuardians(context.Background(), vaultID)
	require.NoError(t, err)

	var creds []fragstore.FragmentCredential
	for _, g := range guardians {
		passphrase, ok := passphrases[g.ID]
		if !ok {
			continue
		}
		creds = append(creds, fragstore.FragmentCredential{Index: g.FragmentIndex, Passphrase: passphrase})
		if len(creds) == n {
			break
		}
	}
	require.Len(t, creds, n)
	return creds
}

func TestReconstructRoundTrip(t *testing.T) {
	f := newFixture(t)
	vault, result := f.createVault(t)
	ctx := context.Background()

	passphrases, err := f.orc.RevealPassphrases(ctx, vault.ID)
	require.NoError(t, err)

	f.release(t, vault.ID)

	// A threshold subset of guardians suffices.
	secret, err := f.orc.Reconstruct(ctx, vault.ID, f.credentials(t, vault.ID, passphrases, 2))
	require.NoError(t, err)
	assert.Equal(t, result.MasterSecret, secret)

	// One short fails cleanly.
	_, err = f.orc.Reconstruct(ctx, vault.ID, f.credentials(t, vault.ID, passphrases, 1))
	assert.ErrorIs(t, err, interfaces.ErrInsufficientFragments)
}

func TestRemovedGuardianCredentialRefused(t *testing.T) {
	f := newFixture(t)
	vault, result := f.createVault(t)
	ctx := context.Background()

	passphrases, err := f.orc.RevealPassphrases(ctx, vault.ID)
	require.NoError(t, err)
	holders := f.activeHolders(t, vault.ID)
	removed := holders[2]

	_, err = f.reg.Remove(ctx, removed.ID, false)
	require.NoError(t, err)

	f.release(t, vault.ID)

	// The removed guardian still knows their passphrase, but their fragment
	// record is revoked and no longer counts toward reconstruction.
	removedCred := fragstore.FragmentCredential{
		Index:      removed.FragmentIndex,
		Passphrase: passphrases[removed.ID],
	}
	remaining := []fragstore.FragmentCredential{
		{Index: holders[0].FragmentIndex, Passphrase: passphrases[holders[0].ID]},
		{Index: holders[1].FragmentIndex, Passphrase: passphrases[holders[1].ID]},
	}

	_, err = f.orc.Reconstruct(ctx, vault.ID, []fragstore.FragmentCredential{remaining[0], removedCred})
	assert.ErrorIs(t, err, interfaces.ErrCorruptFragment)

	secret, err := f.orc.Reconstruct(ctx, vault.ID, remaining)
	require.NoError(t, err)
	assert.Equal(t, result.MasterSecret, secret)
}

func TestRotationInvalidatesOldPassphrases(t *testing.T) {
	f := newFixture(t)
	vault, result := f.createVault(t)
	ctx := context.Background()

	oldPassphrases, err := f.orc.RevealPassphrases(ctx, vault.ID)
	require.NoError(t, err)
	oldCreds := f.credentials(t, vault.ID, oldPassphrases, 2)

	rotated, err := f.orc.RotateFragments(ctx, vault.ID, result.MasterSecret, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rotated.Epoch)

	newPassphrases, err := f.orc.RevealPassphrases(ctx, vault.ID)
	require.NoError(t, err)

	f.release(t, vault.ID)

	// Credentials from the previous epoch are useless against the
	// reissued ciphertexts.
	_, err = f.orc.Reconstruct(ctx, vault.ID, oldCreds)
	require.Error(t, err)

	secret, err := f.orc.Reconstruct(ctx, vault.ID, f.credentials(t, vault.ID, newPassphrases, 2))
	require.NoError(t, err)
	assert.Equal(t, result.MasterSecret, secret)
}

func TestRotationRequiresSecretAndQuorum(t *testing.T) {
	f := newFixture(t)
	vault, result := f.createVault(t)
	ctx := context.Background()

	_, err := f.orc.RotateFragments(ctx, vault.ID, nil, nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)

	// Shrinking the holder set below the new scheme's total is refused.
	badScheme := &interfaces.Scheme{Threshold: 2, Total: 5}
	_, err = f.orc.RotateFragments(ctx, vault.ID, result.MasterSecret, badScheme)
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)
}

func TestStatusReport(t *testing.T) {
	f := newFixture(t)
	vault, _ := f.createVault(t)
	ctx := context.Background()

	f.clock.Advance(31 * 24 * time.Hour)
	report, err := f.orc.Status(ctx, vault.ID)
	require.NoError(t, err)
	assert.True(t, report.Overdue)
	assert.False(t, report.GraceExpired)
	assert.Equal(t, 3, report.ActiveGuardians)
	assert.False(t, report.Unrecoverable)
	assert.Nil(t, report.OpenClaim)

	f.clock.Advance(14 * 24 * time.Hour)
	_, err = f.orc.Sweep(ctx)
	require.NoError(t, err)

	report, err = f.orc.Status(ctx, vault.ID)
	require.NoError(t, err)
	assert.True(t, report.GraceExpired)
	require.NotNil(t, report.OpenClaim)
	assert.Equal(t, interfaces.ReasonInactivity, report.OpenClaim.Reason)
}
