package claims

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardiavault/vault-recovery-backend/common"
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
	svc       *Service
	store     *storage.MemoryStore
	clock     *fakeClock
	publisher *capturePublisher
	vault     *interfaces.Vault
	guardians []*interfaces.Guardian
}

// newFixture builds a 2-of-3 vault with three active guardians.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	log := common.SetupLogger(&common.LoggingOpts{Service: "claims-test"})
	publisher := &capturePublisher{}

	vault := &interfaces.Vault{
		ID:               interfaces.NewVaultID(),
		OwnerID:          "owner-1",
		Scheme:           interfaces.Scheme{Threshold: 2, Total: 3},
		Status:           interfaces.VaultActive,
		VotingWindowDays: 30,
		LastCheckIn:      clock.now,
		Epoch:            1,
		CreatedAt:        clock.now,
	}
	require.NoError(t, store.CreateVault(ctx, vault))

	var guardians []*interfaces.Guardian
	for _, email := range []string{"g1@example.com", "g2@example.com", "g3@example.com"} {
		g := &interfaces.Guardian{
			ID:        interfaces.NewGuardianID(),
			VaultID:   vault.ID,
			Role:      interfaces.RoleGuardian,
			Name:      email,
			Email:     email,
			Status:    interfaces.GuardianActive,
			CreatedAt: clock.now,
		}
		require.NoError(t, store.CreateGuardian(ctx, g))
		guardians = append(guardians, g)
	}

	reg := registry.New(store, clock, nil, log, 0)
	return &fixture{
		svc:       NewService(store, clock, reg, publisher, log),
		store:     store,
		clock:     clock,
		publisher: publisher,
		vault:     vault,
		guardians: guardians,
	}
}

func TestFileClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.svc.File(ctx, f.vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ClaimOpen, claim.Status)
	assert.Equal(t, f.clock.now.AddDate(0, 0, 30), claim.VotingDeadline)

	// One open claim per vault.
	_, err = f.svc.File(ctx, f.vault.ID, "other@example.com", interfaces.ReasonManual)
	assert.ErrorIs(t, err, interfaces.ErrClaimExists)
}

func TestFileClaimClosedVault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.vault.Status = interfaces.VaultReleased
	require.NoError(t, f.store.UpdateVault(ctx, f.vault))

	_, err := f.svc.File(ctx, f.vault.ID, "heir@example.com", interfaces.ReasonManual)
	assert.ErrorIs(t, err, interfaces.ErrVaultClosed)
}

func TestApprovalAtThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.svc.File(ctx, f.vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)

	after, err := f.svc.CastVote(ctx, claim.ID, f.guardians[0].ID, interfaces.VoteApprove)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ClaimOpen, after.Status)
	assert.Equal(t, 1, after.ApprovalVotes)

	// The second approval of a 2-of-3 vault resolves immediately; the
	// third guardian never needs to vote.
	after, err = f.svc.CastVote(ctx, claim.ID, f.guardians[1].ID, interfaces.VoteApprove)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ClaimApproved, after.Status)
	assert.Equal(t, 2, after.ApprovalVotes)
	assert.False(t, after.ResolvedAt.IsZero())

	// Votes after resolution are refused.
	_, err = f.svc.CastVote(ctx, claim.ID, f.guardians[2].ID, interfaces.VoteApprove)
	assert.ErrorIs(t, err, interfaces.ErrClaimAlreadyResolved)
}

func TestRejectionAtThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.svc.File(ctx, f.vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)

	_, err = f.svc.CastVote(ctx, claim.ID, f.guardians[0].ID, interfaces.VoteReject)
	require.NoError(t, err)
	after, err := f.svc.CastVote(ctx, claim.ID, f.guardians[1].ID, interfaces.VoteReject)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ClaimRejected, after.Status)
}

func TestVoteOrderIndependence(t *testing.T) {
	// Two approvals and one reject resolve approved regardless of arrival
	// order; once the threshold commits, late votes bounce.
	orders := [][]interfaces.VoteDecision{
		{interfaces.VoteApprove, interfaces.VoteApprove, interfaces.VoteReject},
		{interfaces.VoteApprove, interfaces.VoteReject, interfaces.VoteApprove},
		{interfaces.VoteReject, interfaces.VoteApprove, interfaces.VoteApprove},
	}

	for _, order := range orders {
		f := newFixture(t)
		ctx := context.Background()
		claim, err := f.svc.File(ctx, f.vault.ID, "heir@example.com", interfaces.ReasonManual)
		require.NoError(t, err)

		for i, decision := range order {
			_, err := f.svc.CastVote(ctx, claim.ID, f.guardians[i].ID, decision)
			if err != nil {
				assert.ErrorIs(t, err, interfaces.ErrClaimAlreadyResolved)
			}
		}

		final, err := f.store.GetClaim(ctx, claim.ID)
		require.NoError(t, err)
		assert.Equal(t, interfaces.ClaimApproved, final.Status)
	}
}

func TestRevoteOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.svc.File(ctx, f.vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)

	after, err := f.svc.CastVote(ctx, claim.ID, f.guardians[0].ID, interfaces.VoteReject)
	require.NoError(t, err)
	assert.Equal(t, 1, after.RejectionVotes)

	// Changing their mind replaces the vote instead of double counting.
	after, err = f.svc.CastVote(ctx, claim.ID, f.guardians[0].ID, interfaces.VoteApprove)
	require.NoError(t, err)
	assert.Equal(t, 1, after.ApprovalVotes)
	assert.Equal(t, 0, after.RejectionVotes)
	assert.Equal(t, interfaces.ClaimOpen, after.Status)
}

func TestUnauthorizedVoters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.svc.File(ctx, f.vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)

	// Unknown guardian.
	_, err = f.svc.CastVote(ctx, claim.ID, interfaces.NewGuardianID(), interfaces.VoteApprove)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorizedVoter)

	// Beneficiaries observe, they do not vote.
	beneficiary := &interfaces.Guardian{
		ID:      interfaces.NewGuardianID(),
		VaultID: f.vault.ID,
		Role:    interfaces.RoleBeneficiary,
		Email:   "heir@example.com",
		Status:  interfaces.GuardianActive,
	}
	require.NoError(t, f.store.CreateGuardian(ctx, beneficiary))
	_, err = f.svc.CastVote(ctx, claim.ID, beneficiary.ID, interfaces.VoteApprove)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorizedVoter)

	// Pending guardians have not accepted yet.
	pending := &interfaces.Guardian{
		ID:      interfaces.NewGuardianID(),
		VaultID: f.vault.ID,
		Role:    interfaces.RoleGuardian,
		Email:   "pending@example.com",
		Status:  interfaces.GuardianPending,
	}
	require.NoError(t, f.store.CreateGuardian(ctx, pending))
	_, err = f.svc.CastVote(ctx, claim.ID, pending.ID, interfaces.VoteApprove)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorizedVoter)

	// Guardians of other vaults stay out.
	otherVault := &interfaces.Vault{
		ID:          interfaces.NewVaultID(),
		OwnerID:     "owner-2",
		Scheme:      interfaces.Scheme{Threshold: 1, Total: 1},
		Status:      interfaces.VaultActive,
		LastCheckIn: f.clock.now,
		Epoch:       1,
	}
	require.NoError(t, f.store.CreateVault(ctx, otherVault))
	foreign := &interfaces.Guardian{
		ID:      interfaces.NewGuardianID(),
		VaultID: otherVault.ID,
		Role:    interfaces.RoleGuardian,
		Email:   "foreign@example.com",
		Status:  interfaces.GuardianActive,
	}
	require.NoError(t, f.store.CreateGuardian(ctx, foreign))
	_, err = f.svc.CastVote(ctx, claim.ID, foreign.ID, interfaces.VoteApprove)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorizedVoter)
}

func TestResolveExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.svc.File(ctx, f.vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)

	// Not past the deadline yet.
	_, err = f.svc.ResolveExpired(ctx, claim.ID)
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)

	// A partial vote does not save an expired claim.
	_, err = f.svc.CastVote(ctx, claim.ID, f.guardians[0].ID, interfaces.VoteApprove)
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	resolved, err := f.svc.ResolveExpired(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ClaimTimeout, resolved.Status)

	_, err = f.svc.ResolveExpired(ctx, claim.ID)
	assert.ErrorIs(t, err, interfaces.ErrClaimAlreadyResolved)
}

func TestApprovalBlockedWhenUnrecoverable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.svc.File(ctx, f.vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)

	_, err = f.svc.CastVote(ctx, claim.ID, f.guardians[0].ID, interfaces.VoteApprove)
	require.NoError(t, err)

	// Two guardians drop out after the first vote, leaving one active
	// holder against a threshold of two.
	for _, g := range []*interfaces.Guardian{f.guardians[0], f.guardians[2]} {
		stored, err := f.store.GetGuardian(ctx, g.ID)
		require.NoError(t, err)
		stored.Status = interfaces.GuardianRemoved
		require.NoError(t, f.store.UpdateGuardian(ctx, stored))
	}

	// The second approval reaches the threshold on votes, but the vault
	// can no longer assemble a quorum of fragments. The claim must not
	// approve; it stays open and the warning is published.
	after, err := f.svc.CastVote(ctx, claim.ID, f.guardians[1].ID, interfaces.VoteApprove)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ClaimOpen, after.Status)
	assert.Equal(t, 2, after.ApprovalVotes)
	assert.True(t, f.publisher.has(interfaces.EventVaultWarning))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.svc.File(ctx, f.vault.ID, "heir@example.com", interfaces.ReasonManual)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ClaimCancelled, cancelled.Status)
	assert.True(t, f.publisher.has(interfaces.EventClaimCancelled))

	_, err = f.svc.Cancel(ctx, claim.ID)
	assert.ErrorIs(t, err, interfaces.ErrClaimAlreadyResolved)
}
