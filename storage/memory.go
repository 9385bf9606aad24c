package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
)

// MemoryStore is the in-process Store used by tests and single-node
// deployments without durability requirements. All reads return deep copies
// so callers never share mutable state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	vaults    map[interfaces.VaultID]*interfaces.Vault
	guardians map[interfaces.GuardianID]*interfaces.Guardian
	fragments map[interfaces.VaultID][]*interfaces.FragmentRecord
	claims    map[interfaces.ClaimID]*interfaces.Claim
	votes     map[interfaces.ClaimID]map[interfaces.GuardianID]*interfaces.Vote
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vaults:    make(map[interfaces.VaultID]*interfaces.Vault),
		guardians: make(map[interfaces.GuardianID]*interfaces.Guardian),
		fragments: make(map[interfaces.VaultID][]*interfaces.FragmentRecord),
		claims:    make(map[interfaces.ClaimID]*interfaces.Claim),
		votes:     make(map[interfaces.ClaimID]map[interfaces.GuardianID]*interfaces.Vote),
	}
}

func copyVault(v *interfaces.Vault) *interfaces.Vault {
	c := *v
	c.MACKey = append([]byte(nil), v.MACKey...)
	return &c
}

func copyGuardian(g *interfaces.Guardian) *interfaces.Guardian {
	c := *g
	return &c
}

func copyFragment(f *interfaces.FragmentRecord) *interfaces.FragmentRecord {
	c := *f
	c.Ciphertext = append([]byte(nil), f.Ciphertext...)
	if f.ArchiveRefs != nil {
		c.ArchiveRefs = make(map[string]string, len(f.ArchiveRefs))
		for k, v := range f.ArchiveRefs {
			c.ArchiveRefs[k] = v
		}
	}
	return &c
}

func copyClaim(c *interfaces.Claim) *interfaces.Claim {
	cp := *c
	return &cp
}

func copyVote(v *interfaces.Vote) *interfaces.Vote {
	cp := *v
	return &cp
}

func (s *MemoryStore) CreateVault(ctx context.Context, v *interfaces.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vaults[v.ID]; ok {
		return fmt.Errorf("%w: vault %s already exists", interfaces.ErrInvalidParameters, v.ID)
	}
	v.Version = 1
	s.vaults[v.ID] = copyVault(v)
	return nil
}

func (s *MemoryStore) GetVault(ctx context.Context, id interfaces.VaultID) (*interfaces.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vaults[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return copyVault(v), nil
}

func (s *MemoryStore) UpdateVault(ctx context.Context, v *interfaces.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.vaults[v.ID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if stored.Version != v.Version {
		return fmt.Errorf("%w: vault %s at version %d, submitted %d",
			interfaces.ErrVersionConflict, v.ID, stored.Version, v.Version)
	}
	v.Version++
	s.vaults[v.ID] = copyVault(v)
	return nil
}

func (s *MemoryStore) ListVaultsByStatus(ctx context.Context, statuses ...interfaces.VaultStatus) ([]*interfaces.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*interfaces.Vault
	for _, v := range s.vaults {
		for _, status := range statuses {
			if v.Status == status {
				out = append(out, copyVault(v))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateGuardian(ctx context.Context, g *interfaces.Guardian) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.guardians[g.ID]; ok {
		return fmt.Errorf("%w: guardian %s already exists", interfaces.ErrInvalidParameters, g.ID)
	}
	g.Version = 1
	s.guardians[g.ID] = copyGuardian(g)
	return nil
}

func (s *MemoryStore) GetGuardian(ctx context.Context, id interfaces.GuardianID) (*interfaces.Guardian, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guardians[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return copyGuardian(g), nil
}

func (s *MemoryStore) GetGuardianByToken(ctx context.Context, token string) (*interfaces.Guardian, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.guardians {
		if g.InviteToken != "" && g.InviteToken == token {
			return copyGuardian(g), nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (s *MemoryStore) ListGuardians(ctx context.Context, vaultID interfaces.VaultID) ([]*interfaces.Guardian, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*interfaces.Guardian
	for _, g := range s.guardians {
		if g.VaultID == vaultID {
			out = append(out, copyGuardian(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateGuardian(ctx context.Context, g *interfaces.Guardian) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.guardians[g.ID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if stored.Version != g.Version {
		return fmt.Errorf("%w: guardian %s at version %d, submitted %d",
			interfaces.ErrVersionConflict, g.ID, stored.Version, g.Version)
	}
	g.Version++
	s.guardians[g.ID] = copyGuardian(g)
	return nil
}

func (s *MemoryStore) ReplaceFragments(ctx context.Context, vaultID interfaces.VaultID, epoch int, fragments []*interfaces.FragmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replacement := make([]*interfaces.FragmentRecord, 0, len(fragments))
	for _, f := range fragments {
		if f.VaultID != vaultID || f.Epoch != epoch {
			return fmt.Errorf("%w: fragment %d does not belong to vault %s epoch %d",
				interfaces.ErrInvalidParameters, f.Index, vaultID, epoch)
		}
		replacement = append(replacement, copyFragment(f))
	}
	s.fragments[vaultID] = replacement
	return nil
}

func (s *MemoryStore) ListFragments(ctx context.Context, vaultID interfaces.VaultID) ([]*interfaces.FragmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*interfaces.FragmentRecord, 0, len(s.fragments[vaultID]))
	for _, f := range s.fragments[vaultID] {
		out = append(out, copyFragment(f))
	}
	return out, nil
}

func (s *MemoryStore) SetFragmentStatus(ctx context.Context, vaultID interfaces.VaultID, guardianID interfaces.GuardianID, status interfaces.FragmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.fragments[vaultID] {
		if f.GuardianID != guardianID || f.Status == interfaces.FragmentRevoked {
			continue
		}
		f.Status = status
	}
	return nil
}

func (s *MemoryStore) CreateClaim(ctx context.Context, c *interfaces.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.claims {
		if existing.VaultID == c.VaultID && existing.Status == interfaces.ClaimOpen {
			return fmt.Errorf("%w: vault %s already has open claim %s",
				interfaces.ErrClaimExists, c.VaultID, existing.ID)
		}
	}
	c.Version = 1
	s.claims[c.ID] = copyClaim(c)
	return nil
}

func (s *MemoryStore) GetClaim(ctx context.Context, id interfaces.ClaimID) (*interfaces.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return copyClaim(c), nil
}

func (s *MemoryStore) GetOpenClaim(ctx context.Context, vaultID interfaces.VaultID) (*interfaces.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.claims {
		if c.VaultID == vaultID && c.Status == interfaces.ClaimOpen {
			return copyClaim(c), nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (s *MemoryStore) ListOpenClaims(ctx context.Context) ([]*interfaces.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*interfaces.Claim
	for _, c := range s.claims {
		if c.Status == interfaces.ClaimOpen {
			out = append(out, copyClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListClaimsByVault(ctx context.Context, vaultID interfaces.VaultID) ([]*interfaces.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*interfaces.Claim
	for _, c := range s.claims {
		if c.VaultID == vaultID {
			out = append(out, copyClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateClaim(ctx context.Context, c *interfaces.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.claims[c.ID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if stored.Version != c.Version {
		return fmt.Errorf("%w: claim %s at version %d, submitted %d",
			interfaces.ErrVersionConflict, c.ID, stored.Version, c.Version)
	}
	c.Version++
	s.claims[c.ID] = copyClaim(c)
	return nil
}

func (s *MemoryStore) UpsertVote(ctx context.Context, v *interfaces.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byGuardian, ok := s.votes[v.ClaimID]
	if !ok {
		byGuardian = make(map[interfaces.GuardianID]*interfaces.Vote)
		s.votes[v.ClaimID] = byGuardian
	}
	byGuardian[v.GuardianID] = copyVote(v)
	return nil
}

func (s *MemoryStore) ListVotes(ctx context.Context, claimID interfaces.ClaimID) ([]*interfaces.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*interfaces.Vote, 0, len(s.votes[claimID]))
	for _, v := range s.votes[claimID] {
		out = append(out, copyVote(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CastAt.Before(out[j].CastAt) })
	return out, nil
}
