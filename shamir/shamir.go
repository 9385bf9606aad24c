// Package shamir implements the threshold splitting and combining of vault
// master secrets.
//
// Splitting produces N self-describing fragments of which any K reconstruct
// the secret; subsets below K reveal nothing. Fragments are bound by an
// HMAC-SHA256 to their vault, fragment epoch, index and scheme under a random
// per-epoch MAC key held on the vault record. Both operations are pure
// transformations with no I/O.
package shamir

import (
	"fmt"
	"sort"

	hcshamir "github.com/hashicorp/vault/shamir"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
)

// Split divides secret into scheme.Total fragments requiring scheme.Threshold
// to reconstruct. The fragments are sealed under macKey, which must be the
// vault's MAC key for the given epoch.
//
// Fails with ErrInvalidParameters for an invalid scheme or empty secret.
func Split(secret []byte, vaultID interfaces.VaultID, epoch int, macKey []byte, scheme interfaces.Scheme) ([]Fragment, error) {
	if err := scheme.Validate(); err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", interfaces.ErrInvalidParameters)
	}
	if len(macKey) == 0 {
		return nil, fmt.Errorf("%w: missing MAC key", interfaces.ErrInvalidParameters)
	}

	payloads, err := splitPayloads(secret, scheme)
	if err != nil {
		return nil, err
	}

	fragments := make([]Fragment, scheme.Total)
	for i, payload := range payloads {
		fragments[i] = Fragment{
			VaultID:     vaultID,
			Epoch:       epoch,
			Index:       i + 1,
			Threshold:   scheme.Threshold,
			TotalShares: scheme.Total,
			Payload:     payload,
		}
		fragments[i].Seal(macKey)
	}
	return fragments, nil
}

// splitPayloads produces the raw share payloads. The underlying scheme
// requires a threshold of at least 2 and at least 2 parts, so the degenerate
// K=1 configuration duplicates the secret into every share: any single
// fragment reconstructs, which is exactly the 1-of-N contract.
func splitPayloads(secret []byte, scheme interfaces.Scheme) ([][]byte, error) {
	if scheme.Threshold == 1 {
		payloads := make([][]byte, scheme.Total)
		for i := range payloads {
			payloads[i] = append([]byte(nil), secret...)
		}
		return payloads, nil
	}

	payloads, err := hcshamir.Split(secret, scheme.Total, scheme.Threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidParameters, err)
	}
	return payloads, nil
}

// Combine reconstructs the master secret from threshold-or-more valid
// fragments. Fragments are validated individually: a fragment bound to
// another vault or a prior epoch, or failing its MAC, fails with a
// CorruptFragmentError naming its index. Fewer than threshold distinct valid
// fragments fail with ErrInsufficientFragments; the secret is never partially
// reconstructed.
//
// Any permutation of the same fragment set yields the identical secret, and
// duplicate indices are collapsed before counting.
func Combine(fragments []Fragment, vaultID interfaces.VaultID, epoch int, macKey []byte) ([]byte, error) {
	if len(fragments) == 0 {
		return nil, fmt.Errorf("%w: no fragments supplied", interfaces.ErrInsufficientFragments)
	}

	byIndex := make(map[int]*Fragment, len(fragments))
	threshold := 0
	for i := range fragments {
		f := &fragments[i]
		if err := validateBinding(f, vaultID, epoch, macKey); err != nil {
			return nil, err
		}
		if threshold == 0 {
			threshold = f.Threshold
		} else if f.Threshold != threshold {
			return nil, &interfaces.CorruptFragmentError{Index: f.Index, Reason: "scheme mismatch across fragments"}
		}
		byIndex[f.Index] = f
	}

	if len(byIndex) < threshold {
		return nil, fmt.Errorf("%w: have %d distinct valid fragments, need %d",
			interfaces.ErrInsufficientFragments, len(byIndex), threshold)
	}

	if threshold == 1 {
		for _, f := range byIndex {
			return append([]byte(nil), f.Payload...), nil
		}
	}

	// Deterministic share order keeps the call reproducible; the scheme
	// itself is order-independent.
	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	payloads := make([][]byte, 0, len(indices))
	for _, idx := range indices {
		payloads = append(payloads, byIndex[idx].Payload)
	}

	secret, err := hcshamir.Combine(payloads)
	if err != nil {
		return nil, fmt.Errorf("failed to combine fragments: %w", err)
	}
	return secret, nil
}

// wipeBytes zeroes sensitive data in place.
func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
