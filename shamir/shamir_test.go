package shamir

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
)

func testSecret(t *testing.T, n int) []byte {
	t.Helper()
	secret := make([]byte, n)
	_, err := rand.Read(secret)
	require.NoError(t, err, "Failed to generate test secret")
	return secret
}

func testMACKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

// subsets returns every k-sized subset of fragments.
func subsets(fragments []Fragment, k int) [][]Fragment {
	var out [][]Fragment
	var recurse func(start int, current []Fragment)
	recurse = func(start int, current []Fragment) {
		if len(current) == k {
			out = append(out, append([]Fragment(nil), current...))
			return
		}
		for i := start; i < len(fragments); i++ {
			recurse(i+1, append(current, fragments[i]))
		}
	}
	recurse(0, nil)
	return out
}

func TestSplitInvalidParameters(t *testing.T) {
	secret := testSecret(t, 32)
	macKey := testMACKey(t)
	vaultID := interfaces.NewVaultID()

	cases := []struct {
		name   string
		scheme interfaces.Scheme
	}{
		{"threshold above total", interfaces.Scheme{Threshold: 4, Total: 3}},
		{"zero threshold", interfaces.Scheme{Threshold: 0, Total: 3}},
		{"zero total", interfaces.Scheme{Threshold: 1, Total: 0}},
		{"total above 255", interfaces.Scheme{Threshold: 2, Total: 256}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Split(secret, vaultID, 1, macKey, tc.scheme)
			assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)
		})
	}

	_, err := Split(nil, vaultID, 1, macKey, interfaces.Scheme{Threshold: 2, Total: 3})
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters, "Should reject empty secret")
}

func TestSplitCombineRoundTrip(t *testing.T) {
	schemes := []interfaces.Scheme{
		{Threshold: 1, Total: 1},
		{Threshold: 1, Total: 3},
		{Threshold: 2, Total: 2},
		{Threshold: 2, Total: 3},
		{Threshold: 3, Total: 5},
	}

	for _, scheme := range schemes {
		t.Run(scheme.String(), func(t *testing.T) {
			secret := testSecret(t, 32)
			macKey := testMACKey(t)
			vaultID := interfaces.NewVaultID()

			fragments, err := Split(secret, vaultID, 1, macKey, scheme)
			require.NoError(t, err)
			require.Len(t, fragments, scheme.Total)

			for i, f := range fragments {
				assert.Equal(t, i+1, f.Index, "Fragments carry 1-based indices")
				assert.Equal(t, scheme.Threshold, f.Threshold)
				assert.True(t, f.Verify(macKey), "Fragment MAC should verify")
			}

			// Every K-sized and larger subset reconstructs the same secret.
			for k := scheme.Threshold; k <= scheme.Total; k++ {
				for _, subset := range subsets(fragments, k) {
					recovered, err := Combine(subset, vaultID, 1, macKey)
					require.NoError(t, err, "Combine should succeed with %d of %d fragments", k, scheme.Total)
					assert.Equal(t, secret, recovered)
				}
			}

			// Every subset below K fails without revealing anything.
			for k := 1; k < scheme.Threshold; k++ {
				for _, subset := range subsets(fragments, k) {
					_, err := Combine(subset, vaultID, 1, macKey)
					assert.ErrorIs(t, err, interfaces.ErrInsufficientFragments)
				}
			}
		})
	}
}

func TestCombineOrderIndependence(t *testing.T) {
	secret := testSecret(t, 32)
	macKey := testMACKey(t)
	vaultID := interfaces.NewVaultID()

	fragments, err := Split(secret, vaultID, 1, macKey, interfaces.Scheme{Threshold: 3, Total: 5})
	require.NoError(t, err)

	forward := []Fragment{fragments[0], fragments[2], fragments[4]}
	reversed := []Fragment{fragments[4], fragments[2], fragments[0]}

	a, err := Combine(forward, vaultID, 1, macKey)
	require.NoError(t, err)
	b, err := Combine(reversed, vaultID, 1, macKey)
	require.NoError(t, err)
	assert.Equal(t, a, b, "Fragment order must not affect the reconstructed secret")
	assert.Equal(t, secret, a)
}

func TestCombineDuplicateIndicesDoNotCount(t *testing.T) {
	secret := testSecret(t, 32)
	macKey := testMACKey(t)
	vaultID := interfaces.NewVaultID()

	fragments, err := Split(secret, vaultID, 1, macKey, interfaces.Scheme{Threshold: 2, Total: 3})
	require.NoError(t, err)

	// Two copies of the same fragment are still a single share.
	_, err = Combine([]Fragment{fragments[0], fragments[0]}, vaultID, 1, macKey)
	assert.ErrorIs(t, err, interfaces.ErrInsufficientFragments)
}

func TestCombineRejectsTamperedFragment(t *testing.T) {
	secret := testSecret(t, 32)
	macKey := testMACKey(t)
	vaultID := interfaces.NewVaultID()

	fragments, err := Split(secret, vaultID, 1, macKey, interfaces.Scheme{Threshold: 2, Total: 3})
	require.NoError(t, err)

	fragments[1].Payload[0] ^= 0xff

	_, err = Combine(fragments[:2], vaultID, 1, macKey)
	require.ErrorIs(t, err, interfaces.ErrCorruptFragment)

	var corrupt *interfaces.CorruptFragmentError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, 2, corrupt.Index, "Error should identify the failing fragment")
}

func TestCombineRejectsForeignVaultFragment(t *testing.T) {
	macKey := testMACKey(t)
	vaultA := interfaces.NewVaultID()
	vaultB := interfaces.NewVaultID()

	fragsA, err := Split(testSecret(t, 32), vaultA, 1, macKey, interfaces.Scheme{Threshold: 2, Total: 3})
	require.NoError(t, err)
	fragsB, err := Split(testSecret(t, 32), vaultB, 1, macKey, interfaces.Scheme{Threshold: 2, Total: 3})
	require.NoError(t, err)

	mixed := []Fragment{fragsA[0], fragsB[1]}
	_, err = Combine(mixed, vaultA, 1, macKey)
	assert.ErrorIs(t, err, interfaces.ErrCorruptFragment)
}

func TestCombineRejectsPriorEpochFragment(t *testing.T) {
	vaultID := interfaces.NewVaultID()
	secret := testSecret(t, 32)

	oldKey := testMACKey(t)
	oldFrags, err := Split(secret, vaultID, 1, oldKey, interfaces.Scheme{Threshold: 2, Total: 3})
	require.NoError(t, err)

	// Rotation re-splits under a new epoch and MAC key.
	newKey := testMACKey(t)
	newFrags, err := Split(secret, vaultID, 2, newKey, interfaces.Scheme{Threshold: 2, Total: 3})
	require.NoError(t, err)

	// One valid new fragment plus one stale fragment would normally satisfy
	// K=2, but the stale fragment must be rejected as corrupt.
	mixed := []Fragment{newFrags[0], oldFrags[1]}
	_, err = Combine(mixed, vaultID, 2, newKey)
	require.ErrorIs(t, err, interfaces.ErrCorruptFragment)

	var corrupt *interfaces.CorruptFragmentError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, 2, corrupt.Index)
}

func TestFragmentMarshalRoundTrip(t *testing.T) {
	macKey := testMACKey(t)
	vaultID := interfaces.NewVaultID()

	fragments, err := Split(testSecret(t, 32), vaultID, 1, macKey, interfaces.Scheme{Threshold: 2, Total: 2})
	require.NoError(t, err)

	data, err := fragments[0].Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalFragment(data)
	require.NoError(t, err)
	assert.Equal(t, fragments[0], decoded)
	assert.True(t, decoded.Verify(macKey))

	_, err = UnmarshalFragment([]byte("not-a-fragment"))
	assert.ErrorIs(t, err, interfaces.ErrCorruptFragment)
}
