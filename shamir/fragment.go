package shamir

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
)

// Fragment is one self-describing threshold-share of a vault's master
// secret. It carries its own index and scheme so any threshold-sized subset
// combines order-independently, and an HMAC binding it to a specific vault
// and fragment epoch so stale or foreign fragments are rejected.
type Fragment struct {
	VaultID     interfaces.VaultID `json:"vault_id"`
	Epoch       int                `json:"epoch"`
	Index       int                `json:"index"`
	Threshold   int                `json:"threshold"`
	TotalShares int                `json:"total_shares"`
	Payload     []byte             `json:"payload"`
	MAC         []byte             `json:"mac"`
}

// macInput builds the canonical byte string covered by the fragment MAC:
// vault id, epoch, index, scheme and payload. Any mutation of these fields
// invalidates the MAC.
func (f *Fragment) macInput() []byte {
	buf := make([]byte, 0, len(f.VaultID)+20+len(f.Payload))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.VaultID)))
	buf = append(buf, f.VaultID...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(f.Epoch))
	buf = binary.BigEndian.AppendUint32(buf, uint32(f.Index))
	buf = binary.BigEndian.AppendUint32(buf, uint32(f.Threshold))
	buf = binary.BigEndian.AppendUint32(buf, uint32(f.TotalShares))
	buf = append(buf, f.Payload...)
	return buf
}

// Seal computes and attaches the fragment MAC under the vault's per-epoch
// MAC key.
func (f *Fragment) Seal(macKey []byte) {
	mac := hmac.New(sha256.New, macKey)
	mac.Write(f.macInput())
	f.MAC = mac.Sum(nil)
}

// Verify checks the fragment MAC under the given key.
func (f *Fragment) Verify(macKey []byte) bool {
	mac := hmac.New(sha256.New, macKey)
	mac.Write(f.macInput())
	return hmac.Equal(f.MAC, mac.Sum(nil))
}

// Marshal encodes the fragment for encryption or transport.
func (f *Fragment) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalFragment decodes a fragment produced by Marshal. A decode failure
// is reported as a corrupt fragment with unknown index.
func UnmarshalFragment(data []byte) (Fragment, error) {
	var f Fragment
	if err := json.Unmarshal(data, &f); err != nil {
		return Fragment{}, &interfaces.CorruptFragmentError{Index: 0, Reason: "malformed encoding"}
	}
	if f.Index < 1 || len(f.Payload) == 0 {
		return Fragment{}, &interfaces.CorruptFragmentError{Index: f.Index, Reason: "missing index or payload"}
	}
	return f, nil
}

// Wipe zeroes the fragment payload. Callers wipe fragments as soon as a
// combine or encrypt call returns.
func (f *Fragment) Wipe() {
	wipeBytes(f.Payload)
}

func validateBinding(f *Fragment, vaultID interfaces.VaultID, epoch int, macKey []byte) error {
	if f.VaultID != vaultID {
		return &interfaces.CorruptFragmentError{Index: f.Index, Reason: "bound to a different vault"}
	}
	if f.Epoch != epoch {
		return &interfaces.CorruptFragmentError{Index: f.Index, Reason: fmt.Sprintf("bound to fragment epoch %d, current is %d", f.Epoch, epoch)}
	}
	if !f.Verify(macKey) {
		return &interfaces.CorruptFragmentError{Index: f.Index, Reason: "integrity check failed"}
	}
	return nil
}
