// Package box defines the sidechain's UTXO-style output types: the
// Proposition an output is locked to, the Box itself in its coin/forger/
// application variants, and the wallet- and CSW-specific wrappers around
// it.
package box

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Discriminant identifies which concrete box variant an id refers to.
type Discriminant byte

const (
	DiscriminantCoin Discriminant = iota
	DiscriminantForger
	DiscriminantApplication
)

// Proposition is a public-key-like identifier an output is locked to.
type Proposition struct {
	Bytes []byte
}

func (p Proposition) String() string {
	return hex.EncodeToString(p.Bytes)
}

// Equal reports whether two propositions carry the same bytes.
func (p Proposition) Equal(o Proposition) bool {
	if len(p.Bytes) != len(o.Bytes) {
		return false
	}
	for i := range p.Bytes {
		if p.Bytes[i] != o.Bytes[i] {
			return false
		}
	}
	return true
}

// Hash returns Blake2b256(proposition.bytes), the key used to index the
// secret store.
func (p Proposition) Hash() ([32]byte, error) {
	return blake2b.Sum256(p.Bytes), nil
}

// ID is a box's unique 32-byte identifier.
type ID [32]byte

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ID) Bytes() []byte {
	return id[:]
}

// IDFromBytes copies exactly 32 bytes into an ID.
func IDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != len(id) {
		return id, fmt.Errorf("box id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// VRFPublicKey is a VRF verification key carried by forger boxes.
type VRFPublicKey struct {
	Bytes []byte
}

// ForgingStakeInfo summarizes a forger box's stake, signing key and VRF
// key into the leaf hashed into the epoch's forging-stake Merkle tree.
type ForgingStakeInfo struct {
	BlockSignProposition Proposition
	VRFPublicKey         VRFPublicKey
	StakeAmount          uint64
}

// Hash is the leaf value hashed into the forging-stake Merkle tree.
func (fsi ForgingStakeInfo) Hash() [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write(fsi.BlockSignProposition.Bytes)
	h.Write(fsi.VRFPublicKey.Bytes)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(fsi.StakeAmount >> (8 * i))
	}
	h.Write(buf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Box is an unspent transaction output: a value locked to a proposition
// under a discriminant-specific set of extra fields.
type Box struct {
	ID           ID
	Proposition  Proposition
	Value        uint64
	Nonce        uint64
	Discriminant Discriminant

	// Set only when Discriminant == DiscriminantForger.
	BlockSignProposition *Proposition
	VRFPublicKey         *VRFPublicKey
}

// IsForger reports whether this box carries forger delegation info.
func (b *Box) IsForger() bool {
	return b.Discriminant == DiscriminantForger && b.BlockSignProposition != nil
}

// ForgingStakeInfo derives the leaf info for a forger box. Callers must
// have already checked IsForger.
func (b *Box) ForgingStakeInfo() ForgingStakeInfo {
	var vrf VRFPublicKey
	if b.VRFPublicKey != nil {
		vrf = *b.VRFPublicKey
	}
	var signProp Proposition
	if b.BlockSignProposition != nil {
		signProp = *b.BlockSignProposition
	}
	return ForgingStakeInfo{
		BlockSignProposition: signProp,
		VRFPublicKey:         vrf,
		StakeAmount:          b.Value,
	}
}

// WalletBox is a Box the wallet has taken custody of, plus the
// transaction and timestamp that created it. Fee-payment boxes carry no
// creating transaction.
type WalletBox struct {
	Box             Box
	CreatingTxID    string
	HasCreatingTx   bool
	BlockTimestamp  uint64
}

// ForgingStakeMerklePathInfo pairs a forging stake leaf with the Merkle
// path proving its membership in an epoch's stake tree.
type ForgingStakeMerklePathInfo struct {
	StakeInfo  ForgingStakeInfo
	MerklePath [][32]byte
}
