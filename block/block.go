// Package block defines the sidechain block type the coordinator applies
// against state and wallet, along with the main-chain reference data it
// carries.
package block

import (
	"crypto/ed25519"
	"encoding/binary"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/mezonai/sidechainnode/versionedkv"
)

// ID is a block's 32-byte identifier; it doubles as the versionedkv
// Version for every store update the block drives.
type ID = versionedkv.Version

// ForwardTransferOutput is a main-chain-originated deposit surfaced as a
// box in the sidechain, carried inside a SidechainRelatedAggregatedTx.
type ForwardTransferOutput struct {
	BoxID           [32]byte
	Amount          uint64
	Proposition     []byte
	MCReturnAddress []byte
	TxHash          [32]byte
	TxIndex         uint32
}

// SidechainCreationOutput marks the sidechain-creation output present in
// the genesis main-chain reference; it carries no CSW support.
type SidechainCreationOutput struct {
	Version int32
}

// SidechainRelatedAggregatedTransaction is the portion of a main-chain
// block payload relevant to this sidechain: a creation output (only in
// the genesis reference) followed by zero or more Forward Transfers, in
// wire order.
type SidechainRelatedAggregatedTransaction struct {
	SidechainCreation *SidechainCreationOutput
	ForwardTransfers  []ForwardTransferOutput
}

// MainchainBlockReferenceData is one referenced main-chain block's
// payload relevant to the sidechain, plus commitment-tree material used
// to build CSW Merkle paths.
type MainchainBlockReferenceData struct {
	MainchainHeaderHash            [32]byte
	SidechainRelatedAggregatedTx   *SidechainRelatedAggregatedTransaction
	SCCommitmentMerklePath         [][32]byte
	BTRCommitment                  [32]byte
	CertCommitment                 [32]byte
	SCCrCommitment                 [32]byte
}

// TransactionRef is what a block needs to know about one of its
// transactions to drive box-set changes: the ids it opens (spends) and
// the new boxes it creates.
type TransactionRef struct {
	ID            string
	BoxIDsToOpen  [][32]byte
	NewBoxes      []NewBoxRef
}

// NewBoxRef is a box a transaction creates, before it is filtered
// against the wallet's known keys. VRFPublicKey and BlockSignProposition
// are only meaningful when IsForger is set.
type NewBoxRef struct {
	BoxID                [32]byte
	Proposition          []byte
	Value                uint64
	Nonce                uint64
	IsForger             bool
	BlockSignProposition []byte
	VRFPublicKey         []byte
}

// Block is one sidechain block: an id, its parent, a timestamp, the
// transactions it carries, and the main-chain references it observed.
// ForgerProposition identifies the forger box whose owner produced this
// block, and is the fee-payment recipient for any fees it collects.
type Block struct {
	ID                           ID
	ParentID                     ID
	Timestamp                    time.Time
	Transactions                 []TransactionRef
	MainchainBlockReferencesData []MainchainBlockReferenceData
	ForgerProposition            []byte
	Signature                    []byte
}

// ComputeID derives the block's id by hashing its parent, timestamp and
// transaction ids. Callers are expected to set b.ID from the result.
func (b *Block) ComputeID() [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write(b.ParentID.Bytes())
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Timestamp.UnixNano()))
	h.Write(buf[:])
	for _, tx := range b.Transactions {
		h.Write([]byte(tx.ID))
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Sign signs the block's id with the leader's forger key.
func (b *Block) Sign(priv ed25519.PrivateKey) {
	b.Signature = ed25519.Sign(priv, b.ID.Bytes())
}

// VerifySignature checks b.Signature against pub over b.ID.
func (b *Block) VerifySignature(pub ed25519.PublicKey) bool {
	return ed25519.Verify(pub, b.ID.Bytes(), b.Signature)
}
