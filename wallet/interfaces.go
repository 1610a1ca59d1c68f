package wallet

import (
	"github.com/mezonai/sidechainnode/box"
	"github.com/mezonai/sidechainnode/versionedkv"
)

// BoxChanges is the box-set delta a block produces, as extracted by
// state. The wallet never talks to state directly; the coordinator
// hands it this value.
type BoxChanges struct {
	ToAppend []box.Box
	ToRemove [][32]byte
}

// UTXOMerkleTreeView answers Merkle-path queries against the coin-box
// set snapshot taken at a withdrawal epoch's last block. Present only
// when scanPersistent is called for that last block.
type UTXOMerkleTreeView interface {
	PathTo(boxID [32]byte) ([][32]byte, bool)
}

// ForgingStakeTree answers leaf-membership queries against a consensus
// epoch's forging-stake Merkle tree, computed by state.
type ForgingStakeTree interface {
	PathFor(leaf [32]byte) ([][32]byte, bool)
}

// ConsensusEpochInfo is the state-computed input to
// applyConsensusEpochInfo: the epoch that just closed and its stake
// tree.
type ConsensusEpochInfo struct {
	Epoch int32
	Tree  ForgingStakeTree
}

// ApplicationWallet is the user-extension hook consumed by the wallet.
// All methods are permitted to return an error; onChangeBoxes failures
// abort the enclosing scanPersistent before any store is written.
type ApplicationWallet interface {
	OnAddSecret(secret box.Secret) error
	OnRemoveSecret(proposition box.Proposition) error
	OnChangeBoxes(version versionedkv.Version, boxesToUpdate []box.WalletBox, boxIDsToRemove [][32]byte) error
	OnRollback(version versionedkv.Version) error
	CheckStoragesVersion(version versionedkv.Version) bool
}

// NoopApplicationWallet is a zero-effort ApplicationWallet for nodes
// that register no custom extension. It keeps no storage of its own, so
// it has nothing to disagree with: CheckStoragesVersion always reports
// consistent, which keeps a freshly restarted node bootable without a
// durable side-store to check against.
type NoopApplicationWallet struct{}

func (n *NoopApplicationWallet) OnAddSecret(box.Secret) error             { return nil }
func (n *NoopApplicationWallet) OnRemoveSecret(box.Proposition) error     { return nil }
func (n *NoopApplicationWallet) OnRollback(versionedkv.Version) error     { return nil }
func (n *NoopApplicationWallet) CheckStoragesVersion(versionedkv.Version) bool {
	return true
}
func (n *NoopApplicationWallet) OnChangeBoxes(versionedkv.Version, []box.WalletBox, [][32]byte) error {
	return nil
}
