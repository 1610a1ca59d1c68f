// Package state is the box-set validator and version authority the
// coordinator drives one block at a time: it checks a block's spent
// boxes are present, folds in new boxes from transactions and
// forward-transfer outputs, and tracks the consensus- and
// withdrawal-epoch boundaries that drive the rest of the coordinator's
// protocol.
package state

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/mezonai/sidechainnode/block"
	"github.com/mezonai/sidechainnode/box"
	"github.com/mezonai/sidechainnode/db"
	"github.com/mezonai/sidechainnode/jsonx"
	"github.com/mezonai/sidechainnode/logx"
	"github.com/mezonai/sidechainnode/merkle"
	"github.com/mezonai/sidechainnode/sidechainerrors"
	"github.com/mezonai/sidechainnode/versionedkv"
	"github.com/mezonai/sidechainnode/wallet"
)

const (
	boxKeyPrefix = "b:"
	feeKeyPrefix = "f:"
)

// Config holds the epoch-length parameters that turn a plain block
// sequence into consensus and withdrawal epochs.
type Config struct {
	ConsensusEpochLength  int32
	WithdrawalEpochLength int32
}

// Stores bundles the versionedkv-backed providers state owns: the base
// box set (which also carries the fee ledger, under a distinct key
// prefix in the same store), the state-side mirror of forger boxes, and
// the per-withdrawal-epoch UTXO snapshot log.
type Stores struct {
	Boxes       db.IterableProvider
	ForgerBoxes db.IterableProvider
	UTXOTree    db.IterableProvider
}

// State is the box-set validator and version authority.
type State struct {
	mu          sync.RWMutex
	cfg         Config
	boxes       *versionedkv.Store
	forgerBoxes *versionedkv.Store
	utxoTree    *versionedkv.Store
}

// Open loads state over stores, rebuilding all three sub-store version
// indices from their providers.
func Open(stores Stores, cfg Config) (*State, error) {
	boxes, err := versionedkv.Open(stores.Boxes)
	if err != nil {
		return nil, fmt.Errorf("open state box store: %w", err)
	}
	forgerBoxes, err := versionedkv.Open(stores.ForgerBoxes)
	if err != nil {
		return nil, fmt.Errorf("open state forger box store: %w", err)
	}
	utxoTree, err := versionedkv.Open(stores.UTXOTree)
	if err != nil {
		return nil, fmt.Errorf("open state utxo tree store: %w", err)
	}
	return &State{cfg: cfg, boxes: boxes, forgerBoxes: forgerBoxes, utxoTree: utxoTree}, nil
}

func boxKey(id [32]byte) []byte {
	return append([]byte(boxKeyPrefix), id[:]...)
}

func feeKey(epoch int32, forgerProposition []byte) []byte {
	return []byte(fmt.Sprintf("%sepoch:%d:%x", feeKeyPrefix, epoch, forgerProposition))
}

func epochKey(epoch int32) []byte {
	return []byte(fmt.Sprintf("epoch:%d", epoch))
}

// Version returns the box store's last version: state's authoritative
// version, guaranteed to equal the forger box store's by construction
// (both stores are updated together, in the same call, on every block).
func (s *State) Version() (versionedkv.Version, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.boxes.LastVersionID()
}

func (s *State) height() int32 {
	return int32(s.boxes.NumberOfVersions())
}

func withdrawalEpochOf(height, length int32) int32 {
	if length <= 0 || height <= 0 {
		return 1
	}
	return (height-1)/length + 1
}

func consensusEpochOf(height, length int32) int32 {
	return withdrawalEpochOf(height, length)
}

// IsSwitchingConsensusEpoch reports whether m, the next block to be
// applied, opens a new consensus epoch: true once a full epoch's worth
// of blocks has already been applied.
func (s *State) IsSwitchingConsensusEpoch(_ *block.Block) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.height()
	return h > 0 && s.cfg.ConsensusEpochLength > 0 && h%s.cfg.ConsensusEpochLength == 0
}

// IsWithdrawalEpochLastIndex reports whether the block most recently
// applied was the last one of its withdrawal epoch.
func (s *State) IsWithdrawalEpochLastIndex() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.height()
	return s.cfg.WithdrawalEpochLength > 0 && h%s.cfg.WithdrawalEpochLength == 0
}

// CurrentWithdrawalEpoch returns the withdrawal epoch the most recently
// applied block belongs to.
func (s *State) CurrentWithdrawalEpoch() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return withdrawalEpochOf(s.height(), s.cfg.WithdrawalEpochLength)
}

func newBoxFromRef(nb block.NewBoxRef) box.Box {
	bx := box.Box{
		ID:          box.ID(nb.BoxID),
		Proposition: box.Proposition{Bytes: nb.Proposition},
		Value:       nb.Value,
		Nonce:       nb.Nonce,
	}
	if nb.IsForger {
		bx.Discriminant = box.DiscriminantForger
		signProp := box.Proposition{Bytes: nb.BlockSignProposition}
		bx.BlockSignProposition = &signProp
		bx.VRFPublicKey = &box.VRFPublicKey{Bytes: nb.VRFPublicKey}
	}
	return bx
}

// ApplyModifier validates and applies block m against the current box
// set: every box a transaction opens must already be live; new boxes
// come from transaction outputs and from forward-transfer outputs
// carried in the block's main-chain references. It returns the box-set
// delta the wallet's scanPersistent needs.
func (s *State) ApplyModifier(m *block.Block) (wallet.BoxChanges, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spent := make(map[[32]byte]struct{})
	var newBoxes []box.Box
	feeByForger := make(map[string]*uint256.Int)

	for _, tx := range m.Transactions {
		var spentValue, createdValue uint256.Int
		for _, id := range tx.BoxIDsToOpen {
			raw, ok := s.boxes.Get(boxKey(id))
			if !ok {
				return wallet.BoxChanges{}, sidechainerrors.StateApply(fmt.Errorf("box %x not found in state", id))
			}
			var bx box.Box
			if err := jsonx.Unmarshal(raw, &bx); err != nil {
				return wallet.BoxChanges{}, fmt.Errorf("decode box %x: %w", id, err)
			}
			spent[id] = struct{}{}
			spentValue.Add(&spentValue, uint256.NewInt(bx.Value))
		}
		for _, nb := range tx.NewBoxes {
			bx := newBoxFromRef(nb)
			newBoxes = append(newBoxes, bx)
			createdValue.Add(&createdValue, uint256.NewInt(nb.Value))
		}
		if len(m.ForgerProposition) > 0 && spentValue.Cmp(&createdValue) > 0 {
			fee := new(uint256.Int).Sub(&spentValue, &createdValue)
			key := string(m.ForgerProposition)
			acc, ok := feeByForger[key]
			if !ok {
				acc = new(uint256.Int)
				feeByForger[key] = acc
			}
			acc.Add(acc, fee)
		}
	}

	for _, ref := range m.MainchainBlockReferencesData {
		if ref.SidechainRelatedAggregatedTx == nil {
			continue
		}
		for _, ft := range ref.SidechainRelatedAggregatedTx.ForwardTransfers {
			newBoxes = append(newBoxes, box.Box{
				ID:           box.ID(ft.BoxID),
				Proposition:  box.Proposition{Bytes: ft.Proposition},
				Value:        ft.Amount,
				Discriminant: box.DiscriminantCoin,
			})
		}
	}

	puts := make(map[string][]byte, len(newBoxes)+len(feeByForger))
	for _, bx := range newBoxes {
		data, err := jsonx.Marshal(bx)
		if err != nil {
			return wallet.BoxChanges{}, fmt.Errorf("marshal box: %w", err)
		}
		puts[string(boxKey([32]byte(bx.ID)))] = data
	}

	// Fee accumulation happens on the block about to be applied, so its
	// epoch is derived from the post-apply height.
	epoch := withdrawalEpochOf(s.height()+1, s.cfg.WithdrawalEpochLength)
	for forgerProp, fee := range feeByForger {
		k := feeKey(epoch, []byte(forgerProp))
		existing := new(uint256.Int)
		if raw, ok := s.boxes.Get(k); ok {
			if err := existing.UnmarshalText(raw); err != nil {
				return wallet.BoxChanges{}, fmt.Errorf("decode fee accumulator: %w", err)
			}
		}
		existing.Add(existing, fee)
		text, err := existing.MarshalText()
		if err != nil {
			return wallet.BoxChanges{}, fmt.Errorf("encode fee accumulator: %w", err)
		}
		puts[string(k)] = text
	}

	deletes := make([][]byte, 0, len(spent))
	removedIDs := make([][32]byte, 0, len(spent))
	for id := range spent {
		id := id
		deletes = append(deletes, boxKey(id))
		removedIDs = append(removedIDs, id)
	}

	forgerPuts := make(map[string][]byte)
	for _, bx := range newBoxes {
		if bx.IsForger() {
			data, err := jsonx.Marshal(bx)
			if err != nil {
				return wallet.BoxChanges{}, fmt.Errorf("marshal forger box: %w", err)
			}
			forgerPuts[string(boxKey([32]byte(bx.ID)))] = data
		}
	}
	var forgerDeletes [][]byte
	for id := range spent {
		if _, ok := s.forgerBoxes.Get(boxKey(id)); ok {
			forgerDeletes = append(forgerDeletes, boxKey(id))
		}
	}

	version := m.ID
	if err := s.boxes.Update(version, puts, deletes); err != nil {
		return wallet.BoxChanges{}, fmt.Errorf("update state box store: %w", err)
	}
	if err := s.forgerBoxes.Update(version, forgerPuts, forgerDeletes); err != nil {
		return wallet.BoxChanges{}, fmt.Errorf("update state forger box store: %w", err)
	}

	logx.Info("STATE", fmt.Sprintf("applyModifier %s: +%d boxes -%d boxes", version, len(newBoxes), len(removedIDs)))

	return wallet.BoxChanges{ToAppend: newBoxes, ToRemove: removedIDs}, nil
}

// Rollback restores state's box set and forger-box mirror to version,
// which was recorded together by some prior ApplyModifier call.
// utxoTree is intentionally left untouched: it is an epoch-keyed
// snapshot log outside the box/forger-box version-agreement invariant,
// so a reorg past a withdrawal-epoch boundary can leave a stale
// snapshot behind under that epoch's key until it is naturally
// overwritten by the next epoch close on the new chain.
func (s *State) Rollback(version versionedkv.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.forgerBoxes.Rollback(version); err != nil {
		return fmt.Errorf("rollback state forger boxes: %w", err)
	}
	if err := s.boxes.Rollback(version); err != nil {
		return fmt.Errorf("rollback state boxes: %w", err)
	}
	return nil
}

// EnsureStorageConsistencyAfterRestore checks that the box store and its
// forger-box mirror, which are always advanced together, agree on their
// last version.
func (s *State) EnsureStorageConsistencyAfterRestore() (versionedkv.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, hasBoxes := s.boxes.LastVersionID()
	fv, hasForger := s.forgerBoxes.LastVersionID()
	if hasBoxes != hasForger || (hasBoxes && v != fv) {
		return versionedkv.ZeroVersion, sidechainerrors.Consistency("state box store and forger box store disagree on version")
	}
	return v, nil
}

// GetFeePayments returns the accumulated per-forger fee boxes for epoch,
// as coin boxes ready to be handed to wallet.scanPersistent alongside
// the epoch's other fee payments.
func (s *State) GetFeePayments(epoch int32) ([]box.Box, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := []byte(fmt.Sprintf("%sepoch:%d:", feeKeyPrefix, epoch))
	all := s.boxes.GetAll()

	var keys []string
	for k := range all {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var out []box.Box
	var nonce uint64
	for _, k := range keys {
		v := all[k]
		propHex := k[len(prefix):]
		propBytes, err := hexDecode(propHex)
		if err != nil {
			return nil, fmt.Errorf("decode fee recipient: %w", err)
		}
		amount := new(uint256.Int)
		if err := amount.UnmarshalText(v); err != nil {
			return nil, fmt.Errorf("decode fee accumulator: %w", err)
		}
		out = append(out, box.Box{
			ID:           box.ID(feePaymentBoxID(epoch, propBytes, nonce)),
			Proposition:  box.Proposition{Bytes: propBytes},
			Value:        amount.Uint64(),
			Nonce:        nonce,
			Discriminant: box.DiscriminantCoin,
		})
		nonce++
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out, nil
}

// GetWithdrawalEpochInfo returns the current withdrawal epoch and the
// height (1-indexed within the epoch) of the most recently applied block.
func (s *State) GetWithdrawalEpochInfo() (epoch int32, indexInEpoch int32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.height()
	epoch = withdrawalEpochOf(h, s.cfg.WithdrawalEpochLength)
	if s.cfg.WithdrawalEpochLength <= 0 {
		return epoch, h
	}
	indexInEpoch = h - (epoch-1)*s.cfg.WithdrawalEpochLength
	return epoch, indexInEpoch
}

// GetCurrentConsensusEpochInfo returns the id of the last block of the
// consensus epoch that just closed, plus the forging-stake tree built
// from the state-side forger-box mirror as of that block.
func (s *State) GetCurrentConsensusEpochInfo() (block.ID, wallet.ConsensusEpochInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lastBlockInEpoch, ok := s.boxes.LastVersionID()
	if !ok {
		return versionedkv.ZeroVersion, wallet.ConsensusEpochInfo{}, sidechainerrors.Consistency("no blocks applied yet")
	}

	all := s.forgerBoxes.GetAll()
	infos := make([]box.ForgingStakeInfo, 0, len(all))
	for _, raw := range all {
		var bx box.Box
		if err := jsonx.Unmarshal(raw, &bx); err != nil {
			return versionedkv.ZeroVersion, wallet.ConsensusEpochInfo{}, fmt.Errorf("decode forger box: %w", err)
		}
		infos = append(infos, bx.ForgingStakeInfo())
	}
	sort.Slice(infos, func(i, j int) bool {
		return bytes.Compare(infos[i].BlockSignProposition.Bytes, infos[j].BlockSignProposition.Bytes) < 0
	})

	leaves := make([][32]byte, len(infos))
	for i, fsi := range infos {
		leaves[i] = fsi.Hash()
	}
	tree := merkle.Build(leaves)

	epoch := consensusEpochOf(s.height(), s.cfg.ConsensusEpochLength)
	return lastBlockInEpoch, wallet.ConsensusEpochInfo{Epoch: epoch, Tree: &stakeTree{tree: tree}}, nil
}

// stakeTree adapts a merkle.Tree to wallet.ForgingStakeTree.
type stakeTree struct {
	tree *merkle.Tree
}

func (t *stakeTree) PathFor(leaf [32]byte) ([][32]byte, bool) {
	idx := t.tree.LeafIndex(leaf)
	if idx < 0 {
		return nil, false
	}
	return merkle.ToPathSlice(t.tree.PathTo(idx)), true
}

// utxoView adapts a merkle.Tree over coin-box ids to wallet.UTXOMerkleTreeView.
type utxoView struct {
	tree *merkle.Tree
}

func (v *utxoView) PathTo(boxID [32]byte) ([][32]byte, bool) {
	idx := v.tree.LeafIndex(boxID)
	if idx < 0 {
		return nil, false
	}
	return merkle.ToPathSlice(v.tree.PathTo(idx)), true
}

// BuildUTXOMerkleTreeView snapshots the current coin-box set into a
// Merkle tree, persists the leaf ordering for epoch, and returns a view
// over it. Called only when IsWithdrawalEpochLastIndex is true.
func (s *State) BuildUTXOMerkleTreeView(epoch int32) (wallet.UTXOMerkleTreeView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.boxes.GetAll()
	var ids [][32]byte
	for k, raw := range all {
		if !bytes.HasPrefix([]byte(k), []byte(boxKeyPrefix)) {
			continue
		}
		var bx box.Box
		if err := jsonx.Unmarshal(raw, &bx); err != nil {
			return nil, fmt.Errorf("decode box: %w", err)
		}
		if bx.Discriminant != box.DiscriminantCoin {
			continue
		}
		ids = append(ids, [32]byte(bx.ID))
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	tree := merkle.Build(ids)

	data, err := jsonx.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshal utxo snapshot: %w", err)
	}
	version, ok := s.boxes.LastVersionID()
	if !ok {
		return nil, sidechainerrors.Consistency("no blocks applied yet")
	}
	if err := s.utxoTree.Update(version, map[string][]byte{string(epochKey(epoch)): data}, nil); err != nil {
		return nil, fmt.Errorf("persist utxo snapshot: %w", err)
	}

	return &utxoView{tree: tree}, nil
}
