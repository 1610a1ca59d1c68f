// Package history is the block DAG and best-chain pointer the
// coordinator drives one block at a time: it decides whether a new
// block extends, forks from, or lags the active chain, and persists
// consensus-epoch records (nonce, last block in epoch) alongside it.
package history

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/mezonai/sidechainnode/block"
	"github.com/mezonai/sidechainnode/box"
	"github.com/mezonai/sidechainnode/db"
	"github.com/mezonai/sidechainnode/jsonx"
	"github.com/mezonai/sidechainnode/logx"
	"github.com/mezonai/sidechainnode/versionedkv"
)

// maxChainBackSteps bounds the active-chain ancestor scan that
// buildReorgProgress performs; ChainBack takes its bound from its
// caller instead. The spec's Non-goals exclude reorgs deeper
// than the deepest available rollback point, so an unbounded walk is
// never required in practice.
const maxChainBackSteps = 1 << 20

const bestKey = "best"

// storedBlock is a header-log entry: the full block body, its height,
// and whether state.applyModifier has rejected it.
type storedBlock struct {
	Block   *block.Block
	Height  int64
	Invalid bool
}

// EpochRecord is one consensus epoch's persisted material: the epoch
// number, its last block, and the epoch nonce derived from the prior
// epoch's nonce and that block.
type EpochRecord struct {
	Epoch            int32
	LastBlockInEpoch versionedkv.Version
	Nonce            [32]byte
}

// ProgressInfo describes what Append learned about a newly-seen block:
// whether applying it requires undoing part of the current active
// chain, and what remains to apply.
type ProgressInfo struct {
	BranchPoint          versionedkv.Version
	ToRemove             []versionedkv.Version // most-recent-first
	ToApply              []*block.Block         // oldest-first
	ToDownload           []versionedkv.Version
	ChainSwitchingNeeded bool
}

func (p ProgressInfo) IsEmpty() bool {
	return len(p.ToApply) == 0 && len(p.ToDownload) == 0
}

// Stores bundles the three versionedkv-backed providers history owns:
// the header log (append-only, one entry per known block), the
// best-chain pointer (history's own persisted version), and the
// consensus-epoch record log.
type Stores struct {
	Headers   db.IterableProvider
	Best      db.IterableProvider
	Consensus db.IterableProvider
}

// History is the block DAG and best-chain pointer.
type History struct {
	mu        sync.RWMutex
	headers   *versionedkv.Store
	best      *versionedkv.Store
	consensus *versionedkv.Store
}

func Open(stores Stores) (*History, error) {
	headers, err := versionedkv.Open(stores.Headers)
	if err != nil {
		return nil, fmt.Errorf("open history header store: %w", err)
	}
	best, err := versionedkv.Open(stores.Best)
	if err != nil {
		return nil, fmt.Errorf("open history best-block store: %w", err)
	}
	consensus, err := versionedkv.Open(stores.Consensus)
	if err != nil {
		return nil, fmt.Errorf("open history consensus store: %w", err)
	}
	return &History{headers: headers, best: best, consensus: consensus}, nil
}

func headerKey(id versionedkv.Version) []byte {
	return append([]byte("h:"), id.Bytes()...)
}

func epochKey(epoch int32) []byte {
	return []byte(fmt.Sprintf("epoch:%d", epoch))
}

// Contains reports whether id has already been recorded, regardless of
// whether it is on the active chain.
func (h *History) Contains(id versionedkv.Version) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.headers.Get(headerKey(id))
	return ok
}

func (h *History) currentBest() (versionedkv.Version, bool) {
	raw, ok := h.best.Get([]byte(bestKey))
	if !ok {
		return versionedkv.ZeroVersion, false
	}
	v, err := versionedkv.VersionFromBytes(raw)
	if err != nil {
		return versionedkv.ZeroVersion, false
	}
	return v, true
}

// BestBlockID returns history's persisted best-chain pointer: history's
// authoritative version.
func (h *History) BestBlockID() (versionedkv.Version, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentBest()
}

func (h *History) getStored(id versionedkv.Version) (storedBlock, bool, error) {
	raw, ok := h.headers.Get(headerKey(id))
	if !ok {
		return storedBlock{}, false, nil
	}
	var st storedBlock
	if err := jsonx.Unmarshal(raw, &st); err != nil {
		return storedBlock{}, false, fmt.Errorf("decode header %s: %w", id, err)
	}
	return st, true, nil
}

// Append records a newly-seen block and computes the progress needed to
// bring the active chain up to date with it. Re-appending an already
// known id is a no-op (P9).
func (h *History) Append(m *block.Block) (ProgressInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.headers.Get(headerKey(m.ID)); ok {
		return ProgressInfo{}, nil
	}

	var height int64
	if !m.ParentID.IsZero() {
		parent, ok, err := h.getStored(m.ParentID)
		if err != nil {
			return ProgressInfo{}, err
		}
		if !ok {
			return ProgressInfo{ToDownload: []versionedkv.Version{m.ParentID}}, nil
		}
		height = parent.Height + 1
	}

	stored := storedBlock{Block: m, Height: height}
	data, err := jsonx.Marshal(stored)
	if err != nil {
		return ProgressInfo{}, fmt.Errorf("marshal header: %w", err)
	}
	headerVersion, err := versionedkv.RandomVersion()
	if err != nil {
		return ProgressInfo{}, fmt.Errorf("draw header version: %w", err)
	}
	if err := h.headers.Update(headerVersion, map[string][]byte{string(headerKey(m.ID)): data}, nil); err != nil {
		return ProgressInfo{}, fmt.Errorf("record header: %w", err)
	}

	bestID, hasBest := h.currentBest()
	if !hasBest {
		return ProgressInfo{ToApply: []*block.Block{m}}, nil
	}

	bestStored, ok, err := h.getStored(bestID)
	if err != nil {
		return ProgressInfo{}, err
	}
	if !ok {
		return ProgressInfo{}, fmt.Errorf("best block %s missing from header log", bestID)
	}

	if height <= bestStored.Height {
		// A known but not (yet) best block. It stays recorded; nothing
		// to apply until a future descendant overtakes the active chain.
		return ProgressInfo{}, nil
	}

	if m.ParentID == bestID {
		return ProgressInfo{ToApply: []*block.Block{m}}, nil
	}

	return h.buildReorgProgress(m, bestID)
}

// buildReorgProgress walks m's ancestry back to the first block also
// reachable from bestID, then reports what must be undone (toRemove,
// most-recent-first) and reapplied (toApply, oldest-first).
func (h *History) buildReorgProgress(m *block.Block, bestID versionedkv.Version) (ProgressInfo, error) {
	active := h.activeChainAncestors(bestID, maxChainBackSteps)

	var newChainRev []*block.Block
	cur := m
	for {
		newChainRev = append(newChainRev, cur)
		if _, onActive := active[cur.ParentID]; onActive || cur.ParentID.IsZero() {
			break
		}
		parent, ok, err := h.getStored(cur.ParentID)
		if err != nil {
			return ProgressInfo{}, err
		}
		if !ok {
			return ProgressInfo{}, fmt.Errorf("missing ancestor %s while computing reorg", cur.ParentID)
		}
		cur = parent.Block
	}
	branchPoint := cur.ParentID

	toApply := make([]*block.Block, len(newChainRev))
	for i, b := range newChainRev {
		toApply[len(newChainRev)-1-i] = b
	}

	var toRemove []versionedkv.Version
	walk := bestID
	for walk != branchPoint {
		toRemove = append(toRemove, walk)
		st, ok, err := h.getStored(walk)
		if err != nil {
			return ProgressInfo{}, err
		}
		if !ok || st.Block.ParentID.IsZero() && walk != branchPoint {
			break
		}
		walk = st.Block.ParentID
	}

	return ProgressInfo{
		BranchPoint:          branchPoint,
		ToRemove:             toRemove,
		ToApply:              toApply,
		ChainSwitchingNeeded: true,
	}, nil
}

func (h *History) activeChainAncestors(from versionedkv.Version, limit int) map[versionedkv.Version]struct{} {
	set := make(map[versionedkv.Version]struct{})
	cur := from
	for i := 0; i < limit; i++ {
		set[cur] = struct{}{}
		st, ok, err := h.getStored(cur)
		if err != nil || !ok || st.Block.ParentID.IsZero() {
			break
		}
		cur = st.Block.ParentID
	}
	return set
}

// ChainBack returns the path from, walking parents, down to and
// including the first ancestor also reachable from the current best
// block: element 0 is that common ancestor, the last element is from
// itself.
func (h *History) ChainBack(from versionedkv.Version, limit int) ([]versionedkv.Version, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bestID, ok := h.currentBest()
	if !ok {
		return nil, fmt.Errorf("no best block recorded")
	}
	active := h.activeChainAncestors(bestID, limit)

	var suffix []versionedkv.Version
	cur := from
	for i := 0; i < limit; i++ {
		st, ok, err := h.getStored(cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("unknown ancestor %s", cur)
		}
		suffix = append(suffix, cur)
		if _, onActive := active[cur]; onActive {
			for l, r := 0, len(suffix)-1; l < r; l, r = l+1, r-1 {
				suffix[l], suffix[r] = suffix[r], suffix[l]
			}
			return suffix, nil
		}
		if st.Block.ParentID.IsZero() {
			break
		}
		cur = st.Block.ParentID
	}
	return nil, fmt.Errorf("no common ancestor with active chain found within %d steps", limit)
}

// ReportModifierIsValid flips the best-chain pointer to m: the atomic
// crossing point future restarts key their recovery decision on.
func (h *History) ReportModifierIsValid(m *block.Block) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.best.Update(m.ID, map[string][]byte{bestKey: m.ID.Bytes()}, nil); err != nil {
		return fmt.Errorf("advance best block: %w", err)
	}
	logx.Info("HISTORY", fmt.Sprintf("best block advanced to %s", m.ID))
	return nil
}

// ReportModifierIsInvalid marks m rejected by state and returns the
// alternative progress history can offer on a sibling subtree. This
// implementation never has a sibling candidate ready and so always
// reports an empty alternative, matching P8's clean-stop case.
func (h *History) ReportModifierIsInvalid(m *block.Block, _ ProgressInfo) (ProgressInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok, err := h.getStored(m.ID)
	if err != nil {
		return ProgressInfo{}, err
	}
	if ok {
		st.Invalid = true
		data, err := jsonx.Marshal(st)
		if err != nil {
			return ProgressInfo{}, fmt.Errorf("marshal invalidated header: %w", err)
		}
		version, err := versionedkv.RandomVersion()
		if err != nil {
			return ProgressInfo{}, err
		}
		if err := h.headers.Update(version, map[string][]byte{string(headerKey(m.ID)): data}, nil); err != nil {
			return ProgressInfo{}, fmt.Errorf("record invalidated header: %w", err)
		}
	}
	logx.Warn("HISTORY", fmt.Sprintf("block %s reported invalid", m.ID))
	return ProgressInfo{}, nil
}

// Rollback restores the best-chain pointer to version.
func (h *History) Rollback(version versionedkv.Version) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.best.Rollback(version)
}

// ComputeEpochNonce derives epoch's nonce from the prior epoch's nonce
// (zero for epoch 1) and the id of epoch's last block.
func (h *History) ComputeEpochNonce(epoch int32, lastBlockInEpoch versionedkv.Version) ([32]byte, error) {
	h.mu.RLock()
	var prevNonce [32]byte
	if epoch > 1 {
		if raw, ok := h.consensus.Get(epochKey(epoch - 1)); ok {
			var prev EpochRecord
			if err := jsonx.Unmarshal(raw, &prev); err == nil {
				prevNonce = prev.Nonce
			}
		}
	}
	h.mu.RUnlock()

	hasher, _ := blake2b.New256(nil)
	hasher.Write(prevNonce[:])
	hasher.Write(lastBlockInEpoch.Bytes())
	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out, nil
}

// ApplyFullConsensusEpochInfo persists epoch's closing record.
func (h *History) ApplyFullConsensusEpochInfo(rec EpochRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, err := jsonx.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal epoch record: %w", err)
	}
	version, err := versionedkv.RandomVersion()
	if err != nil {
		return fmt.Errorf("draw epoch record version: %w", err)
	}
	return h.consensus.Update(version, map[string][]byte{string(epochKey(rec.Epoch)): data}, nil)
}

// Block returns the recorded body for id, if known.
func (h *History) Block(id versionedkv.Version) (*block.Block, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok, err := h.getStored(id)
	if err != nil || !ok {
		return nil, false
	}
	return st.Block, true
}

// GetEpochRecord returns the persisted record for epoch, if any.
func (h *History) GetEpochRecord(epoch int32) (EpochRecord, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	raw, ok := h.consensus.Get(epochKey(epoch))
	if !ok {
		return EpochRecord{}, false, nil
	}
	var rec EpochRecord
	if err := jsonx.Unmarshal(raw, &rec); err != nil {
		return EpochRecord{}, false, fmt.Errorf("decode epoch record: %w", err)
	}
	return rec, true, nil
}

func feePaymentsKey(epoch int32) []byte {
	return []byte(fmt.Sprintf("fp:%d", epoch))
}

// UpdateFeePaymentsInfo attaches the withdrawal epoch's fee-payment
// boxes to history, alongside the consensus-epoch record log. It is
// called once per withdrawal epoch, at the last block of that epoch,
// before those payments are handed to the wallet for its own CSW
// bookkeeping.
func (h *History) UpdateFeePaymentsInfo(epoch int32, payments []box.Box) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, err := jsonx.Marshal(payments)
	if err != nil {
		return fmt.Errorf("marshal fee payments: %w", err)
	}
	version, err := versionedkv.RandomVersion()
	if err != nil {
		return fmt.Errorf("draw fee payments version: %w", err)
	}
	return h.consensus.Update(version, map[string][]byte{string(feePaymentsKey(epoch)): data}, nil)
}

// GetFeePaymentsInfo returns the persisted fee-payment boxes for
// epoch, if any were recorded.
func (h *History) GetFeePaymentsInfo(epoch int32) ([]box.Box, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	raw, ok := h.consensus.Get(feePaymentsKey(epoch))
	if !ok {
		return nil, false, nil
	}
	var payments []box.Box
	if err := jsonx.Unmarshal(raw, &payments); err != nil {
		return nil, false, fmt.Errorf("decode fee payments: %w", err)
	}
	return payments, true, nil
}
