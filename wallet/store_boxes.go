package wallet

import (
	"fmt"

	"github.com/mezonai/sidechainnode/box"
	"github.com/mezonai/sidechainnode/jsonx"
	"github.com/mezonai/sidechainnode/versionedkv"
)

// walletBoxStore is the versioned KV store of box.WalletBox indexed by
// box id.
type walletBoxStore struct {
	kv *versionedkv.Store
}

func openWalletBoxStore(kv *versionedkv.Store) *walletBoxStore {
	return &walletBoxStore{kv: kv}
}

func (s *walletBoxStore) update(version versionedkv.Version, add []box.WalletBox, remove [][32]byte) error {
	puts := make(map[string][]byte, len(add))
	for _, wb := range add {
		data, err := jsonx.Marshal(wb)
		if err != nil {
			return fmt.Errorf("marshal wallet box: %w", err)
		}
		puts[string(wb.Box.ID[:])] = data
	}
	deletes := make([][]byte, len(remove))
	for i, id := range remove {
		id := id
		deletes[i] = id[:]
	}
	return s.kv.Update(version, puts, deletes)
}

func (s *walletBoxStore) get(id [32]byte) (box.WalletBox, bool, error) {
	raw, ok := s.kv.Get(id[:])
	if !ok {
		return box.WalletBox{}, false, nil
	}
	var wb box.WalletBox
	if err := jsonx.Unmarshal(raw, &wb); err != nil {
		return box.WalletBox{}, false, fmt.Errorf("unmarshal wallet box: %w", err)
	}
	return wb, true, nil
}

func (s *walletBoxStore) all() ([]box.WalletBox, error) {
	all := s.kv.GetAll()
	out := make([]box.WalletBox, 0, len(all))
	for _, raw := range all {
		var wb box.WalletBox
		if err := jsonx.Unmarshal(raw, &wb); err != nil {
			return nil, fmt.Errorf("unmarshal wallet box: %w", err)
		}
		out = append(out, wb)
	}
	return out, nil
}

func (s *walletBoxStore) rollback(v versionedkv.Version) error { return s.kv.Rollback(v) }
func (s *walletBoxStore) lastVersionID() (versionedkv.Version, bool) {
	return s.kv.LastVersionID()
}
func (s *walletBoxStore) rollbackVersions(limit int) []versionedkv.Version {
	return s.kv.RollbackVersions(limit)
}
func (s *walletBoxStore) numberOfVersions() int { return s.kv.NumberOfVersions() }

// walletTxStore is the versioned KV store of transactions relevant to
// the wallet, indexed by transaction id.
type walletTxStore struct {
	kv *versionedkv.Store
}

func openWalletTxStore(kv *versionedkv.Store) *walletTxStore {
	return &walletTxStore{kv: kv}
}

func (s *walletTxStore) update(version versionedkv.Version, add map[string][]byte) error {
	return s.kv.Update(version, add, nil)
}

func (s *walletTxStore) get(id string) ([]byte, bool) {
	return s.kv.Get([]byte(id))
}

func (s *walletTxStore) rollback(v versionedkv.Version) error { return s.kv.Rollback(v) }
func (s *walletTxStore) lastVersionID() (versionedkv.Version, bool) {
	return s.kv.LastVersionID()
}

// forgerBoxStore is the versioned KV store of forger boxes delegated to
// the wallet, indexed by box id. Its version may lead the other three
// wallet stores by one, across a consensus-epoch boundary.
type forgerBoxStore struct {
	kv *versionedkv.Store
}

func openForgerBoxStore(kv *versionedkv.Store) *forgerBoxStore {
	return &forgerBoxStore{kv: kv}
}

func (s *forgerBoxStore) update(version versionedkv.Version, add []box.WalletBox, remove [][32]byte) error {
	puts := make(map[string][]byte, len(add))
	for _, wb := range add {
		data, err := jsonx.Marshal(wb)
		if err != nil {
			return fmt.Errorf("marshal forger box: %w", err)
		}
		puts[string(wb.Box.ID[:])] = data
	}
	deletes := make([][]byte, len(remove))
	for i, id := range remove {
		id := id
		deletes[i] = id[:]
	}
	return s.kv.Update(version, puts, deletes)
}

func (s *forgerBoxStore) all() ([]box.WalletBox, error) {
	all := s.kv.GetAll()
	out := make([]box.WalletBox, 0, len(all))
	for _, raw := range all {
		var wb box.WalletBox
		if err := jsonx.Unmarshal(raw, &wb); err != nil {
			return nil, fmt.Errorf("unmarshal forger box: %w", err)
		}
		out = append(out, wb)
	}
	return out, nil
}

func (s *forgerBoxStore) rollback(v versionedkv.Version) error { return s.kv.Rollback(v) }
func (s *forgerBoxStore) lastVersionID() (versionedkv.Version, bool) {
	return s.kv.LastVersionID()
}
func (s *forgerBoxStore) rollbackVersions(limit int) []versionedkv.Version {
	return s.kv.RollbackVersions(limit)
}
func (s *forgerBoxStore) numberOfVersions() int { return s.kv.NumberOfVersions() }

// cswDataStore is the versioned KV store of CSW evidence, indexed by
// withdrawal-epoch number.
type cswDataStore struct {
	kv *versionedkv.Store
}

func openCSWDataStore(kv *versionedkv.Store) *cswDataStore {
	return &cswDataStore{kv: kv}
}

func epochKey(epoch int32) []byte {
	return []byte(fmt.Sprintf("epoch:%d", epoch))
}

// update advances the CSW store to version. When data is non-nil it also
// appends its CSW evidence to what is already stored for that withdrawal
// epoch; blocks that produce no
// CSW evidence still call this with data == nil, purely to keep the CSW
// store's version in lockstep with the other three wallet stores.
func (s *cswDataStore) update(version versionedkv.Version, data *box.WithdrawalEpochCSWData) error {
	if data == nil {
		return s.kv.Update(version, nil, nil)
	}
	merged := *data
	existing, ok, err := s.get(data.Epoch)
	if err != nil {
		return err
	}
	if ok {
		merged.UTXOCSWData = append(existing.UTXOCSWData, data.UTXOCSWData...)
		merged.ForwardTransfers = append(existing.ForwardTransfers, data.ForwardTransfers...)
	}
	encoded, err := jsonx.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal csw data: %w", err)
	}
	return s.kv.Update(version, map[string][]byte{string(epochKey(data.Epoch)): encoded}, nil)
}

func (s *cswDataStore) get(epoch int32) (box.WithdrawalEpochCSWData, bool, error) {
	raw, ok := s.kv.Get(epochKey(epoch))
	if !ok {
		return box.WithdrawalEpochCSWData{}, false, nil
	}
	var data box.WithdrawalEpochCSWData
	if err := jsonx.Unmarshal(raw, &data); err != nil {
		return box.WithdrawalEpochCSWData{}, false, fmt.Errorf("unmarshal csw data: %w", err)
	}
	return data, true, nil
}

func (s *cswDataStore) rollback(v versionedkv.Version) error { return s.kv.Rollback(v) }
func (s *cswDataStore) lastVersionID() (versionedkv.Version, bool) {
	return s.kv.LastVersionID()
}

// forgingStakeInfoStore is the versioned KV store of
// ForgingStakeMerklePathInfo lists, indexed by consensus-epoch number.
// It is written only by applyConsensusEpochInfo and is not part of the
// four-store version-agreement invariant.
type forgingStakeInfoStore struct {
	kv *versionedkv.Store
}

func openForgingStakeInfoStore(kv *versionedkv.Store) *forgingStakeInfoStore {
	return &forgingStakeInfoStore{kv: kv}
}

func (s *forgingStakeInfoStore) put(version versionedkv.Version, epoch int32, infos []box.ForgingStakeMerklePathInfo) error {
	data, err := jsonx.Marshal(infos)
	if err != nil {
		return fmt.Errorf("marshal forging stake info: %w", err)
	}
	return s.kv.Update(version, map[string][]byte{string(epochKey(epoch)): data}, nil)
}

func (s *forgingStakeInfoStore) get(epoch int32) ([]box.ForgingStakeMerklePathInfo, bool, error) {
	raw, ok := s.kv.Get(epochKey(epoch))
	if !ok {
		return nil, false, nil
	}
	var infos []box.ForgingStakeMerklePathInfo
	if err := jsonx.Unmarshal(raw, &infos); err != nil {
		return nil, false, fmt.Errorf("unmarshal forging stake info: %w", err)
	}
	return infos, true, nil
}
