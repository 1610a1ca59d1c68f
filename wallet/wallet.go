// Package wallet implements the sidechain wallet: the four
// block-versioned stores (boxes, transactions, forger boxes, CSW data),
// kept in sync as blocks apply and roll back, plus a forging-stake-info
// store written at consensus-epoch switches and the versionless secret
// store.
package wallet

import (
	"fmt"
	"sync"

	"github.com/mezonai/sidechainnode/block"
	"github.com/mezonai/sidechainnode/box"
	"github.com/mezonai/sidechainnode/db"
	"github.com/mezonai/sidechainnode/logx"
	"github.com/mezonai/sidechainnode/secretstore"
	"github.com/mezonai/sidechainnode/sidechainerrors"
	"github.com/mezonai/sidechainnode/versionedkv"
)

// Wallet owns six keyed stores (boxes, transactions, forger boxes, CSW
// data, forging-stake info, secrets) and mediates every block-driven
// update across them.
type Wallet struct {
	mu sync.RWMutex

	boxes       *walletBoxStore
	txs         *walletTxStore
	forgerBoxes *forgerBoxStore
	csw         *cswDataStore
	stakeInfo   *forgingStakeInfoStore
	secrets     *secretstore.Store

	appWallet ApplicationWallet

	watchOnly map[[32]byte]box.Proposition
}

// Stores bundles the providers backing each of the wallet's six keyed
// stores, so Open can wire them independently of storage backend.
type Stores struct {
	Boxes       db.IterableProvider
	Txs         db.IterableProvider
	ForgerBoxes db.IterableProvider
	CSWData     db.IterableProvider
	StakeInfo   db.IterableProvider
	Secrets     db.IterableProvider
}

// Open constructs a Wallet over the given providers.
func Open(stores Stores, codec secretstore.Codec, appWallet ApplicationWallet) (*Wallet, error) {
	boxesKV, err := versionedkv.Open(stores.Boxes)
	if err != nil {
		return nil, fmt.Errorf("open wallet box store: %w", err)
	}
	txsKV, err := versionedkv.Open(stores.Txs)
	if err != nil {
		return nil, fmt.Errorf("open wallet tx store: %w", err)
	}
	forgerKV, err := versionedkv.Open(stores.ForgerBoxes)
	if err != nil {
		return nil, fmt.Errorf("open forger box store: %w", err)
	}
	cswKV, err := versionedkv.Open(stores.CSWData)
	if err != nil {
		return nil, fmt.Errorf("open csw data store: %w", err)
	}
	stakeKV, err := versionedkv.Open(stores.StakeInfo)
	if err != nil {
		return nil, fmt.Errorf("open forging stake info store: %w", err)
	}
	secretsKV, err := versionedkv.Open(stores.Secrets)
	if err != nil {
		return nil, fmt.Errorf("open secret store: %w", err)
	}
	secrets, err := secretstore.Open(secretsKV, codec)
	if err != nil {
		return nil, fmt.Errorf("rebuild secret store index: %w", err)
	}

	if appWallet == nil {
		appWallet = &NoopApplicationWallet{}
	}

	return &Wallet{
		boxes:       openWalletBoxStore(boxesKV),
		txs:         openWalletTxStore(txsKV),
		forgerBoxes: openForgerBoxStore(forgerKV),
		csw:         openCSWDataStore(cswKV),
		stakeInfo:   openForgingStakeInfoStore(stakeKV),
		secrets:     secrets,
		appWallet:   appWallet,
		watchOnly:   make(map[[32]byte]box.Proposition),
	}, nil
}

// AddSecret registers a new secret with the wallet and notifies the
// application-wallet hook.
func (w *Wallet) AddSecret(secret box.Secret) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.secrets.Add(secret); err != nil {
		return err
	}
	if err := w.appWallet.OnAddSecret(secret); err != nil {
		return sidechainerrors.ApplicationHook("onAddSecret", err)
	}
	return nil
}

// RemoveSecret deletes a secret and notifies the application-wallet hook.
func (w *Wallet) RemoveSecret(proposition box.Proposition) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.secrets.Remove(proposition); err != nil {
		return err
	}
	if err := w.appWallet.OnRemoveSecret(proposition); err != nil {
		return sidechainerrors.ApplicationHook("onRemoveSecret", err)
	}
	return nil
}

// WatchProposition adds p to the wallet's known key set without a
// backing secret (e.g. a watch-only or externally custodied key).
func (w *Wallet) WatchProposition(p box.Proposition) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, err := p.Hash()
	if err != nil {
		return fmt.Errorf("hash proposition: %w", err)
	}
	w.watchOnly[h] = p
	return nil
}

func (w *Wallet) isKnownProposition(p box.Proposition) bool {
	h, err := p.Hash()
	if err != nil {
		return false
	}
	if _, ok := w.watchOnly[h]; ok {
		return true
	}
	if _, ok, err := w.secrets.Get(p); err == nil && ok {
		return true
	}
	return false
}

// Version returns the wallet's box-store version, the value the
// coordinator compares against state and history.
func (w *Wallet) Version() (versionedkv.Version, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.boxes.lastVersionID()
}

// scanPersistentResult holds the version a block was folded into the
// four wallet stores at. ScanPersistent does not return it; it returns
// only an error.
type scanPersistentResult struct {
	Version versionedkv.Version
}

// ScanPersistent applies one block's box deltas across the four
// versioned wallet stores, in order: wallet-box, wallet-tx, forger-box,
// CSW-data. feePayments and utxoView are non-empty/non-nil only on the
// last block of a withdrawal epoch.
func (w *Wallet) ScanPersistent(
	b *block.Block,
	withdrawalEpoch int32,
	changes BoxChanges,
	feePaymentBoxes []box.Box,
	utxoView UTXOMerkleTreeView,
) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	version := b.ID

	txByBoxID := make(map[[32]byte]string)
	for _, tx := range b.Transactions {
		for _, id := range tx.BoxIDsToOpen {
			txByBoxID[id] = tx.ID
		}
		for _, nb := range tx.NewBoxes {
			txByBoxID[nb.BoxID] = tx.ID
		}
	}

	newBoxes := append([]box.Box{}, changes.ToAppend...)
	newBoxes = append(newBoxes, feePaymentBoxes...)

	var walletBoxes []box.WalletBox
	var newDelegatedForgerBoxes []box.WalletBox
	for _, bx := range newBoxes {
		if !w.isKnownProposition(bx.Proposition) {
			continue
		}
		wb := box.WalletBox{Box: bx, BlockTimestamp: uint64(b.Timestamp.Unix())}
		if txID, ok := txByBoxID[bx.ID]; ok {
			wb.CreatingTxID = txID
			wb.HasCreatingTx = true
		}
		walletBoxes = append(walletBoxes, wb)

		if bx.IsForger() && w.isKnownProposition(*bx.BlockSignProposition) {
			newDelegatedForgerBoxes = append(newDelegatedForgerBoxes, wb)
		}
	}

	boxIDsToRemove := changes.ToRemove

	if err := w.appWallet.OnChangeBoxes(version, walletBoxes, boxIDsToRemove); err != nil {
		return sidechainerrors.ApplicationHook("onChangeBoxes", err)
	}

	relevantTxIDs := make(map[string]struct{})
	for _, wb := range walletBoxes {
		if wb.HasCreatingTx {
			relevantTxIDs[wb.CreatingTxID] = struct{}{}
		}
	}
	for _, id := range boxIDsToRemove {
		if txID, ok := txByBoxID[id]; ok {
			relevantTxIDs[txID] = struct{}{}
		}
	}
	relevantTxs := make(map[string][]byte)
	for _, tx := range b.Transactions {
		if _, ok := relevantTxIDs[tx.ID]; ok {
			relevantTxs[tx.ID] = []byte(tx.ID)
		}
	}

	if err := w.boxes.update(version, walletBoxes, boxIDsToRemove); err != nil {
		return fmt.Errorf("update wallet box store: %w", err)
	}
	if err := w.txs.update(version, relevantTxs); err != nil {
		return fmt.Errorf("update wallet tx store: %w", err)
	}
	if err := w.forgerBoxes.update(version, newDelegatedForgerBoxes, boxIDsToRemove); err != nil {
		return fmt.Errorf("update forger box store: %w", err)
	}

	cswData, err := w.buildCSWData(b, withdrawalEpoch, utxoView)
	if err != nil {
		return fmt.Errorf("build csw data: %w", err)
	}
	if err := w.csw.update(version, cswData); err != nil {
		return fmt.Errorf("update csw data store: %w", err)
	}

	logx.Info("WALLET", fmt.Sprintf("scanPersistent applied block %s: +%d boxes -%d boxes", version, len(walletBoxes), len(boxIDsToRemove)))
	return nil
}

func (w *Wallet) buildCSWData(b *block.Block, withdrawalEpoch int32, utxoView UTXOMerkleTreeView) (*box.WithdrawalEpochCSWData, error) {
	if utxoView == nil && len(b.MainchainBlockReferencesData) == 0 {
		return nil, nil
	}

	var utxoCSW []box.CoinCSWData
	if utxoView != nil {
		all, err := w.boxes.all()
		if err != nil {
			return nil, err
		}
		for _, wb := range all {
			if wb.Box.Discriminant != box.DiscriminantCoin {
				continue
			}
			path, ok := utxoView.PathTo(wb.Box.ID)
			if !ok {
				continue
			}
			var pathArr [][32]byte
			pathArr = append(pathArr, path...)
			utxoCSW = append(utxoCSW, box.CoinCSWData{
				BoxID:          wb.Box.ID,
				Proposition:    wb.Box.Proposition,
				Value:          wb.Box.Value,
				Nonce:          wb.Box.Nonce,
				UTXOMerklePath: pathArr,
			})
		}
	}

	var ftCSW []box.ForwardTransferCSWData
	for _, ref := range b.MainchainBlockReferencesData {
		if ref.SidechainRelatedAggregatedTx == nil {
			continue
		}
		leafIdx := 0
		for _, ft := range ref.SidechainRelatedAggregatedTx.ForwardTransfers {
			prop := box.Proposition{Bytes: ft.Proposition}
			if w.isKnownProposition(prop) {
				ftCSW = append(ftCSW, box.ForwardTransferCSWData{
					BoxID:                  ft.BoxID,
					Amount:                 ft.Amount,
					Proposition:            prop,
					MCReturnAddress:        ft.MCReturnAddress,
					TxHash:                 ft.TxHash,
					TxIndex:                ft.TxIndex,
					SCCommitmentMerklePath: ref.SCCommitmentMerklePath,
					BTRCommitment:          ref.BTRCommitment,
					CertCommitment:         ref.CertCommitment,
					SCCrCommitment:         ref.SCCrCommitment,
					LeafIndex:              leafIdx,
				})
			}
			leafIdx++
		}
	}

	if len(utxoCSW) == 0 && len(ftCSW) == 0 {
		return nil, nil
	}
	return &box.WithdrawalEpochCSWData{Epoch: withdrawalEpoch, UTXOCSWData: utxoCSW, ForwardTransfers: ftCSW}, nil
}

// Rollback discards every version strictly newer than to across
// cswData, forgerBoxes, walletTx, walletBox, in that order, then
// notifies the application-wallet hook. The secret store is untouched.
func (w *Wallet) Rollback(to versionedkv.Version) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.csw.rollback(to); err != nil {
		return sidechainerrors.Rollback("cswData", to)
	}
	if err := w.forgerBoxes.rollback(to); err != nil {
		return sidechainerrors.Rollback("forgerBoxes", to)
	}
	if err := w.txs.rollback(to); err != nil {
		return sidechainerrors.Rollback("walletTx", to)
	}
	if err := w.boxes.rollback(to); err != nil {
		return sidechainerrors.Rollback("walletBox", to)
	}
	if err := w.appWallet.OnRollback(to); err != nil {
		return sidechainerrors.ApplicationHook("onRollback", err)
	}
	return nil
}

// ApplyConsensusEpochInfo is called at a consensus-epoch boundary, after
// state has computed the epoch's forging-stake Merkle tree. Forger boxes
// currently known to the wallet without a matching leaf are silently
// omitted.
func (w *Wallet) ApplyConsensusEpochInfo(info ConsensusEpochInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	forgerBoxes, err := w.forgerBoxes.all()
	if err != nil {
		return fmt.Errorf("list forger boxes: %w", err)
	}

	var matched []box.ForgingStakeMerklePathInfo
	for _, wb := range forgerBoxes {
		if !wb.Box.IsForger() {
			continue
		}
		stakeInfo := wb.Box.ForgingStakeInfo()
		leaf := stakeInfo.Hash()
		path, ok := info.Tree.PathFor(leaf)
		if !ok {
			continue
		}
		var pathArr [][32]byte
		pathArr = append(pathArr, path...)
		matched = append(matched, box.ForgingStakeMerklePathInfo{StakeInfo: stakeInfo, MerklePath: pathArr})
	}

	// The stake-info write and the forger-box store's epoch-switch write
	// share one version, so the forger-box store's lastVersionId equals
	// this consensus-info-derived version. Recording it here, without
	// touching the other three wallet stores, is what makes it lead them
	// by exactly one version until the next scanPersistent catches it up.
	version, err := versionedkv.RandomVersion()
	if err != nil {
		return fmt.Errorf("draw consensus-info version: %w", err)
	}
	if err := w.stakeInfo.put(version, info.Epoch, matched); err != nil {
		return fmt.Errorf("persist forging stake info: %w", err)
	}
	if err := w.forgerBoxes.update(version, nil, nil); err != nil {
		return fmt.Errorf("advance forger box store version: %w", err)
	}

	return nil
}

// GetForgingStakeMerklePathInfoOpt looks up stored stake-path data for
// requestedEpoch-2, with epoch<=2 special-cased to epoch 1 since the
// genesis block is the sole block of epoch 1.
func (w *Wallet) GetForgingStakeMerklePathInfoOpt(requestedEpoch int32) ([]box.ForgingStakeMerklePathInfo, bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	lookup := requestedEpoch - 2
	if requestedEpoch <= 2 {
		lookup = 1
	}
	return w.stakeInfo.get(lookup)
}

// EnsureStorageConsistencyAfterRestore verifies that wallet-box,
// wallet-tx, CSW-data, and the application wallet all agree on a
// version, and that forger-box either agrees or leads by exactly one
// version (the genesis-plus-epoch-switch case).
func (w *Wallet) EnsureStorageConsistencyAfterRestore() (versionedkv.Version, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	v, ok := w.boxes.lastVersionID()
	if !ok {
		v = versionedkv.ZeroVersion
	}

	txV, _ := w.txs.lastVersionID()
	cswV, _ := w.csw.lastVersionID()
	if txV != v || cswV != v || !w.appWallet.CheckStoragesVersion(v) {
		return versionedkv.ZeroVersion, sidechainerrors.Consistency("wallet storages not consistent")
	}

	forgerV, hasForger := w.forgerBoxes.lastVersionID()
	if hasForger && forgerV == v {
		return v, nil
	}

	recent := w.forgerBoxes.rollbackVersions(2)
	if len(recent) == 2 && recent[1] == v {
		if w.forgerBoxes.numberOfVersions() == 2 {
			return v, nil
		}
		if err := w.forgerBoxes.rollback(v); err != nil {
			return versionedkv.ZeroVersion, sidechainerrors.Rollback("forgerBoxes", v)
		}
		return v, nil
	}

	return versionedkv.ZeroVersion, sidechainerrors.Consistency("forger box store at unreconcilable version")
}
