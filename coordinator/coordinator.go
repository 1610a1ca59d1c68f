// Package coordinator is the node view coordinator: it serializes
// block application across history, state, wallet and the memory
// pool, rolls back on forks, and recovers a consistent version after
// an ungraceful shutdown.
package coordinator

import (
	"fmt"
	"sync"

	"github.com/mezonai/sidechainnode/block"
	"github.com/mezonai/sidechainnode/events"
	"github.com/mezonai/sidechainnode/history"
	"github.com/mezonai/sidechainnode/logx"
	"github.com/mezonai/sidechainnode/mempool"
	"github.com/mezonai/sidechainnode/sidechainerrors"
	"github.com/mezonai/sidechainnode/state"
	"github.com/mezonai/sidechainnode/versionedkv"
	"github.com/mezonai/sidechainnode/wallet"
)

// Coordinator processes one block at a time against the
// (history, state, wallet, memoryPool) quadruple. There is no queue
// actor here; an internal mutex serializes calls, so exactly one
// PmodModify or CheckAndRecoverStorages call runs at once.
type Coordinator struct {
	mu sync.Mutex

	history *history.History
	state   *state.State
	wallet  *wallet.Wallet
	pool    *mempool.MemoryPool
	bus     *events.EventBus
}

func New(h *history.History, s *state.State, w *wallet.Wallet, pool *mempool.MemoryPool, bus *events.EventBus) *Coordinator {
	return &Coordinator{history: h, state: s, wallet: w, pool: pool, bus: bus}
}

// applyResult is what applyStateAndWallet reports back to PmodModify.
type applyResult struct {
	applied              []*block.Block
	failedMod            *block.Block
	alternativeProgress  history.ProgressInfo
}

// PmodModify is pmodModify: the coordinator's single entry point for a
// newly-seen block.
func (c *Coordinator) PmodModify(m *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.history.Contains(m.ID) {
		return nil
	}

	progress, err := c.history.Append(m)
	if err != nil {
		c.bus.Publish(events.NewSyntacticallyFailedModifier(m.ID, err.Error()))
		return fmt.Errorf("history append: %w", err)
	}

	if len(progress.ToApply) == 0 {
		if len(progress.ToDownload) > 0 {
			c.bus.Publish(events.NewNewMainchainBlocksRequested(progress.ToDownload))
		}
		return nil
	}

	return c.updateStateAndWallet(progress)
}

// updateStateAndWallet is updateStateAndWallet: it rolls back to the
// branch point if the new progress diverges from the currently applied
// state, then drives applyStateAndWallet, recursing on the
// history-provided alternative path when a block in the batch fails.
func (c *Coordinator) updateStateAndWallet(progress history.ProgressInfo) error {
	if progress.ChainSwitchingNeeded {
		if v, ok := c.state.Version(); !ok || v != progress.BranchPoint {
			if err := c.rollbackTo(progress.BranchPoint); err != nil {
				return err
			}
		}
	}

	result, err := c.applyStateAndWallet(progress.ToApply)
	if err != nil {
		return err
	}

	if result.failedMod != nil {
		if result.alternativeProgress.IsEmpty() {
			c.finish(progress, result.applied)
			return nil
		}
		return c.updateStateAndWallet(result.alternativeProgress)
	}

	c.finish(progress, result.applied)
	return nil
}

// rollbackTo rolls back both wallet and state to version, publishing
// RollbackFailed and treating the failure as unrecoverable for this
// invocation if either rollback fails.
func (c *Coordinator) rollbackTo(version versionedkv.Version) error {
	if err := c.wallet.Rollback(version); err != nil {
		c.bus.Publish(events.NewRollbackFailed(version, err))
		return sidechainerrors.Wrap(sidechainerrors.KindRollback, "wallet rollback failed", err)
	}
	if err := c.state.Rollback(version); err != nil {
		c.bus.Publish(events.NewRollbackFailed(version, err))
		return sidechainerrors.Wrap(sidechainerrors.KindRollback, "state rollback failed", err)
	}
	return nil
}

// applyStateAndWallet is applyStateAndWallet: apply each block in
// toApply in order, stopping at the first that state rejects.
func (c *Coordinator) applyStateAndWallet(toApply []*block.Block) (applyResult, error) {
	var applied []*block.Block

	for _, m := range toApply {
		if c.state.IsSwitchingConsensusEpoch(m) {
			if err := c.applyEpochSwitch(); err != nil {
				return applyResult{}, err
			}
		}

		changes, err := c.state.ApplyModifier(m)
		if err != nil {
			alt, rerr := c.history.ReportModifierIsInvalid(m, history.ProgressInfo{})
			if rerr != nil {
				return applyResult{}, fmt.Errorf("report modifier invalid: %w", rerr)
			}
			c.bus.Publish(events.NewSemanticallyFailedModifier(m.ID, err.Error()))
			return applyResult{applied: applied, failedMod: m, alternativeProgress: alt}, nil
		}

		if err := c.scanWallet(m, changes); err != nil {
			return applyResult{}, err
		}

		if err := c.history.ReportModifierIsValid(m); err != nil {
			return applyResult{}, fmt.Errorf("report modifier valid: %w", err)
		}
		c.bus.Publish(events.NewSemanticallySuccessfulModifier(m.ID))
		applied = append(applied, m)
	}

	return applyResult{applied: applied}, nil
}

// applyEpochSwitch is step 2 of applyStateAndWallet: extract the
// closing epoch's info from the current state, compute and persist its
// nonce in history, then let the wallet catch up its forger-box store.
func (c *Coordinator) applyEpochSwitch() error {
	lastBlockInEpoch, epochInfo, err := c.state.GetCurrentConsensusEpochInfo()
	if err != nil {
		return fmt.Errorf("get current consensus epoch info: %w", err)
	}
	nonce, err := c.history.ComputeEpochNonce(epochInfo.Epoch, lastBlockInEpoch)
	if err != nil {
		return fmt.Errorf("compute epoch nonce: %w", err)
	}
	if err := c.history.ApplyFullConsensusEpochInfo(history.EpochRecord{
		Epoch:            epochInfo.Epoch,
		LastBlockInEpoch: lastBlockInEpoch,
		Nonce:            nonce,
	}); err != nil {
		return fmt.Errorf("apply full consensus epoch info: %w", err)
	}
	if err := c.wallet.ApplyConsensusEpochInfo(epochInfo); err != nil {
		return fmt.Errorf("wallet apply consensus epoch info: %w", err)
	}
	return nil
}

// scanWallet is step 4 of applyStateAndWallet: fold state's box
// changes into the wallet, attaching fee payments and a UTXO Merkle
// view only when m closes a withdrawal epoch.
func (c *Coordinator) scanWallet(m *block.Block, changes wallet.BoxChanges) error {
	epoch, _ := c.state.GetWithdrawalEpochInfo()
	if !c.state.IsWithdrawalEpochLastIndex() {
		return c.wallet.ScanPersistent(m, epoch, changes, nil, nil)
	}

	feePayments, err := c.state.GetFeePayments(epoch)
	if err != nil {
		return fmt.Errorf("get fee payments: %w", err)
	}
	if err := c.history.UpdateFeePaymentsInfo(epoch, feePayments); err != nil {
		return fmt.Errorf("attach fee payments to history: %w", err)
	}
	utxoView, err := c.state.BuildUTXOMerkleTreeView(epoch)
	if err != nil {
		return fmt.Errorf("build utxo merkle view: %w", err)
	}
	return c.wallet.ScanPersistent(m, epoch, changes, feePayments, utxoView)
}

// finish is step 5 of pmodModify: reconcile the memory pool against
// what was removed (rolled back) and added (newly applied), then log
// completion for each applied block. No completion event is published
// on the bus.
func (c *Coordinator) finish(progress history.ProgressInfo, applied []*block.Block) {
	var removed []*block.Block
	for _, id := range progress.ToRemove {
		if b, ok := c.history.Block(id); ok {
			removed = append(removed, b)
		}
	}
	newState, _ := c.state.Version()
	c.pool.Update(removed, applied, newState)

	for _, m := range applied {
		logx.Info("COORDINATOR", fmt.Sprintf("persistent modifier applied | block_id=%s", m.ID))
	}
}

// CheckAndRecoverStorages is checkAndRecoverStorages (§4.4.2): run once
// at startup, after all stores are opened, before serving any
// PmodModify calls.
func (c *Coordinator) CheckAndRecoverStorages() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	historyVersion, hasHistory := c.history.BestBlockID()

	checkedStateVersion, err := c.state.EnsureStorageConsistencyAfterRestore()
	if err != nil {
		return fmt.Errorf("state storage consistency: %w", err)
	}

	if hasHistory && historyVersion == checkedStateVersion {
		checkedWalletVersion, err := c.wallet.EnsureStorageConsistencyAfterRestore()
		if err != nil {
			return fmt.Errorf("wallet storage consistency: %w", err)
		}
		if checkedWalletVersion != historyVersion {
			return sidechainerrors.Consistency("state and history agree but wallet disagrees")
		}
		return nil
	}

	if !hasHistory && checkedStateVersion == versionedkv.ZeroVersion {
		// Fresh data directory: no block has ever been applied, so
		// there is nothing to recover. The first PmodModify call will
		// treat its argument as the genesis block.
		return nil
	}

	suffix, err := c.history.ChainBack(checkedStateVersion, 1<<20)
	if err != nil || len(suffix) == 0 {
		return sidechainerrors.Wrap(sidechainerrors.KindConsistency, "no common ancestor between state and the active chain", err)
	}
	rollbackTo := suffix[0]

	if err := c.state.Rollback(rollbackTo); err != nil {
		return sidechainerrors.Wrap(sidechainerrors.KindConsistency, "state rollback during recovery failed", err)
	}
	if err := c.wallet.Rollback(rollbackTo); err != nil {
		return sidechainerrors.Wrap(sidechainerrors.KindConsistency, "wallet rollback during recovery failed", err)
	}
	return nil
}
