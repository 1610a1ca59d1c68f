// Command sidechainnode wires the node view coordinator's four
// persisted subsystems together, recovers a consistent version after
// an ungraceful shutdown, and hands the coordinator off to whatever
// transport layer (RPC, block source) a deployment plugs in — both are
// out of scope here and left to the caller.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mezonai/sidechainnode/config"
	"github.com/mezonai/sidechainnode/coordinator"
	"github.com/mezonai/sidechainnode/db"
	"github.com/mezonai/sidechainnode/events"
	"github.com/mezonai/sidechainnode/history"
	"github.com/mezonai/sidechainnode/logx"
	"github.com/mezonai/sidechainnode/mempool"
	"github.com/mezonai/sidechainnode/secretstore"
	"github.com/mezonai/sidechainnode/state"
	"github.com/mezonai/sidechainnode/wallet"
)

func main() {
	genesisPath := flag.String("genesis", "config/genesis.yml", "path to genesis.yml")
	dataDir := flag.String("datadir", "./data", "root directory for versionedkv stores")
	flag.Parse()

	if err := run(*genesisPath, *dataDir); err != nil {
		logx.Error("MAIN", fmt.Sprintf("startup failed: %v", err))
		os.Exit(1)
	}
}

func run(genesisPath, dataDir string) error {
	cfg, err := config.LoadSidechainConfig(genesisPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	open := func(name string) (db.IterableProvider, error) {
		p, err := db.NewLevelDBProvider(filepath.Join(dataDir, name))
		if err != nil {
			return nil, fmt.Errorf("open store %s: %w", name, err)
		}
		return p.(db.IterableProvider), nil
	}
	storePath := func(configured, fallback string) string {
		if configured != "" {
			return configured
		}
		return fallback
	}

	headers, err := open(storePath(cfg.Storage.HistoryHeaders, "history_headers"))
	if err != nil {
		return err
	}
	best, err := open(storePath(cfg.Storage.HistoryBest, "history_best"))
	if err != nil {
		return err
	}
	consensusStore, err := open(storePath(cfg.Storage.HistoryConsensus, "history_consensus"))
	if err != nil {
		return err
	}
	h, err := history.Open(history.Stores{Headers: headers, Best: best, Consensus: consensusStore})
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}

	stateBoxes, err := open(storePath(cfg.Storage.StateBoxes, "state_boxes"))
	if err != nil {
		return err
	}
	stateForgerBoxes, err := open(storePath(cfg.Storage.StateForgerBoxes, "state_forger_boxes"))
	if err != nil {
		return err
	}
	stateUTXOTree, err := open(storePath(cfg.Storage.StateUTXOTree, "state_utxo_tree"))
	if err != nil {
		return err
	}
	st, err := state.Open(state.Stores{
		Boxes:       stateBoxes,
		ForgerBoxes: stateForgerBoxes,
		UTXOTree:    stateUTXOTree,
	}, state.Config{
		ConsensusEpochLength:  cfg.Epochs.ConsensusEpochLength,
		WithdrawalEpochLength: cfg.Epochs.WithdrawalEpochLength,
	})
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}

	walletBoxes, err := open(storePath(cfg.Storage.WalletBoxes, "wallet_boxes"))
	if err != nil {
		return err
	}
	walletTx, err := open(storePath(cfg.Storage.WalletTx, "wallet_tx"))
	if err != nil {
		return err
	}
	walletForgerInfo, err := open(storePath(cfg.Storage.WalletForgerInfo, "wallet_forger_info"))
	if err != nil {
		return err
	}
	walletStakeInfo, err := open(storePath(cfg.Storage.WalletStakeInfo, "wallet_stake_info"))
	if err != nil {
		return err
	}
	walletCSW, err := open(storePath(cfg.Storage.WalletCSW, "wallet_csw"))
	if err != nil {
		return err
	}
	walletSecrets, err := open(storePath(cfg.Storage.WalletSecrets, "wallet_secrets"))
	if err != nil {
		return err
	}
	w, err := wallet.Open(wallet.Stores{
		Boxes:       walletBoxes,
		Txs:         walletTx,
		ForgerBoxes: walletForgerInfo,
		CSWData:     walletCSW,
		StakeInfo:   walletStakeInfo,
		Secrets:     walletSecrets,
	}, secretstore.RawCodec{}, &wallet.NoopApplicationWallet{})
	if err != nil {
		return fmt.Errorf("open wallet: %w", err)
	}

	pool := mempool.New()
	bus := events.NewEventBus()
	coord := coordinator.New(h, st, w, pool, bus)

	if err := coord.CheckAndRecoverStorages(); err != nil {
		return fmt.Errorf("recover storages: %w", err)
	}

	logx.Info("MAIN", fmt.Sprintf("sidechain node ready | self=%s | consensus_epoch=%d | withdrawal_epoch=%d",
		cfg.SelfNode.PubKey, cfg.Epochs.ConsensusEpochLength, cfg.Epochs.WithdrawalEpochLength))
	return nil
}
