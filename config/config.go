package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/mezonai/sidechainnode/logx"
)

// LoadSidechainConfig reads and parses a node's genesis.yml.
func LoadSidechainConfig(path string) (*SidechainConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	var cfgFile ConfigFile
	if err := yaml.NewDecoder(file).Decode(&cfgFile); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	cfg := &cfgFile.Config
	if cfg.Epochs.ConsensusEpochLength == 0 {
		cfg.Epochs.ConsensusEpochLength = DefaultConsensusEpochLength
	}
	if cfg.Epochs.WithdrawalEpochLength == 0 {
		cfg.Epochs.WithdrawalEpochLength = DefaultWithdrawalEpochLength
	}
	if cfg.RollbackHistoryLimit == 0 {
		cfg.RollbackHistoryLimit = DefaultRollbackHistoryLimit
	}

	logx.Info("CONFIG", fmt.Sprintf("loaded sidechain config | self=%s | peers=%d | consensus_epoch=%d | withdrawal_epoch=%d",
		cfg.SelfNode.PubKey, len(cfg.PeerNode), cfg.Epochs.ConsensusEpochLength, cfg.Epochs.WithdrawalEpochLength))
	return cfg, nil
}

// LoadEd25519PrivKey loads an Ed25519 private key from a file (expects
// hex encoding).
func LoadEd25519PrivKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	key, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("decode hex key: %w", err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wrong key size: got %d, want %d", len(key), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(key), nil
}

// MempoolConfig is an .ini file's [mempool] section. MaxTxs is parsed
// only: mempool.MemoryPool does not read it and enforces no cap.
type MempoolConfig struct {
	MaxTxs int `ini:"max_txs"`
}

// LoadMempoolConfig reads mempool config from an .ini file.
func LoadMempoolConfig(path string) (*MempoolConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	mempoolCfg := &MempoolConfig{}
	if err := cfg.Section("mempool").MapTo(mempoolCfg); err != nil {
		return nil, fmt.Errorf("parse [mempool] section: %w", err)
	}
	return mempoolCfg, nil
}
