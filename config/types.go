package config

// NodeConfig is this node's own addressing and signing-key material.
type NodeConfig struct {
	PubKey      string `yaml:"pubkey"`
	PrivKeyPath string `yaml:"privkey_path"`
	ListenAddr  string `yaml:"listen_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
}

// StoragePaths locates every versionedkv-backed store the coordinator
// opens on startup.
type StoragePaths struct {
	HistoryHeaders   string `yaml:"history_headers"`
	HistoryBest      string `yaml:"history_best"`
	HistoryConsensus string `yaml:"history_consensus"`
	StateBoxes       string `yaml:"state_boxes"`
	StateForgerBoxes string `yaml:"state_forger_boxes"`
	StateUTXOTree    string `yaml:"state_utxo_tree"`
	WalletBoxes      string `yaml:"wallet_boxes"`
	WalletTx         string `yaml:"wallet_tx"`
	WalletForgerInfo string `yaml:"wallet_forger_info"`
	WalletStakeInfo  string `yaml:"wallet_stake_info"`
	WalletCSW        string `yaml:"wallet_csw"`
	WalletSecrets    string `yaml:"wallet_secrets"`
}

// EpochConfig sizes the two epoch clocks the state package derives
// purely from applied-block height.
type EpochConfig struct {
	ConsensusEpochLength  int32 `yaml:"consensus_epoch_length"`
	WithdrawalEpochLength int32 `yaml:"withdrawal_epoch_length"`
}

// SidechainConfig is the full node-view coordinator configuration,
// loaded from a single genesis.yml.
type SidechainConfig struct {
	SelfNode NodeConfig   `yaml:"self_node"`
	PeerNode []NodeConfig `yaml:"peer_nodes"`
	Storage  StoragePaths `yaml:"storage"`
	Epochs   EpochConfig  `yaml:"epochs"`
	// RollbackHistoryLimit is read from the YAML and defaulted by
	// LoadSidechainConfig. No store reads it: every versionedkv store
	// keeps its full version history, without pruning.
	RollbackHistoryLimit int `yaml:"rollback_history_limit"`
}

// ConfigFile is the top-level YAML document shape for genesis.yml.
type ConfigFile struct {
	Config SidechainConfig `yaml:"config"`
}
