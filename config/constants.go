package config

// Defaults applied when a genesis.yml omits a value.
const (
	DefaultConsensusEpochLength  int32 = 100
	DefaultWithdrawalEpochLength int32 = 1000
	DefaultRollbackHistoryLimit  int   = 100
)
