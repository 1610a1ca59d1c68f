package box

// Proof is the output of a Secret's sign operation, verifiable against
// the Secret's public image.
type Proof struct {
	Bytes []byte
}

// Secret is a private-key-analogue held by the wallet. Its public image
// is the Proposition used to key it in the secret store and to match it
// against boxes the wallet should track.
type Secret interface {
	SecretTypeID() byte
	PublicImage() Proposition
	Bytes() []byte
	Owns(p Proposition) bool
	Sign(message []byte) (Proof, error)
}

// CoinCSWData is CSW evidence for a coin box the wallet holds at the end
// of a withdrawal epoch.
type CoinCSWData struct {
	BoxID             ID
	Proposition       Proposition
	Value             uint64
	Nonce             uint64
	CustomFieldsHash  [32]byte
	UTXOMerklePath    [][32]byte
}

// ForwardTransferCSWData is CSW evidence for a wallet-owned Forward
// Transfer output observed in a main-chain block reference.
type ForwardTransferCSWData struct {
	BoxID                  ID
	Amount                 uint64
	Proposition            Proposition
	MCReturnAddress        []byte
	TxHash                 [32]byte
	TxIndex                uint32
	SCCommitmentMerklePath [][32]byte
	BTRCommitment          [32]byte
	CertCommitment         [32]byte
	SCCrCommitment         [32]byte
	FTMerklePath           [][32]byte
	// LeafIndex is the Forward Transfer's position among ALL forward
	// transfer outputs in the aggregated transaction, counting non-wallet
	// outputs too. See scanPersistent's leaf-index invariant.
	LeafIndex int
}

// WithdrawalEpochCSWData is everything scanPersistent produced for one
// withdrawal epoch, stored keyed by epoch number.
type WithdrawalEpochCSWData struct {
	Epoch            int32
	UTXOCSWData      []CoinCSWData
	ForwardTransfers []ForwardTransferCSWData
}
