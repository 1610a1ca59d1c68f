// Package transaction defines the sidechain transaction envelope that
// opens and creates boxes; state and wallet both consume it by id.
package transaction

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mezonai/sidechainnode/common"
	"github.com/mezonai/sidechainnode/jsonx"
	"github.com/mezonai/sidechainnode/logx"
)

// Transaction is a signed request to close a set of boxes and open a new
// set, referenced by id from block.TransactionRef.
type Transaction struct {
	BoxIDsToOpen [][32]byte `json:"box_ids_to_open"`
	NewBoxes     []byte     `json:"new_boxes"`
	Sender       string     `json:"sender"`
	Nonce        uint64     `json:"nonce"`
	Signature    string     `json:"signature"`
}

// Bytes returns the canonical encoding hashed to derive the id and
// signed over.
func (tx *Transaction) Bytes() []byte {
	b, _ := jsonx.Marshal(struct {
		BoxIDsToOpen [][32]byte `json:"box_ids_to_open"`
		NewBoxes     []byte     `json:"new_boxes"`
		Sender       string     `json:"sender"`
		Nonce        uint64     `json:"nonce"`
	}{tx.BoxIDsToOpen, tx.NewBoxes, tx.Sender, tx.Nonce})
	return b
}

// ID is the transaction's content hash, used to key it in state and
// referenced by block.TransactionRef.ID.
func (tx *Transaction) ID() string {
	sum := sha256.Sum256(tx.Bytes())
	return hex.EncodeToString(sum[:])
}

// Verify checks tx.Signature against tx.Sender (a base58-encoded
// ed25519 public key) over tx.Bytes().
func (tx *Transaction) Verify() bool {
	if tx.Signature == "" {
		logx.Error("TRANSACTION", "missing signature")
		return false
	}
	sig, err := common.DecodeBase58ToBytes(tx.Signature)
	if err != nil {
		logx.Error("TRANSACTION", fmt.Sprintf("failed to decode signature: %v", err))
		return false
	}
	pub, err := common.DecodeBase58ToBytes(tx.Sender)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		logx.Error("TRANSACTION", "invalid sender public key")
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), tx.Bytes(), sig)
}
