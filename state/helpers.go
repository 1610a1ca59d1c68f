package state

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// feePaymentBoxID derives a deterministic box id for a fee-payment box,
// so re-deriving the same epoch's payments twice (e.g. after a restart)
// produces the same ids.
func feePaymentBoxID(epoch int32, proposition []byte, nonce uint64) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("feepayment"))
	var epochBuf [4]byte
	binary.BigEndian.PutUint32(epochBuf[:], uint32(epoch))
	h.Write(epochBuf[:])
	h.Write(proposition)
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	h.Write(nonceBuf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
