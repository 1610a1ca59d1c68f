// Package cert implements the withdrawal-epoch certificate wire format:
// a fixed-order, little-endian, CompactSize-delimited byte layout parsed
// from and re-serialized verbatim to main-chain-observed certificate
// bytes.
package cert

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// FieldElementCertificateField is an opaque field-element-shaped custom
// certificate field.
type FieldElementCertificateField struct {
	Bytes []byte
}

// BitVectorCertificateField is an opaque bit-vector-shaped custom
// certificate field.
type BitVectorCertificateField struct {
	Bytes []byte
}

// TxOutput is a raw transaction input/output/backward-transfer entry;
// the certificate parser treats these as opaque length-prefixed blobs.
type TxOutput struct {
	Bytes []byte
}

// WithdrawalEpochCertificate is a main-chain-observed certificate. Raw
// holds the exact bytes it was parsed from, [offset, currentOffset), so
// re-serialization is byte-exact.
type WithdrawalEpochCertificate struct {
	Version                             int32
	SidechainID                         [32]byte
	EpochNumber                         int32
	Quality                             int64
	EndCumulativeScTxCommitmentTreeRoot []byte
	Proof                               []byte
	FieldElementFields                  []FieldElementCertificateField
	BitVectorFields                     []BitVectorCertificateField
	FTMinAmount                         int64
	BTRFee                              int64
	TxInputs                            []TxOutput
	TxOutputs                           []TxOutput
	BackwardTransferOutputs             []TxOutput

	Raw []byte
}

// Parse reads a WithdrawalEpochCertificate from buf starting at offset,
// returning the certificate and the offset just past its last byte.
func Parse(buf []byte, offset int) (*WithdrawalEpochCertificate, int, error) {
	start := offset
	c := &WithdrawalEpochCertificate{}
	var err error

	if offset+4 > len(buf) {
		return nil, offset, fmt.Errorf("input data corrupted: truncated version")
	}
	c.Version = int32(binary.LittleEndian.Uint32(buf[offset : offset+4]))
	offset += 4

	if offset+32 > len(buf) {
		return nil, offset, fmt.Errorf("input data corrupted: truncated sidechain id")
	}
	copy(c.SidechainID[:], buf[offset:offset+32])
	offset += 32

	if offset+4 > len(buf) {
		return nil, offset, fmt.Errorf("input data corrupted: truncated epoch number")
	}
	c.EpochNumber = int32(binary.LittleEndian.Uint32(buf[offset : offset+4]))
	offset += 4

	if offset+8 > len(buf) {
		return nil, offset, fmt.Errorf("input data corrupted: truncated quality")
	}
	c.Quality = int64(binary.LittleEndian.Uint64(buf[offset : offset+8]))
	offset += 8

	c.EndCumulativeScTxCommitmentTreeRoot, offset, err = readVarBytes(buf, offset)
	if err != nil {
		return nil, offset, err
	}
	if len(c.EndCumulativeScTxCommitmentTreeRoot) != FieldElementSize() {
		return nil, offset, fmt.Errorf("input data corrupted: endCumulativeScTxCommitmentTreeRoot length %d != field element length %d",
			len(c.EndCumulativeScTxCommitmentTreeRoot), FieldElementSize())
	}

	c.Proof, offset, err = readVarBytes(buf, offset)
	if err != nil {
		return nil, offset, err
	}

	var n uint64
	n, offset, err = ReadCompactSize(buf, offset)
	if err != nil {
		return nil, offset, err
	}
	c.FieldElementFields = make([]FieldElementCertificateField, n)
	for i := range c.FieldElementFields {
		c.FieldElementFields[i].Bytes, offset, err = readVarBytes(buf, offset)
		if err != nil {
			return nil, offset, err
		}
	}

	n, offset, err = ReadCompactSize(buf, offset)
	if err != nil {
		return nil, offset, err
	}
	c.BitVectorFields = make([]BitVectorCertificateField, n)
	for i := range c.BitVectorFields {
		c.BitVectorFields[i].Bytes, offset, err = readVarBytes(buf, offset)
		if err != nil {
			return nil, offset, err
		}
	}

	if offset+8 > len(buf) {
		return nil, offset, fmt.Errorf("input data corrupted: truncated ftMinAmount")
	}
	c.FTMinAmount = int64(binary.LittleEndian.Uint64(buf[offset : offset+8]))
	offset += 8

	if offset+8 > len(buf) {
		return nil, offset, fmt.Errorf("input data corrupted: truncated btrFee")
	}
	c.BTRFee = int64(binary.LittleEndian.Uint64(buf[offset : offset+8]))
	offset += 8

	c.TxInputs, offset, err = readTxOutputs(buf, offset)
	if err != nil {
		return nil, offset, err
	}
	c.TxOutputs, offset, err = readTxOutputs(buf, offset)
	if err != nil {
		return nil, offset, err
	}
	c.BackwardTransferOutputs, offset, err = readTxOutputs(buf, offset)
	if err != nil {
		return nil, offset, err
	}

	c.Raw = append([]byte(nil), buf[start:offset]...)
	return c, offset, nil
}

func readTxOutputs(buf []byte, offset int) ([]TxOutput, int, error) {
	n, offset, err := ReadCompactSize(buf, offset)
	if err != nil {
		return nil, offset, err
	}
	out := make([]TxOutput, n)
	for i := range out {
		out[i].Bytes, offset, err = readVarBytes(buf, offset)
		if err != nil {
			return nil, offset, err
		}
	}
	return out, offset, nil
}

// Serialize re-emits the certificate's raw bytes verbatim, so
// Parse(Serialize(c)) round-trips byte-exactly.
func (c *WithdrawalEpochCertificate) Serialize() []byte {
	return append([]byte(nil), c.Raw...)
}

// Hash is reverse(doubleSHA256(certificateBytes)).
func (c *WithdrawalEpochCertificate) Hash() [32]byte {
	first := sha256.Sum256(c.Raw)
	second := sha256.Sum256(first[:])
	var out [32]byte
	for i := range second {
		out[i] = second[len(second)-1-i]
	}
	return out
}

// EncodeForBuild is the constructive counterpart to Parse: given the
// same field values it produces the wire bytes a certificate builder
// (out of scope) would hand to Parse. It exists for tests that need to
// fabricate a WithdrawalEpochCertificate.Raw from scratch.
func EncodeForBuild(c *WithdrawalEpochCertificate) []byte {
	buf := make([]byte, 0, 128)
	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], uint32(c.Version))
	buf = append(buf, b4[:]...)
	buf = append(buf, c.SidechainID[:]...)
	binary.LittleEndian.PutUint32(b4[:], uint32(c.EpochNumber))
	buf = append(buf, b4[:]...)
	var b8 [8]byte
	binary.LittleEndian.PutUint64(b8[:], uint64(c.Quality))
	buf = append(buf, b8[:]...)
	buf = writeVarBytes(buf, c.EndCumulativeScTxCommitmentTreeRoot)
	buf = writeVarBytes(buf, c.Proof)

	buf = WriteCompactSize(buf, uint64(len(c.FieldElementFields)))
	for _, f := range c.FieldElementFields {
		buf = writeVarBytes(buf, f.Bytes)
	}
	buf = WriteCompactSize(buf, uint64(len(c.BitVectorFields)))
	for _, f := range c.BitVectorFields {
		buf = writeVarBytes(buf, f.Bytes)
	}

	binary.LittleEndian.PutUint64(b8[:], uint64(c.FTMinAmount))
	buf = append(buf, b8[:]...)
	binary.LittleEndian.PutUint64(b8[:], uint64(c.BTRFee))
	buf = append(buf, b8[:]...)

	buf = writeTxOutputs(buf, c.TxInputs)
	buf = writeTxOutputs(buf, c.TxOutputs)
	buf = writeTxOutputs(buf, c.BackwardTransferOutputs)
	return buf
}

func writeTxOutputs(buf []byte, outs []TxOutput) []byte {
	buf = WriteCompactSize(buf, uint64(len(outs)))
	for _, o := range outs {
		buf = writeVarBytes(buf, o.Bytes)
	}
	return buf
}
