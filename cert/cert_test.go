package cert

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleCert() *WithdrawalEpochCertificate {
	return &WithdrawalEpochCertificate{
		Version:                             1,
		SidechainID:                         [32]byte{1, 2, 3},
		EpochNumber:                         7,
		Quality:                             100,
		EndCumulativeScTxCommitmentTreeRoot: make([]byte, FieldElementSize()),
		Proof:                               []byte{0xAA, 0xBB, 0xCC},
		FieldElementFields: []FieldElementCertificateField{
			{Bytes: []byte{1, 2}},
			{Bytes: []byte{3, 4, 5}},
		},
		BitVectorFields: []BitVectorCertificateField{
			{Bytes: []byte{0xff, 0x00}},
		},
		FTMinAmount: 1000,
		BTRFee:      5,
		TxInputs:    []TxOutput{{Bytes: []byte{9, 9}}},
		TxOutputs:   []TxOutput{},
		BackwardTransferOutputs: []TxOutput{
			{Bytes: []byte{1}},
			{Bytes: []byte{2, 2}},
		},
	}
}

func TestParseSerializeRoundTrip(t *testing.T) {
	c := sampleCert()
	wire := EncodeForBuild(c)

	parsed, next, err := Parse(wire, 0)
	require.NoError(t, err)
	require.Equal(t, len(wire), next)

	require.Equal(t, c.Version, parsed.Version)
	require.Equal(t, c.SidechainID, parsed.SidechainID)
	require.Equal(t, c.EpochNumber, parsed.EpochNumber)
	require.Equal(t, c.Quality, parsed.Quality)
	require.Equal(t, c.EndCumulativeScTxCommitmentTreeRoot, parsed.EndCumulativeScTxCommitmentTreeRoot)
	require.Equal(t, c.Proof, parsed.Proof)
	require.Equal(t, c.FTMinAmount, parsed.FTMinAmount)
	require.Equal(t, c.BTRFee, parsed.BTRFee)

	require.Equal(t, wire, parsed.Serialize())
}

func TestParseWithLeadingOffset(t *testing.T) {
	c := sampleCert()
	wire := EncodeForBuild(c)
	padded := append([]byte{0xde, 0xad, 0xbe, 0xef}, wire...)

	parsed, next, err := Parse(padded, 4)
	require.NoError(t, err)
	require.Equal(t, len(padded), next)
	require.Equal(t, wire, parsed.Raw)
}

func TestFieldElementLengthMismatchRejected(t *testing.T) {
	c := sampleCert()
	c.EndCumulativeScTxCommitmentTreeRoot = make([]byte, FieldElementSize()-1)
	wire := EncodeForBuild(c)

	_, _, err := Parse(wire, 0)
	require.Error(t, err)
}

func TestTruncatedBufferRejected(t *testing.T) {
	c := sampleCert()
	wire := EncodeForBuild(c)

	_, _, err := Parse(wire[:len(wire)-3], 0)
	require.Error(t, err)
}

func TestHashIsReversedDoubleSHA256(t *testing.T) {
	c := sampleCert()
	c.Raw = EncodeForBuild(c)
	first := sha256.Sum256(c.Raw)
	second := sha256.Sum256(first[:])
	var want [32]byte
	for i := range second {
		want[i] = second[len(second)-1-i]
	}
	require.Equal(t, want, c.Hash())
}
