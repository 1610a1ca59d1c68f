package cert

import "github.com/consensys/gnark-crypto/ecc"

// FieldElementSize is the byte length every WithdrawalEpochCertificate's
// endCumulativeScTxCommitmentTreeRoot must have. It is derived from the
// scalar field of the curve the sidechain's SNARK circuits use, so it
// tracks that library's constant rather than a hardcoded literal.
func FieldElementSize() int {
	return (ecc.BN254.ScalarField().BitLen() + 7) / 8
}
