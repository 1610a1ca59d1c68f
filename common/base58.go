// Package common holds small encoding helpers shared across the
// sidechain node's packages.
package common

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// EncodeBytesToBase58 renders raw bytes (a box id, a proposition) as a
// short human-readable string for logs and CLI output.
func EncodeBytesToBase58(b []byte) string {
	return base58.Encode(b)
}

// DecodeBase58ToBytes is the inverse of EncodeBytesToBase58.
func DecodeBase58ToBytes(s string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode base58: %w", err)
	}
	return b, nil
}
