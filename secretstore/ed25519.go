package secretstore

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mezonai/sidechainnode/box"
)

// ed25519SecretTypeID identifies Ed25519Secret records in the store.
const ed25519SecretTypeID byte = 1

// Ed25519Secret is the concrete Secret implementation this node uses:
// an Ed25519 private key, whose public image is its raw public key
// bytes.
type Ed25519Secret struct {
	key ed25519.PrivateKey
}

func NewEd25519Secret(key ed25519.PrivateKey) *Ed25519Secret {
	return &Ed25519Secret{key: key}
}

func (s *Ed25519Secret) SecretTypeID() byte { return ed25519SecretTypeID }

func (s *Ed25519Secret) PublicImage() box.Proposition {
	pub := s.key.Public().(ed25519.PublicKey)
	return box.Proposition{Bytes: append([]byte{}, pub...)}
}

func (s *Ed25519Secret) Bytes() []byte {
	return append([]byte{}, s.key...)
}

func (s *Ed25519Secret) Owns(p box.Proposition) bool {
	return p.Equal(s.PublicImage())
}

func (s *Ed25519Secret) Sign(message []byte) (box.Proof, error) {
	return box.Proof{Bytes: ed25519.Sign(s.key, message)}, nil
}

// RawCodec (de)serializes secrets as their raw key bytes, dispatching on
// SecretTypeID. It is the only concrete Secret family this node ships
// with; a deployment adding new key types registers additional cases
// here.
type RawCodec struct{}

func (RawCodec) Encode(s box.Secret) ([]byte, error) {
	return s.Bytes(), nil
}

func (RawCodec) Decode(typeID byte, data []byte) (box.Secret, error) {
	switch typeID {
	case ed25519SecretTypeID:
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("ed25519 secret: wrong key size %d", len(data))
		}
		return NewEd25519Secret(ed25519.PrivateKey(data)), nil
	default:
		return nil, fmt.Errorf("unknown secret type id %d", typeID)
	}
}
