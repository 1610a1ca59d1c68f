// Package secretstore implements the insertion-ordered, versionless
// secret store described in the wallet subsystem: a Blake2b256(proposition
// bytes)-keyed map of secrets, layered over versionedkv but never rolled
// back through.
package secretstore

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/mezonai/sidechainnode/box"
	"github.com/mezonai/sidechainnode/sidechainerrors"
	"github.com/mezonai/sidechainnode/versionedkv"
)

// Codec encodes/decodes a Secret to/from its stored byte representation.
// Concrete Secret implementations register themselves under their
// SecretTypeID so the store can reconstruct them on restart.
type Codec interface {
	Encode(s box.Secret) ([]byte, error)
	Decode(typeID byte, data []byte) (box.Secret, error)
}

type record struct {
	typeID byte
	data   []byte
	seq    uint64
}

const (
	secretPrefix = "s:"
	orderPrefix  = "o:"
)

// Store is the secret store: a versioned KV store used purely as a
// durable log (its own versions are never rolled back to), plus an
// in-memory index preserving insertion order.
type Store struct {
	mu      sync.RWMutex
	kv      *versionedkv.Store
	codec   Codec
	order   [][32]byte
	byHash  map[[32]byte]record
	nextSeq uint64
}

func secretKey(h [32]byte) []byte { return append([]byte(secretPrefix), h[:]...) }

func orderKey(seq uint64) []byte {
	buf := make([]byte, len(orderPrefix)+8)
	copy(buf, orderPrefix)
	binary.BigEndian.PutUint64(buf[len(orderPrefix):], seq)
	return buf
}

// Open loads a secret store over kv, rebuilding its insertion-ordered
// index from a dedicated sequence log kept alongside the secret data
// itself, so restart recovers the exact original Add order.
func Open(kv *versionedkv.Store, codec Codec) (*Store, error) {
	s := &Store{kv: kv, codec: codec, byHash: make(map[[32]byte]record)}

	all := kv.GetAll()

	type seqEntry struct {
		seq  uint64
		hash [32]byte
	}
	var entries []seqEntry
	for k, v := range all {
		if len(k) < len(orderPrefix) || k[:len(orderPrefix)] != orderPrefix {
			continue
		}
		seq := binary.BigEndian.Uint64([]byte(k[len(orderPrefix):]))
		if len(v) != 32 {
			return nil, fmt.Errorf("secret store: malformed order record for seq %d", seq)
		}
		var h [32]byte
		copy(h[:], v)
		entries = append(entries, seqEntry{seq: seq, hash: h})
		if seq+1 > s.nextSeq {
			s.nextSeq = seq + 1
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	for k, v := range all {
		if len(k) < len(secretPrefix) || k[:len(secretPrefix)] != secretPrefix {
			continue
		}
		if len(v) < 1 {
			return nil, fmt.Errorf("secret store: malformed record for key %x", k)
		}
		var h [32]byte
		copy(h[:], []byte(k[len(secretPrefix):]))
		s.byHash[h] = record{typeID: v[0], data: v[1:]}
	}

	for _, e := range entries {
		if rec, ok := s.byHash[e.hash]; ok {
			rec.seq = e.seq
			s.byHash[e.hash] = rec
			s.order = append(s.order, e.hash)
		}
	}

	return s, nil
}

// Add stores secret under Blake2b256(secret.PublicImage().Bytes),
// failing if that key already exists.
func (s *Store) Add(secret box.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := secret.PublicImage().Hash()
	if err != nil {
		return fmt.Errorf("hash proposition: %w", err)
	}
	if _, exists := s.byHash[h]; exists {
		return sidechainerrors.Validation("secret already present for proposition %x", h)
	}

	data, err := s.codec.Encode(secret)
	if err != nil {
		return fmt.Errorf("encode secret: %w", err)
	}
	stored := append([]byte{secret.SecretTypeID()}, data...)
	seq := s.nextSeq

	version, err := versionedkv.RandomVersion()
	if err != nil {
		return fmt.Errorf("draw secret version: %w", err)
	}
	puts := map[string][]byte{
		string(secretKey(h)):  stored,
		string(orderKey(seq)): h[:],
	}
	if err := s.kv.Update(version, puts, nil); err != nil {
		return fmt.Errorf("persist secret: %w", err)
	}

	s.byHash[h] = record{typeID: secret.SecretTypeID(), data: data, seq: seq}
	s.order = append(s.order, h)
	s.nextSeq++
	return nil
}

// Remove deletes the secret keyed by proposition's hash. Absent keys are
// a no-op, but a version is still written per the store's versionless
// write contract.
func (s *Store) Remove(proposition box.Proposition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := proposition.Hash()
	if err != nil {
		return fmt.Errorf("hash proposition: %w", err)
	}

	version, err := versionedkv.RandomVersion()
	if err != nil {
		return fmt.Errorf("draw secret version: %w", err)
	}

	rec, exists := s.byHash[h]
	if !exists {
		return s.kv.Update(version, nil, nil)
	}

	deletes := [][]byte{secretKey(h), orderKey(rec.seq)}
	if err := s.kv.Update(version, nil, deletes); err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}

	delete(s.byHash, h)
	for i, k := range s.order {
		if k == h {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the decoded secret for proposition, if present.
func (s *Store) Get(proposition box.Proposition) (box.Secret, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, err := proposition.Hash()
	if err != nil {
		return nil, false, fmt.Errorf("hash proposition: %w", err)
	}
	rec, ok := s.byHash[h]
	if !ok {
		return nil, false, nil
	}
	secret, err := s.codec.Decode(rec.typeID, rec.data)
	if err != nil {
		return nil, false, fmt.Errorf("decode secret: %w", err)
	}
	return secret, true, nil
}

// List returns every stored secret in insertion order.
func (s *Store) List() ([]box.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]box.Secret, 0, len(s.order))
	for _, h := range s.order {
		rec := s.byHash[h]
		secret, err := s.codec.Decode(rec.typeID, rec.data)
		if err != nil {
			return nil, fmt.Errorf("decode secret: %w", err)
		}
		out = append(out, secret)
	}
	return out, nil
}

// Len returns the number of secrets currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
