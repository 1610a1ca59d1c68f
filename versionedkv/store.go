package versionedkv

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/mezonai/sidechainnode/db"
	"github.com/mezonai/sidechainnode/jsonx"
	"github.com/mezonai/sidechainnode/sidechainerrors"
)

const (
	prefixLive = "L:"
	prefixSeq  = "S:"
	prefixUndo = "U:"
)

// Store is a versioned key-value store: a linear sequence of updates,
// each identified by a Version, with bounded-by-history rollback back to
// any prior version. Keys and values are opaque byte strings.
type Store struct {
	mu       sync.RWMutex
	provider db.IterableProvider
	tx       *db.TxManager
	versions []versionEntry
	nextSeq  uint64
}

type versionEntry struct {
	Version Version
	Seq     uint64
}

// undoEntry captures the pre-update state of one key so an update can be
// reversed exactly.
type undoEntry struct {
	Key      []byte `json:"key"`
	HadValue bool   `json:"had_value"`
	OldValue []byte `json:"old_value,omitempty"`
}

type undoRecord struct {
	Entries []undoEntry `json:"entries"`
}

// Open loads (or initializes) a versioned KV store over provider,
// rebuilding the in-memory version index from the provider's "S:" log.
func Open(provider db.IterableProvider) (*Store, error) {
	s := &Store{
		provider: provider,
		tx:       db.NewTxManager(provider),
	}

	var rebuildErr error
	err := provider.IteratePrefix([]byte(prefixSeq), func(key, value []byte) bool {
		seq := binary.BigEndian.Uint64(key[len(prefixSeq):])
		v, verr := VersionFromBytes(value)
		if verr != nil {
			rebuildErr = verr
			return false
		}
		s.versions = append(s.versions, versionEntry{Version: v, Seq: seq})
		if seq+1 > s.nextSeq {
			s.nextSeq = seq + 1
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild version index: %w", err)
	}
	if rebuildErr != nil {
		return nil, fmt.Errorf("rebuild version index: %w", rebuildErr)
	}

	return s, nil
}

func liveKey(key []byte) []byte {
	return append([]byte(prefixLive), key...)
}

func seqKey(seq uint64) []byte {
	buf := make([]byte, len(prefixSeq)+8)
	copy(buf, prefixSeq)
	binary.BigEndian.PutUint64(buf[len(prefixSeq):], seq)
	return buf
}

func undoKey(v Version) []byte {
	return []byte(prefixUndo + hex.EncodeToString(v[:]))
}

// Update atomically applies puts and deletes under version. A key must
// not appear in both puts and deletes.
func (s *Store) Update(version Version, puts map[string][]byte, deletes [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range deletes {
		if _, ok := puts[string(k)]; ok {
			return sidechainerrors.Validation("key %x present in both puts and deletes", k)
		}
	}

	record := undoRecord{Entries: make([]undoEntry, 0, len(puts)+len(deletes))}
	for k := range puts {
		old, err := s.provider.Get(liveKey([]byte(k)))
		if err != nil {
			return fmt.Errorf("read previous value: %w", err)
		}
		record.Entries = append(record.Entries, undoEntry{Key: []byte(k), HadValue: old != nil, OldValue: old})
	}
	for _, k := range deletes {
		old, err := s.provider.Get(liveKey(k))
		if err != nil {
			return fmt.Errorf("read previous value: %w", err)
		}
		record.Entries = append(record.Entries, undoEntry{Key: k, HadValue: old != nil, OldValue: old})
	}

	encodedUndo, err := jsonx.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode undo record: %w", err)
	}

	seq := s.nextSeq

	err = s.tx.WithBatch(func(batch db.DatabaseBatch) error {
		for k, v := range puts {
			batch.Put(liveKey([]byte(k)), v)
		}
		for _, k := range deletes {
			batch.Delete(liveKey(k))
		}
		batch.Put(seqKey(seq), version.Bytes())
		batch.Put(undoKey(version), encodedUndo)
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit update: %w", err)
	}

	s.versions = append(s.versions, versionEntry{Version: version, Seq: seq})
	s.nextSeq++
	return nil
}

// Rollback restores exactly the state present immediately after the
// update that produced version, discarding every strictly newer version.
func (s *Store) Rollback(version Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := len(s.versions) - 1; i >= 0; i-- {
		if s.versions[i].Version == version {
			idx = i
			break
		}
	}
	if idx == -1 {
		return sidechainerrors.Rollback("versionedkv", version)
	}

	toUndo := s.versions[idx+1:]

	undoRecords := make([]undoRecord, len(toUndo))
	for i, ve := range toUndo {
		raw, err := s.provider.Get(undoKey(ve.Version))
		if err != nil {
			return fmt.Errorf("read undo record for %s: %w", ve.Version, err)
		}
		if raw == nil {
			return sidechainerrors.Consistency("missing undo record for version %s", ve.Version)
		}
		var rec undoRecord
		if err := jsonx.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode undo record for %s: %w", ve.Version, err)
		}
		undoRecords[i] = rec
	}

	err := s.tx.WithBatch(func(batch db.DatabaseBatch) error {
		for i := len(toUndo) - 1; i >= 0; i-- {
			rec := undoRecords[i]
			for _, e := range rec.Entries {
				if e.HadValue {
					batch.Put(liveKey(e.Key), e.OldValue)
				} else {
					batch.Delete(liveKey(e.Key))
				}
			}
		}
		for _, ve := range toUndo {
			batch.Delete(seqKey(ve.Seq))
			batch.Delete(undoKey(ve.Version))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}

	s.versions = s.versions[:idx+1]
	return nil
}

// LastVersionID returns the most recently applied version, or false if
// the store is empty.
func (s *Store) LastVersionID() (Version, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.versions) == 0 {
		return ZeroVersion, false
	}
	return s.versions[len(s.versions)-1].Version, true
}

// RollbackVersions returns up to limit versions, most recent first.
func (s *Store) RollbackVersions(limit int) []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.versions)
	if limit > n {
		limit = n
	}
	out := make([]Version, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.versions[n-1-i].Version
	}
	return out
}

// Get returns the current value for key, and whether it exists.
func (s *Store) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, err := s.provider.Get(liveKey(key))
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// GetAll returns every live key-value pair as a map, so the order in
// which callers range over the result is not defined.
func (s *Store) GetAll() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte)
	_ = s.provider.IteratePrefix([]byte(prefixLive), func(key, value []byte) bool {
		k := make([]byte, len(key)-len(prefixLive))
		copy(k, key[len(prefixLive):])
		v := make([]byte, len(value))
		copy(v, value)
		out[string(k)] = v
		return true
	})
	return out
}

// IsEmpty reports whether the store has never been updated.
func (s *Store) IsEmpty() bool {
	return s.NumberOfVersions() == 0
}

// NumberOfVersions returns how many versions are retained in the
// rollback history.
func (s *Store) NumberOfVersions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions)
}
