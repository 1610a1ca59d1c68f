// Package versionedkv implements the append-only versioned key-value
// store every persistent subsystem of the node (history, state, and the
// four wallet stores) is built on: update() records both the new values
// and enough of the old ones to undo them, so rollback(v) can restore
// exactly the state as of version v.
package versionedkv

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Version is a 32-byte identifier for a store update. For block-driven
// updates it is the block id; for updates not tied to a block (secret
// store mutations) it is drawn at random.
type Version [32]byte

// ZeroVersion is the sentinel value returned when a store has no
// versions yet.
var ZeroVersion = Version{}

func (v Version) String() string {
	return hex.EncodeToString(v[:])
}

// Bytes returns the raw 32 bytes of the version.
func (v Version) Bytes() []byte {
	return v[:]
}

// IsZero reports whether v is the zero version (an empty store's sentinel).
func (v Version) IsZero() bool {
	return v == ZeroVersion
}

// VersionFromBytes copies exactly 32 bytes into a Version.
func VersionFromBytes(b []byte) (Version, error) {
	var v Version
	if len(b) != len(v) {
		return v, fmt.Errorf("version must be %d bytes, got %d", len(v), len(b))
	}
	copy(v[:], b)
	return v, nil
}

// RandomVersion draws a fresh 32-byte version from a cryptographic RNG.
// Used for secret-store mutations, which are not driven by a block and
// must never collide with a block id used elsewhere as a version.
func RandomVersion() (Version, error) {
	var v Version
	if _, err := rand.Read(v[:]); err != nil {
		return v, fmt.Errorf("draw random version: %w", err)
	}
	return v, nil
}
