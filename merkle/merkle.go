// Package merkle builds the binary Merkle trees the wallet needs for two
// purposes: hashing a consensus epoch's forging-stake leaves so wallet
// forger boxes can be matched against them, and materializing UTXO
// membership paths for CSW evidence.
package merkle

import (
	"golang.org/x/crypto/blake2b"
)

// PathStep is one sibling hash plus which side it sits on.
type PathStep struct {
	Sibling [32]byte
	OnRight bool
}

// Path is the sequence of sibling hashes proving a leaf's membership,
// root-ward.
type Path []PathStep

// Tree is a binary Merkle tree over a fixed leaf set, built bottom-up
// with the last odd leaf at each level duplicated (Bitcoin-style).
type Tree struct {
	leaves [][32]byte
	levels [][][32]byte
}

func hashPair(l, r [32]byte) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write(l[:])
	h.Write(r[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Build constructs a tree over leaves in the given order. Order is
// significant: leaf i's path is only valid against a tree built with the
// same ordering.
func Build(leaves [][32]byte) *Tree {
	t := &Tree{leaves: leaves}
	if len(leaves) == 0 {
		t.levels = [][][32]byte{{}}
		return t
	}

	level := make([][32]byte, len(leaves))
	copy(level, leaves)
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Root returns the tree's root hash, or the zero hash for an empty tree.
func (t *Tree) Root() [32]byte {
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return [32]byte{}
	}
	return top[0]
}

// LeafIndex returns the position of leaf in the tree, or -1 if absent.
func (t *Tree) LeafIndex(leaf [32]byte) int {
	for i, l := range t.leaves {
		if l == leaf {
			return i
		}
	}
	return -1
}

// PathTo returns the Merkle path for the leaf at index, root-ward.
func (t *Tree) PathTo(index int) Path {
	if index < 0 || index >= len(t.leaves) {
		return nil
	}
	var path Path
	idx := index
	for level := 0; level < len(t.levels)-1; level++ {
		cur := t.levels[level]
		var siblingIdx int
		var onRight bool
		if idx%2 == 0 {
			siblingIdx = idx + 1
			onRight = true
		} else {
			siblingIdx = idx - 1
			onRight = false
		}
		if siblingIdx >= len(cur) {
			siblingIdx = idx
		}
		path = append(path, PathStep{Sibling: cur[siblingIdx], OnRight: onRight})
		idx /= 2
	}
	return path
}

// Verify recomputes the root from leaf and path and compares it to root.
func Verify(leaf [32]byte, path Path, root [32]byte) bool {
	cur := leaf
	for _, step := range path {
		if step.OnRight {
			cur = hashPair(cur, step.Sibling)
		} else {
			cur = hashPair(step.Sibling, cur)
		}
	}
	return cur == root
}

// ToPathSlice converts a Path into the flat [][32]byte form the box
// package's ForgingStakeMerklePathInfo and CSW data carry.
func ToPathSlice(p Path) [][32]byte {
	out := make([][32]byte, len(p))
	for i, s := range p {
		out[i] = s.Sibling
	}
	return out
}
