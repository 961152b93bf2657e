package zkp

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/zkpoison/poisonnet/crypto"
)

const (
	// CommitmentSize is the byte length of a board commitment.
	CommitmentSize = 32
	// SaltSize is the byte length of the master board salt.
	SaltSize = 32

	// treeLeaves pads the 15 board tiles to a power of two.
	treeLeaves = 16
	// treeDepth is log2(treeLeaves); a proof carries one sibling per level.
	treeDepth = 4

	// padType marks the sentinel sixteenth leaf. It is outside the playable
	// TileType range so a padding leaf can never verify as a real tile.
	padType = 0xff
)

// NewSalt returns a fresh random master salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// tileSalt derives the per-tile blinding salt. Revealing one tile salt says
// nothing about the others because the derivation is one-way in the master salt.
func tileSalt(salt []byte, index int) []byte {
	return crypto.Keccak256(salt, []byte{byte(index)})
}

// leafHash computes the Merkle leaf for one tile.
func leafHash(ts []byte, index int, typ byte) []byte {
	return crypto.Keccak256(ts, []byte{byte(index)}, []byte{typ})
}

// buildTree returns all tree levels, leaves first. levels[treeDepth] holds
// the single root node.
func buildTree(tiles Board, salt []byte) [][][]byte {
	leaves := make([][]byte, treeLeaves)
	for i := 0; i < BoardSize; i++ {
		leaves[i] = leafHash(tileSalt(salt, i), i, byte(tiles[i]))
	}
	for i := BoardSize; i < treeLeaves; i++ {
		leaves[i] = leafHash(tileSalt(salt, i), i, padType)
	}

	levels := make([][][]byte, treeDepth+1)
	levels[0] = leaves
	for lvl := 1; lvl <= treeDepth; lvl++ {
		prev := levels[lvl-1]
		cur := make([][]byte, len(prev)/2)
		for i := range cur {
			cur[i] = crypto.Keccak256(prev[2*i], prev[2*i+1])
		}
		levels[lvl] = cur
	}
	return levels
}

// Commit computes the 32-byte board commitment: the Keccak Merkle root over
// the salted tile leaves. Deterministic in (tiles, salt).
// Fails with ErrInvalidBoardLength when the tile count is not 15.
func Commit(tiles Board, salt []byte) ([]byte, error) {
	if len(tiles) != BoardSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBoardLength, len(tiles))
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	levels := buildTree(tiles, salt)
	return levels[treeDepth][0], nil
}
