// Package zkp implements the board commitment scheme and the tile
// disclosure proofs used by the poison game. A player commits to a
// 15-tile board with a salted Keccak Merkle root; later they can prove
// the type of a single tile without revealing the rest of the board or
// the master salt.
//
// The proof layout (32-byte tile salt + 4 sibling hashes) and the
// 32-byte commitment are a compatibility contract with the on-ledger
// verifier; both sides must agree on the exact byte lengths.
package zkp

import (
	"errors"
	"fmt"
)

// TileType identifies what is hidden under a board tile.
type TileType uint8

const (
	TileNormal TileType = 0
	TilePoison TileType = 1
	TileShield TileType = 2
)

// Board composition constants. Every valid board holds exactly
// NumPoison poison tiles and NumShield shield tiles; the rest are normal.
const (
	BoardSize = 15
	NumPoison = 2
	NumShield = 1
	NumNormal = BoardSize - NumPoison - NumShield
)

// ErrInvalidBoardLength is returned when a board does not have exactly
// BoardSize tiles.
var ErrInvalidBoardLength = errors.New("board must have exactly 15 tiles")

// Valid reports whether t is one of the three playable tile types.
func (t TileType) Valid() bool {
	return t <= TileShield
}

// String returns the lowercase tile name, or "unknown" for invalid values.
func (t TileType) String() string {
	switch t {
	case TileNormal:
		return "normal"
	case TilePoison:
		return "poison"
	case TileShield:
		return "shield"
	default:
		return "unknown"
	}
}

// Board is a full private board layout, index 0..14.
type Board []TileType

// ValidateBoard checks the 2-poison/1-shield/12-normal composition.
// The returned error names the first count that is off so the caller can
// surface a precise message before wasting a commitment.
func ValidateBoard(tiles Board) error {
	if len(tiles) != BoardSize {
		return fmt.Errorf("%w: got %d", ErrInvalidBoardLength, len(tiles))
	}
	var poison, shield, normal int
	for i, t := range tiles {
		switch t {
		case TilePoison:
			poison++
		case TileShield:
			shield++
		case TileNormal:
			normal++
		default:
			return fmt.Errorf("tile %d has invalid type %d", i, t)
		}
	}
	if poison != NumPoison {
		return fmt.Errorf("board must contain exactly %d poison tiles, got %d", NumPoison, poison)
	}
	if shield != NumShield {
		return fmt.Errorf("board must contain exactly %d shield tiles, got %d", NumShield, shield)
	}
	if normal != NumNormal {
		return fmt.Errorf("board must contain exactly %d normal tiles, got %d", NumNormal, normal)
	}
	return nil
}
