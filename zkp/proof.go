package zkp

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/zkpoison/poisonnet/crypto"
)

// ProofSize is the exact byte length of a disclosure proof:
// the revealed tile salt followed by one sibling hash per tree level.
const ProofSize = SaltSize + treeDepth*CommitmentSize

var (
	// ErrProofGeneration is returned when the witness cannot be rebuilt from
	// the local secret, e.g. the stored salt no longer matches the commitment.
	ErrProofGeneration = errors.New("proof generation failed")

	// ErrClaimMismatch is returned when the claimed tile type does not match
	// the actual board. Such a proof would be rejected on-ledger anyway, so
	// it must never leave the client.
	ErrClaimMismatch = errors.New("claimed tile type does not match board")

	// ErrInvalidProof is returned by VerifyProof when the proof does not
	// bind (commitment, tileIndex, claimedType) together.
	ErrInvalidProof = errors.New("invalid disclosure proof")
)

// Prove builds the disclosure proof that the committed board's tile at
// tileIndex has type claimedType. The proof reveals only the per-tile salt
// and the Merkle path; neither the master salt nor any other tile leaks.
//
// This recomputes the full tree, so it is the expensive step; callers should
// keep it off any latency-sensitive path.
func Prove(tiles Board, salt []byte, commitment []byte, tileIndex int, claimedType TileType) ([]byte, error) {
	if len(tiles) != BoardSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBoardLength, len(tiles))
	}
	if tileIndex < 0 || tileIndex >= BoardSize {
		return nil, fmt.Errorf("tile index %d out of range [0,%d)", tileIndex, BoardSize)
	}
	if tiles[tileIndex] != claimedType {
		return nil, fmt.Errorf("%w: tile %d is %s, claimed %s",
			ErrClaimMismatch, tileIndex, tiles[tileIndex], claimedType)
	}

	levels := buildTree(tiles, salt)
	if !bytes.Equal(levels[treeDepth][0], commitment) {
		return nil, fmt.Errorf("%w: recomputed root does not match commitment", ErrProofGeneration)
	}

	proof := make([]byte, 0, ProofSize)
	proof = append(proof, tileSalt(salt, tileIndex)...)
	idx := tileIndex
	for lvl := 0; lvl < treeDepth; lvl++ {
		proof = append(proof, levels[lvl][idx^1]...)
		idx >>= 1
	}
	return proof, nil
}

// VerifyProof checks a disclosure proof against public inputs only:
// the stored commitment, the attacked tile index, and the claimed type.
// The verifier side reconstructs all three from its own state, so a
// defender cannot substitute different public inputs.
func VerifyProof(commitment []byte, tileIndex int, claimedType TileType, proof []byte) error {
	if len(commitment) != CommitmentSize {
		return fmt.Errorf("%w: commitment must be %d bytes", ErrInvalidProof, CommitmentSize)
	}
	if len(proof) != ProofSize {
		return fmt.Errorf("%w: proof must be %d bytes, got %d", ErrInvalidProof, ProofSize, len(proof))
	}
	if tileIndex < 0 || tileIndex >= BoardSize {
		return fmt.Errorf("%w: tile index %d out of range", ErrInvalidProof, tileIndex)
	}
	if !claimedType.Valid() {
		return fmt.Errorf("%w: claimed type %d out of range", ErrInvalidProof, claimedType)
	}

	ts := proof[:SaltSize]
	node := leafHash(ts, tileIndex, byte(claimedType))
	idx := tileIndex
	for lvl := 0; lvl < treeDepth; lvl++ {
		sib := proof[SaltSize+lvl*CommitmentSize : SaltSize+(lvl+1)*CommitmentSize]
		if idx&1 == 0 {
			node = crypto.Keccak256(node, sib)
		} else {
			node = crypto.Keccak256(sib, node)
		}
		idx >>= 1
	}
	if !bytes.Equal(node, commitment) {
		return fmt.Errorf("%w: path does not reach commitment", ErrInvalidProof)
	}
	return nil
}
