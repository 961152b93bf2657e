package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// GameCode is the closed set of rule-violation codes the poison-game module
// can reject a transaction with. Codes are stable: they cross the RPC
// boundary so clients can map them back to typed errors without parsing
// message strings.
type GameCode uint32

const (
	CodeSessionNotFound GameCode = iota + 1
	CodeNotPlayer
	CodeWrongPhase
	CodeAlreadyCommitted
	CodeNotYourTurn
	CodeTileAlreadyRevealed
	CodeInvalidTileIndex
	CodeInvalidProof
	CodeGameEnded
	CodeSelfPlay
	CodeSessionExists
	CodeAuthExpired
	CodeBadAuth
	CodeInsufficientBalance
)

// String returns the canonical snake_case name used in RPC error payloads.
func (c GameCode) String() string {
	switch c {
	case CodeSessionNotFound:
		return "session_not_found"
	case CodeNotPlayer:
		return "not_player"
	case CodeWrongPhase:
		return "wrong_phase"
	case CodeAlreadyCommitted:
		return "already_committed"
	case CodeNotYourTurn:
		return "not_your_turn"
	case CodeTileAlreadyRevealed:
		return "tile_already_revealed"
	case CodeInvalidTileIndex:
		return "invalid_tile_index"
	case CodeInvalidProof:
		return "invalid_proof"
	case CodeGameEnded:
		return "game_ended"
	case CodeSelfPlay:
		return "self_play"
	case CodeSessionExists:
		return "session_exists"
	case CodeAuthExpired:
		return "auth_expired"
	case CodeBadAuth:
		return "bad_auth"
	case CodeInsufficientBalance:
		return "insufficient_balance"
	default:
		return "unknown"
	}
}

// GameError is a rule violation surfaced by the poison-game module. It is
// not retryable: every code indicates either a stale local view or a logic
// error, never a transient fault.
type GameError struct {
	Code GameCode
	Msg  string
}

func (e *GameError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// NewGameError builds a GameError with a formatted message.
func NewGameError(code GameCode, format string, args ...any) *GameError {
	return &GameError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// GameCodeOf extracts the game code from err, or 0 if err does not wrap a
// GameError.
func GameCodeOf(err error) GameCode {
	var ge *GameError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return 0
}
