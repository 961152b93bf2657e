package core

// Phase is the lifecycle stage of a game session. It only moves forward:
// AwaitingCommits → Playing → Finished.
type Phase uint32

const (
	PhaseAwaitingCommits Phase = 0
	PhasePlaying         Phase = 1
	PhaseFinished        Phase = 2
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseAwaitingCommits:
		return "awaiting_commits"
	case PhasePlaying:
		return "playing"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// RevealedTile is one proven disclosure on a player's board. The list a
// RevealedTile belongs to is append-only and an index appears at most once.
type RevealedTile struct {
	TileIndex uint32 `json:"tile_index"`
	TileType  uint8  `json:"tile_type"` // 0=normal 1=poison 2=shield
}

// GameSession is the authoritative per-match record. It is mutated only by
// accepted transactions; clients hold read-only snapshots of it.
type GameSession struct {
	ID      uint32 `json:"id"`
	Player1 string `json:"player1"` // pubkey hex, immutable after open
	Player2 string `json:"player2"`

	Player1Wager uint64 `json:"player1_wager"` // locked at open, immutable
	Player2Wager uint64 `json:"player2_wager"`

	Phase Phase `json:"phase"`

	Player1Commitment []byte `json:"player1_commitment,omitempty"` // 32 bytes once committed
	Player2Commitment []byte `json:"player2_commitment,omitempty"`
	Player1Committed  bool   `json:"player1_committed"`
	Player2Committed  bool   `json:"player2_committed"`

	CurrentTurn uint32 `json:"current_turn"` // 1 or 2: who attacks (or whose attack is pending)

	// PendingAttackTile is meaningful only while HasPendingAttack is true.
	PendingAttackTile uint32 `json:"pending_attack_tile"`
	HasPendingAttack  bool   `json:"has_pending_attack"`

	// Revealed tiles ON each player's own board.
	Player1Revealed []RevealedTile `json:"player1_revealed"`
	Player2Revealed []RevealedTile `json:"player2_revealed"`

	// Score and shield-skip bookkeeping (normal +1 / poison −3 to the
	// attacker; shield skips the attacker's next turn).
	Player1Score int64 `json:"player1_score"`
	Player2Score int64 `json:"player2_score"`
	SkipNextTurn bool  `json:"skip_next_turn"`

	// Winner is 0 until Phase is Finished, then 1 or 2.
	Winner uint32 `json:"winner"`

	CreatedAt  int64 `json:"created_at"`
	FinishedAt int64 `json:"finished_at,omitempty"`
}

// PlayerNumber returns 1 or 2 for a participant address, 0 otherwise.
func (s *GameSession) PlayerNumber(addr string) uint32 {
	switch addr {
	case s.Player1:
		return 1
	case s.Player2:
		return 2
	default:
		return 0
	}
}

// PlayerAddress returns the address for player number 1 or 2, "" otherwise.
func (s *GameSession) PlayerAddress(num uint32) string {
	switch num {
	case 1:
		return s.Player1
	case 2:
		return s.Player2
	default:
		return ""
	}
}

// Opponent returns the other player number.
func Opponent(num uint32) uint32 {
	if num == 1 {
		return 2
	}
	return 1
}

// RevealedOn returns the revealed list for the given player's board.
func (s *GameSession) RevealedOn(num uint32) []RevealedTile {
	if num == 1 {
		return s.Player1Revealed
	}
	return s.Player2Revealed
}

// IsRevealed reports whether tileIndex already appears in player num's
// revealed list.
func (s *GameSession) IsRevealed(num uint32, tileIndex uint32) bool {
	for _, r := range s.RevealedOn(num) {
		if r.TileIndex == tileIndex {
			return true
		}
	}
	return false
}

// SpecialsRevealed counts the poison and shield tiles already revealed on
// player num's board. The session terminates once one board reaches
// (2 poison, 1 shield): the opponent has uncovered every special.
func (s *GameSession) SpecialsRevealed(num uint32) (poison, shield int) {
	for _, r := range s.RevealedOn(num) {
		switch r.TileType {
		case 1:
			poison++
		case 2:
			shield++
		}
	}
	return poison, shield
}
