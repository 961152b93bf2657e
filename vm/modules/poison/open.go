// Package poison implements the on-ledger poison-game module: session
// opening with two-party authorization and wager locking, board
// commitments, attacks, and proof-verified attack responses.
//
// Every rejection is a typed core.GameError so the RPC layer can carry
// the code to clients without string matching.
package poison

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/events"
	"github.com/zkpoison/poisonnet/vm"
	"github.com/zkpoison/poisonnet/zkp"
)

func init() {
	vm.Register(core.TxSessionOpen, handleSessionOpen)
	vm.Register(core.TxCommitBoard, handleCommitBoard)
	vm.Register(core.TxAttack, handleAttack)
	vm.Register(core.TxRespond, handleRespond)
}

// AuthRequirement describes one authorization a session_open transaction
// must carry. Returned by the simulateOpen dry-run; callers must match
// entries by address, never by position.
type AuthRequirement struct {
	Address string `json:"address"`
	Wager   uint64 `json:"wager"`
}

// RequiredAuths runs the admission checks for a session_open payload
// without mutating state and returns the authorizations it would require.
// This is the dry-run behind the handshake: both parties call it
// independently to re-derive what they are agreeing to.
func RequiredAuths(state core.State, p *core.SessionOpenPayload) ([]AuthRequirement, error) {
	if p.SessionID == 0 {
		return nil, core.NewGameError(core.CodeSessionNotFound, "session id must be non-zero")
	}
	if p.Player1 == "" || p.Player2 == "" {
		return nil, core.NewGameError(core.CodeNotPlayer, "both player addresses required")
	}
	if p.Player1 == p.Player2 {
		return nil, core.NewGameError(core.CodeSelfPlay, "player1 and player2 are the same address")
	}

	if _, err := state.GetSession(p.SessionID); err == nil {
		return nil, core.NewGameError(core.CodeSessionExists, "session %d already exists", p.SessionID)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("checking session %d: %w", p.SessionID, err)
	}

	players := []struct {
		addr  string
		wager uint64
	}{
		{p.Player1, p.Wager1},
		{p.Player2, p.Wager2},
	}
	reqs := make([]AuthRequirement, 0, len(players))
	for _, pl := range players {
		acc, err := state.GetAccount(pl.addr)
		if err != nil {
			return nil, fmt.Errorf("player %q account: %w", pl.addr, err)
		}
		if acc.Balance < pl.wager {
			return nil, core.NewGameError(core.CodeInsufficientBalance,
				"player %q cannot cover wager: have %d need %d", pl.addr, acc.Balance, pl.wager)
		}
		reqs = append(reqs, AuthRequirement{Address: pl.addr, Wager: pl.wager})
	}
	return reqs, nil
}

// handleSessionOpen admits a fully-authorized session_open transaction:
// both players' authorization entries must be present, unexpired, and
// signed over the independently reconstructed preimage. Wagers are locked
// atomically with session creation; no earlier step holds funds.
func handleSessionOpen(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SessionOpenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode session_open payload: %w", err)
	}

	reqs, err := RequiredAuths(ctx.State, &p)
	if err != nil {
		return err
	}

	for _, req := range reqs {
		auth := findAuth(p.Auths, req.Address)
		if auth == nil {
			return core.NewGameError(core.CodeBadAuth, "no authorization entry for %q", req.Address)
		}
		if auth.Wager != req.Wager {
			return core.NewGameError(core.CodeBadAuth,
				"authorization for %q covers wager %d, required %d", req.Address, auth.Wager, req.Wager)
		}
		if auth.ValidUntil < ctx.Block.Header.Timestamp {
			return core.NewGameError(core.CodeAuthExpired,
				"authorization for %q expired at %d", req.Address, auth.ValidUntil)
		}
		if err := auth.VerifySessionAuth(ctx.ChainID, p.SessionID); err != nil {
			return core.NewGameError(core.CodeBadAuth, "authorization signature for %q: %v", req.Address, err)
		}
	}

	// Lock both wagers. RequiredAuths already proved the balances cover them.
	for _, req := range reqs {
		acc, err := ctx.State.GetAccount(req.Address)
		if err != nil {
			return err
		}
		if acc.Balance < req.Wager {
			return core.NewGameError(core.CodeInsufficientBalance,
				"player %q cannot cover wager: have %d need %d", req.Address, acc.Balance, req.Wager)
		}
		acc.Balance -= req.Wager
		if err := ctx.State.SetAccount(acc); err != nil {
			return err
		}
	}

	sess := &core.GameSession{
		ID:           p.SessionID,
		Player1:      p.Player1,
		Player2:      p.Player2,
		Player1Wager: p.Wager1,
		Player2Wager: p.Wager2,
		Phase:        core.PhaseAwaitingCommits,
		CurrentTurn:  1,
		CreatedAt:    ctx.Block.Header.Timestamp,
	}
	if err := ctx.State.SetSession(sess); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventSessionOpen,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"session_id": p.SessionID,
				"players":    []any{p.Player1, p.Player2},
				"wagers":     []any{p.Wager1, p.Wager2},
			},
		})
	}
	return nil
}

func findAuth(auths []core.SessionAuth, address string) *core.SessionAuth {
	for i := range auths {
		if auths[i].Address == address {
			return &auths[i]
		}
	}
	return nil
}

// handleCommitBoard records a player's board commitment exactly once.
// When both players have committed the session advances to Playing.
func handleCommitBoard(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CommitBoardPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode commit_board payload: %w", err)
	}
	if len(p.Commitment) != zkp.CommitmentSize {
		return core.NewGameError(core.CodeInvalidProof,
			"commitment must be %d bytes, got %d", zkp.CommitmentSize, len(p.Commitment))
	}

	sess, err := getSession(ctx.State, p.SessionID)
	if err != nil {
		return err
	}
	if sess.Phase != core.PhaseAwaitingCommits {
		return core.NewGameError(core.CodeWrongPhase, "session %d is %s", sess.ID, sess.Phase)
	}

	switch ctx.Tx.From {
	case sess.Player1:
		if sess.Player1Committed {
			return core.NewGameError(core.CodeAlreadyCommitted, "player1 already committed in session %d", sess.ID)
		}
		sess.Player1Commitment = p.Commitment
		sess.Player1Committed = true
	case sess.Player2:
		if sess.Player2Committed {
			return core.NewGameError(core.CodeAlreadyCommitted, "player2 already committed in session %d", sess.ID)
		}
		sess.Player2Commitment = p.Commitment
		sess.Player2Committed = true
	default:
		return core.NewGameError(core.CodeNotPlayer, "%q is not a participant of session %d", ctx.Tx.From, sess.ID)
	}

	if sess.Player1Committed && sess.Player2Committed {
		sess.Phase = core.PhasePlaying
	}
	if err := ctx.State.SetSession(sess); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventBoardCommitted,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data:        map[string]any{"session_id": sess.ID, "player": ctx.Tx.From, "phase": sess.Phase.String()},
		})
	}
	return nil
}

func getSession(state core.State, id uint32) (*core.GameSession, error) {
	sess, err := state.GetSession(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.NewGameError(core.CodeSessionNotFound, "session %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", id, err)
	}
	return sess, nil
}
