package poison

import (
	"encoding/json"
	"fmt"

	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/events"
	"github.com/zkpoison/poisonnet/vm"
	"github.com/zkpoison/poisonnet/zkp"
)

// handleAttack marks one tile on the opponent's board as the pending
// attack. The attack does not change whose turn it is; the turn flips only
// after a verified response.
func handleAttack(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AttackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode attack payload: %w", err)
	}

	sess, err := getSession(ctx.State, p.SessionID)
	if err != nil {
		return err
	}
	if sess.Phase != core.PhasePlaying {
		return core.NewGameError(core.CodeWrongPhase, "session %d is %s", sess.ID, sess.Phase)
	}
	if sess.Winner != 0 {
		return core.NewGameError(core.CodeGameEnded, "session %d already has a winner", sess.ID)
	}
	if sess.HasPendingAttack {
		return core.NewGameError(core.CodeWrongPhase, "session %d has an unanswered attack", sess.ID)
	}
	if p.TileIndex >= zkp.BoardSize {
		return core.NewGameError(core.CodeInvalidTileIndex, "tile index %d out of range", p.TileIndex)
	}

	attacker := sess.PlayerNumber(ctx.Tx.From)
	if attacker == 0 {
		return core.NewGameError(core.CodeNotPlayer, "%q is not a participant of session %d", ctx.Tx.From, sess.ID)
	}
	if attacker != sess.CurrentTurn {
		return core.NewGameError(core.CodeNotYourTurn, "player %d attacked on player %d's turn", attacker, sess.CurrentTurn)
	}
	if sess.IsRevealed(core.Opponent(attacker), p.TileIndex) {
		return core.NewGameError(core.CodeTileAlreadyRevealed, "tile %d already revealed", p.TileIndex)
	}

	sess.PendingAttackTile = p.TileIndex
	sess.HasPendingAttack = true
	if err := ctx.State.SetSession(sess); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventAttack,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data:        map[string]any{"session_id": sess.ID, "attacker": attacker, "tile_index": p.TileIndex},
		})
	}
	return nil
}

// handleRespond verifies the defender's disclosure proof against public
// inputs rebuilt entirely from stored state (commitment, pending tile), then
// records the reveal, applies score and shield rules, and settles the pot if
// the reveal uncovered the last special.
func handleRespond(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RespondPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode respond payload: %w", err)
	}

	sess, err := getSession(ctx.State, p.SessionID)
	if err != nil {
		return err
	}
	if sess.Phase != core.PhasePlaying {
		return core.NewGameError(core.CodeWrongPhase, "session %d is %s", sess.ID, sess.Phase)
	}
	if sess.Winner != 0 {
		return core.NewGameError(core.CodeGameEnded, "session %d already has a winner", sess.ID)
	}
	if !sess.HasPendingAttack {
		return core.NewGameError(core.CodeWrongPhase, "session %d has no pending attack", sess.ID)
	}

	claimed := zkp.TileType(p.ClaimedType)
	if !claimed.Valid() {
		return core.NewGameError(core.CodeInvalidProof, "claimed tile type %d out of range", p.ClaimedType)
	}

	defender := sess.PlayerNumber(ctx.Tx.From)
	if defender == 0 {
		return core.NewGameError(core.CodeNotPlayer, "%q is not a participant of session %d", ctx.Tx.From, sess.ID)
	}
	attacker := core.Opponent(defender)
	if attacker != sess.CurrentTurn {
		return core.NewGameError(core.CodeNotYourTurn, "player %d responded outside their defense", defender)
	}

	if len(p.Proof) != zkp.ProofSize {
		return core.NewGameError(core.CodeInvalidProof,
			"proof must be %d bytes, got %d", zkp.ProofSize, len(p.Proof))
	}

	// Public inputs come from stored state only; the defender supplies just
	// the claimed type and the proof blob.
	var commitment []byte
	if defender == 1 {
		commitment = sess.Player1Commitment
	} else {
		commitment = sess.Player2Commitment
	}
	tileIndex := sess.PendingAttackTile
	if err := zkp.VerifyProof(commitment, int(tileIndex), claimed, p.Proof); err != nil {
		return core.NewGameError(core.CodeInvalidProof, "session %d tile %d: %v", sess.ID, tileIndex, err)
	}

	revealed := core.RevealedTile{TileIndex: tileIndex, TileType: p.ClaimedType}
	if defender == 1 {
		sess.Player1Revealed = append(sess.Player1Revealed, revealed)
	} else {
		sess.Player2Revealed = append(sess.Player2Revealed, revealed)
	}

	// Score and shield rules, mirroring the reference contract: normal grants
	// the attacker a point, poison costs three, shield skips the attacker's
	// next turn.
	switch claimed {
	case zkp.TileNormal:
		addScore(sess, attacker, 1)
	case zkp.TilePoison:
		addScore(sess, attacker, -3)
	case zkp.TileShield:
		sess.SkipNextTurn = true
	}

	sess.HasPendingAttack = false

	// The session ends the moment all specials on the defender's board are
	// uncovered: the attacker found both poisons and the shield.
	poison, shield := sess.SpecialsRevealed(defender)
	if poison >= zkp.NumPoison && shield >= zkp.NumShield {
		if err := finishSession(ctx, sess, attacker); err != nil {
			return err
		}
	} else {
		if sess.SkipNextTurn {
			sess.SkipNextTurn = false
			sess.CurrentTurn = defender
		} else {
			sess.CurrentTurn = core.Opponent(sess.CurrentTurn)
		}
	}

	if err := ctx.State.SetSession(sess); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventTileRevealed,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"session_id": sess.ID,
				"defender":   defender,
				"tile_index": tileIndex,
				"tile_type":  p.ClaimedType,
			},
		})
	}
	return nil
}

func addScore(sess *core.GameSession, player uint32, delta int64) {
	if player == 1 {
		sess.Player1Score += delta
	} else {
		sess.Player2Score += delta
	}
}

// finishSession marks the winner and pays the full pot to their balance.
// Funds were locked at open; this is the only place they are released.
func finishSession(ctx *vm.Context, sess *core.GameSession, winner uint32) error {
	sess.Winner = winner
	sess.Phase = core.PhaseFinished
	sess.FinishedAt = ctx.Block.Header.Timestamp

	pot := sess.Player1Wager + sess.Player2Wager
	if pot > 0 {
		acc, err := ctx.State.GetAccount(sess.PlayerAddress(winner))
		if err != nil {
			return err
		}
		acc.Balance += pot
		if err := ctx.State.SetAccount(acc); err != nil {
			return err
		}
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventGameEnd,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data:        map[string]any{"session_id": sess.ID, "winner": winner, "pot": pot},
		})
	}
	return nil
}
