package game

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/zkp"
)

// TurnState is the local view of whose move it is, computed purely from
// (currentTurn, hasPendingAttack, myPlayerNumber). It is a projection of
// external state, never a source of truth.
type TurnState uint8

const (
	TurnWaiting TurnState = iota
	TurnMyAttack
	TurnMyDefense
)

func (t TurnState) String() string {
	switch t {
	case TurnMyAttack:
		return "my_turn_to_attack"
	case TurnMyDefense:
		return "my_turn_to_defend"
	default:
		return "waiting"
	}
}

// Machine drives one player's moves in one session. All rule checks it
// performs locally are optimizations to avoid doomed submissions; the
// ledger module re-arbitrates every one of them.
//
// A single in-flight guard makes overlapping wager-bearing calls silent
// no-ops: a second CommitBoard/Attack/RespondToAttack while one is still
// running returns nil without submitting anything.
//
// Fee is attached to every transaction the machine submits. Set it before
// the first call; zero is valid.
type Machine struct {
	ledger    Ledger
	signer    Signer
	secrets   *SecretStore
	chainID   string
	sessionID uint32

	Fee uint64

	inFlight atomic.Bool
}

// NewMachine creates a Machine for one (player, session) pair.
func NewMachine(ledger Ledger, signer Signer, secrets *SecretStore, chainID string, sessionID uint32) *Machine {
	return &Machine{
		ledger:    ledger,
		signer:    signer,
		secrets:   secrets,
		chainID:   chainID,
		sessionID: sessionID,
	}
}

// TurnView computes this player's turn state from a session snapshot.
func (m *Machine) TurnView(sess *core.GameSession) TurnState {
	me := sess.PlayerNumber(m.signer.Address())
	if me == 0 || sess.Phase != core.PhasePlaying {
		return TurnWaiting
	}
	switch {
	case !sess.HasPendingAttack && sess.CurrentTurn == me:
		return TurnMyAttack
	case sess.HasPendingAttack && sess.CurrentTurn != me:
		return TurnMyDefense
	default:
		return TurnWaiting
	}
}

// CommitBoard validates tiles, computes the commitment, persists the
// board secret, then submits the commitment. Returns ErrAlreadyCommitted
// when external state already shows this player committed. The secret is
// written once per (session, player) and never replaced: if a record
// already exists its stored commitment is re-submitted and the incoming
// tiles are discarded.
func (m *Machine) CommitBoard(ctx context.Context, tiles zkp.Board) error {
	if !m.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer m.inFlight.Store(false)

	if err := zkp.ValidateBoard(tiles); err != nil {
		return err
	}

	sess, err := m.ledger.GetSession(ctx, m.sessionID)
	if err != nil {
		return fmt.Errorf("fetch session %d: %w", m.sessionID, err)
	}
	me := sess.PlayerNumber(m.signer.Address())
	if me == 0 {
		return core.NewGameError(core.CodeNotPlayer, "%s is not a participant of session %d", m.signer.Address(), m.sessionID)
	}
	if (me == 1 && sess.Player1Committed) || (me == 2 && sess.Player2Committed) {
		return fmt.Errorf("session %d: %w", m.sessionID, ErrAlreadyCommitted)
	}

	// The committed guard above runs on a snapshot that may predate our
	// own first commit. An existing secret therefore wins over the
	// incoming tiles: the ledger may already hold its commitment, and
	// overwriting the record would orphan that commitment with no way to
	// ever answer an attack. Re-submit what is stored and let the ledger
	// arbitrate.
	if existing, err := m.secrets.Get(m.sessionID, m.signer.Address()); err == nil {
		return m.submit(ctx, core.TxCommitBoard, &core.CommitBoardPayload{
			SessionID:  m.sessionID,
			Commitment: existing.Commitment,
		})
	} else if !errors.Is(err, ErrBoardSecretMissing) {
		return err
	}

	salt, err := zkp.NewSalt()
	if err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	commitment, err := zkp.Commit(tiles, salt)
	if err != nil {
		return fmt.Errorf("compute commitment: %w", err)
	}

	// Persist before submitting: once the commitment is on the ledger the
	// secret is the only way to ever answer an attack.
	secret := &BoardSecret{Tiles: tiles, Salt: salt, Commitment: commitment}
	if err := m.secrets.Put(m.sessionID, m.signer.Address(), secret); err != nil {
		return fmt.Errorf("persist board secret: %w", err)
	}

	return m.submit(ctx, core.TxCommitBoard, &core.CommitBoardPayload{
		SessionID:  m.sessionID,
		Commitment: commitment,
	})
}

// Attack targets tileIndex on the opponent's board. Legal only in
// TurnMyAttack and only for an index not already revealed over there.
func (m *Machine) Attack(ctx context.Context, tileIndex uint32) error {
	if !m.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer m.inFlight.Store(false)

	if tileIndex >= zkp.BoardSize {
		return core.NewGameError(core.CodeInvalidTileIndex, "tile index %d out of range", tileIndex)
	}

	sess, err := m.ledger.GetSession(ctx, m.sessionID)
	if err != nil {
		return fmt.Errorf("fetch session %d: %w", m.sessionID, err)
	}
	if sess.Phase == core.PhaseFinished {
		return core.NewGameError(core.CodeGameEnded, "session %d finished, winner player%d", sess.ID, sess.Winner)
	}
	if m.TurnView(sess) != TurnMyAttack {
		return core.NewGameError(core.CodeNotYourTurn, "session %d: not your attack turn", sess.ID)
	}
	me := sess.PlayerNumber(m.signer.Address())
	if sess.IsRevealed(core.Opponent(me), tileIndex) {
		return core.NewGameError(core.CodeTileAlreadyRevealed, "tile %d already revealed", tileIndex)
	}

	return m.submit(ctx, core.TxAttack, &core.AttackPayload{
		SessionID: m.sessionID,
		TileIndex: tileIndex,
	})
}

// RespondToAttack answers the pending attack with the true tile type and
// a disclosure proof derived from the persisted board secret. A missing
// secret is fatal; nothing can be retried around lost client state.
func (m *Machine) RespondToAttack(ctx context.Context) error {
	if !m.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer m.inFlight.Store(false)

	sess, err := m.ledger.GetSession(ctx, m.sessionID)
	if err != nil {
		return fmt.Errorf("fetch session %d: %w", m.sessionID, err)
	}
	if sess.Phase == core.PhaseFinished {
		return core.NewGameError(core.CodeGameEnded, "session %d finished, winner player%d", sess.ID, sess.Winner)
	}
	if m.TurnView(sess) != TurnMyDefense {
		return core.NewGameError(core.CodeNotYourTurn, "session %d: no attack pending against you", sess.ID)
	}

	secret, err := m.secrets.Get(m.sessionID, m.signer.Address())
	if err != nil {
		return err
	}

	tileIndex := int(sess.PendingAttackTile)
	if tileIndex >= len(secret.Tiles) {
		return core.NewGameError(core.CodeInvalidTileIndex, "pending tile %d out of range", tileIndex)
	}
	trueType := secret.Tiles[tileIndex]
	proof, err := zkp.Prove(secret.Tiles, secret.Salt, secret.Commitment, tileIndex, trueType)
	if err != nil {
		return fmt.Errorf("generate proof for tile %d: %w", tileIndex, err)
	}
	if len(proof) != zkp.ProofSize {
		return fmt.Errorf("proof is %d bytes, verifier expects %d", len(proof), zkp.ProofSize)
	}

	return m.submit(ctx, core.TxRespond, &core.RespondPayload{
		SessionID:   m.sessionID,
		ClaimedType: uint8(trueType),
		Proof:       proof,
	})
}

func (m *Machine) submit(ctx context.Context, typ core.TxType, payload any) error {
	_, nonce, err := m.ledger.GetAccount(ctx, m.signer.Address())
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	tx, err := m.signer.NewTx(m.chainID, typ, nonce, m.Fee, payload)
	if err != nil {
		return fmt.Errorf("build %s transaction: %w", typ, err)
	}
	if _, err := m.ledger.SubmitTx(ctx, tx); err != nil {
		return fmt.Errorf("submit %s: %w", typ, err)
	}
	return nil
}
