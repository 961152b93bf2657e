package poison_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/events"
	"github.com/zkpoison/poisonnet/internal/testutil"
	"github.com/zkpoison/poisonnet/storage"
	"github.com/zkpoison/poisonnet/vm"
	"github.com/zkpoison/poisonnet/vm/modules/poison"
	"github.com/zkpoison/poisonnet/wallet"
	"github.com/zkpoison/poisonnet/zkp"
)

const testChainID = "test-chain"

// env is an in-process ledger: state, executor and two funded players.
type env struct {
	t      *testing.T
	state  *storage.StateDB
	exec   *vm.Executor
	height int64
	p1, p2 *wallet.Wallet
}

func newEnv(t *testing.T) *env {
	t.Helper()
	state := testutil.NewStateDB()
	e := &env{
		t:     t,
		state: state,
		exec:  vm.NewExecutor(state, testChainID, events.NewEmitter()),
	}
	e.p1 = e.fundedWallet(1_000_000)
	e.p2 = e.fundedWallet(1_000_000)
	return e
}

func (e *env) fundedWallet(balance uint64) *wallet.Wallet {
	w, err := wallet.Generate()
	require.NoError(e.t, err)
	require.NoError(e.t, e.state.SetAccount(&core.Account{Address: w.Address(), Balance: balance}))
	return w
}

// run signs and executes one transaction in a fresh block.
func (e *env) run(w *wallet.Wallet, typ core.TxType, payload any) error {
	e.t.Helper()
	acc, err := e.state.GetAccount(w.Address())
	require.NoError(e.t, err)
	tx, err := w.NewTx(testChainID, typ, acc.Nonce, 0, payload)
	require.NoError(e.t, err)
	e.height++
	block := core.NewBlock(e.height, "prev", "proposer", nil)
	return e.exec.ExecuteTx(block, tx)
}

func (e *env) mustRun(w *wallet.Wallet, typ core.TxType, payload any) {
	e.t.Helper()
	require.NoError(e.t, e.run(w, typ, payload))
}

func (e *env) session(id uint32) *core.GameSession {
	e.t.Helper()
	sess, err := e.state.GetSession(id)
	require.NoError(e.t, err)
	return sess
}

func (e *env) balance(w *wallet.Wallet) uint64 {
	e.t.Helper()
	acc, err := e.state.GetAccount(w.Address())
	require.NoError(e.t, err)
	return acc.Balance
}

// openPayload builds a fully-authorized session_open payload.
func (e *env) openPayload(id uint32, w1, w2 uint64, validFor time.Duration) *core.SessionOpenPayload {
	validUntil := time.Now().Add(validFor).UnixNano()
	return &core.SessionOpenPayload{
		SessionID: id,
		Player1:   e.p1.Address(),
		Player2:   e.p2.Address(),
		Wager1:    w1,
		Wager2:    w2,
		Auths: []core.SessionAuth{
			e.p1.SignSessionAuth(testChainID, id, w1, validUntil),
			e.p2.SignSessionAuth(testChainID, id, w2, validUntil),
		},
	}
}

func (e *env) openSession(id uint32, w1, w2 uint64) {
	e.t.Helper()
	e.mustRun(e.p1, core.TxSessionOpen, e.openPayload(id, w1, w2, time.Hour))
}

type board struct {
	tiles      zkp.Board
	salt       []byte
	commitment []byte
}

func makeBoard(t *testing.T, p1, p2, s int) *board {
	t.Helper()
	tiles := make(zkp.Board, zkp.BoardSize)
	tiles[p1] = zkp.TilePoison
	tiles[p2] = zkp.TilePoison
	tiles[s] = zkp.TileShield
	salt, err := zkp.NewSalt()
	require.NoError(t, err)
	commitment, err := zkp.Commit(tiles, salt)
	require.NoError(t, err)
	return &board{tiles: tiles, salt: salt, commitment: commitment}
}

// startPlaying opens session id and commits both boards.
func (e *env) startPlaying(id uint32, b1, b2 *board) {
	e.t.Helper()
	e.openSession(id, 500, 500)
	e.mustRun(e.p1, core.TxCommitBoard, &core.CommitBoardPayload{SessionID: id, Commitment: b1.commitment})
	e.mustRun(e.p2, core.TxCommitBoard, &core.CommitBoardPayload{SessionID: id, Commitment: b2.commitment})
	require.Equal(e.t, core.PhasePlaying, e.session(id).Phase)
}

// attackAndRespond plays one full round: attacker hits tileIndex on the
// defender's board and the defender answers truthfully.
func (e *env) attackAndRespond(id uint32, attacker, defender *wallet.Wallet, defBoard *board, tileIndex uint32) {
	e.t.Helper()
	e.mustRun(attacker, core.TxAttack, &core.AttackPayload{SessionID: id, TileIndex: tileIndex})
	trueType := defBoard.tiles[tileIndex]
	proof, err := zkp.Prove(defBoard.tiles, defBoard.salt, defBoard.commitment, int(tileIndex), trueType)
	require.NoError(e.t, err)
	e.mustRun(defender, core.TxRespond, &core.RespondPayload{
		SessionID:   id,
		ClaimedType: uint8(trueType),
		Proof:       proof,
	})
}

func TestRequiredAuths(t *testing.T) {
	e := newEnv(t)

	t.Run("happy path", func(t *testing.T) {
		reqs, err := poison.RequiredAuths(e.state, &core.SessionOpenPayload{
			SessionID: 7, Player1: e.p1.Address(), Player2: e.p2.Address(), Wager1: 100, Wager2: 200,
		})
		require.NoError(t, err)
		require.Len(t, reqs, 2)
		byAddr := map[string]uint64{}
		for _, r := range reqs {
			byAddr[r.Address] = r.Wager
		}
		assert.Equal(t, uint64(100), byAddr[e.p1.Address()])
		assert.Equal(t, uint64(200), byAddr[e.p2.Address()])
	})

	t.Run("self play", func(t *testing.T) {
		_, err := poison.RequiredAuths(e.state, &core.SessionOpenPayload{
			SessionID: 7, Player1: e.p1.Address(), Player2: e.p1.Address(),
		})
		assert.Equal(t, core.CodeSelfPlay, core.GameCodeOf(err))
	})

	t.Run("insufficient balance", func(t *testing.T) {
		poor := e.fundedWallet(10)
		_, err := poison.RequiredAuths(e.state, &core.SessionOpenPayload{
			SessionID: 7, Player1: e.p1.Address(), Player2: poor.Address(), Wager2: 100,
		})
		assert.Equal(t, core.CodeInsufficientBalance, core.GameCodeOf(err))
	})

	t.Run("existing session", func(t *testing.T) {
		e.openSession(7, 100, 100)
		_, err := poison.RequiredAuths(e.state, &core.SessionOpenPayload{
			SessionID: 7, Player1: e.p1.Address(), Player2: e.p2.Address(),
		})
		assert.Equal(t, core.CodeSessionExists, core.GameCodeOf(err))
	})
}

func TestSessionOpenLocksWagers(t *testing.T) {
	e := newEnv(t)
	e.openSession(1, 300, 200)

	sess := e.session(1)
	assert.Equal(t, core.PhaseAwaitingCommits, sess.Phase)
	assert.Equal(t, uint32(1), sess.CurrentTurn)
	assert.Equal(t, uint64(300), sess.Player1Wager)
	assert.Equal(t, uint64(200), sess.Player2Wager)

	assert.Equal(t, uint64(1_000_000-300), e.balance(e.p1))
	assert.Equal(t, uint64(1_000_000-200), e.balance(e.p2))
}

func TestSessionOpenRejectsExpiredAuth(t *testing.T) {
	e := newEnv(t)
	err := e.run(e.p1, core.TxSessionOpen, e.openPayload(1, 100, 100, -time.Minute))
	assert.Equal(t, core.CodeAuthExpired, core.GameCodeOf(err))

	// Nothing was locked.
	assert.Equal(t, uint64(1_000_000), e.balance(e.p1))
	assert.Equal(t, uint64(1_000_000), e.balance(e.p2))
}

func TestSessionOpenRejectsBadAuth(t *testing.T) {
	e := newEnv(t)
	p := e.openPayload(1, 100, 100, time.Hour)
	// Player2's signature covers a different wager than the payload asks for.
	p.Auths[1] = e.p2.SignSessionAuth(testChainID, 1, 999, time.Now().Add(time.Hour).UnixNano())
	p.Auths[1].Wager = 100
	err := e.run(e.p1, core.TxSessionOpen, p)
	assert.Equal(t, core.CodeBadAuth, core.GameCodeOf(err))
}

func TestCommitBoardIdempotent(t *testing.T) {
	e := newEnv(t)
	e.openSession(1, 100, 100)
	b := makeBoard(t, 3, 9, 12)

	e.mustRun(e.p1, core.TxCommitBoard, &core.CommitBoardPayload{SessionID: 1, Commitment: b.commitment})
	first := e.session(1).Player1Commitment

	other := makeBoard(t, 0, 1, 2)
	err := e.run(e.p1, core.TxCommitBoard, &core.CommitBoardPayload{SessionID: 1, Commitment: other.commitment})
	assert.Equal(t, core.CodeAlreadyCommitted, core.GameCodeOf(err))
	assert.Equal(t, first, e.session(1).Player1Commitment, "first commitment must never be replaced")

	// Still waiting for player2; phase unchanged.
	assert.Equal(t, core.PhaseAwaitingCommits, e.session(1).Phase)

	e.mustRun(e.p2, core.TxCommitBoard, &core.CommitBoardPayload{SessionID: 1, Commitment: other.commitment})
	assert.Equal(t, core.PhasePlaying, e.session(1).Phase)
}

func TestCommitBoardChecks(t *testing.T) {
	e := newEnv(t)
	e.openSession(1, 100, 100)
	b := makeBoard(t, 3, 9, 12)

	t.Run("unknown session", func(t *testing.T) {
		err := e.run(e.p1, core.TxCommitBoard, &core.CommitBoardPayload{SessionID: 42, Commitment: b.commitment})
		assert.Equal(t, core.CodeSessionNotFound, core.GameCodeOf(err))
	})

	t.Run("stranger", func(t *testing.T) {
		stranger := e.fundedWallet(1000)
		err := e.run(stranger, core.TxCommitBoard, &core.CommitBoardPayload{SessionID: 1, Commitment: b.commitment})
		assert.Equal(t, core.CodeNotPlayer, core.GameCodeOf(err))
	})

	t.Run("short commitment", func(t *testing.T) {
		err := e.run(e.p1, core.TxCommitBoard, &core.CommitBoardPayload{SessionID: 1, Commitment: []byte{1, 2, 3}})
		assert.Equal(t, core.CodeInvalidProof, core.GameCodeOf(err))
	})
}

func TestTurnAlternation(t *testing.T) {
	e := newEnv(t)
	b1 := makeBoard(t, 3, 9, 12)
	b2 := makeBoard(t, 0, 5, 10)
	e.startPlaying(1, b1, b2)

	// Player1 attacks: pending set, turn unchanged.
	e.mustRun(e.p1, core.TxAttack, &core.AttackPayload{SessionID: 1, TileIndex: 4})
	sess := e.session(1)
	assert.True(t, sess.HasPendingAttack)
	assert.Equal(t, uint32(4), sess.PendingAttackTile)
	assert.Equal(t, uint32(1), sess.CurrentTurn)

	// Player2 responds truthfully (tile 4 is normal): pending cleared,
	// turn flips, attacker scored.
	proof, err := zkp.Prove(b2.tiles, b2.salt, b2.commitment, 4, zkp.TileNormal)
	require.NoError(t, err)
	e.mustRun(e.p2, core.TxRespond, &core.RespondPayload{SessionID: 1, ClaimedType: uint8(zkp.TileNormal), Proof: proof})

	sess = e.session(1)
	assert.False(t, sess.HasPendingAttack)
	assert.Equal(t, uint32(2), sess.CurrentTurn)
	assert.Equal(t, int64(1), sess.Player1Score)
	require.Len(t, sess.Player2Revealed, 1)
	assert.Equal(t, core.RevealedTile{TileIndex: 4, TileType: uint8(zkp.TileNormal)}, sess.Player2Revealed[0])
}

func TestAttackChecks(t *testing.T) {
	e := newEnv(t)
	b1 := makeBoard(t, 3, 9, 12)
	b2 := makeBoard(t, 0, 5, 10)

	t.Run("wrong phase", func(t *testing.T) {
		e.openSession(1, 100, 100)
		err := e.run(e.p1, core.TxAttack, &core.AttackPayload{SessionID: 1, TileIndex: 0})
		assert.Equal(t, core.CodeWrongPhase, core.GameCodeOf(err))
	})

	e.mustRun(e.p1, core.TxCommitBoard, &core.CommitBoardPayload{SessionID: 1, Commitment: b1.commitment})
	e.mustRun(e.p2, core.TxCommitBoard, &core.CommitBoardPayload{SessionID: 1, Commitment: b2.commitment})

	t.Run("not your turn", func(t *testing.T) {
		err := e.run(e.p2, core.TxAttack, &core.AttackPayload{SessionID: 1, TileIndex: 0})
		assert.Equal(t, core.CodeNotYourTurn, core.GameCodeOf(err))
	})

	t.Run("tile out of range", func(t *testing.T) {
		err := e.run(e.p1, core.TxAttack, &core.AttackPayload{SessionID: 1, TileIndex: 15})
		assert.Equal(t, core.CodeInvalidTileIndex, core.GameCodeOf(err))
	})

	t.Run("double attack", func(t *testing.T) {
		e.mustRun(e.p1, core.TxAttack, &core.AttackPayload{SessionID: 1, TileIndex: 4})
		err := e.run(e.p1, core.TxAttack, &core.AttackPayload{SessionID: 1, TileIndex: 5})
		assert.Equal(t, core.CodeWrongPhase, core.GameCodeOf(err))
	})

	t.Run("already revealed", func(t *testing.T) {
		proof, err := zkp.Prove(b2.tiles, b2.salt, b2.commitment, 4, zkp.TileNormal)
		require.NoError(t, err)
		e.mustRun(e.p2, core.TxRespond, &core.RespondPayload{SessionID: 1, ClaimedType: uint8(zkp.TileNormal), Proof: proof})

		// Player2's turn now; answering player1's board is untouched, but
		// re-targeting tile 4 on player2's board comes later; player2
		// attacks tile 0 on player1's board first.
		e.attackAndRespond(1, e.p2, e.p1, b1, 0)

		// Player1 re-targets the already revealed tile 4.
		err = e.run(e.p1, core.TxAttack, &core.AttackPayload{SessionID: 1, TileIndex: 4})
		assert.Equal(t, core.CodeTileAlreadyRevealed, core.GameCodeOf(err))
	})
}

func TestRespondChecks(t *testing.T) {
	e := newEnv(t)
	b1 := makeBoard(t, 3, 9, 12)
	b2 := makeBoard(t, 0, 5, 10)
	e.startPlaying(1, b1, b2)

	t.Run("no pending attack", func(t *testing.T) {
		proof, err := zkp.Prove(b2.tiles, b2.salt, b2.commitment, 4, zkp.TileNormal)
		require.NoError(t, err)
		err = e.run(e.p2, core.TxRespond, &core.RespondPayload{SessionID: 1, ClaimedType: uint8(zkp.TileNormal), Proof: proof})
		assert.Equal(t, core.CodeWrongPhase, core.GameCodeOf(err))
	})

	e.mustRun(e.p1, core.TxAttack, &core.AttackPayload{SessionID: 1, TileIndex: 4})

	t.Run("attacker cannot respond", func(t *testing.T) {
		proof, err := zkp.Prove(b1.tiles, b1.salt, b1.commitment, 4, zkp.TileNormal)
		require.NoError(t, err)
		err = e.run(e.p1, core.TxRespond, &core.RespondPayload{SessionID: 1, ClaimedType: uint8(zkp.TileNormal), Proof: proof})
		assert.Equal(t, core.CodeNotYourTurn, core.GameCodeOf(err))
	})

	t.Run("lying about the type", func(t *testing.T) {
		// Tile 5 on player2's board is poison, but the pending tile is 4;
		// a proof for a mismatched claim cannot even be generated, so
		// simulate a dishonest defender with a proof for the wrong claim.
		proof, err := zkp.Prove(b2.tiles, b2.salt, b2.commitment, 4, zkp.TileNormal)
		require.NoError(t, err)
		err = e.run(e.p2, core.TxRespond, &core.RespondPayload{SessionID: 1, ClaimedType: uint8(zkp.TilePoison), Proof: proof})
		assert.Equal(t, core.CodeInvalidProof, core.GameCodeOf(err))
	})

	t.Run("garbage proof", func(t *testing.T) {
		err := e.run(e.p2, core.TxRespond, &core.RespondPayload{
			SessionID: 1, ClaimedType: uint8(zkp.TileNormal), Proof: make([]byte, zkp.ProofSize),
		})
		assert.Equal(t, core.CodeInvalidProof, core.GameCodeOf(err))
	})

	t.Run("wrong proof length", func(t *testing.T) {
		err := e.run(e.p2, core.TxRespond, &core.RespondPayload{
			SessionID: 1, ClaimedType: uint8(zkp.TileNormal), Proof: make([]byte, 10),
		})
		assert.Equal(t, core.CodeInvalidProof, core.GameCodeOf(err))
	})

	// A failed response leaves the attack pending and the honest answer
	// still goes through.
	sess := e.session(1)
	require.True(t, sess.HasPendingAttack)
	proof, err := zkp.Prove(b2.tiles, b2.salt, b2.commitment, 4, zkp.TileNormal)
	require.NoError(t, err)
	e.mustRun(e.p2, core.TxRespond, &core.RespondPayload{SessionID: 1, ClaimedType: uint8(zkp.TileNormal), Proof: proof})
}

func TestPoisonScoring(t *testing.T) {
	e := newEnv(t)
	b1 := makeBoard(t, 3, 9, 12)
	b2 := makeBoard(t, 0, 5, 10)
	e.startPlaying(1, b1, b2)

	// Player1 walks into a poison tile on player2's board.
	e.attackAndRespond(1, e.p1, e.p2, b2, 0)
	sess := e.session(1)
	assert.Equal(t, int64(-3), sess.Player1Score)
	assert.Equal(t, uint32(2), sess.CurrentTurn)
}

func TestShieldHandsTurnToDefender(t *testing.T) {
	e := newEnv(t)
	b1 := makeBoard(t, 3, 9, 12)
	b2 := makeBoard(t, 0, 5, 10)
	e.startPlaying(1, b1, b2)

	// Player1 hits player2's shield at tile 10: the skip flag is consumed
	// by the same response's turn switch, so player2 attacks next, which
	// is also what a plain flip would give. The observable difference is
	// that the flag does not linger.
	e.attackAndRespond(1, e.p1, e.p2, b2, 10)
	sess := e.session(1)
	assert.Equal(t, uint32(2), sess.CurrentTurn)
	assert.False(t, sess.SkipNextTurn)
	assert.Zero(t, sess.Player1Score, "shield reveal does not score")

	// With the flag consumed the next round is a plain flip again.
	e.attackAndRespond(1, e.p2, e.p1, b1, 0)
	assert.Equal(t, uint32(1), e.session(1).CurrentTurn)
}

func TestWinScenarioAndPayout(t *testing.T) {
	e := newEnv(t)
	// Player A = p1: poison at {3, 9}, shield at 12.
	bA := makeBoard(t, 3, 9, 12)
	bB := makeBoard(t, 0, 5, 10)
	e.startPlaying(1, bA, bB)

	// Round-trip helper: B must be the attacker, so each of B's attacks is
	// preceded by A attacking a harmless normal tile on B's board when it
	// is A's turn.
	normalOnB := []uint32{1, 2, 3, 4}
	nextNormal := 0
	attackAsB := func(tile uint32) {
		if e.session(1).CurrentTurn == 1 {
			e.attackAndRespond(1, e.p1, e.p2, bB, normalOnB[nextNormal])
			nextNormal++
		}
		e.attackAndRespond(1, e.p2, e.p1, bA, tile)
	}

	attackAsB(3)  // poison 1
	attackAsB(9)  // poison 2
	attackAsB(12) // shield: all specials on A's board revealed

	sess := e.session(1)
	assert.Equal(t, core.PhaseFinished, sess.Phase)
	assert.Equal(t, uint32(2), sess.Winner, "player B uncovered all of A's specials")
	assert.NotZero(t, sess.FinishedAt)

	// Pot settlement: both wagers were 500; the winner gets the full pot
	// back on top of the already-debited stake.
	assert.Equal(t, uint64(1_000_000-500), e.balance(e.p1))
	assert.Equal(t, uint64(1_000_000+500), e.balance(e.p2))

	// The finished session accepts no further moves.
	err := e.run(e.p1, core.TxAttack, &core.AttackPayload{SessionID: 1, TileIndex: 6})
	assert.Equal(t, core.CodeWrongPhase, core.GameCodeOf(err))
}
