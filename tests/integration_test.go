package tests

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/zkpoison/poisonnet/config"
	"github.com/zkpoison/poisonnet/consensus"
	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/events"
	"github.com/zkpoison/poisonnet/game"
	"github.com/zkpoison/poisonnet/indexer"
	"github.com/zkpoison/poisonnet/internal/testutil"
	"github.com/zkpoison/poisonnet/rpc"
	"github.com/zkpoison/poisonnet/storage"
	"github.com/zkpoison/poisonnet/vm"
	"github.com/zkpoison/poisonnet/wallet"
	"github.com/zkpoison/poisonnet/zkp"

	_ "github.com/zkpoison/poisonnet/vm/modules/economy"
	_ "github.com/zkpoison/poisonnet/vm/modules/poison"
)

const testChainID = "test-chain"

// waitFor polls the client until cond is satisfied by the current session
// snapshot. Absent sessions keep polling; everything else is fatal.
func waitFor(t *testing.T, cl *rpc.Client, sessionID uint32, what string, cond func(*core.GameSession) bool) *core.GameSession {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := cl.GetSession(context.Background(), sessionID)
		if err == nil && cond(sess) {
			return sess
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for session %d: %s", sessionID, what)
	return nil
}

// waitBalance polls until address holds exactly want tokens.
func waitBalance(t *testing.T, cl *rpc.Client, address string, want uint64) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		balance, _, err := cl.GetAccount(context.Background(), address)
		if err == nil && balance == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	balance, _, _ := cl.GetAccount(context.Background(), address)
	t.Fatalf("timed out waiting for balance %d on %s (have %d)", want, address[:16], balance)
}

// startTestNode starts a full single-validator node (consensus + RPC) on
// in-memory storage and returns its RPC URL and a cleanup func.
func startTestNode(t *testing.T, w *wallet.Wallet) (rpcURL string, cleanup func()) {
	t.Helper()

	db := testutil.NewMemDB()
	stateDB := storage.NewStateDB(db)
	bc := core.NewBlockchain(testutil.NewMemBlockStore())
	if err := bc.Init(); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		NodeID:      "test-node",
		DataDir:     "./data",
		RPCPort:     0,
		MaxBlockTxs: 500,
		Validators:  []string{w.Address()},
		Genesis: config.GenesisConfig{
			ChainID: testChainID,
			Alloc:   map[string]uint64{w.Address(): 10_000_000},
		},
	}

	// Genesis
	genesis, err := config.CreateGenesisBlock(cfg, stateDB, w.PrivKey())
	if err != nil {
		t.Fatal(err)
	}
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatal(err)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	mempool := core.NewMempool()
	exec := vm.NewExecutor(stateDB, testChainID, emitter)
	poa := consensus.New(cfg, bc, stateDB, mempool, exec, emitter, w.PrivKey())

	// RPC on a random port
	handler := rpc.NewHandler(bc, mempool, stateDB, idx, exec, testChainID)
	rpcServer := rpc.NewServer(":0", handler, "", nil)
	if err := rpcServer.Start(); err != nil {
		t.Fatal(err)
	}
	url := fmt.Sprintf("http://%s/", rpcServer.Addr().String())

	// Consensus
	done := make(chan struct{})
	go poa.Run(200*time.Millisecond, done)

	return url, func() {
		close(done)
		rpcServer.Stop()
	}
}

// board returns a valid tile layout with the given special positions.
func board(t *testing.T, poison1, poison2, shield int) zkp.Board {
	t.Helper()
	tiles := make(zkp.Board, zkp.BoardSize)
	tiles[poison1] = zkp.TilePoison
	tiles[poison2] = zkp.TilePoison
	tiles[shield] = zkp.TileShield
	if err := zkp.ValidateBoard(tiles); err != nil {
		t.Fatal(err)
	}
	return tiles
}

// TestGameIntegration plays a complete wagered match between two players
// against a live node: funding, handshake, commitments, the attack/respond
// loop and the final payout, all through the public RPC surface.
func TestGameIntegration(t *testing.T) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		t.Skip("SKIP_INTEGRATION set")
	}
	ctx := context.Background()

	validator, _ := wallet.Generate()
	player1, _ := wallet.Generate()
	player2, _ := wallet.Generate()

	url, cleanup := startTestNode(t, validator)
	defer cleanup()
	cl := rpc.NewClient(url)

	const sessionID uint32 = 1001
	const wager uint64 = 10_000

	// ============================================
	// 1. Fund both players from the validator's genesis allocation.
	// ============================================
	t.Run("1_FundPlayers", func(t *testing.T) {
		tx, _ := validator.Transfer(testChainID, player1.Address(), 100_000, 0, 0)
		if _, err := cl.SubmitTx(ctx, tx); err != nil {
			t.Fatal(err)
		}
		tx, _ = validator.Transfer(testChainID, player2.Address(), 100_000, 1, 0)
		if _, err := cl.SubmitTx(ctx, tx); err != nil {
			t.Fatal(err)
		}
		waitBalance(t, cl, player1.Address(), 100_000)
		waitBalance(t, cl, player2.Address(), 100_000)
		t.Log("  both players funded with 100,000")
	})

	// ============================================
	// 2. Session handshake: initiator signs, responder re-derives,
	//    authorizes and submits the dual-signed open.
	// ============================================
	t.Run("2_Handshake", func(t *testing.T) {
		ic := game.NewCoordinator(cl, player1, testChainID)
		artifact, err := ic.PrepareOpen(ctx, sessionID, player2.Address(), wager, wager)
		if err != nil {
			t.Fatalf("prepare open: %v", err)
		}
		blob, err := artifact.Encode()
		if err != nil {
			t.Fatal(err)
		}

		decoded, err := game.DecodeArtifact(blob)
		if err != nil {
			t.Fatal(err)
		}
		rc := game.NewCoordinator(cl, player2, testChainID)
		rc.ConfirmAttempts = 50
		rc.ConfirmDelay = 200 * time.Millisecond
		if err := rc.AcceptOpen(ctx, decoded, wager); err != nil {
			t.Fatalf("accept open: %v", err)
		}
		sess, err := rc.Finalize(ctx)
		if err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if sess.Phase != core.PhaseAwaitingCommits {
			t.Fatalf("phase after open: got %s want %s", sess.Phase, core.PhaseAwaitingCommits)
		}

		// The initiator discovers the confirmed session the same way.
		if _, err := game.WaitForSession(ctx, cl, sessionID, 100*time.Millisecond, 10*time.Second); err != nil {
			t.Fatalf("initiator wait: %v", err)
		}
		waitBalance(t, cl, player1.Address(), 100_000-wager)
		waitBalance(t, cl, player2.Address(), 100_000-wager)
		t.Logf("  session %d open, both wagers locked", sessionID)
	})

	// ============================================
	// 3. Play a full match. Player2 hunts down all of player1's
	//    specials (poison 3 and 9, shield 12) and wins.
	// ============================================
	t.Run("3_PlayFullGame", func(t *testing.T) {
		s1 := game.NewSecretStore(testutil.NewMemDB())
		s2 := game.NewSecretStore(testutil.NewMemDB())
		m1 := game.NewMachine(cl, player1, s1, testChainID, sessionID)
		m2 := game.NewMachine(cl, player2, s2, testChainID, sessionID)

		if err := m1.CommitBoard(ctx, board(t, 3, 9, 12)); err != nil {
			t.Fatalf("player1 commit: %v", err)
		}
		if err := m2.CommitBoard(ctx, board(t, 0, 5, 10)); err != nil {
			t.Fatalf("player2 commit: %v", err)
		}
		waitFor(t, cl, sessionID, "playing phase", func(s *core.GameSession) bool {
			return s.Phase == core.PhasePlaying
		})
		t.Log("  both boards committed, match started")

		attack := func(m *game.Machine, tile uint32) {
			t.Helper()
			if err := m.Attack(ctx, tile); err != nil {
				t.Fatalf("attack %d: %v", tile, err)
			}
			waitFor(t, cl, sessionID, "attack landed", func(s *core.GameSession) bool {
				return s.HasPendingAttack && s.PendingAttackTile == tile
			})
		}
		respond := func(m *game.Machine) *core.GameSession {
			t.Helper()
			if err := m.RespondToAttack(ctx); err != nil {
				t.Fatalf("respond: %v", err)
			}
			return waitFor(t, cl, sessionID, "response landed", func(s *core.GameSession) bool {
				return !s.HasPendingAttack || s.Phase == core.PhaseFinished
			})
		}

		// Opening move: player1 hits a normal tile on player2's board.
		attack(m1, 4)
		respond(m2)

		// Player2 sweeps player1's specials; player1's counter-attacks hit
		// untouched normal tiles to keep the turn order.
		fillers := []uint32{1, 2, 3}
		for i, tile := range []uint32{3, 9, 12} {
			attack(m2, tile)
			sess := respond(m1)
			if sess.Phase == core.PhaseFinished {
				break
			}
			if sess.CurrentTurn == 1 {
				attack(m1, fillers[i])
				respond(m2)
			}
		}

		sess := waitFor(t, cl, sessionID, "finished", func(s *core.GameSession) bool {
			return s.Phase == core.PhaseFinished
		})
		if sess.Winner != 2 {
			t.Fatalf("winner: got player%d want player2", sess.Winner)
		}
		t.Logf("  match over: player2 wins (scores %d / %d)", sess.Player1Score, sess.Player2Score)
	})

	// ============================================
	// 4. Payout and indexing: winner takes the whole pot.
	// ============================================
	t.Run("4_Payout", func(t *testing.T) {
		waitBalance(t, cl, player1.Address(), 100_000-wager)
		waitBalance(t, cl, player2.Address(), 100_000+wager)
		t.Log("  pot paid out to player2")

		for _, p := range []*wallet.Wallet{player1, player2} {
			ids, err := cl.GetSessionsByPlayer(ctx, p.Address())
			if err != nil {
				t.Fatal(err)
			}
			found := false
			for _, id := range ids {
				if id == sessionID {
					found = true
				}
			}
			if !found {
				t.Errorf("session %d not indexed for %s", sessionID, p.Address()[:16])
			}
		}
	})
}
