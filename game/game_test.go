package game_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/events"
	"github.com/zkpoison/poisonnet/game"
	"github.com/zkpoison/poisonnet/internal/testutil"
	"github.com/zkpoison/poisonnet/storage"
	"github.com/zkpoison/poisonnet/vm"
	"github.com/zkpoison/poisonnet/vm/modules/poison"
	"github.com/zkpoison/poisonnet/wallet"
	"github.com/zkpoison/poisonnet/zkp"
)

const testChainID = "test-chain"

// fakeLedger is an in-process game.Ledger: every submitted transaction
// is executed immediately in its own block, so a confirmation poll right
// after SubmitTx already sees the effect.
type fakeLedger struct {
	mu     sync.Mutex
	state  *storage.StateDB
	exec   *vm.Executor
	height int64

	// submissions counts successful SubmitTx calls.
	submissions int

	// gate, when set, runs at the top of GetSession before any lock is
	// taken. Tests use it to hold a caller mid-operation.
	gate func()
}

func newFakeLedger() *fakeLedger {
	state := testutil.NewStateDB()
	return &fakeLedger{
		state: state,
		exec:  vm.NewExecutor(state, testChainID, events.NewEmitter()),
	}
}

func (f *fakeLedger) fund(t *testing.T, address string, balance uint64) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, err := f.state.GetAccount(address)
	require.NoError(t, err)
	acc.Balance = balance
	require.NoError(t, f.state.SetAccount(acc))
}

func (f *fakeLedger) GetSession(ctx context.Context, id uint32) (*core.GameSession, error) {
	if g := f.gate; g != nil {
		g()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.GetSession(id)
}

func (f *fakeLedger) GetAccount(ctx context.Context, address string) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, err := f.state.GetAccount(address)
	if err != nil {
		return 0, 0, err
	}
	return acc.Balance, acc.Nonce, nil
}

func (f *fakeLedger) SimulateOpen(ctx context.Context, p *core.SessionOpenPayload) ([]poison.AuthRequirement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return poison.RequiredAuths(f.state, p)
}

func (f *fakeLedger) SubmitTx(ctx context.Context, tx *core.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height++
	block := core.NewBlock(f.height, "prev", "proposer", nil)
	if err := f.exec.ExecuteTx(block, tx); err != nil {
		return "", err
	}
	f.submissions++
	return tx.ID, nil
}

func (f *fakeLedger) submissionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions
}

var _ game.Ledger = (*fakeLedger)(nil)

// panicLedger fails the test on any network-shaped call. Used to prove
// that certain checks never touch the network.
type panicLedger struct{ t *testing.T }

func (p *panicLedger) GetSession(context.Context, uint32) (*core.GameSession, error) {
	p.t.Fatal("unexpected GetSession call")
	return nil, nil
}

func (p *panicLedger) GetAccount(context.Context, string) (uint64, uint64, error) {
	p.t.Fatal("unexpected GetAccount call")
	return 0, 0, nil
}

func (p *panicLedger) SimulateOpen(context.Context, *core.SessionOpenPayload) ([]poison.AuthRequirement, error) {
	p.t.Fatal("unexpected SimulateOpen call")
	return nil, nil
}

func (p *panicLedger) SubmitTx(context.Context, *core.Transaction) (string, error) {
	p.t.Fatal("unexpected SubmitTx call")
	return "", nil
}

func newWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate()
	require.NoError(t, err)
	return w
}

func testBoard(t *testing.T, p1, p2, s int) zkp.Board {
	t.Helper()
	tiles := make(zkp.Board, zkp.BoardSize)
	tiles[p1] = zkp.TilePoison
	tiles[p2] = zkp.TilePoison
	tiles[s] = zkp.TileShield
	require.NoError(t, zkp.ValidateBoard(tiles))
	return tiles
}

// fastCoordinator shrinks the polling bounds so tests finish quickly.
func fastCoordinator(ledger game.Ledger, signer game.Signer) *game.Coordinator {
	c := game.NewCoordinator(ledger, signer, testChainID)
	c.ConfirmAttempts = 3
	c.ConfirmDelay = 10 * time.Millisecond
	return c
}
