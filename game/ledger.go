package game

import (
	"context"

	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/rpc"
	"github.com/zkpoison/poisonnet/vm/modules/poison"
)

// Ledger is the read/submit boundary the game core needs from a node.
// rpc.Client implements it; tests substitute an in-process ledger.
type Ledger interface {
	// GetSession returns a read-only session snapshot, or core.ErrNotFound.
	GetSession(ctx context.Context, id uint32) (*core.GameSession, error)

	// GetAccount returns the balance and next nonce of address.
	GetAccount(ctx context.Context, address string) (balance, nonce uint64, err error)

	// SimulateOpen dry-runs a session_open payload and returns the
	// authorization requirements, in arbitrary order.
	SimulateOpen(ctx context.Context, p *core.SessionOpenPayload) ([]poison.AuthRequirement, error)

	// SubmitTx submits a signed transaction. Rule violations come back
	// as *core.GameError.
	SubmitTx(ctx context.Context, tx *core.Transaction) (string, error)
}

var _ Ledger = (*rpc.Client)(nil)

// Signer is the wallet capability the core consumes: sign transactions
// and session authorizations for one address. Key material never crosses
// this boundary.
type Signer interface {
	Address() string
	NewTx(chainID string, typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error)
	SignSessionAuth(chainID string, sessionID uint32, wager uint64, validUntil int64) core.SessionAuth
}
