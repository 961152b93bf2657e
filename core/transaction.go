package core

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zkpoison/poisonnet/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer    TxType = "transfer"
	TxSessionOpen TxType = "session_open"
	TxCommitBoard TxType = "commit_board"
	TxAttack      TxType = "attack"
	TxRespond     TxType = "respond"
)

// Transaction is the atomic unit of work on the ledger.
// From holds the sender's full hex-encoded ed25519 public key.
// ChainID pins the transaction to one network so it cannot be replayed
// elsewhere. Signature covers all fields except Signature itself.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// SessionAuth is one player's authorization to open a wagered session.
// Signature covers SessionAuthPreimage for this entry; ValidUntil is a
// UnixNano deadline after which the signature is worthless.
type SessionAuth struct {
	Address    string `json:"address"` // pubkey hex of the authorizing player
	Wager      uint64 `json:"wager"`
	ValidUntil int64  `json:"valid_until"`
	Signature  string `json:"signature,omitempty"` // empty while unsigned
}

// SessionAuthPreimage is the exact byte string a player signs to authorize
// a session open. Both sides of the handshake must derive it independently;
// nothing about it is taken on trust from the transported artifact.
func SessionAuthPreimage(chainID string, sessionID uint32, address string, wager uint64, validUntil int64) []byte {
	var buf [20]byte
	binary.BigEndian.PutUint32(buf[0:4], sessionID)
	binary.BigEndian.PutUint64(buf[4:12], wager)
	binary.BigEndian.PutUint64(buf[12:20], uint64(validUntil))
	return crypto.Keccak256([]byte(chainID), []byte("session_open"), buf[0:4], []byte(address), buf[4:12], buf[12:20])
}

// VerifySessionAuth checks the entry's signature over the reconstructed
// preimage. It does not check expiry; the ledger compares ValidUntil
// against block time.
func (a *SessionAuth) VerifySessionAuth(chainID string, sessionID uint32) error {
	pre := SessionAuthPreimage(chainID, sessionID, a.Address, a.Wager, a.ValidUntil)
	return crypto.VerifyHex(a.Address, pre, a.Signature)
}

// SessionOpenPayload opens a new game session and locks both wagers.
// Auths must contain exactly one valid entry per player; order is not
// significant, entries are matched by address.
type SessionOpenPayload struct {
	SessionID uint32        `json:"session_id"`
	Player1   string        `json:"player1"`
	Player2   string        `json:"player2"`
	Wager1    uint64        `json:"wager1"`
	Wager2    uint64        `json:"wager2"`
	Auths     []SessionAuth `json:"auths,omitempty"`
}

// CommitBoardPayload records a player's 32-byte board commitment.
type CommitBoardPayload struct {
	SessionID  uint32 `json:"session_id"`
	Commitment []byte `json:"commitment"`
}

// AttackPayload targets one tile index (0..14) on the opponent's board.
type AttackPayload struct {
	SessionID uint32 `json:"session_id"`
	TileIndex uint32 `json:"tile_index"`
}

// RespondPayload answers a pending attack with the true tile type and a
// fixed-length disclosure proof.
type RespondPayload struct {
	SessionID   uint32 `json:"session_id"`
	ClaimedType uint8  `json:"claimed_type"`
	Proof       []byte `json:"proof"`
}
