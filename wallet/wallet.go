package wallet

import (
	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/crypto"
)

// Wallet holds a key pair and provides the signing capabilities the game
// client needs: whole transactions and session authorization entries.
// Code outside this package and crypto never touches key material.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// Address returns the hex-encoded ed25519 public key, which is the
// player's ledger address.
func (w *Wallet) Address() string {
	return w.pub.Hex()
}

// NewTx creates a signed transaction. chainID must match the target
// network; nonce must match the account's current nonce.
func (w *Wallet) NewTx(chainID string, typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(chainID, typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer builds a signed native-token transfer.
func (w *Wallet) Transfer(chainID, to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxTransfer, nonce, fee, core.TransferPayload{To: to, Amount: amount})
}

// SignSessionAuth signs this wallet's authorization to open a wagered
// session. The signature scope is exactly the (chainID, sessionID,
// address, wager, validUntil) preimage, so it authorizes nothing else.
func (w *Wallet) SignSessionAuth(chainID string, sessionID uint32, wager uint64, validUntil int64) core.SessionAuth {
	pre := core.SessionAuthPreimage(chainID, sessionID, w.Address(), wager, validUntil)
	return core.SessionAuth{
		Address:    w.Address(),
		Wager:      wager,
		ValidUntil: validUntil,
		Signature:  crypto.Sign(w.priv, pre),
	}
}
