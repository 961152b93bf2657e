package tests

import (
	"testing"

	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/crypto"
	"github.com/zkpoison/poisonnet/internal/testutil"
	"github.com/zkpoison/poisonnet/wallet"
)

// TestKeyGenAndAddress verifies key generation and address derivation.
// Accounts are addressed by the full hex-encoded ed25519 public key.
func TestKeyGenAndAddress(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if len(pub.Hex()) != 64 {
		t.Errorf("pubkey hex length: got %d want 64", len(pub.Hex()))
	}
	// Roundtrip: derived public key should match
	derived := priv.Public()
	if derived.Hex() != pub.Hex() {
		t.Error("derived public key does not match")
	}
	w := wallet.New(priv)
	if w.Address() != pub.Hex() {
		t.Error("wallet address must be the pubkey hex")
	}
}

// TestSignVerify ensures Sign/Verify round-trips correctly.
func TestSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("hello poisonnet")
	sig := crypto.Sign(priv, data)
	if err := crypto.Verify(pub, data, sig); err != nil {
		t.Errorf("valid signature failed: %v", err)
	}
	if err := crypto.Verify(pub, []byte("tampered"), sig); err == nil {
		t.Error("tampered data should fail verification")
	}
}

// TestTransactionSignVerify ensures transaction signing and verification work.
func TestTransactionSignVerify(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}

	tx, err := w.NewTx("test-chain", core.TxTransfer, 0, 0, core.TransferPayload{
		To:     "deadbeef",
		Amount: 100,
	})
	if err != nil {
		t.Fatalf("NewTx: %v", err)
	}
	if tx.ID == "" {
		t.Error("tx ID should be set after signing")
	}
	if err := tx.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}

	// Tamper with the fee to check that verification catches it.
	tx.Fee = 999
	if err := tx.Verify(); err == nil {
		t.Error("tampered tx should fail verification")
	}
}

// TestSessionAuthSignVerify ensures a session authorization only covers the
// exact (chain, session, address, wager, deadline) it was signed for.
func TestSessionAuthSignVerify(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	auth := w.SignSessionAuth("test-chain", 7, 500, 1_000_000)
	if err := auth.VerifySessionAuth("test-chain", 7); err != nil {
		t.Errorf("valid auth failed: %v", err)
	}
	if err := auth.VerifySessionAuth("test-chain", 8); err == nil {
		t.Error("auth must not verify for a different session")
	}
	if err := auth.VerifySessionAuth("other-chain", 7); err == nil {
		t.Error("auth must not verify for a different chain")
	}
	auth.Wager = 9_999
	if err := auth.VerifySessionAuth("test-chain", 7); err == nil {
		t.Error("auth must not verify after wager tampering")
	}
}

// TestBlockHash ensures that hashing a block is deterministic.
func TestBlockHash(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	block := core.NewBlock(1, "0000", pub.Hex(), nil)
	block.Sign(priv)

	if block.Hash == "" {
		t.Error("hash should be set after signing")
	}
	// Re-compute and compare
	if block.ComputeHash() != block.Hash {
		t.Error("ComputeHash() does not match stored hash")
	}
	if err := block.Verify(pub); err != nil {
		t.Errorf("block signature invalid: %v", err)
	}
}

// TestBlockchainLinkage verifies height continuity and prev-hash checks.
func TestBlockchainLinkage(t *testing.T) {
	priv, pub, _ := crypto.GenerateKeyPair()
	bc := core.NewBlockchain(testutil.NewMemBlockStore())
	if err := bc.Init(); err != nil {
		t.Fatal(err)
	}

	b0 := core.NewBlock(0, "genesis", pub.Hex(), nil)
	b0.Sign(priv)
	if err := bc.AddBlock(b0); err != nil {
		t.Fatalf("add block 0: %v", err)
	}

	// Wrong prev-hash must be rejected.
	bad := core.NewBlock(1, "not-the-tip", pub.Hex(), nil)
	bad.Sign(priv)
	if err := bc.AddBlock(bad); err == nil {
		t.Error("block with wrong prev_hash should be rejected")
	}

	b1 := core.NewBlock(1, b0.Hash, pub.Hex(), nil)
	b1.Sign(priv)
	if err := bc.AddBlock(b1); err != nil {
		t.Fatalf("add block 1: %v", err)
	}
	if bc.Height() != 1 {
		t.Errorf("height: got %d want 1", bc.Height())
	}
}

// TestMempool verifies add/remove/pending operations.
func TestMempool(t *testing.T) {
	mp := core.NewMempool()
	w, _ := wallet.Generate()

	tx, _ := w.NewTx("test-chain", core.TxTransfer, 0, 0, core.TransferPayload{To: "aa", Amount: 1})
	if err := mp.Add(tx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if mp.Size() != 1 {
		t.Errorf("size: got %d want 1", mp.Size())
	}
	// Duplicate should fail
	if err := mp.Add(tx); err == nil {
		t.Error("adding duplicate tx should fail")
	}

	pending := mp.Pending(10)
	if len(pending) != 1 {
		t.Errorf("pending: got %d want 1", len(pending))
	}

	mp.Remove([]string{tx.ID})
	if mp.Size() != 0 {
		t.Error("pool should be empty after remove")
	}
}
