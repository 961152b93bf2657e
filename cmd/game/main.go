// Command game is the poisonnet player CLI. It talks to a node over
// JSON-RPC and keeps board secrets in a local database next to the key.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/game"
	"github.com/zkpoison/poisonnet/rpc"
	"github.com/zkpoison/poisonnet/storage"
	"github.com/zkpoison/poisonnet/wallet"
	"github.com/zkpoison/poisonnet/zkp"
)

const usage = `Usage: game <command> [flags]

Commands:
  genkey    generate a player key
  balance   show balance and nonce
  open      prepare a session-open handshake artifact (initiator)
  accept    accept an artifact, authorize and submit it (responder)
  commit    commit a board for a session
  attack    attack a tile on the opponent's board
  respond   answer the pending attack with a proof
  watch     follow a session until it finishes
  sessions  list session IDs for this player
`

type cli struct {
	nodeURL string
	keyPath string
	dataDir string
	chainID string
	token   string
	fee     uint64
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	c := &cli{}
	fs.StringVar(&c.nodeURL, "node", "http://localhost:8545", "node RPC URL")
	fs.StringVar(&c.keyPath, "key", "player.key", "path to keystore file")
	fs.StringVar(&c.dataDir, "data", "./gamedata", "local data directory (board secrets)")
	fs.StringVar(&c.chainID, "chain", "poisonnet-dev", "chain ID")
	fs.StringVar(&c.token, "token", "", "RPC bearer token")
	fs.Uint64Var(&c.fee, "fee", 0, "fee attached to submitted transactions")

	sessionID := fs.Uint("session", 0, "session ID")
	responder := fs.String("responder", "", "responder address (open)")
	wager := fs.Uint64("wager", 0, "own wager (open/accept)")
	theirWager := fs.Uint64("their-wager", 0, "counterparty wager (open)")
	artifactPath := fs.String("artifact", "handshake.json", "handshake artifact file")
	tile := fs.Uint("tile", 0, "tile index 0-14 (attack)")
	poisonAt := fs.String("poison", "", "comma-separated poison indices, e.g. 3,9 (commit; random if empty)")
	shieldAt := fs.String("shield", "", "shield index (commit; random if empty)")
	fs.Parse(args)

	ctx := context.Background()
	var err error
	switch cmd {
	case "genkey":
		err = c.genkey()
	case "balance":
		err = c.balance(ctx)
	case "open":
		err = c.open(ctx, uint32(*sessionID), *responder, *wager, *theirWager, *artifactPath)
	case "accept":
		err = c.accept(ctx, *artifactPath, *wager)
	case "commit":
		err = c.commit(ctx, uint32(*sessionID), *poisonAt, *shieldAt)
	case "attack":
		err = c.attack(ctx, uint32(*sessionID), uint32(*tile))
	case "respond":
		err = c.respond(ctx, uint32(*sessionID))
	case "watch":
		err = c.watch(ctx, uint32(*sessionID))
	case "sessions":
		err = c.sessions(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func (c *cli) client() *rpc.Client {
	cl := rpc.NewClient(c.nodeURL)
	if c.token != "" {
		cl.SetAuthToken(c.token)
	}
	return cl
}

func (c *cli) wallet() (*wallet.Wallet, error) {
	priv, err := wallet.LoadKey(c.keyPath, os.Getenv("POISONNET_PASSWORD"))
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	return wallet.New(priv), nil
}

func (c *cli) secrets() (*game.SecretStore, func(), error) {
	if err := os.MkdirAll(c.dataDir, 0700); err != nil {
		return nil, nil, err
	}
	db, err := storage.NewLevelDB(c.dataDir + "/secrets")
	if err != nil {
		return nil, nil, err
	}
	return game.NewSecretStore(db), func() { db.Close() }, nil
}

func (c *cli) genkey() error {
	w, err := wallet.Generate()
	if err != nil {
		return err
	}
	if err := wallet.SaveKey(c.keyPath, os.Getenv("POISONNET_PASSWORD"), w.PrivKey()); err != nil {
		return err
	}
	fmt.Printf("Address: %s\nSaved to: %s\n", w.Address(), c.keyPath)
	return nil
}

func (c *cli) balance(ctx context.Context) error {
	w, err := c.wallet()
	if err != nil {
		return err
	}
	balance, nonce, err := c.client().GetAccount(ctx, w.Address())
	if err != nil {
		return err
	}
	fmt.Printf("Address: %s\nBalance: %d\nNonce:   %d\n", w.Address(), balance, nonce)
	return nil
}

func (c *cli) open(ctx context.Context, sessionID uint32, responder string, wager, theirWager uint64, artifactPath string) error {
	if responder == "" {
		return fmt.Errorf("-responder is required")
	}
	if sessionID == 0 {
		sessionID = randomSessionID()
	}
	w, err := c.wallet()
	if err != nil {
		return err
	}

	coord := game.NewCoordinator(c.client(), w, c.chainID)
	artifact, err := coord.PrepareOpen(ctx, sessionID, responder, wager, theirWager)
	if err != nil {
		return err
	}
	data, err := artifact.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(artifactPath, data, 0600); err != nil {
		return err
	}
	fmt.Printf("Session %d prepared; artifact written to %s\n", sessionID, artifactPath)
	fmt.Println("Send the artifact to your opponent, waiting for them to accept...")

	sess, err := game.WaitForSession(ctx, c.client(), sessionID, 0, 0)
	if err != nil {
		return err
	}
	fmt.Printf("Session %d open: %s vs %s, wagers %d/%d\n",
		sess.ID, sess.Player1, sess.Player2, sess.Player1Wager, sess.Player2Wager)
	return nil
}

func (c *cli) accept(ctx context.Context, artifactPath string, wager uint64) error {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return err
	}
	artifact, err := game.DecodeArtifact(data)
	if err != nil {
		return err
	}
	if wager == 0 {
		wager = artifact.ResponderWager
	}
	w, err := c.wallet()
	if err != nil {
		return err
	}

	coord := game.NewCoordinator(c.client(), w, c.chainID)
	coord.Fee = c.fee
	if err := coord.AcceptOpen(ctx, artifact, wager); err != nil {
		return err
	}
	sess, err := coord.Finalize(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Session %d open: %s vs %s, wagers %d/%d\n",
		sess.ID, sess.Player1, sess.Player2, sess.Player1Wager, sess.Player2Wager)
	return nil
}

func (c *cli) commit(ctx context.Context, sessionID uint32, poisonAt, shieldAt string) error {
	if sessionID == 0 {
		return fmt.Errorf("-session is required")
	}
	tiles, err := buildBoard(poisonAt, shieldAt)
	if err != nil {
		return err
	}
	w, err := c.wallet()
	if err != nil {
		return err
	}
	secrets, closeSecrets, err := c.secrets()
	if err != nil {
		return err
	}
	defer closeSecrets()

	m := game.NewMachine(c.client(), w, secrets, c.chainID, sessionID)
	m.Fee = c.fee
	if err := m.CommitBoard(ctx, tiles); err != nil {
		return err
	}
	fmt.Printf("Board committed for session %d:\n%s\n", sessionID, renderBoard(tiles))
	return nil
}

func (c *cli) attack(ctx context.Context, sessionID, tile uint32) error {
	if sessionID == 0 {
		return fmt.Errorf("-session is required")
	}
	w, err := c.wallet()
	if err != nil {
		return err
	}
	secrets, closeSecrets, err := c.secrets()
	if err != nil {
		return err
	}
	defer closeSecrets()

	m := game.NewMachine(c.client(), w, secrets, c.chainID, sessionID)
	m.Fee = c.fee
	if err := m.Attack(ctx, tile); err != nil {
		return err
	}
	fmt.Printf("Attack on tile %d submitted\n", tile)
	return nil
}

func (c *cli) respond(ctx context.Context, sessionID uint32) error {
	if sessionID == 0 {
		return fmt.Errorf("-session is required")
	}
	w, err := c.wallet()
	if err != nil {
		return err
	}
	secrets, closeSecrets, err := c.secrets()
	if err != nil {
		return err
	}
	defer closeSecrets()

	m := game.NewMachine(c.client(), w, secrets, c.chainID, sessionID)
	m.Fee = c.fee
	if err := m.RespondToAttack(ctx); err != nil {
		return err
	}
	fmt.Println("Response submitted")
	return nil
}

func (c *cli) watch(ctx context.Context, sessionID uint32) error {
	if sessionID == 0 {
		return fmt.Errorf("-session is required")
	}
	w, err := c.wallet()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sync := game.NewSynchronizer(c.client(), sessionID, 0)
	sync.Start(ctx)

	var last *core.GameSession
	for sess := range sync.Updates() {
		printSession(sess, w.Address())
		last = sess
	}
	<-sync.Done()
	if last != nil && last.Phase == core.PhaseFinished {
		fmt.Printf("Game over. Winner: player%d (%s)\n", last.Winner, last.PlayerAddress(last.Winner))
	}
	return nil
}

func (c *cli) sessions(ctx context.Context) error {
	w, err := c.wallet()
	if err != nil {
		return err
	}
	ids, err := c.client().GetSessionsByPlayer(ctx, w.Address())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No sessions")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func printSession(sess *core.GameSession, me string) {
	now := time.Now().Format("15:04:05")
	num := sess.PlayerNumber(me)
	fmt.Printf("[%s] session %d phase=%s turn=player%d pending=%v scores=%d/%d (you are player%d)\n",
		now, sess.ID, sess.Phase, sess.CurrentTurn, sess.HasPendingAttack,
		sess.Player1Score, sess.Player2Score, num)
}

// buildBoard places the specials at the requested indices, or at random
// (crypto/rand: the layout is the whole secret) when unspecified.
func buildBoard(poisonAt, shieldAt string) (zkp.Board, error) {
	tiles := make(zkp.Board, zkp.BoardSize)
	var special []int
	if poisonAt == "" && shieldAt == "" {
		var err error
		special, err = randomDistinct(3, zkp.BoardSize)
		if err != nil {
			return nil, err
		}
	} else {
		for _, part := range strings.Split(poisonAt, ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("poison index %q: %w", part, err)
			}
			special = append(special, idx)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(shieldAt))
		if err != nil {
			return nil, fmt.Errorf("shield index %q: %w", shieldAt, err)
		}
		special = append(special, idx)
	}
	if len(special) != 3 {
		return nil, fmt.Errorf("need exactly 2 poison indices and 1 shield index")
	}
	for i, idx := range special {
		if idx < 0 || idx >= zkp.BoardSize {
			return nil, fmt.Errorf("index %d out of range", idx)
		}
		if i < 2 {
			tiles[idx] = zkp.TilePoison
		} else {
			tiles[idx] = zkp.TileShield
		}
	}
	return tiles, zkp.ValidateBoard(tiles)
}

// randomDistinct draws n distinct indices in [0, limit).
func randomDistinct(n, limit int) ([]int, error) {
	seen := make(map[int]bool, n)
	var out []int
	for len(out) < n {
		v, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
		if err != nil {
			return nil, err
		}
		idx := int(v.Int64())
		if seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out, nil
}

func randomSessionID() uint32 {
	for {
		v, err := rand.Int(rand.Reader, big.NewInt(int64(1)<<32))
		if err != nil {
			continue
		}
		if id := uint32(v.Int64()); id != 0 {
			return id
		}
	}
}

func renderBoard(tiles zkp.Board) string {
	var b strings.Builder
	for i, t := range tiles {
		switch t {
		case zkp.TilePoison:
			b.WriteByte('P')
		case zkp.TileShield:
			b.WriteByte('S')
		default:
			b.WriteByte('.')
		}
		if (i+1)%5 == 0 {
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
