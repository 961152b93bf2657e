package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/vm/modules/poison"
)

// HandshakeState tracks one session-open attempt. States only move
// forward; Failed and Expired are terminal.
type HandshakeState uint8

const (
	HandshakeUnstarted HandshakeState = iota
	HandshakeInitiatorSigned
	HandshakeResponderAuthorized
	HandshakeSubmitted
	HandshakeConfirmed
	HandshakeFailed
	HandshakeExpired
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakeUnstarted:
		return "unstarted"
	case HandshakeInitiatorSigned:
		return "initiator_signed"
	case HandshakeResponderAuthorized:
		return "responder_authorized"
	case HandshakeSubmitted:
		return "submitted"
	case HandshakeConfirmed:
		return "confirmed"
	case HandshakeFailed:
		return "failed"
	case HandshakeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// HandshakeArtifact is the off-ledger blob the initiator hands to the
// responder. Nothing in it is trusted on sight: the responder re-derives
// the open parameters, verifies the initiator's signed authorization
// locally, and the ledger re-checks all of it again at admission.
type HandshakeArtifact struct {
	SessionID        uint32           `json:"session_id"`
	InitiatorAddress string           `json:"initiator_address"`
	InitiatorWager   uint64           `json:"initiator_wager"`
	ResponderAddress string           `json:"responder_address"`
	ResponderWager   uint64           `json:"responder_wager"`
	ValidUntil       int64            `json:"valid_until"` // UnixNano
	InitiatorAuth    core.SessionAuth `json:"initiator_auth"`
}

// Encode serializes the artifact for transport.
func (a *HandshakeArtifact) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// DecodeArtifact parses and structurally validates a transported artifact.
func DecodeArtifact(data []byte) (*HandshakeArtifact, error) {
	var a HandshakeArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
	}
	if a.SessionID == 0 || a.InitiatorAddress == "" || a.ResponderAddress == "" ||
		a.InitiatorAuth.Signature == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrMalformedArtifact)
	}
	return &a, nil
}

// Handshake coordination defaults.
const (
	defaultInitiatorWindow = 5 * time.Minute
	defaultResponderWindow = 10 * time.Minute
	defaultConfirmAttempts = 10
	defaultConfirmDelay    = 2 * time.Second
)

// Coordinator runs one side of one session-open attempt. Create a fresh
// Coordinator per attempt; a failed handshake is restarted with a new
// session id, never resumed.
type Coordinator struct {
	ledger  Ledger
	signer  Signer
	chainID string

	// InitiatorWindow bounds the initiator's authorization validity; the
	// responder signs with the (typically longer) ResponderWindow.
	InitiatorWindow time.Duration
	ResponderWindow time.Duration
	ConfirmAttempts int
	ConfirmDelay    time.Duration
	Fee             uint64

	mu        sync.Mutex
	state     HandshakeState
	payload   *core.SessionOpenPayload
	submitted bool
}

// NewCoordinator creates a Coordinator with default windows and polling
// bounds.
func NewCoordinator(ledger Ledger, signer Signer, chainID string) *Coordinator {
	return &Coordinator{
		ledger:          ledger,
		signer:          signer,
		chainID:         chainID,
		InitiatorWindow: defaultInitiatorWindow,
		ResponderWindow: defaultResponderWindow,
		ConfirmAttempts: defaultConfirmAttempts,
		ConfirmDelay:    defaultConfirmDelay,
	}
}

// State returns the current handshake state.
func (c *Coordinator) State() HandshakeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s HandshakeState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// PrepareOpen builds and signs the initiator's half of a session open.
// It dry-runs the open against ledger state, finds the authorization
// requirement naming the initiator (matched by address, never by
// position) and signs exactly that one. Nothing on the ledger changes.
func (c *Coordinator) PrepareOpen(
	ctx context.Context,
	sessionID uint32,
	responder string,
	initiatorWager, responderWager uint64,
) (*HandshakeArtifact, error) {
	me := c.signer.Address()
	if responder == me {
		return nil, ErrSelfPlay
	}

	payload := &core.SessionOpenPayload{
		SessionID: sessionID,
		Player1:   me,
		Player2:   responder,
		Wager1:    initiatorWager,
		Wager2:    responderWager,
	}
	reqs, err := c.ledger.SimulateOpen(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("dry-run session open: %w", err)
	}
	req := findRequirement(reqs, me)
	if req == nil {
		c.setState(HandshakeFailed)
		return nil, fmt.Errorf("%w: %s", ErrNoAuthorizationFound, me)
	}
	if req.Wager != initiatorWager {
		c.setState(HandshakeFailed)
		return nil, fmt.Errorf("dry-run requires wager %d for %s, offered %d", req.Wager, me, initiatorWager)
	}

	validUntil := time.Now().Add(c.InitiatorWindow).UnixNano()
	auth := c.signer.SignSessionAuth(c.chainID, sessionID, req.Wager, validUntil)

	c.setState(HandshakeInitiatorSigned)
	return &HandshakeArtifact{
		SessionID:        sessionID,
		InitiatorAddress: me,
		InitiatorWager:   initiatorWager,
		ResponderAddress: responder,
		ResponderWager:   responderWager,
		ValidUntil:       validUntil,
		InitiatorAuth:    auth,
	}, nil
}

// AcceptOpen runs the responder's half: it independently rebuilds the
// intended open from the artifact's parameters plus the responder's own
// wager, re-runs the dry-run, merges the initiator's pre-signed
// authorization and signs the requirement naming the responder. After a
// nil return the Coordinator is ready for Finalize.
func (c *Coordinator) AcceptOpen(ctx context.Context, artifact *HandshakeArtifact, responderWager uint64) error {
	me := c.signer.Address()
	if me == artifact.InitiatorAddress {
		return ErrSelfPlay
	}
	if artifact.ValidUntil < time.Now().UnixNano() {
		c.setState(HandshakeExpired)
		return fmt.Errorf("%w: valid until %d", ErrHandshakeExpired, artifact.ValidUntil)
	}

	// Verify the embedded authorization before anything goes over the
	// wire: its scope must bind exactly the session, initiator and
	// deadline the artifact names, and its signature must check out
	// against the preimage both sides derive independently. The ledger
	// repeats these checks at admission, but catching a forgery here
	// saves the one submission Finalize is allowed.
	auth := &artifact.InitiatorAuth
	if auth.Address != artifact.InitiatorAddress {
		c.setState(HandshakeFailed)
		return fmt.Errorf("%w: authorization signed by %q, artifact names %q",
			ErrInvalidInitiatorAuth, auth.Address, artifact.InitiatorAddress)
	}
	if auth.ValidUntil != artifact.ValidUntil {
		c.setState(HandshakeFailed)
		return fmt.Errorf("%w: authorization deadline %d does not match artifact deadline %d",
			ErrInvalidInitiatorAuth, auth.ValidUntil, artifact.ValidUntil)
	}
	if err := auth.VerifySessionAuth(c.chainID, artifact.SessionID); err != nil {
		c.setState(HandshakeFailed)
		return fmt.Errorf("%w: %v", ErrInvalidInitiatorAuth, err)
	}

	payload := &core.SessionOpenPayload{
		SessionID: artifact.SessionID,
		Player1:   artifact.InitiatorAddress,
		Player2:   artifact.ResponderAddress,
		Wager1:    artifact.InitiatorWager,
		Wager2:    responderWager,
	}
	reqs, err := c.ledger.SimulateOpen(ctx, payload)
	if err != nil {
		return fmt.Errorf("dry-run session open: %w", err)
	}

	initiatorReq := findRequirement(reqs, artifact.InitiatorAddress)
	if initiatorReq == nil {
		c.setState(HandshakeFailed)
		return fmt.Errorf("%w: %s", ErrNoAuthorizationFound, artifact.InitiatorAddress)
	}
	if initiatorReq.Wager != artifact.InitiatorAuth.Wager {
		c.setState(HandshakeFailed)
		return fmt.Errorf("initiator authorization covers wager %d, dry-run requires %d",
			artifact.InitiatorAuth.Wager, initiatorReq.Wager)
	}
	myReq := findRequirement(reqs, me)
	if myReq == nil {
		c.setState(HandshakeFailed)
		return fmt.Errorf("%w: %s", ErrNoAuthorizationFound, me)
	}

	validUntil := time.Now().Add(c.ResponderWindow).UnixNano()
	myAuth := c.signer.SignSessionAuth(c.chainID, artifact.SessionID, myReq.Wager, validUntil)
	payload.Auths = []core.SessionAuth{artifact.InitiatorAuth, myAuth}

	c.mu.Lock()
	c.payload = payload
	c.state = HandshakeResponderAuthorized
	c.mu.Unlock()
	return nil
}

// Finalize submits the fully-authorized open exactly once and polls for
// the session to appear. On ErrConfirmationTimeout the open may or may
// not have landed; callers must re-query state before doing anything
// that assumes either outcome.
func (c *Coordinator) Finalize(ctx context.Context) (*core.GameSession, error) {
	c.mu.Lock()
	if c.state != HandshakeResponderAuthorized || c.submitted {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("handshake not submittable in state %s", state)
	}
	c.submitted = true
	payload := c.payload
	c.state = HandshakeSubmitted
	c.mu.Unlock()

	me := c.signer.Address()
	_, nonce, err := c.ledger.GetAccount(ctx, me)
	if err != nil {
		c.setState(HandshakeFailed)
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	tx, err := c.signer.NewTx(c.chainID, core.TxSessionOpen, nonce, c.Fee, payload)
	if err != nil {
		c.setState(HandshakeFailed)
		return nil, fmt.Errorf("build open transaction: %w", err)
	}
	if _, err := c.ledger.SubmitTx(ctx, tx); err != nil {
		c.setState(HandshakeFailed)
		return nil, fmt.Errorf("%w: %w", ErrSubmissionRejected, err)
	}

	for i := 0; i < c.ConfirmAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.ConfirmDelay):
		}
		sess, err := c.ledger.GetSession(ctx, payload.SessionID)
		if err != nil {
			continue // absent or transient; re-polling a read is safe
		}
		c.setState(HandshakeConfirmed)
		return sess, nil
	}
	c.setState(HandshakeFailed)
	return nil, ErrConfirmationTimeout
}

func findRequirement(reqs []poison.AuthRequirement, address string) *poison.AuthRequirement {
	for i := range reqs {
		if reqs[i].Address == address {
			return &reqs[i]
		}
	}
	return nil
}
