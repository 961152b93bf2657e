// Package game implements the player-side core: the session-open
// handshake, the per-session turn machine, the board-secret store and
// the ledger-polling synchronizer. It drives exactly one player; the
// ledger module in vm/modules/poison is the arbiter of every rule.
package game

import "errors"

// Handshake errors. Each one aborts the attempt; the initiator must
// restart with a fresh session id.
var (
	// ErrSelfPlay is returned when both handshake sides resolve to the
	// same address. Checked before any network call.
	ErrSelfPlay = errors.New("initiator and responder are the same address")

	// ErrHandshakeExpired is returned when the artifact's validity window
	// has already lapsed.
	ErrHandshakeExpired = errors.New("handshake artifact expired")

	// ErrInvalidInitiatorAuth is returned when the artifact's embedded
	// authorization does not verify against the artifact's own session,
	// address and deadline. Checked locally before any network call.
	ErrInvalidInitiatorAuth = errors.New("initiator authorization does not verify")

	// ErrNoAuthorizationFound is returned when the dry-run requires no
	// authorization for the expected address.
	ErrNoAuthorizationFound = errors.New("no authorization requirement for address")

	// ErrSubmissionRejected wraps the ledger's reason for refusing the
	// open transaction. Never retried: the action locks wagers.
	ErrSubmissionRejected = errors.New("session open rejected")

	// ErrConfirmationTimeout means polling exhausted without observing
	// the session. The open may still land; re-query before retrying.
	ErrConfirmationTimeout = errors.New("confirmation polling exhausted")

	// ErrMalformedArtifact is returned for artifacts that do not decode
	// or are missing required fields.
	ErrMalformedArtifact = errors.New("malformed handshake artifact")
)

// Turn-machine errors.
var (
	// ErrAlreadyCommitted is the idempotency guard: external state
	// already shows this player's commitment, so there is nothing to do.
	ErrAlreadyCommitted = errors.New("board already committed")

	// ErrBoardSecretMissing means the local board secret for
	// (session, self) is gone. Fatal: without it no defense proof can
	// ever be produced.
	ErrBoardSecretMissing = errors.New("board secret not found")
)
