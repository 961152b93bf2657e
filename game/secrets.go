package game

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/storage"
	"github.com/zkpoison/poisonnet/zkp"
)

const prefixBoardSecret = "secret:"

// BoardSecret is the plaintext counterpart of an on-ledger commitment:
// the tiles, the master salt and the commitment they produce. It is the
// only off-ledger persistent state the core owns, and losing it makes
// the session undefendable.
type BoardSecret struct {
	Tiles      zkp.Board `json:"tiles"`
	Salt       []byte    `json:"salt"`
	Commitment []byte    `json:"commitment"`
}

// SecretStore persists one BoardSecret per (sessionID, playerAddress).
type SecretStore struct {
	db storage.DB
}

// NewSecretStore wraps db as a board-secret store.
func NewSecretStore(db storage.DB) *SecretStore {
	return &SecretStore{db: db}
}

func secretKey(sessionID uint32, address string) []byte {
	return []byte(fmt.Sprintf("%s%08x:%s", prefixBoardSecret, sessionID, address))
}

// Put stores the secret for (sessionID, address), overwriting any
// previous record.
func (s *SecretStore) Put(sessionID uint32, address string, secret *BoardSecret) error {
	data, err := json.Marshal(secret)
	if err != nil {
		return fmt.Errorf("marshal board secret: %w", err)
	}
	return s.db.Set(secretKey(sessionID, address), data)
}

// Get loads the secret for (sessionID, address). A missing record is
// ErrBoardSecretMissing, which callers treat as fatal.
func (s *SecretStore) Get(sessionID uint32, address string) (*BoardSecret, error) {
	data, err := s.db.Get(secretKey(sessionID, address))
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("session %d, player %s: %w", sessionID, address, ErrBoardSecretMissing)
	}
	if err != nil {
		return nil, err
	}
	var secret BoardSecret
	if err := json.Unmarshal(data, &secret); err != nil {
		return nil, fmt.Errorf("unmarshal board secret: %w", err)
	}
	return &secret, nil
}

// Delete removes the secret, e.g. after a session finishes.
func (s *SecretStore) Delete(sessionID uint32, address string) error {
	return s.db.Delete(secretKey(sessionID, address))
}
