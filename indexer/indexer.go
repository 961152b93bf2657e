// Package indexer maintains a sessions-by-player secondary index so
// clients can list a player's matches without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/events"
	"github.com/zkpoison/poisonnet/storage"
)

const prefixPlayerSession = "idx:player:session:"

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to session events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventSessionOpen, idx.onSessionOpen)
	return idx
}

// GetSessionsByPlayer returns all session IDs a player participated in.
func (idx *Indexer) GetSessionsByPlayer(player string) ([]uint32, error) {
	data, err := idx.db.Get([]byte(prefixPlayerSession + player))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []uint32
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) onSessionOpen(ev events.Event) {
	sessionID, ok := asUint32(ev.Data["session_id"])
	if !ok {
		return
	}
	players, _ := ev.Data["players"].([]any)
	for _, p := range players {
		player, _ := p.(string)
		if player != "" {
			_ = idx.addToList(player, sessionID)
		}
	}
}

func (idx *Indexer) addToList(player string, id uint32) error {
	ids, _ := idx.GetSessionsByPlayer(player)
	ids = append(ids, id)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(prefixPlayerSession+player), data)
}

// asUint32 tolerates the numeric types event data passes through
// (uint32 in-process, float64 after a JSON round-trip).
func asUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case uint32:
		return n, true
	case int:
		return uint32(n), true
	case float64:
		return uint32(n), true
	default:
		return 0, false
	}
}
