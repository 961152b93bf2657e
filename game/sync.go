package game

import (
	"context"
	"errors"
	"time"

	"github.com/zkpoison/poisonnet/core"
)

// Synchronization defaults: ledger blocks land every few seconds, so a
// faster poll only burns requests.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultWaitTimeout  = 10 * time.Minute
)

// Synchronizer keeps a read-only view of one session fresh by polling
// the ledger at a fixed interval. It never mutates session state; every
// update is a wholesale snapshot. The loop tears itself down on context
// cancellation or when the session finishes; Done() is the single
// "stopped" observable.
type Synchronizer struct {
	ledger    Ledger
	sessionID uint32
	interval  time.Duration

	updates chan *core.GameSession
	done    chan struct{}
}

// NewSynchronizer creates a Synchronizer polling every interval
// (DefaultPollInterval if zero). Call Start to begin polling.
func NewSynchronizer(ledger Ledger, sessionID uint32, interval time.Duration) *Synchronizer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Synchronizer{
		ledger:    ledger,
		sessionID: sessionID,
		interval:  interval,
		updates:   make(chan *core.GameSession, 1),
		done:      make(chan struct{}),
	}
}

// Updates delivers session snapshots. The channel holds only the latest
// snapshot: a slow consumer sees fresh state, never a backlog of stale
// views. It is closed after Done.
func (s *Synchronizer) Updates() <-chan *core.GameSession {
	return s.updates
}

// Done is closed when the poll loop has fully stopped, on cancellation
// and on session finish alike.
func (s *Synchronizer) Done() <-chan struct{} {
	return s.done
}

// Start launches the poll loop. The loop stops when ctx is cancelled or
// the session reaches Finished.
func (s *Synchronizer) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Synchronizer) loop(ctx context.Context) {
	defer close(s.done)
	defer close(s.updates)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sess, err := s.ledger.GetSession(ctx, s.sessionID)
		if err != nil {
			// Not-found (session not landed yet) and transient faults
			// are both re-polled; reads are always safe to retry.
			continue
		}
		s.publish(sess)
		if sess.Phase == core.PhaseFinished {
			return
		}
	}
}

// publish replaces any undelivered snapshot with the newer one.
func (s *Synchronizer) publish(sess *core.GameSession) {
	for {
		select {
		case s.updates <- sess:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

// WaitForSession polls until the session exists (the counterparty's open
// landed), bounded by timeout (DefaultWaitTimeout if zero). Returns
// ErrConfirmationTimeout when the bound is hit.
func WaitForSession(ctx context.Context, ledger Ledger, sessionID uint32, interval, timeout time.Duration) (*core.GameSession, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sess, err := ledger.GetSession(ctx, sessionID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, core.ErrNotFound) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrConfirmationTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
