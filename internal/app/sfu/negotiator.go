package sfu

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// negotiator serializes offer/answer exchanges for one session. At most
// one negotiation is in flight; topology changes arriving mid-flight
// coalesce into a single queued rerun that starts the moment the
// current answer lands. This is what keeps two unacknowledged offers
// from ever racing.
type negotiator struct {
	mu          sync.Mutex
	negotiating bool
	queued      bool
	closed      bool
	timer       *time.Timer

	timeout     time.Duration
	createOffer func() (string, error)
	sendOffer   func(sdp string)
	applyAnswer func(sdp string) error
	// onFailure fires when a negotiation cannot complete: no valid
	// answer within the bound, a rejected answer, or a failed offer.
	// The owner treats every case exactly like a disconnect.
	onFailure func()

	logger zerolog.Logger
}

func newNegotiator(timeout time.Duration, logger zerolog.Logger) *negotiator {
	return &negotiator{timeout: timeout, logger: logger}
}

// Request asks for a (re)negotiation. Called on every topology change
// affecting the session; never called for mute state.
func (n *negotiator) Request() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if n.negotiating {
		n.queued = true
		n.mu.Unlock()
		return
	}
	n.negotiating = true
	n.mu.Unlock()

	n.start()
}

func (n *negotiator) start() {
	sdp, err := n.createOffer()
	if err != nil {
		n.logger.Error().Err(err).Msg("create offer failed")
		n.fail()
		return
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.armTimerLocked()
	n.mu.Unlock()

	n.sendOffer(sdp)
}

// HandleAnswer applies the remote answer and, if a change queued up
// while we waited, immediately starts the next round. An answer the
// transport rejects fails the whole session.
func (n *negotiator) HandleAnswer(sdp string) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return errSessionClosed
	}
	n.stopTimerLocked()
	n.mu.Unlock()

	if err := n.applyAnswer(sdp); err != nil {
		n.logger.Warn().Err(err).Msg("answer rejected")
		n.fail()
		return err
	}

	n.mu.Lock()
	if n.queued && !n.closed {
		n.queued = false
		// stay in negotiating, rerun with the coalesced topology
		n.mu.Unlock()
		n.start()
		return nil
	}
	n.negotiating = false
	n.mu.Unlock()
	return nil
}

// fail resets the state machine and hands the session to its failure
// path, same as a timeout would.
func (n *negotiator) fail() {
	n.mu.Lock()
	n.stopTimerLocked()
	n.negotiating = false
	n.queued = false
	closed := n.closed
	fn := n.onFailure
	n.mu.Unlock()
	if !closed && fn != nil {
		fn()
	}
}

func (n *negotiator) armTimerLocked() {
	n.stopTimerLocked()
	if n.timeout <= 0 || n.onFailure == nil {
		return
	}
	n.timer = time.AfterFunc(n.timeout, func() {
		n.logger.Warn().Dur("timeout", n.timeout).Msg("negotiation timed out")
		n.fail()
	})
}

func (n *negotiator) stopTimerLocked() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

// Close disarms the state machine. Idempotent.
func (n *negotiator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.queued = false
	n.stopTimerLocked()
}

// Negotiating reports whether an offer is awaiting its answer.
func (n *negotiator) Negotiating() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.negotiating
}
