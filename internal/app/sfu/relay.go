package sfu

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zsazsa/lefauxpain-sub000/internal/core"
	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

// subscriberSet is an immutable snapshot of "who receives this sender".
// Mutations build a fresh map and swap the pointer, so the per-packet
// path never shares a lock with join/leave bookkeeping.
type subscriberSet map[domain.UserID]*OutTrack

// Relay fans one inbound track out to every subscribed OutTrack without
// decoding. One relay owns one read loop; per (sender, receiver) packet
// order is preserved by construction.
type Relay struct {
	src   core.InboundTrack
	muted *atomic.Bool // sender's server_mute, gates writes only

	subs   atomic.Pointer[subscriberSet]
	swapMu sync.Mutex

	cancel context.CancelFunc
	logger zerolog.Logger
}

func NewRelay(src core.InboundTrack, muted *atomic.Bool, sender domain.UserID) *Relay {
	r := &Relay{
		src:   src,
		muted: muted,
		logger: log.With().
			Str("module", "sfu.relay").
			Str("sender", string(sender)).
			Str("kind", src.Kind().String()).
			Logger(),
	}
	empty := make(subscriberSet)
	r.subs.Store(&empty)
	return r
}

// Start launches the read loop. The loop exits when ctx is canceled or
// the source track errors out (transport closed).
func (r *Relay) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.loop(ctx)
}

func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Relay) loop(ctx context.Context) {
	r.logger.Debug().Msg("relay loop started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug().Msg("relay ctx done")
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			r.logger.Debug().Err(err).Msg("relay read ended")
			return
		}
		r.forward(pkt)
	}
}

func (r *Relay) forward(pkt *rtp.Packet) {
	if r.muted != nil && r.muted.Load() {
		// Suppressed, not unsubscribed: the slots stay, the data stops.
		return
	}

	snapshot := *r.subs.Load()
	var dirty []domain.UserID
	for dst, ot := range snapshot {
		if ot.State() == TrackStateDelete {
			dirty = append(dirty, dst)
			continue
		}
		if err := ot.Track.WriteRTP(pkt); err != nil {
			// Drop, never queue. A slot that keeps failing is pruned.
			r.logger.Debug().Err(err).Str("dst", string(dst)).Msg("write failed, pruning slot")
			ot.MarkDelete()
			dirty = append(dirty, dst)
		}
	}
	if len(dirty) > 0 {
		r.detachAll(dirty)
	}
}

// Attach subscribes dst to this sender. Safe while the loop is running.
func (r *Relay) Attach(dst domain.UserID, ot *OutTrack) {
	r.swapMu.Lock()
	defer r.swapMu.Unlock()
	old := *r.subs.Load()
	next := make(subscriberSet, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[dst] = ot
	r.subs.Store(&next)
}

func (r *Relay) Detach(dst domain.UserID) {
	r.detachAll([]domain.UserID{dst})
}

func (r *Relay) detachAll(dsts []domain.UserID) {
	r.swapMu.Lock()
	defer r.swapMu.Unlock()
	old := *r.subs.Load()
	next := make(subscriberSet, len(old))
	for k, v := range old {
		next[k] = v
	}
	for _, dst := range dsts {
		delete(next, dst)
	}
	r.subs.Store(&next)
}

func (r *Relay) SubscriberCount() int {
	return len(*r.subs.Load())
}

func (r *Relay) SSRC() uint32 {
	return r.src.SSRC()
}

func (r *Relay) Kind() core.TrackKind {
	return r.src.Kind()
}
